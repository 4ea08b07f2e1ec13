// Package metrics tracks router throughput: frames received, routed, and
// dropped. Counters feed both a periodic stats log and an optional
// Prometheus endpoint.
package metrics

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics is shared by the router and the stats logger. All methods are safe
// for concurrent use.
type Metrics struct {
	received    atomic.Uint64
	routed      atomic.Uint64
	dropped     atomic.Uint64
	bytesRouted atomic.Uint64
	start       time.Time

	reg          *prometheus.Registry
	promReceived prometheus.Counter
	promRouted   prometheus.Counter
	promBytes    prometheus.Counter
	promDropped  *prometheus.CounterVec
}

// New builds a metrics set backed by its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{
		start: time.Now(),
		reg:   prometheus.NewRegistry(),
		promReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mavlite",
			Subsystem: "router",
			Name:      "frames_received_total",
			Help:      "Total frames received from all endpoints",
		}),
		promRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mavlite",
			Subsystem: "router",
			Name:      "frames_routed_total",
			Help:      "Total frame deliveries enqueued to destinations",
		}),
		promBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mavlite",
			Subsystem: "router",
			Name:      "bytes_routed_total",
			Help:      "Total bytes enqueued to destinations",
		}),
		promDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mavlite",
			Subsystem: "router",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because a destination queue was full",
		}, []string{"endpoint"}),
	}
	m.reg.MustRegister(m.promReceived, m.promRouted, m.promBytes, m.promDropped)
	return m
}

// RecordReceived counts one inbound frame.
func (m *Metrics) RecordReceived() {
	m.received.Add(1)
	m.promReceived.Inc()
}

// RecordRouted counts one delivery of n bytes to a destination queue.
func (m *Metrics) RecordRouted(n int) {
	m.routed.Add(1)
	m.bytesRouted.Add(uint64(n))
	m.promRouted.Inc()
	m.promBytes.Add(float64(n))
}

// RecordDropped counts one backpressure drop at the named destination.
func (m *Metrics) RecordDropped(endpoint string) {
	m.dropped.Add(1)
	m.promDropped.WithLabelValues(endpoint).Inc()
}

// Snapshot is a point-in-time reading of the counters.
type Snapshot struct {
	Received    uint64
	Routed      uint64
	Dropped     uint64
	BytesRouted uint64
	Uptime      time.Duration
}

// Stats returns the current counter values.
func (m *Metrics) Stats() Snapshot {
	return Snapshot{
		Received:    m.received.Load(),
		Routed:      m.routed.Load(),
		Dropped:     m.dropped.Load(),
		BytesRouted: m.bytesRouted.Load(),
		Uptime:      time.Since(m.start),
	}
}

// StartStatsLogger launches a goroutine that logs throughput every interval
// until ctx ends.
func (m *Metrics) StartStatsLogger(ctx context.Context, interval time.Duration) {
	log := zap.L().Named("stats")
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		last := m.Stats()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			cur := m.Stats()
			secs := interval.Seconds()
			log.Info("throughput",
				zap.Duration("uptime", cur.Uptime.Round(time.Second)),
				zap.Uint64("received", cur.Received),
				zap.Uint64("routed", cur.Routed),
				zap.Uint64("dropped", cur.Dropped),
				zap.Float64("msg_per_sec", float64(cur.Routed-last.Routed)/secs),
				zap.Float64("kb_per_sec", float64(cur.BytesRouted-last.BytesRouted)/1024/secs))
			if cur.Dropped > last.Dropped {
				log.Warn("backpressure drops in last interval",
					zap.Uint64("dropped", cur.Dropped-last.Dropped),
					zap.Duration("interval", interval))
			}
			last = cur
		}
	}()
}

// Handler serves the Prometheus exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve runs a /metrics HTTP listener on addr until ctx ends. Returns the
// bind error, if any; a clean shutdown returns nil.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}
