package uart

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/K4HVH/mav-lite/pkg/mavlink"
	"github.com/K4HVH/mav-lite/pkg/transport"
)

// DiscoveryConfig tunes the periodic device scan.
type DiscoveryConfig struct {
	Pattern          string // glob over device paths, e.g. /dev/ttyACM*
	Baud             int
	DetectionTimeout time.Duration // how long a probe listens for a frame
	RescanInterval   time.Duration
	QueueLen         int
	Drain            time.Duration
}

type pathState int

const (
	// Unseen paths are simply absent from the table.
	stateProbing pathState = iota
	stateAdopted
	stateRejected
	// stateStatic marks paths owned by a configured supervise loop; the
	// scanner must never open them.
	stateStatic
)

type pathEntry struct {
	state pathState
	until time.Time // rejection expiry
}

// Discovery periodically globs for candidate serial devices, probes each new
// path for MAVLink traffic, and promotes survivors to full endpoints. A path
// is probed by at most one goroutine at a time, and an adopted path stays
// off the scan list until its endpoint dies.
type Discovery struct {
	cfg    DiscoveryConfig
	events chan<- transport.Event
	log    *zap.Logger

	// listPorts and open are swapped out by tests.
	listPorts func(pattern string) ([]string, error)
	open      func(path string, baud int) (io.ReadWriteCloser, error)

	mu     sync.Mutex
	states map[string]pathEntry
	wg     sync.WaitGroup
}

// NewDiscovery builds the agent. staticPaths are devices already owned by
// configured endpoints; the scanner skips them permanently.
func NewDiscovery(cfg DiscoveryConfig, events chan<- transport.Event, staticPaths []string) *Discovery {
	d := &Discovery{
		cfg:       cfg,
		events:    events,
		log:       zap.L().Named("discovery"),
		listPorts: filepath.Glob,
		open:      openPort,
		states:    make(map[string]pathEntry),
	}
	for _, p := range staticPaths {
		d.states[p] = pathEntry{state: stateStatic}
	}
	return d
}

// Run scans immediately, then on every rescan tick, until ctx ends. It
// returns once all probes and adopted endpoints have wound down.
func (d *Discovery) Run(ctx context.Context) {
	d.log.Info("started",
		zap.String("pattern", d.cfg.Pattern),
		zap.Int("baud", d.cfg.Baud),
		zap.Duration("detection_timeout", d.cfg.DetectionTimeout),
		zap.Duration("rescan_interval", d.cfg.RescanInterval))

	ticker := time.NewTicker(d.cfg.RescanInterval)
	defer ticker.Stop()

	for {
		d.scan(ctx, time.Now())
		select {
		case <-ticker.C:
		case <-ctx.Done():
			d.wg.Wait()
			d.log.Info("stopped")
			return
		}
	}
}

func (d *Discovery) scan(ctx context.Context, now time.Time) {
	paths, err := d.listPorts(d.cfg.Pattern)
	if err != nil {
		d.log.Error("device enumeration failed", zap.Error(err))
		return
	}
	d.log.Debug("scanning", zap.Int("candidates", len(paths)))

	// A rejection lasts until the next rescan after the scan that issued it.
	rejectUntil := now.Add(d.cfg.RescanInterval)

	for _, path := range paths {
		if !d.claim(path, now) {
			continue
		}
		d.wg.Add(1)
		go func(path string) {
			defer d.wg.Done()
			d.probeAndAdopt(ctx, path, rejectUntil)
		}(path)
	}
}

// claim transitions a path to Probing, or reports that it is busy: being
// probed, adopted and alive, statically owned, or inside a rejection window.
func (d *Discovery) claim(path string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.states[path]
	if ok {
		if e.state != stateRejected || now.Before(e.until) {
			return false
		}
	}
	d.states[path] = pathEntry{state: stateProbing}
	return true
}

func (d *Discovery) probeAndAdopt(ctx context.Context, path string, rejectUntil time.Time) {
	if !d.probe(ctx, path) {
		d.log.Debug("no mavlink traffic", zap.String("path", path))
		d.setState(path, pathEntry{state: stateRejected, until: rejectUntil})
		return
	}

	d.log.Info("mavlink traffic detected, adopting", zap.String("path", path))
	d.setState(path, pathEntry{state: stateAdopted})

	cfg := Config{
		Path:     path,
		Baud:     d.cfg.Baud,
		Name:     "auto: " + path,
		QueueLen: d.cfg.QueueLen,
		Drain:    d.cfg.Drain,
	}
	Run(ctx, cfg, d.events)

	// Endpoint died; the path becomes eligible for re-adoption on the next
	// scan, where a fresh probe decides whether the device is back.
	d.forget(path)
}

// probe opens the path and listens until one complete frame arrives or the
// detection timeout expires.
func (d *Discovery) probe(ctx context.Context, path string) bool {
	port, err := d.open(path, d.cfg.Baud)
	if err != nil {
		d.log.Debug("probe open failed", zap.String("path", path), zap.Error(err))
		return false
	}
	defer port.Close()

	probeCtx, cancel := context.WithTimeout(ctx, d.cfg.DetectionTimeout)
	defer cancel()
	go func() {
		<-probeCtx.Done()
		_ = port.Close()
	}()

	parser := mavlink.NewParser()
	buf := make([]byte, 1024)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			_, _ = parser.Write(buf[:n])
			if _, ok := parser.Next(); ok {
				return true
			}
		}
		if err != nil {
			return false
		}
	}
}

func (d *Discovery) setState(path string, e pathEntry) {
	d.mu.Lock()
	d.states[path] = e
	d.mu.Unlock()
}

func (d *Discovery) forget(path string) {
	d.mu.Lock()
	delete(d.states, path)
	d.mu.Unlock()
}
