// Package uart attaches serial devices as router endpoints: statically
// configured paths under a reconnecting supervise loop, and pattern-matched
// paths adopted by the discovery agent after a successful MAVLink probe.
package uart

import (
	"context"
	"io"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/K4HVH/mav-lite/pkg/transport"
)

// Config describes one serial attachment.
type Config struct {
	Path     string
	Baud     int
	Name     string        // friendly name for logs; Path when empty
	QueueLen int           // outbound queue bound; transport.DefaultQueueLen when zero
	Drain    time.Duration // shutdown flush budget
}

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 30 * time.Second
)

// openPort is swapped out by tests.
var openPort = func(path string, baud int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(path, mode)
}

// Run opens the device once and drives an endpoint on it until the link
// fails or ctx ends. It reports whether at least one read succeeded.
func Run(ctx context.Context, cfg Config, events chan<- transport.Event) bool {
	log := zap.L().Named("uart")
	name := cfg.Name
	if name == "" {
		name = cfg.Path
	}

	port, err := openPort(cfg.Path, cfg.Baud)
	if err != nil {
		log.Warn("open failed", zap.String("path", cfg.Path), zap.Error(err))
		return false
	}

	queueLen := cfg.QueueLen
	if queueLen <= 0 {
		queueLen = transport.DefaultQueueLen
	}
	id := transport.NextID(transport.KindUART)
	out := make(chan []byte, queueLen)

	log.Info("device opened",
		zap.Stringer("endpoint", id),
		zap.String("path", cfg.Path),
		zap.Int("baud", cfg.Baud))
	select {
	case events <- transport.Register{ID: id, Name: name, Out: out}:
	case <-ctx.Done():
		_ = port.Close()
		return false
	}

	pump := &transport.Pump{
		ID:     id,
		Name:   name,
		Link:   port,
		Out:    out,
		Events: events,
		Drain:  cfg.Drain,
		Log:    log,
	}
	sawData := pump.Run(ctx)

	select {
	case events <- transport.Deregister{ID: id}:
	case <-ctx.Done():
	}
	log.Info("device detached", zap.Stringer("endpoint", id), zap.String("path", cfg.Path))
	return sawData
}

// Supervise keeps a statically-configured path attached for the life of the
// process: attach, run until the link dies, back off, retry. Backoff starts
// at one second and doubles to a 30 s cap; a session that managed at least
// one successful read resets it.
func Supervise(ctx context.Context, cfg Config, events chan<- transport.Event) {
	log := zap.L().Named("uart")
	backoff := backoffInitial

	for ctx.Err() == nil {
		sawData := Run(ctx, cfg, events)
		if sawData {
			backoff = backoffInitial
		}
		if ctx.Err() != nil {
			return
		}

		log.Info("retrying", zap.String("path", cfg.Path), zap.Duration("backoff", backoff))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if !sawData && backoff < backoffMax {
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
		}
	}
}
