package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/K4HVH/mav-lite/pkg/mavlink"
)

// DefaultDrainTimeout bounds how long a shutting-down endpoint keeps
// flushing its outbound queue before the link is torn down.
const DefaultDrainTimeout = 2 * time.Second

const readBufSize = 4096

// Pump drives one endpoint over an open link: a reader goroutine that
// recovers frames and forwards them to the router, and a writer goroutine
// that flushes the bounded outbound queue in FIFO order. The pump owns the
// link handle and closes it on exit.
type Pump struct {
	ID     EndpointID
	Name   string
	Link   io.ReadWriteCloser
	Out    <-chan []byte
	Events chan<- Event
	Drain  time.Duration // shutdown flush budget; DefaultDrainTimeout when zero
	Log    *zap.Logger
}

// Run blocks until the link fails, the peer closes, or ctx is cancelled.
// It reports whether at least one read succeeded; reconnect loops use that
// to reset their backoff.
func (p *Pump) Run(ctx context.Context) bool {
	log := p.Log
	if log == nil {
		log = zap.L()
	}
	log = log.With(zap.Stringer("endpoint", p.ID), zap.String("name", p.Name))

	readerDone := make(chan struct{})
	writerDone := make(chan struct{})

	// Lifecycle: tear the link down once the reader finishes, or once ctx
	// ends and the writer has had its drain budget. Closing the link is what
	// unblocks a reader parked in Read.
	go func() {
		select {
		case <-ctx.Done():
			select {
			case <-writerDone:
			case <-time.After(p.drainBudget()):
			}
		case <-readerDone:
		}
		_ = p.Link.Close()
	}()

	go func() {
		defer close(writerDone)
		p.writeLoop(ctx, readerDone, log)
	}()

	sawData := p.readLoop(ctx, log)
	close(readerDone)
	<-writerDone
	return sawData
}

func (p *Pump) readLoop(ctx context.Context, log *zap.Logger) bool {
	parser := mavlink.NewParser()
	buf := make([]byte, readBufSize)
	sawData := false

	for {
		n, err := p.Link.Read(buf)
		if n > 0 {
			sawData = true
			_, _ = parser.Write(buf[:n])
			for {
				f, ok := parser.Next()
				if !ok {
					break
				}
				log.Debug("frame received",
					zap.Stringer("version", f.Version()),
					zap.Uint8("sysid", f.SysID()),
					zap.Uint8("compid", f.CompID()),
					zap.Uint32("msgid", f.MsgID()))
				select {
				case p.Events <- Inbound{Src: p.ID, Frame: f.Clone()}:
				case <-ctx.Done():
					return sawData
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("read error", zap.Error(err))
			}
			return sawData
		}
	}
}

func (p *Pump) writeLoop(ctx context.Context, readerDone <-chan struct{}, log *zap.Logger) {
	for {
		select {
		case b := <-p.Out:
			if err := p.writeAll(b); err != nil {
				log.Debug("write error", zap.Error(err))
				_ = p.Link.Close()
				return
			}
		case <-ctx.Done():
			p.drainOut(log)
			return
		case <-readerDone:
			return
		}
	}
}

// drainOut flushes whatever is already queued, bounded by the drain budget.
func (p *Pump) drainOut(log *zap.Logger) {
	deadline := time.NewTimer(p.drainBudget())
	defer deadline.Stop()
	for {
		select {
		case b := <-p.Out:
			if err := p.writeAll(b); err != nil {
				return
			}
		case <-deadline.C:
			return
		default:
			return
		}
	}
}

// writeAll pushes the full slice through the link; serial writes may be
// partial.
func (p *Pump) writeAll(b []byte) error {
	for len(b) > 0 {
		n, err := p.Link.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func (p *Pump) drainBudget() time.Duration {
	if p.Drain > 0 {
		return p.Drain
	}
	return DefaultDrainTimeout
}
