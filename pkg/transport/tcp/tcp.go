// Package tcp accepts ground-control stations over TCP and runs one
// endpoint per client socket. Clients are never reconnected from this side;
// a GCS that drops its socket is expected to dial back in.
package tcp

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/K4HVH/mav-lite/pkg/transport"
)

// Options tunes accepted endpoints.
type Options struct {
	QueueLen int           // outbound queue bound; transport.DefaultQueueLen when zero
	Drain    time.Duration // shutdown flush budget per endpoint
}

// Listener accepts inbound clients and registers each with the router.
type Listener struct {
	l      net.Listener
	events chan<- transport.Event
	opts   Options
	log    *zap.Logger
	wg     sync.WaitGroup
}

// Listen binds addr. A bind failure is fatal to the caller.
func Listen(addr string, events chan<- transport.Event, opts Options) (*Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if opts.QueueLen <= 0 {
		opts.QueueLen = transport.DefaultQueueLen
	}
	log := zap.L().Named("tcp")
	log.Info("listening", zap.String("addr", addr))
	return &Listener{l: l, events: events, opts: opts, log: log}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.l.Addr() }

// Serve accepts clients until ctx is cancelled, then waits for every
// endpoint to finish its shutdown drain.
func (l *Listener) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = l.l.Close()
	}()

	for {
		c, err := l.l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			l.log.Warn("accept failed", zap.Error(err))
			continue
		}
		l.start(ctx, c)
	}
	l.wg.Wait()
}

func (l *Listener) start(ctx context.Context, c net.Conn) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	id := transport.NextID(transport.KindTCP)
	name := c.RemoteAddr().String()
	out := make(chan []byte, l.opts.QueueLen)

	l.log.Info("client connected", zap.Stringer("endpoint", id), zap.String("peer", name))
	select {
	case l.events <- transport.Register{ID: id, Name: name, Out: out}:
	case <-ctx.Done():
		_ = c.Close()
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		pump := &transport.Pump{
			ID:     id,
			Name:   name,
			Link:   c,
			Out:    out,
			Events: l.events,
			Drain:  l.opts.Drain,
			Log:    l.log,
		}
		pump.Run(ctx)
		select {
		case l.events <- transport.Deregister{ID: id}:
		case <-ctx.Done():
		}
		l.log.Info("client disconnected", zap.Stringer("endpoint", id), zap.String("peer", name))
	}()
}
