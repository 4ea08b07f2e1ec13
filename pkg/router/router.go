// Package router is the central fan-out hub. One goroutine owns the
// endpoint registry and the sysid table, consumes every endpoint's events
// over a single channel, and forwards each inbound frame to every
// policy-permitted destination without ever blocking on a slow one.
package router

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/K4HVH/mav-lite/pkg/metrics"
	"github.com/K4HVH/mav-lite/pkg/transport"
)

// Policy is the per-direction routing matrix, fixed at startup.
type Policy struct {
	UARTToUART bool
	TCPToTCP   bool
	UARTToTCP  bool
	TCPToUART  bool
}

// DefaultPolicy matches the configuration defaults: everything on except
// drone-to-drone.
func DefaultPolicy() Policy {
	return Policy{TCPToTCP: true, UARTToTCP: true, TCPToUART: true}
}

// Allows reports whether frames may cross from src to dst kind.
func (p Policy) Allows(src, dst transport.Kind) bool {
	switch {
	case src == transport.KindUART && dst == transport.KindUART:
		return p.UARTToUART
	case src == transport.KindUART && dst == transport.KindTCP:
		return p.UARTToTCP
	case src == transport.KindTCP && dst == transport.KindUART:
		return p.TCPToUART
	case src == transport.KindTCP && dst == transport.KindTCP:
		return p.TCPToTCP
	default:
		return false
	}
}

// dropWarnInterval rate-limits queue-full warnings per endpoint.
const dropWarnInterval = time.Second

const eventChanLen = 1024

type endpoint struct {
	id   transport.EndpointID
	name string
	out  chan<- []byte

	// sysids last seen on this endpoint, for diagnostics.
	sysids map[uint8]struct{}

	// backpressure accounting
	drops        uint64
	dropsLogged  uint64
	lastDropWarn time.Time
}

// Router owns the registry and the sysid table. Everything mutable is
// confined to the Run goroutine; other tasks talk to it through Events.
type Router struct {
	policy Policy
	m      *metrics.Metrics
	log    *zap.Logger

	events chan transport.Event

	endpoints map[transport.EndpointID]*endpoint
	sysids    map[uint8]transport.EndpointID

	now func() time.Time
}

// New builds a router with the given policy.
func New(policy Policy, m *metrics.Metrics) *Router {
	return &Router{
		policy:    policy,
		m:         m,
		log:       zap.L().Named("router"),
		events:    make(chan transport.Event, eventChanLen),
		endpoints: make(map[transport.EndpointID]*endpoint),
		sysids:    make(map[uint8]transport.EndpointID),
		now:       time.Now,
	}
}

// Events returns the channel endpoints feed. Per-sender FIFO on this
// channel is what preserves source order at every destination.
func (r *Router) Events() chan<- transport.Event { return r.events }

// Run consumes events until ctx ends.
func (r *Router) Run(ctx context.Context) {
	r.log.Info("started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("stopped")
			return
		case ev := <-r.events:
			r.handle(ev)
		}
	}
}

func (r *Router) handle(ev transport.Event) {
	switch ev := ev.(type) {
	case transport.Register:
		r.register(ev)
	case transport.Deregister:
		r.deregister(ev.ID)
	case transport.Inbound:
		r.route(ev)
	}
}

func (r *Router) register(ev transport.Register) {
	r.endpoints[ev.ID] = &endpoint{
		id:     ev.ID,
		name:   ev.Name,
		out:    ev.Out,
		sysids: make(map[uint8]struct{}),
	}
	r.log.Info("endpoint registered", zap.Stringer("endpoint", ev.ID), zap.String("name", ev.Name))
}

func (r *Router) deregister(id transport.EndpointID) {
	ep, ok := r.endpoints[id]
	if !ok {
		return
	}
	delete(r.endpoints, id)
	for sysid, owner := range r.sysids {
		if owner == id {
			delete(r.sysids, sysid)
			r.log.Info("sysid mapping removed", zap.Uint8("sysid", sysid), zap.Stringer("endpoint", id))
		}
	}
	if ep.drops > ep.dropsLogged {
		r.log.Warn("endpoint dropped frames before leaving",
			zap.Stringer("endpoint", id), zap.Uint64("dropped", ep.drops))
	}
	r.log.Info("endpoint deregistered", zap.Stringer("endpoint", id), zap.String("name", ep.name))
}

func (r *Router) route(ev transport.Inbound) {
	src, ok := r.endpoints[ev.Src]
	if !ok {
		// Frame raced a deregistration; nothing to learn or deliver to.
		return
	}
	r.m.RecordReceived()
	r.learn(ev.Frame.SysID(), src)

	r.log.Debug("routing frame",
		zap.Stringer("src", ev.Src),
		zap.Uint8("sysid", ev.Frame.SysID()),
		zap.Uint8("compid", ev.Frame.CompID()),
		zap.Uint32("msgid", ev.Frame.MsgID()))

	// All destinations share one immutable copy of the frame bytes.
	buf := ev.Frame.Bytes()

	for id, dst := range r.endpoints {
		if id == ev.Src {
			continue
		}
		if !r.policy.Allows(ev.Src.Kind, id.Kind) {
			continue
		}
		select {
		case dst.out <- buf:
			r.m.RecordRouted(len(buf))
		default:
			r.dropFor(dst)
		}
	}
}

// learn records the newest sysid observation. Last writer wins: a vehicle
// moving between links takes its sysid with it, and the previous owner
// loses the entry. Sysid 0 is unassigned and learns nothing.
func (r *Router) learn(sysid uint8, src *endpoint) {
	if sysid == 0 {
		return
	}
	prev, ok := r.sysids[sysid]
	if ok && prev == src.id {
		return
	}
	if ok {
		if prevEp := r.endpoints[prev]; prevEp != nil {
			delete(prevEp.sysids, sysid)
		}
		r.log.Info("sysid moved",
			zap.Uint8("sysid", sysid),
			zap.Stringer("from", prev),
			zap.Stringer("to", src.id))
	} else {
		r.log.Info("sysid discovered", zap.Uint8("sysid", sysid), zap.Stringer("endpoint", src.id))
	}
	r.sysids[sysid] = src.id
	src.sysids[sysid] = struct{}{}
}

// dropFor counts a queue-full drop and warns at most once per second per
// endpoint.
func (r *Router) dropFor(dst *endpoint) {
	dst.drops++
	r.m.RecordDropped(dst.id.String())
	now := r.now()
	if now.Sub(dst.lastDropWarn) < dropWarnInterval {
		return
	}
	r.log.Warn("destination queue full, dropping",
		zap.Stringer("endpoint", dst.id),
		zap.String("name", dst.name),
		zap.Uint64("dropped_total", dst.drops))
	dst.lastDropWarn = now
	dst.dropsLogged = dst.drops
}

// lookupSysid answers which endpoint a sysid was last seen on.
func (r *Router) lookupSysid(sysid uint8) (transport.EndpointID, bool) {
	id, ok := r.sysids[sysid]
	return id, ok
}
