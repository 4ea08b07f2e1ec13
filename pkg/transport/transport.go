// Package transport defines the endpoint model shared by the TCP and UART
// links: endpoint identities, the bounded outbound queue contract, and the
// event types every endpoint feeds into the router.
package transport

import (
	"fmt"
	"sync/atomic"

	"github.com/K4HVH/mav-lite/pkg/mavlink"
)

// Kind identifies the link type of an endpoint for policy decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindTCP
	KindUART
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindUART:
		return "uart"
	default:
		return "unknown"
	}
}

// EndpointID names one endpoint for its lifetime. IDs are dense per kind and
// never reused within a process run.
type EndpointID struct {
	Kind Kind
	N    uint64
}

func (id EndpointID) String() string {
	return fmt.Sprintf("%s-%d", id.Kind, id.N)
}

var tcpSeq, uartSeq atomic.Uint64

// NextID allocates a fresh endpoint id of the given kind.
func NextID(kind Kind) EndpointID {
	switch kind {
	case KindTCP:
		return EndpointID{Kind: kind, N: tcpSeq.Add(1) - 1}
	case KindUART:
		return EndpointID{Kind: kind, N: uartSeq.Add(1) - 1}
	default:
		return EndpointID{Kind: KindUnknown}
	}
}

// DefaultQueueLen is the outbound queue bound per endpoint. A full queue
// drops frames for that endpoint only; the router never blocks on it.
const DefaultQueueLen = 256

// Event is one message on the router's input channel. Endpoints announce
// themselves with Register, stream frames with Inbound, and sign off with
// Deregister; the router owns all registry state and applies these in
// arrival order.
type Event interface {
	event()
}

// Register announces a new endpoint and hands the router the send side of
// its bounded outbound queue.
type Register struct {
	ID   EndpointID
	Name string
	Out  chan<- []byte
}

// Deregister withdraws a dead endpoint. Its sysid table entries are purged
// and queued outbound frames are abandoned.
type Deregister struct {
	ID EndpointID
}

// Inbound carries one parsed frame from its source endpoint. The frame must
// own its bytes (cloned out of the reader's rolling buffer).
type Inbound struct {
	Src   EndpointID
	Frame mavlink.Frame
}

func (Register) event()   {}
func (Deregister) event() {}
func (Inbound) event()    {}
