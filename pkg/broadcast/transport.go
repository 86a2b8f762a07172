package broadcast

import (
	"errors"
	"sync"
)

// ErrTransportClosed is returned by Send after the transport is closed.
var ErrTransportClosed = errors.New("transport closed")

// Transport delivers events to one subscriber. Send may block while the
// consumer catches up; it only ever stalls that subscriber's delivery
// goroutine, never the publisher.
type Transport interface {
	Send(event Event) error
	Close() error
}

// ChanTransport is a Transport backed by a channel. The HTTP event stream
// and tests consume events from C.
type ChanTransport struct {
	ch     chan Event
	once   sync.Once
	closed chan struct{}
}

// NewChanTransport creates a channel transport with the given buffer.
func NewChanTransport(buffer int) *ChanTransport {
	return &ChanTransport{
		ch:     make(chan Event, buffer),
		closed: make(chan struct{}),
	}
}

func (t *ChanTransport) Send(event Event) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	select {
	case t.ch <- event:
		return nil
	case <-t.closed:
		return ErrTransportClosed
	}
}

func (t *ChanTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// Events returns the consumer side of the transport.
func (t *ChanTransport) Events() <-chan Event {
	return t.ch
}
