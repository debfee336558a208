package eventbus

import (
	"errors"
	"sync"
)

// Sink is a transport-side subscriber, such as an SSE stream.
type Sink interface {
	Send(Event) error
	Close() error
}

var (
	// ErrSinkFull is returned when a ChannelSink's buffer has no room.
	ErrSinkFull = errors.New("eventbus: sink buffer full")
	// ErrSinkClosed is returned when sending to a closed ChannelSink.
	ErrSinkClosed = errors.New("eventbus: sink closed")
)

// ChannelSink queues events on a buffered channel for a consumer goroutine.
// Send never blocks: a full buffer is an error, which makes the bus drop the
// subscriber.
type ChannelSink struct {
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewChannelSink returns a sink buffering up to size events.
func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// Send enqueues ev without blocking.
func (s *ChannelSink) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.events <- ev:
		return nil
	default:
		return ErrSinkFull
	}
}

// Close marks the sink closed and signals Done. Queued events stay readable.
func (s *ChannelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Events returns the queue of delivered events.
func (s *ChannelSink) Events() <-chan Event { return s.events }

// Done is closed once the sink has been closed.
func (s *ChannelSink) Done() <-chan struct{} { return s.done }
