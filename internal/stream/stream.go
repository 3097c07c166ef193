// Package stream delivers refresh-cycle events to the single consumer as an
// ordered channel. When the consumer lags, multiple ServerUpdated events for
// the same address are coalesced into the latest value; only the newest state
// per server is meaningful downstream.
package stream

import (
	"sync"

	"github.com/woozymasta/radar/internal/models"
)

// Kind discriminates event types on the stream.
type Kind int

// Event kinds.
const (
	KindServerUpdated Kind = iota
	KindPartialReady
	KindComplete
	KindFailed
)

// FailureKind names the cause of a failed cycle.
type FailureKind string

// Failure causes.
const (
	FailureNetwork     FailureKind = "network"
	FailureRateLimited FailureKind = "rate_limited"
	FailureCache       FailureKind = "cache"
)

// Event is one notification on the stream. Server is set for
// KindServerUpdated, Failure for KindFailed.
type Event struct {
	Server     *models.ServerRecord
	Failure    FailureKind
	Kind       Kind
	Generation uint64
}

// Stream is a single-subscriber event pump.
type Stream struct {
	out    chan Event
	notify chan struct{}
	done   chan struct{}

	// byAddr maps an address to the absolute queue position of its pending
	// ServerUpdated event, so a newer update can replace it in place.
	byAddr map[models.Address]int

	queue  []Event
	base   int
	mu     sync.Mutex
	closed bool
}

// New creates a stream and starts its delivery pump.
func New() *Stream {
	s := &Stream{
		out:    make(chan Event),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		byAddr: make(map[models.Address]int),
	}
	go s.pump()

	return s
}

// Events returns the subscriber channel. Closed when the stream is closed
// and drained.
func (s *Stream) Events() <-chan Event {
	return s.out
}

// Publish enqueues an event. A ServerUpdated event whose address already has
// an undelivered update replaces it in place instead of growing the queue.
func (s *Stream) Publish(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if ev.Kind == KindServerUpdated && ev.Server != nil {
		addr := ev.Server.Address
		if pos, ok := s.byAddr[addr]; ok && pos >= s.base {
			s.queue[pos-s.base] = ev
			s.mu.Unlock()
			s.wake()
			return
		}
		s.byAddr[addr] = s.base + len(s.queue)
	}

	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

// Close stops the pump. Undelivered events are dropped; the subscriber
// channel is closed.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
}

func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Stream) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		var ev Event
		have := len(s.queue) > 0
		if have {
			ev = s.queue[0]
			s.queue = s.queue[1:]
			s.base++
			if ev.Kind == KindServerUpdated && ev.Server != nil {
				if pos, ok := s.byAddr[ev.Server.Address]; ok && pos < s.base {
					delete(s.byAddr, ev.Server.Address)
				}
			}
		}
		s.mu.Unlock()

		if !have {
			select {
			case <-s.done:
				return
			case <-s.notify:
				continue
			}
		}

		select {
		case <-s.done:
			return
		case s.out <- ev:
		}
	}
}
