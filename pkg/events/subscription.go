package events

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/loomwm/loom/pkg/domain"
)

// SubscriptionID identifies a subscription.
type SubscriptionID uint64

func (id SubscriptionID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Subscription is a bounded, drop-oldest event queue owned by one client.
// Push never blocks; readers call Next or Drain from any goroutine.
type Subscription struct {
	ID     SubscriptionID
	Client domain.ClientID
	Filter domain.Filter

	mu          sync.Mutex
	buf         []domain.Event
	head, size  int
	dropped     uint64
	lastDropped uint64
	closed      bool

	notify chan struct{}
	done   chan struct{}
}

func newSubscription(id SubscriptionID, client domain.ClientID, filter domain.Filter, capacity int) *Subscription {
	return &Subscription{
		ID:     id,
		Client: client,
		Filter: filter,
		buf:    make([]domain.Event, capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// push enqueues e, discarding the oldest event when the queue is full. It
// reports how many events were discarded.
func (s *Subscription) push(e domain.Event) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	n := 0
	if s.size == len(s.buf) {
		old := s.buf[s.head]
		s.buf[s.head] = domain.Event{}
		s.head = (s.head + 1) % len(s.buf)
		s.size--
		s.dropped++
		s.lastDropped = old.Seq
		n = 1
	}
	s.buf[(s.head+s.size)%len(s.buf)] = e
	s.size++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return n
}

// pop returns the next event. A pending gap is reported first as a single
// events_dropped marker.
func (s *Subscription) pop() (domain.Event, bool) {
	if s.dropped > 0 {
		marker := domain.Event{
			Seq:       s.lastDropped,
			Kind:      domain.EventsDropped,
			Dropped:   s.dropped,
			Timestamp: time.Now(),
		}
		s.dropped = 0
		return marker, true
	}
	if s.size == 0 {
		return domain.Event{}, false
	}
	e := s.buf[s.head]
	s.buf[s.head] = domain.Event{}
	s.head = (s.head + 1) % len(s.buf)
	s.size--
	return e, true
}

// Next blocks until an event is available, the subscription is closed or ctx
// is done. Events still queued when the subscription closes are discarded.
func (s *Subscription) Next(ctx context.Context) (domain.Event, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return domain.Event{}, domain.ErrClosed
		}
		e, ok := s.pop()
		s.mu.Unlock()
		if ok {
			return e, nil
		}

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		}
	}
}

// Drain returns every pending event without blocking.
func (s *Subscription) Drain() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for {
		e, ok := s.pop()
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

// Pending returns the number of queued events, not counting a drop marker.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Done is closed when the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.size = 0
	s.dropped = 0
	clear(s.buf)
	close(s.done)
}
