// Package events fans canvas changes out to client subscriptions.
//
// Publish assigns a global sequence number and appends the event to every
// matching subscription queue. Queues are bounded: when one is full the oldest
// event is discarded, and the reader sees a single events_dropped marker in
// place of the gap. Publish never waits for a reader.
package events

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/loomwm/loom/internal/logging"
	"github.com/loomwm/loom/pkg/domain"
)

const DefaultQueueSize = 256

// Observer receives delivery statistics, typically to export them as metrics.
type Observer interface {
	EventPublished(kind domain.EventKind, deliveries int)
	QueueOverflow(n int)
}

// Manager tracks subscriptions and delivers published events. It is safe for
// concurrent use.
type Manager struct {
	mu       sync.RWMutex
	seq      uint64
	nextID   SubscriptionID
	subs     map[SubscriptionID]*Subscription
	byClient map[domain.ClientID]map[SubscriptionID]struct{}
	closed   bool

	queueSize int
	observer  Observer
	logger    *slog.Logger
	clock     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithQueueSize bounds each subscription queue.
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithObserver registers a delivery observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the event timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// NewManager creates a Manager with no subscriptions.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		nextID:    1,
		subs:      make(map[SubscriptionID]*Subscription),
		byClient:  make(map[domain.ClientID]map[SubscriptionID]struct{}),
		queueSize: DefaultQueueSize,
		logger:    logging.NewNop(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers a filter for client.
func (m *Manager) Subscribe(client domain.ClientID, filter domain.Filter) (*Subscription, error) {
	for _, k := range filter.Kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: unknown event kind %q", domain.ErrInvalidRequest, k)
		}
	}
	if r := filter.Region; r != nil {
		if !r.Finite() || r.Empty() {
			return nil, fmt.Errorf("%w: region must be finite with positive size", domain.ErrInvalidGeometry)
		}
		region := *r
		filter.Region = &region
	}
	filter.Kinds = slices.Clone(filter.Kinds)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, domain.ErrClosed
	}
	sub := newSubscription(m.nextID, client, filter, m.queueSize)
	m.nextID++
	m.subs[sub.ID] = sub
	set, ok := m.byClient[client]
	if !ok {
		set = make(map[SubscriptionID]struct{})
		m.byClient[client] = set
	}
	set[sub.ID] = struct{}{}
	m.logger.Debug("subscription created", "subscription", sub.ID, "client", client)
	return sub, nil
}

// Unsubscribe cancels a subscription.
func (m *Manager) Unsubscribe(id SubscriptionID) error {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		m.remove(sub)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("subscription %d: %w", id, domain.ErrNotFound)
	}
	sub.close()
	return nil
}

// UnsubscribeClient cancels every subscription of client in one step and
// returns how many were removed.
func (m *Manager) UnsubscribeClient(client domain.ClientID) int {
	m.mu.Lock()
	var removed []*Subscription
	for id := range m.byClient[client] {
		removed = append(removed, m.subs[id])
	}
	for _, sub := range removed {
		m.remove(sub)
	}
	m.mu.Unlock()

	for _, sub := range removed {
		sub.close()
	}
	return len(removed)
}

func (m *Manager) remove(sub *Subscription) {
	delete(m.subs, sub.ID)
	if set, ok := m.byClient[sub.Client]; ok {
		delete(set, sub.ID)
		if len(set) == 0 {
			delete(m.byClient, sub.Client)
		}
	}
}

// Get returns a live subscription.
func (m *Manager) Get(id SubscriptionID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %d: %w", id, domain.ErrNotFound)
	}
	return sub, nil
}

// CountFor returns the number of live subscriptions of client.
func (m *Manager) CountFor(client domain.ClientID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byClient[client])
}

// Len returns the total number of live subscriptions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Publish stamps e with the next sequence number and delivers it to every
// matching subscription. The stamped event is returned.
func (m *Manager) Publish(e domain.Event) domain.Event {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return e
	}
	m.seq++
	e.Seq = m.seq
	if e.Timestamp.IsZero() {
		e.Timestamp = m.clock()
	}
	// Fan out under the manager lock so every queue sees events in sequence order.
	deliveries, dropped := 0, 0
	for _, sub := range m.subs {
		if !sub.Filter.Matches(e) {
			continue
		}
		dropped += sub.push(e)
		deliveries++
	}
	m.mu.Unlock()

	if dropped > 0 {
		m.logger.Debug("subscriber queue full, dropped oldest events", "kind", e.Kind, "seq", e.Seq, "dropped", dropped)
	}
	if m.observer != nil {
		m.observer.EventPublished(e.Kind, deliveries)
		if dropped > 0 {
			m.observer.QueueOverflow(dropped)
		}
	}
	return e
}

// Seq returns the sequence number of the last published event.
func (m *Manager) Seq() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seq
}

// Close cancels every subscription. Later publishes are ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	clear(m.subs)
	clear(m.byClient)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
