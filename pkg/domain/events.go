package domain

import "time"

// EventKind defines the category of a canvas event.
type EventKind string

const (
	EventNodeCreated         EventKind = "node_created"
	EventNodeMoved           EventKind = "node_moved"
	EventNodeDestroyed       EventKind = "node_destroyed"
	EventConnectionCreated   EventKind = "connection_created"
	EventConnectionDestroyed EventKind = "connection_destroyed"

	// EventsDropped is delivered in place of events discarded from a full queue.
	EventsDropped EventKind = "events_dropped"
)

// EventKinds lists the kinds a subscription may filter on.
var EventKinds = []EventKind{
	EventNodeCreated,
	EventNodeMoved,
	EventNodeDestroyed,
	EventConnectionCreated,
	EventConnectionDestroyed,
}

// Valid reports whether k is a subscribable kind.
func (k EventKind) Valid() bool {
	for _, v := range EventKinds {
		if v == k {
			return true
		}
	}
	return false
}

// Event describes one change to the canvas.
type Event struct {
	Seq          uint64       `json:"seq"`
	Kind         EventKind    `json:"kind"`
	NodeID       NodeID       `json:"node_id,omitempty"`
	ConnectionID ConnectionID `json:"connection_id,omitempty"`
	// Dropped counts the events an events_dropped marker stands in for.
	Dropped   uint64    `json:"dropped,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Bounds holds the bounding boxes of the affected nodes at publish time and
	// is what spatial filters are evaluated against.
	Bounds []Rect `json:"-"`
}

// Filter selects the events a subscription receives. An empty Kinds set
// selects every kind; a nil Region disables spatial filtering.
type Filter struct {
	Kinds  []EventKind `json:"kinds,omitempty"`
	Region *Rect       `json:"region,omitempty"`
}

// Matches evaluates the filter with "currently inside" semantics: an event
// passes the region test when any affected bounding box intersects the region.
func (f Filter) Matches(e Event) bool {
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if k == e.Kind {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Region == nil {
		return true
	}
	for _, b := range e.Bounds {
		if f.Region.Intersects(b) {
			return true
		}
	}
	return false
}
