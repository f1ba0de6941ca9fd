package domain

// Transform maps a node from canvas space onto an output.
type Transform struct {
	// Screen is the node's scaled frame in screen pixels before rotation.
	Screen   Rect    `json:"screen"`
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation"`
}

// RenderItem is one entry of a per-frame render list. Items are ordered by
// z-order, then id.
type RenderItem struct {
	Node      NodeID    `json:"node"`
	Surface   SurfaceID `json:"surface"`
	Transform Transform `json:"transform"`
	// Damage is the changed area in screen pixels since the last consumed frame.
	Damage []Rect `json:"damage,omitempty"`
	Dirty  bool   `json:"dirty"`
}

// SurfaceCommit is a buffer commit reported by the backend display layer.
// Damage rectangles are in surface-local buffer pixels; an empty list damages
// the whole buffer.
type SurfaceCommit struct {
	Surface SurfaceID `json:"surface"`
	Client  ClientID  `json:"client"`
	Width   float64   `json:"width"`
	Height  float64   `json:"height"`
	Damage  []Rect    `json:"damage,omitempty"`
}

// PointerKind distinguishes pointer event types.
type PointerKind string

const (
	PointerMotion PointerKind = "motion"
	PointerButton PointerKind = "button"
	PointerAxis   PointerKind = "axis"
)

// PointerEvent is a pointer event in the screen space of an output.
type PointerEvent struct {
	Output  OutputID    `json:"output"`
	Kind    PointerKind `json:"kind"`
	X       float64     `json:"x"`
	Y       float64     `json:"y"`
	Button  int         `json:"button,omitempty"`
	Pressed bool        `json:"pressed,omitempty"`
	// Delta is the scroll amount for axis events; positive scrolls zoom out.
	Delta float64 `json:"delta,omitempty"`
}
