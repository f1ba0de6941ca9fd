// Package perf tracks frame timing of the engine loop.
package perf

import (
	"time"
)

const (
	// Target60FPS is the default frame budget.
	Target60FPS  = 16667 * time.Microsecond
	Target120FPS = 8333 * time.Microsecond
	Target144FPS = 6944 * time.Microsecond

	// HistorySize is the number of frame samples kept.
	HistorySize = 120

	stutterMultiplier = 2
)

// Stats summarizes the recorded frame history.
type Stats struct {
	Last     time.Duration `json:"last"`
	Average  time.Duration `json:"average"`
	Min      time.Duration `json:"min"`
	Max      time.Duration `json:"max"`
	Stutters uint64        `json:"stutters"`
	FPS      float64       `json:"fps"`
}

// FrameTimer keeps a fixed ring of recent frame durations. It is not safe for
// concurrent use.
type FrameTimer struct {
	samples  [HistorySize]time.Duration
	next     int
	count    int
	target   time.Duration
	stutters uint64
	start    time.Time
	now      func() time.Time
}

// NewFrameTimer creates a timer for the given frame budget. A non-positive
// target selects Target60FPS.
func NewFrameTimer(target time.Duration) *FrameTimer {
	if target <= 0 {
		target = Target60FPS
	}
	return &FrameTimer{target: target, now: time.Now}
}

// TargetFor returns the frame budget of a refresh rate.
func TargetFor(fps int) time.Duration {
	if fps <= 0 {
		return Target60FPS
	}
	return time.Second / time.Duration(fps)
}

// Target returns the frame budget.
func (t *FrameTimer) Target() time.Duration { return t.target }

// Begin marks the start of a frame.
func (t *FrameTimer) Begin() { t.start = t.now() }

// End records the time since Begin and reports whether the frame stuttered.
func (t *FrameTimer) End() (time.Duration, bool) {
	d := t.now().Sub(t.start)
	return d, t.Record(d)
}

// Record stores a frame duration measured elsewhere. A frame stutters when it
// takes more than twice the target.
func (t *FrameTimer) Record(d time.Duration) bool {
	t.samples[t.next] = d
	t.next = (t.next + 1) % HistorySize
	if t.count < HistorySize {
		t.count++
	}
	if d > t.target*stutterMultiplier {
		t.stutters++
		return true
	}
	return false
}

// Stats computes statistics over the recorded history.
func (t *FrameTimer) Stats() Stats {
	if t.count == 0 {
		return Stats{}
	}
	s := Stats{Min: t.samples[0], Stutters: t.stutters}
	var sum time.Duration
	for _, d := range t.samples[:t.count] {
		sum += d
		s.Min = min(s.Min, d)
		s.Max = max(s.Max, d)
	}
	s.Average = sum / time.Duration(t.count)
	s.Last = t.samples[(t.next+HistorySize-1)%HistorySize]
	if s.Average > 0 {
		s.FPS = float64(time.Second) / float64(s.Average)
	}
	return s
}

// Reset clears the history and the stutter count.
func (t *FrameTimer) Reset() {
	*t = FrameTimer{target: t.target, now: t.now}
}
