package monitoring

import "sync"

// DefaultCapacity holds roughly ten minutes of passes at the stock two
// second interval.
const DefaultCapacity = 300

// Recorder is a bounded ring of pass points. The oldest point is evicted
// once capacity is reached; nothing is ever persisted.
type Recorder struct {
	mu       sync.RWMutex
	capacity int
	points   []PassPoint
}

// NewRecorder creates a recorder holding at most capacity points. A capacity
// below one falls back to DefaultCapacity.
func NewRecorder(capacity int) *Recorder {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		capacity: capacity,
		points:   make([]PassPoint, 0, capacity),
	}
}

// Record appends one pass point, evicting the oldest when full.
func (r *Recorder) Record(p PassPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.points) == r.capacity {
		copy(r.points, r.points[1:])
		r.points = r.points[:len(r.points)-1]
	}
	r.points = append(r.points, p)
}

// Recent returns up to n of the newest points, oldest first. A non-positive
// n returns everything.
func (r *Recorder) Recent(n int) []PassPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > len(r.points) {
		n = len(r.points)
	}
	out := make([]PassPoint, n)
	copy(out, r.points[len(r.points)-n:])
	return out
}

// Len returns how many points are currently held.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.points)
}
