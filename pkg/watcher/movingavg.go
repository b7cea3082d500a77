package watcher

// MovingAverage keeps an incremental mean over a fixed window of samples.
type MovingAverage struct {
	window int
	values []float64
	total  float64
}

// NewMovingAverage returns an average over the last window samples. A window
// below one is treated as one.
func NewMovingAverage(window int) *MovingAverage {
	if window < 1 {
		window = 1
	}
	return &MovingAverage{window: window, values: make([]float64, 0, window)}
}

// Add records v, evicting the oldest sample once the window is full, and
// returns the updated average.
func (m *MovingAverage) Add(v float64) float64 {
	if len(m.values) == m.window {
		m.total -= m.values[0]
		copy(m.values, m.values[1:])
		m.values = m.values[:len(m.values)-1]
	}
	m.values = append(m.values, v)
	m.total += v
	return m.Average()
}

// Average returns the mean of the recorded samples, zero when empty.
func (m *MovingAverage) Average() float64 {
	if len(m.values) == 0 {
		return 0
	}
	return m.total / float64(len(m.values))
}

// Len returns how many samples the window currently holds.
func (m *MovingAverage) Len() int {
	return len(m.values)
}

// ring holds the newest values of a bounded series in arrival order.
type ring struct {
	size   int
	values []float64
}

func newRing(size int) ring {
	if size < 1 {
		size = 1
	}
	return ring{size: size, values: make([]float64, 0, size)}
}

func (r *ring) push(v float64) {
	if len(r.values) == r.size {
		copy(r.values, r.values[1:])
		r.values = r.values[:len(r.values)-1]
	}
	r.values = append(r.values, v)
}

func (r *ring) count() int {
	return len(r.values)
}

func (r *ring) last() float64 {
	if len(r.values) == 0 {
		return 0
	}
	return r.values[len(r.values)-1]
}

func (r *ring) sum() float64 {
	var total float64
	for _, v := range r.values {
		total += v
	}
	return total
}

func (r *ring) mean() float64 {
	if len(r.values) == 0 {
		return 0
	}
	return r.sum() / float64(len(r.values))
}

// tail returns a view of the newest n values. Callers must not retain or
// mutate the returned slice across pushes.
func (r *ring) tail(n int) []float64 {
	if n >= len(r.values) {
		return r.values
	}
	return r.values[len(r.values)-n:]
}

func (r ring) clone() ring {
	c := ring{size: r.size, values: make([]float64, len(r.values), r.size)}
	copy(c.values, r.values)
	return c
}
