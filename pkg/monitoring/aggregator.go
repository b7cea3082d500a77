package monitoring

import "time"

// Summarize aggregates a slice of pass points. An empty slice yields a zero
// summary.
func Summarize(points []PassPoint) WindowSummary {
	if len(points) == 0 {
		return WindowSummary{}
	}

	s := WindowSummary{
		From:   points[0].Timestamp,
		To:     points[len(points)-1].Timestamp,
		Passes: len(points),
	}
	for _, p := range points {
		s.AvgProcessCount += float64(p.ProcessCount)
		s.AvgCycleSeconds += p.CycleSeconds
		s.AvgChangeRatio += p.ChangeRatio
		s.AvgTrendRatio += p.TrendRatio
		s.AvgThroughput += p.Throughput
		if p.CycleSeconds > s.MaxCycleSeconds {
			s.MaxCycleSeconds = p.CycleSeconds
		}
	}
	n := float64(len(points))
	s.AvgProcessCount /= n
	s.AvgCycleSeconds /= n
	s.AvgChangeRatio /= n
	s.AvgTrendRatio /= n
	s.AvgThroughput /= n
	return s
}

// Window summarizes the points recorded within the trailing span.
func (r *Recorder) Window(span time.Duration) WindowSummary {
	cutoff := time.Now().Add(-span)

	r.mu.RLock()
	var recent []PassPoint
	for i := len(r.points) - 1; i >= 0; i-- {
		if r.points[i].Timestamp.Before(cutoff) {
			recent = append([]PassPoint(nil), r.points[i+1:]...)
			break
		}
		if i == 0 {
			recent = append([]PassPoint(nil), r.points...)
		}
	}
	r.mu.RUnlock()

	return Summarize(recent)
}
