// Package monitoring keeps a bounded in-memory history of the sampler's own
// behavior: one point per full enumeration pass, aggregated into trailing
// window summaries for the stats API and the periodic report job.
package monitoring

import "time"

// PassPoint captures one full pass of the sampler.
type PassPoint struct {
	Timestamp       time.Time `json:"timestamp"`
	ProcessCount    int       `json:"process_count"`
	WorkerCount     int       `json:"worker_count"`
	BatchSize       int       `json:"batch_size"`
	IntervalSeconds float64   `json:"interval_seconds"`
	CycleSeconds    float64   `json:"cycle_seconds"`
	ChangeRatio     float64   `json:"change_ratio"`
	TrendRatio      float64   `json:"trend_ratio"`
	Throughput      float64   `json:"throughput"`
}

// WindowSummary aggregates pass points over a trailing time window.
type WindowSummary struct {
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	Passes          int       `json:"passes"`
	AvgProcessCount float64   `json:"avg_process_count"`
	AvgCycleSeconds float64   `json:"avg_cycle_seconds"`
	MaxCycleSeconds float64   `json:"max_cycle_seconds"`
	AvgChangeRatio  float64   `json:"avg_change_ratio"`
	AvgTrendRatio   float64   `json:"avg_trend_ratio"`
	AvgThroughput   float64   `json:"avg_throughput"`
}
