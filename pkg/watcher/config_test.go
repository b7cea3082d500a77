package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestDefaultConfig tests that the stock tuning passes its own normalization
// untouched where it matters.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	norm := cfg.normalized()

	assert.Equal(t, cfg.Interval, norm.Interval)
	assert.Equal(t, cfg.BatchSize, norm.BatchSize)
	assert.Equal(t, cfg.SampleSize, norm.SampleSize)
	assert.Equal(t, cfg.Change, norm.Change)
	assert.Equal(t, cfg.Levels, norm.Levels)
	assert.True(t, norm.AutoInterval)
	assert.True(t, norm.AutoBatch)

	// Workers defaults from the host CPU count into the configured range.
	assert.GreaterOrEqual(t, norm.Workers, norm.MinWorkers)
	assert.LessOrEqual(t, norm.Workers, norm.MaxWorkers)
}

// TestConfig_Normalized tests clamping of out-of-range knobs.
func TestConfig_Normalized(t *testing.T) {
	zero := Config{}.normalized()
	assert.Equal(t, 100*time.Millisecond, zero.MinInterval)
	assert.Equal(t, 100*time.Millisecond, zero.MaxInterval)
	assert.Equal(t, 100*time.Millisecond, zero.Interval)
	assert.Equal(t, 1, zero.MinBatchSize)
	assert.Equal(t, 1, zero.MaxBatchSize)
	assert.Equal(t, 1, zero.BatchSize)
	assert.Equal(t, 1, zero.Workers)
	assert.Equal(t, 1, zero.SampleSize)
	assert.Equal(t, 1, zero.BulkCPUThreshold)
	assert.Equal(t, 1, zero.Change.AggWindow)
	assert.Equal(t, 0.3, zero.Trend.EMAAlpha)
	assert.Equal(t, time.Second, zero.Detail.Interval)
	assert.Equal(t, "mean", zero.Idle.DynamicMode)
	assert.Equal(t, 1.0, zero.Idle.Jitter)
	assert.Equal(t, 1.0, zero.Idle.Mult)
	assert.Equal(t, 1.0, zero.Idle.ResetRatio)

	// Inverted interval bounds resolve in favor of the minimum.
	inv := Config{MinInterval: 5 * time.Second, MaxInterval: time.Second}.normalized()
	assert.Equal(t, 5*time.Second, inv.MaxInterval)
	assert.Equal(t, 5*time.Second, inv.Interval)

	over := Config{Interval: 30 * time.Second, MinInterval: 500 * time.Millisecond, MaxInterval: 10 * time.Second}.normalized()
	assert.Equal(t, 10*time.Second, over.Interval)

	workers := Config{Workers: 100, MinWorkers: 2, MaxWorkers: 16}.normalized()
	assert.Equal(t, 16, workers.Workers)
	workers = Config{Workers: 1, MinWorkers: 4, MaxWorkers: 16}.normalized()
	assert.Equal(t, 4, workers.Workers)

	neg := Config{Limit: -3, IgnoreAge: -time.Second}.normalized()
	assert.Equal(t, 0, neg.Limit)
	assert.Equal(t, time.Duration(0), neg.IgnoreAge)

	alpha := Config{}
	alpha.Trend.EMAAlpha = 1.5
	assert.Equal(t, 0.3, alpha.normalized().Trend.EMAAlpha)
	alpha.Trend.EMAAlpha = 0.5
	assert.Equal(t, 0.5, alpha.normalized().Trend.EMAAlpha)

	skip := Config{}
	skip.Idle.SkipAlpha = 1.5
	assert.Equal(t, 1.0, skip.normalized().Idle.SkipAlpha)
	skip.Idle.SkipAlpha = -1
	assert.Equal(t, 0.0, skip.normalized().Idle.SkipAlpha)
}

// TestConfig_NormalizedFilters tests case folding of the filter lists and the
// dynamic mode fallback.
func TestConfig_NormalizedFilters(t *testing.T) {
	cfg := Config{
		ExcludeUsers: []string{"Root", "DAEMON"},
		IgnoreNames:  []string{"Kworker"},
	}
	cfg.Idle.DynamicMode = "RMS"

	norm := cfg.normalized()
	assert.Equal(t, []string{"root", "daemon"}, norm.ExcludeUsers)
	assert.Equal(t, []string{"kworker"}, norm.IgnoreNames)
	assert.Equal(t, "rms", norm.Idle.DynamicMode)

	cfg.Idle.DynamicMode = "median"
	assert.Equal(t, "mean", cfg.normalized().Idle.DynamicMode)

	assert.Nil(t, lowered(nil))
	assert.Nil(t, lowered([]string{}))
}

// TestConfig_ChangeParams tests the knob-to-params mapping.
func TestConfig_ChangeParams(t *testing.T) {
	cfg := Config{
		Change: ChangeConfig{
			CPUThreshold:   1.5,
			MemThreshold:   2.5,
			IOThreshold:    3.5,
			ScoreThreshold: 4.5,
			Alpha:          0.25,
			Ratio:          0.35,
			StdMult:        2.5,
			MadMult:        3.25,
			Decay:          0.75,
		},
	}

	p := cfg.changeParams()
	assert.Equal(t, 1.5, p.CPUFloor)
	assert.Equal(t, 2.5, p.MemFloor)
	assert.Equal(t, 3.5, p.IOFloor)
	assert.Equal(t, 4.5, p.Threshold)
	assert.Equal(t, 0.25, p.Alpha)
	assert.Equal(t, 0.35, p.Ratio)
	assert.Equal(t, 2.5, p.StdMult)
	assert.Equal(t, 3.25, p.MadMult)
	assert.Equal(t, 0.75, p.Decay)
}
