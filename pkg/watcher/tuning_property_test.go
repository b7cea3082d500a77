package watcher

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_TunerBounds tests that no input pattern can push the tuned
// knobs outside their configured bounds.
func TestProperty_TunerBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("tuned knobs stay inside their bounds", prop.ForAll(
		func(elapsedMs, updates, trending, count int) bool {
			cfg := DefaultConfig().normalized()
			tun := newTuner(&cfg)
			workers := cfg.Workers
			for i := 0; i < 30; i++ {
				tun.recordBatch(time.Duration(elapsedMs)*time.Millisecond, updates, trending)
				workers = tun.endCycle(count, workers)

				if tun.interval < cfg.MinInterval || tun.interval > cfg.MaxInterval {
					return false
				}
				if tun.batchSize < cfg.MinBatchSize || tun.batchSize > cfg.MaxBatchSize {
					return false
				}
				if tun.stableCycles < 1 || tun.stableCycles > 20 {
					return false
				}
				if workers < cfg.MinWorkers || workers > cfg.MaxWorkers {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 30000),
		gen.IntRange(0, 2000),
		gen.IntRange(0, 2000),
		gen.IntRange(1, 5000),
	))

	properties.Property("detail interval stays inside its band", prop.ForAll(
		func(samplesMs []int) bool {
			cfg := DefaultConfig().normalized()
			tun := newTuner(&cfg)
			lo, hi := tun.targetDetail, scaleDur(tun.targetDetail, 5)
			for _, ms := range samplesMs {
				tun.tuneDetail(time.Duration(ms) * time.Millisecond)
				if tun.detailEvery < lo || tun.detailEvery > hi {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 10000)),
	))

	properties.TestingRun(t)
}
