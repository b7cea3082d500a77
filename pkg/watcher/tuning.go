package watcher

import "time"

// historyWindow is how many recent cycles feed the averaged stats.
const historyWindow = 5

// tuner owns the knobs the watcher adjusts while running: refresh interval,
// detail interval, batch size, the stable-cycle threshold and the desired
// worker count. It accumulates per-batch stats and applies every adjustment
// at cycle end, so readers between batches always see settled values.
type tuner struct {
	cfg *Config

	interval       time.Duration
	targetInterval time.Duration
	detailEvery    time.Duration
	targetDetail   time.Duration
	batchSize      int
	stableCycles   int

	ratioHist      *MovingAverage
	trendHist      *MovingAverage
	batchHist      *MovingAverage
	intervalHist   *MovingAverage
	cycleTimeHist  *MovingAverage
	throughputHist *MovingAverage

	lastChangeRatio float64
	lastTrendRatio  float64

	cycleElapsed  time.Duration
	cycleUpdates  int
	cycleTrending int
}

func newTuner(cfg *Config) *tuner {
	return &tuner{
		cfg: cfg,

		interval:       cfg.Interval,
		targetInterval: cfg.Interval,
		detailEvery:    cfg.Detail.Interval,
		targetDetail:   cfg.Detail.Interval,
		batchSize:      cfg.BatchSize,
		stableCycles:   cfg.Detail.StableCycles,

		ratioHist:      NewMovingAverage(cfg.Tuning.RatioWindow),
		trendHist:      NewMovingAverage(cfg.Tuning.RatioWindow),
		batchHist:      NewMovingAverage(historyWindow),
		intervalHist:   NewMovingAverage(historyWindow),
		cycleTimeHist:  NewMovingAverage(historyWindow),
		throughputHist: NewMovingAverage(historyWindow),
	}
}

// recordBatch accumulates one batch's stats toward the running cycle.
func (t *tuner) recordBatch(elapsed time.Duration, updates, trending int) {
	t.cycleElapsed += elapsed
	t.cycleUpdates += updates
	t.cycleTrending += trending
}

// endCycle closes out a full pass: interval backoff or relaxation, activity
// ratio smoothing, stat histories, batch sizing, and the desired worker
// count for the next cycle. Per-cycle counters reset afterwards.
func (t *tuner) endCycle(processCount, curWorkers int) int {
	if t.cfg.AutoInterval {
		if t.cycleElapsed > scaleDur(t.targetInterval, 1.5) {
			t.interval = min(scaleDur(t.interval, 1.25), scaleDur(t.targetInterval, 5))
		} else if t.cycleElapsed < scaleDur(t.targetInterval, 0.7) && t.interval > t.targetInterval {
			t.interval = max(scaleDur(t.interval, 0.9), t.targetInterval)
		}
	}

	denom := float64(max(processCount, 1))
	changeRatio := float64(t.cycleUpdates) / denom
	trendRatio := float64(t.cycleTrending) / denom
	avgRatio := t.ratioHist.Add(changeRatio)
	avgTrend := t.trendHist.Add(trendRatio)

	if t.cfg.AutoInterval {
		if avgRatio < t.cfg.Tuning.SlowRatio && avgTrend < t.cfg.Tuning.TrendSlow {
			t.interval = min(t.interval+500*time.Millisecond, scaleDur(t.targetInterval, 5))
			t.stableCycles = min(t.stableCycles+1, 20)
		} else if avgRatio > t.cfg.Tuning.FastRatio || avgTrend > t.cfg.Tuning.TrendFast {
			t.interval = max(t.interval-500*time.Millisecond, t.targetInterval)
			t.stableCycles = max(t.stableCycles-1, 1)
		}
	}
	t.clampInterval()

	t.lastChangeRatio = changeRatio
	t.lastTrendRatio = trendRatio
	t.cycleTimeHist.Add(t.cycleElapsed.Seconds())
	t.intervalHist.Add(t.interval.Seconds())
	if t.cycleElapsed > 0 {
		t.throughputHist.Add(float64(processCount) / t.cycleElapsed.Seconds())
	}

	t.updateBatchSize(changeRatio, trendRatio)
	next := t.desiredWorkers(processCount, curWorkers)

	t.cycleElapsed = 0
	t.cycleUpdates = 0
	t.cycleTrending = 0
	return next
}

// updateBatchSize shrinks batches when cycles run long or churn is high, and
// grows them again once scanning is comfortably fast and quiet.
func (t *tuner) updateBatchSize(changeRatio, trendRatio float64) {
	if !t.cfg.AutoBatch {
		return
	}
	avgTime := time.Duration(t.cycleTimeHist.Average() * float64(time.Second))
	if (avgTime > scaleDur(t.targetInterval, 1.5) || changeRatio > 0.5 || trendRatio > 0.4) &&
		t.batchSize > t.cfg.MinBatchSize {
		t.batchSize = max(t.cfg.MinBatchSize, int(float64(t.batchSize)*0.8))
	} else if avgTime < scaleDur(t.targetInterval, 0.75) && changeRatio < 0.2 && trendRatio < 0.2 &&
		t.batchSize < t.cfg.MaxBatchSize {
		t.batchSize = min(t.cfg.MaxBatchSize, int(float64(t.batchSize)*1.2))
	}
	t.batchHist.Add(float64(t.batchSize))
}

// desiredWorkers doubles the pool when the process count runs far ahead of
// it and halves it when the pool is oversized, within configured bounds.
func (t *tuner) desiredWorkers(processCount, cur int) int {
	if processCount > cur*4 && cur < t.cfg.MaxWorkers {
		return min(t.cfg.MaxWorkers, cur*2)
	}
	if processCount < cur*2 && cur > t.cfg.MinWorkers {
		return max(t.cfg.MinWorkers, cur/2)
	}
	return cur
}

// tuneDetail stretches the detail refresh interval when detail passes eat a
// large share of the cycle budget and relaxes it back toward the target when
// they are cheap again.
func (t *tuner) tuneDetail(detailElapsed time.Duration) {
	if !t.cfg.Detail.Auto {
		return
	}
	if detailElapsed > t.targetInterval/3 {
		t.detailEvery = min(t.detailEvery+time.Second, scaleDur(t.targetDetail, 5))
	} else if detailElapsed < t.targetInterval/10 && t.detailEvery > t.targetDetail {
		t.detailEvery = max(t.detailEvery-time.Second, t.targetDetail)
	}
}

func (t *tuner) clampInterval() {
	t.interval = min(max(t.interval, t.cfg.MinInterval), t.cfg.MaxInterval)
}

// setInterval retargets the refresh interval at runtime.
func (t *tuner) setInterval(d time.Duration) {
	t.targetInterval = max(t.cfg.MinInterval, d)
	t.interval = t.targetInterval
	t.clampInterval()
}

// setDetailInterval retargets the detail refresh interval at runtime.
func (t *tuner) setDetailInterval(d time.Duration) {
	t.targetDetail = max(time.Second, d)
	t.detailEvery = t.targetDetail
}

func (t *tuner) averageBatchSize() float64 {
	if t.batchHist.Len() > 0 {
		return t.batchHist.Average()
	}
	return float64(t.batchSize)
}

func (t *tuner) averageCycleTime() time.Duration {
	if t.cycleTimeHist.Len() > 0 {
		return time.Duration(t.cycleTimeHist.Average() * float64(time.Second))
	}
	return t.targetInterval
}

func (t *tuner) averageInterval() time.Duration {
	if t.intervalHist.Len() > 0 {
		return time.Duration(t.intervalHist.Average() * float64(time.Second))
	}
	return t.interval
}

func (t *tuner) averageThroughput() float64 {
	return t.throughputHist.Average()
}

func scaleDur(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}
