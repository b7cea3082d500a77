package watcher

import (
	"math"
	"math/rand"
	"time"

	"procwatch/pkg/interfaces"
)

// dutyController decides when per-process CPU sampling can be skipped and how
// aggressively skip intervals grow while a process stays idle. It is only
// ever touched from the watcher's cycle goroutine.
type dutyController struct {
	cfg IdleConfig

	idleCounts    map[int32]int
	skipCounts    map[int32]int
	skipIntervals map[int32]int
	lastSample    map[int32]time.Time
	graceCounts   map[int32]int
	activeCounts  map[int32]int
	state         map[int32]bool

	baseline    map[int32]float64
	memBaseline map[int32]float64
	ioBaseline  map[int32]float64
	history     map[int32]*MovingAverage
	memHistory  map[int32]*MovingAverage
	ioHistory   map[int32]*MovingAverage

	globalBaseline    float64
	globalMemBaseline float64
	globalIOBaseline  float64
	globalHistory     *MovingAverage
	globalMemHistory  *MovingAverage
	globalIOHistory   *MovingAverage
}

func newDutyController(cfg IdleConfig) *dutyController {
	return &dutyController{
		cfg: cfg,

		idleCounts:    make(map[int32]int),
		skipCounts:    make(map[int32]int),
		skipIntervals: make(map[int32]int),
		lastSample:    make(map[int32]time.Time),
		graceCounts:   make(map[int32]int),
		activeCounts:  make(map[int32]int),
		state:         make(map[int32]bool),

		baseline:    make(map[int32]float64),
		memBaseline: make(map[int32]float64),
		ioBaseline:  make(map[int32]float64),
		history:     make(map[int32]*MovingAverage),
		memHistory:  make(map[int32]*MovingAverage),
		ioHistory:   make(map[int32]*MovingAverage),

		globalHistory:    NewMovingAverage(cfg.Window),
		globalMemHistory: NewMovingAverage(cfg.Window),
		globalIOHistory:  NewMovingAverage(cfg.Window),
	}
}

// decide runs before CPU sampling for one process and reports whether the
// expensive read can be skipped this cycle. meta carries the metadata already
// collected this cycle; cpuTime lazily reads the cumulative CPU clock when
// the periodic spike check needs it.
func (d *dutyController) decide(pid int32, prev *Snapshot, meta interfaces.Meta, now time.Time, sysDelta float64, cpuTime func() (float64, bool)) bool {
	if active := d.activeCounts[pid]; active > 0 {
		d.activeCounts[pid] = active - 1
		return false
	}
	if d.cfg.TrendReset && prev != nil && prev.Trending() {
		d.skipIntervals[pid] = 1
		d.idleCounts[pid] = 0
		d.state[pid] = false
		d.activeCounts[pid] = max(d.activeCounts[pid], d.cfg.TrendSamples)
		return false
	}
	if prev == nil {
		d.graceCounts[pid] = 1
		return false
	}
	grace, ok := d.graceCounts[pid]
	if !ok {
		grace = d.cfg.Grace
	}
	if grace <= d.cfg.Grace {
		d.graceCounts[pid] = grace + 1
		return false
	}

	skipInt := d.interval(pid)
	if skipInt <= 1 || d.skipCounts[pid] >= skipInt {
		return false
	}
	last, ok := d.lastSample[pid]
	if !ok {
		last = now
	}
	sinceLast := now.Sub(last)
	if sinceLast >= d.cfg.Refresh {
		return false
	}
	if sinceLast >= d.cfg.CheckInterval {
		return !d.lightCheck(pid, prev, meta, sinceLast, sysDelta, cpuTime)
	}
	return true
}

// lightCheck runs the cheap periodic probes for a process in deep skip.
// Returning true forces a full sample this cycle.
func (d *dutyController) lightCheck(pid int32, prev *Snapshot, meta interfaces.Meta, sinceLast time.Duration, sysDelta float64, cpuTime func() (float64, bool)) bool {
	mem := prev.Mem
	if meta.RSS > 0 {
		mem = float64(meta.RSS) / (1 << 20)
	}
	baseMem, ok := d.memBaseline[pid]
	if !ok {
		baseMem = prev.Mem
	}
	if mem-prev.Mem > d.cfg.MemDelta || mem > baseMem*d.cfg.MemRatio {
		d.reset(pid)
		return true
	}
	if mem > baseMem*d.cfg.MemResetRatio {
		d.activeCounts[pid] = d.cfg.ActiveSamples
		return true
	}

	var ioRate float64
	if meta.IOValid {
		ioRate = (float64(meta.ReadBytes) - float64(prev.ReadBytes) +
			float64(meta.WriteBytes) - float64(prev.WriteBytes)) /
			math.Max(sinceLast.Seconds(), 0.001) / (1 << 20)
	}
	baseIO, ok := d.ioBaseline[pid]
	if !ok {
		baseIO = prev.IORate
	}
	if ioRate > d.cfg.IODelta || ioRate > baseIO*d.cfg.IORatio {
		d.reset(pid)
		return true
	}
	if ioRate > baseIO*d.cfg.IOResetRatio {
		d.activeCounts[pid] = d.cfg.ActiveSamples
		return true
	}

	if t, ok := cpuTime(); ok {
		cpu := (t - prev.CPUTime) / sysDelta * 100
		base, ok := d.baseline[pid]
		if !ok {
			base = d.cfg.CPUThreshold
		}
		thr := math.Max(d.cfg.CPUThreshold, base*d.cfg.Ratio)
		if cpu > thr*d.cfg.ResetRatio {
			d.activeCounts[pid] = d.cfg.ActiveSamples
			return true
		}
	}
	return false
}

// reset snaps a process back to active sampling after evidence of activity,
// granting a run of forced samples when it had been idling.
func (d *dutyController) reset(pid int32) {
	d.skipIntervals[pid] = 1
	prevIdle := d.idleCounts[pid]
	d.idleCounts[pid] = 0
	d.state[pid] = false
	if d.activeCounts[pid] == 0 && prevIdle > 0 {
		d.activeCounts[pid] = d.cfg.ActiveSamples
	}
}

// markSampled records that a full sample happened at now.
func (d *dutyController) markSampled(pid int32, now time.Time) {
	d.lastSample[pid] = now
	d.skipCounts[pid] = 0
}

// markSkipped counts one skipped cycle.
func (d *dutyController) markSkipped(pid int32) {
	d.skipCounts[pid]++
}

// lastSampleOr returns the last full-sample time, or fallback when the
// process has never been sampled.
func (d *dutyController) lastSampleOr(pid int32, fallback time.Time) time.Time {
	if t, ok := d.lastSample[pid]; ok {
		return t
	}
	return fallback
}

func (d *dutyController) interval(pid int32) int {
	if v, ok := d.skipIntervals[pid]; ok {
		return v
	}
	return 1
}

// observe feeds a fresh sample into the idle state machine: baselines move,
// hysteresis flips the idle flag, and the skip interval grows or decays.
func (d *dutyController) observe(pid int32, cpu, mem, ioRate float64) {
	avg := d.addHistory(d.history, pid, cpu)
	baseline, ok := d.baseline[pid]
	if !ok {
		baseline = d.globalBaseline
		if baseline == 0 {
			baseline = avg
		}
	}
	baseline = baseline*(1-d.cfg.BaselineAlpha) + avg*d.cfg.BaselineAlpha
	d.baseline[pid] = baseline
	gavg := d.globalHistory.Add(cpu)
	d.globalBaseline = d.globalBaseline*(1-d.cfg.GlobalAlpha) + gavg*d.cfg.GlobalAlpha

	mavg := d.addHistory(d.memHistory, pid, mem)
	mbaseline, ok := d.memBaseline[pid]
	if !ok {
		mbaseline = mavg
	}
	mbaseline = mbaseline*(1-d.cfg.BaselineAlpha) + mavg*d.cfg.BaselineAlpha
	d.memBaseline[pid] = mbaseline
	mgavg := d.globalMemHistory.Add(mem)
	d.globalMemBaseline = d.globalMemBaseline*(1-d.cfg.MemGlobalAlpha) + mgavg*d.cfg.MemGlobalAlpha

	iavg := d.addHistory(d.ioHistory, pid, ioRate)
	ibaseline, ok := d.ioBaseline[pid]
	if !ok {
		ibaseline = iavg
	}
	ibaseline = ibaseline*(1-d.cfg.BaselineAlpha) + iavg*d.cfg.BaselineAlpha
	d.ioBaseline[pid] = ibaseline
	igavg := d.globalIOHistory.Add(ioRate)
	d.globalIOBaseline = d.globalIOBaseline*(1-d.cfg.IOGlobalAlpha) + igavg*d.cfg.IOGlobalAlpha

	grace, ok := d.graceCounts[pid]
	if !ok {
		grace = d.cfg.Grace
	}
	if grace <= d.cfg.Grace {
		d.state[pid] = false
		d.idleCounts[pid] = 0
		d.skipIntervals[pid] = 1
		return
	}

	thr := math.Max(d.cfg.CPUThreshold, baseline*d.cfg.Ratio)
	upper := thr * (1 + d.cfg.Hysteresis)
	lower := thr * (1 - d.cfg.Hysteresis)
	state := d.state[pid]

	if cpu > thr*d.cfg.ResetRatio {
		d.reset(pid)
		return
	}
	if mem > mbaseline*d.cfg.MemResetRatio {
		d.reset(pid)
		return
	}
	if ioRate > ibaseline*d.cfg.IOResetRatio {
		d.reset(pid)
		return
	}

	if state {
		if cpu > upper {
			state = false
			if d.activeCounts[pid] == 0 && d.idleCounts[pid] > 0 {
				d.activeCounts[pid] = d.cfg.ActiveSamples
			}
		}
	} else if cpu < lower {
		state = true
	}
	d.state[pid] = state

	if state {
		d.idleCounts[pid]++
		if d.idleCounts[pid] >= d.cfg.Cycles {
			d.growSkip(pid, thr, cpu, mem, ioRate)
		}
		return
	}
	d.idleCounts[pid] = 0
	prevInt := d.interval(pid)
	decay := d.cfg.Decay
	if d.cfg.DynamicMult && cpu > thr {
		diff := (cpu - thr) / math.Max(thr, 0.001)
		decay = math.Pow(decay, 1+math.Pow(diff, d.cfg.DecayExp))
	}
	d.skipIntervals[pid] = max(1, int(float64(prevInt)*decay))
}

// growSkip widens the skip interval multiplicatively. With dynamic scaling
// enabled the growth factor follows how far below its baselines the process
// sits, combined by mean or RMS of the weighted deficits.
func (d *dutyController) growSkip(pid int32, thr, cpu, mem, ioRate float64) {
	prevInt := d.interval(pid)
	jitter := 1.0
	if d.cfg.Jitter > 1.0 {
		jitter = 1.0 + rand.Float64()*(d.cfg.Jitter-1.0)
	}
	factor := d.cfg.Mult

	var deficits, weights []float64
	if d.cfg.DynamicMult {
		diff := math.Max(0, math.Min(thr, thr-cpu))
		deficits = append(deficits, diff/math.Max(thr, 0.001))
		weights = append(weights, d.cfg.CPUWeight)
	}
	if d.cfg.DynamicMem {
		baseMem, ok := d.memBaseline[pid]
		if !ok {
			baseMem = mem
		}
		if baseMem > 0 {
			deficits = append(deficits, math.Max(0, baseMem-mem)/baseMem)
			weights = append(weights, d.cfg.MemWeight)
		}
	}
	if d.cfg.DynamicIO {
		baseIO, ok := d.ioBaseline[pid]
		if !ok {
			baseIO = ioRate
		}
		if baseIO > 0 {
			deficits = append(deficits, math.Max(0, baseIO-ioRate)/baseIO)
			weights = append(weights, d.cfg.IOWeight)
		}
	}
	if len(deficits) > 0 {
		var scaled float64
		if d.cfg.DynamicMode == "rms" {
			var sum float64
			for i := range deficits {
				p := deficits[i] * weights[i]
				sum += p * p
			}
			scaled = math.Sqrt(sum / float64(len(deficits)))
		} else {
			var sum float64
			for i := range deficits {
				sum += deficits[i] * weights[i]
			}
			scaled = sum / float64(len(deficits))
		}
		scaled = math.Min(1, math.Max(0, scaled))
		scaled = math.Pow(scaled, d.cfg.DynamicExp)
		factor = 1 + (d.cfg.Mult-1)*scaled
	}
	d.skipIntervals[pid] = min(int(float64(prevInt)*factor*jitter), d.cfg.MaxSkip)
}

// recordSkipped reuses the previous readings to keep baselines warm on
// cycles where sampling was skipped, at the gentler skip alpha.
func (d *dutyController) recordSkipped(pid int32, cpu, mem, ioRate float64) {
	d.skipCounts[pid]++

	avg := d.addHistory(d.history, pid, cpu)
	baseline, ok := d.baseline[pid]
	if !ok {
		baseline = d.globalBaseline
		if baseline == 0 {
			baseline = avg
		}
	}
	alpha := d.cfg.SkipAlpha
	d.baseline[pid] = baseline*(1-alpha) + avg*alpha
	gavg := d.globalHistory.Add(cpu)
	d.globalBaseline = d.globalBaseline*(1-d.cfg.GlobalAlpha) + gavg*d.cfg.GlobalAlpha

	mavg := d.addHistory(d.memHistory, pid, mem)
	mbaseline, ok := d.memBaseline[pid]
	if !ok {
		mbaseline = mavg
	}
	d.memBaseline[pid] = mbaseline*(1-alpha) + mavg*alpha
	mgavg := d.globalMemHistory.Add(mem)
	d.globalMemBaseline = d.globalMemBaseline*(1-d.cfg.MemGlobalAlpha) + mgavg*d.cfg.MemGlobalAlpha

	iavg := d.addHistory(d.ioHistory, pid, ioRate)
	ibaseline, ok := d.ioBaseline[pid]
	if !ok {
		ibaseline = iavg
	}
	d.ioBaseline[pid] = ibaseline*(1-alpha) + iavg*alpha
	igavg := d.globalIOHistory.Add(ioRate)
	d.globalIOBaseline = d.globalIOBaseline*(1-d.cfg.IOGlobalAlpha) + igavg*d.cfg.IOGlobalAlpha
}

// seedNew installs tracking state for a first sighting, inheriting the
// global baselines so brand-new processes are not immediately idle-skipped.
func (d *dutyController) seedNew(pid int32, mem, ioRate float64) {
	delete(d.idleCounts, pid)
	delete(d.skipIntervals, pid)
	delete(d.skipCounts, pid)
	d.baseline[pid] = d.globalBaseline
	d.memBaseline[pid] = d.globalMemBaseline
	d.ioBaseline[pid] = d.globalIOBaseline
	d.globalMemBaseline = d.globalMemBaseline*(1-d.cfg.MemGlobalAlpha) + mem*d.cfg.MemGlobalAlpha
	d.globalIOBaseline = d.globalIOBaseline*(1-d.cfg.IOGlobalAlpha) + ioRate*d.cfg.IOGlobalAlpha
	d.globalMemHistory.Add(mem)
	d.globalIOHistory.Add(ioRate)
	d.memHistory[pid] = NewMovingAverage(d.cfg.Window)
	d.ioHistory[pid] = NewMovingAverage(d.cfg.Window)
	hist := NewMovingAverage(d.cfg.Window)
	hist.Add(0)
	d.history[pid] = hist
	d.state[pid] = false
}

// forget drops all tracking state for a vanished process.
func (d *dutyController) forget(pid int32) {
	delete(d.idleCounts, pid)
	delete(d.skipCounts, pid)
	delete(d.skipIntervals, pid)
	delete(d.lastSample, pid)
	delete(d.graceCounts, pid)
	delete(d.activeCounts, pid)
	delete(d.state, pid)
	delete(d.baseline, pid)
	delete(d.memBaseline, pid)
	delete(d.ioBaseline, pid)
	delete(d.history, pid)
	delete(d.memHistory, pid)
	delete(d.ioHistory, pid)
}

func (d *dutyController) addHistory(histories map[int32]*MovingAverage, pid int32, v float64) float64 {
	hist, ok := histories[pid]
	if !ok {
		hist = NewMovingAverage(d.cfg.Window)
		histories[pid] = hist
	}
	return hist.Add(v)
}
