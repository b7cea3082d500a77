package watcher

import (
	"math"
	"time"
)

// Level classifies a process by resource pressure.
type Level string

const (
	LevelNormal   Level = "normal"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Metrics is one measurement triple used for change scoring.
type Metrics struct {
	CPU float64
	Mem float64
	IO  float64
}

// Sample is one observed state of a process, as fed into change detection.
type Sample struct {
	Name       string
	User       string
	Status     string
	Threads    int32
	Files      int
	Conns      int
	ReadBytes  uint64
	WriteBytes uint64
	Metrics    Metrics
}

// Baseline tracks an exponentially weighted center, variance and mean
// absolute deviation for one metric.
type Baseline struct {
	Center float64
	Var    float64
	MAD    float64
}

func (b Baseline) update(v, alpha float64) Baseline {
	diff := v - b.Center
	b.Center += alpha * diff
	b.Var = (1-alpha)*b.Var + alpha*diff*diff
	b.MAD = (1-alpha)*b.MAD + alpha*math.Abs(diff)
	return b
}

// threshold returns the adaptive deviation threshold for this baseline, never
// below 0.01 so scoring stays finite for flat series.
func (b Baseline) threshold(floor, ratio, stdMult, madMult float64) float64 {
	thr := math.Max(0.01, floor)
	thr = math.Max(thr, b.Center*ratio)
	thr = math.Max(thr, math.Sqrt(b.Var)*stdMult)
	return math.Max(thr, b.MAD*madMult)
}

// BaselineSet carries the adaptive reference level for each metric.
type BaselineSet struct {
	CPU Baseline
	Mem Baseline
	IO  Baseline
}

func (b BaselineSet) update(m Metrics, alpha float64) BaselineSet {
	b.CPU = b.CPU.update(m.CPU, alpha)
	b.Mem = b.Mem.update(m.Mem, alpha)
	b.IO = b.IO.update(m.IO, alpha)
	return b
}

// ChangeParams bundles the scoring knobs derived from ChangeConfig.
type ChangeParams struct {
	CPUFloor  float64
	MemFloor  float64
	IOFloor   float64
	Ratio     float64
	StdMult   float64
	MadMult   float64
	Alpha     float64
	Decay     float64
	Threshold float64
}

// changeScore sums the per-metric deviation of cur from base, each normalized
// by its adaptive threshold. It reads base without advancing it.
func changeScore(base BaselineSet, cur Metrics, p ChangeParams) float64 {
	return math.Abs(cur.CPU-base.CPU.Center)/base.CPU.threshold(p.CPUFloor, p.Ratio, p.StdMult, p.MadMult) +
		math.Abs(cur.Mem-base.Mem.Center)/base.Mem.threshold(p.MemFloor, p.Ratio, p.StdMult, p.MadMult) +
		math.Abs(cur.IO-base.IO.Center)/base.IO.threshold(p.IOFloor, p.Ratio, p.StdMult, p.MadMult)
}

// Snapshot is the tracked state of one process. The watcher owns the
// canonical instance; consumers only ever see copies produced by Clone.
type Snapshot struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	User       string    `json:"user"`
	Status     string    `json:"status"`
	Start      time.Time `json:"start"`
	CPU        float64   `json:"cpu"`
	Mem        float64   `json:"mem"`
	IORate     float64   `json:"io_rate"`
	CPUTime    float64   `json:"-"`
	Threads    int32     `json:"threads"`
	ReadBytes  uint64    `json:"-"`
	WriteBytes uint64    `json:"-"`
	Files      int       `json:"files"`
	Conns      int       `json:"conns"`

	DeltaCPU float64 `json:"delta_cpu"`
	DeltaMem float64 `json:"delta_mem"`
	DeltaIO  float64 `json:"delta_io"`

	Level       Level `json:"level"`
	Changed     bool  `json:"changed"`
	TrendingCPU bool  `json:"trending_cpu"`
	TrendingMem bool  `json:"trending_mem"`
	TrendingIO  bool  `json:"trending_io"`
	Stable      bool  `json:"stable"`
	Normal      bool  `json:"normal"`

	samples    ring
	ioSamples  ring
	memSamples ring

	emaCPU float64
	emaMem float64
	emaIO  float64

	base         BaselineSet
	recentScores ring
	lastScore    float64
	scoreSum     float64
}

// newSnapshot seeds a snapshot for a first sighting. CPU and IO rate start at
// zero until a second sample provides deltas; EMAs and baselines start on the
// initial values so the first real sample is scored against them.
func newSnapshot(cur Sample, pid int32, start time.Time, cpuTime float64, sampleSize, aggWindow int) *Snapshot {
	mem := round1(cur.Metrics.Mem)
	s := &Snapshot{
		PID:        pid,
		Name:       cur.Name,
		User:       cur.User,
		Status:     cur.Status,
		Start:      start,
		Mem:        mem,
		CPUTime:    cpuTime,
		Threads:    cur.Threads,
		ReadBytes:  cur.ReadBytes,
		WriteBytes: cur.WriteBytes,
		Level:      LevelNormal,

		samples:    newRing(sampleSize),
		ioSamples:  newRing(sampleSize),
		memSamples: newRing(sampleSize),

		emaMem: mem,

		recentScores: newRing(aggWindow),
	}
	s.base = BaselineSet{Mem: Baseline{Center: mem}}
	s.AddSample(0, 0, mem)
	return s
}

// AddSample appends one cycle's CPU, IO rate and memory readings to the
// rolling windows.
func (s *Snapshot) AddSample(cpu, io, mem float64) {
	s.samples.push(cpu)
	s.ioSamples.push(io)
	s.memSamples.push(mem)
}

// AvgCPU returns the mean CPU over the sample window, falling back to the
// latest reading when the window is empty.
func (s *Snapshot) AvgCPU() float64 {
	if s.samples.count() == 0 {
		return s.CPU
	}
	return s.samples.mean()
}

// AvgIO returns the mean IO rate over the sample window.
func (s *Snapshot) AvgIO() float64 {
	if s.ioSamples.count() == 0 {
		return s.IORate
	}
	return s.ioSamples.mean()
}

// Trending reports whether any metric currently trends upward.
func (s *Snapshot) Trending() bool {
	return s.TrendingCPU || s.TrendingMem || s.TrendingIO
}

// LastScore returns the most recent change score.
func (s *Snapshot) LastScore() float64 {
	return s.lastScore
}

// observe scores cur against the adaptive baseline, folds the score into the
// rolling and decayed evidence sums and advances the baseline. It reports
// whether the accumulated evidence crosses the change threshold.
func (s *Snapshot) observe(cur Metrics, p ChangeParams) bool {
	score := changeScore(s.base, cur, p)
	s.base = s.base.update(cur, p.Alpha)
	s.lastScore = score
	s.recentScores.push(score)
	s.scoreSum = s.scoreSum*p.Decay + score
	return math.Max(s.recentScores.sum(), s.scoreSum) >= p.Threshold
}

// ChangedSince reports whether cur differs meaningfully from this snapshot.
// Identity fields including open file and connection counts flag a change
// outright; otherwise the metric evidence decides. Baselines advance as a
// side effect, so each sample must be scored exactly once.
func (s *Snapshot) ChangedSince(cur Sample, p ChangeParams) bool {
	if s.Name != cur.Name || s.User != cur.User || s.Status != cur.Status ||
		s.Threads != cur.Threads || s.Files != cur.Files || s.Conns != cur.Conns {
		return true
	}
	return s.observe(cur.Metrics, p)
}

// changedBasic is ChangedSince without the file and connection identity
// checks, used on the hot path where details may be stale.
func (s *Snapshot) changedBasic(cur Sample, p ChangeParams) bool {
	if s.Name != cur.Name || s.User != cur.User || s.Status != cur.Status ||
		s.Threads != cur.Threads {
		return true
	}
	return s.observe(cur.Metrics, p)
}

// ApplySample folds one sampling pass into the snapshot: change detection
// against the adaptive baseline, field and delta updates, rolling windows,
// then trend and level classification. Feeding identical metric values twice
// yields zero deltas the second time. Returns the changed verdict.
func (s *Snapshot) ApplySample(cur Sample, cpuTime float64, p ChangeParams, tc TrendConfig, lc LevelConfig) bool {
	probe := cur
	probe.Metrics = Metrics{
		CPU: round1(cur.Metrics.CPU),
		Mem: round1(cur.Metrics.Mem),
		IO:  round1(cur.Metrics.IO),
	}
	changed := s.changedBasic(probe, p)

	s.DeltaCPU = round1(cur.Metrics.CPU - s.CPU)
	s.DeltaMem = round1(cur.Metrics.Mem - s.Mem)
	s.DeltaIO = round1(cur.Metrics.IO - s.IORate)

	s.Name = cur.Name
	s.User = cur.User
	s.Status = cur.Status
	s.Threads = cur.Threads
	s.CPU = probe.Metrics.CPU
	s.Mem = probe.Metrics.Mem
	s.IORate = probe.Metrics.IO
	s.CPUTime = cpuTime
	s.ReadBytes = cur.ReadBytes
	s.WriteBytes = cur.WriteBytes
	s.Changed = changed

	s.AddSample(s.CPU, s.IORate, s.Mem)
	s.ComputeTrends(tc)
	s.Classify(lc)
	return changed
}

// ComputeTrends refreshes the trending flags. A metric trends when either the
// projected rise over its recent window or the jump above its EMA crosses the
// configured threshold.
func (s *Snapshot) ComputeTrends(tc TrendConfig) {
	var cpuSlope, memSlope, ioSlope float64
	if s.samples.count() >= tc.Window {
		recent := s.samples.tail(tc.Window)
		cpuSlope = slope(recent) * float64(len(recent)-1)
	}
	if s.memSamples.count() >= tc.Window {
		recent := s.memSamples.tail(tc.Window)
		memSlope = slope(recent) * float64(len(recent)-1)
	}
	if s.ioSamples.count() >= tc.IOWindow {
		recent := s.ioSamples.tail(tc.IOWindow)
		ioSlope = slope(recent) * float64(len(recent)-1)
	}

	var cpuDiff, memDiff, ioDiff float64
	if s.samples.count() > 0 {
		last := s.samples.last()
		s.emaCPU = tc.EMAAlpha*last + (1-tc.EMAAlpha)*s.emaCPU
		cpuDiff = last - s.emaCPU
	}
	if s.memSamples.count() > 0 {
		last := s.memSamples.last()
		s.emaMem = tc.EMAAlpha*last + (1-tc.EMAAlpha)*s.emaMem
		memDiff = last - s.emaMem
	}
	if s.ioSamples.count() > 0 {
		last := s.ioSamples.last()
		s.emaIO = tc.EMAAlpha*last + (1-tc.EMAAlpha)*s.emaIO
		ioDiff = last - s.emaIO
	}

	s.TrendingCPU = math.Max(cpuSlope, cpuDiff) >= tc.CPUThreshold
	s.TrendingMem = math.Max(memSlope, memDiff) >= tc.MemThreshold
	s.TrendingIO = math.Max(ioSlope, ioDiff) >= tc.IOThreshold
}

// Classify sets the pressure level from the current readings. Sustained IO
// at twice the warning rate is treated as critical on its own.
func (s *Snapshot) Classify(lc LevelConfig) {
	switch {
	case s.CPU >= lc.CritCPU || s.Mem >= lc.CritMem || s.IORate >= lc.WarnIO*2:
		s.Level = LevelCritical
	case s.CPU >= lc.WarnCPU || s.Mem >= lc.WarnMem || s.IORate >= lc.WarnIO:
		s.Level = LevelWarning
	default:
		s.Level = LevelNormal
	}
}

// Clone returns an independent deep copy safe to hand to consumers.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.samples = s.samples.clone()
	c.ioSamples = s.ioSamples.clone()
	c.memSamples = s.memSamples.clone()
	c.recentScores = s.recentScores.clone()
	return &c
}

// less orders snapshots by average CPU, then memory, then PID.
func (s *Snapshot) less(other *Snapshot) bool {
	a, b := s.AvgCPU(), other.AvgCPU()
	if a != b {
		return a < b
	}
	if s.Mem != other.Mem {
		return s.Mem < other.Mem
	}
	return s.PID < other.PID
}

// slope returns the least-squares slope of values against their indexes.
func slope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	fn := float64(n)
	sumX := fn * (fn - 1) / 2
	sumX2 := (fn - 1) * fn * (2*fn - 1) / 6
	var sumY, sumXY float64
	for i, v := range values {
		sumY += v
		sumXY += float64(i) * v
	}
	denom := fn*sumX2 - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
