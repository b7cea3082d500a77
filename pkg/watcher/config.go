package watcher

import (
	"runtime"
	"strings"
	"time"
)

// Config carries every tuning knob for a Watcher. Values are copied and
// normalized by New, so a Config is never mutated after the watcher starts.
type Config struct {
	// Interval is the target pause between batches. Adaptive tuning moves
	// the effective interval between MinInterval and MaxInterval when
	// AutoInterval is set.
	Interval     time.Duration
	MinInterval  time.Duration
	MaxInterval  time.Duration
	AutoInterval bool

	// BatchSize is how many processes one batch covers. With AutoBatch the
	// size floats between MinBatchSize and MaxBatchSize.
	BatchSize    int
	MinBatchSize int
	MaxBatchSize int
	AutoBatch    bool

	// Workers sizes the probe pool. Zero picks a default from the host CPU
	// count, clamped to [MinWorkers, MaxWorkers].
	Workers    int
	MinWorkers int
	MaxWorkers int

	// SampleSize bounds the per-process metric history rings.
	SampleSize int

	// Limit keeps only the top N processes by average CPU then memory.
	// Zero keeps everything.
	Limit int

	HideSystem   bool
	ExcludeUsers []string
	IgnoreNames  []string
	IgnoreAge    time.Duration

	// BulkCPUThreshold is the sampled-process count at which per-PID CPU
	// reads are replaced by one bulk pass.
	BulkCPUThreshold int

	Change  ChangeConfig
	Trend   TrendConfig
	Levels  LevelConfig
	Visible VisibleConfig
	Idle    IdleConfig
	Detail  DetailConfig
	Tuning  TuningConfig
	Load    LoadConfig
}

// ChangeConfig controls adaptive change detection.
type ChangeConfig struct {
	CPUThreshold   float64
	MemThreshold   float64
	IOThreshold    float64
	ScoreThreshold float64
	AggWindow      int
	Alpha          float64
	Ratio          float64
	StdMult        float64
	MadMult        float64
	Decay          float64
}

// TrendConfig controls slope and EMA based trend detection.
type TrendConfig struct {
	Window       int
	IOWindow     int
	CPUThreshold float64
	MemThreshold float64
	IOThreshold  float64
	EMAAlpha     float64
}

// LevelConfig holds the warning and critical classification thresholds.
type LevelConfig struct {
	WarnCPU float64
	WarnMem float64
	WarnIO  float64
	CritCPU float64
	CritMem float64
}

// VisibleConfig controls the activity floor below which a process is
// eventually flagged as normal. With Auto set the floors follow the 75th
// percentile of observed usage instead of the fixed values.
type VisibleConfig struct {
	CPU          float64
	Mem          float64
	IO           float64
	Auto         bool
	NormalWindow int
}

// IdleConfig drives the idle/active duty-cycle controller.
type IdleConfig struct {
	CPUThreshold  float64
	Cycles        int
	MaxSkip       int
	BaselineAlpha float64
	Ratio         float64
	Decay         float64
	DecayExp      float64
	GlobalAlpha   float64
	Jitter        float64
	Window        int
	Hysteresis    float64
	Refresh       time.Duration
	SkipAlpha     float64
	Grace         int
	Mult          float64
	ResetRatio    float64
	CheckInterval time.Duration
	ActiveSamples int
	TrendSamples  int
	TrendReset    bool

	MemDelta       float64
	IODelta        float64
	MemRatio       float64
	IORatio        float64
	MemResetRatio  float64
	IOResetRatio   float64
	MemGlobalAlpha float64
	IOGlobalAlpha  float64

	DynamicMult bool
	DynamicMem  bool
	DynamicIO   bool
	DynamicMode string
	DynamicExp  float64
	CPUWeight   float64
	MemWeight   float64
	IOWeight    float64
}

// DetailConfig controls the expensive detail refresh path.
type DetailConfig struct {
	Interval            time.Duration
	Auto                bool
	ConnInterval        time.Duration
	FileInterval        time.Duration
	CacheTTL            time.Duration
	ConnGlobalThreshold int
	FileGlobalThreshold int
	StableCycles        int
	StableSkip          int
}

// TuningConfig holds the activity ratios steering interval tuning.
type TuningConfig struct {
	SlowRatio   float64
	FastRatio   float64
	RatioWindow int
	TrendSlow   float64
	TrendFast   float64
}

// LoadConfig pauses sampling while overall CPU stays above Threshold.
// A zero threshold disables the check.
type LoadConfig struct {
	Threshold float64
	Cycles    int
}

// DefaultConfig returns the stock tuning used when no overrides apply.
func DefaultConfig() Config {
	return Config{
		Interval:     2 * time.Second,
		MinInterval:  500 * time.Millisecond,
		MaxInterval:  10 * time.Second,
		AutoInterval: true,

		BatchSize:    100,
		MinBatchSize: 25,
		MaxBatchSize: 1000,
		AutoBatch:    true,

		MinWorkers: 2,
		MaxWorkers: 16,

		SampleSize: 5,

		IgnoreAge: time.Second,

		BulkCPUThreshold: 20,

		Change: ChangeConfig{
			CPUThreshold:   0.5,
			MemThreshold:   1.0,
			IOThreshold:    0.5,
			ScoreThreshold: 1.0,
			AggWindow:      1,
			Alpha:          0.2,
			Ratio:          0.3,
			StdMult:        2.0,
			MadMult:        3.0,
			Decay:          0.8,
		},
		Trend: TrendConfig{
			Window:       5,
			IOWindow:     5,
			CPUThreshold: 5.0,
			MemThreshold: 50.0,
			IOThreshold:  1.0,
			EMAAlpha:     0.3,
		},
		Levels: LevelConfig{
			WarnCPU: 40.0,
			WarnMem: 200.0,
			WarnIO:  1.0,
			CritCPU: 80.0,
			CritMem: 500.0,
		},
		Visible: VisibleConfig{
			CPU:          0.5,
			Mem:          10.0,
			IO:           0.1,
			NormalWindow: 3,
		},
		Idle: IdleConfig{
			CPUThreshold:  0.1,
			Cycles:        3,
			MaxSkip:       5,
			BaselineAlpha: 0.3,
			Ratio:         0.2,
			Decay:         0.5,
			DecayExp:      1.0,
			GlobalAlpha:   0.3,
			Jitter:        1.0,
			Window:        5,
			Hysteresis:    0.1,
			Refresh:       30 * time.Second,
			SkipAlpha:     0.3,
			Grace:         1,
			Mult:          2.0,
			ResetRatio:    2.0,
			CheckInterval: 5 * time.Second,
			ActiveSamples: 3,
			TrendSamples:  3,
			TrendReset:    true,

			MemDelta:       50.0,
			IODelta:        5.0,
			MemRatio:       2.0,
			IORatio:        2.0,
			MemResetRatio:  2.0,
			IOResetRatio:   2.0,
			MemGlobalAlpha: 0.3,
			IOGlobalAlpha:  0.3,

			DynamicMode: "mean",
			DynamicExp:  1.0,
			CPUWeight:   1.0,
			MemWeight:   1.0,
			IOWeight:    1.0,
		},
		Detail: DetailConfig{
			Interval:            3 * time.Second,
			Auto:                true,
			ConnInterval:        2 * time.Second,
			FileInterval:        2 * time.Second,
			CacheTTL:            30 * time.Second,
			ConnGlobalThreshold: 50,
			FileGlobalThreshold: 50,
			StableCycles:        10,
			StableSkip:          3,
		},
		Tuning: TuningConfig{
			SlowRatio:   0.02,
			FastRatio:   0.2,
			RatioWindow: 5,
			TrendSlow:   0.05,
			TrendFast:   0.25,
		},
		Load: LoadConfig{
			Cycles: 2,
		},
	}
}

// normalized returns a copy with every knob clamped to its valid range.
func (c Config) normalized() Config {
	c.MinInterval = max(c.MinInterval, 100*time.Millisecond)
	c.MaxInterval = max(c.MaxInterval, c.MinInterval)
	c.Interval = min(max(c.Interval, c.MinInterval), c.MaxInterval)

	c.MinBatchSize = max(c.MinBatchSize, 1)
	c.MaxBatchSize = max(c.MaxBatchSize, c.MinBatchSize)
	c.BatchSize = max(c.BatchSize, 1)

	c.MinWorkers = max(c.MinWorkers, 1)
	c.MaxWorkers = max(c.MaxWorkers, c.MinWorkers)
	if c.Workers == 0 {
		c.Workers = min(8, runtime.NumCPU()*2)
	}
	c.Workers = min(max(c.Workers, c.MinWorkers), c.MaxWorkers)

	c.SampleSize = max(c.SampleSize, 1)
	c.Limit = max(c.Limit, 0)
	c.IgnoreAge = max(c.IgnoreAge, 0)
	c.BulkCPUThreshold = max(c.BulkCPUThreshold, 1)

	c.ExcludeUsers = lowered(c.ExcludeUsers)
	c.IgnoreNames = lowered(c.IgnoreNames)

	c.Change.AggWindow = max(c.Change.AggWindow, 1)

	c.Trend.Window = max(c.Trend.Window, 1)
	c.Trend.IOWindow = max(c.Trend.IOWindow, 1)
	if c.Trend.EMAAlpha <= 0 || c.Trend.EMAAlpha > 1 {
		c.Trend.EMAAlpha = 0.3
	}

	c.Visible.NormalWindow = max(c.Visible.NormalWindow, 1)

	c.Idle.Cycles = max(c.Idle.Cycles, 1)
	c.Idle.MaxSkip = max(c.Idle.MaxSkip, 1)
	c.Idle.DecayExp = max(c.Idle.DecayExp, 0.1)
	c.Idle.Jitter = max(c.Idle.Jitter, 1.0)
	c.Idle.Window = max(c.Idle.Window, 1)
	c.Idle.Hysteresis = max(c.Idle.Hysteresis, 0)
	c.Idle.Refresh = max(c.Idle.Refresh, 0)
	c.Idle.SkipAlpha = min(max(c.Idle.SkipAlpha, 0), 1)
	c.Idle.Grace = max(c.Idle.Grace, 0)
	c.Idle.Mult = max(c.Idle.Mult, 1.0)
	c.Idle.ResetRatio = max(c.Idle.ResetRatio, 1.0)
	c.Idle.CheckInterval = max(c.Idle.CheckInterval, 0)
	c.Idle.ActiveSamples = max(c.Idle.ActiveSamples, 0)
	c.Idle.TrendSamples = max(c.Idle.TrendSamples, 0)
	c.Idle.MemDelta = max(c.Idle.MemDelta, 0)
	c.Idle.IODelta = max(c.Idle.IODelta, 0)
	c.Idle.MemRatio = max(c.Idle.MemRatio, 1.0)
	c.Idle.IORatio = max(c.Idle.IORatio, 1.0)
	c.Idle.MemResetRatio = max(c.Idle.MemResetRatio, 1.0)
	c.Idle.IOResetRatio = max(c.Idle.IOResetRatio, 1.0)
	c.Idle.DynamicMode = strings.ToLower(c.Idle.DynamicMode)
	if c.Idle.DynamicMode != "rms" {
		c.Idle.DynamicMode = "mean"
	}
	c.Idle.DynamicExp = max(c.Idle.DynamicExp, 0.1)
	c.Idle.CPUWeight = max(c.Idle.CPUWeight, 0)
	c.Idle.MemWeight = max(c.Idle.MemWeight, 0)
	c.Idle.IOWeight = max(c.Idle.IOWeight, 0)

	c.Detail.Interval = max(c.Detail.Interval, time.Second)
	c.Detail.StableCycles = max(c.Detail.StableCycles, 1)
	c.Detail.StableSkip = max(c.Detail.StableSkip, 1)

	c.Tuning.RatioWindow = max(c.Tuning.RatioWindow, 1)

	c.Load.Cycles = max(c.Load.Cycles, 1)

	return c
}

func lowered(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

func (c *Config) changeParams() ChangeParams {
	return ChangeParams{
		CPUFloor:  c.Change.CPUThreshold,
		MemFloor:  c.Change.MemThreshold,
		IOFloor:   c.Change.IOThreshold,
		Ratio:     c.Change.Ratio,
		StdMult:   c.Change.StdMult,
		MadMult:   c.Change.MadMult,
		Alpha:     c.Change.Alpha,
		Decay:     c.Change.Decay,
		Threshold: c.Change.ScoreThreshold,
	}
}
