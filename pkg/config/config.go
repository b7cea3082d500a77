package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logger  LoggerConfig  `yaml:"logger"`
	Watcher WatcherConfig `yaml:"watcher"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // guards control endpoints when set
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// WatcherConfig sampler configuration. Zero values fall back to the
// sampler's built-in defaults; only the knobs set here override them.
type WatcherConfig struct {
	Interval       float64 `yaml:"interval"`        // target sampling interval (seconds)
	MinInterval    float64 `yaml:"min_interval"`    // lower interval bound (seconds)
	MaxInterval    float64 `yaml:"max_interval"`    // upper interval bound (seconds)
	AutoInterval   *bool   `yaml:"auto_interval"`   // retune interval from observed load
	BatchSize      int     `yaml:"batch_size"`      // PIDs per scan batch
	MinBatchSize   int     `yaml:"min_batch_size"`  // lower batch bound
	MaxBatchSize   int     `yaml:"max_batch_size"`  // upper batch bound
	AutoBatch      *bool   `yaml:"auto_batch"`      // retune batch size
	MinWorkers     int     `yaml:"min_workers"`     // worker pool lower bound
	MaxWorkers     int     `yaml:"max_workers"`     // worker pool upper bound
	DetailInterval float64 `yaml:"detail_interval"` // open files / connections refresh (seconds)
	AutoDetail     *bool   `yaml:"auto_detail"`     // retune detail refresh
	MaxProcesses   int     `yaml:"max_processes"`   // result cap, 0 keeps everything

	HideSystem   bool     `yaml:"hide_system"`   // drop root/system processes
	ExcludeUsers []string `yaml:"exclude_users"` // drop processes owned by these users
	IgnoreNames  []string `yaml:"ignore_names"`  // drop processes whose name starts with any of these
	IgnoreAge    float64  `yaml:"ignore_age"`    // drop processes younger than this (seconds)

	Idle   IdleConfig   `yaml:"idle"`
	Change ChangeConfig `yaml:"change"`
	Levels LevelsConfig `yaml:"levels"`
	Load   LoadConfig   `yaml:"load"`
}

// IdleConfig duty-cycle controller overrides
type IdleConfig struct {
	CpuThreshold  float64 `yaml:"cpu_threshold"`  // idle CPU floor (percent)
	Cycles        int     `yaml:"cycles"`         // consecutive idle cycles before skipping
	MaxSkip       int     `yaml:"max_skip"`       // skip interval ceiling (cycles)
	Refresh       float64 `yaml:"refresh"`        // full resample ceiling while idle (seconds)
	CheckInterval float64 `yaml:"check_interval"` // lightweight spike probe period (seconds)
	Grace         int     `yaml:"grace"`          // always-sample cycles for new processes
	Dynamic       bool    `yaml:"dynamic"`        // deficit-scaled skip growth
	DynamicMode   string  `yaml:"dynamic_mode"`   // mean, rms
}

// ChangeConfig change detection overrides
type ChangeConfig struct {
	CpuThreshold   float64 `yaml:"cpu_threshold"`   // absolute CPU delta floor (percent)
	MemThreshold   float64 `yaml:"mem_threshold"`   // absolute memory delta floor (MB)
	IoThreshold    float64 `yaml:"io_threshold"`    // absolute I/O delta floor (MB/s)
	ScoreThreshold float64 `yaml:"score_threshold"` // combined score needed to flag a change
}

// LevelsConfig classification thresholds
type LevelsConfig struct {
	WarningCpu  float64 `yaml:"warning_cpu"`
	WarningMem  float64 `yaml:"warning_mem"`
	WarningIo   float64 `yaml:"warning_io"`
	CriticalCpu float64 `yaml:"critical_cpu"`
	CriticalMem float64 `yaml:"critical_mem"`
}

// LoadConfig system load pause overrides
type LoadConfig struct {
	Threshold float64 `yaml:"threshold"` // system CPU percent above which cycles are skipped
	Cycles    int     `yaml:"cycles"`    // cycles to skip once triggered
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}

	validateAndApplyDefaults(&cfg)
	GlobalConfig = &cfg
	return nil
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port: 8080,
		Mode: "release",
	}
}

// DefaultLoggerConfig returns the logger defaults.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:  "info",
		Output: "console",
		File:   LoggerFileConfig{Path: "logs/procwatch.log"},
	}
}

// validateAndApplyDefaults replaces invalid or missing values with defaults.
// Watcher knobs are left alone: zero there means "use the sampler default",
// negative numbers are reset to zero so they read as unset downstream.
func validateAndApplyDefaults(cfg *Config) {
	serverDefaults := DefaultServerConfig()
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		cfg.Server.Port = serverDefaults.Port
	}
	if cfg.Server.Mode != "debug" && cfg.Server.Mode != "release" {
		cfg.Server.Mode = serverDefaults.Mode
	}

	loggerDefaults := DefaultLoggerConfig()
	switch cfg.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		cfg.Logger.Level = loggerDefaults.Level
	}
	switch cfg.Logger.Output {
	case "console", "file", "both":
	default:
		cfg.Logger.Output = loggerDefaults.Output
	}
	if cfg.Logger.File.Path == "" {
		cfg.Logger.File.Path = loggerDefaults.File.Path
	}

	w := &cfg.Watcher
	for _, v := range []*float64{
		&w.Interval, &w.MinInterval, &w.MaxInterval, &w.DetailInterval,
		&w.IgnoreAge,
		&w.Idle.CpuThreshold, &w.Idle.Refresh, &w.Idle.CheckInterval,
		&w.Change.CpuThreshold, &w.Change.MemThreshold, &w.Change.IoThreshold,
		&w.Change.ScoreThreshold,
		&w.Levels.WarningCpu, &w.Levels.WarningMem, &w.Levels.WarningIo,
		&w.Levels.CriticalCpu, &w.Levels.CriticalMem,
		&w.Load.Threshold,
	} {
		if *v < 0 {
			*v = 0
		}
	}
	for _, v := range []*int{
		&w.BatchSize, &w.MinBatchSize, &w.MaxBatchSize,
		&w.MinWorkers, &w.MaxWorkers, &w.MaxProcesses,
		&w.Idle.Cycles, &w.Idle.MaxSkip, &w.Idle.Grace, &w.Load.Cycles,
	} {
		if *v < 0 {
			*v = 0
		}
	}
}
