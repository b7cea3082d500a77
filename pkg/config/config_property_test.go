package config

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_InvalidValuesFallBackToDefaults tests that no invalid yaml
// input can leave the config in a state the rest of the application has to
// defend against.
func TestProperty_InvalidValuesFallBackToDefaults(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("out-of-range ports fall back to the default", prop.ForAll(
		func(port int) bool {
			cfg := &Config{Server: ServerConfig{Port: port}}
			validateAndApplyDefaults(cfg)
			return cfg.Server.Port == DefaultServerConfig().Port
		},
		gen.OneGenOf(gen.IntRange(-10000, 0), gen.IntRange(65536, 1<<20)),
	))

	properties.Property("valid ports are preserved", prop.ForAll(
		func(port int) bool {
			cfg := &Config{Server: ServerConfig{Port: port}}
			validateAndApplyDefaults(cfg)
			return cfg.Server.Port == port
		},
		gen.IntRange(1, 65535),
	))

	properties.Property("unknown modes and levels fall back", prop.ForAll(
		func(mode, level, output string) bool {
			cfg := &Config{
				Server: ServerConfig{Mode: mode},
				Logger: LoggerConfig{Level: level, Output: output},
			}
			validateAndApplyDefaults(cfg)
			okMode := cfg.Server.Mode == "debug" || cfg.Server.Mode == "release"
			okLevel := cfg.Logger.Level == "debug" || cfg.Logger.Level == "info" ||
				cfg.Logger.Level == "warn" || cfg.Logger.Level == "error"
			okOutput := cfg.Logger.Output == "console" || cfg.Logger.Output == "file" ||
				cfg.Logger.Output == "both"
			return okMode && okLevel && okOutput
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("negative watcher knobs read as unset", prop.ForAll(
		func(interval float64, batch, cycles int) bool {
			cfg := &Config{Watcher: WatcherConfig{
				Interval:  -interval,
				BatchSize: -batch,
				Idle:      IdleConfig{Cycles: -cycles},
			}}
			validateAndApplyDefaults(cfg)
			return cfg.Watcher.Interval >= 0 &&
				cfg.Watcher.BatchSize >= 0 &&
				cfg.Watcher.Idle.Cycles >= 0
		},
		gen.Float64Range(0, 1e6),
		gen.IntRange(0, 1e6),
		gen.IntRange(0, 1e6),
	))

	properties.Property("positive watcher knobs are preserved", prop.ForAll(
		func(interval float64, batch int) bool {
			cfg := &Config{Watcher: WatcherConfig{Interval: interval, BatchSize: batch}}
			validateAndApplyDefaults(cfg)
			return cfg.Watcher.Interval == interval && cfg.Watcher.BatchSize == batch
		},
		gen.Float64Range(0.001, 1e6),
		gen.IntRange(1, 1e6),
	))

	properties.Property("validation is idempotent", prop.ForAll(
		func(port int, interval float64, batch int) bool {
			cfg := &Config{
				Server:  ServerConfig{Port: port},
				Watcher: WatcherConfig{Interval: interval, BatchSize: batch},
			}
			validateAndApplyDefaults(cfg)
			port1, interval1, batch1 := cfg.Server.Port, cfg.Watcher.Interval, cfg.Watcher.BatchSize
			validateAndApplyDefaults(cfg)
			return cfg.Server.Port == port1 &&
				cfg.Watcher.Interval == interval1 &&
				cfg.Watcher.BatchSize == batch1
		},
		gen.IntRange(-100, 70000),
		gen.Float64Range(-100, 100),
		gen.IntRange(-100, 100),
	))

	properties.TestingRun(t)
}
