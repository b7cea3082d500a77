package main

import (
	"fmt"
	"net/http"
	"time"

	"procwatch/app/handler"
	"procwatch/app/router"
	"procwatch/internal/service"
	"procwatch/pkg/config"
	"procwatch/pkg/logger"
	"procwatch/pkg/probe"
	"procwatch/pkg/watcher"

	"github.com/gin-gonic/gin"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.Sync()
	})
	return nil
}

// initWatcher initializes the process sampler
func (app *Application) initWatcher() error {
	cfg := buildWatcherConfig(app.config.Watcher)
	app.watcher = watcher.New(cfg, probe.New())
	return nil
}

// initServices initializes service layer
func (app *Application) initServices() error {
	app.monitorService = service.NewMonitorService(app.watcher)
	return nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	app.monitorHandler = handler.NewMonitorHandler(app.monitorService)
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	gin.SetMode(app.config.Server.Mode)

	app.ginEngine = gin.New()

	r := router.NewRouter(app.monitorHandler)
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}

	return nil
}

// buildWatcherConfig merges the yaml overrides into the sampler defaults.
// Zero values keep the stock tuning.
func buildWatcherConfig(yc config.WatcherConfig) watcher.Config {
	cfg := watcher.DefaultConfig()

	if yc.Interval > 0 {
		cfg.Interval = secondsToDuration(yc.Interval)
	}
	if yc.MinInterval > 0 {
		cfg.MinInterval = secondsToDuration(yc.MinInterval)
	}
	if yc.MaxInterval > 0 {
		cfg.MaxInterval = secondsToDuration(yc.MaxInterval)
	}
	if yc.AutoInterval != nil {
		cfg.AutoInterval = *yc.AutoInterval
	}

	if yc.BatchSize > 0 {
		cfg.BatchSize = yc.BatchSize
	}
	if yc.MinBatchSize > 0 {
		cfg.MinBatchSize = yc.MinBatchSize
	}
	if yc.MaxBatchSize > 0 {
		cfg.MaxBatchSize = yc.MaxBatchSize
	}
	if yc.AutoBatch != nil {
		cfg.AutoBatch = *yc.AutoBatch
	}

	if yc.MinWorkers > 0 {
		cfg.MinWorkers = yc.MinWorkers
	}
	if yc.MaxWorkers > 0 {
		cfg.MaxWorkers = yc.MaxWorkers
	}

	if yc.DetailInterval > 0 {
		cfg.Detail.Interval = secondsToDuration(yc.DetailInterval)
	}
	if yc.AutoDetail != nil {
		cfg.Detail.Auto = *yc.AutoDetail
	}

	if yc.MaxProcesses > 0 {
		cfg.Limit = yc.MaxProcesses
	}

	cfg.HideSystem = yc.HideSystem
	if len(yc.ExcludeUsers) > 0 {
		cfg.ExcludeUsers = yc.ExcludeUsers
	}
	if len(yc.IgnoreNames) > 0 {
		cfg.IgnoreNames = yc.IgnoreNames
	}
	if yc.IgnoreAge > 0 {
		cfg.IgnoreAge = secondsToDuration(yc.IgnoreAge)
	}

	if yc.Idle.CpuThreshold > 0 {
		cfg.Idle.CPUThreshold = yc.Idle.CpuThreshold
	}
	if yc.Idle.Cycles > 0 {
		cfg.Idle.Cycles = yc.Idle.Cycles
	}
	if yc.Idle.MaxSkip > 0 {
		cfg.Idle.MaxSkip = yc.Idle.MaxSkip
	}
	if yc.Idle.Refresh > 0 {
		cfg.Idle.Refresh = secondsToDuration(yc.Idle.Refresh)
	}
	if yc.Idle.CheckInterval > 0 {
		cfg.Idle.CheckInterval = secondsToDuration(yc.Idle.CheckInterval)
	}
	if yc.Idle.Grace > 0 {
		cfg.Idle.Grace = yc.Idle.Grace
	}
	cfg.Idle.DynamicMult = yc.Idle.Dynamic
	if yc.Idle.DynamicMode != "" {
		cfg.Idle.DynamicMode = yc.Idle.DynamicMode
	}

	if yc.Change.CpuThreshold > 0 {
		cfg.Change.CPUThreshold = yc.Change.CpuThreshold
	}
	if yc.Change.MemThreshold > 0 {
		cfg.Change.MemThreshold = yc.Change.MemThreshold
	}
	if yc.Change.IoThreshold > 0 {
		cfg.Change.IOThreshold = yc.Change.IoThreshold
	}
	if yc.Change.ScoreThreshold > 0 {
		cfg.Change.ScoreThreshold = yc.Change.ScoreThreshold
	}

	if yc.Levels.WarningCpu > 0 {
		cfg.Levels.WarnCPU = yc.Levels.WarningCpu
	}
	if yc.Levels.WarningMem > 0 {
		cfg.Levels.WarnMem = yc.Levels.WarningMem
	}
	if yc.Levels.WarningIo > 0 {
		cfg.Levels.WarnIO = yc.Levels.WarningIo
	}
	if yc.Levels.CriticalCpu > 0 {
		cfg.Levels.CritCPU = yc.Levels.CriticalCpu
	}
	if yc.Levels.CriticalMem > 0 {
		cfg.Levels.CritMem = yc.Levels.CriticalMem
	}

	if yc.Load.Threshold > 0 {
		cfg.Load.Threshold = yc.Load.Threshold
	}
	if yc.Load.Cycles > 0 {
		cfg.Load.Cycles = yc.Load.Cycles
	}

	return cfg
}

func secondsToDuration(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
