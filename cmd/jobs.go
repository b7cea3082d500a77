package main

import (
	"context"
	"fmt"
	"time"

	"procwatch/internal/jobs"
	"procwatch/internal/service"
	"procwatch/pkg/logger"
)

func (app *Application) initJobs() error {
	if app.monitorService == nil {
		logger.Warnf("Service layer not initialized yet, skipping background task registration")
		return nil
	}

	manager := jobs.NewManager(app.ctx)
	manager.Register(newStatsReportJob(time.Minute, app.monitorService))

	app.jobsManager = manager
	return nil
}

// statsReportJob periodically logs the sampler's tuning state.
type statsReportJob struct {
	interval       time.Duration
	monitorService *service.MonitorService
}

func newStatsReportJob(interval time.Duration, svc *service.MonitorService) jobs.Job {
	return &statsReportJob{
		interval:       interval,
		monitorService: svc,
	}
}

func (j *statsReportJob) Name() string {
	return "stats-report"
}

func (j *statsReportJob) Interval() time.Duration {
	return j.interval
}

func (j *statsReportJob) Run(ctx context.Context) error {
	if j.monitorService == nil {
		return fmt.Errorf("monitor service not configured")
	}

	st := j.monitorService.Stats()
	logger.Infof("sampler stats: processes=%d workers=%d interval=%.2fs detail=%.2fs batch=%d change_ratio=%.3f trend_ratio=%.3f throughput=%.1f paused=%v",
		st.ProcessCount, st.WorkerCount, st.Interval, st.DetailInterval,
		st.BatchSize, st.ChangeRatio, st.TrendRatio, st.Throughput, st.Paused)

	if sum := j.monitorService.Summary(5 * time.Minute); sum.Passes > 0 {
		logger.Infof("last 5m: passes=%d avg_cycle=%.2fs max_cycle=%.2fs avg_change=%.3f avg_trend=%.3f avg_procs=%.0f",
			sum.Passes, sum.AvgCycleSeconds, sum.MaxCycleSeconds,
			sum.AvgChangeRatio, sum.AvgTrendRatio, sum.AvgProcessCount)
	}
	return nil
}
