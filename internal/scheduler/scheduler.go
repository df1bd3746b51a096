package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"sitewatch/internal/logger"
	"sitewatch/internal/services"
)

// Scheduler drives the periodic check cycle and the daily retention sweep
type Scheduler struct {
	cron      *cron.Cron
	monitor   *services.MonitorService
	retention *services.RetentionService
}

// NewScheduler creates a new scheduler
func NewScheduler(monitor *services.MonitorService, retention *services.RetentionService) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		monitor:   monitor,
		retention: retention,
	}
}

// Start registers the check and retention entries and starts the cron loop
func (s *Scheduler) Start(ctx context.Context, checkCron, retentionCron string) error {
	if _, err := s.cron.AddFunc(checkCron, func() {
		if err := s.monitor.RunCycle(ctx); err != nil {
			logger.L().Error("scheduled check cycle failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(retentionCron, func() {
		if err := s.retention.Sweep(); err != nil {
			logger.L().Error("retention sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	logger.L().Info("scheduler started",
		zap.String("check_cron", checkCron),
		zap.String("retention_cron", retentionCron),
	)
	return nil
}

// Stop stops the scheduler and waits for a running entry to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.L().Info("scheduler stopped")
}
