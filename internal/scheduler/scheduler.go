package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/postyhq/rewardguard/internal/logger"
	"github.com/postyhq/rewardguard/internal/services"
)

// Scheduler owns the periodic maintenance jobs: the suspicious-device sweep
// every half hour and the daily security report each morning.
type Scheduler struct {
	cron    *cron.Cron
	events  *services.EventLog
	blocks  *services.BlockRegistry
	reports *services.ReportService
}

// New builds the scheduler; Start must be called to begin running jobs.
func New(events *services.EventLog, blocks *services.BlockRegistry, reports *services.ReportService) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		events:  events,
		blocks:  blocks,
		reports: reports,
	}
}

// Start registers and launches the cron jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("*/30 * * * *", s.sweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 9 * * *", s.dailyReport); err != nil {
		return err
	}

	s.cron.Start()
	logger.Log().Info("scheduler started")
	return nil
}

// Stop halts the cron runner, waiting for in-flight jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) sweep() {
	blocked, err := s.blocks.SweepSuspicious(s.events, time.Now().UnixMilli())
	if err != nil {
		logger.WithFields(map[string]interface{}{"error": err}).Error("suspicious device sweep failed")
		return
	}
	logger.WithFields(map[string]interface{}{"blocked": blocked}).Debug("suspicious device sweep completed")
}

func (s *Scheduler) dailyReport() {
	if _, err := s.reports.GenerateDailyReport(); err != nil {
		logger.WithFields(map[string]interface{}{"error": err}).Error("daily report generation failed")
	}
}
