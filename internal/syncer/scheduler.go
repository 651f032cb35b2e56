package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/store"
)

// Scheduler starts a full sync every sync_interval_minutes, skipping a tick when
// a sync job is already active. The interval is re-read before each wait, so a
// settings change takes effect at the next tick.
type Scheduler struct {
	orchestrator *SyncOrchestrator
	store        store.Store
	logger       *zap.Logger
	stop         chan struct{}
	done         chan struct{}
}

// NewScheduler creates a scheduler for the given orchestrator.
func NewScheduler(orchestrator *SyncOrchestrator, s store.Store, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		orchestrator: orchestrator,
		store:        s,
		logger:       logger,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start runs the schedule loop until Stop is called.
func (s *Scheduler) Start() {
	go s.loop()
}

// Stop halts the schedule loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		interval := s.interval()
		select {
		case <-s.stop:
			return
		case <-time.After(interval):
		}
		s.tick()
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	active, err := s.orchestrator.GetActiveSyncs(ctx)
	if err != nil {
		s.logger.Warn("scheduler: failed to list active syncs", zap.Error(err))
		return
	}
	if len(active) > 0 {
		s.logger.Debug("scheduler: sync already active, skipping tick", zap.Int("active", len(active)))
		return
	}
	jobID, err := s.orchestrator.StartSync(ctx, nil, SyncOptions{})
	if err != nil {
		s.logger.Warn("scheduler: failed to start sync", zap.Error(err))
		return
	}
	s.logger.Info("scheduler: started background sync", zap.String("job_id", jobID))
}

func (s *Scheduler) interval() time.Duration {
	minutes := 60
	if setting, err := s.store.GetSetting(context.Background(), models.SettingSyncInterval); err == nil {
		var v int
		if _, err := fmt.Sscanf(setting.Value, "%d", &v); err == nil && v > 0 {
			minutes = v
		}
	}
	return time.Duration(minutes) * time.Minute
}
