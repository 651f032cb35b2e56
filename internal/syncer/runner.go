package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/store"
)

// loopResult is the terminal outcome of one run of a job's processing loop.
type loopResult int

const (
	loopCompleted loopResult = iota
	loopPaused
	loopStopped
	loopAborted // unrecoverable storage failure
)

// runner drives the shared job state machine for one job family: slot-capped
// dispatch, cooperative pause/stop, persistence, history, and notifications.
// The family-specific page processing is supplied by the owning orchestrator.
type runner struct {
	family models.JobFamily
	store  store.Store
	hub    *Hub
	logger *zap.Logger
	loop   func(ctl *jobControl, job *models.Job) loopResult

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	controls map[string]*jobControl
	queue    []string
	running  int
	shutdown bool
	wg       sync.WaitGroup
}

func newRunner(family models.JobFamily, s store.Store, hub *Hub, logger *zap.Logger) *runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &runner{
		family:     family,
		store:      s,
		hub:        hub,
		logger:     logger,
		baseCtx:    ctx,
		baseCancel: cancel,
		controls:   make(map[string]*jobControl),
	}
}

// start persists a new pending job and queues it. The job id is returned
// immediately; processing begins asynchronously when a slot frees.
func (r *runner) start(job *models.Job) (string, error) {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return "", fmt.Errorf("orchestrator is shutting down")
	}
	r.mu.Unlock()

	job.Status = models.JobPending
	if err := r.store.CreateJob(context.Background(), r.family, job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	r.mu.Lock()
	r.controls[job.ID] = newJobControl(r.baseCtx, job.ID)
	r.queue = append(r.queue, job.ID)
	r.mu.Unlock()

	r.dispatch()
	return job.ID, nil
}

// dispatch starts queued jobs while slots are free. The slot cap is read from
// settings at dispatch time, so a settings change applies to future dispatches
// but never to jobs already running.
func (r *runner) dispatch() {
	maxConcurrent := r.intSetting(models.SettingMaxConcurrentSyncs, 3)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return
	}
	for r.running < maxConcurrent && len(r.queue) > 0 {
		id := r.queue[0]
		r.queue = r.queue[1:]
		ctl := r.controls[id]
		if ctl == nil {
			continue
		}
		ctl.dispatched = true
		r.running++
		r.wg.Add(1)
		go r.run(ctl)
	}
}

func (r *runner) run(ctl *jobControl) {
	defer func() {
		r.mu.Lock()
		r.running--
		delete(r.controls, ctl.id)
		r.mu.Unlock()
		r.wg.Done()
		r.dispatch()
	}()

	job, err := r.store.GetJob(context.Background(), r.family, ctl.id)
	if err != nil {
		if !errors.Is(err, store.ErrStoreClosed) {
			r.logger.Error("failed to load job", zap.String("job_id", ctl.id), zap.Error(err))
		}
		return
	}
	if job.Status.Terminal() {
		return
	}

	job.Status = models.JobRunning
	if err := r.persistJob(job); err != nil {
		return
	}
	r.appendHistory(job.ID, "", "", models.ActionSyncStart, "")
	r.hub.Publish(Event{Family: r.family, JobID: job.ID, Type: EventStarted})

	switch r.loop(ctl, job) {
	case loopCompleted:
		r.markCompleted(job)
	case loopPaused:
		r.markPaused(job)
	case loopStopped:
		r.markStopped(job)
	case loopAborted:
		r.markFailed(job)
	}
}

// pause sets the cooperative pause flag; a queued job is paused directly.
func (r *runner) pause(ctx context.Context, id string) error {
	r.mu.Lock()
	ctl := r.controls[id]
	if ctl != nil && !ctl.dispatched {
		// Still queued: no loop will observe the flag, pause it here.
		r.removeFromQueueLocked(id)
		delete(r.controls, id)
		r.mu.Unlock()
		job, err := r.store.GetJob(ctx, r.family, id)
		if err != nil {
			return err
		}
		job.Status = models.JobPaused
		if err := r.store.UpdateJob(ctx, r.family, job); err != nil {
			return err
		}
		r.appendHistory(id, "", "", models.ActionSyncPaused, "paused before first batch")
		r.hub.Publish(Event{Family: r.family, JobID: id, Type: EventPaused})
		return nil
	}
	r.mu.Unlock()

	if ctl != nil {
		ctl.pause.Store(true)
		return nil
	}
	job, err := r.store.GetJob(ctx, r.family, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("job %s is %s, not running", id, job.Status)
}

// resume re-enqueues a paused job; the loop continues from the persisted cursor.
func (r *runner) resume(ctx context.Context, id string) error {
	job, err := r.store.GetJob(ctx, r.family, id)
	if err != nil {
		return err
	}
	if job.Status != models.JobPaused {
		return fmt.Errorf("job %s is %s, not paused", id, job.Status)
	}
	job.Status = models.JobPending
	if err := r.store.UpdateJob(ctx, r.family, job); err != nil {
		return err
	}
	r.appendHistory(id, "", "", models.ActionSyncResumed, "")
	r.hub.Publish(Event{Family: r.family, JobID: id, Type: EventResumed})

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return fmt.Errorf("orchestrator is shutting down")
	}
	r.controls[id] = newJobControl(r.baseCtx, id)
	r.queue = append(r.queue, id)
	r.mu.Unlock()

	r.dispatch()
	return nil
}

// stop terminates a job. A running loop observes the cancellation at its next
// page boundary; queued and paused jobs are failed directly.
func (r *runner) stop(ctx context.Context, id string) error {
	r.mu.Lock()
	ctl := r.controls[id]
	if ctl != nil && ctl.dispatched {
		r.mu.Unlock()
		ctl.cancel()
		return nil
	}
	if ctl != nil {
		r.removeFromQueueLocked(id)
		delete(r.controls, id)
	}
	r.mu.Unlock()

	job, err := r.store.GetJob(ctx, r.family, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s already %s", id, job.Status)
	}
	r.markStopped(job)
	return nil
}

func (r *runner) removeFromQueueLocked(id string) {
	for i, queued := range r.queue {
		if queued == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return
		}
	}
}

// shutdownAndWait signals every control, refuses new work, and waits for loops
// to finish. The store must be closed only after this returns.
func (r *runner) shutdownAndWait(ctx context.Context) error {
	r.mu.Lock()
	r.shutdown = true
	r.queue = nil
	r.mu.Unlock()
	r.baseCancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// persistJob writes the job row, swallowing ErrStoreClosed: a bookkeeping write
// racing shutdown is expected and must not surface as a failure.
func (r *runner) persistJob(job *models.Job) error {
	err := r.store.UpdateJob(context.Background(), r.family, job)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrStoreClosed) {
		r.logger.Debug("job update skipped, store closed", zap.String("job_id", job.ID))
		return err
	}
	r.logger.Error("failed to persist job", zap.String("job_id", job.ID), zap.Error(err))
	return err
}

func (r *runner) appendHistory(jobID string, entityType models.EntityType, entityID, action, details string) {
	err := r.store.AppendHistory(context.Background(), r.family, &models.HistoryEntry{
		JobID:      jobID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Details:    details,
	})
	if err != nil && !errors.Is(err, store.ErrStoreClosed) {
		r.logger.Error("failed to append history", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (r *runner) markCompleted(job *models.Job) {
	now := time.Now().UTC()
	job.Status = models.JobCompleted
	job.CompletedAt = &now
	job.CurrentType = ""
	job.EstimatedCompletion = nil
	_ = r.persistJob(job)
	r.appendHistory(job.ID, "", "", models.ActionSyncComplete,
		fmt.Sprintf("processed %d of %d, %d errors", job.ProcessedCount, job.Total, job.ErrorCount))
	r.hub.Publish(Event{Family: r.family, JobID: job.ID, Type: EventCompleted,
		Processed: job.ProcessedCount, Total: job.Total})
	r.logger.Info("job completed",
		zap.String("family", string(r.family)),
		zap.String("job_id", job.ID),
		zap.Int("processed", job.ProcessedCount),
		zap.Int("errors", job.ErrorCount),
	)
}

func (r *runner) markPaused(job *models.Job) {
	job.Status = models.JobPaused
	_ = r.persistJob(job)
	r.appendHistory(job.ID, "", "", models.ActionSyncPaused, "")
	r.hub.Publish(Event{Family: r.family, JobID: job.ID, Type: EventPaused,
		Processed: job.ProcessedCount, Total: job.Total})
}

func (r *runner) markStopped(job *models.Job) {
	now := time.Now().UTC()
	job.Status = models.JobFailed
	job.LastError = "stopped by caller"
	job.CompletedAt = &now
	job.EstimatedCompletion = nil
	_ = r.persistJob(job)
	r.appendHistory(job.ID, "", "", models.ActionSyncError, "stopped by caller")
	r.hub.Publish(Event{Family: r.family, JobID: job.ID, Type: EventStopped})
}

func (r *runner) markFailed(job *models.Job) {
	now := time.Now().UTC()
	job.Status = models.JobFailed
	job.CompletedAt = &now
	job.EstimatedCompletion = nil
	_ = r.persistJob(job)
	r.appendHistory(job.ID, "", "", models.ActionSyncError, job.LastError)
	r.hub.Publish(Event{Family: r.family, JobID: job.ID, Type: EventError, Error: job.LastError})
}

func (r *runner) intSetting(key string, def int) int {
	setting, err := r.store.GetSetting(context.Background(), key)
	if err != nil {
		return def
	}
	var v int
	if _, err := fmt.Sscanf(setting.Value, "%d", &v); err != nil || v <= 0 {
		return def
	}
	return v
}

// updateEstimate refreshes the percent progress and estimated completion from
// the elapsed processing rate.
func updateEstimate(job *models.Job) {
	if job.Total > 0 {
		job.Progress = job.ProcessedCount * 100 / job.Total
		if job.Progress > 100 {
			job.Progress = 100
		}
	}
	if job.ProcessedCount > 0 && job.Total > job.ProcessedCount {
		elapsed := time.Since(job.StartedAt)
		remaining := time.Duration(float64(elapsed) / float64(job.ProcessedCount) * float64(job.Total-job.ProcessedCount))
		eta := time.Now().UTC().Add(remaining)
		job.EstimatedCompletion = &eta
	}
}
