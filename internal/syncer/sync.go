// Package syncer drives resumable background jobs mirroring remote entities into
// the cache and vectorizing cached entities.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/remote"
	"github.com/hyperjump/kagami/internal/store"
)

// typeHandler binds one entity type to its fetch and upsert functions. Adding a
// type is a single registration in newRegistry rather than editing a switch.
type typeHandler struct {
	fetch  func(ctx context.Context, opts remote.ListOptions) (*remote.Page, error)
	upsert func(ctx context.Context, record *models.EntityRecord) error
}

// SyncOptions tune one sync job.
type SyncOptions struct {
	// BatchSize overrides the sync_batch_size setting for this job.
	BatchSize int
	// UpdatedSince limits the sync to records modified after the cursor (RFC 3339).
	UpdatedSince string
	// Concurrency is this job's own entity-type fan-out; 1 processes types sequentially.
	Concurrency int
}

// SyncOrchestrator creates and drives sync jobs against the remote source.
type SyncOrchestrator struct {
	store    store.Store
	source   remote.Source
	logger   *zap.Logger
	registry map[models.EntityType]typeHandler
	runner   *runner
}

// NewSyncOrchestrator creates a sync orchestrator. All callers share the hub for
// lifecycle notifications.
func NewSyncOrchestrator(s store.Store, source remote.Source, hub *Hub, logger *zap.Logger) *SyncOrchestrator {
	o := &SyncOrchestrator{
		store:    s,
		source:   source,
		logger:   logger,
		registry: newRegistry(s, source),
	}
	o.runner = newRunner(models.FamilySync, s, hub, logger)
	o.runner.loop = o.syncLoop
	return o
}

func newRegistry(s store.Store, source remote.Source) map[models.EntityType]typeHandler {
	registry := make(map[models.EntityType]typeHandler, len(models.AllEntityTypes))
	for _, entityType := range models.AllEntityTypes {
		entityType := entityType
		registry[entityType] = typeHandler{
			fetch: func(ctx context.Context, opts remote.ListOptions) (*remote.Page, error) {
				return source.List(ctx, entityType, opts)
			},
			upsert: s.UpsertEntity,
		}
	}
	return registry
}

// StartSync creates a sync job for the given entity types (all types when empty)
// and returns its id immediately. The job runs asynchronously; when the running
// job count is at max_concurrent_syncs it stays pending until a slot frees.
// Unrecognized type names are accepted here and recorded as per-type errors
// during processing, never failing the whole job.
func (o *SyncOrchestrator) StartSync(ctx context.Context, entityTypes []string, opts SyncOptions) (string, error) {
	types := make([]models.EntityType, 0, len(entityTypes))
	for _, t := range entityTypes {
		types = append(types, models.EntityType(t))
	}
	if len(types) == 0 {
		types = append(types, models.AllEntityTypes...)
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = o.runner.intSetting(models.SettingSyncBatchSize, 100)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	job := &models.Job{
		ID:          xid.New().String(),
		EntityTypes: types,
		Config: map[string]interface{}{
			"batch_size":  batchSize,
			"concurrency": concurrency,
			"cursors":     map[string]interface{}{},
		},
	}
	if opts.UpdatedSince != "" {
		job.Config["updated_since"] = opts.UpdatedSince
	}

	id, err := o.runner.start(job)
	if err != nil {
		return "", err
	}
	o.logger.Info("sync job queued",
		zap.String("job_id", id),
		zap.Int("entity_types", len(types)),
		zap.Int("batch_size", batchSize),
	)
	return id, nil
}

// syncState is the per-run shared state; workers for different entity types
// mutate it under its mutex.
type syncState struct {
	mu      sync.Mutex
	job     *models.Job
	cursors map[string]interface{}
	paused  bool
	aborted bool
}

func (st *syncState) setCursor(entityType models.EntityType, page int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.cursors[string(entityType)] = page
}

const cursorDone = -1

func (st *syncState) typeDone(entityType models.EntityType) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return asInt(st.cursors[string(entityType)], 0) == cursorDone
}

func (st *syncState) startPage(entityType models.EntityType) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	if page := asInt(st.cursors[string(entityType)], 1); page > 0 {
		return page
	}
	return 1
}

// syncLoop processes every entity type of the job, fanning out up to the job's
// configured concurrency. Pause and stop are observed only between pages.
func (o *SyncOrchestrator) syncLoop(ctl *jobControl, job *models.Job) loopResult {
	cursors, _ := job.Config["cursors"].(map[string]interface{})
	if cursors == nil {
		cursors = map[string]interface{}{}
		job.Config["cursors"] = cursors
	}
	state := &syncState{job: job, cursors: cursors}

	batchSize := asInt(job.Config["batch_size"], 100)
	concurrency := asInt(job.Config["concurrency"], 1)
	if concurrency < 1 {
		concurrency = 1
	}
	updatedSince, _ := job.Config["updated_since"].(string)

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, entityType := range job.EntityTypes {
		if state.typeDone(entityType) {
			continue
		}
		handler, ok := o.registry[entityType]
		if !ok {
			o.recordTypeError(state, entityType, fmt.Sprintf("Unsupported entity type: %s", entityType))
			state.setCursor(entityType, cursorDone)
			continue
		}
		wg.Add(1)
		go func(entityType models.EntityType, handler typeHandler) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			o.syncType(ctl, state, entityType, handler, batchSize, updatedSince)
		}(entityType, handler)
	}
	wg.Wait()

	if ctl.stopped() {
		return loopStopped
	}
	state.mu.Lock()
	paused, aborted := state.paused, state.aborted
	state.mu.Unlock()
	if aborted {
		return loopAborted
	}
	if paused || ctl.pause.Load() {
		return loopPaused
	}
	return loopCompleted
}

// syncType paginates one entity type. A fetch failure is retried once; a second
// failure abandons this type's sub-loop only. Progress is persisted after every
// page, which is also the only point pause/stop are observed.
func (o *SyncOrchestrator) syncType(ctl *jobControl, state *syncState, entityType models.EntityType, handler typeHandler, batchSize int, updatedSince string) {
	fetchCtx := o.runner.baseCtx
	page := state.startPage(entityType)
	retried := false

	for {
		switch ctl.checkpoint() {
		case signalStop:
			return
		case signalPause:
			state.mu.Lock()
			state.paused = true
			state.cursors[string(entityType)] = page
			state.mu.Unlock()
			return
		}

		fetched, err := handler.fetch(fetchCtx, remote.ListOptions{
			Page:         page,
			PageSize:     batchSize,
			UpdatedSince: updatedSince,
		})
		if err != nil {
			if !retried {
				retried = true
				continue
			}
			o.recordTypeError(state, entityType, fmt.Sprintf("sync failed for %s: %v", entityType, err))
			state.setCursor(entityType, cursorDone)
			return
		}
		retried = false

		if page == 1 {
			state.mu.Lock()
			state.job.Total += fetched.Pagination.TotalRecords
			state.mu.Unlock()
		}

		for _, record := range fetched.Records {
			if err := handler.upsert(context.Background(), record); err != nil {
				if errors.Is(err, store.ErrStoreClosed) {
					return
				}
				state.mu.Lock()
				state.job.ErrorCount++
				state.job.LastError = err.Error()
				state.mu.Unlock()
				o.runner.appendHistory(state.job.ID, entityType, record.ID, models.ActionEntityError, err.Error())
			} else {
				state.mu.Lock()
				state.job.ProcessedCount++
				state.mu.Unlock()
				o.runner.appendHistory(state.job.ID, entityType, record.ID, models.ActionEntityProcessed, "")
			}
		}

		lastPage := page >= fetched.Pagination.TotalPages || len(fetched.Records) == 0
		state.mu.Lock()
		if lastPage {
			state.cursors[string(entityType)] = cursorDone
		} else {
			state.cursors[string(entityType)] = page + 1
		}
		state.job.CurrentType = entityType
		updateEstimate(state.job)
		err = o.runner.persistJob(state.job)
		if err != nil && !errors.Is(err, store.ErrStoreClosed) {
			state.aborted = true
		}
		processed, total := state.job.ProcessedCount, state.job.Total
		state.mu.Unlock()
		if err != nil {
			return
		}

		o.runner.hub.Publish(Event{
			Family:     models.FamilySync,
			JobID:      state.job.ID,
			Type:       EventProgress,
			EntityType: entityType,
			Processed:  processed,
			Total:      total,
		})

		if lastPage {
			return
		}
		page++
	}
}

func (o *SyncOrchestrator) recordTypeError(state *syncState, entityType models.EntityType, message string) {
	state.mu.Lock()
	state.job.ErrorCount++
	state.job.LastError = message
	state.mu.Unlock()
	o.runner.appendHistory(state.job.ID, entityType, "", models.ActionSyncError, message)
	o.logger.Warn("entity sync error", zap.String("job_id", state.job.ID), zap.String("error", message))
}

// PauseSync requests a cooperative pause, observed at the next page boundary.
func (o *SyncOrchestrator) PauseSync(ctx context.Context, jobID string) error {
	return o.runner.pause(ctx, jobID)
}

// ResumeSync re-enqueues a paused job from its persisted cursor.
func (o *SyncOrchestrator) ResumeSync(ctx context.Context, jobID string) error {
	return o.runner.resume(ctx, jobID)
}

// StopSync terminates a job with "stopped by caller". Not instantaneous: a
// running loop observes it at the next page boundary.
func (o *SyncOrchestrator) StopSync(ctx context.Context, jobID string) error {
	return o.runner.stop(ctx, jobID)
}

// GetSyncProgress returns the current job row.
func (o *SyncOrchestrator) GetSyncProgress(ctx context.Context, jobID string) (*models.Job, error) {
	return o.store.GetJob(ctx, models.FamilySync, jobID)
}

// GetSyncHistory returns the newest history rows for a job.
func (o *SyncOrchestrator) GetSyncHistory(ctx context.Context, jobID string, limit int) ([]*models.HistoryEntry, error) {
	return o.store.GetHistory(ctx, models.FamilySync, jobID, limit)
}

// GetActiveSyncs returns pending, running, and paused jobs.
func (o *SyncOrchestrator) GetActiveSyncs(ctx context.Context) ([]*models.Job, error) {
	return o.store.ListActiveJobs(ctx, models.FamilySync)
}

// CleanupOldSyncJobs reaps terminal jobs and their history older than maxAgeDays.
func (o *SyncOrchestrator) CleanupOldSyncJobs(ctx context.Context, maxAgeDays int) (int64, error) {
	return o.store.CleanupOldJobs(ctx, models.FamilySync, time.Duration(maxAgeDays)*24*time.Hour)
}

// HealthStatus returns the cache health snapshot.
func (o *SyncOrchestrator) HealthStatus(ctx context.Context) *models.HealthStatus {
	return o.store.HealthStatus(ctx)
}

// Shutdown signals every running job and waits for their loops to finish. The
// store must be closed only after Shutdown returns.
func (o *SyncOrchestrator) Shutdown(ctx context.Context) error {
	return o.runner.shutdownAndWait(ctx)
}

// asInt reads an int that may have round-tripped through JSON as float64.
func asInt(v interface{}, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}
