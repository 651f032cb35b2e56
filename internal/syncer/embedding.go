package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/store"
	"github.com/hyperjump/kagami/internal/vector"
)

// EmbeddingOptions tune one embedding job.
type EmbeddingOptions struct {
	// BatchSize overrides the sync_batch_size setting for this job.
	BatchSize int
}

// EmbeddingOrchestrator drives embedding jobs: the same lifecycle as sync jobs,
// but the page unit is a batch of cached entities lacking a vector for the
// provider's model, and results are written through the similarity index.
type EmbeddingOrchestrator struct {
	store    store.Store
	index    *vector.Index
	provider embedding.Provider
	logger   *zap.Logger
	runner   *runner
}

// NewEmbeddingOrchestrator creates an embedding orchestrator sharing the hub
// with the sync orchestrator.
func NewEmbeddingOrchestrator(s store.Store, index *vector.Index, provider embedding.Provider, hub *Hub, logger *zap.Logger) *EmbeddingOrchestrator {
	o := &EmbeddingOrchestrator{
		store:    s,
		index:    index,
		provider: provider,
		logger:   logger,
	}
	o.runner = newRunner(models.FamilyEmbedding, s, hub, logger)
	o.runner.loop = o.embedLoop
	return o
}

// StartEmbedding creates an embedding job for the given entity types (all types
// when empty) and returns its id immediately.
func (o *EmbeddingOrchestrator) StartEmbedding(ctx context.Context, entityTypes []string, opts EmbeddingOptions) (string, error) {
	if !o.store.VectorEnabled() {
		return "", fmt.Errorf("vector support is disabled")
	}
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

	job := &models.Job{
		ID:          xid.New().String(),
		EntityTypes: types,
		Config: map[string]interface{}{
			"batch_size": batchSize,
			"model":      o.provider.Model(),
		},
	}
	id, err := o.runner.start(job)
	if err != nil {
		return "", err
	}
	o.logger.Info("embedding job queued", zap.String("job_id", id), zap.String("model", o.provider.Model()))
	return id, nil
}

// embedLoop walks each entity type, embedding batches of entities that lack a
// vector for the model. A provider failure is batch-scoped: the failed batch is
// skipped and the loop continues, so one bad batch never fails the job.
func (o *EmbeddingOrchestrator) embedLoop(ctl *jobControl, job *models.Job) loopResult {
	embedCtx := o.runner.baseCtx
	ctx := context.Background()
	batchSize := asInt(job.Config["batch_size"], 100)
	model, _ := job.Config["model"].(string)
	if model == "" {
		model = o.provider.Model()
	}

	// Total is recomputed each run: resumed jobs only count remaining work once.
	if job.Total == 0 {
		for _, entityType := range job.EntityTypes {
			if !entityType.Valid() {
				continue
			}
			missing, err := o.store.CountEntitiesMissingEmbedding(ctx, entityType, model)
			if err == nil {
				job.Total += missing
			}
		}
		job.Total += job.ProcessedCount
	}

	for _, entityType := range job.EntityTypes {
		if !entityType.Valid() {
			o.recordTypeError(job, entityType, fmt.Sprintf("Unsupported entity type: %s", entityType))
			continue
		}
		// skipped holds ids whose provider batch or index write failed; they
		// are excluded from later fetches so the loop always advances.
		skipped := make(map[string]bool)

		for {
			switch ctl.checkpoint() {
			case signalStop:
				return loopStopped
			case signalPause:
				return loopPaused
			}

			fetchLimit := batchSize + len(skipped)
			candidates, err := o.store.ListEntitiesMissingEmbedding(ctx, entityType, model, fetchLimit)
			if err != nil {
				if errors.Is(err, store.ErrStoreClosed) {
					return loopStopped
				}
				job.LastError = err.Error()
				return loopAborted
			}
			batch := make([]*models.EntityRecord, 0, batchSize)
			for _, record := range candidates {
				if skipped[record.ID] {
					continue
				}
				batch = append(batch, record)
				if len(batch) == batchSize {
					break
				}
			}
			if len(batch) == 0 {
				break
			}

			texts := make([]string, len(batch))
			for i, record := range batch {
				texts[i] = record.SearchText()
			}
			vectors, err := o.provider.EmbedBatch(embedCtx, texts)
			if err != nil {
				job.ErrorCount++
				job.LastError = fmt.Sprintf("embedding failed for %s: %v", entityType, err)
				o.runner.appendHistory(job.ID, entityType, "", models.ActionSyncError, job.LastError)
				for _, record := range batch {
					skipped[record.ID] = true
				}
				continue
			}

			for i, record := range batch {
				err := o.index.Upsert(ctx, entityType, record.ID, vectors[i], texts[i], model, nil)
				if err != nil {
					if errors.Is(err, store.ErrStoreClosed) {
						return loopStopped
					}
					job.ErrorCount++
					job.LastError = err.Error()
					o.runner.appendHistory(job.ID, entityType, record.ID, models.ActionEntityError, err.Error())
					// Exclude the record from later fetches; without this a
					// persistent write failure would retry it forever.
					skipped[record.ID] = true
					continue
				}
				job.ProcessedCount++
				o.runner.appendHistory(job.ID, entityType, record.ID, models.ActionEntityProcessed, "")
			}

			job.CurrentType = entityType
			updateEstimate(job)
			if err := o.runner.persistJob(job); err != nil {
				if errors.Is(err, store.ErrStoreClosed) {
					return loopStopped
				}
				return loopAborted
			}
			o.runner.hub.Publish(Event{
				Family:     models.FamilyEmbedding,
				JobID:      job.ID,
				Type:       EventProgress,
				EntityType: entityType,
				Processed:  job.ProcessedCount,
				Total:      job.Total,
			})
		}
	}
	return loopCompleted
}

func (o *EmbeddingOrchestrator) recordTypeError(job *models.Job, entityType models.EntityType, message string) {
	job.ErrorCount++
	job.LastError = message
	o.runner.appendHistory(job.ID, entityType, "", models.ActionSyncError, message)
	o.logger.Warn("embedding job error", zap.String("job_id", job.ID), zap.String("error", message))
}

// PauseEmbedding requests a cooperative pause, observed at the next batch boundary.
func (o *EmbeddingOrchestrator) PauseEmbedding(ctx context.Context, jobID string) error {
	return o.runner.pause(ctx, jobID)
}

// ResumeEmbedding re-enqueues a paused job; remaining work is whatever still
// lacks a vector, so no cursor is needed.
func (o *EmbeddingOrchestrator) ResumeEmbedding(ctx context.Context, jobID string) error {
	return o.runner.resume(ctx, jobID)
}

// StopEmbedding terminates a job with "stopped by caller".
func (o *EmbeddingOrchestrator) StopEmbedding(ctx context.Context, jobID string) error {
	return o.runner.stop(ctx, jobID)
}

// GetEmbeddingProgress returns the current job row.
func (o *EmbeddingOrchestrator) GetEmbeddingProgress(ctx context.Context, jobID string) (*models.Job, error) {
	return o.store.GetJob(ctx, models.FamilyEmbedding, jobID)
}

// GetEmbeddingHistory returns the newest history rows for a job.
func (o *EmbeddingOrchestrator) GetEmbeddingHistory(ctx context.Context, jobID string, limit int) ([]*models.HistoryEntry, error) {
	return o.store.GetHistory(ctx, models.FamilyEmbedding, jobID, limit)
}

// GetActiveEmbeddings returns pending, running, and paused jobs.
func (o *EmbeddingOrchestrator) GetActiveEmbeddings(ctx context.Context) ([]*models.Job, error) {
	return o.store.ListActiveJobs(ctx, models.FamilyEmbedding)
}

// CleanupOldEmbeddingJobs reaps terminal jobs and their history older than maxAgeDays.
func (o *EmbeddingOrchestrator) CleanupOldEmbeddingJobs(ctx context.Context, maxAgeDays int) (int64, error) {
	return o.store.CleanupOldJobs(ctx, models.FamilyEmbedding, time.Duration(maxAgeDays)*24*time.Hour)
}

// Shutdown signals every running job and waits for their loops to finish.
func (o *EmbeddingOrchestrator) Shutdown(ctx context.Context) error {
	return o.runner.shutdownAndWait(ctx)
}
