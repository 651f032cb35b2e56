// Package store defines the persistence interface for cached entities, jobs, and embeddings.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/kagami/internal/models"
)

// ErrStoreClosed is returned by every operation after Close. Orchestrators doing
// best-effort bookkeeping during shutdown check it with errors.Is and suppress it;
// all other errors propagate.
var ErrStoreClosed = errors.New("store is closed")

// ErrNotFound is returned when an entity, job, or setting does not exist.
var ErrNotFound = errors.New("not found")

// EntityFilter is an exact-match conjunction over denormalized entity columns.
type EntityFilter struct {
	Status    string
	ProductID string
	ParentID  string
}

// Store defines persistence for entity mirrors, job state, history, embeddings,
// and server settings.
type Store interface {
	// Entity operations
	UpsertEntity(ctx context.Context, record *models.EntityRecord) error
	GetEntity(ctx context.Context, entityType models.EntityType, id string) (*models.EntityRecord, error)
	ListEntities(ctx context.Context, entityType models.EntityType, filter EntityFilter, limit, offset int) ([]*models.EntityRecord, error)
	CountEntities(ctx context.Context, entityType models.EntityType) (int64, error)

	// Job operations; the owning orchestrator is the only mutator.
	CreateJob(ctx context.Context, family models.JobFamily, job *models.Job) error
	GetJob(ctx context.Context, family models.JobFamily, id string) (*models.Job, error)
	UpdateJob(ctx context.Context, family models.JobFamily, job *models.Job) error
	ListActiveJobs(ctx context.Context, family models.JobFamily) ([]*models.Job, error)
	CleanupOldJobs(ctx context.Context, family models.JobFamily, maxAge time.Duration) (int64, error)

	// History operations; append-only.
	AppendHistory(ctx context.Context, family models.JobFamily, entry *models.HistoryEntry) error
	GetHistory(ctx context.Context, family models.JobFamily, jobID string, limit int) ([]*models.HistoryEntry, error)

	// Embedding operations
	UpsertEmbedding(ctx context.Context, record *models.EmbeddingRecord) error
	GetEmbedding(ctx context.Context, entityType models.EntityType, entityID string) (*models.EmbeddingRecord, error)
	DeleteEmbedding(ctx context.Context, entityType models.EntityType, entityID string) error
	ListEmbeddings(ctx context.Context, entityTypes []models.EntityType) ([]*models.EmbeddingRecord, error)
	ListEntitiesMissingEmbedding(ctx context.Context, entityType models.EntityType, model string, limit int) ([]*models.EntityRecord, error)
	CountEntitiesMissingEmbedding(ctx context.Context, entityType models.EntityType, model string) (int, error)

	// Settings
	GetSetting(ctx context.Context, key string) (*models.ServerSetting, error)
	ListSettings(ctx context.Context) ([]*models.ServerSetting, error)
	SetSetting(ctx context.Context, key, value string) error

	// VectorEnabled reports whether the embeddings table is usable. Resolved once
	// at initialization; when false the similarity index returns empty results.
	VectorEnabled() bool

	// HealthStatus never returns an error; failures yield a degraded snapshot.
	HealthStatus(ctx context.Context) *models.HealthStatus

	Close() error
}
