package models

import "time"

// JobFamily distinguishes the two job tables sharing one lifecycle.
type JobFamily string

const (
	FamilySync      JobFamily = "sync"
	FamilyEmbedding JobFamily = "embedding"
)

// JobStatus is the lifecycle state of a sync or embedding job. Transitions only
// move forward (pending → running → completed/failed) except running ↔ paused.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is one resumable unit of background work: a sync job mirroring entity types
// from the remote source, or an embedding job vectorizing cached entities.
// Rows are created and mutated only by the owning orchestrator.
type Job struct {
	ID                  string                 `json:"id"`
	Status              JobStatus              `json:"status"`
	EntityTypes         []EntityType           `json:"entity_types"`
	CurrentType         EntityType             `json:"current_type,omitempty"`
	Progress            int                    `json:"progress"`
	Total               int                    `json:"total"`
	ProcessedCount      int                    `json:"processed_count"`
	ErrorCount          int                    `json:"error_count"`
	LastError           string                 `json:"last_error,omitempty"`
	Config              map[string]interface{} `json:"config,omitempty"`
	StartedAt           time.Time              `json:"started_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
	CompletedAt         *time.Time             `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time             `json:"estimated_completion,omitempty"`
}

// History action tags. Rows are append-only.
const (
	ActionSyncStart       = "sync_start"
	ActionEntityProcessed = "entity_processed"
	ActionEntityError     = "entity_error"
	ActionSyncPaused      = "sync_paused"
	ActionSyncResumed     = "sync_resumed"
	ActionSyncComplete    = "sync_complete"
	ActionSyncError       = "sync_error"
)

// HistoryEntry is one append-only audit row for a job.
type HistoryEntry struct {
	ID         int64      `json:"id"`
	JobID      string     `json:"job_id"`
	EntityType EntityType `json:"entity_type,omitempty"`
	EntityID   string     `json:"entity_id,omitempty"`
	Action     string     `json:"action"`
	Details    string     `json:"details,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
