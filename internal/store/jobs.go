package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperjump/kagami/internal/models"
)

func jobTable(family models.JobFamily) string {
	if family == models.FamilyEmbedding {
		return "embedding_jobs"
	}
	return "sync_jobs"
}

func historyTable(family models.JobFamily) string {
	if family == models.FamilyEmbedding {
		return "embedding_history"
	}
	return "sync_history"
}

// CreateJob inserts a new job row.
func (s *SQLiteStore) CreateJob(ctx context.Context, family models.JobFamily, job *models.Job) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	typesJSON, err := json.Marshal(job.EntityTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal entity types: %w", err)
	}
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal job config: %w", err)
	}
	now := time.Now().UTC()
	if job.StartedAt.IsZero() {
		job.StartedAt = now
	}
	job.UpdatedAt = now

	query := fmt.Sprintf(
		`INSERT INTO %s (id, status, entity_types, current_type, progress, total, processed_count,
		 error_count, last_error, config, started_at, updated_at, completed_at, estimated_completion)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, jobTable(family))
	_, err = db.ExecContext(ctx, query,
		job.ID, job.Status, string(typesJSON), nullable(string(job.CurrentType)),
		job.Progress, job.Total, job.ProcessedCount, job.ErrorCount,
		nullable(job.LastError), string(configJSON),
		job.StartedAt, job.UpdatedAt, job.CompletedAt, job.EstimatedCompletion,
	)
	return err
}

// GetJob returns one job, or ErrNotFound.
func (s *SQLiteStore) GetJob(ctx context.Context, family models.JobFamily, id string) (*models.Job, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		`SELECT id, status, entity_types, current_type, progress, total, processed_count,
		 error_count, last_error, config, started_at, updated_at, completed_at, estimated_completion
		 FROM %s WHERE id = ?`, jobTable(family))
	job, err := scanJob(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, err
}

// UpdateJob persists the full job row. The owning orchestrator is the only caller.
func (s *SQLiteStore) UpdateJob(ctx context.Context, family models.JobFamily, job *models.Job) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal job config: %w", err)
	}
	job.UpdatedAt = time.Now().UTC()

	query := fmt.Sprintf(
		`UPDATE %s SET status = ?, current_type = ?, progress = ?, total = ?, processed_count = ?,
		 error_count = ?, last_error = ?, config = ?, updated_at = ?, completed_at = ?, estimated_completion = ?
		 WHERE id = ?`, jobTable(family))
	result, err := db.ExecContext(ctx, query,
		job.Status, nullable(string(job.CurrentType)), job.Progress, job.Total, job.ProcessedCount,
		job.ErrorCount, nullable(job.LastError), string(configJSON),
		job.UpdatedAt, job.CompletedAt, job.EstimatedCompletion, job.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

// ListActiveJobs returns jobs in a non-terminal status, oldest first.
func (s *SQLiteStore) ListActiveJobs(ctx context.Context, family models.JobFamily) ([]*models.Job, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		`SELECT id, status, entity_types, current_type, progress, total, processed_count,
		 error_count, last_error, config, started_at, updated_at, completed_at, estimated_completion
		 FROM %s WHERE status IN (?, ?, ?) ORDER BY started_at`, jobTable(family))
	rows, err := db.QueryContext(ctx, query, models.JobPending, models.JobRunning, models.JobPaused)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CleanupOldJobs reaps terminal jobs (and all history rows) older than maxAge.
// Returns the number of job rows removed.
func (s *SQLiteStore) CleanupOldJobs(ctx context.Context, family models.JobFamily, maxAge time.Duration) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-maxAge)

	historyQuery := fmt.Sprintf(
		`DELETE FROM %s WHERE job_id IN (
			SELECT id FROM %s WHERE status IN (?, ?) AND updated_at < ?
		)`, historyTable(family), jobTable(family))
	if _, err := db.ExecContext(ctx, historyQuery, models.JobCompleted, models.JobFailed, cutoff); err != nil {
		return 0, err
	}

	jobQuery := fmt.Sprintf(
		`DELETE FROM %s WHERE status IN (?, ?) AND updated_at < ?`, jobTable(family))
	result, err := db.ExecContext(ctx, jobQuery, models.JobCompleted, models.JobFailed, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// AppendHistory writes one append-only audit row.
func (s *SQLiteStore) AppendHistory(ctx context.Context, family models.JobFamily, entry *models.HistoryEntry) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	entry.CreatedAt = time.Now().UTC()
	query := fmt.Sprintf(
		`INSERT INTO %s (job_id, entity_type, entity_id, action, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`, historyTable(family))
	_, err = db.ExecContext(ctx, query,
		entry.JobID, nullable(string(entry.EntityType)), nullable(entry.EntityID),
		entry.Action, nullable(entry.Details), entry.CreatedAt,
	)
	return err
}

// GetHistory returns the most recent history rows for a job, newest first.
func (s *SQLiteStore) GetHistory(ctx context.Context, family models.JobFamily, jobID string, limit int) ([]*models.HistoryEntry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(
		`SELECT id, job_id, entity_type, entity_id, action, details, created_at
		 FROM %s WHERE job_id = ? ORDER BY id DESC LIMIT ?`, historyTable(family))
	rows, err := db.QueryContext(ctx, query, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		var entry models.HistoryEntry
		var entityType, entityID, details sql.NullString
		if err := rows.Scan(&entry.ID, &entry.JobID, &entityType, &entityID, &entry.Action, &details, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.EntityType = models.EntityType(entityType.String)
		entry.EntityID = entityID.String
		entry.Details = details.String
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var typesJSON, currentType, lastError, configJSON sql.NullString
	var completedAt, estimatedCompletion sql.NullTime
	err := row.Scan(&job.ID, &job.Status, &typesJSON, &currentType, &job.Progress, &job.Total,
		&job.ProcessedCount, &job.ErrorCount, &lastError, &configJSON,
		&job.StartedAt, &job.UpdatedAt, &completedAt, &estimatedCompletion)
	if err != nil {
		return nil, err
	}
	job.CurrentType = models.EntityType(currentType.String)
	job.LastError = lastError.String
	if typesJSON.Valid && typesJSON.String != "" {
		if err := json.Unmarshal([]byte(typesJSON.String), &job.EntityTypes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity types: %w", err)
		}
	}
	if configJSON.Valid && configJSON.String != "" && configJSON.String != "null" {
		if err := json.Unmarshal([]byte(configJSON.String), &job.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job config: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if estimatedCompletion.Valid {
		t := estimatedCompletion.Time
		job.EstimatedCompletion = &t
	}
	return &job, nil
}
