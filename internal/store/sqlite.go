// Package store provides the SQLite implementation of the Store interface.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kagami/internal/models"
)

// SQLiteStore implements Store using SQLite. Writes are serialized by the driver;
// WAL mode keeps readers from blocking on writers.
type SQLiteStore struct {
	db   *sql.DB
	path string

	mu            sync.RWMutex
	closed        bool
	initialized   bool
	vectorEnabled bool
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the
// schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.Initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Initialize applies the additive schema DDL and seeds default settings.
// Idempotent: a no-op after the first success.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.initialized {
		return nil
	}
	if err := s.initSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	// Vector capability is decided exactly once, here. When the embeddings table
	// cannot be created the similarity index degrades to empty results.
	s.vectorEnabled = s.initEmbeddingsSchema(ctx) == nil
	if err := s.seedDefaultSettings(ctx); err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}
	s.initialized = true
	return nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	for _, table := range entityTables {
		ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			name TEXT,
			description TEXT,
			status TEXT,
			product_id TEXT,
			parent_id TEXT,
			raw TEXT,
			synced_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_synced_at ON %s(synced_at);
		`, table, table, table)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}

	for _, table := range []string{"sync_jobs", "embedding_jobs"} {
		ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			entity_types TEXT,
			current_type TEXT,
			progress INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL DEFAULT 0,
			processed_count INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			config TEXT,
			started_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			estimated_completion TIMESTAMP
		);
		`, table)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}

	for _, table := range []string{"sync_history", "embedding_history"} {
		ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			entity_type TEXT,
			entity_id TEXT,
			action TEXT NOT NULL,
			details TEXT,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_job_id ON %s(job_id);
		`, table, table, table)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}

	configDDL := `
	CREATE TABLE IF NOT EXISTS server_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		description TEXT,
		updated_at TIMESTAMP NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, configDDL)
	return err
}

func (s *SQLiteStore) initEmbeddingsSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS embeddings (
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		vector TEXT NOT NULL,
		text TEXT,
		model TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(entity_type, entity_id)
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_type ON embeddings(entity_type);
	`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// defaultSettings are seeded with INSERT OR IGNORE so operator overrides survive restarts.
var defaultSettings = []models.ServerSetting{
	{Key: models.SettingSyncInterval, Value: "60", Description: "Minutes between scheduled background syncs"},
	{Key: models.SettingMaxConcurrentSyncs, Value: "3", Description: "Maximum jobs running at once; extra starts queue as pending"},
	{Key: models.SettingSyncBatchSize, Value: "100", Description: "Records fetched per page from the remote source"},
	{Key: models.SettingCacheTTL, Value: "24", Description: "Hours before cached rows count as stale for hybrid reads"},
	{Key: models.SettingSearchMaxResults, Value: "50", Description: "Cap on similarity search results"},
}

func (s *SQLiteStore) seedDefaultSettings(ctx context.Context) error {
	now := time.Now().UTC()
	for _, setting := range defaultSettings {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO server_config (key, value, description, updated_at) VALUES (?, ?, ?, ?)`,
			setting.Key, setting.Value, setting.Description, now,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// conn returns the handle, or ErrStoreClosed after Close.
func (s *SQLiteStore) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.db, nil
}

// VectorEnabled reports whether the embeddings table is usable.
func (s *SQLiteStore) VectorEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectorEnabled && !s.closed
}

// GetSetting returns one server_config row.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (*models.ServerSetting, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var setting models.ServerSetting
	var description sql.NullString
	err = db.QueryRowContext(ctx,
		`SELECT key, value, description, updated_at FROM server_config WHERE key = ?`, key,
	).Scan(&setting.Key, &setting.Value, &description, &setting.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	setting.Description = description.String
	return &setting, nil
}

// ListSettings returns all server_config rows ordered by key.
func (s *SQLiteStore) ListSettings(ctx context.Context) ([]*models.ServerSetting, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT key, value, description, updated_at FROM server_config ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []*models.ServerSetting
	for rows.Next() {
		var setting models.ServerSetting
		var description sql.NullString
		if err := rows.Scan(&setting.Key, &setting.Value, &description, &setting.UpdatedAt); err != nil {
			return nil, err
		}
		setting.Description = description.String
		settings = append(settings, &setting)
	}
	return settings, rows.Err()
}

// SetSetting inserts or updates a server_config row, keeping any existing description.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO server_config (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	return err
}

// IntSetting reads a setting and parses it as an int, falling back to def when
// the row is missing or malformed.
func (s *SQLiteStore) IntSetting(ctx context.Context, key string, def int) int {
	setting, err := s.GetSetting(ctx, key)
	if err != nil {
		return def
	}
	var v int
	if _, err := fmt.Sscanf(setting.Value, "%d", &v); err != nil || v <= 0 {
		return def
	}
	return v
}

// HealthStatus returns a liveness snapshot. It never returns an error; when the
// store is closed or a query fails, Connected is false and Error describes why.
func (s *SQLiteStore) HealthStatus(ctx context.Context) *models.HealthStatus {
	status := &models.HealthStatus{}
	db, err := s.conn()
	if err != nil {
		status.Error = err.Error()
		return status
	}
	if err := db.PingContext(ctx); err != nil {
		status.Error = err.Error()
		return status
	}
	status.Connected = true

	if info, err := os.Stat(s.path); err == nil {
		status.StorageBytes = info.Size()
	}
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'`).Scan(&status.TableCount); err != nil {
		status.Error = err.Error()
	}
	var syncJobs, embeddingJobs int
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_jobs`).Scan(&syncJobs)
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_jobs`).Scan(&embeddingJobs)
	status.JobCount = syncJobs + embeddingJobs

	var last sql.NullTime
	_ = db.QueryRowContext(ctx,
		`SELECT MAX(updated_at) FROM (
			SELECT updated_at FROM sync_jobs UNION ALL SELECT updated_at FROM embedding_jobs
		)`).Scan(&last)
	if last.Valid {
		status.LastActivity = last.Time
	}
	return status
}

// Close releases the database handle. Subsequent operations return ErrStoreClosed.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
