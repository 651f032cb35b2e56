package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/kagami/internal/models"
)

// UpsertEmbedding inserts or replaces the vector for an (entity type, entity id) pair.
// The vector is stored as a JSON-encoded float32 array; its length defines the
// record's dimensionality.
func (s *SQLiteStore) UpsertEmbedding(ctx context.Context, record *models.EmbeddingRecord) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if !s.VectorEnabled() {
		return fmt.Errorf("vector support is disabled")
	}
	if record.EntityID == "" {
		return fmt.Errorf("embedding record missing entity id")
	}
	vectorJSON, err := json.Marshal(record.Vector)
	if err != nil {
		return fmt.Errorf("failed to marshal vector: %w", err)
	}
	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	now := time.Now().UTC()
	record.Dimensions = len(record.Vector)
	record.UpdatedAt = now

	_, err = db.ExecContext(ctx,
		`INSERT INTO embeddings (entity_type, entity_id, vector, text, model, dimensions, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			 vector = excluded.vector, text = excluded.text, model = excluded.model,
			 dimensions = excluded.dimensions, metadata = excluded.metadata, updated_at = excluded.updated_at`,
		record.EntityType, record.EntityID, string(vectorJSON), nullable(record.Text),
		record.Model, record.Dimensions, string(metadataJSON), now, now,
	)
	return err
}

// GetEmbedding returns the stored vector for one entity, or ErrNotFound.
func (s *SQLiteStore) GetEmbedding(ctx context.Context, entityType models.EntityType, entityID string) (*models.EmbeddingRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	record, err := scanEmbedding(db.QueryRowContext(ctx,
		`SELECT entity_type, entity_id, vector, text, model, dimensions, metadata, created_at, updated_at
		 FROM embeddings WHERE entity_type = ? AND entity_id = ?`, entityType, entityID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("embedding %s/%s: %w", entityType, entityID, ErrNotFound)
	}
	return record, err
}

// DeleteEmbedding removes the vector for one entity.
func (s *SQLiteStore) DeleteEmbedding(ctx context.Context, entityType models.EntityType, entityID string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE entity_type = ? AND entity_id = ?`, entityType, entityID)
	return err
}

// ListEmbeddings returns stored vectors, optionally restricted to the given entity
// types, most recently updated first.
func (s *SQLiteStore) ListEmbeddings(ctx context.Context, entityTypes []models.EntityType) ([]*models.EmbeddingRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	query := `SELECT entity_type, entity_id, vector, text, model, dimensions, metadata, created_at, updated_at
		 FROM embeddings`
	var args []interface{}
	if len(entityTypes) > 0 {
		placeholders := make([]string, len(entityTypes))
		for i, t := range entityTypes {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += " WHERE entity_type IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY updated_at DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.EmbeddingRecord
	for rows.Next() {
		record, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// ListEntitiesMissingEmbedding returns up to limit cached entities of one type that
// have no stored vector for the given model. This is the page unit for embedding jobs.
func (s *SQLiteStore) ListEntitiesMissingEmbedding(ctx context.Context, entityType models.EntityType, model string, limit int) ([]*models.EntityRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	table, err := entityTable(entityType)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		`SELECT e.id, e.name, e.description, e.status, e.product_id, e.parent_id, e.raw, e.synced_at
		 FROM %s e
		 LEFT JOIN embeddings em ON em.entity_type = ? AND em.entity_id = e.id AND em.model = ?
		 WHERE em.entity_id IS NULL
		 ORDER BY e.synced_at DESC LIMIT ?`, table)
	rows, err := db.QueryContext(ctx, query, entityType, model, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.EntityRecord
	for rows.Next() {
		record, err := scanEntity(rows, entityType)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// CountEntitiesMissingEmbedding returns how many cached entities of one type have
// no stored vector for the given model.
func (s *SQLiteStore) CountEntitiesMissingEmbedding(ctx context.Context, entityType models.EntityType, model string) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	table, err := entityTable(entityType)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM %s e
		 LEFT JOIN embeddings em ON em.entity_type = ? AND em.entity_id = e.id AND em.model = ?
		 WHERE em.entity_id IS NULL`, table)
	var count int
	err = db.QueryRowContext(ctx, query, entityType, model).Scan(&count)
	return count, err
}

func scanEmbedding(row rowScanner) (*models.EmbeddingRecord, error) {
	var record models.EmbeddingRecord
	var vectorJSON string
	var text, metadataJSON sql.NullString
	err := row.Scan(&record.EntityType, &record.EntityID, &vectorJSON, &text,
		&record.Model, &record.Dimensions, &metadataJSON, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}
	record.Text = text.String
	if err := json.Unmarshal([]byte(vectorJSON), &record.Vector); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vector: %w", err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &record.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &record, nil
}
