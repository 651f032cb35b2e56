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

// entityTables maps each entity type to its table. One table per type; the remote
// id is the primary key.
var entityTables = map[models.EntityType]string{
	models.EntityFeature:    "features",
	models.EntityProduct:    "products",
	models.EntityIdea:       "ideas",
	models.EntityEpic:       "epics",
	models.EntityInitiative: "initiatives",
	models.EntityRelease:    "releases",
	models.EntityGoal:       "goals",
	models.EntityUser:       "users",
	models.EntityComment:    "comments",
}

func entityTable(entityType models.EntityType) (string, error) {
	table, ok := entityTables[entityType]
	if !ok {
		return "", fmt.Errorf("Unsupported entity type: %s", entityType)
	}
	return table, nil
}

// UpsertEntity inserts or replaces an entity row keyed by its remote id.
// Records missing the id are rejected; missing optional fields are stored as NULL.
// Concurrent upserts of the same id are last-write-wins.
func (s *SQLiteStore) UpsertEntity(ctx context.Context, record *models.EntityRecord) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if record.ID == "" {
		return fmt.Errorf("entity record missing id")
	}
	table, err := entityTable(record.Type)
	if err != nil {
		return err
	}
	rawJSON, err := json.Marshal(record.Raw)
	if err != nil {
		return fmt.Errorf("failed to marshal raw payload: %w", err)
	}
	record.SyncedAt = time.Now().UTC()

	query := fmt.Sprintf(
		`INSERT OR REPLACE INTO %s (id, name, description, status, product_id, parent_id, raw, synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, table)
	_, err = db.ExecContext(ctx, query,
		record.ID, nullable(record.Name), nullable(record.Description), nullable(record.Status),
		nullable(record.ProductID), nullable(record.ParentID), string(rawJSON), record.SyncedAt,
	)
	return err
}

// GetEntity returns one cached entity, or ErrNotFound.
func (s *SQLiteStore) GetEntity(ctx context.Context, entityType models.EntityType, id string) (*models.EntityRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	table, err := entityTable(entityType)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		`SELECT id, name, description, status, product_id, parent_id, raw, synced_at
		 FROM %s WHERE id = ?`, table)
	record, err := scanEntity(db.QueryRowContext(ctx, query, id), entityType)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s %s: %w", entityType, id, ErrNotFound)
	}
	return record, err
}

// ListEntities returns cached entities matching the filter, most recently synced
// first. Filter fields are an exact-match conjunction.
func (s *SQLiteStore) ListEntities(ctx context.Context, entityType models.EntityType, filter EntityFilter, limit, offset int) ([]*models.EntityRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	table, err := entityTable(entityType)
	if err != nil {
		return nil, err
	}

	where := make([]string, 0, 3)
	args := make([]interface{}, 0, 5)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ProductID != "" {
		where = append(where, "product_id = ?")
		args = append(args, filter.ProductID)
	}
	if filter.ParentID != "" {
		where = append(where, "parent_id = ?")
		args = append(args, filter.ParentID)
	}

	query := fmt.Sprintf(
		`SELECT id, name, description, status, product_id, parent_id, raw, synced_at FROM %s`, table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY synced_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, query, args...)
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

// CountEntities returns the number of cached rows for one entity type.
func (s *SQLiteStore) CountEntities(ctx context.Context, entityType models.EntityType) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	table, err := entityTable(entityType)
	if err != nil {
		return 0, err
	}
	var count int64
	err = db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner, entityType models.EntityType) (*models.EntityRecord, error) {
	var record models.EntityRecord
	var name, description, status, productID, parentID, rawJSON sql.NullString
	if err := row.Scan(&record.ID, &name, &description, &status, &productID, &parentID, &rawJSON, &record.SyncedAt); err != nil {
		return nil, err
	}
	record.Type = entityType
	record.Name = name.String
	record.Description = description.String
	record.Status = status.String
	record.ProductID = productID.String
	record.ParentID = parentID.String
	if rawJSON.Valid && rawJSON.String != "" && rawJSON.String != "null" {
		if err := json.Unmarshal([]byte(rawJSON.String), &record.Raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal raw payload: %w", err)
		}
	}
	return &record, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
