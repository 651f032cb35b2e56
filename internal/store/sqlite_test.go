package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kagami/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_UpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := &models.EntityRecord{
		ID:     "FEAT-1",
		Type:   models.EntityFeature,
		Name:   "Dark mode",
		Status: "in_progress",
		Raw:    map[string]interface{}{"id": "FEAT-1", "name": "Dark mode"},
	}
	if err := s.UpsertEntity(ctx, record); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertEntity(ctx, record); err != nil {
		t.Fatal(err)
	}

	count, err := s.CountEntities(ctx, models.EntityFeature)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 row after double upsert, got %d", count)
	}
	got, err := s.GetEntity(ctx, models.EntityFeature, "FEAT-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "FEAT-1" || got.Name != "Dark mode" {
		t.Errorf("got %+v", got)
	}
	if got.SyncedAt.IsZero() {
		t.Error("synced_at should be set")
	}
}

func TestSQLiteStore_UpsertRejectsMissingID(t *testing.T) {
	s := newTestStore(t)
	err := s.UpsertEntity(context.Background(), &models.EntityRecord{Type: models.EntityIdea, Name: "no id"})
	if err == nil {
		t.Fatal("expected error for record without id")
	}
}

func TestSQLiteStore_UpsertPartialRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertEntity(ctx, &models.EntityRecord{ID: "IDEA-1", Type: models.EntityIdea}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetEntity(ctx, models.EntityIdea, "IDEA-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "" || got.Status != "" {
		t.Errorf("optional fields should round-trip empty, got %+v", got)
	}
}

func TestSQLiteStore_ListEntitiesFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, r := range []*models.EntityRecord{
		{ID: "F1", Type: models.EntityFeature, Status: "shipped", ProductID: "P1"},
		{ID: "F2", Type: models.EntityFeature, Status: "planned", ProductID: "P1"},
		{ID: "F3", Type: models.EntityFeature, Status: "shipped", ProductID: "P2"},
	} {
		if err := s.UpsertEntity(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	records, err := s.ListEntities(ctx, models.EntityFeature, EntityFilter{Status: "shipped", ProductID: "P1"}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ID != "F1" {
		t.Errorf("expected only F1, got %+v", records)
	}

	all, err := s.ListEntities(ctx, models.EntityFeature, EntityFilter{}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 rows, got %d", len(all))
	}
}

func TestSQLiteStore_UnsupportedEntityType(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ListEntities(context.Background(), models.EntityType("bogus_type"), EntityFilter{}, 10, 0)
	if err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestSQLiteStore_InitializeIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertEntity(ctx, &models.EntityRecord{ID: "P1", Type: models.EntityProduct}); err != nil {
		t.Fatal(err)
	}
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	count, err := s.CountEntities(ctx, models.EntityProduct)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("re-initialize must not drop data, got %d rows", count)
	}
}

func TestSQLiteStore_Settings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	setting, err := s.GetSetting(ctx, models.SettingMaxConcurrentSyncs)
	if err != nil {
		t.Fatal(err)
	}
	if setting.Value != "3" {
		t.Errorf("default max_concurrent_syncs = %s, want 3", setting.Value)
	}

	if err := s.SetSetting(ctx, models.SettingMaxConcurrentSyncs, "5"); err != nil {
		t.Fatal(err)
	}
	if got := s.IntSetting(ctx, models.SettingMaxConcurrentSyncs, 1); got != 5 {
		t.Errorf("IntSetting = %d, want 5", got)
	}
	if got := s.IntSetting(ctx, "missing_key", 7); got != 7 {
		t.Errorf("missing setting should fall back to default, got %d", got)
	}

	settings, err := s.ListSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(settings) != len(defaultSettings) {
		t.Errorf("expected %d settings, got %d", len(defaultSettings), len(settings))
	}
}

func TestSQLiteStore_JobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &models.Job{
		ID:          "job-1",
		Status:      models.JobPending,
		EntityTypes: []models.EntityType{models.EntityFeature, models.EntityIdea},
		Config:      map[string]interface{}{"batch_size": 50},
	}
	if err := s.CreateJob(ctx, models.FamilySync, job); err != nil {
		t.Fatal(err)
	}

	job.Status = models.JobRunning
	job.ProcessedCount = 10
	job.Total = 40
	if err := s.UpdateJob(ctx, models.FamilySync, job); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetJob(ctx, models.FamilySync, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobRunning || got.ProcessedCount != 10 || got.Total != 40 {
		t.Errorf("got %+v", got)
	}
	if len(got.EntityTypes) != 2 {
		t.Errorf("entity types lost: %+v", got.EntityTypes)
	}
	if got.Config["batch_size"].(float64) != 50 {
		t.Errorf("config lost: %+v", got.Config)
	}

	active, err := s.ListActiveJobs(ctx, models.FamilySync)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Errorf("expected 1 active job, got %d", len(active))
	}

	now := time.Now().UTC()
	job.Status = models.JobCompleted
	job.CompletedAt = &now
	if err := s.UpdateJob(ctx, models.FamilySync, job); err != nil {
		t.Fatal(err)
	}
	active, _ = s.ListActiveJobs(ctx, models.FamilySync)
	if len(active) != 0 {
		t.Errorf("completed job still listed active")
	}

	if _, err := s.GetJob(ctx, models.FamilySync, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	// Families are separate tables.
	if _, err := s.GetJob(ctx, models.FamilyEmbedding, "job-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("sync job visible in embedding family: %v", err)
	}
}

func TestSQLiteStore_History(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.AppendHistory(ctx, models.FamilySync, &models.HistoryEntry{
			JobID:      "job-1",
			EntityType: models.EntityFeature,
			Action:     models.ActionEntityProcessed,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	entries, err := s.GetHistory(ctx, models.FamilySync, "job-1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries with limit, got %d", len(entries))
	}
	if entries[0].ID < entries[1].ID {
		t.Error("history should be newest first")
	}
}

func TestSQLiteStore_CleanupOldJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := &models.Job{ID: "old", Status: models.JobPending}
	if err := s.CreateJob(ctx, models.FamilySync, old); err != nil {
		t.Fatal(err)
	}
	old.Status = models.JobCompleted
	if err := s.UpdateJob(ctx, models.FamilySync, old); err != nil {
		t.Fatal(err)
	}
	running := &models.Job{ID: "running", Status: models.JobRunning}
	if err := s.CreateJob(ctx, models.FamilySync, running); err != nil {
		t.Fatal(err)
	}

	// maxAge of -1h puts the cutoff in the future, so every terminal job is older.
	n, err := s.CleanupOldJobs(ctx, models.FamilySync, -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 reaped job, got %d", n)
	}
	if _, err := s.GetJob(ctx, models.FamilySync, "running"); err != nil {
		t.Errorf("running job must survive the reaper: %v", err)
	}
}

func TestSQLiteStore_Embeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if !s.VectorEnabled() {
		t.Fatal("vector support should be enabled")
	}

	record := &models.EmbeddingRecord{
		EntityType: models.EntityFeature,
		EntityID:   "F1",
		Vector:     []float32{0.1, 0.2, 0.3},
		Text:       "Dark mode",
		Model:      "mock",
	}
	if err := s.UpsertEmbedding(ctx, record); err != nil {
		t.Fatal(err)
	}
	if record.Dimensions != 3 {
		t.Errorf("dimensions = %d, want 3", record.Dimensions)
	}

	// Replace with a new vector for the same key.
	record.Vector = []float32{1, 0, 0, 0}
	if err := s.UpsertEmbedding(ctx, record); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetEmbedding(ctx, models.EntityFeature, "F1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Dimensions != 4 || len(got.Vector) != 4 {
		t.Errorf("replacement lost: %+v", got)
	}

	all, err := s.ListEmbeddings(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 embedding, got %d", len(all))
	}

	if err := s.DeleteEmbedding(ctx, models.EntityFeature, "F1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetEmbedding(ctx, models.EntityFeature, "F1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSQLiteStore_MissingEmbeddingQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"F1", "F2", "F3"} {
		if err := s.UpsertEntity(ctx, &models.EntityRecord{ID: id, Type: models.EntityFeature, Name: id}); err != nil {
			t.Fatal(err)
		}
	}
	err := s.UpsertEmbedding(ctx, &models.EmbeddingRecord{
		EntityType: models.EntityFeature, EntityID: "F2", Vector: []float32{1}, Model: "mock",
	})
	if err != nil {
		t.Fatal(err)
	}

	missing, err := s.ListEntitiesMissingEmbedding(ctx, models.EntityFeature, "mock", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 2 {
		t.Fatalf("expected 2 entities without vectors, got %d", len(missing))
	}
	for _, r := range missing {
		if r.ID == "F2" {
			t.Error("F2 already has a vector")
		}
	}

	// A different model sees all three as missing.
	missing, _ = s.ListEntitiesMissingEmbedding(ctx, models.EntityFeature, "other-model", 10)
	if len(missing) != 3 {
		t.Errorf("expected 3 missing for other model, got %d", len(missing))
	}
}

func TestSQLiteStore_ClosedStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetEntity(ctx, models.EntityFeature, "F1"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if err := s.UpdateJob(ctx, models.FamilySync, &models.Job{ID: "j"}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if s.VectorEnabled() {
		t.Error("closed store must not report vector support")
	}

	status := s.HealthStatus(ctx)
	if status.Connected {
		t.Error("closed store must report disconnected health")
	}
	if status.Error == "" {
		t.Error("degraded health should carry a reason")
	}
}

func TestSQLiteStore_HealthStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateJob(ctx, models.FamilySync, &models.Job{ID: "j1", Status: models.JobPending}); err != nil {
		t.Fatal(err)
	}

	status := s.HealthStatus(ctx)
	if !status.Connected {
		t.Fatalf("expected connected, got %+v", status)
	}
	if status.TableCount == 0 {
		t.Error("table count should be non-zero")
	}
	if status.JobCount != 1 {
		t.Errorf("job count = %d, want 1", status.JobCount)
	}
	if status.StorageBytes == 0 {
		t.Error("storage size should be non-zero")
	}
	if status.LastActivity.IsZero() {
		t.Error("last activity should be set")
	}
}
