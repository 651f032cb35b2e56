package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kagami/internal/models"
)

func TestParseOutputFormat(t *testing.T) {
	if f, err := ParseOutputFormat(""); err != nil || f != OutputText {
		t.Errorf("empty: got %v, %v", f, err)
	}
	if f, err := ParseOutputFormat("json"); err != nil || f != OutputJSON {
		t.Errorf("json: got %v, %v", f, err)
	}
	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Error("expected an error for an unknown format")
	}
}

func TestWriteJobText(t *testing.T) {
	job := &models.Job{
		ID:             "job-1",
		Status:         models.JobRunning,
		Progress:       40,
		ProcessedCount: 4,
		Total:          10,
		ErrorCount:     1,
		LastError:      "sync failed for feature: boom",
		CurrentType:    models.EntityFeature,
		StartedAt:      time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
	var buf bytes.Buffer
	if err := WriteJob(&buf, job, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"job-1", "running", "40%", "4/10", "feature", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteJobJSON(t *testing.T) {
	job := &models.Job{ID: "job-1", Status: models.JobCompleted}
	var buf bytes.Buffer
	if err := WriteJob(&buf, job, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.Job
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.ID != "job-1" || decoded.Status != models.JobCompleted {
		t.Errorf("unexpected round-trip %+v", decoded)
	}
}

func TestWriteJobsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJobs(&buf, nil, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No active jobs") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestWriteMatches(t *testing.T) {
	matches := []*models.SearchMatch{
		{EntityType: models.EntityFeature, EntityID: "feat-1", Similarity: 0.91, Text: "Login flow"},
		{EntityType: models.EntityIdea, EntityID: "idea-2", Similarity: 0.55},
	}
	var buf bytes.Buffer
	if err := WriteMatches(&buf, matches, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "feature/feat-1") || !strings.Contains(out, "0.9100") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "idea/idea-2") {
		t.Errorf("output missing second match:\n%s", out)
	}
}

func TestWriteSettings(t *testing.T) {
	settings := []*models.ServerSetting{
		{Key: "sync_batch_size", Value: "100", Description: "records per page"},
	}
	var buf bytes.Buffer
	if err := WriteSettings(&buf, settings, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "sync_batch_size") || !strings.Contains(out, "100") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestWriteHistory(t *testing.T) {
	entries := []*models.HistoryEntry{
		{Action: models.ActionEntityProcessed, EntityType: models.EntityFeature, EntityID: "feat-1",
			CreatedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)},
		{Action: models.ActionSyncError, Details: "Unsupported entity type: widget",
			CreatedAt: time.Date(2026, 8, 30, 12, 0, 1, 0, time.UTC)},
	}
	var buf bytes.Buffer
	if err := WriteHistory(&buf, entries, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "entity_processed") || !strings.Contains(out, "feature/feat-1") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "Unsupported entity type: widget") {
		t.Errorf("output missing error details:\n%s", out)
	}
}
