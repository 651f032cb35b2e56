package vector

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/store"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "vec.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewIndex(s)
}

func TestCosine(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{-3, 1, 2}

	if got := Cosine(a, a); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("identical vectors: got %f, want 1.0", got)
	}
	if got := Cosine(a, b); got < -1 || got > 1 {
		t.Errorf("similarity out of [-1,1]: %f", got)
	}
	if got := Cosine([]float32{1, -2}, []float32{-1, 2}); math.Abs(got+1.0) > 1e-9 {
		t.Errorf("opposite vectors: got %f, want -1.0", got)
	}
	if got := Cosine(a, []float32{0, 0, 0}); got != 0 {
		t.Errorf("zero vector: got %f, want 0", got)
	}
	if got := Cosine(a, []float32{1, 2}); got != 0 {
		t.Errorf("dimension mismatch: got %f, want 0", got)
	}
	if got := Cosine(nil, nil); got != 0 {
		t.Errorf("empty vectors: got %f, want 0", got)
	}
}

// unit2 returns a 2-d unit vector whose cosine against [1,0] is exactly c.
func unit2(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
}

func TestIndex_SearchRanking(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	for id, c := range map[string]float64{"high": 0.9, "mid": 0.5, "low": 0.2} {
		if err := idx.Upsert(ctx, models.EntityFeature, id, unit2(c), id, "mock", nil); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := idx.Search(ctx, []float32{1, 0}, nil, 10, 0.4)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches above threshold 0.4, got %d", len(matches))
	}
	if matches[0].EntityID != "high" || matches[1].EntityID != "mid" {
		t.Errorf("wrong order: %s, %s", matches[0].EntityID, matches[1].EntityID)
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Error("results not sorted descending")
	}
}

func TestIndex_SearchLimitAndTypes(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	vec := []float32{1, 0}
	if err := idx.Upsert(ctx, models.EntityFeature, "F1", vec, "f", "mock", nil); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, models.EntityIdea, "I1", vec, "i", "mock", nil); err != nil {
		t.Fatal(err)
	}

	matches, err := idx.Search(ctx, vec, []models.EntityType{models.EntityIdea}, 10, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].EntityType != models.EntityIdea {
		t.Errorf("type restriction failed: %+v", matches)
	}

	matches, err = idx.Search(ctx, vec, nil, 1, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Errorf("limit not applied, got %d", len(matches))
	}
}

func TestIndex_SearchDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, models.EntityFeature, "F1", []float32{1, 0, 0}, "f", "mock", nil); err != nil {
		t.Fatal(err)
	}
	// 2-d query vs 3-d candidate: scored 0, never an error.
	matches, err := idx.Search(ctx, []float32{1, 0}, nil, 10, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("mismatched candidate should fall below threshold, got %+v", matches)
	}
}

func TestIndex_GetDelete(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, models.EntityGoal, "G1", []float32{0.5, 0.5}, "goal", "mock", map[string]interface{}{"k": "v"}); err != nil {
		t.Fatal(err)
	}
	got, err := idx.Get(ctx, models.EntityGoal, "G1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Dimensions != 2 || got.Model != "mock" {
		t.Errorf("got %+v", got)
	}
	if err := idx.Delete(ctx, models.EntityGoal, "G1"); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Get(ctx, models.EntityGoal, "G1"); err == nil {
		t.Error("expected error after delete")
	}
}
