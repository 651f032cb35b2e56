package vector

import (
	"context"
	"sort"

	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/store"
)

// Index ranks stored entity embeddings against query vectors by cosine similarity.
// Vectors live in the store's embeddings table; the index itself holds no state.
type Index struct {
	store store.Store
}

// NewIndex creates a similarity index over the given store.
func NewIndex(s store.Store) *Index {
	return &Index{store: s}
}

// Upsert replaces any existing vector for (entityType, entityID). The vector's
// length defines the record's dimensionality.
func (idx *Index) Upsert(ctx context.Context, entityType models.EntityType, entityID string, vec []float32, text, model string, metadata map[string]interface{}) error {
	return idx.store.UpsertEmbedding(ctx, &models.EmbeddingRecord{
		EntityType: entityType,
		EntityID:   entityID,
		Vector:     vec,
		Text:       text,
		Model:      model,
		Metadata:   metadata,
	})
}

// Get returns the stored vector for one entity, or store.ErrNotFound.
func (idx *Index) Get(ctx context.Context, entityType models.EntityType, entityID string) (*models.EmbeddingRecord, error) {
	return idx.store.GetEmbedding(ctx, entityType, entityID)
}

// Delete removes the vector for one entity.
func (idx *Index) Delete(ctx context.Context, entityType models.EntityType, entityID string) error {
	return idx.store.DeleteEmbedding(ctx, entityType, entityID)
}

// Search ranks every stored vector (optionally restricted to candidateTypes)
// against query. Candidates with zero norm or mismatched dimensions score 0 and
// fall below any positive threshold. Results with similarity >= threshold are
// sorted descending, ties broken by more recent update, capped at limit.
// When vector support is disabled the result is always empty.
func (idx *Index) Search(ctx context.Context, query []float32, candidateTypes []models.EntityType, limit int, threshold float64) ([]*models.SearchMatch, error) {
	if !idx.store.VectorEnabled() {
		return nil, nil
	}
	candidates, err := idx.store.ListEmbeddings(ctx, candidateTypes)
	if err != nil {
		return nil, err
	}

	type scored struct {
		record     *models.EmbeddingRecord
		similarity float64
	}
	matches := make([]scored, 0, len(candidates))
	for _, candidate := range candidates {
		similarity := Cosine(query, candidate.Vector)
		if similarity < threshold {
			continue
		}
		matches = append(matches, scored{record: candidate, similarity: similarity})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].similarity != matches[j].similarity {
			return matches[i].similarity > matches[j].similarity
		}
		return matches[i].record.UpdatedAt.After(matches[j].record.UpdatedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]*models.SearchMatch, len(matches))
	for i, m := range matches {
		results[i] = &models.SearchMatch{
			EntityType: m.record.EntityType,
			EntityID:   m.record.EntityID,
			Text:       m.record.Text,
			Similarity: m.similarity,
		}
	}
	return results, nil
}
