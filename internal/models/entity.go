// Package models defines core data structures for entities, sync jobs, and settings.
package models

import (
	"fmt"
	"time"
)

// EntityType identifies one of the remote record kinds mirrored into the cache.
type EntityType string

const (
	EntityFeature    EntityType = "feature"
	EntityProduct    EntityType = "product"
	EntityIdea       EntityType = "idea"
	EntityEpic       EntityType = "epic"
	EntityInitiative EntityType = "initiative"
	EntityRelease    EntityType = "release"
	EntityGoal       EntityType = "goal"
	EntityUser       EntityType = "user"
	EntityComment    EntityType = "comment"
)

// AllEntityTypes lists every supported entity type in sync order.
var AllEntityTypes = []EntityType{
	EntityProduct,
	EntityRelease,
	EntityEpic,
	EntityFeature,
	EntityIdea,
	EntityInitiative,
	EntityGoal,
	EntityUser,
	EntityComment,
}

// Valid reports whether t is one of the supported entity types.
func (t EntityType) Valid() bool {
	for _, known := range AllEntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// EntityRecord is a cached copy of one remote entity. ID is the remote identifier
// and is the primary key of the per-type table. Name, Description, Status, and the
// parent IDs are denormalized from the raw payload for exact-match filtering.
type EntityRecord struct {
	ID          string                 `json:"id"`
	Type        EntityType             `json:"type"`
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Status      string                 `json:"status,omitempty"`
	ProductID   string                 `json:"product_id,omitempty"`
	ParentID    string                 `json:"parent_id,omitempty"`
	Raw         map[string]interface{} `json:"raw,omitempty"`
	SyncedAt    time.Time              `json:"synced_at"`
}

// SearchText returns the text an embedding is computed over.
func (r *EntityRecord) SearchText() string {
	if r.Description == "" {
		return r.Name
	}
	return r.Name + "\n" + r.Description
}

// EmbeddingRecord stores one vector for an (entity type, entity id) pair.
type EmbeddingRecord struct {
	EntityType EntityType             `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Vector     []float32              `json:"-"`
	Text       string                 `json:"text,omitempty"`
	Model      string                 `json:"model"`
	Dimensions int                    `json:"dimensions"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// SearchMatch is one ranked result from a similarity search.
type SearchMatch struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Text       string     `json:"text,omitempty"`
	Similarity float64    `json:"similarity"`
}

// ParseEntityType validates a type tag from an external caller.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.Valid() {
		return "", fmt.Errorf("Unsupported entity type: %s", s)
	}
	return t, nil
}
