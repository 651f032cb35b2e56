package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/kagami/internal/models"
)

// MockSource is an in-memory Source for tests. Records are served in insertion
// order with real pagination; FailList can inject a number of transient failures
// per entity type to exercise retry paths.
type MockSource struct {
	mu       sync.Mutex
	records  map[models.EntityType][]*models.EntityRecord
	failures map[models.EntityType]int
	listCall map[models.EntityType]int
}

// NewMockSource returns an empty mock source.
func NewMockSource() *MockSource {
	return &MockSource{
		records:  make(map[models.EntityType][]*models.EntityRecord),
		failures: make(map[models.EntityType]int),
		listCall: make(map[models.EntityType]int),
	}
}

// AddRecords appends records for an entity type.
func (m *MockSource) AddRecords(entityType models.EntityType, records ...*models.EntityRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		r.Type = entityType
		m.records[entityType] = append(m.records[entityType], r)
	}
}

// FailList makes the next n List calls for entityType return an error.
func (m *MockSource) FailList(entityType models.EntityType, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[entityType] = n
}

// ListCalls returns how many List calls were made for entityType.
func (m *MockSource) ListCalls(entityType models.EntityType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCall[entityType]
}

// List implements Source.
func (m *MockSource) List(ctx context.Context, entityType models.EntityType, opts ListOptions) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCall[entityType]++
	if m.failures[entityType] > 0 {
		m.failures[entityType]--
		return nil, fmt.Errorf("simulated remote failure for %s", entityType)
	}

	all := m.records[entityType]
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	totalPages := (len(all) + pageSize - 1) / pageSize

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}

	return &Page{
		Records: all[start:end],
		Pagination: Pagination{
			Page:         page,
			PageSize:     pageSize,
			TotalPages:   totalPages,
			TotalRecords: len(all),
		},
	}, nil
}

// Get implements Source.
func (m *MockSource) Get(ctx context.Context, entityType models.EntityType, id string) (*models.EntityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records[entityType] {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%s %s not found", entityType, id)
}
