// Package remote provides the client for the product-management SaaS API.
package remote

import (
	"context"

	"github.com/hyperjump/kagami/internal/models"
)

// Pagination describes one page of a list response.
type Pagination struct {
	Page         int `json:"page"`
	PageSize     int `json:"page_size"`
	TotalPages   int `json:"total_pages"`
	TotalRecords int `json:"total_records"`
}

// Page is one page of entity records from the remote source.
type Page struct {
	Records    []*models.EntityRecord `json:"records"`
	Pagination Pagination             `json:"pagination"`
}

// ListOptions narrows a list call. Filters are exact-match query parameters;
// UpdatedSince limits results to records modified after the cursor (RFC 3339).
type ListOptions struct {
	Filters      map[string]string
	UpdatedSince string
	Page         int
	PageSize     int
}

// Source fetches entities from the remote API. Both calls are idempotent and
// safe to retry.
type Source interface {
	List(ctx context.Context, entityType models.EntityType, opts ListOptions) (*Page, error)
	Get(ctx context.Context, entityType models.EntityType, id string) (*models.EntityRecord, error)
}
