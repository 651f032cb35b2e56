package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperjump/kagami/internal/models"
)

func TestClient_List(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"records": []map[string]interface{}{
				{"id": "F1", "name": "Dark mode", "status": "shipped", "product_id": "P1"},
				{"id": "F2", "name": "Exports"},
			},
			"pagination": map[string]int{"page": 2, "page_size": 2, "total_pages": 5, "total_records": 9},
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "secret-token")
	page, err := client.List(context.Background(), models.EntityFeature, ListOptions{
		Page: 2, PageSize: 2, UpdatedSince: "2026-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatal(err)
	}

	if gotAuth != "Bearer secret-token" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPath != "/api/v1/features" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery == "" {
		t.Error("expected query parameters")
	}
	if len(page.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page.Records))
	}
	if page.Records[0].ID != "F1" || page.Records[0].Status != "shipped" || page.Records[0].ProductID != "P1" {
		t.Errorf("denormalization failed: %+v", page.Records[0])
	}
	if page.Records[0].Raw["name"] != "Dark mode" {
		t.Error("raw payload not preserved")
	}
	if page.Pagination.TotalPages != 5 || page.Pagination.TotalRecords != 9 {
		t.Errorf("pagination = %+v", page.Pagination)
	}
}

func TestClient_Get(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ideas/IDEA-7" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": "IDEA-7", "name": "Offline mode"})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "t")
	record, err := client.Get(context.Background(), models.EntityIdea, "IDEA-7")
	if err != nil {
		t.Fatal(err)
	}
	if record.ID != "IDEA-7" || record.Type != models.EntityIdea {
		t.Errorf("got %+v", record)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "t")
	if _, err := client.List(context.Background(), models.EntityGoal, ListOptions{}); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestClient_UnsupportedType(t *testing.T) {
	client := NewClient("http://localhost", "t")
	if _, err := client.List(context.Background(), models.EntityType("widget"), ListOptions{}); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestMockSource_Pagination(t *testing.T) {
	src := NewMockSource()
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		src.AddRecords(models.EntityFeature, &models.EntityRecord{ID: id})
	}

	page, err := src.List(context.Background(), models.EntityFeature, ListOptions{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Records) != 2 || page.Pagination.TotalPages != 3 || page.Pagination.TotalRecords != 5 {
		t.Errorf("page 1: %+v", page.Pagination)
	}

	page, _ = src.List(context.Background(), models.EntityFeature, ListOptions{Page: 3, PageSize: 2})
	if len(page.Records) != 1 || page.Records[0].ID != "E" {
		t.Errorf("page 3: %+v", page.Records)
	}
}
