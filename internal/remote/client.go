package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hyperjump/kagami/internal/models"
)

// entityPaths maps each entity type to its API collection path.
var entityPaths = map[models.EntityType]string{
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

// Client is the HTTP implementation of Source, authenticated by bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// List fetches one page of entities of the given type.
func (c *Client) List(ctx context.Context, entityType models.EntityType, opts ListOptions) (*Page, error) {
	path, ok := entityPaths[entityType]
	if !ok {
		return nil, fmt.Errorf("Unsupported entity type: %s", entityType)
	}

	query := url.Values{}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		query.Set("per_page", strconv.Itoa(opts.PageSize))
	}
	if opts.UpdatedSince != "" {
		query.Set("updated_since", opts.UpdatedSince)
	}
	for k, v := range opts.Filters {
		query.Set(k, v)
	}
	endpoint := c.baseURL + "/api/v1/" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var response struct {
		Records    []map[string]interface{} `json:"records"`
		Pagination Pagination               `json:"pagination"`
	}
	if err := c.doRequest(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, err
	}

	page := &Page{Pagination: response.Pagination}
	for _, raw := range response.Records {
		page.Records = append(page.Records, normalizeRecord(entityType, raw))
	}
	return page, nil
}

// Get fetches a single entity by id.
func (c *Client) Get(ctx context.Context, entityType models.EntityType, id string) (*models.EntityRecord, error) {
	path, ok := entityPaths[entityType]
	if !ok {
		return nil, fmt.Errorf("Unsupported entity type: %s", entityType)
	}
	var raw map[string]interface{}
	if err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/api/v1/"+path+"/"+url.PathEscape(id), &raw); err != nil {
		return nil, err
	}
	return normalizeRecord(entityType, raw), nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("remote API error (%d): %s", res.StatusCode, string(body))
	}
	return json.NewDecoder(res.Body).Decode(response)
}

// normalizeRecord extracts the denormalized filter fields from a raw payload.
func normalizeRecord(entityType models.EntityType, raw map[string]interface{}) *models.EntityRecord {
	record := &models.EntityRecord{
		Type:        entityType,
		ID:          stringField(raw, "id"),
		Name:        stringField(raw, "name"),
		Description: stringField(raw, "description"),
		Status:      stringField(raw, "status"),
		ProductID:   stringField(raw, "product_id"),
		ParentID:    stringField(raw, "parent_id"),
		Raw:         raw,
	}
	// Users carry a display name under a different key.
	if record.Name == "" {
		record.Name = stringField(raw, "full_name")
	}
	// Comments have body text instead of a description.
	if record.Description == "" {
		record.Description = stringField(raw, "body")
	}
	return record
}

func stringField(raw map[string]interface{}, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}
