package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/store"
	"github.com/hyperjump/kagami/internal/syncer"
)

type startSyncRequest struct {
	EntityTypes  []string `json:"entity_types,omitempty"`
	BatchSize    int      `json:"batch_size,omitempty"`
	UpdatedSince string   `json:"updated_since,omitempty"`
	Concurrency  int      `json:"concurrency,omitempty"`
}

func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	var req startSyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	s.logger.Debug("start sync request", zap.Strings("entity_types", req.EntityTypes))
	id, err := s.syncs.StartSync(r.Context(), req.EntityTypes, syncer.SyncOptions{
		BatchSize:    req.BatchSize,
		UpdatedSince: req.UpdatedSince,
		Concurrency:  req.Concurrency,
	})
	if err != nil {
		s.logger.Error("start sync failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "pending"})
}

func (s *Server) handleGetSync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.syncs.GetSyncProgress(r.Context(), id)
	if err != nil {
		s.respondJobError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := s.syncs.GetSyncHistory(r.Context(), id, queryInt(r, "limit", 100))
	if err != nil {
		s.respondJobError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"job_id": id, "history": entries})
}

func (s *Server) handleActiveSyncs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.syncs.GetActiveSyncs(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func (s *Server) handlePauseSync(w http.ResponseWriter, r *http.Request) {
	s.respondLifecycle(w, "paused", s.syncs.PauseSync(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleResumeSync(w http.ResponseWriter, r *http.Request) {
	s.respondLifecycle(w, "resuming", s.syncs.ResumeSync(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleStopSync(w http.ResponseWriter, r *http.Request) {
	s.respondLifecycle(w, "stopping", s.syncs.StopSync(r.Context(), chi.URLParam(r, "id")))
}

type startEmbeddingRequest struct {
	EntityTypes []string `json:"entity_types,omitempty"`
	BatchSize   int      `json:"batch_size,omitempty"`
}

func (s *Server) handleStartEmbedding(w http.ResponseWriter, r *http.Request) {
	var req startEmbeddingRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	s.logger.Debug("start embedding request", zap.Strings("entity_types", req.EntityTypes))
	id, err := s.embeddings.StartEmbedding(r.Context(), req.EntityTypes, syncer.EmbeddingOptions{
		BatchSize: req.BatchSize,
	})
	if err != nil {
		s.logger.Error("start embedding failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "pending"})
}

func (s *Server) handleGetEmbedding(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.embeddings.GetEmbeddingProgress(r.Context(), id)
	if err != nil {
		s.respondJobError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleEmbeddingHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := s.embeddings.GetEmbeddingHistory(r.Context(), id, queryInt(r, "limit", 100))
	if err != nil {
		s.respondJobError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"job_id": id, "history": entries})
}

func (s *Server) handleActiveEmbeddings(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.embeddings.GetActiveEmbeddings(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func (s *Server) handlePauseEmbedding(w http.ResponseWriter, r *http.Request) {
	s.respondLifecycle(w, "paused", s.embeddings.PauseEmbedding(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleResumeEmbedding(w http.ResponseWriter, r *http.Request) {
	s.respondLifecycle(w, "resuming", s.embeddings.ResumeEmbedding(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleStopEmbedding(w http.ResponseWriter, r *http.Request) {
	s.respondLifecycle(w, "stopping", s.embeddings.StopEmbedding(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	entityType, err := models.ParseEntityType(chi.URLParam(r, "type"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := store.EntityFilter{
		Status:    r.URL.Query().Get("status"),
		ProductID: r.URL.Query().Get("product_id"),
		ParentID:  r.URL.Query().Get("parent_id"),
	}
	forceRemote := r.URL.Query().Get("source") == "remote"
	records, provenance, err := s.reader.ListEntities(r.Context(), entityType, filter,
		queryInt(r, "limit", 100), queryInt(r, "offset", 0), forceRemote)
	if err != nil {
		s.logger.Error("list entities failed", zap.String("entity_type", string(entityType)), zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entity_type": entityType,
		"source":      provenance,
		"records":     records,
	})
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	entityType, err := models.ParseEntityType(chi.URLParam(r, "type"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	forceRemote := r.URL.Query().Get("source") == "remote"
	record, provenance, err := s.reader.GetEntity(r.Context(), entityType, id, forceRemote)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"source": provenance,
		"record": record,
	})
}

type searchRequest struct {
	Query       string   `json:"query"`
	EntityTypes []string `json:"entity_types,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Threshold   float64  `json:"threshold,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.searchLimit(r)
	}

	queryVector, err := s.provider.Embed(r.Context(), req.Query)
	if err != nil {
		s.logger.Error("query embedding failed", zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	types := make([]models.EntityType, 0, len(req.EntityTypes))
	for _, t := range req.EntityTypes {
		types = append(types, models.EntityType(t))
	}
	matches, err := s.index.Search(r.Context(), queryVector, types, limit, req.Threshold)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"query":   req.Query,
		"matches": matches,
	})
}

func (s *Server) handleListConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.ListSettings(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"settings": settings})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	setting, err := s.store.GetSetting(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "setting not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, setting)
}

type setConfigRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req setConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Value == "" {
		s.respondError(w, http.StatusBadRequest, "value is required")
		return
	}
	if err := s.store.SetSetting(r.Context(), key, req.Value); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("setting updated", zap.String("key", key), zap.String("value", req.Value))
	s.respondJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.store.HealthStatus(r.Context())
	status := http.StatusOK
	if !health.Connected {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, health)
}

// respondLifecycle maps a pause/resume/stop outcome to a response. Lifecycle
// errors are caller mistakes (wrong state, unknown job), not server faults.
func (s *Server) respondLifecycle(w http.ResponseWriter, status string, err error) {
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "job not found")
			return
		}
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) respondJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) searchLimit(r *http.Request) int {
	limit := 50
	if setting, err := s.store.GetSetting(r.Context(), models.SettingSearchMaxResults); err == nil {
		if v, err := strconv.Atoi(setting.Value); err == nil && v > 0 {
			limit = v
		}
	}
	return limit
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
