package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Growth-System-ERP/gs-assist/internal/index"
	"github.com/Growth-System-ERP/gs-assist/internal/resolver"
	"github.com/Growth-System-ERP/gs-assist/pkg/types"
)

type resolveRequest struct {
	Query          string   `json:"query"`
	EntityGroups   []string `json:"entity_groups"`
	BusinessDomain string   `json:"business_domain"`
	Debug          bool     `json:"debug"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.resolver.Resolve(r.Context(), req.Query, resolver.Options{
		EntityGroups:   req.EntityGroups,
		BusinessDomain: req.BusinessDomain,
		Debug:          req.Debug,
	})
	if err != nil {
		s.logger.Error("resolution failed", zap.String("query", req.Query), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSyncEntity(w http.ResponseWriter, r *http.Request) {
	var snapshot types.EntitySnapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.index.Sync(r.Context(), snapshot); err != nil {
		if errors.Is(err, index.ErrValidation) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("entity sync failed", zap.String("canonical", snapshot.CanonicalName), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.graph != nil {
		s.graph.Observe(snapshot)
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"canonical_name": snapshot.CanonicalName, "status": "synced"})
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	canonical := chi.URLParam(r, "canonical")
	if err := s.index.Delete(r.Context(), canonical); err != nil {
		s.logger.Error("entity delete failed", zap.String("canonical", canonical), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.graph != nil {
		s.graph.Forget(canonical)
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"canonical_name": canonical, "status": "deleted"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.index.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"total_records": stats.TotalRecords,
		"dimension":     stats.Dimension,
		"groups":        stats.Groups,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.HealthCheck(r.Context()); err != nil {
			s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":    "degraded",
				"embedding": err.Error(),
			})
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "embedding": "ok"})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
