// File path: internal/api/server.go

// Package api exposes the interview engine over HTTP. All interview
// operations go through one unified /process endpoint dispatched by action,
// mirroring the stateless-request mode of the engine.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	chi "github.com/go-chi/chi/v5"

	"formloop/internal/common"
	"formloop/internal/engine"
)

type Server struct {
	router chi.Router
	engine *engine.Engine
}

func NewServer(eng *engine.Engine) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine required")
	}
	srv := &Server{
		router: chi.NewRouter(),
		engine: eng,
	}
	srv.routes()
	return srv, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := common.Logger()
	logger.Info("api: configuring routes")
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"service": "formloop",
			"actions": []string{"init", "chat", "fill_text", "fill_boolean", "get_status", "get_missing", "complete"},
		})
	})

	s.router.Post("/process", s.handleProcess)
	s.router.Get("/available_investor_types", s.handleCategories)
	s.router.Get("/sessions", s.handleSessions)
	s.router.Delete("/session/{id}", s.handleSessionDelete)
	s.router.Get("/v1/logs", s.handleLogs)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories := s.engine.Categories()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"investor_types": categories,
		"count":          len(categories),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.engine.Sessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("session id required"))
		return
	}
	if err := s.engine.Delete(r.Context(), id); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"session_id": id,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries := append([]common.LogEntry(nil), common.LogEntries()...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// errorStatus maps engine sentinels onto HTTP statuses: unknown sessions are
// not found, rejected operations are bad requests, anything else is a server
// fault.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidCategory),
		errors.Is(err, engine.ErrInvalidField),
		errors.Is(err, engine.ErrInvalidGroup),
		errors.Is(err, engine.ErrInvalidIndex),
		errors.Is(err, engine.ErrInvalidPhone),
		errors.Is(err, engine.ErrSessionFinalized),
		errors.Is(err, engine.ErrNoMandatoryFields):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
