// Package api exposes the HTTP interface for the content server.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/openscripture/helpserver/internal/content"
	"github.com/openscripture/helpserver/internal/metrics"
	"github.com/openscripture/helpserver/internal/resource"
	"github.com/openscripture/helpserver/internal/search"
	"github.com/openscripture/helpserver/internal/syncer"
)

const defaultSearchLimit = 50

// Server wires HTTP handlers to the content service, syncer, and index.
type Server struct {
	router      chi.Router
	content     *content.Service
	syncer      *syncer.Syncer
	index       search.Store
	concurrency int
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	contentSvc *content.Service,
	sync *syncer.Syncer,
	index search.Store,
	syncConcurrency int,
	logger *zap.Logger,
) *Server {
	s := &Server{
		content:     contentSvc,
		syncer:      sync,
		index:       index,
		concurrency: syncConcurrency,
		logger:      logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/resources/{org}/{lang}/{resource}/{version}", s.getResource)
		r.Delete("/resources/{org}/{lang}/{resource}/{version}", s.deleteResource)
		r.Post("/sync", s.postSync)
		r.Get("/search", s.getSearch)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// getResource serves raw archive bytes through the cache chain. The
// standard no-cache request directive forces a fresh origin fetch while
// still refreshing the cache for other callers.
func (s *Server) getResource(w http.ResponseWriter, r *http.Request) {
	ref := resource.Ref{
		Organization: chi.URLParam(r, "org"),
		Language:     chi.URLParam(r, "lang"),
		Resource:     chi.URLParam(r, "resource"),
		Version:      chi.URLParam(r, "version"),
	}
	if err := ref.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bypass := strings.Contains(r.Header.Get("Cache-Control"), "no-cache")
	data, err := s.content.GetArchive(r.Context(), ref, bypass)
	if err != nil {
		status := http.StatusBadGateway
		var upstream *resource.UpstreamError
		if errors.As(err, &upstream) && upstream.Status == http.StatusNotFound {
			status = http.StatusNotFound
		}
		var integrity *resource.IntegrityError
		if errors.As(err, &integrity) {
			status = http.StatusBadGateway
		}
		s.logger.Warn("resource fetch failed", zap.String("ref", ref.String()), zap.Error(err))
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", resource.ContentTypeArchive.MIME())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("response write failed", zap.Error(err))
	}
}

// deleteResource purges the release: cache entries, archive, extracted
// files, and index documents.
func (s *Server) deleteResource(w http.ResponseWriter, r *http.Request) {
	ref := resource.Ref{
		Organization: chi.URLParam(r, "org"),
		Language:     chi.URLParam(r, "lang"),
		Resource:     chi.URLParam(r, "resource"),
		Version:      chi.URLParam(r, "version"),
	}
	if err := ref.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.content.Purge(r.Context(), ref); err != nil {
		s.logger.Warn("resource purge failed", zap.String("ref", ref.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "purge failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type syncRequest struct {
	Refs []string `json:"refs"`
}

type syncResponse struct {
	Outcomes []syncer.Outcome `json:"outcomes"`
}

// postSync runs a bounded-parallel batch sync. Per-item failures show up in
// the outcomes list; the batch itself always returns 200 once it completes.
func (s *Server) postSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Refs) == 0 {
		writeError(w, http.StatusBadRequest, "refs required")
		return
	}
	refs := make([]resource.Ref, 0, len(req.Refs))
	for _, raw := range req.Refs {
		ref, err := resource.ParseRef(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		refs = append(refs, ref)
	}

	outcomes := s.syncer.SyncBatch(r.Context(), refs, s.concurrency)
	writeJSON(w, http.StatusOK, syncResponse{Outcomes: outcomes})
}

func (s *Server) getSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q required")
		return
	}
	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	docs, err := s.index.Search(r.Context(), query, limit)
	if err != nil {
		s.logger.Warn("search failed", zap.String("query", query), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
