// Package api exposes the admin HTTP surface: health probes, Prometheus
// metrics, crawl definition management, and document lookup by hash.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pickemhq/sportsfeed/internal/feed"
	"github.com/pickemhq/sportsfeed/internal/metrics"
	"github.com/pickemhq/sportsfeed/internal/orchestrator"
)

// Server wires HTTP handlers to the definition store, the document store,
// and the crawl runner.
type Server struct {
	router      chi.Router
	definitions feed.DefinitionStore
	docs        feed.DocumentStore
	runner      orchestrator.CrawlRunner
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	definitions feed.DefinitionStore,
	docs feed.DocumentStore,
	runner orchestrator.CrawlRunner,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		definitions: definitions,
		docs:        docs,
		runner:      runner,
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
		r.Route("/definitions", func(r chi.Router) {
			r.Get("/", s.listDefinitions)
			r.Post("/{definition_id}/trigger", s.triggerDefinition)
		})
		r.Get("/documents/{collection}/{url_hash}", s.getDocument)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.definitions.List(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "definition store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.definitions.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list definitions failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"definitions": defs})
}

// triggerDefinition runs one crawl pass for the definition immediately,
// bypassing the scheduler. Intended for backfills and debugging.
func (s *Server) triggerDefinition(w http.ResponseWriter, r *http.Request) {
	definitionID := chi.URLParam(r, "definition_id")
	def, err := s.definitions.Get(r.Context(), definitionID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "definition not found")
		return
	}
	if !def.IsEnabled {
		s.writeError(w, http.StatusConflict, "definition is disabled")
		return
	}
	if err := s.runner.Crawl(r.Context(), def); err != nil {
		s.logger.Error("triggered crawl failed",
			zap.String("definition", definitionID),
			zap.Error(err),
		)
		s.writeError(w, http.StatusBadGateway, "crawl failed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"definition_id": definitionID, "status": "crawled"})
}

// getDocument serves a stored payload by collection and URL hash. This is
// also the refetch path for change events too large to carry their payload
// inline.
func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	urlHash := chi.URLParam(r, "url_hash")
	doc, err := s.docs.Get(r.Context(), collection, urlHash)
	if errors.Is(err, feed.ErrDocumentNotFound) {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "document lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := sonic.Marshal(payload)
	if err != nil {
		s.logger.Error("encode response failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		s.logger.Error("write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
