package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/bestseller-crawler/internal/crawler"
	"github.com/JakeFAU/bestseller-crawler/internal/metrics"
	"github.com/JakeFAU/bestseller-crawler/internal/trigger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunTrigger starts runs and remembers the last one.
type RunTrigger interface {
	RunOnce(ctx context.Context) (crawler.RunReport, error)
	Last() (trigger.LastRun, bool)
}

// ReadyFunc reports whether downstream dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

// Options tunes the HTTP surface.
type Options struct {
	// APIKey, when set, is required on POST /v1/runs.
	APIKey string
	// RunTimeout bounds a manual run.
	RunTimeout time.Duration
	// Ready backs /readyz. A nil func always reports ready.
	Ready ReadyFunc
}

// Server wires HTTP handlers to the ranking store and run trigger.
type Server struct {
	router chi.Router
	store  crawler.RankingStore
	runner RunTrigger
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store crawler.RankingStore, runner RunTrigger, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 15 * time.Minute
	}
	s := &Server{
		store:  store,
		runner: runner,
		opts:   opts,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(recoverMiddleware(logger))

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(60 * time.Second))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Get("/v1/bestsellers", s.listBestsellers)
		r.Get("/v1/runs/last", s.lastRun)
	})
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/v1/runs", s.triggerRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type bestsellersResponse struct {
	Count int                  `json:"count"`
	Books []crawler.StoredBook `json:"books"`
}

func (s *Server) listBestsellers(w http.ResponseWriter, r *http.Request) {
	books, err := s.store.ListRanked(r.Context())
	if err != nil {
		s.logger.Error("list bestsellers failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list bestsellers")
		return
	}
	if books == nil {
		books = []crawler.StoredBook{}
	}
	writeJSON(w, http.StatusOK, bestsellersResponse{Count: len(books), Books: books})
}

type runFailure struct {
	Error  string            `json:"error"`
	Report crawler.RunReport `json:"report"`
}

func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RunTimeout)
	defer cancel()

	report, err := s.runner.RunOnce(ctx)
	switch {
	case errors.Is(err, trigger.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeJSON(w, http.StatusBadGateway, runFailure{Error: err.Error(), Report: report})
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) lastRun(w http.ResponseWriter, _ *http.Request) {
	last, ok := s.runner.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no run has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
