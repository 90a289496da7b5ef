// Package api serves read-only HTTP access to pipeline output and the run
// ledger.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	jsoniter "github.com/json-iterator/go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/blob"
	"github.com/sells-group/secfin/internal/fsds"
	"github.com/sells-group/secfin/internal/partition"
	"github.com/sells-group/secfin/internal/runlog"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

var adshRe = regexp.MustCompile(`^\d+-\d{2}-\d+$`)

const defaultRoot = "JSON_Conversion"

// Server holds the router and its backing stores.
type Server struct {
	store   blob.Store
	ledger  runlog.Store
	origins []string
	router  chi.Router
}

// New builds a Server. origins lists allowed CORS origins; empty allows any.
func New(store blob.Store, ledger runlog.Store, origins []string) *Server {
	if ledger == nil {
		ledger = runlog.Nop{}
	}
	s := &Server{store: store, ledger: ledger, origins: origins}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "api: listen")
	}
	return nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := []string{"*"}
	if len(s.origins) > 0 {
		origins = s.origins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/partitions/latest", s.handleLatest)
	r.Get("/runs", s.handleRuns)
	r.Get("/documents/{year}/{quarter}/{adsh}", s.handleDocument)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	root := r.URL.Query().Get("root")
	if root == "" {
		root = defaultRoot
	}
	latest, err := partition.Resolve(r.Context(), s.store, root)
	if errors.Is(err, partition.ErrNoPartitionFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"year":    latest.Year,
		"quarter": latest.Quarter,
		"prefix":  latest.Prefix(root),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.ledger.List(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if entries == nil {
		entries = []runlog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "year must be numeric")
		return
	}
	quarter, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(chi.URLParam(r, "quarter")), "q"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "quarter must be 1-4 or q1-q4")
		return
	}
	p, err := fsds.NewPartition(year, quarter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	adsh := chi.URLParam(r, "adsh")
	if !adshRe.MatchString(adsh) {
		writeError(w, http.StatusBadRequest, "adsh must look like 0000320193-24-000001")
		return
	}

	rc, err := s.store.Get(r.Context(), p.JSONKey(adsh))
	if errors.Is(err, blob.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	defer rc.Close() //nolint:errcheck

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		zap.L().Warn("api: document stream interrupted", zap.String("adsh", adsh), zap.Error(err))
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("api: request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsonAPI.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: failed to write JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
