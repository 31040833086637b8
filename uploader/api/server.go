// Package api serves the combined leaderboard over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/skylight-bench/uploader/ranking"
	"github.com/skylight-bench/uploader/types"
)

// Server exposes leaderboard data over HTTP.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

type server struct {
	addr       string
	engine     *ranking.Engine
	log        logrus.FieldLogger
	httpServer *http.Server
}

// NewServer creates an API server backed by the given ranking engine.
func NewServer(addr string, engine *ranking.Engine) Server {
	return &server{
		addr:   addr,
		engine: engine,
		log:    logrus.WithField("component", "api-server"),
	}
}

// Start begins serving. It returns immediately; the listener runs in the
// background until Stop.
func (s *server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // combined computation can be slow
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		s.log.WithField("addr", s.addr).Info("API server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("API server failed")
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.log.Info("API server stopped")
	return nil
}

func (s *server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.enableCORS)
	router.Use(s.loggingMiddleware)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/leaderboard/combined", s.handleCombined).Methods("GET", "OPTIONS")
	api.HandleFunc("/models", s.handleModels).Methods("GET", "OPTIONS")
	api.HandleFunc("/sparsities", s.handleSparsities).Methods("GET", "OPTIONS")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	return router
}

func (s *server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("HTTP request processed")
	})
}

// handleCombined computes the combined leaderboard. Query parameters:
// metric, models (comma-separated names), sparsities (comma-separated
// values) and workers.
func (s *server) handleCombined(w http.ResponseWriter, r *http.Request) {
	opts := types.RankingOptions{
		Metric: r.URL.Query().Get("metric"),
	}
	if models := r.URL.Query().Get("models"); models != "" {
		opts.Models = splitList(models)
	}
	if raw := r.URL.Query().Get("sparsities"); raw != "" {
		for _, part := range splitList(raw) {
			v, err := strconv.ParseFloat(part, 64)
			if err != nil {
				s.writeErrorResponse(w, http.StatusBadRequest, "invalid sparsity value: "+part)
				return
			}
			opts.Sparsities = append(opts.Sparsities, v)
		}
	}
	if raw := r.URL.Query().Get("workers"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			s.writeErrorResponse(w, http.StatusBadRequest, "invalid workers value: "+raw)
			return
		}
		opts.Workers = v
	}

	rows, sparsities, err := s.engine.Combined(r.Context(), opts)
	if err != nil {
		s.log.WithError(err).Error("Failed to compute combined leaderboard")
		s.writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSONResponse(w, http.StatusOK, map[string]any{
		"results":    rows,
		"sparsities": sparsities,
		"metric":     resolvedMetric(rows, opts.Metric),
	})
}

func resolvedMetric(rows []types.CombinedRow, requested string) string {
	if len(rows) > 0 {
		return rows[0].MetricName
	}
	if requested != "" {
		return requested
	}
	return "overall_score"
}

func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.engine.Models(r.Context())
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]any{"models": names})
}

func (s *server) handleSparsities(w http.ResponseWriter, r *http.Request) {
	sparsities, err := s.engine.Sparsities(r.Context())
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]any{"sparsities": sparsities})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *server) writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.WithError(err).Error("Failed to encode response")
	}
}

func (s *server) writeErrorResponse(w http.ResponseWriter, status int, message string) {
	s.writeJSONResponse(w, status, map[string]string{"error": message})
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
