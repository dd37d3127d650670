// Package api provides HTTP and WebSocket endpoints exposing consensus
// prices, the index series and source health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/consensus"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/health"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/index"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/metrics"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/storage"
)

// Server is the read-only HTTP API over the engine's stored output.
type Server struct {
	addr     string
	store    *storage.Store
	tracker  *health.Tracker
	server   *http.Server
	logger   *logging.Logger
	cacheTTL time.Duration
	wsServer *WebSocketServer

	mu           sync.RWMutex
	cachedLatest []consensus.Price
	cachedSeries *index.Series
	cacheTime    time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, store *storage.Store, tracker *health.Tracker, cacheTTL time.Duration, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Server{
		addr:     addr,
		store:    store,
		tracker:  tracker,
		logger:   logger,
		cacheTTL: cacheTTL,
	}
}

// SetWebSocketServer sets the WebSocket server for streaming updates.
func (s *Server) SetWebSocketServer(ws *WebSocketServer) {
	s.wsServer = ws
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/consensus", s.handleConsensus)
	mux.HandleFunc("/v1/index", s.handleIndex)
	mux.HandleFunc("/v1/sources", s.handleSources)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("Stopping HTTP server")
		return s.server.Shutdown(ctx)
	}
	return nil
}

// InvalidateCache drops the cached responses after a new run lands.
func (s *Server) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachedLatest = nil
	s.cachedSeries = nil
	s.cacheTime = time.Time{}
}

// handleHealth reports overall engine health derived from source standing.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/health", status, time.Since(start))
	}()

	report := s.tracker.Report()
	code := http.StatusOK
	if report.Overall == health.OverallCritical {
		code = http.StatusServiceUnavailable
		status = "503"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  report.Overall,
		"sources": len(report.Sources),
	})
}

// handleConsensus serves /v1/consensus. Without a date parameter it returns
// the latest stored day; ?date=YYYY-MM-DD selects a specific day.
func (s *Server) handleConsensus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/consensus", status, time.Since(start))
	}()

	if dateParam := r.URL.Query().Get("date"); dateParam != "" {
		day, err := time.Parse("2006-01-02", dateParam)
		if err != nil {
			status = "400"
			http.Error(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		prices, err := s.store.ConsensusByDay(r.Context(), day)
		if errors.Is(err, storage.ErrNotFound) {
			status = "404"
			http.Error(w, "no prices for that day", http.StatusNotFound)
			return
		}
		if err != nil {
			status = "500"
			s.logger.Error("Failed to load consensus", "error", err.Error())
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		s.sendJSON(w, prices)
		return
	}

	prices, err := s.latestConsensus(r.Context())
	if errors.Is(err, storage.ErrNotFound) {
		status = "404"
		http.Error(w, "no prices stored yet", http.StatusNotFound)
		return
	}
	if err != nil {
		status = "500"
		s.logger.Error("Failed to load consensus", "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, prices)
}

// handleIndex serves the full index series.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/index", status, time.Since(start))
	}()

	series, err := s.indexSeries(r.Context())
	if err != nil {
		status = "500"
		s.logger.Error("Failed to load index", "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(series.Points) == 0 {
		status = "404"
		http.Error(w, "no index computed yet", http.StatusNotFound)
		return
	}
	s.sendJSON(w, series)
}

// handleSources serves the per-source health report.
func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RecordHTTPRequest("/v1/sources", "200", time.Since(start))
	}()

	s.sendJSON(w, s.tracker.Report())
}

// latestConsensus returns the latest day's prices, cached for cacheTTL.
func (s *Server) latestConsensus(ctx context.Context) ([]consensus.Price, error) {
	s.mu.RLock()
	if time.Since(s.cacheTime) < s.cacheTTL && s.cachedLatest != nil {
		cached := s.cachedLatest
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	day, err := s.store.LatestDay(ctx)
	if err != nil {
		return nil, err
	}
	prices, err := s.store.ConsensusByDay(ctx, day)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cachedLatest = prices
	s.cacheTime = time.Now()
	s.mu.Unlock()

	return prices, nil
}

// indexSeries returns the stored series, cached together with the latest
// consensus response.
func (s *Server) indexSeries(ctx context.Context) (*index.Series, error) {
	s.mu.RLock()
	if time.Since(s.cacheTime) < s.cacheTTL && s.cachedSeries != nil {
		cached := s.cachedSeries
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	series, err := s.store.IndexSeries(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cachedSeries = series
	s.mu.Unlock()

	return series, nil
}

// sendJSON sends a JSON response.
func (s *Server) sendJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err.Error())
	}
}
