package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"llmnet/internal/database"
	"llmnet/internal/logger"
	"llmnet/pkg/checker"
	"llmnet/pkg/monitor"
	"llmnet/pkg/network"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthSource is the part of monitor.Monitor the server reports on
type HealthSource interface {
	Stats() monitor.Stats
	Latest() []checker.CheckResult
	DBStats(ctx context.Context) (*database.HealthStats, error)
}

// Diagnoser is the part of network.ConnectionManager the server exposes
type Diagnoser interface {
	DiagnoseConnectionIssues(ctx context.Context) network.DiagnosticReport
	GetBestTimeout(ctx context.Context, baseURL string) int
}

type Server struct {
	health    HealthSource
	diagnoser Diagnoser
	server    *http.Server
	config    *Config
	stats     *Stats
	metrics   http.Handler
	logger    *logger.Logger
}

type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Stats struct {
	RequestsHandled int64
	FailedRequests  int64
	mu              sync.RWMutex
}

func NewServer(health HealthSource, diagnoser Diagnoser, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Server{
		health:    health,
		diagnoser: diagnoser,
		config:    config,
		stats:     &Stats{},
		metrics:   promhttp.Handler(),
		logger:    logger.New("status"),
	}
	s.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        s,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddr:   ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Start blocks serving until Stop is called. It returns http.ErrServerClosed after Stop.
func (s *Server) Start() error {
	s.logger.InfoBg("Status server listening on %s", s.config.ListenAddr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var handler http.HandlerFunc
	switch r.URL.Path {
	case "/health":
		handler = s.handleHealth
	case "/stats":
		handler = s.handleStats
	case "/diagnose":
		handler = s.handleDiagnose
	case "/timeout":
		handler = s.handleTimeout
	case "/metrics":
		handler = s.metrics.ServeHTTP
	default:
		s.incrementFailedRequests()
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		s.incrementFailedRequests()
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.incrementRequestsHandled()
	handler(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.health.Stats()
	if stats.Total == 0 {
		http.Error(w, "No health check has completed yet", http.StatusServiceUnavailable)
		return
	}
	if stats.Connected == 0 {
		http.Error(w, fmt.Sprintf("No providers reachable - 0/%d", stats.Total), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK - %d/%d providers reachable", stats.Connected, stats.Total)
}

type statsResponse struct {
	Monitor   monitor.Stats         `json:"monitor"`
	Providers []checker.CheckResult `json:"providers"`
	Database  any                   `json:"database"`
	Server    map[string]int64      `json:"server"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Monitor:   s.health.Stats(),
		Providers: s.health.Latest(),
		Database:  "not_available",
	}

	if dbStats, err := s.health.DBStats(r.Context()); err != nil {
		s.logger.WarnBg("Failed to read database stats: %v", err)
	} else if dbStats != nil {
		resp.Database = dbStats
	}

	handled, failed := s.getStats()
	resp.Server = map[string]int64{
		"requests_handled": handled,
		"failed_requests":  failed,
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.diagnoser.DiagnoseConnectionIssues(r.Context()))
}

func (s *Server) handleTimeout(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		s.incrementFailedRequests()
		http.Error(w, "missing url query parameter", http.StatusBadRequest)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"url":                 target,
		"recommended_timeout": s.diagnoser.GetBestTimeout(r.Context(), target),
	})
}

// writeJSON encodes v as the response body. An encoding failure after the
// header is sent is logged and counted as a failed request.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.incrementFailedRequests()
		s.logger.WarnBg("Failed to encode response: %v", err)
	}
}

func (s *Server) getStats() (handled, failed int64) {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()
	return s.stats.RequestsHandled, s.stats.FailedRequests
}

func (s *Server) incrementRequestsHandled() {
	s.stats.mu.Lock()
	s.stats.RequestsHandled++
	s.stats.mu.Unlock()
}

func (s *Server) incrementFailedRequests() {
	s.stats.mu.Lock()
	s.stats.FailedRequests++
	s.stats.mu.Unlock()
}
