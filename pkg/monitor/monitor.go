package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"llmnet/internal/database"
	"llmnet/internal/logger"
	"llmnet/internal/metrics"
	"llmnet/pkg/checker"
	"llmnet/pkg/provider"

	"github.com/google/uuid"
)

// ErrNoProviders is returned when a monitor has nothing to check
var ErrNoProviders = errors.New("no providers to check")

// Recorder persists check runs. *database.Service satisfies it.
type Recorder interface {
	RecordChecks(ctx context.Context, runID string, records []database.CheckRecord) error
	CleanupOld(ctx context.Context, maxAge time.Duration) (int64, error)
	Stats(ctx context.Context) (database.HealthStats, error)
}

type Config struct {
	Interval        time.Duration
	RefreshTimeout  time.Duration
	MaxAge          time.Duration
	CleanupInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = 2 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	return c
}

// Monitor periodically checks a fixed provider set and keeps the latest results
type Monitor struct {
	checker   *checker.Checker
	providers []provider.Provider
	recorder  Recorder
	cfg       Config

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	startMu sync.Mutex
	started bool
	logger  *logger.Logger

	mu        sync.RWMutex
	latest    []checker.CheckResult
	lastRun   time.Time
	lastRunID string
	runs      int
}

// New creates a monitor. recorder may be nil to keep results in memory only.
func New(c *checker.Checker, providers []provider.Provider, recorder Recorder, cfg Config) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		checker:   c,
		providers: providers,
		recorder:  recorder,
		cfg:       cfg.withDefaults(),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.New("monitor"),
	}
}

// Start runs a background refresh immediately, then one every Interval.
// Old rows are cleaned up every CleanupInterval when a recorder and MaxAge are set.
func (m *Monitor) Start() error {
	if len(m.providers) == 0 {
		return ErrNoProviders
	}

	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.started {
		return fmt.Errorf("monitor already started")
	}
	if m.ctx.Err() != nil {
		return fmt.Errorf("monitor already stopped")
	}
	m.started = true

	m.logger.InfoBg("Starting health monitor for %d providers (interval %v)", len(m.providers), m.cfg.Interval)

	m.wg.Add(1)
	go m.updateLoop()

	if m.recorder != nil && m.cfg.MaxAge > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}

	return nil
}

// Stop cancels the loops and waits for an in-flight refresh to finish
func (m *Monitor) Stop() {
	m.logger.InfoBg("Stopping health monitor...")

	m.cancel()
	m.wg.Wait()

	m.logger.InfoBg("Health monitor stopped")
}

// RefreshNow checks every provider, caches the results and records them
// when a recorder is set. A recording failure is returned after the cache
// has been updated.
func (m *Monitor) RefreshNow(ctx context.Context) ([]checker.CheckResult, error) {
	if len(m.providers) == 0 {
		return nil, ErrNoProviders
	}

	runID := uuid.NewString()
	id := logger.GenerateID()
	m.logger.Info(id, "Refreshing %d providers (run %s)", len(m.providers), runID)

	results := m.checker.CheckProviders(ctx, m.providers)

	m.mu.Lock()
	m.latest = results
	m.lastRun = time.Now()
	m.lastRunID = runID
	m.runs++
	m.mu.Unlock()

	m.logger.Info(id, "Run %s: %d/%d providers connected", runID, checker.ConnectedCount(results), len(results))

	var err error
	if m.recorder != nil {
		if err = m.recorder.RecordChecks(ctx, runID, checker.ToRecords(results)); err != nil {
			m.logger.Warn(id, "Failed to record run %s: %v", runID, err)
			err = fmt.Errorf("record run %s: %w", runID, err)
		}
	}

	metrics.MonitorRuns.WithLabelValues(metrics.BoolResult(err == nil)).Inc()
	return results, err
}

// Latest returns a copy of the most recent results, nil before the first run
func (m *Monitor) Latest() []checker.CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.latest == nil {
		return nil
	}
	out := make([]checker.CheckResult, len(m.latest))
	copy(out, m.latest)
	return out
}

// Stats summarizes the most recent run
type Stats struct {
	Total     int            `json:"total" yaml:"total"`
	Connected int            `json:"connected" yaml:"connected"`
	ByStatus  map[string]int `json:"by_status" yaml:"by_status"`
	Runs      int            `json:"runs" yaml:"runs"`
	LastRunID string         `json:"last_run_id,omitempty" yaml:"last_run_id,omitempty"`
	LastRun   *time.Time     `json:"last_run,omitempty" yaml:"last_run,omitempty"`
}

func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Total:     len(m.latest),
		Connected: checker.ConnectedCount(m.latest),
		ByStatus:  make(map[string]int),
		Runs:      m.runs,
		LastRunID: m.lastRunID,
	}
	for status, group := range checker.GroupByStatus(m.latest) {
		stats.ByStatus[status.String()] = len(group)
	}
	if !m.lastRun.IsZero() {
		last := m.lastRun
		stats.LastRun = &last
	}

	return stats
}

// DBStats returns the stored history statistics, or nil without a recorder
func (m *Monitor) DBStats(ctx context.Context) (*database.HealthStats, error) {
	if m.recorder == nil {
		return nil, nil
	}
	stats, err := m.recorder.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// Providers returns the monitored provider set
func (m *Monitor) Providers() []provider.Provider {
	return m.providers
}

func (m *Monitor) refresh() {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.RefreshTimeout)
	defer cancel()

	if _, err := m.RefreshNow(ctx); err != nil {
		m.logger.ErrorBg("Failed to refresh providers: %v", err)
	}
}

// updateLoop runs the periodic provider refresh
func (m *Monitor) updateLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.refresh()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.logger.DebugBg("Running scheduled provider refresh...")
			m.refresh()
		}
	}
}

// cleanupLoop periodically removes history older than MaxAge
func (m *Monitor) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.recorder.CleanupOld(m.ctx, m.cfg.MaxAge); err != nil {
				m.logger.WarnBg("Failed to cleanup old health checks: %v", err)
			}
		}
	}
}
