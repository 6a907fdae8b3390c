package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"llmnet/internal/database"
	"llmnet/pkg/checker"
	"llmnet/pkg/network"
	"llmnet/pkg/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// stubProber reports providers whose name starts with "up" as connected
type stubProber struct {
	mu    sync.Mutex
	calls int
}

func (s *stubProber) CheckAPIHealth(ctx context.Context, name, baseURL string) network.HealthCheckResult {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	r := network.HealthCheckResult{Provider: name, URL: baseURL, CheckedAt: time.Now()}
	if len(name) >= 2 && name[:2] == "up" {
		code := 200
		r.Connected = true
		r.StatusCode = &code
		return r
	}
	err := errors.New("dial tcp: connection refused")
	r.Error = err.Error()
	r.Err = err
	return r
}

func (s *stubProber) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeRecorder struct {
	mu       sync.Mutex
	runs     map[string]int
	cleanups int
	failWith error
}

func (f *fakeRecorder) RecordChecks(ctx context.Context, runID string, records []database.CheckRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if f.runs == nil {
		f.runs = make(map[string]int)
	}
	f.runs[runID] = len(records)
	return nil
}

func (f *fakeRecorder) CleanupOld(ctx context.Context, maxAge time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return 0, nil
}

func (f *fakeRecorder) Stats(ctx context.Context) (database.HealthStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return database.HealthStats{Runs: len(f.runs)}, nil
}

func (f *fakeRecorder) cleanupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleanups
}

var testProviders = []provider.Provider{
	{Name: "up-a", BaseURL: "https://a.example"},
	{Name: "down-b", BaseURL: "https://b.example"},
	{Name: "up-c", BaseURL: "https://c.example"},
}

func TestRefreshNow(t *testing.T) {
	rec := &fakeRecorder{}
	m := New(checker.NewChecker(&stubProber{}), testProviders, rec, Config{})

	assert.Nil(t, m.Latest())
	assert.Nil(t, m.Stats().LastRun)

	results, err := m.RefreshNow(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	stats := m.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Connected)
	assert.Equal(t, map[string]int{"healthy": 2, "unreachable": 1}, stats.ByStatus)
	assert.Equal(t, 1, stats.Runs)
	require.NotNil(t, stats.LastRun)
	require.NotEmpty(t, stats.LastRunID)
	assert.Equal(t, 3, rec.runs[stats.LastRunID])

	latest := m.Latest()
	latest[0].Status = checker.StatusError
	assert.Equal(t, checker.StatusHealthy, m.Latest()[0].Status, "Latest must return a copy")

	dbStats, err := m.DBStats(context.Background())
	require.NoError(t, err)
	require.NotNil(t, dbStats)
	assert.Equal(t, 1, dbStats.Runs)
}

func TestRefreshNowRecorderFailure(t *testing.T) {
	boom := errors.New("disk full")
	m := New(checker.NewChecker(&stubProber{}), testProviders, &fakeRecorder{failWith: boom}, Config{})

	results, err := m.RefreshNow(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, results, 3)
	assert.Len(t, m.Latest(), 3, "cache is updated even when recording fails")
}

func TestRefreshNowNoProviders(t *testing.T) {
	m := New(checker.NewChecker(&stubProber{}), nil, nil, Config{})

	_, err := m.RefreshNow(context.Background())
	assert.ErrorIs(t, err, ErrNoProviders)
	assert.ErrorIs(t, m.Start(), ErrNoProviders)
}

func TestWithoutRecorder(t *testing.T) {
	m := New(checker.NewChecker(&stubProber{}), testProviders, nil, Config{})

	_, err := m.RefreshNow(context.Background())
	require.NoError(t, err)

	dbStats, err := m.DBStats(context.Background())
	require.NoError(t, err)
	assert.Nil(t, dbStats)
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	prober := &stubProber{}
	rec := &fakeRecorder{}
	m := New(checker.NewChecker(prober), testProviders, rec, Config{
		Interval:        20 * time.Millisecond,
		MaxAge:          time.Hour,
		CleanupInterval: 10 * time.Millisecond,
	})

	require.NoError(t, m.Start())
	assert.Error(t, m.Start(), "second start must fail")

	assert.Eventually(t, func() bool {
		return m.Stats().Runs >= 2 && rec.cleanupCount() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	m.Stop()

	runs := m.Stats().Runs
	calls := prober.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, runs, m.Stats().Runs, "no refresh after Stop")
	assert.Equal(t, calls, prober.callCount())

	assert.Error(t, m.Start(), "a stopped monitor cannot be restarted")
}

func TestConcurrentStart(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := New(checker.NewChecker(&stubProber{}), testProviders, nil, Config{Interval: time.Hour})

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Start()
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one Start wins")

	m.Stop()
}

func TestMonitorWithDatabase(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	db, err := database.NewDB(filepath.Join(t.TempDir(), "health.db"))
	require.NoError(t, err)
	svc := database.NewService(db)

	m := New(checker.NewChecker(&stubProber{}), testProviders, svc, Config{Interval: time.Hour})
	require.NoError(t, m.Start())

	assert.Eventually(t, func() bool {
		stats, err := svc.Stats(context.Background())
		return err == nil && stats.TotalChecks == 3
	}, 2*time.Second, 5*time.Millisecond)
	m.Stop()

	latest, err := svc.LatestByProvider(context.Background())
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, "unreachable", latest["down-b"].Status)
	assert.True(t, latest["up-a"].Connected)

	dbStats, err := m.DBStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, dbStats.TotalChecks)

	require.NoError(t, db.Close())
}
