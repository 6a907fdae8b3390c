package network

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleeper captures backoff delays without waiting
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *recordingSleeper) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func TestMakeRequestWithRetryAlwaysFails(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8} {
		t.Run(fmt.Sprintf("max_retries=%d", n), func(t *testing.T) {
			sleeper := &recordingSleeper{}
			m := newTestManager(t, RetryConfig{MaxRetries: n, RetryDelay: time.Second}, WithSleeper(sleeper.sleep))

			calls := 0
			last := errors.New("connection reset by peer")
			err := m.MakeRequestWithRetry(context.Background(), func(ctx context.Context) error {
				calls++
				if calls == n {
					return last
				}
				return fmt.Errorf("attempt %d failed", calls)
			})

			assert.Equal(t, n, calls)

			var netErr *NetworkError
			require.ErrorAs(t, err, &netErr)
			assert.Equal(t, n, netErr.Attempts)
			assert.ErrorIs(t, err, last)
			assert.Contains(t, err.Error(), fmt.Sprintf("after %d attempts", n))
			assert.Contains(t, err.Error(), "connection reset by peer")
			assert.True(t, IsNetworkError(err))

			// one sleep between each pair of attempts, none after the last
			delays := sleeper.recorded()
			require.Len(t, delays, n-1)
			for i, d := range delays {
				assert.Equal(t, time.Duration(1<<i)*time.Second, d)
			}
		})
	}
}

func TestMakeRequestWithRetryElapsed(t *testing.T) {
	delay := 10 * time.Millisecond
	m := newTestManager(t, RetryConfig{MaxRetries: 4, RetryDelay: delay})

	start := time.Now()
	err := m.MakeRequestWithRetry(context.Background(), func(ctx context.Context) error {
		return errors.New("timeout")
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	// 10ms + 20ms + 40ms
	assert.GreaterOrEqual(t, elapsed, 7*delay)
}

func TestMakeRequestWithRetryRecovers(t *testing.T) {
	sleeper := &recordingSleeper{}
	m := newTestManager(t, RetryConfig{MaxRetries: 3, RetryDelay: time.Second}, WithSleeper(sleeper.sleep))

	calls := 0
	value, err := Call(context.Background(), m, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("dns failure")
		}
		return fmt.Sprintf("response %d", calls), nil
	})

	require.NoError(t, err)
	assert.Equal(t, "response 3", value)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.recorded())
}

func TestMakeRequestWithRetryFirstTry(t *testing.T) {
	sleeper := &recordingSleeper{}
	m := newTestManager(t, RetryConfig{}, WithSleeper(sleeper.sleep))

	calls := 0
	err := m.MakeRequestWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, WithOperation("embed"))

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.recorded())
}

func TestMakeRequestWithRetryPermanent(t *testing.T) {
	sleeper := &recordingSleeper{}
	m := newTestManager(t, RetryConfig{MaxRetries: 5}, WithSleeper(sleeper.sleep))

	invalidKey := errors.New("invalid api key")
	calls := 0
	err := m.MakeRequestWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(invalidKey)
	})

	assert.Equal(t, 1, calls)
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, 1, netErr.Attempts)
	assert.Same(t, invalidKey, netErr.Err)
	assert.Empty(t, sleeper.recorded())
}

func TestMakeRequestWithRetryCancelledDuringBackoff(t *testing.T) {
	m := newTestManager(t, RetryConfig{MaxRetries: 5, RetryDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- m.MakeRequestWithRetry(ctx, func(ctx context.Context) error {
			calls++
			return errors.New("unavailable")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, IsNetworkError(err))
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
}

func TestMakeRequestWithRetryProxyScope(t *testing.T) {
	t.Setenv("HTTPS_PROXY", "http://proxy.local:3128")

	m := newTestManager(t, RetryConfig{MaxRetries: 1})

	var seen string
	var present bool
	err := m.MakeRequestWithRetry(context.Background(), func(ctx context.Context) error {
		seen, present = os.LookupEnv("HTTPS_PROXY")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, present, "proxy env must be cleared by default")
	assert.Empty(t, seen)
	assert.Equal(t, "http://proxy.local:3128", os.Getenv("HTTPS_PROXY"))

	err = m.MakeRequestWithRetry(context.Background(), func(ctx context.Context) error {
		seen, present = os.LookupEnv("HTTPS_PROXY")
		return nil
	}, WithProxy(true))
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "http://proxy.local:3128", seen)
}

func TestMakeRequestWithRetryNestedOppositeScope(t *testing.T) {
	m := newTestManager(t, RetryConfig{MaxRetries: 2}, WithSleeper((&recordingSleeper{}).sleep))

	innerCalls := 0
	done := make(chan error, 1)
	go func() {
		done <- m.MakeRequestWithRetry(context.Background(), func(ctx context.Context) error {
			return m.MakeRequestWithRetry(ctx, func(ctx context.Context) error {
				innerCalls++
				return nil
			})
		}, WithProxy(true))
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrProxyScopeConflict)
		assert.Zero(t, innerCalls)
	case <-time.After(2 * time.Second):
		t.Fatal("direct request inside a proxy attempt blocked")
	}
}

func TestMakeRequestWithRetryNestedSameScope(t *testing.T) {
	m := newTestManager(t, RetryConfig{MaxRetries: 1})

	innerCalls := 0
	err := m.MakeRequestWithRetry(context.Background(), func(ctx context.Context) error {
		return m.MakeRequestWithRetry(ctx, func(ctx context.Context) error {
			innerCalls++
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, innerCalls)
}

func TestMakeRequestWithRetryScopeWaitHonorsDeadline(t *testing.T) {
	held := enterScope(t, true)
	defer held.Exit()

	m := newTestManager(t, RetryConfig{MaxRetries: 3})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- m.MakeRequestWithRetry(ctx, func(ctx context.Context) error {
			calls++
			return nil
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Zero(t, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("deadline ignored while waiting for the proxy scope")
	}
}

func TestMakeRequestWithRetryRestoresEnvOnFailure(t *testing.T) {
	t.Setenv("http_proxy", "socks5://127.0.0.1:1080")
	unsetEnv(t, "HTTP_PROXY")
	before := snapshotProxyEnv()

	m := newTestManager(t, RetryConfig{MaxRetries: 2}, WithSleeper((&recordingSleeper{}).sleep))
	err := m.MakeRequestWithRetry(context.Background(), func(ctx context.Context) error {
		return errors.New("refused")
	})

	require.Error(t, err)
	assert.Equal(t, before, snapshotProxyEnv())
}

func TestMakeRequestWithRetryRateLimit(t *testing.T) {
	m := newTestManager(t, RetryConfig{MaxRetries: 3}, WithRateLimit(20), WithSleeper((&recordingSleeper{}).sleep))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.MakeRequestWithRetry(ctx, func(ctx context.Context) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCallReturnsZeroOnFailure(t *testing.T) {
	m := newTestManager(t, RetryConfig{MaxRetries: 2}, WithSleeper((&recordingSleeper{}).sleep))

	value, err := Call(context.Background(), m, func(ctx context.Context) (int, error) {
		return 42, errors.New("bad gateway")
	})
	assert.Error(t, err)
	assert.Zero(t, value)
}

func TestBackoff(t *testing.T) {
	m := newTestManager(t, RetryConfig{RetryDelay: 500 * time.Millisecond})

	assert.Equal(t, 500*time.Millisecond, m.backoff(0))
	assert.Equal(t, time.Second, m.backoff(1))
	assert.Equal(t, 4*time.Second, m.backoff(3))
	assert.Equal(t, 512*time.Second, m.backoff(10))
	assert.Equal(t, time.Duration(1<<63-1), m.backoff(200))
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	assert.False(t, IsPermanent(errors.New("x")))
	assert.True(t, IsPermanent(fmt.Errorf("wrapped: %w", Permanent(errors.New("x")))))
}
