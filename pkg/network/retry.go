package network

import (
	"context"
	"fmt"
	"math"
	"time"

	"llmnet/internal/logger"
	"llmnet/internal/metrics"
)

// RequestFunc performs one attempt of a network operation
type RequestFunc func(ctx context.Context) error

type requestOptions struct {
	useProxy  bool
	operation string
}

// RequestOption customizes a single MakeRequestWithRetry call
type RequestOption func(*requestOptions)

// WithProxy keeps the proxy environment for the attempts. The default is to
// clear it for the duration of each attempt.
func WithProxy(useProxy bool) RequestOption {
	return func(o *requestOptions) {
		o.useProxy = useProxy
	}
}

// WithOperation names the operation in logs and metrics
func WithOperation(name string) RequestOption {
	return func(o *requestOptions) {
		if name != "" {
			o.operation = name
		}
	}
}

// MakeRequestWithRetry calls fn up to MaxRetries times, each attempt inside a
// proxy scope. After a failed attempt that is not the last one it waits
// RetryDelay * 2^attempt. When every attempt fails it returns a
// *NetworkError wrapping the last error. An error marked with Permanent ends
// the loop early. Cancelling ctx while waiting for the proxy scope or during
// a backoff stops the loop with the context error. Calling it from inside an
// attempt of the other proxy mode fails with ErrProxyScopeConflict.
func (m *ConnectionManager) MakeRequestWithRetry(ctx context.Context, fn RequestFunc, opts ...RequestOption) error {
	o := requestOptions{operation: "request"}
	for _, opt := range opts {
		opt(&o)
	}

	id := logger.GenerateID()
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s: rate limit wait: %w", o.operation, err)
			}
		}

		scope, err := EnterProxyScope(ctx, o.useProxy)
		if err != nil {
			metrics.RequestFailures.WithLabelValues(o.operation).Inc()
			m.logger.Warn(id, "%s stopped after %d attempts: %v", o.operation, attempts, err)
			return fmt.Errorf("%s: %w", o.operation, err)
		}

		attempts++
		err = m.attempt(scope, fn)
		if err == nil {
			metrics.RequestAttempts.WithLabelValues(o.operation, "success").Inc()
			if attempt > 0 {
				m.logger.Info(id, "%s succeeded on attempt %d/%d", o.operation, attempts, m.cfg.MaxRetries)
			}
			return nil
		}

		lastErr = err
		metrics.RequestAttempts.WithLabelValues(o.operation, "failure").Inc()

		if IsPermanent(err) {
			m.logger.Warn(id, "%s attempt %d/%d failed permanently: %v", o.operation, attempts, m.cfg.MaxRetries, err)
			break
		}
		if attempt == m.cfg.MaxRetries-1 {
			break
		}

		delay := m.backoff(attempt)
		m.logger.Warn(id, "%s attempt %d/%d failed: %v, retrying in %v", o.operation, attempts, m.cfg.MaxRetries, err, delay)
		metrics.RequestRetries.WithLabelValues(o.operation).Inc()
		metrics.BackoffSeconds.Observe(delay.Seconds())

		if err := m.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: retry cancelled after %d attempts: %w", o.operation, attempts, err)
		}
	}

	metrics.RequestFailures.WithLabelValues(o.operation).Inc()
	m.logger.Error(id, "%s failed after %d attempts: %v", o.operation, attempts, lastErr)
	return &NetworkError{Attempts: attempts, Err: unwrapPermanent(lastErr)}
}

func (m *ConnectionManager) attempt(scope *ProxyScope, fn RequestFunc) error {
	defer scope.Exit()
	return fn(scope.Context())
}

// backoff returns RetryDelay * 2^attempt. There is no upper cap; only a
// value that would overflow time.Duration is clamped.
func (m *ConnectionManager) backoff(attempt int) time.Duration {
	d := float64(m.cfg.RetryDelay) * math.Pow(2, float64(attempt))
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Call is MakeRequestWithRetry for attempts that produce a value. The value
// of the successful attempt is returned.
func Call[T any](ctx context.Context, m *ConnectionManager, fn func(ctx context.Context) (T, error), opts ...RequestOption) (T, error) {
	var result T
	err := m.MakeRequestWithRetry(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
