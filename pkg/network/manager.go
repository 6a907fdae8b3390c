// Package network provides resilient outbound calls for LLM and embedding
// provider adapters: proxy scoping, exponential-backoff retry, reachability
// probes and connection diagnostics.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"llmnet/internal/logger"
	"llmnet/internal/metrics"
	"llmnet/pkg/provider"

	netproxy "golang.org/x/net/proxy"
	"golang.org/x/time/rate"
)

// ConnectionManager wraps outbound HTTP calls with proxy control, retry and
// health probing. It is safe for concurrent use and is meant to be created
// once and passed to every adapter that needs it.
type ConnectionManager struct {
	cfg     RetryConfig
	proxy   *ProxyConfig
	direct  *http.Client
	proxied *http.Client
	limiter *rate.Limiter
	targets []provider.Provider

	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	logger *logger.Logger
}

// Option customizes a ConnectionManager
type Option func(*ConnectionManager)

// WithProxyConfig routes HTTPClient(true) through an explicit proxy
func WithProxyConfig(p *ProxyConfig) Option {
	return func(m *ConnectionManager) {
		m.proxy = p
	}
}

// WithHTTPClient replaces the direct client used for probes
func WithHTTPClient(c *http.Client) Option {
	return func(m *ConnectionManager) {
		m.direct = c
	}
}

// WithRateLimit limits request attempts to perSecond across the manager.
// Zero or negative disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(m *ConnectionManager) {
		if perSecond > 0 {
			burst := int(perSecond)
			if burst < 1 {
				burst = 1
			}
			m.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithDiagnoseTargets sets the endpoints probed by DiagnoseConnectionIssues.
// An empty list keeps the default providers.
func WithDiagnoseTargets(targets []provider.Provider) Option {
	return func(m *ConnectionManager) {
		if len(targets) > 0 {
			m.targets = targets
		}
	}
}

// WithSleeper replaces the backoff sleep
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *ConnectionManager) {
		m.sleep = fn
	}
}

// WithClock replaces the clock used to measure response times
func WithClock(now func() time.Time) Option {
	return func(m *ConnectionManager) {
		m.now = now
	}
}

// NewConnectionManager creates a manager. Zero fields of cfg take defaults.
func NewConnectionManager(cfg RetryConfig, opts ...Option) (*ConnectionManager, error) {
	m := &ConnectionManager{
		cfg:     cfg.withDefaults(),
		targets: provider.Defaults(),
		sleep:   sleepContext,
		now:     time.Now,
		logger:  logger.New("network"),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.direct == nil {
		transport, err := newTransport(nil)
		if err != nil {
			return nil, err
		}
		m.direct = &http.Client{Transport: transport}
	}

	if m.proxy != nil && m.proxy.URL != "" {
		transport, err := newTransport(m.proxy)
		if err != nil {
			return nil, err
		}
		m.proxied = &http.Client{Transport: transport}
	} else {
		m.proxied = m.direct
	}

	return m, nil
}

// Config returns the effective retry configuration
func (m *ConnectionManager) Config() RetryConfig {
	return m.cfg
}

// HTTPClient returns a client for adapter requests: direct, or through the
// configured ProxyConfig when useProxy is set. Callers that need a deadline
// should put it on the request context.
func (m *ConnectionManager) HTTPClient(useProxy bool) *http.Client {
	if useProxy {
		return m.proxied
	}
	return m.direct
}

// CloseIdleConnections drops pooled connections of both clients
func (m *ConnectionManager) CloseIdleConnections() {
	m.direct.CloseIdleConnections()
	if m.proxied != m.direct {
		m.proxied.CloseIdleConnections()
	}
}

func newTransport(p *ProxyConfig) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	// Proxy is left nil so the process environment never leaks into probes
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if p == nil || p.URL == "" {
		return transport, nil
	}

	proxyURL, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	switch proxyURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(proxyURL)
	case "socks5", "socks5h":
		var auth *netproxy.Auth
		if proxyURL.User != nil {
			password, _ := proxyURL.User.Password()
			auth = &netproxy.Auth{User: proxyURL.User.Username(), Password: password}
		}
		socks, err := netproxy.SOCKS5("tcp", proxyURL.Host, auth, dialer)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS dialer: %w", err)
		}
		if cd, ok := socks.(netproxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return socks.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
	}

	return transport, nil
}

// probe issues a direct GET inside a no-proxy scope and returns the status
// code. Waiting for the scope counts against timeout. Called from inside a
// proxy scope it skips the environment override; the probe client ignores the
// proxy variables either way.
func (m *ConnectionManager) probe(ctx context.Context, rawURL string, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scope, err := EnterProxyScope(ctx, false)
	switch {
	case err == nil:
		defer scope.Exit()
		ctx = scope.Context()
	case errors.Is(err, ErrProxyScopeConflict):
		m.logger.DebugBg("Probe of %s runs inside a proxy scope, environment left as is", rawURL)
	default:
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "llmnet/1.0")

	resp, err := m.direct.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// TestConnection reports whether url answers a GET. 200, 401 and 403 count as
// reachable since an unauthorized endpoint still responded. Errors are logged
// and reported as false. A non-positive timeout uses the configured one.
func (m *ConnectionManager) TestConnection(ctx context.Context, rawURL string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = m.cfg.Timeout
	}

	status, err := m.probe(ctx, rawURL, timeout)
	if err != nil {
		m.logger.DebugBg("Connection test to %s failed: %v", rawURL, err)
		return false
	}

	switch status {
	case http.StatusOK, http.StatusUnauthorized, http.StatusForbidden:
		return true
	default:
		m.logger.DebugBg("Connection test to %s returned HTTP %d", rawURL, status)
		return false
	}
}

// HealthCheckResult is the outcome of one API health probe
type HealthCheckResult struct {
	Provider       string    `json:"provider" yaml:"provider"`
	URL            string    `json:"url" yaml:"url"`
	Connected      bool      `json:"connected" yaml:"connected"`
	StatusCode     *int      `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	ResponseTimeMs *float64  `json:"response_time_ms,omitempty" yaml:"response_time_ms,omitempty"`
	Error          string    `json:"error,omitempty" yaml:"error,omitempty"`
	CheckedAt      time.Time `json:"checked_at" yaml:"checked_at"`

	// Err is the underlying request error, kept for classification
	Err error `json:"-" yaml:"-"`
}

// CheckAPIHealth probes baseURL with a fixed 10 second budget. It never
// fails: request errors are reported through Connected and Error.
func (m *ConnectionManager) CheckAPIHealth(ctx context.Context, providerName, baseURL string) HealthCheckResult {
	target := strings.TrimRight(baseURL, "/")
	result := HealthCheckResult{
		Provider: providerName,
		URL:      target,
	}

	start := m.now()
	result.CheckedAt = start
	status, err := m.probe(ctx, target, healthCheckTimeout)
	elapsed := m.now().Sub(start)

	metrics.HealthCheckDuration.WithLabelValues(providerName).Observe(elapsed.Seconds())

	if err != nil {
		result.Error = err.Error()
		result.Err = err
		metrics.HealthChecksTotal.WithLabelValues(providerName, "failure").Inc()
		metrics.ProviderConnected.WithLabelValues(providerName).Set(0)
		m.logger.WarnBg("Health check %s (%s) failed: %v", providerName, target, err)
		return result
	}

	ms := float64(elapsed) / float64(time.Millisecond)
	result.Connected = true
	result.StatusCode = &status
	result.ResponseTimeMs = &ms

	metrics.HealthChecksTotal.WithLabelValues(providerName, "success").Inc()
	metrics.ProviderConnected.WithLabelValues(providerName).Set(1)
	m.logger.DebugBg("Health check %s (%s): HTTP %d in %.0fms", providerName, target, status, ms)
	return result
}

// GetBestTimeout recommends a request timeout in seconds for baseURL from one
// short probe: under 1s gives 30, under 3s gives 60, anything slower or any
// failure gives 120.
func (m *ConnectionManager) GetBestTimeout(ctx context.Context, baseURL string) int {
	target := strings.TrimRight(baseURL, "/")

	start := m.now()
	_, err := m.probe(ctx, target, timeoutProbeBudget)
	elapsed := m.now().Sub(start)

	if err != nil {
		m.logger.DebugBg("Timeout probe to %s failed: %v", target, err)
		return 120
	}
	return recommendTimeout(elapsed)
}

func recommendTimeout(elapsed time.Duration) int {
	switch {
	case elapsed < 1*time.Second:
		return 30
	case elapsed < 3*time.Second:
		return 60
	default:
		return 120
	}
}
