package checker

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"

	"llmnet/internal/logger"
	"llmnet/pkg/network"
	"llmnet/pkg/provider"
)

type HealthStatus int

const (
	StatusUnknown HealthStatus = iota
	StatusHealthy
	StatusReachable
	StatusDegraded
	StatusTimeout
	StatusUnreachable
	StatusError
)

func (s HealthStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusReachable:
		return "reachable"
	case StatusDegraded:
		return "degraded"
	case StatusTimeout:
		return "timeout"
	case StatusUnreachable:
		return "unreachable"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseStatus is the inverse of String; unrecognized input yields StatusUnknown
func ParseStatus(s string) HealthStatus {
	switch s {
	case "healthy":
		return StatusHealthy
	case "reachable":
		return StatusReachable
	case "degraded":
		return StatusDegraded
	case "timeout":
		return StatusTimeout
	case "unreachable":
		return StatusUnreachable
	case "error":
		return StatusError
	default:
		return StatusUnknown
	}
}

func (s HealthStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type CheckResult struct {
	Provider provider.Provider         `json:"provider" yaml:"provider"`
	Status   HealthStatus              `json:"status" yaml:"status"`
	Health   network.HealthCheckResult `json:"health" yaml:"health"`
}

// Prober is the part of network.ConnectionManager the checker needs
type Prober interface {
	CheckAPIHealth(ctx context.Context, providerName, baseURL string) network.HealthCheckResult
}

type Checker struct {
	prober     Prober
	maxWorkers int
	logger     *logger.Logger
}

type CheckerConfig struct {
	MaxWorkers int
}

func NewChecker(prober Prober) *Checker {
	return NewCheckerWithConfig(prober, CheckerConfig{MaxWorkers: 4})
}

func NewCheckerWithConfig(prober Prober, config CheckerConfig) *Checker {
	workers := config.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	return &Checker{
		prober:     prober,
		maxWorkers: workers,
		logger:     logger.New("checker"),
	}
}

func (c *Checker) CheckProvider(ctx context.Context, p provider.Provider) CheckResult {
	health := c.prober.CheckAPIHealth(ctx, p.Name, p.BaseURL)
	return CheckResult{
		Provider: p,
		Status:   Classify(health),
		Health:   health,
	}
}

// CheckProviders probes every provider with a bounded worker pool. Results
// are returned in input order. Providers not reached before ctx is done are
// reported as StatusUnknown.
func (c *Checker) CheckProviders(ctx context.Context, providers []provider.Provider) []CheckResult {
	if len(providers) == 0 {
		return nil
	}

	workers := c.maxWorkers
	if workers > len(providers) {
		workers = len(providers)
	}

	results := make([]CheckResult, len(providers))
	for i, p := range providers {
		results[i] = CheckResult{Provider: p, Status: StatusUnknown}
	}

	queue := make(chan int, len(providers))
	for i := range providers {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range queue {
				select {
				case <-ctx.Done():
					return
				default:
					results[idx] = c.CheckProvider(ctx, providers[idx])
				}
			}
		}()
	}
	wg.Wait()

	counts := make(map[HealthStatus]int)
	for _, r := range results {
		counts[r.Status]++
	}
	c.logger.InfoBg("Checked %d providers: %d connected, %d healthy, %d timeout, %d unreachable",
		len(results), ConnectedCount(results), counts[StatusHealthy], counts[StatusTimeout], counts[StatusUnreachable])

	return results
}

// Classify maps a probe result to a HealthStatus. Any HTTP answer below 500
// that is not 2xx means the endpoint is up but refused the anonymous probe.
func Classify(r network.HealthCheckResult) HealthStatus {
	if !r.Connected {
		switch {
		case r.Err == nil && r.Error == "":
			return StatusUnknown
		case isTimeoutError(r.Err):
			return StatusTimeout
		case isConnectionError(r.Err, r.Error):
			return StatusUnreachable
		default:
			return StatusError
		}
	}

	if r.StatusCode == nil {
		return StatusUnknown
	}

	code := *r.StatusCode
	switch {
	case code >= 200 && code < 300:
		return StatusHealthy
	case code >= 500:
		return StatusDegraded
	default:
		return StatusReachable
	}
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isConnectionError(err error, message string) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if message == "" && err != nil {
		message = err.Error()
	}
	return strings.Contains(message, "connection refused") ||
		strings.Contains(message, "no route to host") ||
		strings.Contains(message, "network is unreachable") ||
		strings.Contains(message, "connection reset") ||
		strings.Contains(message, "no such host")
}

// IsConnected reports whether the endpoint answered
func (r CheckResult) IsConnected() bool {
	return r.Health.Connected
}

func FilterConnected(results []CheckResult) []provider.Provider {
	var connected []provider.Provider
	for _, result := range results {
		if result.IsConnected() {
			connected = append(connected, result.Provider)
		}
	}
	return connected
}

func ConnectedCount(results []CheckResult) int {
	count := 0
	for _, result := range results {
		if result.IsConnected() {
			count++
		}
	}
	return count
}

func GroupByStatus(results []CheckResult) map[HealthStatus][]CheckResult {
	groups := make(map[HealthStatus][]CheckResult)
	for _, result := range results {
		groups[result.Status] = append(groups[result.Status], result)
	}
	return groups
}
