package network

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SystemInfo describes the host running the diagnostics
type SystemInfo struct {
	OS        string `json:"os" yaml:"os"`
	Arch      string `json:"arch" yaml:"arch"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Hostname  string `json:"hostname" yaml:"hostname"`
	NumCPU    int    `json:"num_cpu" yaml:"num_cpu"`
}

// DiagnosticReport aggregates host, proxy and API reachability information
type DiagnosticReport struct {
	ID              string              `json:"id" yaml:"id"`
	GeneratedAt     time.Time           `json:"generated_at" yaml:"generated_at"`
	System          SystemInfo          `json:"system" yaml:"system"`
	ProxyEnv        map[string]string   `json:"proxy_env" yaml:"proxy_env"`
	APIs            []HealthCheckResult `json:"apis" yaml:"apis"`
	Recommendations []string            `json:"recommendations" yaml:"recommendations"`
}

// ConnectedCount returns how many probed APIs were reachable
func (r DiagnosticReport) ConnectedCount() int {
	n := 0
	for _, api := range r.APIs {
		if api.Connected {
			n++
		}
	}
	return n
}

// DiagnoseConnectionIssues probes the diagnose targets and derives
// recommendations. It does not retry and does not fail.
func (m *ConnectionManager) DiagnoseConnectionIssues(ctx context.Context) DiagnosticReport {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	report := DiagnosticReport{
		ID:          uuid.NewString(),
		GeneratedAt: m.now(),
		System: SystemInfo{
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			GoVersion: runtime.Version(),
			Hostname:  hostname,
			NumCPU:    runtime.NumCPU(),
		},
		ProxyEnv: CurrentProxyEnv(),
		APIs:     make([]HealthCheckResult, len(m.targets)),
	}

	var wg sync.WaitGroup
	for i, target := range m.targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report.APIs[i] = m.CheckAPIHealth(ctx, target.Label(), target.BaseURL)
		}()
	}
	wg.Wait()

	report.Recommendations = recommendations(report)
	m.logger.InfoBg("Diagnostics %s: %d/%d APIs reachable, %d proxy variables set",
		report.ID, report.ConnectedCount(), len(report.APIs), len(report.ProxyEnv))
	return report
}

func recommendations(report DiagnosticReport) []string {
	var recs []string
	connected := report.ConnectedCount()

	switch {
	case len(report.APIs) > 0 && connected == 0:
		recs = append(recs, "No API endpoints are reachable: check the network connection, firewall and DNS settings")
	case connected < len(report.APIs):
		for _, api := range report.APIs {
			if !api.Connected {
				recs = append(recs, fmt.Sprintf("%s (%s) is unreachable: %s", api.Provider, api.URL, api.Error))
			}
		}
		recs = append(recs, "Some APIs are unreachable: consider a proxy or a mirror base URL for them")
	}

	if len(report.ProxyEnv) > 0 {
		names := make([]string, 0, len(report.ProxyEnv))
		for name := range report.ProxyEnv {
			names = append(names, name)
		}
		sort.Strings(names)
		recs = append(recs, fmt.Sprintf("Proxy variables are set (%s): if requests fail, retry with the proxy disabled or verify the proxy is running", strings.Join(names, ", ")))
	}

	if len(recs) == 0 {
		recs = append(recs, "All API endpoints are reachable and no proxy variables are set")
	}
	return recs
}
