package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"llmnet/pkg/monitor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// execute runs the root command with fresh flag values and returns stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	configPath = ""
	outputFormat = "json"
	checkMaxAge = 0
	healthName = "custom"
	healthQuick = false
	getUseProxy = false
	historyLimit = 20
	genConfigPath = "config.yaml"
	cfg = nil

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// workspace chdirs into a temp dir holding a config.yaml pointed at baseURL
func workspace(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	content := fmt.Sprintf(`
network:
  max_retries: 3
  retry_delay: 1ms
providers:
  names: [local]
  base_urls:
    local: %s
database:
  path: %s
logging:
  level: error
`, baseURL, filepath.Join(dir, "data", "llmnet.db"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644))
	return dir
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "llmnet v"+Version+"\n", out)
}

func TestInvalidOutputFormat(t *testing.T) {
	_, err := execute(t, "version", "--output", "xml")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestGenConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "llmnet.yaml")

	out, err := execute(t, "gen-config", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, err = execute(t, "gen-config", "--path", path)
	assert.Error(t, err)
}

func TestTimeoutCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	workspace(t, srv.URL)

	out, err := execute(t, "timeout", srv.URL)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, srv.URL, decoded["url"])
	assert.Equal(t, float64(30), decoded["recommended_timeout"])
}

func TestHealthCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	workspace(t, srv.URL)

	out, err := execute(t, "health", srv.URL, "--name", "local", "-o", "yaml")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "local", decoded["provider"])
	assert.Equal(t, true, decoded["connected"])
	assert.Equal(t, 401, decoded["status_code"])

	out, err = execute(t, "health", srv.URL, "--quick")
	require.NoError(t, err)
	assert.Contains(t, out, `"reachable": true`)
}

func TestCheckAndHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	workspace(t, srv.URL)

	out, err := execute(t, "check")
	require.NoError(t, err)

	var results []struct {
		Provider struct {
			Name string `json:"name"`
		} `json:"provider"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "local", results[0].Provider.Name)
	assert.Equal(t, "healthy", results[0].Status)

	_, err = execute(t, "check", "--max-age", "1h")
	require.NoError(t, err)

	out, err = execute(t, "history", "local")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.Len(t, results, 1, "the cached check must not add a row")
	assert.Equal(t, "healthy", results[0].Status)
}

func TestCheckUnresolvableSelection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()
	workspace(t, srv.URL)

	for _, name := range []string{"foo", "azure"} {
		out, err := execute(t, "check", name)
		assert.ErrorIs(t, err, monitor.ErrNoProviders, name)
		assert.Empty(t, out)
	}
	assert.Zero(t, calls.Load())
}

func TestGetRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	workspace(t, srv.URL)

	out, err := execute(t, "get", srv.URL)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, float64(3), decoded["attempts"])
	assert.Equal(t, float64(200), decoded["status_code"])
}

func TestGetClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	workspace(t, srv.URL)

	out, err := execute(t, "get", srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, out, `"status_code": 404`)
}
