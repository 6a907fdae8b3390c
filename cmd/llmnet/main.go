package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"llmnet/internal/config"
	"llmnet/internal/logger"
	"llmnet/pkg/network"
	"llmnet/pkg/provider"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const Version = "1.0.0"

var (
	// Global flags
	configPath   string
	outputFormat string

	// Loaded by the root pre-run hook
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "llmnet",
	Short: "Connectivity checks and diagnostics for LLM and embedding APIs",
	Long: `llmnet probes LLM and embedding provider endpoints, recommends request
timeouts, diagnoses proxy and network problems and can run a status server
that monitors the configured providers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if outputFormat != "json" && outputFormat != "yaml" {
			return fmt.Errorf("unsupported output format %q (want json or yaml)", outputFormat)
		}
		if cmd.Annotations["config"] == "skip" {
			return nil
		}

		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := logger.Init(logger.Config{Level: loaded.Logging.Level, Format: loaded.Logging.Format}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json", "Output format: json or yaml")

	rootCmd.AddCommand(
		checkCmd,
		healthCmd,
		timeoutCmd,
		diagnoseCmd,
		getCmd,
		historyCmd,
		serveCmd,
		genConfigCmd,
		versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// selectProviders resolves names, or the configured providers when names is empty
func selectProviders(c *config.Config, names []string) []provider.Provider {
	if len(names) == 0 {
		names = c.Providers.Names
	}
	return provider.Select(names, c.Providers.BaseURLs)
}

func newConnectionManager(c *config.Config) (*network.ConnectionManager, error) {
	retry := network.RetryConfig{
		Timeout:    c.Network.Timeout,
		MaxRetries: c.Network.MaxRetries,
		RetryDelay: c.Network.RetryDelay,
	}

	opts := []network.Option{
		network.WithRateLimit(c.Network.RateLimit),
		network.WithDiagnoseTargets(selectProviders(c, nil)),
	}
	if c.Network.ProxyURL != "" {
		opts = append(opts, network.WithProxyConfig(&network.ProxyConfig{URL: c.Network.ProxyURL}))
	}

	return network.NewConnectionManager(retry, opts...)
}

// writeOutput encodes v to w in the selected output format
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		return nil
	}
}
