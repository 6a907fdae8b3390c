package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llmnet/internal/config"
	"llmnet/internal/database"
	"llmnet/internal/logger"
	"llmnet/pkg/checker"
	"llmnet/pkg/monitor"
	"llmnet/pkg/network"
	"llmnet/pkg/provider"
	"llmnet/pkg/status"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	checkMaxAge   time.Duration
	healthName    string
	healthQuick   bool
	getUseProxy   bool
	historyLimit  int
	genConfigPath string
)

var log = logger.New("cli")

var checkCmd = &cobra.Command{
	Use:   "check [provider...]",
	Short: "Check every configured provider, or the named ones",
	Long: `Probes each provider concurrently and prints one result per provider.
Results are recorded in the health database when it is enabled. With
--max-age, providers checked within that window are served from the database.`,
	RunE: runCheck,
}

var healthCmd = &cobra.Command{
	Use:   "health <url>",
	Short: "Probe a single API base URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runHealth,
}

var timeoutCmd = &cobra.Command{
	Use:   "timeout <url>",
	Short: "Recommend a request timeout for an API base URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runTimeout,
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Report host, proxy and API reachability with recommendations",
	RunE:  runDiagnose,
}

var getCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "GET a URL with the configured retry policy",
	Long: `Issues a GET through the retry wrapper. 5xx and 429 responses and
transport errors are retried with exponential backoff; other 4xx responses
fail immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

var historyCmd = &cobra.Command{
	Use:   "history <provider>",
	Short: "Show stored health checks of a provider, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the provider monitor and the status server",
	RunE:  runServe,
}

var genConfigCmd = &cobra.Command{
	Use:         "gen-config",
	Short:       "Write a default config file",
	Annotations: map[string]string{"config": "skip"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SaveConfigTemplate(genConfigPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Default config generated: %s\n", genConfigPath)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Show version",
	Annotations: map[string]string{"config": "skip"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "llmnet v%s\n", Version)
	},
}

func init() {
	checkCmd.Flags().DurationVar(&checkMaxAge, "max-age", 0, "Reuse stored results younger than this (requires the database)")
	healthCmd.Flags().StringVar(&healthName, "name", "custom", "Provider name used in the result")
	healthCmd.Flags().BoolVar(&healthQuick, "quick", false, "Only report whether the URL answers")
	getCmd.Flags().BoolVar(&getUseProxy, "use-proxy", false, "Send the request through the configured proxy")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of rows")
	genConfigCmd.Flags().StringVar(&genConfigPath, "path", "config.yaml", "Destination file")
}

// openDatabase returns nil when the database is disabled
func openDatabase(c *config.Config) (*database.DB, *database.Service, error) {
	if !c.Database.Enabled {
		return nil, nil, nil
	}
	db, err := database.NewDB(c.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, database.NewService(db), nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	mgr, err := newConnectionManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.CloseIdleConnections()

	providers := selectProviders(cfg, args)
	if len(providers) == 0 {
		return monitor.ErrNoProviders
	}

	db, svc, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	c := checker.NewCheckerWithConfig(mgr, checker.CheckerConfig{MaxWorkers: cfg.Checker.MaxWorkers})
	runID := uuid.NewString()

	var results []checker.CheckResult
	switch {
	case svc != nil && checkMaxAge > 0:
		results, err = checker.NewDBChecker(c, svc, checkMaxAge).CheckProvidersWithCaching(ctx, runID, providers)
		if err != nil {
			return err
		}
	default:
		results = c.CheckProviders(ctx, providers)
		if svc != nil {
			if err := svc.RecordChecks(ctx, runID, checker.ToRecords(results)); err != nil {
				log.WarnBg("Failed to record results: %v", err)
			}
		}
	}

	return writeOutput(cmd.OutOrStdout(), outputFormat, results)
}

func runHealth(cmd *cobra.Command, args []string) error {
	mgr, err := newConnectionManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.CloseIdleConnections()

	if healthQuick {
		return writeOutput(cmd.OutOrStdout(), outputFormat, map[string]any{
			"url":       args[0],
			"reachable": mgr.TestConnection(cmd.Context(), args[0], 0),
		})
	}

	return writeOutput(cmd.OutOrStdout(), outputFormat, mgr.CheckAPIHealth(cmd.Context(), healthName, args[0]))
}

func runTimeout(cmd *cobra.Command, args []string) error {
	mgr, err := newConnectionManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.CloseIdleConnections()

	return writeOutput(cmd.OutOrStdout(), outputFormat, map[string]any{
		"url":                 args[0],
		"recommended_timeout": mgr.GetBestTimeout(cmd.Context(), args[0]),
	})
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	mgr, err := newConnectionManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.CloseIdleConnections()

	return writeOutput(cmd.OutOrStdout(), outputFormat, mgr.DiagnoseConnectionIssues(cmd.Context()))
}

// statusError is returned for responses that should not be retried
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.code)
}

func runGet(cmd *cobra.Command, args []string) error {
	mgr, err := newConnectionManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.CloseIdleConnections()

	target := args[0]
	client := mgr.HTTPClient(getUseProxy)
	attempts := 0

	code, err := network.Call(cmd.Context(), mgr, func(ctx context.Context) (int, error) {
		attempts++
		ctx, cancel := context.WithTimeout(ctx, cfg.Network.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return 0, network.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
			return 0, &statusError{code: resp.StatusCode}
		case resp.StatusCode >= 400:
			return 0, network.Permanent(&statusError{code: resp.StatusCode})
		}
		return resp.StatusCode, nil
	}, network.WithProxy(getUseProxy), network.WithOperation("get"))

	out := map[string]any{
		"url":      target,
		"attempts": attempts,
	}
	if err != nil {
		out["error"] = err.Error()
		var se *statusError
		if errors.As(err, &se) {
			out["status_code"] = se.code
		}
		if werr := writeOutput(cmd.OutOrStdout(), outputFormat, out); werr != nil {
			return werr
		}
		return err
	}

	out["status_code"] = code
	return writeOutput(cmd.OutOrStdout(), outputFormat, out)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if !cfg.Database.Enabled {
		return fmt.Errorf("the health database is disabled")
	}

	db, svc, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	history, err := svc.History(cmd.Context(), args[0], historyLimit)
	if err != nil {
		return err
	}

	p, ok := provider.Lookup(args[0])
	if !ok {
		p = provider.Provider{Name: args[0]}
	}

	records := make([]checker.CheckResult, 0, len(history))
	for _, row := range history {
		records = append(records, checker.FromRecord(p, row))
	}
	return writeOutput(cmd.OutOrStdout(), outputFormat, records)
}

func runServe(cmd *cobra.Command, args []string) error {
	log.InfoBg("Starting llmnet v%s", Version)
	config.PrintConfig(cfg)

	mgr, err := newConnectionManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.CloseIdleConnections()

	providers := selectProviders(cfg, nil)

	db, svc, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	// A nil *database.Service must not become a non-nil Recorder
	var recorder monitor.Recorder
	if svc != nil {
		recorder = svc
	}

	c := checker.NewCheckerWithConfig(mgr, checker.CheckerConfig{MaxWorkers: cfg.Checker.MaxWorkers})
	mon := monitor.New(c, providers, recorder, monitor.Config{
		Interval:        cfg.Monitor.Interval,
		RefreshTimeout:  cfg.Monitor.RefreshTimeout,
		MaxAge:          cfg.Database.MaxAge,
		CleanupInterval: cfg.Database.CleanupInterval,
	})

	if cfg.Monitor.Enabled {
		if err := mon.Start(); err != nil {
			return fmt.Errorf("failed to start monitor: %w", err)
		}
	} else {
		log.InfoBg("Background monitoring disabled, running one refresh...")
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Monitor.RefreshTimeout)
		if _, err := mon.RefreshNow(ctx); err != nil {
			log.WarnBg("Initial refresh failed: %v", err)
		}
		cancel()
	}

	server := status.NewServer(mon, mgr, &status.Config{
		ListenAddr:   cfg.Server.ListenAddr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.InfoBg("Status server started on %s", cfg.Server.ListenAddr)
	log.InfoBg("Press Ctrl+C to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	var serveErr error
	select {
	case <-sig:
		log.InfoBg("Shutting down...")
	case serveErr = <-errCh:
		log.ErrorBg("Server error: %v", serveErr)
	}

	// Stop the monitor first to cancel background refreshes
	mon.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.WarnBg("Server shutdown error: %v", err)
	}

	log.InfoBg("Shutdown complete")
	return serveErr
}
