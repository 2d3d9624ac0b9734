package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bobmcallan/quant-portal/internal/app"
	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/config"
	"github.com/bobmcallan/quant-portal/internal/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// cliOptions holds the persistent flags shared by every subcommand.
type cliOptions struct {
	configFiles []string
	port        int
	host        string
}

func main() {
	// A .env next to the binary or in the working directory feeds QUANT_* overrides.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "quant-portal",
		Short: "Quant analysis portal with a persistent report history",
		Long: `quant-portal requests quant and sentiment analyses from the analysis
backend, keeps every completed report in a durable history and serves the
history over a JSON API and an MCP endpoint.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	root.PersistentFlags().StringArrayVarP(&opts.configFiles, "config", "c", nil, "Configuration file path (can be specified multiple times)")
	root.PersistentFlags().IntVarP(&opts.port, "port", "p", 0, "Server port (overrides config)")
	root.PersistentFlags().StringVar(&opts.host, "host", "", "Server host (overrides config)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP server (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd, opts)
			},
		},
		newHistoryCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "quant-portal version %s\n", config.GetFullVersion())
			},
		},
	)

	return root
}

// loadConfig resolves config files, applies flag overrides and validates.
func loadConfig(opts *cliOptions, stderr io.Writer) (*config.Config, error) {
	files := opts.configFiles
	if len(files) == 0 {
		for _, path := range configSearchPaths() {
			if _, err := os.Stat(path); err == nil {
				files = append(files, path)
				break
			}
		}
	}

	cfg, err := config.LoadFromFiles(files...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	config.ApplyFlagOverrides(cfg, opts.port, opts.host)

	if issues := cfg.Validate(); len(issues) > 0 {
		fmt.Fprintln(stderr, "")
		fmt.Fprintln(stderr, "Configuration error, mandatory fields are missing or invalid:")
		fmt.Fprintln(stderr, "")
		for _, issue := range issues {
			fmt.Fprintf(stderr, "  - %s\n", issue)
		}
		fmt.Fprintln(stderr, "")
		fmt.Fprintln(stderr, "Values can be set via TOML file, QUANT_* environment variables, or CLI flags.")
		fmt.Fprintln(stderr, "")
		return nil, fmt.Errorf("invalid configuration (%d issues)", len(issues))
	}

	return cfg, nil
}

func runServe(cmd *cobra.Command, opts *cliOptions) error {
	cfg, err := loadConfig(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	logger := common.NewLoggerFromConfig(cfg.Logging.ToCommon())

	logger.Info().
		Int("port", cfg.Server.Port).
		Str("host", cfg.Server.Host).
		Str("environment", cfg.Environment).
		Str("storage", cfg.Storage.Backend).
		Str("analysis_url", cfg.Analysis.URL).
		Msg("configuration loaded")

	application, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	srv := server.New(application)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	logger.Info().Str("url", cfg.BaseURL()).Msg("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case <-sigChan:
		logger.Info().Msg("shutdown signal received")
	case serveErr = <-errChan:
		if serveErr != nil {
			logger.Error().Str("error", serveErr.Error()).Msg("server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Str("error", err.Error()).Msg("server shutdown failed")
	}

	if err := application.Close(); err != nil {
		logger.Error().Str("error", err.Error()).Msg("application shutdown failed")
	}

	logger.Info().Msg("server stopped")
	return serveErr
}

// configSearchPaths returns TOML files to auto-discover (first match wins).
// Binary-relative paths are tried before the working directory.
func configSearchPaths() []string {
	candidates := []string{
		"quant-portal.toml",
		"config/quant-portal.toml",
	}

	exe, err := os.Executable()
	if err != nil {
		return candidates
	}
	binDir := filepath.Dir(exe)

	paths := []string{
		filepath.Join(binDir, "quant-portal.toml"),
		filepath.Join(binDir, "config", "quant-portal.toml"),
	}
	paths = append(paths, candidates...)

	seen := make(map[string]bool, len(paths))
	deduped := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		deduped = append(deduped, p)
	}
	return deduped
}
