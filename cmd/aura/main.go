// Package main is the CLI entry point for the Aura mission orchestrator.
//
// Start the orchestrator:
//
//	aura serve --config aura.yaml
//
// Create or update the database schema:
//
//	aura migrate
//
// Check connectivity to the database and the model service:
//
//	aura status
//
// Configuration can also come from the environment: LLM_SERVER_URL,
// DATABASE_URL, JWT_SECRET_KEY, ENCRYPTION_KEY and AURA_DATA_DIR override
// the file. A .env file in the working directory is loaded at start.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aura-dev/aura/internal/auth"
	"github.com/aura-dev/aura/internal/bus"
	"github.com/aura-dev/aura/internal/config"
	"github.com/aura-dev/aura/internal/gateway"
	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/internal/planner"
	"github.com/aura-dev/aura/internal/server"
	"github.com/aura-dev/aura/internal/store"
	"github.com/aura-dev/aura/internal/vectorctx"
	"github.com/aura-dev/aura/internal/workspace"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aura",
		Short: "Aura - agentic mission orchestrator",
		Long: `Aura plans and executes multi-step software missions: a planning
pipeline turns a prompt into a task list, a conductor drives the tasks
through a sandboxed tool runner, and clients follow along over WebSocket.

Model calls go through a separate provider-abstracting service
(aura-llm-server); point llm.server_url or LLM_SERVER_URL at it.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildStatusCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// loadConfig reads the config file when one is given, otherwise starts from
// defaults; the environment wins either way.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Aura orchestrator",
		Long: `Start the orchestrator: HTTP API, WebSocket event stream, planning
pipeline and mission conductor. Shuts down gracefully on SIGINT/SIGTERM.`,
		Example: `  # Start with defaults plus environment variables
  aura serve

  # Start with a config file
  aura serve --config /etc/aura/aura.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "aura",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "starting aura", "version", version, "commit", commit)

	st, err := store.Open(cfg.Database.URL, store.Options{
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	cipher, err := store.NewCipher(cfg.Auth.EncryptionKey)
	if err != nil {
		return fmt.Errorf("credential cipher: %w", err)
	}

	sweeper, err := vectorctx.NewSweeper(cfg.Indexer.SweepSchedule, logger)
	if err != nil {
		return fmt.Errorf("index sweeper: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	notifier := bus.New(logger, metrics)
	gw := gateway.New(cfg.LLM.ServerURL, cfg.LLM.RequestTimeout, notifier, logger, metrics, tracer)

	srv := server.New(server.Config{
		Settings:  cfg,
		Store:     st,
		Cipher:    cipher,
		JWT:       auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry),
		Workspace: workspace.NewManager(cfg.Workspace.DataDir, logger),
		Bus:       notifier,
		Control:   bus.NewMissionControl(),
		Gateway:   gw,
		Planner:   planner.New(gw, notifier, logger),
		Sweeper:   sweeper,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
	})
	return srv.Run(ctx)
}

func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long: `Apply the schema to the configured database. The migration is
idempotent; running it against an up-to-date database changes nothing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.Database.URL, store.Options{
				MaxConnections:  cfg.Database.MaxConnections,
				ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate store: %w", err)
			}

			fmt.Println("Schema is up to date.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check connectivity to the database and the model service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			failed := false
			report := func(name string, err error) {
				if err != nil {
					failed = true
					fmt.Printf("  %-12s unreachable: %v\n", name, err)
					return
				}
				fmt.Printf("  %-12s ok\n", name)
			}

			fmt.Println("Aura status:")
			report("database", pingStore(ctx, cfg))
			report("llm server", pingLLMServer(ctx, cfg.LLM.ServerURL))

			if failed {
				return fmt.Errorf("one or more services are unreachable")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func pingStore(ctx context.Context, cfg *config.Config) error {
	st, err := store.Open(cfg.Database.URL, store.Options{})
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Ping(ctx)
}

// pingLLMServer hits the model service health endpoint.
func pingLLMServer(ctx context.Context, baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("llm.server_url is not configured")
	}
	url := strings.TrimRight(baseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("unparsable health response: %w", err)
	}
	if body.Status != "ok" {
		return fmt.Errorf("health status %q", body.Status)
	}
	return nil
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aura %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
		},
	}
}
