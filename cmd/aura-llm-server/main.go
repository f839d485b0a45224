// Package main is the CLI entry point for aura-llm-server, the
// provider-abstracting model service the orchestrator calls.
//
// Start it:
//
//	aura-llm-server serve --addr :8001
//
// The service holds no credentials; each /invoke request carries the
// caller's provider API key in the X-Provider-API-Key header.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aura-dev/aura/internal/llmserver"
	"github.com/aura-dev/aura/internal/observability"
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
		Use:   "aura-llm-server",
		Short: "Aura model service - streams provider completions as NDJSON",
		Long: `aura-llm-server fronts the model provider APIs (Anthropic, OpenAI)
behind one streaming /invoke endpoint. The orchestrator sends the
conversation plus the user's provider API key and reads back NDJSON
records ending in a final_response.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd(), buildVersionCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		addr     string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the model service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if v := os.Getenv("AURA_LLM_SERVER_ADDR"); v != "" && !cmd.Flags().Changed("addr") {
				addr = v
			}

			logger := observability.NewLogger(observability.LogConfig{Level: logLevel})
			metrics := observability.NewMetrics()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info(ctx, "starting aura-llm-server", "version", version, "addr", addr)
			srv := llmserver.New(llmserver.Config{
				Addr:    addr,
				Logger:  logger,
				Metrics: metrics,
			})
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8001", "Listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aura-llm-server %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
		},
	}
}
