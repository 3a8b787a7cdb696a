package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spanstream/spanstream/internal/config"
	"github.com/spanstream/spanstream/internal/logger"
	"github.com/spanstream/spanstream/internal/metrics"
	"github.com/spanstream/spanstream/pkg/extract"
	"github.com/spanstream/spanstream/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the extraction server",
	Long: `Run the extraction server in the foreground. The server listens for
WebSocket sessions on /ws and one-shot requests on /extract until it
receives SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: true,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logg.Close()

	log := logg.GetZerolog()
	log.Info().Str("version", version).Msg("Starting spanstream")

	watcher, err := config.NewPromptWatcher(cfg.Extraction.PromptFile, config.DefaultPrompt(), log)
	if err != nil {
		return fmt.Errorf("failed to load prompt: %w", err)
	}
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to start prompt watcher: %w", err)
	}
	defer watcher.Stop()

	m := metrics.NewMetrics()

	srv, err := server.NewServer(server.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		IdleTTL:       time.Duration(cfg.Server.IdleTTL) * time.Second,
		SweepSchedule: cfg.Server.SweepSchedule,
		Options: func() extract.Options {
			return cfg.Extraction.Options(watcher.Current())
		},
		Credentials: extract.Credentials{
			OpenAIAPIKey:    cfg.Providers.OpenAIAPIKey,
			AnthropicAPIKey: cfg.Providers.AnthropicAPIKey,
		},
		Metrics: m,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for signal
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	return nil
}
