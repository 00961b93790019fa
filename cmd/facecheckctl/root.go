package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/your-org/facecheck/internal/config"
	"github.com/your-org/facecheck/internal/observability"
	"github.com/your-org/facecheck/internal/storage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "facecheckctl",
	Short: "Administer a facecheck deployment",
	Long: `facecheckctl runs maintenance tasks against the facecheck database and
gallery: schema migrations, offline enrollment from image directories,
activity setup and issuing session credentials for testing.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
}

// loadConfig reads the config and sets up logging for a command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	observability.SetupLogger(cfg.Logging.Level, "text")
	return cfg, nil
}

func openDB(ctx context.Context, cfg *config.Config) (*storage.PostgresStore, error) {
	db, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
