// Package cmd implements the pipeline CLI commands using cobra.
package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/willemave/news-app-sub001/internal/config"
	"github.com/willemave/news-app-sub001/internal/log"
	"github.com/willemave/news-app-sub001/internal/store"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Durable content-processing task pipeline",
	Long: `pipeline runs the back-office content machinery: DB-backed task queues,
sequential workers that fetch/transcribe/summarize content, and the watchdog
that recovers work abandoned by crashed workers.`,
	SilenceUsage: true,
}

// Execute runs the CLI. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (YAML; PIPELINE_* env vars override)")
}

// setup loads configuration and initializes the shared logger.
func setup() (*config.Config, *logrus.Entry, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	log.Init(log.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, logrus.NewEntry(log.L()), nil
}

// openStore connects to Postgres and applies the schema.
func openStore(ctx context.Context, cfg *config.Config) (*store.PostgresStore, error) {
	s, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

