package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/coursepay/internal/config"
	"github.com/dukerupert/coursepay/internal/database"
	"github.com/dukerupert/coursepay/internal/logging"
	"github.com/dukerupert/coursepay/internal/server"
)

var Version = "dev"

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "coursepay",
		Short:         "Course checkout and payment reconciliation service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")

	rootCmd.AddCommand(serveCmd(&envFile))
	rootCmd.AddCommand(migrateCmd(&envFile))
	rootCmd.AddCommand(reconcileCmd(&envFile))
	rootCmd.AddCommand(confirmCmd(&envFile))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app is what every command needs: config, a migrated database and the
// wired server.
type app struct {
	cfg    *config.Config
	db     *database.DB
	srv    *server.Server
	logger *slog.Logger
}

func openApp(envFile string) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &app{
		cfg:    cfg,
		db:     db,
		srv:    server.New(db, cfg, logger),
		logger: logger,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
