package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"library-lending/internal/adapter"
	"library-lending/internal/config"
	"library-lending/internal/core"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "lendingd",
	Short: "Library lending service",
	Long:  "lendingd runs the library lending policy engine behind an HTTP API.",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd, seedCmd, useraddCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// openStore builds the store named by the config.
func openStore(cfg config.Config) (core.Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return adapter.NewSQLiteStore(cfg.Storage.Path)
	default:
		return adapter.NewMemoryStore(), nil
	}
}
