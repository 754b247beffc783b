package main

import (
	"net/http"

	"github.com/spf13/cobra"

	"library-lending/internal/adapter"
	"library-lending/internal/config"
	"library-lending/internal/core"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		addr := getenv("LENDINGD_ADDR", cfg.Server.Addr)

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		logger := newLogger()
		svc := core.NewService(store, cfg.ModelPolicy())
		h := adapter.NewHandler(svc, logger)

		logger.Info("listening", "addr", addr, "driver", cfg.Storage.Driver)
		return http.ListenAndServe(addr, h.Routes())
	},
}
