package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"library-lending/internal/adapter"
	"library-lending/internal/config"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo fixtures into the configured store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Storage.Driver == "memory" {
			return fmt.Errorf("seeding the memory driver has no effect; configure storage.driver=sqlite")
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := adapter.Seed(cmd.Context(), store, time.Now()); err != nil {
			return err
		}
		fmt.Println("fixtures loaded")
		return nil
	},
}
