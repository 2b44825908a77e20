package main

import (
	"fmt"

	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/logger"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gdb, err := db.Open(cfg.Database, cfg.Logging)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() {
				if err := db.Close(gdb); err != nil {
					logger.Error("failed to close database", "error", err)
				}
			}()
			if err := db.Migrate(gdb); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("database migrated", "driver", cfg.Database.Driver)
			return nil
		},
	}
}
