package main

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"qms/internal/config"
	"qms/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadPostgresConfig()
		if err != nil {
			return err
		}
		if err := database.MigrateUp(cmd.Context(), cfg.DatabaseURL, log); err != nil {
			return err
		}
		log.Info("migrate up: ok")
		return nil
	},
}

var migrateDownSteps int

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations (all of them unless --steps is set)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadPostgresConfig()
		if err != nil {
			return err
		}
		if err := database.MigrateDown(cfg.DatabaseURL, migrateDownSteps, log); err != nil {
			return err
		}
		log.Info("migrate down: ok")
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateDownSteps, "steps", 1, "number of migrations to roll back, 0 for all")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

func loadPostgresConfig() (config.Config, *logrus.Logger, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return config.Config{}, nil, err
	}
	if cfg.StoreDriver != config.DriverPostgres {
		return config.Config{}, nil, errors.New("migrations need STORE_DRIVER=postgres")
	}
	return cfg, log, nil
}
