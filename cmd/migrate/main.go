package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mwork/ledger-api/internal/config"
	"github.com/mwork/ledger-api/internal/pkg/logger"
)

func main() {
	var source string

	rootCmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply ledger database migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&source, "source", "file://migrations", "Migration source URL")

	rootCmd.AddCommand(upCmd(&source))
	rootCmd.AddCommand(downCmd(&source))
	rootCmd.AddCommand(gotoCmd(&source))
	rootCmd.AddCommand(statusCmd(&source))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newMigrate(source string) (*migrate.Migrate, error) {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env}); err != nil {
		return nil, err
	}

	m, err := migrate.New(source, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	return m, nil
}

func closeMigrate(m *migrate.Migrate) {
	if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
		log.Warn().AnErr("source_error", sourceErr).AnErr("db_error", dbErr).Msg("Error closing migration resources")
	}
}

func upCmd(source *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrate(*source)
			if err != nil {
				return err
			}
			defer closeMigrate(m)

			if err := m.Up(); err != nil {
				if errors.Is(err, migrate.ErrNoChange) {
					log.Info().Msg("No change: database is up to date")
					return nil
				}
				return fmt.Errorf("apply migrations: %w", err)
			}
			log.Info().Msg("Migrations applied")
			return nil
		},
	}
}

func downCmd(source *string) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return errors.New("--steps must be positive")
			}

			m, err := newMigrate(*source)
			if err != nil {
				return err
			}
			defer closeMigrate(m)

			if err := m.Steps(-steps); err != nil {
				return fmt.Errorf("roll back %d migration(s): %w", steps, err)
			}
			log.Info().Int("steps", steps).Msg("Migrations rolled back")
			return nil
		},
	}

	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "Number of migrations to roll back")
	return cmd
}

func gotoCmd(source *string) *cobra.Command {
	return &cobra.Command{
		Use:   "goto [version]",
		Short: "Migrate up or down to a specific version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}

			m, err := newMigrate(*source)
			if err != nil {
				return err
			}
			defer closeMigrate(m)

			if err := m.Migrate(uint(version)); err != nil {
				if errors.Is(err, migrate.ErrNoChange) {
					log.Info().Uint64("version", version).Msg("No change: database already at version")
					return nil
				}
				return fmt.Errorf("migrate to version %d: %w", version, err)
			}
			log.Info().Uint64("version", version).Msg("Migrated to version")
			return nil
		},
	}
}

func statusCmd(source *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrate(*source)
			if err != nil {
				return err
			}
			defer closeMigrate(m)

			version, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Info().Msg("No migrations applied yet")
				return nil
			}
			if err != nil {
				return fmt.Errorf("read version: %w", err)
			}
			log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Current migration version")
			return nil
		},
	}
}
