package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medterm/masterdata/internal/config"
	"github.com/medterm/masterdata/internal/domain/master"
	"github.com/medterm/masterdata/internal/platform/db"
	"github.com/medterm/masterdata/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "master-server",
		Short: "Master data identity resolution and migration engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(legacyCmd())
	rootCmd.AddCommand(categoriesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the master data API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// loadConfig reads and validates the configuration and builds the matching
// logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, buildLogger(cfg, os.Stdout), nil
}

func buildLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(out).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// parseTypes turns a comma-separated flag into taxonomy types. An empty
// value selects every type.
func parseTypes(raw []string) ([]master.Type, error) {
	var out []master.Type
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := master.ParseType(part)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.RelationalEnabled() {
				return fmt.Errorf("DATABASE_URL is not set")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.RelationalEnabled() {
				return fmt.Errorf("DATABASE_URL is not set")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func legacyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "legacy",
		Short: "Inspect and migrate legacy category|name keys",
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Sweep legacy keys and promote them to stable ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawTypes, _ := cmd.Flags().GetStringSlice("types")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			sampleLimit, _ := cmd.Flags().GetInt("sample-limit")
			batchSize, _ := cmd.Flags().GetInt("batch-size")

			types, err := parseTypes(rawTypes)
			if err != nil {
				return err
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			eng, err := newEngine(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer eng.Close(ctx)

			summary, err := eng.service.MigrateLegacy(ctx, types, master.CleanupOptions{
				DryRun:      dryRun,
				SampleLimit: sampleLimit,
				BatchSize:   batchSize,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
	cleanupCmd.Flags().StringSlice("types", nil, "Taxonomy types to sweep (default: all)")
	cleanupCmd.Flags().Bool("dry-run", true, "Report what would change without writing")
	cleanupCmd.Flags().Int("sample-limit", master.DefaultSampleLimit, "Maximum number of sample keys in the report")
	cleanupCmd.Flags().Int("batch-size", 1000, "Keys fetched per listing page")
	cmd.AddCommand(cleanupCmd)

	return cmd
}

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage category lists",
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Write the default category lists",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawTypes, _ := cmd.Flags().GetStringSlice("types")
			force, _ := cmd.Flags().GetBool("force")

			types, err := parseTypes(rawTypes)
			if err != nil {
				return err
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			eng, err := newEngine(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer eng.Close(ctx)

			seeded, err := eng.service.SeedCategories(ctx, types, force)
			if err != nil {
				return err
			}
			for _, t := range seeded {
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %s\n", t)
			}
			if len(seeded) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to seed")
			}
			return nil
		},
	}
	seedCmd.Flags().StringSlice("types", nil, "Taxonomy types to seed (default: all)")
	seedCmd.Flags().Bool("force", false, "Overwrite lists that already exist")
	cmd.AddCommand(seedCmd)

	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
