package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"payment-auth-service/config"
	"payment-auth-service/internal/domain"
	"payment-auth-service/internal/infra"
	"payment-auth-service/internal/repository"
	"payment-auth-service/internal/usecase"
	"payment-auth-service/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
	Long:  "Manage database migrations for the payment authorization service",
}

// openDB は環境変数の設定でデータベースに接続する。
func openDB() (*gorm.DB, *config.Config, error) {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	db, err := infra.NewDB(cfg.DatabaseURL, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, cfg, nil
}

// migrationSource はMIGRATIONS_DIRが設定されていればそのディレクトリを、なければ埋め込みSQLを返す。
func migrationSource() fs.FS {
	if dir := os.Getenv("MIGRATIONS_DIR"); dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Long:  "Apply all pending migrations to the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		db, _, err := openDB()
		if err != nil {
			return err
		}

		migrationService := usecase.NewMigrationService(repository.NewMigrationRepository(db), migrationSource())

		appliedCount, err := migrationService.ApplyMigrations(ctx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		if appliedCount == 0 {
			fmt.Println("No pending migrations.")
		} else {
			fmt.Printf("Applied %d migration(s) successfully.\n", appliedCount)
		}

		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long:  "Show the status of all migrations (applied/pending)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		db, _, err := openDB()
		if err != nil {
			return err
		}

		migrationService := usecase.NewMigrationService(repository.NewMigrationRepository(db), migrationSource())

		statuses, err := migrationService.GetMigrationStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}

		// テーブル形式で出力
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
		fmt.Fprintln(w, "-------\t----\t------\t----------")

		for _, migration := range statuses {
			appliedAt := "-"
			if migration.AppliedAt != nil {
				appliedAt = migration.AppliedAt.Format("2006-01-02 15:04:05")
			}

			status := "pending"
			if migration.Status == domain.MigrationStatusApplied {
				status = "applied"
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", migration.Version, migration.Name, status, appliedAt)
		}

		return w.Flush()
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}
