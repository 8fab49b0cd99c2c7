package repository

import (
	"context"
	"io/fs"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"payment-auth-service/migrations"
)

// setupTestDB は埋め込みマイグレーションを適用したインメモリSQLiteデータベースを作成する。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := NewMigrationRepository(db)
	ctx := context.Background()
	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		t.Fatalf("reading migrations: %v", err)
	}
	for _, e := range entries {
		content, err := fs.ReadFile(migrations.FS, e.Name())
		if err != nil {
			t.Fatalf("reading %s: %v", e.Name(), err)
		}
		var statements []string
		for _, s := range strings.Split(string(content), ";") {
			if s = strings.TrimSpace(s); s != "" {
				statements = append(statements, s)
			}
		}
		if err := repo.ApplyInTx(ctx, strings.SplitN(e.Name(), "_", 2)[0], statements); err != nil {
			t.Fatalf("applying %s: %v", e.Name(), err)
		}
	}
	return db
}
