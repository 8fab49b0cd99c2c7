package usecase

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"payment-auth-service/internal/domain"
)

// MigrationRepository はマイグレーション履歴を管理するリポジトリのインターフェース。
type MigrationRepository interface {
	EnsureTable(ctx context.Context) error
	FindAllApplied(ctx context.Context) ([]*domain.Migration, error)
	IsMigrationApplied(ctx context.Context, version string) (bool, error)
	ApplyInTx(ctx context.Context, version string, statements []string) error
}

// MigrationService はマイグレーション実行のビジネスロジックを提供する。
type MigrationService struct {
	repo   MigrationRepository
	source fs.FS
}

// NewMigrationService は新しいMigrationServiceを生成する。
// source にはmigrations.FSまたはos.DirFSを渡す。
func NewMigrationService(repo MigrationRepository, source fs.FS) *MigrationService {
	return &MigrationService{
		repo:   repo,
		source: source,
	}
}

// scanMigrationFiles は.sqlファイルをスキャンする。
func (s *MigrationService) scanMigrationFiles() ([]*domain.Migration, error) {
	entries, err := fs.ReadDir(s.source, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []*domain.Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, name, err := parseMigrationFileName(entry.Name())
		if err != nil {
			return nil, err
		}

		migrations = append(migrations, &domain.Migration{
			Version: version,
			Name:    name,
			Source:  entry.Name(),
			Status:  domain.MigrationStatusPending,
		})
	}

	// バージョン順にソート
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// parseMigrationFileName はファイル名からバージョンと名前を抽出する。
// ファイル名のフォーマット: {version}_{name}.sql (例: 001_create_qr_payment_codes.sql)
func parseMigrationFileName(filename string) (version, name string, err error) {
	nameWithoutExt := strings.TrimSuffix(filename, ".sql")

	parts := strings.SplitN(nameWithoutExt, "_", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %s (expected format: {version}_{name}.sql)", domain.ErrInvalidMigrationFile, filename)
	}

	return parts[0], parts[1], nil
}

// splitStatements はSQLをセミコロン区切りで文に分割する。
// マルチステートメントを許可しないドライバでも実行できるようにするため。
func splitStatements(sql string) []string {
	var stmts []string
	for _, part := range strings.Split(sql, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// ApplyMigrations は未適用マイグレーションを番号順に実行する。
func (s *MigrationService) ApplyMigrations(ctx context.Context) (int, error) {
	if err := s.repo.EnsureTable(ctx); err != nil {
		return 0, fmt.Errorf("failed to prepare schema_migrations: %w", err)
	}

	allMigrations, err := s.scanMigrationFiles()
	if err != nil {
		slog.ErrorContext(ctx, "failed to scan migration files",
			"operation", "apply_migrations",
			"error", err,
		)
		return 0, err
	}

	// 未適用マイグレーションをフィルタリング
	var pendingMigrations []*domain.Migration
	for _, migration := range allMigrations {
		applied, err := s.repo.IsMigrationApplied(ctx, migration.Version)
		if err != nil {
			return 0, fmt.Errorf("failed to check migration status: %w", err)
		}
		if !applied {
			pendingMigrations = append(pendingMigrations, migration)
		}
	}

	appliedCount := 0
	for _, migration := range pendingMigrations {
		if err := s.applyMigration(ctx, migration); err != nil {
			slog.ErrorContext(ctx, "failed to apply migration",
				"operation", "apply_migrations",
				"version", migration.Version,
				"error", err,
			)
			return appliedCount, fmt.Errorf("%w: version %s: %v", domain.ErrMigrationFailed, migration.Version, err)
		}
		slog.InfoContext(ctx, "migration applied",
			"version", migration.Version,
			"name", migration.Name,
		)
		appliedCount++
	}

	return appliedCount, nil
}

// applyMigration は単一のマイグレーションを実行する。
func (s *MigrationService) applyMigration(ctx context.Context, migration *domain.Migration) error {
	sqlBytes, err := fs.ReadFile(s.source, migration.Source)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	statements := splitStatements(string(sqlBytes))
	if len(statements) == 0 {
		return fmt.Errorf("%w: %s is empty", domain.ErrInvalidMigrationFile, migration.Source)
	}
	return s.repo.ApplyInTx(ctx, migration.Version, statements)
}

// GetMigrationStatus は現在のマイグレーション状況を取得する。
func (s *MigrationService) GetMigrationStatus(ctx context.Context) ([]*domain.Migration, error) {
	if err := s.repo.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare schema_migrations: %w", err)
	}

	allMigrations, err := s.scanMigrationFiles()
	if err != nil {
		return nil, err
	}

	appliedMigrations, err := s.repo.FindAllApplied(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch applied migrations: %w", err)
	}

	appliedMap := make(map[string]*domain.Migration)
	for _, migration := range appliedMigrations {
		appliedMap[migration.Version] = migration
	}

	for _, migration := range allMigrations {
		if applied, exists := appliedMap[migration.Version]; exists {
			migration.Status = domain.MigrationStatusApplied
			migration.AppliedAt = applied.AppliedAt
		}
	}

	return allMigrations, nil
}
