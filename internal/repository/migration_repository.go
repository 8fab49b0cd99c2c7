package repository

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"payment-auth-service/internal/domain"
)

// SchemaMigrationModel はschema_migrationsテーブルのモデル。
type SchemaMigrationModel struct {
	Version   string    `gorm:"column:version;primaryKey;type:varchar(14)"`
	AppliedAt time.Time `gorm:"column:applied_at;not null;autoCreateTime"`
}

// TableName はテーブル名を指定。
func (SchemaMigrationModel) TableName() string {
	return "schema_migrations"
}

// MigrationRepository はマイグレーション履歴を管理するリポジトリ。
type MigrationRepository struct {
	db *gorm.DB
}

// NewMigrationRepository は新しいMigrationRepositoryを生成する。
func NewMigrationRepository(db *gorm.DB) *MigrationRepository {
	return &MigrationRepository{db: db}
}

// EnsureTable は履歴テーブルが無ければ作成する。
func (r *MigrationRepository) EnsureTable(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&SchemaMigrationModel{}); err != nil {
		slog.ErrorContext(ctx, "failed to ensure schema_migrations table",
			"operation", "ensure_table",
			"error", err,
		)
		return err
	}
	return nil
}

// FindAllApplied は適用済みマイグレーション一覧を取得する。
func (r *MigrationRepository) FindAllApplied(ctx context.Context) ([]*domain.Migration, error) {
	var models []SchemaMigrationModel
	if err := r.db.WithContext(ctx).Order("version ASC").Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find all applied migrations",
			"operation", "find_all_applied",
			"error", err,
		)
		return nil, err
	}

	migrations := make([]*domain.Migration, len(models))
	for i := range models {
		appliedAt := models[i].AppliedAt
		migrations[i] = &domain.Migration{
			Version:   models[i].Version,
			AppliedAt: &appliedAt,
			Status:    domain.MigrationStatusApplied,
		}
	}

	return migrations, nil
}

// IsMigrationApplied はマイグレーションが適用済みか確認する。
func (r *MigrationRepository) IsMigrationApplied(ctx context.Context, version string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&SchemaMigrationModel{}).Where("version = ?", version).Count(&count).Error; err != nil {
		slog.ErrorContext(ctx, "failed to check if migration is applied",
			"operation", "is_migration_applied",
			"version", version,
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}

// ApplyInTx はマイグレーションSQLの実行と履歴記録を同一トランザクションで行う。
func (r *MigrationRepository) ApplyInTx(ctx context.Context, version string, statements []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range statements {
			if err := tx.Exec(stmt).Error; err != nil {
				slog.ErrorContext(ctx, "failed to execute migration SQL",
					"operation", "apply_in_tx",
					"version", version,
					"error", err,
				)
				return err
			}
		}
		if err := tx.Create(&SchemaMigrationModel{Version: version}).Error; err != nil {
			slog.ErrorContext(ctx, "failed to record migration in schema_migrations",
				"operation", "apply_in_tx",
				"version", version,
				"error", err,
			)
			return err
		}
		return nil
	})
}
