package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payment-auth-service/internal/domain"
)

// SensitiveFieldModel はgorm用のモデル定義。
type SensitiveFieldModel struct {
	ID         string    `gorm:"type:char(36);primaryKey"`
	OwnerID    string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_owner_category"`
	Category   string    `gorm:"type:varchar(32);not null;uniqueIndex:uk_owner_category"`
	Ciphertext []byte    `gorm:"type:blob;not null"`
	Nonce      []byte    `gorm:"type:blob;not null"`
	KeyVersion uint      `gorm:"not null;default:1"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (SensitiveFieldModel) TableName() string {
	return "encrypted_fields"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *SensitiveFieldModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *SensitiveFieldModel) toDomain() *domain.SensitiveField {
	return &domain.SensitiveField{
		ID:         m.ID,
		OwnerID:    m.OwnerID,
		Category:   domain.FieldCategory(m.Category),
		Field:      domain.EncryptedField{Ciphertext: m.Ciphertext, Nonce: m.Nonce},
		KeyVersion: m.KeyVersion,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// FieldRepository は暗号化フィールドのデータアクセスを提供する。
type FieldRepository struct {
	db *gorm.DB
}

// NewFieldRepository は新しいFieldRepositoryを生成する。
func NewFieldRepository(db *gorm.DB) *FieldRepository {
	return &FieldRepository{db: db}
}

// Upsert は暗号化フィールドを保存する。既存の場合は暗号文とノンスを置き換える。
func (r *FieldRepository) Upsert(ctx context.Context, f *domain.SensitiveField) error {
	// 既存行の更新時もIDは変えない
	model := &SensitiveFieldModel{
		OwnerID:    f.OwnerID,
		Category:   string(f.Category),
		Ciphertext: f.Field.Ciphertext,
		Nonce:      f.Field.Nonce,
		KeyVersion: f.KeyVersion,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "category"}},
			DoUpdates: clause.AssignmentColumns([]string{"ciphertext", "nonce", "key_version", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to upsert encrypted field",
			"operation", "upsert",
			"owner_id", f.OwnerID,
			"category", f.Category,
			"error", err,
		)
		return err
	}
	return nil
}

// Find は所有者と種別で暗号化フィールドを取得する。存在しない場合はnilを返す。
func (r *FieldRepository) Find(ctx context.Context, ownerID string, category domain.FieldCategory) (*domain.SensitiveField, error) {
	var model SensitiveFieldModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND category = ?", ownerID, string(category)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find encrypted field",
			"operation", "find",
			"owner_id", ownerID,
			"category", category,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// Delete は暗号化フィールドを削除する。
func (r *FieldRepository) Delete(ctx context.Context, ownerID string, category domain.FieldCategory) error {
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND category = ?", ownerID, string(category)).
		Delete(&SensitiveFieldModel{}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to delete encrypted field",
			"operation", "delete",
			"owner_id", ownerID,
			"category", category,
			"error", err,
		)
		return err
	}
	return nil
}

// FindByKeyVersion は指定した鍵バージョンで暗号化されたフィールドを取得する。再暗号化用。
func (r *FieldRepository) FindByKeyVersion(ctx context.Context, category domain.FieldCategory, keyVersion uint, limit int) ([]*domain.SensitiveField, error) {
	var models []SensitiveFieldModel
	err := r.db.WithContext(ctx).
		Where("category = ? AND key_version = ?", string(category), keyVersion).
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find encrypted fields by key version",
			"operation", "find_by_key_version",
			"category", category,
			"error", err,
		)
		return nil, err
	}
	fields := make([]*domain.SensitiveField, len(models))
	for i := range models {
		fields[i] = models[i].toDomain()
	}
	return fields, nil
}
