package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payment-auth-service/internal/domain"
)

// PinCredentialModel はgorm用のモデル定義。
type PinCredentialModel struct {
	AccountID  string    `gorm:"type:varchar(64);primaryKey"`
	Salt       string    `gorm:"type:varchar(64);not null"`
	StoredHash string    `gorm:"type:varchar(128);not null"`
	Algorithm  string    `gorm:"type:varchar(32);not null"`
	Iterations int       `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (PinCredentialModel) TableName() string {
	return "pin_credentials"
}

func (m *PinCredentialModel) toDomain() *domain.PinCredential {
	return &domain.PinCredential{
		AccountID:  m.AccountID,
		Salt:       m.Salt,
		StoredHash: m.StoredHash,
		Algorithm:  m.Algorithm,
		Iterations: m.Iterations,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// CredentialRepository はPIN資格情報のデータアクセスを提供する。
type CredentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository は新しいCredentialRepositoryを生成する。
func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// FindByAccountID はアカウントのPIN資格情報を取得する。未登録の場合はnilを返す。
func (r *CredentialRepository) FindByAccountID(ctx context.Context, accountID string) (*domain.PinCredential, error) {
	var model PinCredentialModel
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find pin credential",
			"operation", "find_by_account_id",
			"account_id", accountID,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// Create はPIN資格情報を登録する。既に存在する場合はdomain.ErrPINAlreadySetを返す。
func (r *CredentialRepository) Create(ctx context.Context, cred *domain.PinCredential) error {
	model := &PinCredentialModel{
		AccountID:  cred.AccountID,
		Salt:       cred.Salt,
		StoredHash: cred.StoredHash,
		Algorithm:  cred.Algorithm,
		Iterations: cred.Iterations,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model)
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to create pin credential",
			"operation", "create",
			"account_id", cred.AccountID,
			"error", result.Error,
		)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrPINAlreadySet
	}
	cred.CreatedAt = model.CreatedAt
	cred.UpdatedAt = model.UpdatedAt
	return nil
}

// Replace は現在の保存ハッシュがexpectedHashと一致する場合のみ資格情報を置き換える。
// expectedHashが空の場合は無条件に置き換える（PINリセット用）。
func (r *CredentialRepository) Replace(ctx context.Context, cred *domain.PinCredential, expectedHash string) error {
	q := r.db.WithContext(ctx).
		Model(&PinCredentialModel{}).
		Where("account_id = ?", cred.AccountID)
	if expectedHash != "" {
		q = q.Where("stored_hash = ?", expectedHash)
	}
	result := q.Updates(map[string]any{
		"salt":        cred.Salt,
		"stored_hash": cred.StoredHash,
		"algorithm":   cred.Algorithm,
		"iterations":  cred.Iterations,
		"updated_at":  time.Now().UTC(),
	})
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to replace pin credential",
			"operation", "replace",
			"account_id", cred.AccountID,
			"error", result.Error,
		)
		return result.Error
	}
	if result.RowsAffected == 0 {
		if expectedHash != "" {
			return domain.ErrInvalidState
		}
		return domain.ErrPINNotSet
	}
	return nil
}
