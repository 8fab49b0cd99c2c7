// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"payment-auth-service/internal/domain"
)

// QRCodeModel はgorm用のモデル定義。
type QRCodeModel struct {
	ID          string              `gorm:"type:char(36);primaryKey"`
	Code        string              `gorm:"type:varchar(64);not null;uniqueIndex:uk_qr_code"`
	MerchantID  string              `gorm:"type:varchar(64);not null;index:idx_merchant_status"`
	MerchantTag string              `gorm:"type:varchar(64);not null"`
	Amount      decimal.NullDecimal `gorm:"type:decimal(18,2)"`
	Description string              `gorm:"type:varchar(255);not null;default:''"`
	Status      string              `gorm:"type:varchar(16);not null;default:'active';index:idx_merchant_status"`
	CreatedAt   time.Time           `gorm:"not null"`
	ExpiresAt   time.Time           `gorm:"not null;index:idx_expires_at"`
	UsedAt      *time.Time
	UsedBy      *string `gorm:"type:varchar(64)"`
	RevokedAt   *time.Time
}

// TableName はテーブル名を返す。
func (QRCodeModel) TableName() string {
	return "qr_payment_codes"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *QRCodeModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *QRCodeModel) toDomain() *domain.QRPaymentCode {
	c := &domain.QRPaymentCode{
		ID:          m.ID,
		Code:        m.Code,
		MerchantID:  m.MerchantID,
		MerchantTag: m.MerchantTag,
		Description: m.Description,
		Status:      domain.QRCodeStatus(m.Status),
		CreatedAt:   m.CreatedAt.UTC(),
		ExpiresAt:   m.ExpiresAt.UTC(),
		UsedAt:      utcPtr(m.UsedAt),
		UsedBy:      m.UsedBy,
		RevokedAt:   utcPtr(m.RevokedAt),
	}
	if m.Amount.Valid {
		amount := m.Amount.Decimal
		c.Amount = &amount
	}
	return c
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// QRCodeRepository はQR決済コードのデータアクセスを提供する。
// 状態遷移はすべて現在のステータスを条件とする単一のUPDATE文で行う。
type QRCodeRepository struct {
	db *gorm.DB
}

// NewQRCodeRepository は新しいQRCodeRepositoryを生成する。
func NewQRCodeRepository(db *gorm.DB) *QRCodeRepository {
	return &QRCodeRepository{db: db}
}

// Create は新しいQR決済コードを保存する。
func (r *QRCodeRepository) Create(ctx context.Context, code *domain.QRPaymentCode) error {
	model := &QRCodeModel{
		ID:          code.ID,
		Code:        code.Code,
		MerchantID:  code.MerchantID,
		MerchantTag: code.MerchantTag,
		Description: code.Description,
		Status:      string(code.Status),
		CreatedAt:   code.CreatedAt.UTC(),
		ExpiresAt:   code.ExpiresAt.UTC(),
	}
	if code.Amount != nil {
		model.Amount = decimal.NewNullDecimal(*code.Amount)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create qr code",
			"operation", "create",
			"merchant_id", code.MerchantID,
			"error", err,
		)
		return err
	}
	code.ID = model.ID
	return nil
}

// FindByCode はコード値でQR決済コードを取得する。存在しない場合はnilを返す。
func (r *QRCodeRepository) FindByCode(ctx context.Context, code string) (*domain.QRPaymentCode, error) {
	var model QRCodeModel
	err := r.db.WithContext(ctx).
		Where("code = ?", code).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find qr code",
			"operation", "find_by_code",
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// ExpireIfDue は期限切れのactiveコードをexpiredに遷移させる。遷移した場合はtrueを返す。
func (r *QRCodeRepository) ExpireIfDue(ctx context.Context, code string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&QRCodeModel{}).
		Where("code = ? AND status = ? AND expires_at < ?", code, string(domain.QRCodeStatusActive), now.UTC()).
		Update("status", string(domain.QRCodeStatusExpired))
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to expire qr code",
			"operation", "expire_if_due",
			"error", result.Error,
		)
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkUsed はactiveかつ期限内のコードのみをusedに遷移させる。
// 同時実行された場合、trueを返すのは一つの呼び出しだけである。
func (r *QRCodeRepository) MarkUsed(ctx context.Context, code, payerID string, now time.Time) (bool, error) {
	usedAt := now.UTC()
	result := r.db.WithContext(ctx).
		Model(&QRCodeModel{}).
		Where("code = ? AND status = ? AND expires_at >= ?", code, string(domain.QRCodeStatusActive), usedAt).
		Updates(map[string]any{
			"status":  string(domain.QRCodeStatusUsed),
			"used_at": usedAt,
			"used_by": payerID,
		})
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to mark qr code used",
			"operation", "mark_used",
			"payer_id", payerID,
			"error", result.Error,
		)
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkRevoked は発行加盟店のactiveコードのみをrevokedに遷移させる。
func (r *QRCodeRepository) MarkRevoked(ctx context.Context, code, merchantID string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&QRCodeModel{}).
		Where("code = ? AND merchant_id = ? AND status = ?", code, merchantID, string(domain.QRCodeStatusActive)).
		Updates(map[string]any{
			"status":     string(domain.QRCodeStatusRevoked),
			"revoked_at": now.UTC(),
		})
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to revoke qr code",
			"operation", "mark_revoked",
			"merchant_id", merchantID,
			"error", result.Error,
		)
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FindByMerchant は加盟店のQR決済コード一覧を新しい順に取得する。
// status を指定した場合、期限を過ぎたactiveコードはexpiredとして扱う（書き込みは行わない）。
func (r *QRCodeRepository) FindByMerchant(ctx context.Context, merchantID string, status *domain.QRCodeStatus, now time.Time) ([]*domain.QRPaymentCode, error) {
	q := r.db.WithContext(ctx).Where("merchant_id = ?", merchantID)
	if status != nil {
		active := string(domain.QRCodeStatusActive)
		switch *status {
		case domain.QRCodeStatusActive:
			q = q.Where("status = ? AND expires_at >= ?", active, now.UTC())
		case domain.QRCodeStatusExpired:
			q = q.Where("(status = ? OR (status = ? AND expires_at < ?))", string(domain.QRCodeStatusExpired), active, now.UTC())
		default:
			q = q.Where("status = ?", string(*status))
		}
	}

	var models []QRCodeModel
	if err := q.Order("created_at DESC").Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find qr codes by merchant",
			"operation", "find_by_merchant",
			"merchant_id", merchantID,
			"error", err,
		)
		return nil, err
	}

	codes := make([]*domain.QRPaymentCode, len(models))
	for i := range models {
		c := models[i].toDomain()
		if c.Status == domain.QRCodeStatusActive && c.IsExpiredAt(now) {
			c.Status = domain.QRCodeStatusExpired
		}
		codes[i] = c
	}
	return codes, nil
}
