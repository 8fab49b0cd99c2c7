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

// CardSecretModel はgorm用のモデル定義。
type CardSecretModel struct {
	ID         string    `gorm:"type:char(36);primaryKey"`
	OwnerID    string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_owner_hash;index:idx_owner"`
	Ciphertext []byte    `gorm:"type:blob;not null"`
	Nonce      []byte    `gorm:"type:blob;not null"`
	NumberHash string    `gorm:"type:char(64);not null;uniqueIndex:uk_owner_hash;index:idx_number_hash"`
	Masked     string    `gorm:"type:varchar(32);not null"`
	Last4      string    `gorm:"type:char(4);not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
}

// TableName はテーブル名を返す。
func (CardSecretModel) TableName() string {
	return "card_secrets"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *CardSecretModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *CardSecretModel) toDomain() *domain.CardSecret {
	return &domain.CardSecret{
		ID:         m.ID,
		OwnerID:    m.OwnerID,
		Field:      domain.EncryptedField{Ciphertext: m.Ciphertext, Nonce: m.Nonce},
		NumberHash: m.NumberHash,
		Masked:     m.Masked,
		Last4:      m.Last4,
		CreatedAt:  m.CreatedAt,
	}
}

// CardRepository はカード情報のデータアクセスを提供する。
type CardRepository struct {
	db *gorm.DB
}

// NewCardRepository は新しいCardRepositoryを生成する。
func NewCardRepository(db *gorm.DB) *CardRepository {
	return &CardRepository{db: db}
}

// Create はカード情報を保存する。同一所有者・同一番号が既にある場合はdomain.ErrDuplicateCardを返す。
func (r *CardRepository) Create(ctx context.Context, card *domain.CardSecret) error {
	model := &CardSecretModel{
		ID:         card.ID,
		OwnerID:    card.OwnerID,
		Ciphertext: card.Field.Ciphertext,
		Nonce:      card.Field.Nonce,
		NumberHash: card.NumberHash,
		Masked:     card.Masked,
		Last4:      card.Last4,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model)
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to create card",
			"operation", "create",
			"owner_id", card.OwnerID,
			"error", result.Error,
		)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrDuplicateCard
	}
	card.ID = model.ID
	card.CreatedAt = model.CreatedAt
	return nil
}

// FindByID は所有者とIDでカード情報を取得する。存在しない場合はnilを返す。
func (r *CardRepository) FindByID(ctx context.Context, ownerID, id string) (*domain.CardSecret, error) {
	var model CardSecretModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find card",
			"operation", "find_by_id",
			"owner_id", ownerID,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindAllByOwner は所有者のカード一覧を登録順に取得する。
func (r *CardRepository) FindAllByOwner(ctx context.Context, ownerID string) ([]*domain.CardSecret, error) {
	var models []CardSecretModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find cards by owner",
			"operation", "find_all_by_owner",
			"owner_id", ownerID,
			"error", err,
		)
		return nil, err
	}
	cards := make([]*domain.CardSecret, len(models))
	for i := range models {
		cards[i] = models[i].toDomain()
	}
	return cards, nil
}

// CountByHash は番号ハッシュが一致するカードの登録数を返す。不正リスト照合用。
func (r *CardRepository) CountByHash(ctx context.Context, numberHash string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&CardSecretModel{}).
		Where("number_hash = ?", numberHash).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to count cards by hash",
			"operation", "count_by_hash",
			"error", err,
		)
		return 0, err
	}
	return count, nil
}
