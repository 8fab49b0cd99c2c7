package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"payment-auth-service/internal/domain"
	"payment-auth-service/internal/security"
)

// CardRepository はカード情報のデータアクセスのインターフェース。
type CardRepository interface {
	Create(ctx context.Context, card *domain.CardSecret) error
	FindByID(ctx context.Context, ownerID, id string) (*domain.CardSecret, error)
	FindAllByOwner(ctx context.Context, ownerID string) ([]*domain.CardSecret, error)
	CountByHash(ctx context.Context, numberHash string) (int64, error)
}

// CardService はカード番号の登録・一覧・復号を提供する。
type CardService struct {
	repo      CardRepository
	protector *security.CardProtector
}

// NewCardService は新しいCardServiceを生成する。
func NewCardService(repo CardRepository, protector *security.CardProtector) *CardService {
	return &CardService{
		repo:      repo,
		protector: protector,
	}
}

// Register はカード番号を検証・暗号化して登録する。
func (s *CardService) Register(ctx context.Context, ownerID, number string) (*domain.CardSecret, error) {
	card, err := s.protector.Protect(ownerID, number)
	if err != nil {
		return nil, err
	}

	// 他アカウントでの登録数は不正検知用に記録のみ行う
	seen, err := s.repo.CountByHash(ctx, card.NumberHash)
	if err != nil {
		return nil, fmt.Errorf("counting card hash: %w", err)
	}
	if seen > 0 {
		slog.WarnContext(ctx, "card number already registered",
			"owner_id", ownerID,
			"last4", card.Last4,
			"registrations", seen,
		)
	}

	if err := s.repo.Create(ctx, card); err != nil {
		if errors.Is(err, domain.ErrDuplicateCard) {
			return nil, err
		}
		return nil, fmt.Errorf("creating card: %w", err)
	}
	return card, nil
}

// List は所有者のカード一覧を返す。番号はマスク済みの値のみ含まれる。
func (s *CardService) List(ctx context.Context, ownerID string) ([]*domain.CardSecret, error) {
	cards, err := s.repo.FindAllByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	return cards, nil
}

// Reveal はカード番号を復号する。改ざんされている場合はdomain.ErrIntegrityを返す。
func (s *CardService) Reveal(ctx context.Context, ownerID, id string) (string, error) {
	card, err := s.repo.FindByID(ctx, ownerID, id)
	if err != nil {
		return "", fmt.Errorf("finding card: %w", err)
	}
	if card == nil {
		return "", domain.ErrNotFound
	}
	number, err := s.protector.Decrypt(card.Field)
	if err != nil {
		return "", err
	}
	return number, nil
}
