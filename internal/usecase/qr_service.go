package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payment-auth-service/internal/domain"
)

const maxDescriptionLength = 255

// QRCodeRepository はQR決済コードのデータアクセスのインターフェース。
// 状態遷移のメソッドは現在の状態を条件とする原子的な更新でなければならない。
type QRCodeRepository interface {
	Create(ctx context.Context, code *domain.QRPaymentCode) error
	FindByCode(ctx context.Context, code string) (*domain.QRPaymentCode, error)
	ExpireIfDue(ctx context.Context, code string, now time.Time) (bool, error)
	MarkUsed(ctx context.Context, code, payerID string, now time.Time) (bool, error)
	MarkRevoked(ctx context.Context, code, merchantID string, now time.Time) (bool, error)
	FindByMerchant(ctx context.Context, merchantID string, status *domain.QRCodeStatus, now time.Time) ([]*domain.QRPaymentCode, error)
}

// AccountDirectory は加盟店・利用者ディレクトリのインターフェース。
type AccountDirectory interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
}

// PINVerifier は取引PINの照合を行うインターフェース。
type PINVerifier interface {
	Verify(ctx context.Context, accountID, proof string) error
}

// SettlementPublisher は決済指示を台帳サービスへ引き渡すインターフェース。
type SettlementPublisher interface {
	PublishSettlement(ctx context.Context, s *domain.Settlement) error
}

// QRConfig はQR決済コードの発行条件。
type QRConfig struct {
	MinMerchantTier   int
	DefaultTTLMinutes int
	MaxTTLMinutes     int
}

// GenerateQRInput はQR決済コード発行の入力。
type GenerateQRInput struct {
	MerchantID  string
	Amount      *decimal.Decimal
	Description string
	TTLMinutes  int
}

// RedeemQRInput はQR決済コード利用の入力。
type RedeemQRInput struct {
	PayerID         string
	Code            string
	PresentedAmount decimal.Decimal
	PINProof        string
}

// QRService はQR決済コードの発行・検証・利用・取消を提供する。
type QRService struct {
	repo      QRCodeRepository
	directory AccountDirectory
	pins      PINVerifier
	publisher SettlementPublisher
	cfg       QRConfig
	now       func() time.Time
}

// NewQRService は新しいQRServiceを生成する。
func NewQRService(repo QRCodeRepository, directory AccountDirectory, pins PINVerifier, publisher SettlementPublisher, cfg QRConfig) *QRService {
	if cfg.DefaultTTLMinutes <= 0 {
		cfg.DefaultTTLMinutes = 30
	}
	if cfg.MaxTTLMinutes <= 0 {
		cfg.MaxTTLMinutes = 1440
	}
	return &QRService{
		repo:      repo,
		directory: directory,
		pins:      pins,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// validateAmount は金額が正で小数点以下2桁以内であることを検証する。
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.Validationf("amount must be positive")
	}
	if !amount.Equal(amount.Truncate(2)) {
		return domain.Validationf("amount must have at most 2 decimal places")
	}
	return nil
}

// Generate は加盟店のQR決済コードを発行する。
func (s *QRService) Generate(ctx context.Context, in GenerateQRInput) (*domain.QRPaymentCode, error) {
	if in.MerchantID == "" {
		return nil, domain.Validationf("merchant id is required")
	}
	if in.Amount != nil {
		if err := validateAmount(*in.Amount); err != nil {
			return nil, err
		}
	}
	description := strings.TrimSpace(in.Description)
	if len(description) > maxDescriptionLength {
		return nil, domain.Validationf("description must be at most %d characters", maxDescriptionLength)
	}
	ttl := in.TTLMinutes
	if ttl == 0 {
		ttl = s.cfg.DefaultTTLMinutes
	}
	if ttl < 1 || ttl > s.cfg.MaxTTLMinutes {
		return nil, domain.Validationf("ttl must be between 1 and %d minutes", s.cfg.MaxTTLMinutes)
	}

	// 加盟店の本人確認レベルを確認
	merchant, err := s.directory.GetAccount(ctx, in.MerchantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("looking up merchant: %w", err)
	}
	if merchant.VerificationTier < s.cfg.MinMerchantTier {
		return nil, domain.ErrTierTooLow
	}

	now := s.now().UTC()
	value, err := newCodeValue(now)
	if err != nil {
		return nil, err
	}

	code := &domain.QRPaymentCode{
		Code:        value,
		MerchantID:  merchant.ID,
		MerchantTag: merchant.Tag,
		Amount:      in.Amount,
		Description: description,
		Status:      domain.QRCodeStatusActive,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(ttl) * time.Minute),
	}
	code.Payload, err = EncodePayload(code)
	if err != nil {
		return nil, err
	}

	// DBに保存
	if err := s.repo.Create(ctx, code); err != nil {
		return nil, fmt.Errorf("creating qr code: %w", err)
	}

	slog.InfoContext(ctx, "qr code generated",
		"merchant_id", code.MerchantID,
		"expires_at", code.ExpiresAt.Format(time.RFC3339),
		"fixed_amount", code.Amount != nil,
	)
	return code, nil
}

// findActive はコードを取得し、利用可能な状態であることを確認する。
// 期限を過ぎたactiveコードはここでexpiredに遷移させる。
func (s *QRService) findActive(ctx context.Context, value string, now time.Time) (*domain.QRPaymentCode, error) {
	code, err := s.repo.FindByCode(ctx, value)
	if err != nil {
		return nil, fmt.Errorf("finding qr code: %w", err)
	}
	if code == nil {
		return nil, domain.ErrNotFound
	}
	if err := s.checkActive(ctx, code, now); err != nil {
		return code, err
	}
	return code, nil
}

func (s *QRService) checkActive(ctx context.Context, code *domain.QRPaymentCode, now time.Time) error {
	switch code.Status {
	case domain.QRCodeStatusActive:
		if !code.IsExpiredAt(now) {
			return nil
		}
		if _, err := s.repo.ExpireIfDue(ctx, code.Code, now); err != nil {
			return fmt.Errorf("expiring qr code: %w", err)
		}
		code.Status = domain.QRCodeStatusExpired
		return domain.ErrExpired
	case domain.QRCodeStatusExpired:
		return fmt.Errorf("%w: %w", domain.ErrInvalidState, domain.ErrExpired)
	default:
		return fmt.Errorf("%w: code is %s", domain.ErrInvalidState, code.Status)
	}
}

// Validate はコードが利用可能であることを確認し、決済前の表示情報を返す。
func (s *QRService) Validate(ctx context.Context, value string) (*domain.QRCodeDetails, error) {
	code, err := s.findActive(ctx, value, s.now().UTC())
	if err != nil {
		return nil, err
	}
	return &domain.QRCodeDetails{
		Code:        code.Code,
		MerchantID:  code.MerchantID,
		MerchantTag: code.MerchantTag,
		Amount:      code.Amount,
		Description: code.Description,
		Status:      code.Status,
		ExpiresAt:   code.ExpiresAt,
	}, nil
}

// Redeem はPINを照合した上でコードを一度だけ利用済みにし、決済指示を返す。
// active→usedの遷移は条件付き更新で行い、同時に呼ばれても成功するのは一つだけである。
func (s *QRService) Redeem(ctx context.Context, in RedeemQRInput) (*domain.Settlement, error) {
	if in.PayerID == "" {
		return nil, domain.Validationf("payer id is required")
	}
	if err := validateAmount(in.PresentedAmount); err != nil {
		return nil, err
	}

	code, err := s.findActive(ctx, in.Code, s.now().UTC())
	if err != nil {
		return nil, err
	}

	// 固定金額は完全一致のみ
	if code.Amount != nil && !code.Amount.Equal(in.PresentedAmount) {
		return nil, domain.ErrAmountMismatch
	}
	if code.MerchantID == in.PayerID {
		return nil, fmt.Errorf("%w: merchant cannot pay its own code", domain.ErrForbidden)
	}

	if err := s.pins.Verify(ctx, in.PayerID, in.PINProof); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ok, err := s.repo.MarkUsed(ctx, code.Code, in.PayerID, now)
	if err != nil {
		return nil, fmt.Errorf("redeeming qr code: %w", err)
	}
	if !ok {
		return nil, s.redeemConflict(ctx, code.Code, now)
	}

	settlement := &domain.Settlement{
		Code:        code.Code,
		MerchantID:  code.MerchantID,
		PayerID:     in.PayerID,
		Amount:      in.PresentedAmount,
		Description: code.Description,
		RedeemedAt:  now,
	}
	if code.Amount != nil {
		settlement.Amount = *code.Amount
	}

	slog.InfoContext(ctx, "qr code redeemed",
		"merchant_id", settlement.MerchantID,
		"payer_id", settlement.PayerID,
	)

	// 台帳側で照合するため、送信失敗でも利用済みは取り消さない
	if err := s.publisher.PublishSettlement(ctx, settlement); err != nil {
		slog.ErrorContext(ctx, "failed to publish settlement",
			"merchant_id", settlement.MerchantID,
			"payer_id", settlement.PayerID,
			"error", err,
		)
	}
	return settlement, nil
}

// redeemConflict は条件付き更新に負けた理由を再読込して判定する。
func (s *QRService) redeemConflict(ctx context.Context, value string, now time.Time) error {
	code, err := s.repo.FindByCode(ctx, value)
	if err != nil {
		return fmt.Errorf("reloading qr code: %w", err)
	}
	if code == nil {
		return domain.ErrNotFound
	}
	if err := s.checkActive(ctx, code, now); err != nil {
		return err
	}
	return domain.ErrInvalidState
}

// Revoke は発行加盟店がactiveなコードを取り消す。
func (s *QRService) Revoke(ctx context.Context, merchantID, value string) error {
	now := s.now().UTC()
	code, err := s.repo.FindByCode(ctx, value)
	if err != nil {
		return fmt.Errorf("finding qr code: %w", err)
	}
	if code == nil {
		return domain.ErrNotFound
	}
	if code.MerchantID != merchantID {
		return domain.ErrForbidden
	}
	if err := s.checkActive(ctx, code, now); err != nil {
		if errors.Is(err, domain.ErrExpired) && !errors.Is(err, domain.ErrInvalidState) {
			return fmt.Errorf("%w: %w", domain.ErrInvalidState, err)
		}
		return err
	}

	ok, err := s.repo.MarkRevoked(ctx, code.Code, merchantID, now)
	if err != nil {
		return fmt.Errorf("revoking qr code: %w", err)
	}
	if !ok {
		return domain.ErrInvalidState
	}
	slog.InfoContext(ctx, "qr code revoked", "merchant_id", merchantID)
	return nil
}

// History は加盟店のコード一覧を返す。状態は変更しない。
func (s *QRService) History(ctx context.Context, merchantID string, status *domain.QRCodeStatus) ([]*domain.QRPaymentCode, error) {
	if status != nil && !status.Valid() {
		return nil, domain.Validationf("unknown status %q", *status)
	}
	codes, err := s.repo.FindByMerchant(ctx, merchantID, status, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("listing qr codes: %w", err)
	}
	for _, c := range codes {
		if c.Payload, err = EncodePayload(c); err != nil {
			return nil, err
		}
	}
	return codes, nil
}

// Decode はスキャンされたペイロードを解釈する。
func (s *QRService) Decode(payload string) (*domain.QRPayload, error) {
	return DecodePayload(payload)
}
