package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"payment-auth-service/internal/domain"
	"payment-auth-service/internal/security"
)

// PINResetPurpose はPINリセット用ワンタイムコードの用途名。
const PINResetPurpose = "pin_reset"

// CredentialRepository はPIN資格情報のデータアクセスのインターフェース。
type CredentialRepository interface {
	FindByAccountID(ctx context.Context, accountID string) (*domain.PinCredential, error)
	Create(ctx context.Context, cred *domain.PinCredential) error
	Replace(ctx context.Context, cred *domain.PinCredential, expectedHash string) error
}

// OTPVerifier は外部のワンタイムコード検証サービスのインターフェース。
type OTPVerifier interface {
	Verify(ctx context.Context, accountID, purpose, code string) (bool, error)
}

// PinService は取引PINの登録・照合・変更・リセットを提供する。
// 照合の前にロックアウトの試行枠を確保し、成功時に解除する。
type PinService struct {
	repo   CredentialRepository
	guard  *LockoutGuard
	hasher *security.PINHasher
	otp    OTPVerifier
}

// NewPinService は新しいPinServiceを生成する。
func NewPinService(repo CredentialRepository, guard *LockoutGuard, hasher *security.PINHasher, otp OTPVerifier) *PinService {
	return &PinService{
		repo:   repo,
		guard:  guard,
		hasher: hasher,
		otp:    otp,
	}
}

func validateProofAndSalt(proof, salt string) error {
	if err := security.ValidateProof(proof); err != nil {
		return err
	}
	return security.ValidateSalt(salt)
}

func (s *PinService) newCredential(accountID, proof, salt string) *domain.PinCredential {
	return &domain.PinCredential{
		AccountID:  accountID,
		Salt:       salt,
		StoredHash: s.hasher.Hash(proof, salt),
		Algorithm:  security.PINAlgorithm,
		Iterations: s.hasher.Iterations(),
	}
}

// SetPIN は初回のPIN登録を行う。登録済みの場合はdomain.ErrPINAlreadySetを返す。
func (s *PinService) SetPIN(ctx context.Context, accountID, proof, salt string) error {
	if err := validateProofAndSalt(proof, salt); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, s.newCredential(accountID, proof, salt)); err != nil {
		if errors.Is(err, domain.ErrPINAlreadySet) {
			return err
		}
		return fmt.Errorf("creating pin credential: %w", err)
	}
	return nil
}

// IssueSalt はクライアントが証明値を導出するための登録済みソルトを返す。
func (s *PinService) IssueSalt(ctx context.Context, accountID string) (string, error) {
	cred, err := s.repo.FindByAccountID(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("finding pin credential: %w", err)
	}
	if cred == nil {
		return "", domain.ErrPINNotSet
	}
	return cred.Salt, nil
}

// Verify はPIN証明値を照合する。
// ロック中は照合せずに*domain.LockedErrorを返す。不一致の場合は確保済みの失敗がそのまま残る。
func (s *PinService) Verify(ctx context.Context, accountID, proof string) error {
	_, err := s.verify(ctx, accountID, proof)
	return err
}

func (s *PinService) verify(ctx context.Context, accountID, proof string) (*domain.PinCredential, error) {
	if err := security.ValidateProof(proof); err != nil {
		return nil, err
	}

	cred, err := s.repo.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("finding pin credential: %w", err)
	}
	if cred == nil {
		return nil, domain.ErrPINNotSet
	}

	// 照合前に失敗1回分を確保する。ロック中はここで拒否される
	state, err := s.guard.ReserveAttempt(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if !s.hasher.Verify(proof, cred.Salt, cred.StoredHash, cred.Iterations) {
		slog.InfoContext(ctx, "pin verification failed",
			"account_id", accountID,
			"failed_attempts", state.FailedAttempts,
		)
		if state.LockedUntil != nil {
			slog.WarnContext(ctx, "account locked",
				"account_id", accountID,
				"failed_attempts", state.FailedAttempts,
				"locked_until", state.LockedUntil.Format(time.RFC3339),
			)
		}
		return nil, domain.ErrAuthenticationFailed
	}

	if err := s.guard.Clear(ctx, accountID); err != nil {
		return nil, err
	}
	s.upgradeIfNeeded(ctx, cred, proof)
	return cred, nil
}

// upgradeIfNeeded は反復回数が現在の設定と異なる資格情報を再ハッシュする。
// 失敗しても照合結果には影響させない。
func (s *PinService) upgradeIfNeeded(ctx context.Context, cred *domain.PinCredential, proof string) {
	if cred.Iterations == s.hasher.Iterations() {
		return
	}
	upgraded := s.newCredential(cred.AccountID, proof, cred.Salt)
	if err := s.repo.Replace(ctx, upgraded, cred.StoredHash); err != nil {
		slog.WarnContext(ctx, "failed to upgrade pin hash",
			"account_id", cred.AccountID,
			"error", err,
		)
		return
	}
	*cred = *upgraded
}

// ChangePIN は現在のPINを再照合してから新しいPINに置き換える。
func (s *PinService) ChangePIN(ctx context.Context, accountID, currentProof, newProof, newSalt string) error {
	if err := validateProofAndSalt(newProof, newSalt); err != nil {
		return err
	}

	cred, err := s.verify(ctx, accountID, currentProof)
	if err != nil {
		return err
	}

	// 照合後に他のリクエストで変更されていた場合は失敗させる
	if err := s.repo.Replace(ctx, s.newCredential(accountID, newProof, newSalt), cred.StoredHash); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return err
		}
		return fmt.Errorf("replacing pin credential: %w", err)
	}
	slog.InfoContext(ctx, "pin changed", "account_id", accountID)
	return nil
}

// ResetPIN はワンタイムコードの検証後、現在のPINを知らなくても新しいPINを設定する。
// 成功時はロックアウトも解除する。
func (s *PinService) ResetPIN(ctx context.Context, accountID, otp, newProof, newSalt string) error {
	if strings.TrimSpace(otp) == "" {
		return domain.Validationf("one-time code is required")
	}
	if err := validateProofAndSalt(newProof, newSalt); err != nil {
		return err
	}

	ok, err := s.otp.Verify(ctx, accountID, PINResetPurpose, otp)
	if err != nil {
		return fmt.Errorf("verifying one-time code: %w", err)
	}
	if !ok {
		return domain.ErrOTPRejected
	}

	if err := s.repo.Replace(ctx, s.newCredential(accountID, newProof, newSalt), ""); err != nil {
		if errors.Is(err, domain.ErrPINNotSet) {
			return err
		}
		return fmt.Errorf("replacing pin credential: %w", err)
	}
	if err := s.guard.Clear(ctx, accountID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "pin reset", "account_id", accountID)
	return nil
}
