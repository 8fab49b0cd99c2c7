package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound は対象（QRコード・アカウント・資格情報）が存在しない場合のエラー。
	ErrNotFound = errors.New("not found")

	// ErrInvalidState は現在のライフサイクル状態では実行できない操作のエラー。
	ErrInvalidState = errors.New("invalid state")

	// ErrExpired は有効期限を過ぎたQRコードに対するエラー。
	ErrExpired = errors.New("expired")

	// ErrAmountMismatch は提示金額が固定金額と一致しない場合のエラー。
	ErrAmountMismatch = errors.New("amount mismatch")

	// ErrForbidden は所有者以外による操作のエラー。
	ErrForbidden = errors.New("forbidden")

	// ErrAuthenticationFailed はPIN照合に失敗した場合のエラー。
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrAccountLocked はアカウントがロックアウト中の場合のエラー。
	ErrAccountLocked = errors.New("account locked")

	// ErrIntegrity は復号時の認証タグ検証に失敗した場合のエラー。
	ErrIntegrity = errors.New("integrity check failed")

	// ErrValidation は入力形式が不正な場合のエラー。
	ErrValidation = errors.New("validation error")

	// ErrTierTooLow は加盟店の本人確認レベルが不足している場合のエラー。
	ErrTierTooLow = fmt.Errorf("%w: merchant verification tier too low", ErrForbidden)

	// ErrPINNotSet はPINが未登録の場合のエラー。
	ErrPINNotSet = fmt.Errorf("%w: transaction PIN not set", ErrNotFound)

	// ErrPINAlreadySet はPINが登録済みの場合のエラー。
	ErrPINAlreadySet = fmt.Errorf("%w: transaction PIN already set", ErrInvalidState)

	// ErrOTPRejected はPINリセット用のワンタイムコードが検証されなかった場合のエラー。
	ErrOTPRejected = fmt.Errorf("%w: one-time code rejected", ErrAuthenticationFailed)

	// ErrDuplicateCard は同一カードが既に登録されている場合のエラー。
	ErrDuplicateCard = fmt.Errorf("%w: card already registered", ErrInvalidState)

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)

// LockedError はロックアウト解除時刻を保持するエラー。
// errors.Is(err, ErrAccountLocked) が真になる。
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// Is はErrAccountLockedとの比較を可能にする。
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// Validationf は入力エラーをErrValidationでラップして生成する。
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
