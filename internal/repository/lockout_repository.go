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

// LockoutStateModel はgorm用のモデル定義。
type LockoutStateModel struct {
	AccountID      string `gorm:"type:varchar(64);primaryKey"`
	FailedAttempts uint   `gorm:"not null;default:0"`
	LockedUntil    *time.Time
	UpdatedAt      time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (LockoutStateModel) TableName() string {
	return "lockout_states"
}

// LockoutRepository はロックアウト状態のデータアクセスを提供する。
// カウンタ操作はすべて条件付きUPDATE文で行い、アプリケーション側で読み取り→書き込みをしない。
type LockoutRepository struct {
	db *gorm.DB
}

// NewLockoutRepository は新しいLockoutRepositoryを生成する。
func NewLockoutRepository(db *gorm.DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

// Get はロックアウト状態を取得する。レコードがない場合は初期状態を返す。
func (r *LockoutRepository) Get(ctx context.Context, accountID string) (*domain.LockoutState, error) {
	return r.get(ctx, r.db, accountID)
}

func (r *LockoutRepository) get(ctx context.Context, db *gorm.DB, accountID string) (*domain.LockoutState, error) {
	var model LockoutStateModel
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &domain.LockoutState{AccountID: accountID}, nil
		}
		slog.ErrorContext(ctx, "failed to get lockout state",
			"operation", "get",
			"account_id", accountID,
			"error", err,
		)
		return nil, err
	}
	return &domain.LockoutState{
		AccountID:      model.AccountID,
		FailedAttempts: model.FailedAttempts,
		LockedUntil:    utcPtr(model.LockedUntil),
	}, nil
}

// ReleaseExpired はロック期限を過ぎたアカウントのカウンタをリセットする。
func (r *LockoutRepository) ReleaseExpired(ctx context.Context, accountID string, now time.Time) (*domain.LockoutState, error) {
	err := releaseExpired(ctx, r.db, accountID, now)
	if err != nil {
		slog.ErrorContext(ctx, "failed to release expired lockout",
			"operation", "release_expired",
			"account_id", accountID,
			"error", err,
		)
		return nil, err
	}
	return r.Get(ctx, accountID)
}

func releaseExpired(ctx context.Context, db *gorm.DB, accountID string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&LockoutStateModel{}).
		Where("account_id = ? AND locked_until IS NOT NULL AND locked_until <= ?", accountID, now.UTC()).
		Updates(map[string]any{
			"failed_attempts": 0,
			"locked_until":    nil,
		}).Error
}

// RecordFailure は失敗回数を加算し、閾値に達した場合にロックする。
// ロック中は加算しない。各ステップは単一の条件付きUPDATEで、同時失敗を取りこぼさない。
func (r *LockoutRepository) RecordFailure(ctx context.Context, accountID string, threshold uint, duration time.Duration, now time.Time) (*domain.LockoutState, error) {
	var state *domain.LockoutState
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 初回失敗時のレコード作成
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&LockoutStateModel{AccountID: accountID}).Error; err != nil {
			return err
		}

		if err := releaseExpired(ctx, tx, accountID, now); err != nil {
			return err
		}

		if err := tx.Model(&LockoutStateModel{}).
			Where("account_id = ? AND locked_until IS NULL", accountID).
			Update("failed_attempts", gorm.Expr("failed_attempts + 1")).Error; err != nil {
			return err
		}

		if err := tx.Model(&LockoutStateModel{}).
			Where("account_id = ? AND locked_until IS NULL AND failed_attempts >= ?", accountID, threshold).
			Update("locked_until", now.Add(duration).UTC()).Error; err != nil {
			return err
		}

		s, err := r.get(ctx, tx, accountID)
		if err != nil {
			return err
		}
		state = s
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to record authentication failure",
			"operation", "record_failure",
			"account_id", accountID,
			"error", err,
		)
		return nil, err
	}
	return state, nil
}

// ReserveAttempt は照合前に試行枠を1つ確保する。
// 未ロックかつ失敗回数が閾値未満の場合のみ失敗回数を先に加算し、閾値に達した時点でロックする。
// 確保できた場合はtrueを返す。照合に成功した呼び出し側はClearで取り消す。
func (r *LockoutRepository) ReserveAttempt(ctx context.Context, accountID string, threshold uint, duration time.Duration, now time.Time) (*domain.LockoutState, bool, error) {
	var (
		state    *domain.LockoutState
		reserved bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&LockoutStateModel{AccountID: accountID}).Error; err != nil {
			return err
		}

		if err := releaseExpired(ctx, tx, accountID, now); err != nil {
			return err
		}

		result := tx.Model(&LockoutStateModel{}).
			Where("account_id = ? AND locked_until IS NULL AND failed_attempts < ?", accountID, threshold).
			Update("failed_attempts", gorm.Expr("failed_attempts + 1"))
		if result.Error != nil {
			return result.Error
		}
		reserved = result.RowsAffected == 1

		if err := tx.Model(&LockoutStateModel{}).
			Where("account_id = ? AND locked_until IS NULL AND failed_attempts >= ?", accountID, threshold).
			Update("locked_until", now.Add(duration).UTC()).Error; err != nil {
			return err
		}

		s, err := r.get(ctx, tx, accountID)
		if err != nil {
			return err
		}
		state = s
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to reserve authentication attempt",
			"operation", "reserve_attempt",
			"account_id", accountID,
			"error", err,
		)
		return nil, false, err
	}
	return state, reserved, nil
}

// Clear は失敗回数とロックを解除する。
func (r *LockoutRepository) Clear(ctx context.Context, accountID string) error {
	err := r.db.WithContext(ctx).
		Model(&LockoutStateModel{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{
			"failed_attempts": 0,
			"locked_until":    nil,
		}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to clear lockout state",
			"operation", "clear",
			"account_id", accountID,
			"error", err,
		)
		return err
	}
	return nil
}
