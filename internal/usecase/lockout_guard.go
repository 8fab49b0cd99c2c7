package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"payment-auth-service/internal/domain"
)

// LockoutRepository はロックアウト状態のデータアクセスのインターフェース。
// 実装は各操作を原子的な条件付き更新として行う必要がある。
type LockoutRepository interface {
	Get(ctx context.Context, accountID string) (*domain.LockoutState, error)
	ReleaseExpired(ctx context.Context, accountID string, now time.Time) (*domain.LockoutState, error)
	RecordFailure(ctx context.Context, accountID string, threshold uint, duration time.Duration, now time.Time) (*domain.LockoutState, error)
	ReserveAttempt(ctx context.Context, accountID string, threshold uint, duration time.Duration, now time.Time) (*domain.LockoutState, bool, error)
	Clear(ctx context.Context, accountID string) error
}

// LockoutGuard はアカウント単位の連続認証失敗を数え、閾値到達でロックする。
// ロック解除はタイマーではなく、次回のIsLocked呼び出し時に行う。
type LockoutGuard struct {
	repo      LockoutRepository
	threshold uint
	duration  time.Duration
	now       func() time.Time
}

// NewLockoutGuard は新しいLockoutGuardを生成する。
func NewLockoutGuard(repo LockoutRepository, threshold uint, duration time.Duration) *LockoutGuard {
	if threshold == 0 {
		threshold = 1
	}
	return &LockoutGuard{
		repo:      repo,
		threshold: threshold,
		duration:  duration,
		now:       time.Now,
	}
}

// IsLocked はアカウントがロック中かを返す。
// ロック期限を過ぎている場合はカウンタを0に戻し、falseを返す。
func (g *LockoutGuard) IsLocked(ctx context.Context, accountID string) (bool, *time.Time, error) {
	now := g.now().UTC()
	state, err := g.repo.ReleaseExpired(ctx, accountID, now)
	if err != nil {
		return false, nil, fmt.Errorf("checking lockout: %w", err)
	}
	if state.LockedAt(now) {
		return true, state.LockedUntil, nil
	}
	return false, nil, nil
}

// RecordFailure は認証失敗を記録する。閾値に達した場合はロック後の状態を返す。
func (g *LockoutGuard) RecordFailure(ctx context.Context, accountID string) (*domain.LockoutState, error) {
	state, err := g.repo.RecordFailure(ctx, accountID, g.threshold, g.duration, g.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("recording failure: %w", err)
	}
	if state.LockedUntil != nil && state.FailedAttempts >= g.threshold {
		slog.WarnContext(ctx, "account locked",
			"account_id", accountID,
			"failed_attempts", state.FailedAttempts,
			"locked_until", state.LockedUntil.Format(time.RFC3339),
		)
	}
	return state, nil
}

// ReserveAttempt は照合の前に失敗1回分を先に計上し、照合してよいかを判定する。
// ロック中または枠がない場合は*domain.LockedErrorを返す。
// 同時リクエストでも照合できるのは閾値の回数までとなる。
func (g *LockoutGuard) ReserveAttempt(ctx context.Context, accountID string) (*domain.LockoutState, error) {
	state, reserved, err := g.repo.ReserveAttempt(ctx, accountID, g.threshold, g.duration, g.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("reserving attempt: %w", err)
	}
	if !reserved {
		if state.LockedUntil == nil {
			return nil, fmt.Errorf("reserving attempt: no slot left for %s without a lock", accountID)
		}
		return nil, &domain.LockedError{Until: *state.LockedUntil}
	}
	return state, nil
}

// Clear は認証成功時にカウンタとロックを解除する。
func (g *LockoutGuard) Clear(ctx context.Context, accountID string) error {
	if err := g.repo.Clear(ctx, accountID); err != nil {
		return fmt.Errorf("clearing lockout: %w", err)
	}
	return nil
}

// State は現在のロックアウト状態を副作用なしで返す。
func (g *LockoutGuard) State(ctx context.Context, accountID string) (*domain.LockoutState, error) {
	state, err := g.repo.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("getting lockout state: %w", err)
	}
	return state, nil
}
