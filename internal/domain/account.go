package domain

import "time"

// Account は加盟店・利用者ディレクトリから取得するアカウント情報。
type Account struct {
	ID               string
	Tag              string
	VerificationTier int
}

// PinCredential はアカウントの取引PIN資格情報を表す。
// StoredHash はクライアント導出値をさらに反復ハッシュしたもので、PIN自体ではない。
type PinCredential struct {
	AccountID  string
	Salt       string
	StoredHash string
	Algorithm  string
	Iterations int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LockoutState はアカウントごとの連続失敗回数とロック期限を表す。
type LockoutState struct {
	AccountID      string
	FailedAttempts uint
	LockedUntil    *time.Time
}

// LockedAt は指定時刻時点でロック中かどうかを返す。
func (s *LockoutState) LockedAt(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}
