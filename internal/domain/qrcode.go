// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QRCodeStatus はQR決済コードのステータスを表す。
type QRCodeStatus string

const (
	// QRCodeStatusActive は利用可能なコードを表す。
	QRCodeStatusActive QRCodeStatus = "active"
	// QRCodeStatusUsed は決済済みのコードを表す。
	QRCodeStatusUsed QRCodeStatus = "used"
	// QRCodeStatusExpired は期限切れのコードを表す。
	QRCodeStatusExpired QRCodeStatus = "expired"
	// QRCodeStatusRevoked は加盟店により取り消されたコードを表す。
	QRCodeStatusRevoked QRCodeStatus = "revoked"
)

// Valid は定義済みのステータスかどうかを返す。
func (s QRCodeStatus) Valid() bool {
	switch s {
	case QRCodeStatusActive, QRCodeStatusUsed, QRCodeStatusExpired, QRCodeStatusRevoked:
		return true
	}
	return false
}

// QRPaymentCode はQR決済コードエンティティを表す。
// Amount が nil の場合は支払者が決済時に金額を指定する。
type QRPaymentCode struct {
	ID          string
	Code        string
	MerchantID  string
	MerchantTag string
	Amount      *decimal.Decimal
	Description string
	Status      QRCodeStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	UsedAt      *time.Time
	UsedBy      *string
	RevokedAt   *time.Time
	Payload     string
}

// IsExpiredAt は指定時刻時点で期限切れかどうかを返す。
func (c *QRPaymentCode) IsExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// QRCodeDetails はvalidateの結果として返す決済前情報。
type QRCodeDetails struct {
	Code        string
	MerchantID  string
	MerchantTag string
	Amount      *decimal.Decimal
	Description string
	Status      QRCodeStatus
	ExpiresAt   time.Time
}

// Settlement は台帳サービスに引き渡す決済指示。
type Settlement struct {
	Code        string          `json:"code"`
	MerchantID  string          `json:"merchant_id"`
	PayerID     string          `json:"payer_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	RedeemedAt  time.Time       `json:"redeemed_at"`
}

// QRPayload はQRコードに埋め込む、オフラインで表示可能な情報。
type QRPayload struct {
	Version     int              `json:"v"`
	Code        string           `json:"code"`
	MerchantTag string           `json:"merchant_tag"`
	FixedAmount *decimal.Decimal `json:"fixed_amount,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
}
