package usecase

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"payment-auth-service/internal/domain"
)

const (
	// QRPayloadPrefix はQRコードに埋め込む文字列の接頭辞。
	QRPayloadPrefix = "PAYQR1."

	// QRPayloadVersion はペイロード構造のバージョン。
	QRPayloadVersion = 1

	codeRandomBytes = 16
)

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// newCodeValue は時刻成分と128bitの乱数成分からコード値を生成する。
func newCodeValue(now time.Time) (string, error) {
	b := make([]byte, codeRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return strconv.FormatInt(now.UnixMilli(), 36) + "-" + strings.ToLower(codeEncoding.EncodeToString(b)), nil
}

// EncodePayload はQRコードのスキャン用文字列を生成する。
func EncodePayload(c *domain.QRPaymentCode) (string, error) {
	p := domain.QRPayload{
		Version:     QRPayloadVersion,
		Code:        c.Code,
		MerchantTag: c.MerchantTag,
		FixedAmount: c.Amount,
		GeneratedAt: c.CreatedAt.UTC(),
		ExpiresAt:   c.ExpiresAt.UTC(),
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	return QRPayloadPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodePayload はスキャンした文字列をサーバーに問い合わせずに解釈する。
func DecodePayload(s string) (*domain.QRPayload, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(s), QRPayloadPrefix)
	if !ok {
		return nil, domain.Validationf("unrecognized QR payload")
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, domain.Validationf("malformed QR payload")
	}
	var p domain.QRPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, domain.Validationf("malformed QR payload")
	}
	if p.Version != QRPayloadVersion || p.Code == "" {
		return nil, domain.Validationf("unsupported QR payload version %d", p.Version)
	}
	return &p, nil
}
