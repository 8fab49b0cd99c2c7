package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"unicode"

	"payment-auth-service/internal/domain"
)

const (
	minCardDigits = 13
	maxCardDigits = 19
	maskChar      = '*'
)

// CardProtector はカード番号の暗号化・ハッシュ・マスク・検証を提供する。
type CardProtector struct {
	vault   *FieldVault
	hashKey []byte
}

// NewCardProtector は新しいCardProtectorを生成する。
// hashKey は暗号鍵とは別のシークレットから導出したもの。
func NewCardProtector(vault *FieldVault, hashKey []byte) *CardProtector {
	return &CardProtector{vault: vault, hashKey: hashKey}
}

// NormalizeCardNumber は空白とハイフンを除去し、桁数と文字種を検証する。
func NormalizeCardNumber(number string) (string, error) {
	var b strings.Builder
	for _, r := range number {
		if unicode.IsSpace(r) || r == '-' {
			continue
		}
		if r < '0' || r > '9' {
			return "", domain.Validationf("card number must contain digits only")
		}
		b.WriteRune(r)
	}
	n := b.String()
	if len(n) < minCardDigits || len(n) > maxCardDigits {
		return "", domain.Validationf("card number must be %d-%d digits", minCardDigits, maxCardDigits)
	}
	return n, nil
}

// CheckCardNumber は正規化・形式検証の後にLuhnチェックを行う。
func CheckCardNumber(number string) (string, error) {
	n, err := NormalizeCardNumber(number)
	if err != nil {
		return "", err
	}
	if !ValidateLuhn(n) {
		return "", domain.Validationf("card number failed checksum")
	}
	return n, nil
}

// ValidateLuhn はmod-10チェックサムを検証する。数字以外を含む場合はfalse。
func ValidateLuhn(number string) bool {
	if number == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// Mask は末尾4桁以外を伏せ字にし、右から4文字ずつ区切った表示用文字列を返す。
func Mask(number string) string {
	n := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return r
	}, number)

	masked := []rune(n)
	for i := 0; i < len(masked)-4; i++ {
		masked[i] = maskChar
	}
	if len(masked) <= 4 {
		for i := range masked {
			masked[i] = maskChar
		}
	}

	var groups []string
	for end := len(masked); end > 0; end -= 4 {
		start := max(end-4, 0)
		groups = append([]string{string(masked[start:end])}, groups...)
	}
	return strings.Join(groups, " ")
}

// ConstantTimeEquals は比較位置に依存しない時間で2つのハッシュを比較する。
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Hash はサーバーシークレットを鍵とするHMAC-SHA256のhex表現を返す。
// 重複・不正リスト照合専用で、認証には使用しない。
func (p *CardProtector) Hash(number string) (string, error) {
	n, err := NormalizeCardNumber(number)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, p.hashKey)
	mac.Write([]byte(n))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Encrypt はカード番号を正規化して暗号化する。
func (p *CardProtector) Encrypt(number string) (domain.EncryptedField, error) {
	n, err := NormalizeCardNumber(number)
	if err != nil {
		return domain.EncryptedField{}, err
	}
	return p.vault.EncryptField(n)
}

// Decrypt は暗号化済みカード番号を復号する。
func (p *CardProtector) Decrypt(f domain.EncryptedField) (string, error) {
	return p.vault.DecryptField(f)
}

// Protect はカード番号を検証し、保存用のCardSecretを生成する。
func (p *CardProtector) Protect(ownerID, number string) (*domain.CardSecret, error) {
	n, err := CheckCardNumber(number)
	if err != nil {
		return nil, err
	}
	field, err := p.vault.EncryptField(n)
	if err != nil {
		return nil, err
	}
	hash, err := p.Hash(n)
	if err != nil {
		return nil, err
	}
	return &domain.CardSecret{
		OwnerID:    ownerID,
		Field:      field,
		NumberHash: hash,
		Masked:     Mask(n),
		Last4:      n[len(n)-4:],
	}, nil
}
