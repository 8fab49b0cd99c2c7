package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"payment-auth-service/internal/domain"
)

const (
	// PINLength は取引PINの桁数。
	PINLength = 6

	// SaltSize はPINソルトのバイト長。
	SaltSize = 16

	// PINAlgorithm は保存用ハッシュのアルゴリズム名。
	PINAlgorithm = "pbkdf2-sha256"

	// DefaultPINIterations は保存用ハッシュの既定反復回数。
	DefaultPINIterations = 100_000

	proofHexLen = sha256.Size * 2
)

// ValidatePIN はPINが6桁の数字であることを検証する。
func ValidatePIN(pin string) error {
	if len(pin) != PINLength {
		return domain.Validationf("PIN must be %d digits", PINLength)
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return domain.Validationf("PIN must be %d digits", PINLength)
		}
	}
	return nil
}

// ValidateProof はクライアント導出値の形式を検証する。
func ValidateProof(proof string) error {
	if len(proof) != proofHexLen {
		return domain.Validationf("PIN proof must be %d hex characters", proofHexLen)
	}
	if _, err := hex.DecodeString(proof); err != nil {
		return domain.Validationf("PIN proof must be hex encoded")
	}
	return nil
}

// ValidateSalt はソルトの形式を検証する。
func ValidateSalt(salt string) error {
	b, err := hex.DecodeString(salt)
	if err != nil || len(b) != SaltSize {
		return domain.Validationf("salt must be %d hex-encoded bytes", SaltSize)
	}
	return nil
}

// NewSalt は乱数ソルトを生成する。
func NewSalt() (string, error) {
	b := make([]byte, SaltSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// DerivePINProof はクライアント側でPINとソルトから送信用の鍵付きハッシュを導出する。
// 生のPINは端末外に送信されない。
func DerivePINProof(pin, salt string) (string, error) {
	if err := ValidatePIN(pin); err != nil {
		return "", err
	}
	if err := ValidateSalt(salt); err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(pin))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyPIN はPINから導出した値と送信値を定数時間で比較する。
func VerifyPIN(pin, salt, proof string) bool {
	derived, err := DerivePINProof(pin, salt)
	if err != nil {
		return false
	}
	return ConstantTimeEquals(derived, proof)
}

// PINHasher はクライアント導出値を保存用に反復ハッシュする。
type PINHasher struct {
	pepper     []byte
	iterations int
}

// NewPINHasher は新しいPINHasherを生成する。iterationsが0以下の場合は既定値を使う。
func NewPINHasher(pepper []byte, iterations int) *PINHasher {
	if iterations <= 0 {
		iterations = DefaultPINIterations
	}
	return &PINHasher{pepper: pepper, iterations: iterations}
}

// Iterations は反復回数を返す。
func (h *PINHasher) Iterations() int {
	return h.iterations
}

// Hash は保存用ハッシュを計算する。
func (h *PINHasher) Hash(proof, salt string) string {
	return h.hashWith(proof, salt, h.iterations)
}

// Verify は保存済みハッシュと照合する。iterationsは保存時の値を使う。
func (h *PINHasher) Verify(proof, salt, storedHash string, iterations int) bool {
	if iterations <= 0 {
		iterations = h.iterations
	}
	return ConstantTimeEquals(h.hashWith(proof, salt, iterations), storedHash)
}

func (h *PINHasher) hashWith(proof, salt string, iterations int) string {
	s := make([]byte, 0, len(h.pepper)+len(salt))
	s = append(s, h.pepper...)
	s = append(s, salt...)
	return hex.EncodeToString(pbkdf2.Key([]byte(proof), s, iterations, sha256.Size, sha256.New))
}
