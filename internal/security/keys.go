// Package security は暗号化・ハッシュ・PIN導出などの純粋な暗号処理を提供する。
// 鍵素材は起動時に一度だけ構築され、以降は読み取り専用で共有される。
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"payment-auth-service/internal/domain"
)

const (
	// KeySize はエンベロープ暗号の鍵長（256bit）。
	KeySize = 32

	// MinSecretSize はオペレーターが供給するシークレットの最小長。
	MinSecretSize = 32

	envelopeLabel = "payment-auth/envelope/v1"
	fieldLabel    = "payment-auth/field/v1/"
)

// KeyMaterial はプロセス全体で共有する不変の鍵素材。
type KeyMaterial struct {
	masterKey []byte
	hashKey   []byte
	pinPepper []byte
}

// NewKeyMaterial はマスターシークレット等から鍵素材を構築する。
// カードハッシュ用シークレットはマスターシークレットと異なる値でなければならない。
func NewKeyMaterial(masterSecret, cardHashSecret, pinPepper []byte) (*KeyMaterial, error) {
	if len(masterSecret) < MinSecretSize {
		return nil, fmt.Errorf("master secret must be at least %d bytes", MinSecretSize)
	}
	if len(cardHashSecret) < MinSecretSize {
		return nil, fmt.Errorf("card hash secret must be at least %d bytes", MinSecretSize)
	}
	if hmac.Equal(masterSecret, cardHashSecret) {
		return nil, errors.New("card hash secret must differ from master secret")
	}
	if len(pinPepper) == 0 {
		return nil, errors.New("PIN pepper is required")
	}

	master, err := deriveKey(masterSecret, envelopeLabel)
	if err != nil {
		return nil, err
	}
	hashKey, err := deriveKey(cardHashSecret, "payment-auth/card-hash/v1")
	if err != nil {
		return nil, err
	}

	return &KeyMaterial{
		masterKey: master,
		hashKey:   hashKey,
		pinPepper: append([]byte(nil), pinPepper...),
	}, nil
}

// EnvelopeCipher はマスター鍵によるエンベロープ暗号を返す。
func (k *KeyMaterial) EnvelopeCipher() (*EnvelopeCipher, error) {
	return NewEnvelopeCipher(k.masterKey)
}

// FieldVault はフィールド種別ごとに導出した鍵を持つFieldVaultを返す。
func (k *KeyMaterial) FieldVault(category domain.FieldCategory) (*FieldVault, error) {
	key, err := deriveKey(k.masterKey, fieldLabel+string(category))
	if err != nil {
		return nil, err
	}
	c, err := NewEnvelopeCipher(key)
	if err != nil {
		return nil, err
	}
	return NewFieldVault(category, c), nil
}

// CardProtector はカード番号用の保護処理を返す。
func (k *KeyMaterial) CardProtector() (*CardProtector, error) {
	vault, err := k.FieldVault(domain.FieldCategoryCardNumber)
	if err != nil {
		return nil, err
	}
	return NewCardProtector(vault, k.hashKey), nil
}

// PINHasher はPIN保存用の反復ハッシュを返す。
func (k *KeyMaterial) PINHasher(iterations int) *PINHasher {
	return NewPINHasher(k.pinPepper, iterations)
}

// deriveKey はHKDF-SHA256でラベルごとの鍵を導出する。
func deriveKey(secret []byte, label string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(label))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}
