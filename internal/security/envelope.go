package security

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"payment-auth-service/internal/domain"
)

// NonceSize はXChaCha20-Poly1305のノンス長（192bit）。
const NonceSize = chacha20poly1305.NonceSizeX

// Overhead は認証タグ長。
const Overhead = chacha20poly1305.Overhead

// EnvelopeCipher は認証付き暗号による暗号化・復号を提供する。
// ノンスは呼び出しごとに内部で乱数生成し、呼び出し側からは指定できない。
type EnvelopeCipher struct {
	aead cipher.AEAD
}

// NewEnvelopeCipher は256bit鍵からEnvelopeCipherを生成する。
func NewEnvelopeCipher(key []byte) (*EnvelopeCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating AEAD: %w", err)
	}
	return &EnvelopeCipher{aead: aead}, nil
}

// Encrypt は平文を暗号化し、暗号文とノンスを返す。
func (c *EnvelopeCipher) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext = c.aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt は暗号文を復号する。改ざんを検出した場合はdomain.ErrIntegrityを返す。
func (c *EnvelopeCipher) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce length %d", domain.ErrIntegrity, len(nonce))
	}
	if len(ciphertext) < Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short", domain.ErrIntegrity)
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, domain.ErrIntegrity
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
