package infra

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"payment-auth-service/config"
	"payment-auth-service/internal/security"
)

// SecretDecrypter はラップされたマスターシークレットを復号するインターフェース。
type SecretDecrypter interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// LoadKeyMaterial は設定から鍵素材を一度だけ構築する。
// MASTER_SECRET_KMS_CIPHERTEXTが設定されている場合はdecrypterで復号したものを使う。
func LoadKeyMaterial(ctx context.Context, cfg *config.Config, decrypter SecretDecrypter) (*security.KeyMaterial, error) {
	master := []byte(cfg.MasterSecret)

	if cfg.MasterSecretKMSCiphertext != "" {
		if decrypter == nil {
			return nil, errors.New("MASTER_SECRET_KMS_CIPHERTEXT is set but no KMS client is configured")
		}
		wrapped, err := base64.StdEncoding.DecodeString(cfg.MasterSecretKMSCiphertext)
		if err != nil {
			return nil, fmt.Errorf("decoding wrapped master secret: %w", err)
		}
		master, err = decrypter.Decrypt(ctx, wrapped)
		if err != nil {
			return nil, fmt.Errorf("unwrapping master secret: %w", err)
		}
		slog.InfoContext(ctx, "master secret unwrapped via KMS")
	}

	if len(master) == 0 {
		return nil, errors.New("MASTER_SECRET or MASTER_SECRET_KMS_CIPHERTEXT is required")
	}

	km, err := security.NewKeyMaterial(master, []byte(cfg.CardHashSecret), []byte(cfg.PINPepper))
	if err != nil {
		return nil, fmt.Errorf("building key material: %w", err)
	}
	return km, nil
}
