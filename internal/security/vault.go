package security

import "payment-auth-service/internal/domain"

// FieldVault はカラム単位で保存する機微情報の暗号化を提供する。
type FieldVault struct {
	category domain.FieldCategory
	cipher   *EnvelopeCipher
}

// NewFieldVault は新しいFieldVaultを生成する。
func NewFieldVault(category domain.FieldCategory, c *EnvelopeCipher) *FieldVault {
	return &FieldVault{category: category, cipher: c}
}

// Category は対象フィールド種別を返す。
func (v *FieldVault) Category() domain.FieldCategory {
	return v.category
}

// EncryptField は平文を暗号化する。
func (v *FieldVault) EncryptField(plaintext string) (domain.EncryptedField, error) {
	ct, nonce, err := v.cipher.Encrypt([]byte(plaintext))
	if err != nil {
		return domain.EncryptedField{}, err
	}
	return domain.EncryptedField{Ciphertext: ct, Nonce: nonce}, nil
}

// DecryptField は暗号化済みフィールドを復号する。
func (v *FieldVault) DecryptField(f domain.EncryptedField) (string, error) {
	pt, err := v.cipher.Decrypt(f.Ciphertext, f.Nonce)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Reencrypt は旧Vaultで復号し、このVaultで暗号化し直す。鍵ローテーション用。
func (v *FieldVault) Reencrypt(old *FieldVault, f domain.EncryptedField) (domain.EncryptedField, error) {
	plaintext, err := old.DecryptField(f)
	if err != nil {
		return domain.EncryptedField{}, err
	}
	return v.EncryptField(plaintext)
}
