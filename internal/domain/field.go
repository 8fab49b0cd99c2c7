package domain

import "time"

// FieldCategory は暗号化対象フィールドの種別を表す。
type FieldCategory string

const (
	// FieldCategoryNationalID は国民識別番号。
	FieldCategoryNationalID FieldCategory = "national_id"
	// FieldCategoryTaxID は納税者番号。
	FieldCategoryTaxID FieldCategory = "tax_id"
	// FieldCategoryCardNumber はカード番号。
	FieldCategoryCardNumber FieldCategory = "card_number"
)

// EncryptedField は暗号文とノンスの組。
type EncryptedField struct {
	Ciphertext []byte
	Nonce      []byte
}

// SensitiveField はアカウントに紐づく暗号化済みフィールドのレコード。
type SensitiveField struct {
	ID         string
	OwnerID    string
	Category   FieldCategory
	Field      EncryptedField
	KeyVersion uint
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CardSecret は暗号化済みカード番号と重複検出用ハッシュ、表示用マスクを持つ。
type CardSecret struct {
	ID         string
	OwnerID    string
	Field      EncryptedField
	NumberHash string
	Masked     string
	Last4      string
	CreatedAt  time.Time
}
