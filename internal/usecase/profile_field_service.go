package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"payment-auth-service/internal/domain"
	"payment-auth-service/internal/security"
)

const (
	maxFieldLength   = 128
	defaultBatchSize = 100
)

// profileCategories はプロフィールとして保存できる種別。カード番号はCardServiceで扱う。
var profileCategories = []domain.FieldCategory{
	domain.FieldCategoryNationalID,
	domain.FieldCategoryTaxID,
}

// FieldRepository は暗号化フィールドのデータアクセスのインターフェース。
type FieldRepository interface {
	Upsert(ctx context.Context, f *domain.SensitiveField) error
	Find(ctx context.Context, ownerID string, category domain.FieldCategory) (*domain.SensitiveField, error)
	Delete(ctx context.Context, ownerID string, category domain.FieldCategory) error
	FindByKeyVersion(ctx context.Context, category domain.FieldCategory, keyVersion uint, limit int) ([]*domain.SensitiveField, error)
}

// ProfileFieldService は国民識別番号などの機微なプロフィール項目を暗号化して保存する。
type ProfileFieldService struct {
	repo       FieldRepository
	vaults     map[domain.FieldCategory]*security.FieldVault
	keyVersion uint
}

// NewProfileFieldService は鍵素材から種別ごとのFieldVaultを構築する。
func NewProfileFieldService(repo FieldRepository, keys *security.KeyMaterial, keyVersion uint) (*ProfileFieldService, error) {
	if keyVersion == 0 {
		return nil, errors.New("key version must be positive")
	}
	vaults := make(map[domain.FieldCategory]*security.FieldVault, len(profileCategories))
	for _, c := range profileCategories {
		v, err := keys.FieldVault(c)
		if err != nil {
			return nil, fmt.Errorf("building field vault for %s: %w", c, err)
		}
		vaults[c] = v
	}
	return &ProfileFieldService{
		repo:       repo,
		vaults:     vaults,
		keyVersion: keyVersion,
	}, nil
}

// KeyVersion は新規暗号化に使う鍵バージョンを返す。
func (s *ProfileFieldService) KeyVersion() uint {
	return s.keyVersion
}

func (s *ProfileFieldService) vault(category domain.FieldCategory) (*security.FieldVault, error) {
	v, ok := s.vaults[category]
	if !ok {
		return nil, domain.Validationf("unsupported field category %q", category)
	}
	return v, nil
}

// Put は値を暗号化して保存する。既存の値は置き換える。
func (s *ProfileFieldService) Put(ctx context.Context, ownerID string, category domain.FieldCategory, value string) error {
	v, err := s.vault(category)
	if err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	if value == "" || len(value) > maxFieldLength {
		return domain.Validationf("value must be 1 to %d characters", maxFieldLength)
	}

	field, err := v.EncryptField(value)
	if err != nil {
		return err
	}
	if err := s.repo.Upsert(ctx, &domain.SensitiveField{
		OwnerID:    ownerID,
		Category:   category,
		Field:      field,
		KeyVersion: s.keyVersion,
	}); err != nil {
		return fmt.Errorf("storing field: %w", err)
	}
	return nil
}

// Get は保存済みの値を復号して返す。
func (s *ProfileFieldService) Get(ctx context.Context, ownerID string, category domain.FieldCategory) (string, error) {
	v, err := s.vault(category)
	if err != nil {
		return "", err
	}
	f, err := s.repo.Find(ctx, ownerID, category)
	if err != nil {
		return "", fmt.Errorf("finding field: %w", err)
	}
	if f == nil {
		return "", domain.ErrNotFound
	}
	value, err := v.DecryptField(f.Field)
	if err != nil {
		slog.ErrorContext(ctx, "failed to decrypt field",
			"owner_id", ownerID,
			"category", category,
			"key_version", f.KeyVersion,
			"error", err,
		)
		return "", err
	}
	return value, nil
}

// Delete は保存済みの値を削除する。
func (s *ProfileFieldService) Delete(ctx context.Context, ownerID string, category domain.FieldCategory) error {
	if _, err := s.vault(category); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, ownerID, category); err != nil {
		return fmt.Errorf("deleting field: %w", err)
	}
	return nil
}

// Rotate は旧鍵で暗号化されたフィールドを現在の鍵で再暗号化し、件数を返す。
func (s *ProfileFieldService) Rotate(ctx context.Context, old *ProfileFieldService, batchSize int) (int, error) {
	if old.keyVersion == s.keyVersion {
		return 0, domain.Validationf("old and new key versions are both %d", s.keyVersion)
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	for _, category := range profileCategories {
		if s.vaults[category].Category() != category || old.vaults[category].Category() != category {
			return 0, domain.Validationf("field vaults for %s do not match the category", category)
		}
	}

	rotated := 0
	for _, category := range profileCategories {
		for {
			fields, err := s.repo.FindByKeyVersion(ctx, category, old.keyVersion, batchSize)
			if err != nil {
				return rotated, fmt.Errorf("listing fields: %w", err)
			}
			if len(fields) == 0 {
				break
			}
			for _, f := range fields {
				field, err := s.vaults[category].Reencrypt(old.vaults[category], f.Field)
				if err != nil {
					return rotated, fmt.Errorf("re-encrypting field %s: %w", f.ID, err)
				}
				f.Field = field
				f.KeyVersion = s.keyVersion
				if err := s.repo.Upsert(ctx, f); err != nil {
					return rotated, fmt.Errorf("storing field %s: %w", f.ID, err)
				}
				rotated++
			}
		}
		slog.InfoContext(ctx, "field category rotated",
			"category", category,
			"from_version", old.keyVersion,
			"to_version", s.keyVersion,
		)
	}
	return rotated, nil
}
