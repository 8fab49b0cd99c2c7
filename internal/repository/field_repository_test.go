package repository

import (
	"context"
	"testing"

	"payment-auth-service/internal/domain"
)

func newField(ownerID string, category domain.FieldCategory, ct string, version uint) *domain.SensitiveField {
	return &domain.SensitiveField{
		OwnerID:    ownerID,
		Category:   category,
		Field:      domain.EncryptedField{Ciphertext: []byte(ct), Nonce: []byte("nonce")},
		KeyVersion: version,
	}
}

func TestFieldRepository_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	repo := NewFieldRepository(setupTestDB(t))

	if err := repo.Upsert(ctx, newField("acct-1", domain.FieldCategoryNationalID, "v1", 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	first, _ := repo.Find(ctx, "acct-1", domain.FieldCategoryNationalID)

	if err := repo.Upsert(ctx, newField("acct-1", domain.FieldCategoryNationalID, "v2", 2)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	got, err := repo.Find(ctx, "acct-1", domain.FieldCategoryNationalID)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if string(got.Field.Ciphertext) != "v2" || got.KeyVersion != 2 {
		t.Errorf("unexpected field %+v", got)
	}
	if got.ID != first.ID {
		t.Errorf("want id kept across updates, got %s and %s", first.ID, got.ID)
	}
}

func TestFieldRepository_FindAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewFieldRepository(setupTestDB(t))

	missing, err := repo.Find(ctx, "acct-1", domain.FieldCategoryTaxID)
	if err != nil || missing != nil {
		t.Fatalf("want nil for missing field, got %v %v", missing, err)
	}

	if err := repo.Upsert(ctx, newField("acct-1", domain.FieldCategoryTaxID, "ct", 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := repo.Delete(ctx, "acct-1", domain.FieldCategoryTaxID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, _ := repo.Find(ctx, "acct-1", domain.FieldCategoryTaxID)
	if got != nil {
		t.Error("want field deleted")
	}
}

func TestFieldRepository_FindByKeyVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewFieldRepository(setupTestDB(t))
	for _, f := range []*domain.SensitiveField{
		newField("acct-1", domain.FieldCategoryNationalID, "a", 1),
		newField("acct-2", domain.FieldCategoryNationalID, "b", 1),
		newField("acct-3", domain.FieldCategoryNationalID, "c", 2),
		newField("acct-1", domain.FieldCategoryTaxID, "d", 1),
	} {
		if err := repo.Upsert(ctx, f); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	got, err := repo.FindByKeyVersion(ctx, domain.FieldCategoryNationalID, 1, 10)
	if err != nil {
		t.Fatalf("FindByKeyVersion failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("want 2 fields, got %d", len(got))
	}

	got, _ = repo.FindByKeyVersion(ctx, domain.FieldCategoryNationalID, 1, 1)
	if len(got) != 1 {
		t.Errorf("want limit applied, got %d", len(got))
	}
}
