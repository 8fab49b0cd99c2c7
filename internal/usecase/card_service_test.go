package usecase

import (
	"context"
	"errors"
	"testing"

	"payment-auth-service/internal/domain"
	"payment-auth-service/internal/repository"
)

func newTestCardService(t *testing.T) (*CardService, *repository.CardRepository) {
	t.Helper()

	db := setupMigratedDB(t)
	protector, err := testKeyMaterial(t, "m").CardProtector()
	if err != nil {
		t.Fatalf("CardProtector: %v", err)
	}
	repo := repository.NewCardRepository(db)
	return NewCardService(repo, protector), repo
}

func TestCardService_RegisterAndReveal(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestCardService(t)

	card, err := svc.Register(ctx, "owner-1", "4532 0151 1283 0366")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if card.ID == "" || card.Masked != "**** **** **** 0366" || card.Last4 != "0366" {
		t.Errorf("unexpected card: %+v", card)
	}

	number, err := svc.Reveal(ctx, "owner-1", card.ID)
	if err != nil {
		t.Fatalf("Reveal: %v", err)
	}
	if number != "4532015112830366" {
		t.Errorf("want normalized number, got %s", number)
	}

	if _, err := svc.Reveal(ctx, "owner-2", card.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("other owners must not see the card, got %v", err)
	}
}

func TestCardService_RegisterRejectsInvalidNumbers(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestCardService(t)

	for _, n := range []string{"4532015112830367", "1234", "4532-0151-1283-036x"} {
		if _, err := svc.Register(ctx, "owner-1", n); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%s: want ErrValidation, got %v", n, err)
		}
	}
}

func TestCardService_DuplicatePerOwner(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestCardService(t)

	if _, err := svc.Register(ctx, "owner-1", "4532015112830366"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, "owner-1", "4532-0151-1283-0366"); !errors.Is(err, domain.ErrDuplicateCard) {
		t.Errorf("want ErrDuplicateCard, got %v", err)
	}

	// 別の所有者は同じ番号を登録できる
	card, err := svc.Register(ctx, "owner-2", "4532015112830366")
	if err != nil {
		t.Fatalf("Register for owner-2: %v", err)
	}
	count, err := repo.CountByHash(ctx, card.NumberHash)
	if err != nil {
		t.Fatalf("CountByHash: %v", err)
	}
	if count != 2 {
		t.Errorf("want 2 registrations, got %d", count)
	}
}

func TestCardService_ListShowsMaskedOnly(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestCardService(t)

	for _, n := range []string{"4532015112830366", "378282246310005"} {
		if _, err := svc.Register(ctx, "owner-1", n); err != nil {
			t.Fatalf("Register %s: %v", n, err)
		}
	}
	cards, err := svc.List(ctx, "owner-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("want 2 cards, got %d", len(cards))
	}
	for _, c := range cards {
		if c.Last4 == "" || c.Masked[len(c.Masked)-4:] != c.Last4 {
			t.Errorf("unexpected mask %q for last4 %q", c.Masked, c.Last4)
		}
	}
}

func TestCardService_RevealDetectsTampering(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestCardService(t)

	card, err := svc.Register(ctx, "owner-1", "4532015112830366")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// 別の鍵素材では復号できない
	protector, _ := testKeyMaterial(t, "x").CardProtector()
	other := NewCardService(svc.repo, protector)
	if _, err := other.Reveal(ctx, "owner-1", card.ID); !errors.Is(err, domain.ErrIntegrity) {
		t.Errorf("want ErrIntegrity, got %v", err)
	}
}
