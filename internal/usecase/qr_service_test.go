package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"payment-auth-service/internal/domain"
)

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestQRService_EndToEndOpenAmount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.enrollPIN(t, "payer-1", "482915")

	code, err := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-1", TTLMinutes: 30})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if code.Status != domain.QRCodeStatusActive || code.Amount != nil {
		t.Fatalf("unexpected generated code: %+v", code)
	}
	if !code.ExpiresAt.Equal(env.clock.Now().Add(30 * time.Minute)) {
		t.Errorf("unexpected expiry %s", code.ExpiresAt)
	}

	details, err := env.qr.Validate(ctx, code.Code)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if details.Status != domain.QRCodeStatusActive || details.MerchantTag != "@corner-cafe" {
		t.Errorf("unexpected details: %+v", details)
	}

	settlement, err := env.qr.Redeem(ctx, RedeemQRInput{
		PayerID:         "payer-1",
		Code:            code.Code,
		PresentedAmount: decimal.NewFromInt(2500),
		PINProof:        env.proofFor(t, "payer-1", "482915"),
	})
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if settlement.MerchantID != "merchant-1" || !settlement.Amount.Equal(decimal.NewFromInt(2500)) {
		t.Errorf("unexpected settlement: %+v", settlement)
	}

	stored, _ := env.qrRepo.FindByCode(ctx, code.Code)
	if stored.Status != domain.QRCodeStatusUsed || stored.UsedBy == nil || *stored.UsedBy != "payer-1" || stored.UsedAt == nil {
		t.Errorf("unexpected stored code: %+v", stored)
	}
	if env.publisher.count() != 1 {
		t.Errorf("want 1 published settlement, got %d", env.publisher.count())
	}

	// 同じコードは正しいPINでも二度使えない
	_, err = env.qr.Redeem(ctx, RedeemQRInput{
		PayerID:         "payer-1",
		Code:            code.Code,
		PresentedAmount: decimal.NewFromInt(2500),
		PINProof:        env.proofFor(t, "payer-1", "000000"),
	})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("want ErrInvalidState, got %v", err)
	}
}

func TestQRService_FixedAmountMismatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.enrollPIN(t, "payer-1", "482915")

	code, err := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-1", Amount: amount("5000")})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	_, err = env.qr.Redeem(ctx, RedeemQRInput{
		PayerID:         "payer-1",
		Code:            code.Code,
		PresentedAmount: decimal.NewFromInt(5001),
		PINProof:        env.proofFor(t, "payer-1", "482915"),
	})
	if !errors.Is(err, domain.ErrAmountMismatch) {
		t.Fatalf("want ErrAmountMismatch, got %v", err)
	}

	// 金額不一致はPIN照合前に判定されるため失敗回数に数えない
	state, _ := env.guard.State(ctx, "payer-1")
	if state.FailedAttempts != 0 {
		t.Errorf("want 0 attempts, got %d", state.FailedAttempts)
	}

	settlement, err := env.qr.Redeem(ctx, RedeemQRInput{
		PayerID:         "payer-1",
		Code:            code.Code,
		PresentedAmount: decimal.RequireFromString("5000.00"),
		PINProof:        env.proofFor(t, "payer-1", "482915"),
	})
	if err != nil {
		t.Fatalf("Redeem with exact amount: %v", err)
	}
	if !settlement.Amount.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("want settlement 5000, got %s", settlement.Amount)
	}
}

func TestQRService_ValidateExpiresLazily(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	code, err := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-1", TTLMinutes: 5})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	env.clock.Advance(5*time.Minute + time.Second)

	stored, _ := env.qrRepo.FindByCode(ctx, code.Code)
	if stored.Status != domain.QRCodeStatusActive {
		t.Fatalf("nothing should touch the code before validation, got %s", stored.Status)
	}

	if _, err := env.qr.Validate(ctx, code.Code); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
	stored, _ = env.qrRepo.FindByCode(ctx, code.Code)
	if stored.Status != domain.QRCodeStatusExpired {
		t.Errorf("want stored status expired, got %s", stored.Status)
	}

	// 以降もExpiredとして扱われる
	if _, err := env.qr.Validate(ctx, code.Code); !errors.Is(err, domain.ErrExpired) {
		t.Errorf("want ErrExpired on second validation, got %v", err)
	}
}

func TestQRService_RedeemExpired(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.enrollPIN(t, "payer-1", "482915")
	proof := env.proofFor(t, "payer-1", "482915")

	code, err := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-1", TTLMinutes: 1})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	env.clock.Advance(2 * time.Minute)

	_, err = env.qr.Redeem(ctx, RedeemQRInput{
		PayerID:         "payer-1",
		Code:            code.Code,
		PresentedAmount: decimal.NewFromInt(100),
		PINProof:        proof,
	})
	if !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
	stored, _ := env.qrRepo.FindByCode(ctx, code.Code)
	if stored.Status != domain.QRCodeStatusExpired {
		t.Errorf("want stored status expired, got %s", stored.Status)
	}
}

func TestQRService_ConcurrentRedeemExactlyOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	payers := []string{"payer-1", "payer-2", "payer-3", "payer-4"}
	proofs := make(map[string]string, len(payers))
	for _, p := range payers {
		env.enrollPIN(t, p, "482915")
		proofs[p] = env.proofFor(t, p, "482915")
	}

	code, err := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-1"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for _, p := range payers {
		wg.Add(1)
		go func(payer string) {
			defer wg.Done()
			_, err := env.qr.Redeem(ctx, RedeemQRInput{
				PayerID:         payer,
				Code:            code.Code,
				PresentedAmount: decimal.NewFromInt(700),
				PINProof:        proofs[payer],
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}(p)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("want exactly 1 success, got %d", successes)
	}
	for _, err := range failures {
		if !errors.Is(err, domain.ErrInvalidState) && !errors.Is(err, domain.ErrExpired) {
			t.Errorf("want ErrInvalidState or ErrExpired, got %v", err)
		}
	}
	if env.publisher.count() != 1 {
		t.Errorf("want 1 published settlement, got %d", env.publisher.count())
	}
}

func TestQRService_RedeemWrongPIN(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.enrollPIN(t, "payer-1", "482915")

	code, err := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-1"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	_, err = env.qr.Redeem(ctx, RedeemQRInput{
		PayerID:         "payer-1",
		Code:            code.Code,
		PresentedAmount: decimal.NewFromInt(10),
		PINProof:        env.proofFor(t, "payer-1", "111111"),
	})
	if !errors.Is(err, domain.ErrAuthenticationFailed) {
		t.Fatalf("want ErrAuthenticationFailed, got %v", err)
	}
	stored, _ := env.qrRepo.FindByCode(ctx, code.Code)
	if stored.Status != domain.QRCodeStatusActive {
		t.Errorf("failed PIN must leave code active, got %s", stored.Status)
	}
}

func TestQRService_RedeemRejectsMerchantPayingItself(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.enrollPIN(t, "merchant-1", "482915")

	code, _ := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-1"})
	_, err := env.qr.Redeem(ctx, RedeemQRInput{
		PayerID:         "merchant-1",
		Code:            code.Code,
		PresentedAmount: decimal.NewFromInt(10),
		PINProof:        env.proofFor(t, "merchant-1", "482915"),
	})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("want ErrForbidden, got %v", err)
	}
}

func TestQRService_RedeemInvalidAmount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	code, _ := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-1"})
	for _, a := range []string{"0", "-5", "1.005"} {
		_, err := env.qr.Redeem(ctx, RedeemQRInput{
			PayerID:         "payer-1",
			Code:            code.Code,
			PresentedAmount: decimal.RequireFromString(a),
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("amount %s: want ErrValidation, got %v", a, err)
		}
	}
}

func TestQRService_PublishFailureKeepsRedemption(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.enrollPIN(t, "payer-1", "482915")
	env.publisher.err = errBroker

	code, _ := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-1", Amount: amount("12.50")})
	if _, err := env.qr.Redeem(ctx, RedeemQRInput{
		PayerID:         "payer-1",
		Code:            code.Code,
		PresentedAmount: decimal.RequireFromString("12.5"),
		PINProof:        env.proofFor(t, "payer-1", "482915"),
	}); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	stored, _ := env.qrRepo.FindByCode(ctx, code.Code)
	if stored.Status != domain.QRCodeStatusUsed {
		t.Errorf("want used, got %s", stored.Status)
	}
}

func TestQRService_GenerateRules(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tests := []struct {
		name string
		in   GenerateQRInput
		want error
	}{
		{"tier too low", GenerateQRInput{MerchantID: "merchant-0"}, domain.ErrForbidden},
		{"unknown merchant", GenerateQRInput{MerchantID: "ghost"}, domain.ErrNotFound},
		{"ttl too long", GenerateQRInput{MerchantID: "merchant-1", TTLMinutes: 1441}, domain.ErrValidation},
		{"negative ttl", GenerateQRInput{MerchantID: "merchant-1", TTLMinutes: -1}, domain.ErrValidation},
		{"zero amount", GenerateQRInput{MerchantID: "merchant-1", Amount: amount("0")}, domain.ErrValidation},
		{"sub-cent amount", GenerateQRInput{MerchantID: "merchant-1", Amount: amount("1.001")}, domain.ErrValidation},
		{"long description", GenerateQRInput{MerchantID: "merchant-1", Description: strings.Repeat("x", 256)}, domain.ErrValidation},
		{"missing merchant", GenerateQRInput{}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.qr.Generate(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("want %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-0"}); !errors.Is(err, domain.ErrTierTooLow) {
		t.Errorf("want ErrTierTooLow, got %v", err)
	}
}

func TestQRService_GeneratedCodesAreDistinct(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-1"})
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if seen[code.Code] {
			t.Fatalf("duplicate code %s", code.Code)
		}
		seen[code.Code] = true
	}
}

func TestQRService_PayloadDecodesOffline(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	code, err := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-1", Amount: amount("5000")})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(code.Payload, QRPayloadPrefix) {
		t.Fatalf("unexpected payload %q", code.Payload)
	}

	p, err := env.qr.Decode(code.Payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Code != code.Code || p.MerchantTag != "@corner-cafe" {
		t.Errorf("unexpected payload: %+v", p)
	}
	if p.FixedAmount == nil || !p.FixedAmount.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("want fixed amount 5000, got %v", p.FixedAmount)
	}
	if !p.ExpiresAt.Equal(code.ExpiresAt) || !p.GeneratedAt.Equal(code.CreatedAt) {
		t.Errorf("unexpected timestamps: %+v", p)
	}

	for _, bad := range []string{"", "PAYQR1.!!!", "OTHER.abc", QRPayloadPrefix + "e30"} {
		if _, err := env.qr.Decode(bad); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("Decode(%q): want ErrValidation, got %v", bad, err)
		}
	}
}

func TestQRService_Revoke(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	code, _ := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-1"})

	if err := env.qr.Revoke(ctx, "merchant-2", code.Code); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("want ErrForbidden, got %v", err)
	}
	if err := env.qr.Revoke(ctx, "merchant-1", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
	if err := env.qr.Revoke(ctx, "merchant-1", code.Code); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := env.qr.Revoke(ctx, "merchant-1", code.Code); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("want ErrInvalidState on second revoke, got %v", err)
	}
	if _, err := env.qr.Validate(ctx, code.Code); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("revoked code must not validate, got %v", err)
	}
}

func TestQRService_RevokeExpired(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	code, _ := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-1", TTLMinutes: 1})
	env.clock.Advance(time.Hour)

	err := env.qr.Revoke(ctx, "merchant-1", code.Code)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("want ErrInvalidState, got %v", err)
	}
	stored, _ := env.qrRepo.FindByCode(ctx, code.Code)
	if stored.Status != domain.QRCodeStatusExpired {
		t.Errorf("want expired, got %s", stored.Status)
	}
}

func TestQRService_History(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first, _ := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-1", TTLMinutes: 1})
	env.clock.Advance(time.Second)
	second, _ := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-1", TTLMinutes: 60})
	env.clock.Advance(time.Second)
	third, _ := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-1", TTLMinutes: 60})
	if _, err := env.qr.Generate(ctx, GenerateQRInput{MerchantID: "merchant-2"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := env.qr.Revoke(ctx, "merchant-1", third.Code); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	env.clock.Advance(2 * time.Minute)

	all, err := env.qr.History(ctx, "merchant-1", nil)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("want 3 codes, got %d", len(all))
	}
	if all[0].Code != third.Code || all[2].Code != first.Code {
		t.Errorf("want newest first")
	}
	if all[2].Status != domain.QRCodeStatusExpired {
		t.Errorf("want elapsed code reported as expired, got %s", all[2].Status)
	}

	active := domain.QRCodeStatusActive
	actives, _ := env.qr.History(ctx, "merchant-1", &active)
	if len(actives) != 1 || actives[0].Code != second.Code {
		t.Errorf("want only %s active, got %d codes", second.Code, len(actives))
	}

	expired := domain.QRCodeStatusExpired
	expiredCodes, _ := env.qr.History(ctx, "merchant-1", &expired)
	if len(expiredCodes) != 1 || expiredCodes[0].Code != first.Code {
		t.Errorf("want only %s expired, got %d codes", first.Code, len(expiredCodes))
	}

	// 履歴の参照は状態を変更しない
	stored, _ := env.qrRepo.FindByCode(ctx, first.Code)
	if stored.Status != domain.QRCodeStatusActive {
		t.Errorf("history must be read-only, stored status %s", stored.Status)
	}

	bogus := domain.QRCodeStatus("bogus")
	if _, err := env.qr.History(ctx, "merchant-1", &bogus); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("want ErrValidation, got %v", err)
	}
}
