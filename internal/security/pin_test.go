package security

import (
	"errors"
	"fmt"
	"testing"

	"payment-auth-service/internal/domain"
)

func TestDerivePINProof_Verify(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt failed: %v", err)
	}

	for _, pin := range []string{"000000", "123456", "999999", "482915"} {
		proof, err := DerivePINProof(pin, salt)
		if err != nil {
			t.Fatalf("DerivePINProof(%s) failed: %v", pin, err)
		}
		if proof == pin {
			t.Fatal("proof must not equal the raw PIN")
		}
		if !VerifyPIN(pin, salt, proof) {
			t.Errorf("VerifyPIN(%s): want true", pin)
		}
	}

	proof, _ := DerivePINProof("123456", salt)
	if VerifyPIN("123457", salt, proof) {
		t.Error("VerifyPIN with wrong PIN: want false")
	}
}

func TestDerivePINProof_AllPINsDistinctFromHash(t *testing.T) {
	salt, _ := NewSalt()
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		pin := fmt.Sprintf("%06d", i*997%1000000)
		proof, err := DerivePINProof(pin, salt)
		if err != nil {
			t.Fatalf("DerivePINProof failed: %v", err)
		}
		seen[proof] = struct{}{}
	}
	if len(seen) != 1000 {
		t.Errorf("want 1000 distinct proofs, got %d", len(seen))
	}
}

func TestDerivePINProof_SaltMatters(t *testing.T) {
	s1, _ := NewSalt()
	s2, _ := NewSalt()
	p1, _ := DerivePINProof("123456", s1)
	p2, _ := DerivePINProof("123456", s2)
	if p1 == p2 {
		t.Error("want different proofs for different salts")
	}
}

func TestValidatePIN(t *testing.T) {
	for _, pin := range []string{"", "12345", "1234567", "12a456", "１２３４５６"} {
		if err := ValidatePIN(pin); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("ValidatePIN(%q): want ErrValidation, got %v", pin, err)
		}
	}
	if err := ValidatePIN("012345"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateProofAndSalt(t *testing.T) {
	salt, _ := NewSalt()
	proof, _ := DerivePINProof("123456", salt)
	if err := ValidateProof(proof); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateProof("123456"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("want ErrValidation, got %v", err)
	}
	if err := ValidateSalt("zz"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("want ErrValidation, got %v", err)
	}
}

func TestPINHasher(t *testing.T) {
	h := NewPINHasher([]byte("pepper"), 1000)
	salt, _ := NewSalt()
	proof, _ := DerivePINProof("123456", salt)

	stored := h.Hash(proof, salt)
	if stored == proof {
		t.Fatal("stored hash must differ from the client proof")
	}
	if !h.Verify(proof, salt, stored, 1000) {
		t.Error("want verification to succeed")
	}

	wrong, _ := DerivePINProof("654321", salt)
	if h.Verify(wrong, salt, stored, 1000) {
		t.Error("want verification to fail for a wrong PIN")
	}
	if h.Verify(proof, salt, stored, 999) {
		t.Error("want verification to fail with a different iteration count")
	}

	other := NewPINHasher([]byte("other-pepper"), 1000)
	if other.Verify(proof, salt, stored, 1000) {
		t.Error("want verification to fail under another pepper")
	}
}

func TestNewPINHasher_DefaultIterations(t *testing.T) {
	if got := NewPINHasher([]byte("p"), 0).Iterations(); got != DefaultPINIterations {
		t.Errorf("want %d, got %d", DefaultPINIterations, got)
	}
}
