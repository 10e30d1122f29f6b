package crypto

import (
	"bytes"
	"testing"
)

func TestEd25519_SignVerify(t *testing.T) {
	signer, err := NewEd25519Signer("audit-1")
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	msg := []byte(`{"entity_id":"user-1"}`)
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	v, err := NewEd25519Verifier(signer.PublicKey())
	if err != nil {
		t.Fatalf("NewEd25519Verifier failed: %v", err)
	}
	if !v.Verify(msg, sig) {
		t.Error("Expected signature to verify")
	}
	if v.Verify([]byte(`{"entity_id":"user-2"}`), sig) {
		t.Error("Expected tampered message to fail")
	}
	if v.Verify(msg, "zz") {
		t.Error("Expected malformed signature to fail")
	}
}

func TestEd25519_SeedDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	a, err := NewEd25519SignerFromSeed("k", seed)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := NewEd25519SignerFromSeed("k", seed)
	if a.PublicKey() != b.PublicKey() {
		t.Error("Expected identical public keys from the same seed")
	}
	if _, err := NewEd25519SignerFromSeed("k", []byte("short")); err == nil {
		t.Error("Expected error for short seed")
	}
}

func TestNewEd25519Verifier_BadKey(t *testing.T) {
	if _, err := NewEd25519Verifier("abcd"); err == nil {
		t.Error("Expected error for short key")
	}
	if _, err := NewEd25519Verifier("not-hex"); err == nil {
		t.Error("Expected error for non-hex key")
	}
}
