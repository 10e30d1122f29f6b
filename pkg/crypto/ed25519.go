package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Signer produces detached hex signatures.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
}

// Ed25519Signer signs audit exports.
type Ed25519Signer struct {
	KeyID string
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
}

// NewEd25519Signer generates a fresh key pair.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate ed25519 key: %w", err)
	}
	return &Ed25519Signer{KeyID: keyID, priv: priv, pub: pub}, nil
}

// NewEd25519SignerFromSeed derives a key pair from a 32-byte seed.
func NewEd25519SignerFromSeed(keyID string, seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{KeyID: keyID, priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.priv, data)), nil
}

// PublicKey returns the hex encoded public key.
func (s *Ed25519Signer) PublicKey() string { return hex.EncodeToString(s.pub) }

// Verifier checks signatures made by a Signer.
type Verifier interface {
	Verify(message []byte, signatureHex string) bool
}

// Ed25519Verifier verifies against a single public key.
type Ed25519Verifier struct {
	PublicKey ed25519.PublicKey
}

// NewEd25519Verifier accepts a hex encoded public key.
func NewEd25519Verifier(publicKeyHex string) (*Ed25519Verifier, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("crypto: invalid public key size: %d", len(raw))
	}
	return &Ed25519Verifier{PublicKey: ed25519.PublicKey(raw)}, nil
}

func (v *Ed25519Verifier) Verify(message []byte, signatureHex string) bool {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(v.PublicKey, message, sig)
}
