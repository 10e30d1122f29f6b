package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Algorithm selects the digest family used for a composite DNA hash.
type Algorithm string

const (
	SHA256Composite Algorithm = "sha256_composite"
	SHA512Composite Algorithm = "sha512_composite"
	BLAKE2Composite Algorithm = "blake2_composite"
)

// Algorithms lists every supported digest family.
func Algorithms() []Algorithm {
	return []Algorithm{SHA256Composite, SHA512Composite, BLAKE2Composite}
}

// ParseAlgorithm maps a configuration string onto a supported family.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case SHA256Composite, SHA512Composite, BLAKE2Composite:
		return a, nil
	default:
		return "", fmt.Errorf("crypto: unsupported digest algorithm %q", s)
	}
}

// Hasher digests raw bytes into lowercase hex.
type Hasher interface {
	Digest(data []byte) string
	// HexLen is the length of the hex digest in characters.
	HexLen() int
}

type familyHasher struct {
	sum    func([]byte) []byte
	hexLen int
}

func (h familyHasher) Digest(data []byte) string { return hex.EncodeToString(h.sum(data)) }
func (h familyHasher) HexLen() int              { return h.hexLen }

// NewHasher returns the Hasher for an algorithm family.
func NewHasher(a Algorithm) (Hasher, error) {
	switch a {
	case SHA256Composite:
		return familyHasher{sum: func(b []byte) []byte { s := sha256.Sum256(b); return s[:] }, hexLen: 64}, nil
	case SHA512Composite:
		return familyHasher{sum: func(b []byte) []byte { s := sha512.Sum512(b); return s[:] }, hexLen: 128}, nil
	case BLAKE2Composite:
		return familyHasher{sum: func(b []byte) []byte { s := blake2b.Sum512(b); return s[:] }, hexLen: 128}, nil
	default:
		return nil, fmt.Errorf("crypto: unsupported digest algorithm %q", a)
	}
}

// SHA256Hex is the default digest used for signatures, commitments and profiles.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
