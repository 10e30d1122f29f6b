package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// MockSignatureKeySize is the size of the throwaway HMAC key.
const MockSignatureKeySize = 32

// MockSign produces an HMAC-SHA256 over data using a key generated for this
// call only. The key is discarded, so the signature can never be re-verified.
// It is a placeholder for a real asymmetric signature.
func MockSign(data string) (string, error) {
	key := make([]byte, MockSignatureKeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("crypto: mock signing key generation failed: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// RandomHex returns n random bytes as lowercase hex (2n characters).
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto: random read failed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
