// Package zkproof builds placeholder commitment/challenge/response triples.
//
// Nothing here is a sound zero-knowledge proof. Verify checks field shape only
// and never the relation between commitment, challenge and response; a real
// proof system must replace this package before any trust is placed in it.
package zkproof

import (
	"fmt"
	"time"

	"github.com/Mindburn-Labs/digitaldna/pkg/crypto"
)

// DigestHexLen is the hex length of the sha256 digests used for commitments
// and responses.
const DigestHexLen = 64

const nonceBytes = 16

// Proof is a shape-checked proof artifact attached to verification responses.
type Proof struct {
	ProofID        string    `json:"proof_id"`
	EntityID       string    `json:"entity_id"`
	DNAHash        string    `json:"dna_hash"`
	Commitment     string    `json:"commitment"`
	Challenge      string    `json:"challenge"`
	Response       string    `json:"response"`
	ProofTimestamp time.Time `json:"proof_timestamp"`
	IsValid        bool      `json:"is_valid"`
}

// Commit digests the secret together with a fresh random nonce.
func Commit(secret string) (string, error) {
	nonce, err := crypto.RandomHex(nonceBytes)
	if err != nil {
		return "", fmt.Errorf("zkproof: commit: %w", err)
	}
	return crypto.SHA256Hex([]byte(secret + ":" + nonce)), nil
}

// Challenge returns a fresh random challenge.
func Challenge() (string, error) {
	c, err := crypto.RandomHex(nonceBytes)
	if err != nil {
		return "", fmt.Errorf("zkproof: challenge: %w", err)
	}
	return c, nil
}

// Respond binds commitment, challenge and secret into one digest.
func Respond(commitment, challenge, secret string) string {
	return crypto.SHA256Hex([]byte(commitment + ":" + challenge + ":" + secret))
}

// Verify reports whether all fields are present and the commitment and
// response have digest length. It does not check the algebraic relation.
func Verify(commitment, challenge, response string) bool {
	if commitment == "" || challenge == "" || response == "" {
		return false
	}
	return len(commitment) == DigestHexLen && len(response) == DigestHexLen
}

// Build assembles a proof over dnaHash, using the hash itself as the secret.
func Build(proofID, entityID, dnaHash string) (Proof, error) {
	commitment, err := Commit(dnaHash)
	if err != nil {
		return Proof{}, err
	}
	challenge, err := Challenge()
	if err != nil {
		return Proof{}, err
	}
	response := Respond(commitment, challenge, dnaHash)
	return Proof{
		ProofID:        proofID,
		EntityID:       entityID,
		DNAHash:        dnaHash,
		Commitment:     commitment,
		Challenge:      challenge,
		Response:       response,
		ProofTimestamp: time.Now().UTC(),
		IsValid:        Verify(commitment, challenge, response),
	}, nil
}

// Document flattens the proof for message payloads.
func (p Proof) Document() map[string]any {
	return map[string]any{
		"proof_id":        p.ProofID,
		"entity_id":       p.EntityID,
		"dna_hash":        p.DNAHash,
		"commitment":      p.Commitment,
		"challenge":       p.Challenge,
		"response":        p.Response,
		"proof_timestamp": p.ProofTimestamp.Format(time.RFC3339Nano),
		"is_valid":        p.IsValid,
	}
}
