package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/digitaldna/pkg/canonicalize"
	"github.com/Mindburn-Labs/digitaldna/pkg/crypto"
)

// TypeDecisionAudit labels an export of access decisions.
const TypeDecisionAudit = "audit/access-decisions"

// MaxPayloadSize bounds a single export.
const MaxPayloadSize = 10 * 1024 * 1024

var ErrUnsigned = errors.New("artifacts: envelope is not signed")

// Envelope wraps an exported document. Payload is JCS canonical JSON so the
// signature and content hash are stable across producers.
type Envelope struct {
	Type           string          `json:"type"`
	SchemaVersion  string          `json:"schema_version"`
	ProducerID     string          `json:"producer_id"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload"`
	Signature      string          `json:"signature,omitempty"`
	SignatureKeyID string          `json:"signature_key_id,omitempty"`
}

// NewEnvelope canonicalizes payload into a new envelope.
func NewEnvelope(typ, schemaVersion, producer string, at time.Time, payload any) (*Envelope, error) {
	raw, err := canonicalize.JCS(payload)
	if err != nil {
		return nil, fmt.Errorf("artifacts: canonicalize payload: %w", err)
	}
	return &Envelope{
		Type:          typ,
		SchemaVersion: schemaVersion,
		ProducerID:    producer,
		Timestamp:     at.UTC(),
		Payload:       raw,
	}, nil
}

// Sign signs the payload bytes and records the signer's public key.
func (e *Envelope) Sign(signer crypto.Signer) error {
	if len(e.Payload) == 0 {
		return errors.New("artifacts: missing payload")
	}
	sig, err := signer.Sign(e.Payload)
	if err != nil {
		return fmt.Errorf("artifacts: sign: %w", err)
	}
	e.Signature = sig
	e.SignatureKeyID = signer.PublicKey()
	return nil
}

// Registry stores envelopes in a Store and optionally verifies them on read.
type Registry struct {
	store    Store
	verifier crypto.Verifier
}

// NewRegistry creates a Registry. verifier may be nil.
func NewRegistry(store Store, verifier crypto.Verifier) *Registry {
	return &Registry{store: store, verifier: verifier}
}

// Put validates and persists an envelope, returning its content hash.
func (r *Registry) Put(ctx context.Context, env *Envelope) (string, error) {
	if env == nil {
		return "", errors.New("artifacts: nil envelope")
	}
	if env.Type == "" {
		return "", errors.New("artifacts: missing type")
	}
	if len(env.Payload) == 0 {
		return "", errors.New("artifacts: missing payload")
	}
	if len(env.Payload) > MaxPayloadSize {
		return "", fmt.Errorf("artifacts: payload exceeds %d bytes", MaxPayloadSize)
	}
	data, err := canonicalize.JCS(env)
	if err != nil {
		return "", fmt.Errorf("artifacts: canonicalize envelope: %w", err)
	}
	return r.store.Put(ctx, data)
}

// Get loads an envelope. With a verifier configured, unsigned or tampered
// envelopes are rejected.
func (r *Registry) Get(ctx context.Context, hash string) (*Envelope, error) {
	data, err := r.store.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("artifacts: corrupt envelope %s: %w", hash, err)
	}
	if r.verifier == nil {
		return &env, nil
	}
	if env.Signature == "" {
		return nil, ErrUnsigned
	}
	if !r.verifier.Verify(env.Payload, env.Signature) {
		return nil, fmt.Errorf("artifacts: signature invalid for %s", hash)
	}
	return &env, nil
}
