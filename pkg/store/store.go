// Package store persists DNA artifacts, consensus results and access
// decisions as JSON documents.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/digitaldna/pkg/dna"
	"github.com/Mindburn-Labs/digitaldna/pkg/federation"
	"github.com/Mindburn-Labs/digitaldna/pkg/policy"
)

var (
	// ErrNotFound is returned when a lookup has no match.
	ErrNotFound = errors.New("store: not found")
	// ErrIncompatibleSchema is returned when a stored DNA was written under a
	// schema major version this process does not understand.
	ErrIncompatibleSchema = errors.New("store: incompatible dna schema")
)

// Store is the persistence boundary of the pipeline.
type Store interface {
	SaveDNA(ctx context.Context, d dna.DigitalDNA) error
	LatestDNA(ctx context.Context, entityID string) (dna.DigitalDNA, error)
	SaveConsensus(ctx context.Context, r federation.ConsensusResult) error
	GetConsensus(ctx context.Context, id string) (federation.ConsensusResult, error)
	// SaveDecision inserts or replaces a decision, so overrides can be persisted.
	SaveDecision(ctx context.Context, d policy.AccessDecision) error
	GetDecision(ctx context.Context, id string) (policy.AccessDecision, error)
	// ListDecisions returns an entity's decisions in the order first saved.
	ListDecisions(ctx context.Context, entityID string) ([]policy.AccessDecision, error)
	Close() error
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("store: encode: %w", err)
	}
	return string(b), nil
}

func decode[T any](doc string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return v, fmt.Errorf("store: decode: %w", err)
	}
	return v, nil
}

func checkSchema(schema string, d dna.DigitalDNA) (dna.DigitalDNA, error) {
	if !dna.Compatible(schema, d.Version) {
		return dna.DigitalDNA{}, fmt.Errorf("%w: %s has version %q", ErrIncompatibleSchema, d.DNAID, d.Version)
	}
	return d, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
	_ Store = (*RedisStore)(nil)
)
