package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/digitaldna/pkg/dna"
	"github.com/Mindburn-Labs/digitaldna/pkg/federation"
	"github.com/Mindburn-Labs/digitaldna/pkg/policy"
)

// MemoryStore keeps encoded documents in maps. Values are stored in their
// JSON form so reads behave like the durable backends.
type MemoryStore struct {
	mu        sync.RWMutex
	schema    string
	latest    map[string]string
	consensus map[string]string
	decisions map[string]string
	byEntity  map[string][]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schema:    dna.DefaultSchemaVersion,
		latest:    make(map[string]string),
		consensus: make(map[string]string),
		decisions: make(map[string]string),
		byEntity:  make(map[string][]string),
	}
}

func (s *MemoryStore) SaveDNA(_ context.Context, d dna.DigitalDNA) error {
	doc, err := encode(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.latest[d.EntityID]; ok {
		p, err := decode[dna.DigitalDNA](prev)
		if err == nil && p.GenerationTimestamp.After(d.GenerationTimestamp) {
			return nil
		}
	}
	s.latest[d.EntityID] = doc
	return nil
}

func (s *MemoryStore) LatestDNA(_ context.Context, entityID string) (dna.DigitalDNA, error) {
	s.mu.RLock()
	doc, ok := s.latest[entityID]
	s.mu.RUnlock()
	if !ok {
		return dna.DigitalDNA{}, fmt.Errorf("%w: dna for %s", ErrNotFound, entityID)
	}
	d, err := decode[dna.DigitalDNA](doc)
	if err != nil {
		return dna.DigitalDNA{}, err
	}
	return checkSchema(s.schema, d)
}

func (s *MemoryStore) SaveConsensus(_ context.Context, r federation.ConsensusResult) error {
	doc, err := encode(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.consensus[r.ConsensusID] = doc
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetConsensus(_ context.Context, id string) (federation.ConsensusResult, error) {
	s.mu.RLock()
	doc, ok := s.consensus[id]
	s.mu.RUnlock()
	if !ok {
		return federation.ConsensusResult{}, fmt.Errorf("%w: consensus %s", ErrNotFound, id)
	}
	return decode[federation.ConsensusResult](doc)
}

func (s *MemoryStore) SaveDecision(_ context.Context, d policy.AccessDecision) error {
	doc, err := encode(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.decisions[d.DecisionID]; !exists {
		s.byEntity[d.EntityID] = append(s.byEntity[d.EntityID], d.DecisionID)
	}
	s.decisions[d.DecisionID] = doc
	return nil
}

func (s *MemoryStore) GetDecision(_ context.Context, id string) (policy.AccessDecision, error) {
	s.mu.RLock()
	doc, ok := s.decisions[id]
	s.mu.RUnlock()
	if !ok {
		return policy.AccessDecision{}, fmt.Errorf("%w: decision %s", ErrNotFound, id)
	}
	return decode[policy.AccessDecision](doc)
}

func (s *MemoryStore) ListDecisions(_ context.Context, entityID string) ([]policy.AccessDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]policy.AccessDecision, 0, len(s.byEntity[entityID]))
	for _, id := range s.byEntity[entityID] {
		d, err := decode[policy.AccessDecision](s.decisions[id])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
