package dna

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/digitaldna/pkg/crypto"
)

// Factory keeps one Generator per entity.
type Factory struct {
	opts   []Option
	logger *slog.Logger

	mu         sync.Mutex
	generators map[string]*Generator
}

// NewFactory creates a registry whose generators are built with opts.
func NewFactory(opts ...Option) *Factory {
	probe := &Generator{logger: slog.Default()}
	for _, opt := range opts {
		opt(probe)
	}
	return &Factory{
		opts:       opts,
		logger:     probe.logger.With("component", "dna_factory"),
		generators: make(map[string]*Generator),
	}
}

// Generator returns the entity's generator, creating it on first use.
// The entity type is fixed by the first call.
func (f *Factory) Generator(entityID, entityType string) (*Generator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.generators[entityID]; ok {
		return g, nil
	}
	g, err := NewGenerator(entityID, entityType, f.opts...)
	if err != nil {
		return nil, err
	}
	f.generators[entityID] = g
	f.logger.Debug("generator registered", "entity_id", entityID, "entity_type", entityType)
	return g, nil
}

// Get returns an existing generator.
func (f *Factory) Get(entityID string) (*Generator, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.generators[entityID]
	return g, ok
}

// All returns every registered generator ordered by entity id.
func (f *Factory) All() []*Generator {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Generator, 0, len(f.generators))
	for _, g := range f.generators {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].entityID < out[j].entityID })
	return out
}

// GenerateFor is a shortcut for Generator followed by Generate.
func (f *Factory) GenerateFor(entityID, entityType string, samples []BehavioralSample, alg crypto.Algorithm) (DigitalDNA, error) {
	g, err := f.Generator(entityID, entityType)
	if err != nil {
		return DigitalDNA{}, fmt.Errorf("dna: factory: %w", err)
	}
	return g.Generate(samples, alg)
}
