// Package dna derives Digital DNA identity fingerprints from behavioral telemetry.
//
// A generation normalizes a batch of samples against the batch-wide range,
// scores its diversity, folds the samples into a composite hash and attaches a
// mock signature. Signatures use a throwaway HMAC key and cannot be verified
// later; they only exercise the artifact shape.
package dna

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/digitaldna/pkg/canonicalize"
	"github.com/Mindburn-Labs/digitaldna/pkg/crypto"
)

const (
	// TTL is the fixed lifetime of a generated DNA.
	TTL = 30 * 24 * time.Hour
	// DefaultSchemaVersion is the artifact schema version stamped on every DNA.
	DefaultSchemaVersion = "1.0.0"

	// MinEntropy is the validity floor for the entropy score.
	MinEntropy = 0.3
	// MinFieldLength is the shortest hash or signature accepted as well-formed.
	MinFieldLength = 16
	// EntropyThreshold marks a generation as diverse in its metadata.
	EntropyThreshold = 0.5

	maxComponents = 10
	// maxVariance is the largest population variance of a [0,1]-bounded variable.
	maxVariance      = 0.25
	emptySentinel    = "empty"
	generationMethod = "behavioral_composite"
)

// Validity reasons returned by VerifyValidity.
const (
	ReasonValid         = "DNA is valid"
	ReasonExpired       = "DNA has expired"
	ReasonInvalidHash   = "Invalid DNA hash format"
	ReasonInvalidSig    = "Invalid DNA signature"
	ReasonEntropyTooLow = "Entropy score too low"
)

// ErrInvalidSchemaVersion is returned when a generator is configured with a
// schema version that is not semantic.
var ErrInvalidSchemaVersion = errors.New("dna: invalid schema version")

// Clock provides the generator's notion of now.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock injects the time source used for timestamps and expiry checks.
func WithClock(c Clock) Option {
	return func(g *Generator) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithSchemaVersion overrides the schema version stamped on generated DNA.
func WithSchemaVersion(v string) Option {
	return func(g *Generator) { g.version = v }
}

// Generator produces and rotates Digital DNA for a single entity.
// It is safe for concurrent use.
type Generator struct {
	entityID   string
	entityType string
	version    string
	clock      Clock
	logger     *slog.Logger

	mu         sync.Mutex
	history    []DigitalDNA
	components []Component
}

// NewGenerator creates a generator for one entity.
func NewGenerator(entityID, entityType string, opts ...Option) (*Generator, error) {
	if entityType == "" {
		entityType = "user"
	}
	g := &Generator{
		entityID:   entityID,
		entityType: entityType,
		version:    DefaultSchemaVersion,
		clock:      wallClock{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if _, err := semver.StrictNewVersion(g.version); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSchemaVersion, g.version, err)
	}
	g.logger = g.logger.With("component", "dna_generator", "entity_id", entityID)
	g.logger.Info("dna generator initialized", "entity_type", entityType, "version", g.version)
	return g, nil
}

// EntityID returns the entity this generator serves.
func (g *Generator) EntityID() string { return g.entityID }

// EntityType returns the entity's type label.
func (g *Generator) EntityType() string { return g.entityType }

// Version returns the schema version stamped on generated DNA.
func (g *Generator) Version() string { return g.version }

// NormalizedSample is a sample whose value has been scaled into [0,1].
type NormalizedSample struct {
	BehaviorType string
	Timestamp    string
	Value        float64
}

// Generate derives a new DigitalDNA from samples and appends it to the history.
func (g *Generator) Generate(samples []BehavioralSample, algorithm crypto.Algorithm) (DigitalDNA, error) {
	d, components, err := g.build(samples, algorithm)
	if err != nil {
		return DigitalDNA{}, err
	}

	g.mu.Lock()
	g.components = components
	g.history = append(g.history, d)
	g.mu.Unlock()

	g.logGenerated(d)
	return d, nil
}

// build derives a DNA without touching generator state.
func (g *Generator) build(samples []BehavioralSample, algorithm crypto.Algorithm) (DigitalDNA, []Component, error) {
	if algorithm == "" {
		algorithm = crypto.SHA256Composite
	}
	hasher, err := crypto.NewHasher(algorithm)
	if err != nil {
		return DigitalDNA{}, nil, fmt.Errorf("dna: generate: %w", err)
	}

	normalized := Normalize(samples)
	entropy := Entropy(normalized)
	components := buildComponents(normalized)
	digest := compositeHash(normalized, hasher)

	now := g.clock.Now().UTC()
	profile, err := profileHash(normalized, now)
	if err != nil {
		return DigitalDNA{}, nil, fmt.Errorf("dna: profile hash: %w", err)
	}
	signature, err := crypto.MockSign(digest)
	if err != nil {
		return DigitalDNA{}, nil, fmt.Errorf("dna: %w", err)
	}
	suffix, err := crypto.RandomHex(6)
	if err != nil {
		return DigitalDNA{}, nil, fmt.Errorf("dna: %w", err)
	}

	d := DigitalDNA{
		DNAID:                 fmt.Sprintf("DNA_%s_%d_%s", g.entityID, now.UnixMilli(), suffix),
		EntityID:              g.entityID,
		EntityType:            g.entityType,
		GenerationTimestamp:   now,
		ExpirationTimestamp:   now.Add(TTL),
		DNAHash:               digest,
		DNASignature:          signature,
		EntropyScore:          entropy,
		VectorCount:           len(samples),
		Version:               g.version,
		Algorithm:             algorithm,
		BehavioralProfileHash: profile,
		Metadata: map[string]any{
			"vector_count":          len(samples),
			"components_count":      len(components),
			"algorithm_version":     string(algorithm),
			"generation_method":     generationMethod,
			"entropy_threshold_met": entropy >= EntropyThreshold,
		},
		IsValid: true,
	}

	return d, components, nil
}

func (g *Generator) logGenerated(d DigitalDNA) {
	g.logger.Info("digital dna generated",
		"dna_id", d.DNAID,
		"entropy", d.EntropyScore,
		"algorithm", d.Algorithm,
		"signature_prefix", d.DNASignature[:16],
	)
}

// Rotate generates a replacement using the default digest family, then
// invalidates the most recent DNA and appends the replacement in one step.
// On error the history is unchanged.
func (g *Generator) Rotate(samples []BehavioralSample) (DigitalDNA, error) {
	d, components, err := g.build(samples, crypto.SHA256Composite)
	if err != nil {
		return DigitalDNA{}, err
	}

	g.mu.Lock()
	var previous string
	if n := len(g.history); n > 0 {
		g.history[n-1].IsValid = false
		previous = g.history[n-1].DNAID
	}
	g.components = components
	g.history = append(g.history, d)
	g.mu.Unlock()

	g.logGenerated(d)
	g.logger.Info("digital dna rotated", "previous_dna_id", previous, "dna_id", d.DNAID)
	return d, nil
}

// VerifyValidity checks expiry and field shape against the generator's clock.
func (g *Generator) VerifyValidity(d DigitalDNA) (bool, string) {
	return VerifyValidity(d, g.clock.Now())
}

// CompareSimilarity scores how alike two fingerprints are.
func (g *Generator) CompareSimilarity(a, b DigitalDNA) float64 {
	return Similarity(a.DNAHash, b.DNAHash)
}

// History returns a copy of every DNA generated so far, oldest first.
func (g *Generator) History() []DigitalDNA {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]DigitalDNA, len(g.history))
	copy(out, g.history)
	return out
}

// Latest returns the most recently generated DNA.
func (g *Generator) Latest() (DigitalDNA, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.history) == 0 {
		return DigitalDNA{}, false
	}
	return g.history[len(g.history)-1], true
}

// Components returns the diagnostic components of the last generation.
func (g *Generator) Components() []Component {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Component, len(g.components))
	copy(out, g.components)
	return out
}

// Compatible reports whether d was produced under the same major schema
// version as this generator.
func (g *Generator) Compatible(d DigitalDNA) bool {
	return Compatible(g.version, d.Version)
}

// Normalize scales sample values into [0,1] using the batch-wide min and max.
// A batch whose values are all equal uses a divisor of 1.
func Normalize(samples []BehavioralSample) []NormalizedSample {
	if len(samples) == 0 {
		return nil
	}
	lo, hi := samples[0].Value, samples[0].Value
	for _, s := range samples[1:] {
		lo = math.Min(lo, s.Value)
		hi = math.Max(hi, s.Value)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	out := make([]NormalizedSample, len(samples))
	for i, s := range samples {
		out[i] = NormalizedSample{
			BehaviorType: norm.NFC.String(string(s.BehaviorType)),
			Timestamp:    s.Timestamp,
			Value:        (s.Value - lo) / span,
		}
	}
	return out
}

// Entropy is the population variance of the normalized values relative to
// the maximum variance of a [0,1]-bounded variable, clamped to [0,1].
func Entropy(samples []NormalizedSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	n := float64(len(samples))
	var mean float64
	for _, s := range samples {
		mean += s.Value
	}
	mean /= n

	var variance float64
	for _, s := range samples {
		d := s.Value - mean
		variance += d * d
	}
	variance /= n

	return math.Max(0, math.Min(variance/maxVariance, 1))
}

func buildComponents(samples []NormalizedSample) []Component {
	limit := min(len(samples), maxComponents)
	out := make([]Component, 0, limit)
	for i := range limit {
		s := samples[i]
		out = append(out, Component{
			Name:                  fmt.Sprintf("vector_%d", i),
			Value:                 s.BehaviorType,
			Weight:                s.Value,
			ContributionToEntropy: s.Value * 0.1,
		})
	}
	return out
}

// compositeHash digests one descriptor per sample, in order, joined by "|".
func compositeHash(samples []NormalizedSample, h crypto.Hasher) string {
	if len(samples) == 0 {
		return crypto.SHA256Hex([]byte(emptySentinel))
	}
	parts := make([]string, len(samples))
	for i, s := range samples {
		parts[i] = fmt.Sprintf("%d:%s:%.6f:%s", i, s.BehaviorType, s.Value, s.Timestamp)
	}
	return h.Digest([]byte(strings.Join(parts, "|")))
}

// profileHash embeds the generation time, so identical batches hash
// differently across calls.
func profileHash(samples []NormalizedSample, now time.Time) (string, error) {
	seen := make(map[string]struct{}, len(samples))
	types := make([]string, 0, len(samples))
	var sum float64
	for _, s := range samples {
		sum += s.Value
		if _, ok := seen[s.BehaviorType]; !ok {
			seen[s.BehaviorType] = struct{}{}
			types = append(types, s.BehaviorType)
		}
	}
	sort.Strings(types)
	var avg float64
	if len(samples) > 0 {
		avg = sum / float64(len(samples))
	}

	return canonicalize.CanonicalHash(map[string]any{
		"vector_count":   len(samples),
		"behavior_types": types,
		"avg_value":      avg,
		"timestamp":      now.Format(time.RFC3339Nano),
	})
}

// VerifyValidity checks a DNA against now. Failures are reported, never raised.
func VerifyValidity(d DigitalDNA, now time.Time) (bool, string) {
	switch {
	case now.After(d.ExpirationTimestamp):
		return false, ReasonExpired
	case len(d.DNAHash) < MinFieldLength:
		return false, ReasonInvalidHash
	case len(d.DNASignature) < MinFieldLength:
		return false, ReasonInvalidSig
	case d.EntropyScore < MinEntropy:
		return false, ReasonEntropyTooLow
	default:
		return true, ReasonValid
	}
}

// Similarity is the position-wise character match ratio of two hashes,
// measured against the length of a.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	n := min(len(a), len(b))
	matches := 0
	for i := range n {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}

// Compatible reports whether two schema versions share a major version.
// Unparseable versions are never compatible.
func Compatible(schema, version string) bool {
	want, err := semver.NewVersion(schema)
	if err != nil {
		return false
	}
	got, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return want.Major() == got.Major()
}
