package dna

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/digitaldna/pkg/crypto"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGenerator(t *testing.T, opts ...Option) (*Generator, *stepClock) {
	t.Helper()
	clock := &stepClock{now: epoch}
	opts = append([]Option{WithClock(clock), WithLogger(quietLogger())}, opts...)
	g, err := NewGenerator("user_001", "user", opts...)
	require.NoError(t, err)
	return g, clock
}

func sample(bt BehaviorType, v float64, ts string) BehavioralSample {
	return BehavioralSample{BehaviorType: bt, Value: v, Timestamp: ts}
}

func diverseSamples() []BehavioralSample {
	return []BehavioralSample{
		sample(BehaviorKeystroke, 0.1, "t0"),
		sample(BehaviorCPUUsage, 0.9, "t1"),
		sample(BehaviorKeystroke, 0.1, "t2"),
		sample(BehaviorAPICall, 0.9, "t3"),
	}
}

func TestGenerate_PopulatesArtifact(t *testing.T) {
	g, _ := newTestGenerator(t)

	d, err := g.Generate(diverseSamples(), crypto.SHA256Composite)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(d.DNAID, "DNA_user_001_"))
	assert.Len(t, d.DNAHash, 64)
	assert.Len(t, d.DNASignature, 64)
	assert.Len(t, d.BehavioralProfileHash, 64)
	assert.Equal(t, "user_001", d.EntityID)
	assert.Equal(t, "user", d.EntityType)
	assert.Equal(t, epoch, d.GenerationTimestamp)
	assert.Equal(t, epoch.Add(30*24*time.Hour), d.ExpirationTimestamp)
	assert.Equal(t, 4, d.VectorCount)
	assert.Equal(t, DefaultSchemaVersion, d.Version)
	assert.True(t, d.IsValid)
	assert.InDelta(t, 1.0, d.EntropyScore, 1e-9)

	assert.Equal(t, 4, d.Metadata["vector_count"])
	assert.Equal(t, 4, d.Metadata["components_count"])
	assert.Equal(t, "sha256_composite", d.Metadata["algorithm_version"])
	assert.Equal(t, "behavioral_composite", d.Metadata["generation_method"])
	assert.Equal(t, true, d.Metadata["entropy_threshold_met"])

	assert.Len(t, g.History(), 1)
}

func TestGenerate_IDSuffixIsTwelveHex(t *testing.T) {
	g, _ := newTestGenerator(t)
	d, err := g.Generate(diverseSamples(), "")
	require.NoError(t, err)

	parts := strings.Split(d.DNAID, "_")
	suffix := parts[len(parts)-1]
	assert.Len(t, suffix, 12)
	assert.Equal(t, crypto.SHA256Composite, d.Algorithm)
}

func TestGenerate_EmptySamples(t *testing.T) {
	g, _ := newTestGenerator(t)

	d, err := g.Generate(nil, crypto.SHA512Composite)
	require.NoError(t, err)

	assert.Equal(t, crypto.SHA256Hex([]byte("empty")), d.DNAHash)
	assert.Zero(t, d.EntropyScore)
	assert.Zero(t, d.VectorCount)
	assert.Equal(t, false, d.Metadata["entropy_threshold_met"])
	assert.Empty(t, g.Components())
}

func TestGenerate_IdenticalValuesHaveZeroEntropy(t *testing.T) {
	g, _ := newTestGenerator(t)
	samples := []BehavioralSample{
		sample(BehaviorCPUUsage, 42, "a"),
		sample(BehaviorCPUUsage, 42, "b"),
		sample(BehaviorCPUUsage, 42, "c"),
	}

	d, err := g.Generate(samples, crypto.SHA256Composite)
	require.NoError(t, err)
	assert.Zero(t, d.EntropyScore)

	ok, reason := g.VerifyValidity(d)
	assert.False(t, ok)
	assert.Equal(t, ReasonEntropyTooLow, reason)
}

func TestGenerate_DigestFamilies(t *testing.T) {
	g, _ := newTestGenerator(t)
	tests := []struct {
		alg    crypto.Algorithm
		hexLen int
	}{
		{crypto.SHA256Composite, 64},
		{crypto.SHA512Composite, 128},
		{crypto.BLAKE2Composite, 128},
	}
	seen := map[string]bool{}
	for _, tt := range tests {
		t.Run(string(tt.alg), func(t *testing.T) {
			d, err := g.Generate(diverseSamples(), tt.alg)
			require.NoError(t, err)
			assert.Len(t, d.DNAHash, tt.hexLen)
			assert.Equal(t, string(tt.alg), d.Metadata["algorithm_version"])
			assert.False(t, seen[d.DNAHash])
			seen[d.DNAHash] = true
		})
	}
}

func TestGenerate_UnknownAlgorithm(t *testing.T) {
	g, _ := newTestGenerator(t)
	_, err := g.Generate(diverseSamples(), crypto.Algorithm("md5_composite"))
	require.Error(t, err)
	assert.Empty(t, g.History())
}

func TestGenerate_CompositeHashIsDeterministic(t *testing.T) {
	g, clock := newTestGenerator(t)

	a, err := g.Generate(diverseSamples(), crypto.SHA256Composite)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	b, err := g.Generate(diverseSamples(), crypto.SHA256Composite)
	require.NoError(t, err)

	assert.Equal(t, a.DNAHash, b.DNAHash)
	assert.NotEqual(t, a.DNASignature, b.DNASignature, "signature key is fresh per call")
	assert.NotEqual(t, a.BehavioralProfileHash, b.BehavioralProfileHash, "profile hash embeds generation time")
	assert.NotEqual(t, a.DNAID, b.DNAID)
}

func TestGenerate_OrderMatters(t *testing.T) {
	g, _ := newTestGenerator(t)
	samples := diverseSamples()
	reversed := make([]BehavioralSample, len(samples))
	for i, s := range samples {
		reversed[len(samples)-1-i] = s
	}

	a, err := g.Generate(samples, crypto.SHA256Composite)
	require.NoError(t, err)
	b, err := g.Generate(reversed, crypto.SHA256Composite)
	require.NoError(t, err)
	assert.NotEqual(t, a.DNAHash, b.DNAHash)
}

func TestGenerate_TagsAreNFCNormalized(t *testing.T) {
	g, _ := newTestGenerator(t)
	decomposed := []BehavioralSample{sample("cafe\u0301", 1, "t"), sample("x", 2, "t")}
	composed := []BehavioralSample{sample("caf\u00e9", 1, "t"), sample("x", 2, "t")}

	a, err := g.Generate(decomposed, crypto.SHA256Composite)
	require.NoError(t, err)
	b, err := g.Generate(composed, crypto.SHA256Composite)
	require.NoError(t, err)
	assert.Equal(t, a.DNAHash, b.DNAHash)
}

func TestComponents_CappedAtTen(t *testing.T) {
	g, _ := newTestGenerator(t)
	var samples []BehavioralSample
	for i := range 15 {
		samples = append(samples, sample(BehaviorFileAccess, float64(i), "t"))
	}

	d, err := g.Generate(samples, crypto.SHA256Composite)
	require.NoError(t, err)

	comps := g.Components()
	require.Len(t, comps, 10)
	assert.Equal(t, 10, d.Metadata["components_count"])
	assert.Equal(t, "vector_0", comps[0].Name)
	assert.Equal(t, "file_access", comps[0].Value)
	assert.Zero(t, comps[0].Weight)
	assert.InDelta(t, 1.0/14.0, comps[1].Weight, 1e-9)
	assert.InDelta(t, 0.1/14.0, comps[1].ContributionToEntropy, 1e-9)
}

func TestRotate_InvalidatesPrevious(t *testing.T) {
	g, _ := newTestGenerator(t)

	first, err := g.Generate(diverseSamples(), crypto.BLAKE2Composite)
	require.NoError(t, err)
	second, err := g.Rotate(diverseSamples())
	require.NoError(t, err)

	history := g.History()
	require.Len(t, history, 2)
	assert.Equal(t, first.DNAID, history[0].DNAID)
	assert.False(t, history[0].IsValid)
	assert.True(t, history[1].IsValid)
	assert.Equal(t, crypto.SHA256Composite, second.Algorithm)

	latest, ok := g.Latest()
	require.True(t, ok)
	assert.Equal(t, second.DNAID, latest.DNAID)
}

func TestRotate_EmptyHistory(t *testing.T) {
	g, _ := newTestGenerator(t)
	_, err := g.Rotate(diverseSamples())
	require.NoError(t, err)
	assert.Len(t, g.History(), 1)
}

func TestHistory_ReturnsCopy(t *testing.T) {
	g, _ := newTestGenerator(t)
	_, err := g.Generate(diverseSamples(), crypto.SHA256Composite)
	require.NoError(t, err)

	h := g.History()
	h[0].IsValid = false
	assert.True(t, g.History()[0].IsValid)
}

func TestVerifyValidity(t *testing.T) {
	g, clock := newTestGenerator(t)
	d, err := g.Generate(diverseSamples(), crypto.SHA256Composite)
	require.NoError(t, err)

	ok, reason := g.VerifyValidity(d)
	assert.True(t, ok)
	assert.Equal(t, ReasonValid, reason)

	shortHash := d
	shortHash.DNAHash = "abc"
	ok, reason = g.VerifyValidity(shortHash)
	assert.False(t, ok)
	assert.Equal(t, ReasonInvalidHash, reason)

	shortSig := d
	shortSig.DNASignature = "abc"
	ok, reason = g.VerifyValidity(shortSig)
	assert.False(t, ok)
	assert.Equal(t, ReasonInvalidSig, reason)

	clock.Advance(TTL)
	ok, _ = g.VerifyValidity(d)
	assert.True(t, ok, "exactly at expiry is still valid")

	clock.Advance(time.Second)
	ok, reason = g.VerifyValidity(d)
	assert.False(t, ok)
	assert.Equal(t, ReasonExpired, reason)
}

func TestVerifyValidity_ExpiryCheckedFirst(t *testing.T) {
	d := DigitalDNA{ExpirationTimestamp: epoch, DNAHash: "x"}
	ok, reason := VerifyValidity(d, epoch.Add(time.Hour))
	assert.False(t, ok)
	assert.Equal(t, ReasonExpired, reason)
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "abcd", "abcd", 1.0},
		{"both empty", "", "", 1.0},
		{"one empty", "abcd", "", 0.0},
		{"half match", "abcd", "abxy", 0.5},
		{"shorter b", "abcd", "ab", 0.5},
		{"shorter a", "ab", "abcd", 1.0},
		{"no match", "aaaa", "bbbb", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCompareSimilarity_SelfIsOne(t *testing.T) {
	g, _ := newTestGenerator(t)
	d, err := g.Generate(diverseSamples(), crypto.SHA256Composite)
	require.NoError(t, err)
	assert.Equal(t, 1.0, g.CompareSimilarity(d, d))
}

func TestSchemaVersion(t *testing.T) {
	_, err := NewGenerator("e", "user", WithLogger(quietLogger()), WithSchemaVersion("one"))
	require.ErrorIs(t, err, ErrInvalidSchemaVersion)

	g, _ := newTestGenerator(t, WithSchemaVersion("1.4.0"))
	assert.Equal(t, "1.4.0", g.Version())
	assert.True(t, g.Compatible(DigitalDNA{Version: "1.0.0"}))
	assert.False(t, g.Compatible(DigitalDNA{Version: "2.0.0"}))
	assert.False(t, g.Compatible(DigitalDNA{Version: "garbage"}))
}

func TestNewGenerator_DefaultEntityType(t *testing.T) {
	g, err := NewGenerator("svc", "", WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, "user", g.EntityType())
}

func TestGenerate_Concurrent(t *testing.T) {
	g, _ := newTestGenerator(t)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Generate(diverseSamples(), crypto.SHA256Composite)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, g.History(), 8)
}

// stallClock sleeps on its stallOn-th call, so a generation can be held
// open while another one completes.
type stallClock struct {
	mu      sync.Mutex
	calls   int
	stallOn int
}

func (c *stallClock) Now() time.Time {
	c.mu.Lock()
	c.calls++
	stall := c.calls == c.stallOn
	c.mu.Unlock()
	if stall {
		time.Sleep(50 * time.Millisecond)
	}
	return epoch
}

func validCount(history []DigitalDNA) int {
	n := 0
	for _, d := range history {
		if d.IsValid {
			n++
		}
	}
	return n
}

func TestRotate_ConcurrentLeavesOneValid(t *testing.T) {
	g, err := NewGenerator("user_001", "user", WithClock(&stallClock{stallOn: 2}), WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = g.Generate(diverseSamples(), crypto.SHA256Composite)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Rotate(diverseSamples())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history := g.History()
	require.Len(t, history, 3)
	assert.Equal(t, 1, validCount(history))
	assert.True(t, history[2].IsValid)
}

func TestRotate_ConcurrentMany(t *testing.T) {
	g, _ := newTestGenerator(t)
	_, err := g.Generate(diverseSamples(), crypto.SHA256Composite)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Rotate(diverseSamples())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history := g.History()
	require.Len(t, history, 17)
	assert.Equal(t, 1, validCount(history))
	latest, ok := g.Latest()
	require.True(t, ok)
	assert.True(t, latest.IsValid)
}
