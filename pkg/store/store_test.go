package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/digitaldna/pkg/contracts"
	"github.com/Mindburn-Labs/digitaldna/pkg/crypto"
	"github.com/Mindburn-Labs/digitaldna/pkg/dna"
	"github.com/Mindburn-Labs/digitaldna/pkg/federation"
	"github.com/Mindburn-Labs/digitaldna/pkg/policy"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleDNA(entity string, at time.Time) dna.DigitalDNA {
	return dna.DigitalDNA{
		DNAID:                 fmt.Sprintf("DNA_%s_%d", entity, at.UnixMilli()),
		EntityID:              entity,
		EntityType:            "user",
		GenerationTimestamp:   at,
		ExpirationTimestamp:   at.Add(dna.TTL),
		DNAHash:               "hash-" + at.Format(time.RFC3339),
		DNASignature:          "sig",
		EntropyScore:          0.9,
		VectorCount:           3,
		Version:               dna.DefaultSchemaVersion,
		Algorithm:             crypto.SHA256Composite,
		BehavioralProfileHash: "profile",
		Metadata:              map[string]any{"source": "test"},
		IsValid:               true,
	}
}

func sampleDecision(entity string, at time.Time, d policy.Decision) policy.AccessDecision {
	return policy.AccessDecision{
		DecisionID:        fmt.Sprintf("DEC_%s_%d_%s", entity, at.UnixMilli(), uuid.NewString()[:8]),
		EntityID:          entity,
		Decision:          d,
		ConfidenceScore:   0.75,
		ThreatLevel:       contracts.ThreatLow,
		AppliedRules:      []string{"standard_verification"},
		DecisionTimestamp: at,
		DecisionDetails:   map[string]any{"reason": "test"},
	}
}

// exercise runs the behaviour every backend must share.
func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	entity := "user-" + uuid.NewString()[:8]

	t.Run("LatestDNA", func(t *testing.T) {
		_, err := s.LatestDNA(ctx, entity)
		assert.ErrorIs(t, err, ErrNotFound)

		older := sampleDNA(entity, epoch)
		newer := sampleDNA(entity, epoch.Add(time.Hour))
		require.NoError(t, s.SaveDNA(ctx, newer))
		require.NoError(t, s.SaveDNA(ctx, older))

		got, err := s.LatestDNA(ctx, entity)
		require.NoError(t, err)
		assert.Equal(t, newer.DNAID, got.DNAID)
		assert.True(t, got.GenerationTimestamp.Equal(newer.GenerationTimestamp))
		assert.Equal(t, newer.Metadata, got.Metadata)
	})

	t.Run("IncompatibleSchema", func(t *testing.T) {
		other := "legacy-" + uuid.NewString()[:8]
		d := sampleDNA(other, epoch)
		d.Version = "2.0.0"
		require.NoError(t, s.SaveDNA(ctx, d))
		_, err := s.LatestDNA(ctx, other)
		assert.ErrorIs(t, err, ErrIncompatibleSchema)
	})

	t.Run("Consensus", func(t *testing.T) {
		r := federation.ConsensusResult{
			ConsensusID:         "CONS_node_1_" + uuid.NewString()[:8],
			EntityID:            entity,
			DNAHash:             "hash",
			ParticipatingNodes:  []string{"a", "b"},
			VerificationResults: map[string]bool{"a": true, "b": false},
			ConsensusType:       federation.PolicyMajority,
			ConfidenceScore:     0.5,
			Timestamp:           epoch,
		}
		require.NoError(t, s.SaveConsensus(ctx, r))
		got, err := s.GetConsensus(ctx, r.ConsensusID)
		require.NoError(t, err)
		assert.Equal(t, r.VerificationResults, got.VerificationResults)
		assert.Equal(t, r.ParticipatingNodes, got.ParticipatingNodes)

		_, err = s.GetConsensus(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Decisions", func(t *testing.T) {
		first := sampleDecision(entity, epoch, policy.DecisionAllow)
		second := sampleDecision(entity, epoch.Add(time.Minute), policy.DecisionChallenge)
		require.NoError(t, s.SaveDecision(ctx, first))
		require.NoError(t, s.SaveDecision(ctx, second))

		first.Decision = policy.DecisionDeny
		first.DecisionDetails["override"] = "manual"
		require.NoError(t, s.SaveDecision(ctx, first))

		got, err := s.GetDecision(ctx, first.DecisionID)
		require.NoError(t, err)
		assert.Equal(t, policy.DecisionDeny, got.Decision)
		assert.Equal(t, "manual", got.DecisionDetails["override"])

		list, err := s.ListDecisions(ctx, entity)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, first.DecisionID, list[0].DecisionID)
		assert.Equal(t, second.DecisionID, list[1].DecisionID)

		_, err = s.GetDecision(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		empty, err := s.ListDecisions(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemoryStore())
}

func TestSQLStore_SQLite(t *testing.T) {
	s, err := Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exercise(t, s)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.Error(t, err)
}

// TestRedisStore_Integration requires a running Redis and skips otherwise.
func TestRedisStore_Integration(t *testing.T) {
	s := NewRedisStore("localhost:6379", "", 0, "dnatest:"+uuid.NewString()[:8]+":")
	if err := s.Ping(context.Background()); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	defer func() { _ = s.Close() }()
	exercise(t, s)
}
