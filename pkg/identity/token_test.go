package identity

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/digitaldna/pkg/policy"
)

var secret = []byte(strings.Repeat("k", 32))

func decision(d policy.Decision) policy.AccessDecision {
	return policy.AccessDecision{
		DecisionID:      "DEC_user_001_1",
		EntityID:        "user_001",
		Decision:        d,
		ConfidenceScore: 0.93,
		ChallengeMethod: "challenge_mfa",
	}
}

func TestIssueAndValidate(t *testing.T) {
	ti, err := NewTokenIssuer(secret)
	require.NoError(t, err)

	tok, err := ti.Issue(decision(policy.DecisionChallenge), "abc123", time.Minute)
	require.NoError(t, err)

	claims, err := ti.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "user_001", claims.Subject)
	assert.Equal(t, "DEC_user_001_1", claims.ID)
	assert.Equal(t, policy.DecisionChallenge, claims.Decision)
	assert.Equal(t, "abc123", claims.DNAHash)
	assert.InDelta(t, 0.93, claims.Confidence, 1e-9)
	assert.Equal(t, "challenge_mfa", claims.ChallengeMethod)
}

func TestIssue_RefusesBlockingDecisions(t *testing.T) {
	ti, err := NewTokenIssuer(secret)
	require.NoError(t, err)

	for _, d := range []policy.Decision{policy.DecisionDeny, policy.DecisionQuarantine} {
		_, err := ti.Issue(decision(d), "h", time.Minute)
		assert.ErrorIs(t, err, ErrDecisionNotGrantable, string(d))
	}
}

func TestValidate_Rejects(t *testing.T) {
	ti, err := NewTokenIssuer(secret)
	require.NoError(t, err)
	other, err := NewTokenIssuer([]byte(strings.Repeat("x", 32)))
	require.NoError(t, err)

	tok, err := other.Issue(decision(policy.DecisionAllow), "h", time.Minute)
	require.NoError(t, err)
	_, err = ti.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "foreign secret")

	past := time.Now().Add(-time.Hour)
	ti.now = func() time.Time { return past }
	expired, err := ti.Issue(decision(policy.DecisionAllow), "h", time.Minute)
	require.NoError(t, err)
	ti.now = time.Now
	_, err = ti.Validate(expired)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	_, err = ti.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenIssuer_WeakSecret(t *testing.T) {
	_, err := NewTokenIssuer([]byte("short"))
	assert.ErrorIs(t, err, ErrWeakSecret)
}
