package zkproof

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/digitaldna/pkg/crypto"
)

func TestCommit_FreshPerCall(t *testing.T) {
	a, err := Commit("secret")
	require.NoError(t, err)
	b, err := Commit("secret")
	require.NoError(t, err)

	assert.Len(t, a, DigestHexLen)
	assert.NotEqual(t, a, b)
}

func TestChallenge(t *testing.T) {
	c, err := Challenge()
	require.NoError(t, err)
	assert.Len(t, c, 32)
}

func TestRespond_Deterministic(t *testing.T) {
	r := Respond("c", "ch", "s")
	assert.Equal(t, crypto.SHA256Hex([]byte("c:ch:s")), r)
	assert.Equal(t, r, Respond("c", "ch", "s"))
}

func TestVerify_ShapeOnly(t *testing.T) {
	digest := strings.Repeat("a", 64)
	tests := []struct {
		name               string
		commit, chal, resp string
		want               bool
	}{
		{"well formed", digest, "x", digest, true},
		{"missing challenge", digest, "", digest, false},
		{"missing commitment", "", "x", digest, false},
		{"short response", digest, "x", "abc", false},
		{"long commitment", digest + "a", "x", digest, false},
		// Unrelated fields of the right shape pass: the check is not sound.
		{"unrelated digests", digest, "x", strings.Repeat("b", 64), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verify(tt.commit, tt.chal, tt.resp))
		})
	}
}

func TestBuild(t *testing.T) {
	p, err := Build("ZKP_node_a_e1_1", "e1", "deadbeef")
	require.NoError(t, err)

	assert.Equal(t, "ZKP_node_a_e1_1", p.ProofID)
	assert.Equal(t, "e1", p.EntityID)
	assert.Equal(t, "deadbeef", p.DNAHash)
	assert.True(t, p.IsValid)
	assert.Equal(t, Respond(p.Commitment, p.Challenge, "deadbeef"), p.Response)

	doc := p.Document()
	assert.Equal(t, p.Commitment, doc["commitment"])
	assert.Equal(t, true, doc["is_valid"])
}
