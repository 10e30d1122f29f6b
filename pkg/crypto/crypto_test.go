package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasher_Families(t *testing.T) {
	cases := map[Algorithm]int{
		SHA256Composite: 64,
		SHA512Composite: 128,
		BLAKE2Composite: 128,
	}
	for alg, want := range cases {
		t.Run(string(alg), func(t *testing.T) {
			h, err := NewHasher(alg)
			require.NoError(t, err)
			d := h.Digest([]byte("payload"))
			assert.Len(t, d, want)
			assert.Equal(t, want, h.HexLen())
			assert.Equal(t, d, h.Digest([]byte("payload")))
		})
	}
}

func TestNewHasher_FamiliesDiffer(t *testing.T) {
	s512, err := NewHasher(SHA512Composite)
	require.NoError(t, err)
	b2, err := NewHasher(BLAKE2Composite)
	require.NoError(t, err)
	assert.NotEqual(t, s512.Digest([]byte("x")), b2.Digest([]byte("x")))
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("blake2_composite")
	require.NoError(t, err)
	assert.Equal(t, BLAKE2Composite, a)

	_, err = ParseAlgorithm("md5")
	require.Error(t, err)

	_, err = NewHasher("md5")
	require.Error(t, err)
}

func TestSHA256Hex_KnownVector(t *testing.T) {
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		SHA256Hex([]byte("abc")))
}

func TestMockSign_FreshKeyEachCall(t *testing.T) {
	a, err := MockSign("hash")
	require.NoError(t, err)
	b, err := MockSign("hash")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b, "each call must use a throwaway key")
}

func TestRandomHex(t *testing.T) {
	s, err := RandomHex(16)
	require.NoError(t, err)
	assert.Len(t, s, 32)
}
