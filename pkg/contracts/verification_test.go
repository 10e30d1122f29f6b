package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreatLevel_Rank(t *testing.T) {
	levels := []ThreatLevel{ThreatSafe, ThreatLow, ThreatMedium, ThreatHigh, ThreatCritical}
	for i, l := range levels {
		r, ok := l.Rank()
		assert.True(t, ok, l)
		assert.Equal(t, i, r, l)
	}

	_, ok := ThreatUnknown.Rank()
	assert.False(t, ok)

	_, ok = ThreatLevel("high").Rank()
	assert.False(t, ok, "levels are case-sensitive")
}
