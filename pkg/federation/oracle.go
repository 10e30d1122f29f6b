package federation

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Oracle supplies one peer's verdict on an entity's DNA during consensus.
type Oracle interface {
	Verdict(ctx context.Context, peerID, entityID, dnaHash string) (bool, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, peerID, entityID, dnaHash string) (bool, error)

func (f OracleFunc) Verdict(ctx context.Context, peerID, entityID, dnaHash string) (bool, error) {
	return f(ctx, peerID, entityID, dnaHash)
}

// RandomOracle draws independent verdicts that are true two times in three.
// It stands in for a real remote verification call.
type RandomOracle struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomOracle seeds from the wall clock.
func NewRandomOracle() *RandomOracle {
	return NewSeededOracle(time.Now().UnixNano())
}

// NewSeededOracle returns a reproducible oracle.
func NewSeededOracle(seed int64) *RandomOracle {
	return &RandomOracle{rng: rand.New(rand.NewSource(seed))}
}

func (o *RandomOracle) Verdict(ctx context.Context, _, _, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rng.Intn(3) < 2, nil
}

// StaticOracle answers from a fixed table; unknown peers vote false.
type StaticOracle map[string]bool

func (s StaticOracle) Verdict(_ context.Context, peerID, _, _ string) (bool, error) {
	return s[peerID], nil
}
