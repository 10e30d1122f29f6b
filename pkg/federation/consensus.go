package federation

import (
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/digitaldna/pkg/contracts"
)

// Policy selects how peer verdicts are aggregated.
type Policy string

const (
	PolicyMajority  Policy = "MAJORITY"
	PolicyQuorum    Policy = "QUORUM"
	PolicyUnanimous Policy = "UNANIMOUS"
)

// ParsePolicy accepts a policy name in any case.
func ParsePolicy(s string) (Policy, error) {
	p := Policy(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PolicyMajority, PolicyQuorum, PolicyUnanimous:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// ConsensusResult records one consensus round. It is stored only by the
// initiating node and never mutated.
type ConsensusResult struct {
	ConsensusID         string          `json:"consensus_id"`
	EntityID            string          `json:"entity_id"`
	DNAHash             string          `json:"dna_hash"`
	ParticipatingNodes  []string        `json:"participating_nodes"`
	VerificationResults map[string]bool `json:"verification_results"`
	ConsensusType       Policy          `json:"consensus_type"`
	ConsensusReached    bool            `json:"consensus_reached"`
	ConfidenceScore     float64         `json:"confidence_score"`
	Timestamp           time.Time       `json:"timestamp"`
	TimedOut            bool            `json:"timed_out"`
}

// Summary is the view handed to the policy engine.
func (r ConsensusResult) Summary() *contracts.ConsensusSummary {
	return &contracts.ConsensusSummary{
		ConsensusID:      r.ConsensusID,
		ConfidenceScore:  r.ConfidenceScore,
		ConsensusReached: r.ConsensusReached,
	}
}

// Aggregate folds per-peer verdicts into (reached, confidence).
// Confidence is the share of true verdicts; no verdicts yields (false, 0).
func Aggregate(verdicts map[string]bool, policy Policy) (bool, float64) {
	total := len(verdicts)
	if total == 0 {
		return false, 0.0
	}
	trues := 0
	for _, v := range verdicts {
		if v {
			trues++
		}
	}
	t, n := float64(trues), float64(total)
	confidence := t / n

	switch policy {
	case PolicyMajority:
		return t > n/2, confidence
	case PolicyQuorum:
		return t >= n*2/3, confidence
	case PolicyUnanimous:
		return trues == total, confidence
	}
	return false, confidence
}
