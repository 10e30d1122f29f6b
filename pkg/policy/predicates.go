package policy

import (
	"slices"
	"strings"

	"github.com/Mindburn-Labs/digitaldna/pkg/contracts"
)

type evalInput struct {
	isValid     bool
	confidence  float64
	threatLevel contracts.ThreatLevel
	threats     []string
}

// matchStatic checks every structured predicate. The CEL expression, if any,
// is checked separately by the engine.
func (c Conditions) matchStatic(in evalInput) bool {
	if c.ConfidenceScoreMin != nil && in.confidence < *c.ConfidenceScoreMin {
		return false
	}
	if c.ConfidenceScoreMax != nil && in.confidence > *c.ConfidenceScoreMax {
		return false
	}
	if c.ThreatLevelExact != nil && in.threatLevel != *c.ThreatLevelExact {
		return false
	}
	if c.ThreatLevelMax != nil {
		limit, ok := c.ThreatLevelMax.Rank()
		if !ok {
			return false
		}
		// An unrecognized level has no rank and never satisfies a ceiling.
		current, ok := in.threatLevel.Rank()
		if !ok || current > limit {
			return false
		}
	}
	if c.DNAValid != nil && in.isValid != *c.DNAValid {
		return false
	}
	if c.ThreatsContain != nil {
		found := false
		for _, t := range in.threats {
			if strings.Contains(t, *c.ThreatsContain) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// decide maps a rule's actions to a decision: deny, then quarantine, then
// any challenge action, else allow.
func decide(actions []string) Decision {
	hasChallenge := false
	for _, a := range actions {
		if strings.Contains(a, "challenge") {
			hasChallenge = true
		}
	}
	switch {
	case slices.Contains(actions, "deny"):
		return DecisionDeny
	case slices.Contains(actions, "quarantine"):
		return DecisionQuarantine
	case hasChallenge:
		return DecisionChallenge
	}
	return DecisionAllow
}

// challengeMethod is the first challenge action, else the first action.
func challengeMethod(actions []string) string {
	for _, a := range actions {
		if strings.Contains(strings.ToLower(a), "challenge") {
			return a
		}
	}
	if len(actions) > 0 {
		return actions[0]
	}
	return ""
}
