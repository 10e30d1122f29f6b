package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/digitaldna/pkg/contracts"
)

// Decision is the outcome of an access evaluation.
type Decision string

const (
	DecisionAllow      Decision = "ALLOW"
	DecisionChallenge  Decision = "CHALLENGE"
	DecisionQuarantine Decision = "QUARANTINE"
	DecisionDeny       Decision = "DENY"
)

// ParseDecision accepts a decision name in any case.
func ParseDecision(s string) (Decision, error) {
	d := Decision(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case DecisionAllow, DecisionChallenge, DecisionQuarantine, DecisionDeny:
		return d, nil
	}
	return "", fmt.Errorf("policy: unknown decision %q", s)
}

// RuleType categorizes a rule. It does not affect evaluation.
type RuleType string

const (
	RuleThreatBased     RuleType = "threat_based"
	RuleConfidenceBased RuleType = "confidence_based"
	RuleBehavioralBased RuleType = "behavioral_based"
	RuleTimeBased       RuleType = "time_based"
	RuleLocationBased   RuleType = "location_based"
	RuleCustom          RuleType = "custom"
)

// Conditions are ANDed predicates; a nil field is not checked.
type Conditions struct {
	ConfidenceScoreMin *float64               `json:"confidence_score_min,omitempty" yaml:"confidence_score_min,omitempty"`
	ConfidenceScoreMax *float64               `json:"confidence_score_max,omitempty" yaml:"confidence_score_max,omitempty"`
	ThreatLevelExact   *contracts.ThreatLevel `json:"threat_level_exact,omitempty" yaml:"threat_level_exact,omitempty"`
	ThreatLevelMax     *contracts.ThreatLevel `json:"threat_level_max,omitempty" yaml:"threat_level_max,omitempty"`
	DNAValid           *bool                  `json:"dna_valid,omitempty" yaml:"dna_valid,omitempty"`
	ThreatsContain     *string                `json:"threats_contain,omitempty" yaml:"threats_contain,omitempty"`
	// Expression is a CEL boolean over is_valid, confidence_score,
	// threat_level and detected_threats.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Ptr returns a pointer to v, for building Conditions literals.
func Ptr[T any](v T) *T { return &v }

// Rule is a prioritized predicate with an ordered action list.
// Lower priority values are evaluated first.
type Rule struct {
	RuleID           string     `json:"rule_id"`
	RuleName         string     `json:"rule_name"`
	RuleType         RuleType   `json:"rule_type"`
	Conditions       Conditions `json:"conditions"`
	Actions          []string   `json:"actions"`
	Priority         int        `json:"priority"`
	IsEnabled        bool       `json:"is_enabled"`
	CreatedTimestamp time.Time  `json:"created_timestamp"`
}

// AccessDecision is one entry of the decision audit history.
type AccessDecision struct {
	DecisionID        string                `json:"decision_id"`
	EntityID          string                `json:"entity_id"`
	Decision          Decision              `json:"decision"`
	ConfidenceScore   float64               `json:"confidence_score"`
	ThreatLevel       contracts.ThreatLevel `json:"threat_level"`
	AppliedRules      []string              `json:"applied_rules"`
	DecisionTimestamp time.Time             `json:"decision_timestamp"`
	DecisionDetails   map[string]any        `json:"decision_details"`
	ChallengeMethod   string                `json:"challenge_method,omitempty"`
	QuarantineReason  string                `json:"quarantine_reason,omitempty"`
}

// Grantable reports whether the decision permits access, possibly after a challenge.
func (d AccessDecision) Grantable() bool {
	return d.Decision == DecisionAllow || d.Decision == DecisionChallenge
}

// ThreatCount is one row of Statistics.TopThreats.
type ThreatCount struct {
	Threat string `json:"threat"`
	Count  int    `json:"count"`
}

// Statistics summarizes the decision history.
type Statistics struct {
	TotalDecisions  int              `json:"total_decisions"`
	DecisionsByType map[Decision]int `json:"decisions_by_type"`
	TopThreats      []ThreatCount    `json:"top_threats"`
	AvgConfidence   float64          `json:"avg_confidence"`
}
