package policy

import "github.com/Mindburn-Labs/digitaldna/pkg/contracts"

type ruleSpec struct {
	name       string
	ruleType   RuleType
	conditions Conditions
	actions    []string
	priority   int
}

// defaultRules are registered, in this order, by every new Engine.
func defaultRules() []ruleSpec {
	return []ruleSpec{
		{
			name:     "High Confidence Allow",
			ruleType: RuleConfidenceBased,
			conditions: Conditions{
				ConfidenceScoreMin: Ptr(0.9),
				ThreatLevelMax:     Ptr(contracts.ThreatLow),
				DNAValid:           Ptr(true),
			},
			actions:  []string{"allow"},
			priority: 10,
		},
		{
			name:     "Moderate Confidence Challenge",
			ruleType: RuleConfidenceBased,
			conditions: Conditions{
				ConfidenceScoreMin: Ptr(0.7),
				ConfidenceScoreMax: Ptr(0.89),
				ThreatLevelMax:     Ptr(contracts.ThreatMedium),
			},
			actions:  []string{"challenge_mfa", "challenge_behavioral"},
			priority: 8,
		},
		{
			name:     "Low Confidence Quarantine",
			ruleType: RuleConfidenceBased,
			conditions: Conditions{
				ConfidenceScoreMax: Ptr(0.6),
				ThreatLevelMax:     Ptr(contracts.ThreatHigh),
			},
			actions:  []string{"quarantine"},
			priority: 6,
		},
		{
			name:       "Critical Threat Deny",
			ruleType:   RuleThreatBased,
			conditions: Conditions{ThreatLevelExact: Ptr(contracts.ThreatCritical)},
			actions:    []string{"deny", "alert_security"},
			priority:   1,
		},
		{
			name:       "High Threat Quarantine",
			ruleType:   RuleThreatBased,
			conditions: Conditions{ThreatLevelExact: Ptr(contracts.ThreatHigh)},
			actions:    []string{"quarantine", "notify_admin"},
			priority:   2,
		},
		{
			name:       "Spoofing Detected",
			ruleType:   RuleThreatBased,
			conditions: Conditions{ThreatsContain: Ptr(contracts.ThreatTagSpoofing)},
			actions:    []string{"challenge_identity_verification", "log_incident"},
			priority:   3,
		},
		{
			name:       "Invalid DNA Format",
			ruleType:   RuleBehavioralBased,
			conditions: Conditions{DNAValid: Ptr(false)},
			actions:    []string{"deny", "alert_security"},
			priority:   2,
		},
	}
}
