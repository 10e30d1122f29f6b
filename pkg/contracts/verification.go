package contracts

// ThreatLevel is the verifier's severity assessment for an entity.
type ThreatLevel string

const (
	ThreatSafe     ThreatLevel = "SAFE"
	ThreatLow      ThreatLevel = "LOW"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatCritical ThreatLevel = "CRITICAL"
	ThreatUnknown  ThreatLevel = "UNKNOWN"
)

// threatOrder is the ordinal scale used by max-level comparisons.
// UNKNOWN has no rank.
var threatOrder = map[ThreatLevel]int{
	ThreatSafe:     0,
	ThreatLow:      1,
	ThreatMedium:   2,
	ThreatHigh:     3,
	ThreatCritical: 4,
}

// Rank returns the ordinal position of the level and false when the level is
// not on the SAFE..CRITICAL scale.
func (l ThreatLevel) Rank() (int, bool) {
	r, ok := threatOrder[l]
	return r, ok
}

// Well-known threat tags produced by verifiers.
const (
	ThreatTagSpoofing       = "SPOOFING_DETECTED"
	ThreatTagInsider        = "INSIDER_THREAT_DETECTED"
	ThreatTagLowEntropy     = "LOW_ENTROPY"
	ThreatTagExpired        = "DNA_EXPIRED"
	ThreatTagInvalidProof   = "INVALID_SIGNATURE"
	ThreatTagSchemaMismatch = "SCHEMA_MISMATCH"
	ThreatTagRotated        = "DNA_ROTATED"
)

// VerificationResult is the output of a local per-entity verifier.
type VerificationResult struct {
	IsValid         bool        `json:"is_valid"`
	ConfidenceScore float64     `json:"confidence_score"`
	ThreatLevel     ThreatLevel `json:"threat_level"`
	DetectedThreats []string    `json:"detected_threats"`
	VerificationID  string      `json:"verification_id,omitempty"`
}

// ConsensusSummary is the slice of a federated consensus result consumed by
// policy evaluation.
type ConsensusSummary struct {
	ConsensusID      string  `json:"consensus_id,omitempty"`
	ConfidenceScore  float64 `json:"confidence_score"`
	ConsensusReached bool    `json:"consensus_reached"`
}
