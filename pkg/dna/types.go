package dna

import (
	"time"

	"github.com/Mindburn-Labs/digitaldna/pkg/crypto"
)

// BehaviorType tags a behavioral sample with the telemetry channel it came from.
type BehaviorType string

const (
	BehaviorKeystroke           BehaviorType = "keystroke"
	BehaviorCPUUsage            BehaviorType = "cpu_usage"
	BehaviorMemoryUsage         BehaviorType = "memory_usage"
	BehaviorAPICall             BehaviorType = "api_call"
	BehaviorNetworkPattern      BehaviorType = "network_pattern"
	BehaviorLoginPattern        BehaviorType = "login_pattern"
	BehaviorFileAccess          BehaviorType = "file_access"
	BehaviorPrivilegeEscalation BehaviorType = "privilege_escalation"
)

// Known reports whether t is one of the capture agent's behavior channels.
// Unknown tags are still accepted by the generator.
func (t BehaviorType) Known() bool {
	switch t {
	case BehaviorKeystroke, BehaviorCPUUsage, BehaviorMemoryUsage, BehaviorAPICall,
		BehaviorNetworkPattern, BehaviorLoginPattern, BehaviorFileAccess, BehaviorPrivilegeEscalation:
		return true
	}
	return false
}

// BehavioralSample is one telemetry observation handed over by the capture agent.
type BehavioralSample struct {
	BehaviorType BehaviorType   `json:"behavior_type"`
	Value        float64        `json:"value"`
	Timestamp    string         `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// DigitalDNA is the identity fingerprint generated for an entity.
type DigitalDNA struct {
	DNAID                 string           `json:"dna_id"`
	EntityID              string           `json:"entity_id"`
	EntityType            string           `json:"entity_type"`
	GenerationTimestamp   time.Time        `json:"generation_timestamp"`
	ExpirationTimestamp   time.Time        `json:"expiration_timestamp"`
	DNAHash               string           `json:"dna_hash"`
	DNASignature          string           `json:"dna_signature"`
	EntropyScore          float64          `json:"entropy_score"`
	VectorCount           int              `json:"vector_count"`
	Version               string           `json:"version"`
	Algorithm             crypto.Algorithm `json:"algorithm"`
	BehavioralProfileHash string           `json:"behavioral_profile_hash"`
	Metadata              map[string]any   `json:"metadata"`
	IsValid               bool             `json:"is_valid"`
}

// Document flattens the DNA into the generic map exchanged between nodes.
func (d DigitalDNA) Document() map[string]any {
	return map[string]any{
		"dna_id":                  d.DNAID,
		"entity_id":               d.EntityID,
		"entity_type":             d.EntityType,
		"generation_timestamp":    d.GenerationTimestamp.Format(time.RFC3339Nano),
		"expiration_timestamp":    d.ExpirationTimestamp.Format(time.RFC3339Nano),
		"dna_hash":                d.DNAHash,
		"dna_signature":           d.DNASignature,
		"entropy_score":           d.EntropyScore,
		"vector_count":            d.VectorCount,
		"version":                 d.Version,
		"algorithm":               string(d.Algorithm),
		"behavioral_profile_hash": d.BehavioralProfileHash,
		"metadata":                d.Metadata,
		"is_valid":                d.IsValid,
	}
}

// Component is a diagnostic record describing one sample's share of a generation.
type Component struct {
	Name                  string  `json:"component_name"`
	Value                 string  `json:"component_value"`
	Weight                float64 `json:"component_weight"`
	ContributionToEntropy float64 `json:"contribution_to_entropy"`
}
