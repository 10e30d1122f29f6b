// Package verifier provides a local reference verifier for Digital DNA.
//
// It runs a fixed list of named checks against one DNA artifact and reduces
// them to the verification result consumed by the policy engine. Production
// deployments are expected to replace it with an anomaly-detecting verifier;
// the result shape is the contract.
package verifier

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/Mindburn-Labs/digitaldna/pkg/contracts"
	"github.com/Mindburn-Labs/digitaldna/pkg/dna"
)

// VerifierVersion is stamped on every report.
const VerifierVersion = "0.3.0"

// Report is the structured output of one verification.
type Report struct {
	EntityID    string        `json:"entity_id"`
	DNAID       string        `json:"dna_id"`
	Verified    bool          `json:"verified"`
	Timestamp   time.Time     `json:"timestamp"`
	Checks      []CheckResult `json:"checks"`
	Summary     string        `json:"summary"`
	IssueCount  int           `json:"issue_count"`
	VerifierVer string        `json:"verifier_version"`
}

// CheckResult represents a single verification check.
type CheckResult struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Detail string `json:"detail,omitempty"`
	Reason string `json:"reason,omitempty"`
	// Threat is the tag reported when the check fails.
	Threat string `json:"threat,omitempty"`
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock sets the time source for expiry checks.
func WithClock(c dna.Clock) Option {
	return func(v *Verifier) {
		if c != nil {
			v.clock = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithSchemaVersion sets the schema version DNA must be compatible with.
func WithSchemaVersion(s string) Option {
	return func(v *Verifier) { v.schema = s }
}

// Verifier checks DNA artifacts locally.
type Verifier struct {
	clock  dna.Clock
	logger *slog.Logger
	schema string
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// New creates a verifier.
func New(opts ...Option) *Verifier {
	v := &Verifier{
		clock:  systemClock{},
		logger: slog.Default(),
		schema: dna.DefaultSchemaVersion,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With("component", "verifier")
	return v
}

// Verify checks d on behalf of expectedEntity and returns the reduced result
// together with the full report.
func (v *Verifier) Verify(d dna.DigitalDNA, expectedEntity string) (contracts.VerificationResult, *Report) {
	now := v.clock.Now()
	report := &Report{
		EntityID:    expectedEntity,
		DNAID:       d.DNAID,
		Verified:    true,
		Timestamp:   now,
		Checks:      make([]CheckResult, 0, 5),
		VerifierVer: VerifierVersion,
	}

	report.addCheck(checkValidity(d, now))
	report.addCheck(checkEntropy(d))
	report.addCheck(checkEntityBinding(d, expectedEntity))
	report.addCheck(checkSchema(d, v.schema))
	report.addCheck(checkRotation(d))

	failed := 0
	for _, c := range report.Checks {
		if !c.Pass {
			failed++
		}
	}
	report.IssueCount = failed
	if failed > 0 {
		report.Verified = false
		report.Summary = fmt.Sprintf("FAIL: %d/%d checks failed", failed, len(report.Checks))
	} else {
		report.Summary = fmt.Sprintf("PASS: %d/%d checks passed", len(report.Checks), len(report.Checks))
	}

	result := reduce(d, report, now)
	v.logger.Info("dna verified",
		"entity_id", expectedEntity,
		"dna_id", d.DNAID,
		"summary", report.Summary,
		"threat_level", result.ThreatLevel,
	)
	return result, report
}

func (r *Report) addCheck(c CheckResult) {
	r.Checks = append(r.Checks, c)
}

// failedThreats lists the distinct threat tags of failed checks, in check order.
func (r *Report) failedThreats() []string {
	out := []string{}
	for _, c := range r.Checks {
		if !c.Pass && c.Threat != "" && !slices.Contains(out, c.Threat) {
			out = append(out, c.Threat)
		}
	}
	return out
}

func (r *Report) failed(name string) bool {
	for _, c := range r.Checks {
		if c.Name == name {
			return !c.Pass
		}
	}
	return false
}

// reduce derives confidence and threat level. Confidence starts from the
// entropy score and loses 0.3 for each failed check.
func reduce(d dna.DigitalDNA, r *Report, now time.Time) contracts.VerificationResult {
	threats := r.failedThreats()
	confidence := 0.6 + 0.4*d.EntropyScore - 0.3*float64(r.IssueCount)
	confidence = math.Max(0, math.Min(1, confidence))

	level := contracts.ThreatSafe
	switch {
	case r.failed("entity_binding"):
		level = contracts.ThreatCritical
	case r.failed("validity"):
		level = contracts.ThreatHigh
	case r.IssueCount > 0:
		level = contracts.ThreatMedium
	case d.EntropyScore < 0.8:
		level = contracts.ThreatLow
	}

	valid, _ := dna.VerifyValidity(d, now)
	return contracts.VerificationResult{
		IsValid:         valid && d.IsValid,
		ConfidenceScore: confidence,
		ThreatLevel:     level,
		DetectedThreats: threats,
		VerificationID:  fmt.Sprintf("VER_%s_%d", d.EntityID, now.UnixMilli()),
	}
}

// --- Check implementations ---

func checkValidity(d dna.DigitalDNA, now time.Time) CheckResult {
	ok, reason := dna.VerifyValidity(d, now)
	if ok {
		return CheckResult{Name: "validity", Pass: true, Detail: reason}
	}
	threat := contracts.ThreatTagInvalidProof
	switch reason {
	case dna.ReasonExpired:
		threat = contracts.ThreatTagExpired
	case dna.ReasonEntropyTooLow:
		threat = contracts.ThreatTagLowEntropy
	}
	return CheckResult{Name: "validity", Pass: false, Reason: reason, Threat: threat}
}

func checkEntropy(d dna.DigitalDNA) CheckResult {
	if d.EntropyScore >= dna.EntropyThreshold {
		return CheckResult{Name: "entropy_band", Pass: true, Detail: fmt.Sprintf("entropy %.3f", d.EntropyScore)}
	}
	return CheckResult{
		Name:   "entropy_band",
		Pass:   false,
		Reason: fmt.Sprintf("entropy %.3f below %.2f", d.EntropyScore, dna.EntropyThreshold),
		Threat: contracts.ThreatTagLowEntropy,
	}
}

func checkEntityBinding(d dna.DigitalDNA, expected string) CheckResult {
	if expected == "" || d.EntityID == expected {
		return CheckResult{Name: "entity_binding", Pass: true}
	}
	return CheckResult{
		Name:   "entity_binding",
		Pass:   false,
		Reason: fmt.Sprintf("dna issued to %q presented for %q", d.EntityID, expected),
		Threat: contracts.ThreatTagSpoofing,
	}
}

func checkSchema(d dna.DigitalDNA, schema string) CheckResult {
	if dna.Compatible(schema, d.Version) {
		return CheckResult{Name: "schema_version", Pass: true, Detail: d.Version}
	}
	return CheckResult{
		Name:   "schema_version",
		Pass:   false,
		Reason: fmt.Sprintf("version %q incompatible with %s", d.Version, schema),
		Threat: contracts.ThreatTagSchemaMismatch,
	}
}

func checkRotation(d dna.DigitalDNA) CheckResult {
	if d.IsValid {
		return CheckResult{Name: "rotation_state", Pass: true}
	}
	return CheckResult{
		Name:   "rotation_state",
		Pass:   false,
		Reason: "dna was superseded by rotation",
		Threat: contracts.ThreatTagRotated,
	}
}
