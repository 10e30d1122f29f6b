// Package policy turns verification and consensus results into access
// decisions using prioritized rules, and keeps an auditable decision history.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/digitaldna/pkg/contracts"
)

var (
	// ErrDecisionNotFound is returned when overriding an unknown decision id.
	ErrDecisionNotFound = errors.New("policy: decision not found")
	// ErrRuleNotFound is returned when enabling or disabling an unknown rule id.
	ErrRuleNotFound = errors.New("policy: rule not found")
	// ErrInvalidRule is returned when a rule cannot be registered.
	ErrInvalidRule = errors.New("policy: invalid rule")
)

const (
	instrumentationName = "github.com/Mindburn-Labs/digitaldna/policy"
	maxDetailRules      = 3
	topThreatCount      = 5
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMeterProvider sets the provider for the decision counter.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) {
		if mp != nil {
			e.meterProvider = mp
		}
	}
}

// WithTracerProvider sets the provider for evaluation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracerProvider = tp
		}
	}
}

// WithoutDefaults starts the engine with an empty rule set.
func WithoutDefaults() Option {
	return func(e *Engine) { e.skipDefaults = true }
}

// Engine evaluates access requests. It is safe for concurrent use.
type Engine struct {
	logger         *slog.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	skipDefaults   bool

	exprs     *exprEnv
	tracer    trace.Tracer
	decisions metric.Int64Counter

	mu       sync.RWMutex
	counter  int
	rules    []*Rule
	byID     map[string]*Rule
	programs map[string]cel.Program
	history  []*AccessDecision
}

// NewEngine creates an engine preloaded with the default rule set.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:         slog.Default(),
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
		byID:           make(map[string]*Rule),
		programs:       make(map[string]cel.Program),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "policy_engine")

	exprs, err := newExprEnv()
	if err != nil {
		return nil, err
	}
	e.exprs = exprs
	e.tracer = e.tracerProvider.Tracer(instrumentationName)
	e.decisions, err = e.meterProvider.Meter(instrumentationName).Int64Counter("dna.policy.decisions",
		metric.WithDescription("Access decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: decisions counter: %w", err)
	}

	if !e.skipDefaults {
		for _, r := range defaultRules() {
			if _, err := e.AddRule(r.name, r.ruleType, r.conditions, r.actions, r.priority); err != nil {
				return nil, err
			}
		}
	}
	e.logger.Info("policy engine initialized", "rules", len(e.rules))
	return e, nil
}

// AddRule registers an enabled rule and returns it with its assigned id.
// A rule whose expression does not compile is rejected.
func (e *Engine) AddRule(name string, ruleType RuleType, cond Conditions, actions []string, priority int) (Rule, error) {
	var prg cel.Program
	if cond.Expression != "" {
		p, err := e.exprs.compile(cond.Expression)
		if err != nil {
			return Rule{}, fmt.Errorf("%w %q: %v", ErrInvalidRule, name, err)
		}
		prg = p
	}
	if ruleType == "" {
		ruleType = RuleCustom
	}

	e.mu.Lock()
	e.counter++
	r := &Rule{
		RuleID:           fmt.Sprintf("RULE_%04d", e.counter),
		RuleName:         name,
		RuleType:         ruleType,
		Conditions:       cond,
		Actions:          append([]string(nil), actions...),
		Priority:         priority,
		IsEnabled:        true,
		CreatedTimestamp: time.Now().UTC(),
	}
	e.rules = append(e.rules, r)
	e.byID[r.RuleID] = r
	if prg != nil {
		e.programs[r.RuleID] = prg
	}
	out := *r
	e.mu.Unlock()

	e.logger.Info("policy rule added", "rule_id", out.RuleID, "rule_name", name, "priority", priority)
	return out, nil
}

// EnableRule marks a rule as active.
func (e *Engine) EnableRule(id string) error { return e.setEnabled(id, true) }

// DisableRule excludes a rule from evaluation.
func (e *Engine) DisableRule(id string) error { return e.setEnabled(id, false) }

func (e *Engine) setEnabled(id string, enabled bool) error {
	e.mu.Lock()
	r, ok := e.byID[id]
	if ok {
		r.IsEnabled = enabled
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	e.logger.Info("rule state changed", "rule_id", id, "enabled", enabled)
	return nil
}

// Rules returns copies of all rules in registration order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = cloneRule(*r)
	}
	return out
}

// EvaluateAccess decides access for entityID. When consensus is non-nil its
// confidence is averaged with the verifier's. The highest-priority matching
// rule decides; with no match, valid DNA is allowed and anything else is
// challenged. Every call appends one record to the history.
func (e *Engine) EvaluateAccess(ctx context.Context, entityID string, v contracts.VerificationResult, consensus *contracts.ConsensusSummary) AccessDecision {
	ctx, span := e.tracer.Start(ctx, "policy.EvaluateAccess",
		trace.WithAttributes(attribute.String("entity_id", entityID)))
	defer span.End()

	v.DetectedThreats = slices.Clone(v.DetectedThreats)
	threatLevel := v.ThreatLevel
	if threatLevel == "" {
		threatLevel = contracts.ThreatUnknown
	}
	confidence := v.ConfidenceScore
	var federated, consensusDoc any
	if consensus != nil {
		federated = consensus.ConfidenceScore
		consensusDoc = *consensus
		confidence = (confidence + consensus.ConfidenceScore) / 2
	}
	in := evalInput{
		isValid:     v.IsValid,
		confidence:  confidence,
		threatLevel: threatLevel,
		threats:     v.DetectedThreats,
	}

	matches := e.matchingRules(ctx, in)

	decision := DecisionAllow
	if !v.IsValid {
		decision = DecisionChallenge
	}
	var applied []string
	var method, reason string
	if len(matches) > 0 {
		top := matches[0]
		applied = []string{top.RuleID}
		decision = decide(top.Actions)
		switch decision {
		case DecisionChallenge:
			method = challengeMethod(top.Actions)
		case DecisionQuarantine:
			reason = top.RuleName
		}
	}

	now := time.Now().UTC()
	d := &AccessDecision{
		DecisionID:        fmt.Sprintf("DEC_%s_%d_%s", entityID, now.UnixMilli(), uuid.NewString()[:8]),
		EntityID:          entityID,
		Decision:          decision,
		ConfidenceScore:   confidence,
		ThreatLevel:       threatLevel,
		AppliedRules:      applied,
		DecisionTimestamp: now,
		DecisionDetails: map[string]any{
			"verification_result": v,
			"consensus_result":    consensusDoc,
			"matching_rules":      cloneDetail(matches[:min(len(matches), maxDetailRules)]),
			"confidence_breakdown": map[string]any{
				"local_confidence":     v.ConfidenceScore,
				"federated_confidence": federated,
				"final_confidence":     confidence,
			},
		},
		ChallengeMethod:  method,
		QuarantineReason: reason,
	}

	e.mu.Lock()
	e.history = append(e.history, d)
	out := cloneDecision(d)
	e.mu.Unlock()

	e.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", string(decision))))
	span.SetAttributes(
		attribute.String("decision", string(decision)),
		attribute.Float64("confidence", confidence),
	)
	e.logger.InfoContext(ctx, "access decision",
		"decision_id", d.DecisionID,
		"entity_id", entityID,
		"decision", decision,
		"confidence", confidence,
		"threat_level", threatLevel,
	)
	return out
}

// matchingRules returns enabled rules whose predicates hold, ordered by
// priority with ties kept in registration order.
func (e *Engine) matchingRules(ctx context.Context, in evalInput) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Rule
	for _, r := range e.rules {
		if !r.IsEnabled || !r.Conditions.matchStatic(in) {
			continue
		}
		if prg, ok := e.programs[r.RuleID]; ok {
			match, err := evalBool(prg, in)
			if err != nil {
				e.logger.WarnContext(ctx, "rule expression failed", "rule_id", r.RuleID, "error", err)
				continue
			}
			if !match {
				continue
			}
		}
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// OverrideDecision replaces a recorded decision and keeps the previous value
// under decision_details["override"].
func (e *Engine) OverrideDecision(id string, decision Decision, reason string) error {
	e.mu.Lock()
	var target *AccessDecision
	for _, d := range e.history {
		if d.DecisionID == id {
			target = d
			break
		}
	}
	if target == nil {
		e.mu.Unlock()
		e.logger.Warn("decision not found", "decision_id", id)
		return fmt.Errorf("%w: %s", ErrDecisionNotFound, id)
	}
	old := target.Decision
	target.Decision = decision
	target.DecisionDetails["override"] = map[string]any{
		"old_decision":       old,
		"new_decision":       decision,
		"reason":             reason,
		"override_timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	e.mu.Unlock()

	e.logger.Info("decision overridden", "decision_id", id, "old", old, "new", decision, "reason", reason)
	return nil
}

// History returns copies of all decisions, oldest first.
func (e *Engine) History() []AccessDecision {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]AccessDecision, len(e.history))
	for i, d := range e.history {
		out[i] = cloneDecision(d)
	}
	return out
}

// Decision returns a recorded decision by id.
func (e *Engine) Decision(id string) (AccessDecision, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, d := range e.history {
		if d.DecisionID == id {
			return cloneDecision(d), true
		}
	}
	return AccessDecision{}, false
}

// Statistics summarizes the history. An empty history yields the zero value.
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.history) == 0 {
		return Statistics{}
	}

	byType := make(map[Decision]int)
	threatCounts := make(map[string]int)
	var order []string
	var sum float64
	for _, d := range e.history {
		byType[d.Decision]++
		sum += d.ConfidenceScore
		if v, ok := d.DecisionDetails["verification_result"].(contracts.VerificationResult); ok {
			for _, t := range v.DetectedThreats {
				if threatCounts[t] == 0 {
					order = append(order, t)
				}
				threatCounts[t]++
			}
		}
	}

	top := make([]ThreatCount, 0, len(order))
	for _, t := range order {
		top = append(top, ThreatCount{Threat: t, Count: threatCounts[t]})
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Count > top[j].Count })
	if len(top) > topThreatCount {
		top = top[:topThreatCount]
	}

	return Statistics{
		TotalDecisions:  len(e.history),
		DecisionsByType: byType,
		TopThreats:      top,
		AvgConfidence:   sum / float64(len(e.history)),
	}
}

// cloneDecision copies d deeply enough that nothing reachable from the
// result aliases the stored record.
func cloneDecision(d *AccessDecision) AccessDecision {
	out := *d
	out.AppliedRules = slices.Clone(d.AppliedRules)
	if d.DecisionDetails != nil {
		out.DecisionDetails = cloneDetail(d.DecisionDetails).(map[string]any)
	}
	return out
}

func cloneDetail(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := maps.Clone(x)
		for k, e := range out {
			out[k] = cloneDetail(e)
		}
		return out
	case []any:
		out := slices.Clone(x)
		for i, e := range out {
			out[i] = cloneDetail(e)
		}
		return out
	case []string:
		return slices.Clone(x)
	case contracts.VerificationResult:
		x.DetectedThreats = slices.Clone(x.DetectedThreats)
		return x
	case []Rule:
		out := make([]Rule, len(x))
		for i, r := range x {
			out[i] = cloneRule(r)
		}
		return out
	default:
		return v
	}
}

func cloneRule(r Rule) Rule {
	r.Actions = slices.Clone(r.Actions)
	c := &r.Conditions
	c.ConfidenceScoreMin = clonePtr(c.ConfidenceScoreMin)
	c.ConfidenceScoreMax = clonePtr(c.ConfidenceScoreMax)
	c.ThreatLevelExact = clonePtr(c.ThreatLevelExact)
	c.ThreatLevelMax = clonePtr(c.ThreatLevelMax)
	c.DNAValid = clonePtr(c.DNAValid)
	c.ThreatsContain = clonePtr(c.ThreatsContain)
	return r
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
