// Package pipeline runs an entity through generation, verification,
// federated consensus and access control, and persists the audit trail.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Mindburn-Labs/digitaldna/pkg/artifacts"
	"github.com/Mindburn-Labs/digitaldna/pkg/contracts"
	"github.com/Mindburn-Labs/digitaldna/pkg/crypto"
	"github.com/Mindburn-Labs/digitaldna/pkg/dna"
	"github.com/Mindburn-Labs/digitaldna/pkg/federation"
	"github.com/Mindburn-Labs/digitaldna/pkg/identity"
	"github.com/Mindburn-Labs/digitaldna/pkg/observability"
	"github.com/Mindburn-Labs/digitaldna/pkg/policy"
	"github.com/Mindburn-Labs/digitaldna/pkg/store"
	"github.com/Mindburn-Labs/digitaldna/pkg/verifier"
)

// ErrNoDNA is returned by Reverify when the entity has never been processed.
var ErrNoDNA = errors.New("pipeline: no dna for entity")

// Outcome is everything one Process call produced.
type Outcome struct {
	DNA          dna.DigitalDNA               `json:"dna"`
	Verification contracts.VerificationResult `json:"verification"`
	Report       *verifier.Report             `json:"report"`
	Requests     []federation.Message         `json:"requests"`
	Consensus    federation.ConsensusResult   `json:"consensus"`
	Decision     policy.AccessDecision        `json:"decision"`
	// Token is set for ALLOW and CHALLENGE decisions when an issuer is configured.
	Token string `json:"token,omitempty"`
}

// Pipeline wires the trust components around one coordinator node.
type Pipeline struct {
	factory     *dna.Factory
	verifier    *verifier.Verifier
	coordinator *federation.Node
	engine      *policy.Engine

	algorithm crypto.Algorithm
	consensus federation.Policy
	timeout   time.Duration

	store    store.Store
	issuer   *identity.TokenIssuer
	tokenTTL time.Duration
	signer   crypto.Signer
	schema   string

	obs    *observability.Provider
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Pipeline)

func WithAlgorithm(a crypto.Algorithm) Option { return func(p *Pipeline) { p.algorithm = a } }

func WithConsensusPolicy(pol federation.Policy) Option {
	return func(p *Pipeline) { p.consensus = pol }
}

// WithConsensusTimeout bounds verdict collection. Zero means unbounded.
func WithConsensusTimeout(d time.Duration) Option { return func(p *Pipeline) { p.timeout = d } }

func WithStore(s store.Store) Option { return func(p *Pipeline) { p.store = s } }

func WithTokenIssuer(ti *identity.TokenIssuer, ttl time.Duration) Option {
	return func(p *Pipeline) {
		p.issuer = ti
		p.tokenTTL = ttl
	}
}

// WithAuditSigner signs exported audit envelopes.
func WithAuditSigner(s crypto.Signer) Option { return func(p *Pipeline) { p.signer = s } }

func WithSchemaVersion(v string) Option { return func(p *Pipeline) { p.schema = v } }

func WithObservability(o *observability.Provider) Option { return func(p *Pipeline) { p.obs = o } }

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New assembles a pipeline. The coordinator sends requests to its peers and
// runs consensus.
func New(factory *dna.Factory, v *verifier.Verifier, coordinator *federation.Node, engine *policy.Engine, opts ...Option) (*Pipeline, error) {
	if factory == nil || v == nil || coordinator == nil || engine == nil {
		return nil, errors.New("pipeline: factory, verifier, coordinator and engine are required")
	}
	p := &Pipeline{
		factory:     factory,
		verifier:    v,
		coordinator: coordinator,
		engine:      engine,
		algorithm:   crypto.SHA256Composite,
		consensus:   federation.PolicyMajority,
		tokenTTL:    15 * time.Minute,
		schema:      dna.DefaultSchemaVersion,
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.obs == nil {
		obs, err := observability.New(context.Background(), &observability.Config{Enabled: false})
		if err != nil {
			return nil, err
		}
		p.obs = obs
	}
	p.logger = p.logger.With("component", "pipeline")
	return p, nil
}

// Coordinator returns the node that drives consensus.
func (p *Pipeline) Coordinator() *federation.Node { return p.coordinator }

// Engine returns the policy engine.
func (p *Pipeline) Engine() *policy.Engine { return p.engine }

// Process runs one entity end to end.
func (p *Pipeline) Process(ctx context.Context, entityID, entityType string, samples []dna.BehavioralSample) (_ *Outcome, err error) {
	ctx, finish := p.obs.TrackOperation(ctx, "dna.process",
		observability.PipelineOperation(entityID, entityType, "process")...)
	defer func() { finish(err) }()

	log := p.logger.With("entity_id", entityID)
	out := &Outcome{}

	out.DNA, err = p.factory.GenerateFor(entityID, entityType, samples, p.algorithm)
	if err != nil {
		return nil, fmt.Errorf("pipeline: generate: %w", err)
	}
	observability.AddSpanEvent(ctx, "dna.generated",
		observability.GenerationOutcome(string(out.DNA.Algorithm), out.DNA.EntropyScore)...)

	out.Verification, out.Report = p.verifier.Verify(out.DNA, entityID)
	log.DebugContext(ctx, "verification complete", "summary", out.Report.Summary, "threat_level", out.Verification.ThreatLevel)

	doc := out.DNA.Document()
	for _, peer := range p.coordinator.Peers() {
		msg, err := p.coordinator.SendVerificationRequest(ctx, peer, entityID, out.DNA.DNAHash, doc)
		if err != nil {
			return nil, fmt.Errorf("pipeline: request to %s: %w", peer, err)
		}
		out.Requests = append(out.Requests, *msg)
	}

	cctx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	out.Consensus, err = p.coordinator.InitiateConsensus(cctx, entityID, out.DNA.DNAHash, p.consensus)
	if err != nil {
		return nil, fmt.Errorf("pipeline: consensus: %w", err)
	}
	observability.AddSpanEvent(ctx, "dna.consensus",
		observability.ConsensusOutcome(string(out.Consensus.ConsensusType), out.Consensus.ConsensusReached)...)

	out.Decision = p.engine.EvaluateAccess(ctx, entityID, out.Verification, out.Consensus.Summary())
	observability.SetSpanAttributes(ctx,
		observability.DecisionOutcome(string(out.Decision.Decision), string(out.Decision.ThreatLevel))...)

	if err := p.persist(ctx, out); err != nil {
		return nil, err
	}

	if p.issuer != nil && out.Decision.Grantable() {
		out.Token, err = p.issuer.Issue(out.Decision, out.DNA.DNAHash, p.tokenTTL)
		if err != nil {
			return nil, fmt.Errorf("pipeline: issue token: %w", err)
		}
	}

	log.InfoContext(ctx, "entity processed",
		"decision", out.Decision.Decision,
		"decision_id", out.Decision.DecisionID,
		"confidence", out.Decision.ConfidenceScore,
		"consensus_reached", out.Consensus.ConsensusReached,
	)
	return out, nil
}

func (p *Pipeline) persist(ctx context.Context, out *Outcome) error {
	if p.store == nil {
		return nil
	}
	if err := p.store.SaveDNA(ctx, out.DNA); err != nil {
		return fmt.Errorf("pipeline: persist dna: %w", err)
	}
	if err := p.store.SaveConsensus(ctx, out.Consensus); err != nil {
		return fmt.Errorf("pipeline: persist consensus: %w", err)
	}
	if err := p.store.SaveDecision(ctx, out.Decision); err != nil {
		return fmt.Errorf("pipeline: persist decision: %w", err)
	}
	return nil
}

// Reverify runs the verifier again over the entity's latest DNA, read from
// the store when one is configured.
func (p *Pipeline) Reverify(ctx context.Context, entityID string) (contracts.VerificationResult, *verifier.Report, error) {
	var (
		d   dna.DigitalDNA
		err error
	)
	if p.store != nil {
		d, err = p.store.LatestDNA(ctx, entityID)
		if errors.Is(err, store.ErrNotFound) {
			return contracts.VerificationResult{}, nil, fmt.Errorf("%w: %s", ErrNoDNA, entityID)
		}
		if err != nil {
			return contracts.VerificationResult{}, nil, fmt.Errorf("pipeline: load dna: %w", err)
		}
	} else {
		g, ok := p.factory.Get(entityID)
		if !ok {
			return contracts.VerificationResult{}, nil, fmt.Errorf("%w: %s", ErrNoDNA, entityID)
		}
		latest, ok := g.Latest()
		if !ok {
			return contracts.VerificationResult{}, nil, fmt.Errorf("%w: %s", ErrNoDNA, entityID)
		}
		d = latest
	}
	v, report := p.verifier.Verify(d, entityID)
	return v, report, nil
}

// Override replaces a decision administratively and persists the change.
func (p *Pipeline) Override(ctx context.Context, decisionID string, decision policy.Decision, reason string) (policy.AccessDecision, error) {
	if err := p.engine.OverrideDecision(decisionID, decision, reason); err != nil {
		return policy.AccessDecision{}, err
	}
	d, _ := p.engine.Decision(decisionID)
	if p.store != nil {
		if err := p.store.SaveDecision(ctx, d); err != nil {
			return d, fmt.Errorf("pipeline: persist override: %w", err)
		}
	}
	p.logger.InfoContext(ctx, "decision overridden", "decision_id", decisionID, "decision", decision, "reason", reason)
	return d, nil
}

// AuditExport is the payload of an exported audit envelope.
type AuditExport struct {
	GeneratedAt time.Time                    `json:"generated_at"`
	NodeID      string                       `json:"node_id"`
	Decisions   []policy.AccessDecision      `json:"decisions"`
	Consensus   []federation.ConsensusResult `json:"consensus"`
	Statistics  policy.Statistics            `json:"statistics"`
}

// ExportAudit writes the decision history and consensus records as a JCS
// canonical envelope, signed when a signer is configured, and returns its
// content hash.
func (p *Pipeline) ExportAudit(ctx context.Context, dst artifacts.Store) (_ string, err error) {
	ctx, finish := p.obs.TrackOperation(ctx, "dna.audit_export")
	defer func() { finish(err) }()

	records := p.coordinator.Records()
	consensus := make([]federation.ConsensusResult, 0, len(records))
	for _, r := range records {
		consensus = append(consensus, r)
	}
	sort.Slice(consensus, func(i, j int) bool {
		if !consensus[i].Timestamp.Equal(consensus[j].Timestamp) {
			return consensus[i].Timestamp.Before(consensus[j].Timestamp)
		}
		return consensus[i].ConsensusID < consensus[j].ConsensusID
	})

	now := p.now()
	export := AuditExport{
		GeneratedAt: now,
		NodeID:      p.coordinator.ID(),
		Decisions:   p.engine.History(),
		Consensus:   consensus,
		Statistics:  p.engine.Statistics(),
	}
	env, err := artifacts.NewEnvelope(artifacts.TypeDecisionAudit, p.schema, p.coordinator.ID(), now, export)
	if err != nil {
		return "", err
	}
	if p.signer != nil {
		if err := env.Sign(p.signer); err != nil {
			return "", err
		}
	}
	hash, err := artifacts.NewRegistry(dst, nil).Put(ctx, env)
	if err != nil {
		return "", fmt.Errorf("pipeline: export audit: %w", err)
	}
	p.logger.InfoContext(ctx, "audit exported", "hash", hash, "decisions", len(export.Decisions), "signed", p.signer != nil)
	return hash, nil
}
