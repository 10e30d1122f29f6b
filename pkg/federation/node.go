// Package federation implements cooperating verification nodes.
//
// Nodes exchange signed messages in-process, attach placeholder ZK proofs to
// verification responses and aggregate per-peer verdicts into a consensus
// result. Delivery is a synchronous method call; there is no network transport.
package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Mindburn-Labs/digitaldna/pkg/zkproof"
)

var (
	// ErrUnknownPeer is returned by SendStrict when the destination is not a
	// registered, resolvable peer.
	ErrUnknownPeer = errors.New("federation: unknown peer")
	// ErrUnknownPolicy is returned for unsupported consensus policies.
	ErrUnknownPolicy = errors.New("federation: unknown consensus policy")
)

const meterName = "github.com/Mindburn-Labs/digitaldna/federation"

// Directory resolves node ids to nodes.
type Directory interface {
	Lookup(id string) (*Node, bool)
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithNodeType sets the node's role label ("verifier", "aggregator", "monitor").
func WithNodeType(t string) NodeOption {
	return func(n *Node) { n.nodeType = t }
}

// WithNodeLogger sets the structured logger.
func WithNodeLogger(l *slog.Logger) NodeOption {
	return func(n *Node) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithOracle replaces the verdict source used during consensus.
func WithOracle(o Oracle) NodeOption {
	return func(n *Node) {
		if o != nil {
			n.oracle = o
		}
	}
}

// WithMeterProvider sets the provider for federation metrics.
func WithMeterProvider(mp metric.MeterProvider) NodeOption {
	return func(n *Node) {
		if mp != nil {
			n.meterProvider = mp
		}
	}
}

// WithDirectory sets how peer ids are resolved. Network.AddNode sets this.
func WithDirectory(d Directory) NodeOption {
	return func(n *Node) { n.directory = d }
}

// WithInboundRateLimit drops inbound messages beyond rps per source node.
// A non-positive rps disables limiting.
func WithInboundRateLimit(rps float64, burst int) NodeOption {
	return func(n *Node) {
		if rps > 0 {
			n.limiter = newSourceLimiter(rps, burst)
		}
	}
}

// Node is one participant of the federation.
type Node struct {
	id            string
	nodeType      string
	logger        *slog.Logger
	oracle        Oracle
	meterProvider metric.MeterProvider
	limiter       *sourceLimiter
	schema        *jsonschema.Schema

	messages metric.Int64Counter
	rounds   metric.Int64Counter

	mu        sync.Mutex
	directory Directory
	peers     []string
	peerSet   map[string]struct{}
	sent      []Message
	received  []Message
	records   map[string]ConsensusResult
	exchanges map[string]ExchangeStatus
}

// NewNode creates a node with no peers.
func NewNode(id string, opts ...NodeOption) (*Node, error) {
	n := &Node{
		id:            id,
		nodeType:      "verifier",
		logger:        slog.Default(),
		oracle:        NewRandomOracle(),
		meterProvider: otel.GetMeterProvider(),
		peerSet:       make(map[string]struct{}),
		records:       make(map[string]ConsensusResult),
		exchanges:     make(map[string]ExchangeStatus),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "federated_node", "node_id", id)

	schema, err := compileDNAObjectSchema()
	if err != nil {
		return nil, err
	}
	n.schema = schema

	meter := n.meterProvider.Meter(meterName)
	if n.messages, err = meter.Int64Counter("dna.federation.messages",
		metric.WithDescription("Federation messages by direction and type"),
		metric.WithUnit("{message}"),
	); err != nil {
		return nil, fmt.Errorf("federation: messages counter: %w", err)
	}
	if n.rounds, err = meter.Int64Counter("dna.consensus.rounds",
		metric.WithDescription("Consensus rounds by policy and outcome"),
		metric.WithUnit("{round}"),
	); err != nil {
		return nil, fmt.Errorf("federation: rounds counter: %w", err)
	}

	n.logger.Info("federated node initialized", "node_type", n.nodeType)
	return n, nil
}

// ID returns the node id.
func (n *Node) ID() string { return n.id }

// Type returns the node's role label.
func (n *Node) Type() string { return n.nodeType }

func (n *Node) bindDirectory(d Directory) {
	n.mu.Lock()
	n.directory = d
	n.mu.Unlock()
}

// RegisterPeer adds peer to this node's peer set. Registering the same id
// twice, or the node itself, is a no-op.
func (n *Node) RegisterPeer(peer *Node) {
	if peer == nil || peer.id == n.id {
		return
	}
	n.mu.Lock()
	_, exists := n.peerSet[peer.id]
	if !exists {
		n.peerSet[peer.id] = struct{}{}
		n.peers = append(n.peers, peer.id)
	}
	n.mu.Unlock()
	if !exists {
		n.logger.Info("peer node registered", "peer_id", peer.id)
	}
}

// Peers returns the registered peer ids in registration order.
func (n *Node) Peers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.peers...)
}

// SendVerificationRequest asks dest to verify an entity's DNA. Delivery is
// synchronous; the reply arrives through Receive before this returns.
// Unregistered destinations are logged and skipped without error.
func (n *Node) SendVerificationRequest(ctx context.Context, dest, entityID, dnaHash string, dnaObject map[string]any) (*Message, error) {
	now := time.Now().UTC()
	msg, err := newMessage(n.id, dest, MessageVerificationRequest, map[string]any{
		"entity_id":         entityID,
		"dna_hash":          dnaHash,
		"dna_object":        dnaObject,
		"request_timestamp": now.Format(time.RFC3339Nano),
	}, now)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.exchanges[msg.MessageID] = StatusPending
	n.mu.Unlock()

	if err := n.send(ctx, msg); err != nil {
		n.logger.WarnContext(ctx, "verification request not delivered", "destination", dest, "error", err)
	}
	n.logger.InfoContext(ctx, "verification request sent", "destination", dest, "entity_id", entityID)
	out := msg.clone()
	return &out, nil
}

// SendProof pushes a standalone proof for an entity's DNA to dest.
func (n *Node) SendProof(ctx context.Context, dest, entityID, dnaHash string) (*Message, error) {
	proof, err := n.buildProof(entityID, dnaHash)
	if err != nil {
		return nil, err
	}
	payload := proof.Document()
	msg, err := newMessage(n.id, dest, MessageZKProof, payload, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := n.send(ctx, msg); err != nil {
		n.logger.WarnContext(ctx, "proof not delivered", "destination", dest, "error", err)
	}
	return &msg, nil
}

// SendStrict records and delivers msg, returning ErrUnknownPeer when the
// destination cannot be resolved.
func (n *Node) SendStrict(ctx context.Context, msg Message) error {
	return n.send(ctx, msg)
}

// send appends msg to the sent log and delivers it without holding the lock,
// so a reply to this node can re-enter Receive.
func (n *Node) send(ctx context.Context, msg Message) error {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	_, isPeer := n.peerSet[msg.DestinationNodeID]
	dir := n.directory
	n.mu.Unlock()

	n.count(ctx, "sent", msg.MessageType)

	if !isPeer || dir == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, msg.DestinationNodeID)
	}
	target, ok := dir.Lookup(msg.DestinationNodeID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, msg.DestinationNodeID)
	}
	n.logger.DebugContext(ctx, "message sent", "destination", msg.DestinationNodeID, "message_type", msg.MessageType)
	return target.Receive(ctx, msg)
}

// Receive records an inbound message and dispatches it by type.
func (n *Node) Receive(ctx context.Context, msg Message) error {
	msg = msg.clone()
	n.mu.Lock()
	n.received = append(n.received, msg)
	n.mu.Unlock()
	n.count(ctx, "received", msg.MessageType)

	if n.limiter != nil && !n.limiter.allow(msg.SourceNodeID) {
		n.count(ctx, "dropped", msg.MessageType)
		n.logger.WarnContext(ctx, "message received and dropped", "source", msg.SourceNodeID, "message_type", msg.MessageType)
		return nil
	}
	n.logger.InfoContext(ctx, "message received", "source", msg.SourceNodeID, "message_type", msg.MessageType)

	switch msg.MessageType {
	case MessageVerificationRequest:
		return n.handleRequest(ctx, msg)
	case MessageVerificationResponse:
		n.handleResponse(ctx, msg)
	case MessageZKProof:
		n.handleProof(ctx, msg)
	default:
		n.logger.WarnContext(ctx, "unknown message type", "message_type", msg.MessageType)
	}
	return nil
}

func (n *Node) handleRequest(ctx context.Context, msg Message) error {
	entityID := payloadString(msg.Payload, "entity_id")
	dnaHash := payloadString(msg.Payload, "dna_hash")

	n.setExchange(msg.MessageID, StatusInProgress)
	n.logger.InfoContext(ctx, "processing verification request", "entity_id", entityID)

	valid := true
	if err := checkFormat(n.schema, msg.Payload["dna_object"]); err != nil {
		valid = false
		n.logger.InfoContext(ctx, "dna object failed format check", "entity_id", entityID, "error", err)
	}

	proof, err := n.buildProof(entityID, dnaHash)
	if err != nil {
		n.setExchange(msg.MessageID, StatusRejected)
		return err
	}
	now := time.Now().UTC()
	resp, err := newMessage(n.id, msg.SourceNodeID, MessageVerificationResponse, map[string]any{
		"request_id":         msg.MessageID,
		"entity_id":          entityID,
		"dna_hash":           dnaHash,
		"is_valid":           valid,
		"zk_proof":           proof.Document(),
		"response_timestamp": now.Format(time.RFC3339Nano),
	}, now)
	if err != nil {
		n.setExchange(msg.MessageID, StatusRejected)
		return err
	}

	if valid {
		n.setExchange(msg.MessageID, StatusVerified)
	} else {
		n.setExchange(msg.MessageID, StatusRejected)
	}
	if err := n.send(ctx, resp); err != nil {
		n.logger.WarnContext(ctx, "verification response not delivered", "destination", msg.SourceNodeID, "error", err)
	}
	return nil
}

func (n *Node) handleResponse(ctx context.Context, msg Message) {
	requestID := payloadString(msg.Payload, "request_id")
	valid, _ := msg.Payload["is_valid"].(bool)
	proofOK := false
	if p, ok := msg.Payload["zk_proof"].(map[string]any); ok {
		proofOK = zkproof.Verify(payloadString(p, "commitment"), payloadString(p, "challenge"), payloadString(p, "response"))
	}

	status := StatusRejected
	if valid && proofOK {
		status = StatusVerified
	}
	n.mu.Lock()
	if _, pending := n.exchanges[requestID]; pending {
		n.exchanges[requestID] = status
	}
	n.mu.Unlock()

	n.logger.InfoContext(ctx, "processing verification response",
		"source", msg.SourceNodeID,
		"request_id", requestID,
		"status", status,
	)
}

func (n *Node) handleProof(ctx context.Context, msg Message) {
	p := msg.Payload
	valid := zkproof.Verify(payloadString(p, "commitment"), payloadString(p, "challenge"), payloadString(p, "response"))
	n.logger.InfoContext(ctx, "zk proof verification result",
		"entity_id", payloadString(p, "entity_id"),
		"valid", valid,
	)
}

func (n *Node) buildProof(entityID, dnaHash string) (zkproof.Proof, error) {
	proofID := fmt.Sprintf("ZKP_%s_%s_%d", n.id, entityID, time.Now().UnixMilli())
	proof, err := zkproof.Build(proofID, entityID, dnaHash)
	if err != nil {
		return zkproof.Proof{}, fmt.Errorf("federation: build proof: %w", err)
	}
	n.logger.Info("zk proof created", "proof_id", proofID, "valid", proof.IsValid)
	return proof, nil
}

func (n *Node) setExchange(id string, s ExchangeStatus) {
	n.mu.Lock()
	n.exchanges[id] = s
	n.mu.Unlock()
}

// Exchange reports the status of a verification exchange by request id.
func (n *Node) Exchange(requestID string) (ExchangeStatus, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.exchanges[requestID]
	return s, ok
}

// InitiateConsensus collects one verdict per registered peer and aggregates
// them under policy. Oracle errors count as false verdicts. If ctx ends during
// collection, the remaining peers count as false and the result is marked
// timed out. The result is stored only on this node.
func (n *Node) InitiateConsensus(ctx context.Context, entityID, dnaHash string, policy Policy) (ConsensusResult, error) {
	if _, err := ParsePolicy(string(policy)); err != nil {
		return ConsensusResult{}, err
	}
	n.logger.InfoContext(ctx, "initiating consensus", "policy", policy, "entity_id", entityID)

	peers := n.Peers()
	verdicts := make(map[string]bool, len(peers))
	timedOut := false
	for _, peer := range peers {
		if ctx.Err() != nil {
			verdicts[peer] = false
			timedOut = true
			continue
		}
		v, err := n.oracle.Verdict(ctx, peer, entityID, dnaHash)
		if err != nil {
			if ctx.Err() != nil {
				timedOut = true
			}
			n.logger.WarnContext(ctx, "peer verdict failed", "peer_id", peer, "error", err)
			v = false
		}
		verdicts[peer] = v
	}

	reached, confidence := Aggregate(verdicts, policy)
	now := time.Now().UTC()
	result := ConsensusResult{
		ConsensusID:         fmt.Sprintf("CONS_%s_%d_%s", n.id, now.UnixMilli(), uuid.NewString()[:8]),
		EntityID:            entityID,
		DNAHash:             dnaHash,
		ParticipatingNodes:  peers,
		VerificationResults: verdicts,
		ConsensusType:       policy,
		ConsensusReached:    reached,
		ConfidenceScore:     confidence,
		Timestamp:           now,
		TimedOut:            timedOut,
	}

	n.mu.Lock()
	n.records[result.ConsensusID] = result
	n.mu.Unlock()

	n.rounds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy", string(policy)),
		attribute.Bool("reached", reached),
	))
	n.logger.InfoContext(ctx, "consensus result",
		"consensus_id", result.ConsensusID,
		"reached", reached,
		"confidence", confidence,
		"timed_out", timedOut,
	)
	return result, nil
}

// Records returns a copy of the consensus results this node initiated.
func (n *Node) Records() map[string]ConsensusResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]ConsensusResult, len(n.records))
	for k, v := range n.records {
		out[k] = v
	}
	return out
}

// SentMessages returns a copy of the sent log.
func (n *Node) SentMessages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return cloneMessages(n.sent)
}

// ReceivedMessages returns a copy of the received log.
func (n *Node) ReceivedMessages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return cloneMessages(n.received)
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.clone()
	}
	return out
}

func (n *Node) count(ctx context.Context, direction string, typ MessageType) {
	n.messages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("message_type", string(typ)),
	))
}
