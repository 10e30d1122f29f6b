package federation

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/digitaldna/pkg/canonicalize"
	"github.com/Mindburn-Labs/digitaldna/pkg/crypto"
)

// MessageType identifies the protocol step a message belongs to.
type MessageType string

const (
	MessageVerificationRequest  MessageType = "VERIFICATION_REQUEST"
	MessageVerificationResponse MessageType = "VERIFICATION_RESPONSE"
	MessageZKProof              MessageType = "ZK_PROOF"
)

// Message is a signed envelope exchanged between nodes. It is never modified
// after construction.
type Message struct {
	MessageID         string         `json:"message_id"`
	SourceNodeID      string         `json:"source_node_id"`
	DestinationNodeID string         `json:"destination_node_id"`
	MessageType       MessageType    `json:"message_type"`
	Payload           map[string]any `json:"payload"`
	Timestamp         time.Time      `json:"timestamp"`
	Signature         string         `json:"signature"`
}

// SignPayload returns the mock signature of a payload sent by nodeID:
// sha256 over the node id and the canonical JSON of the payload.
func SignPayload(nodeID string, payload map[string]any) (string, error) {
	canonical, err := canonicalize.JCSString(payload)
	if err != nil {
		return "", fmt.Errorf("federation: sign payload: %w", err)
	}
	return crypto.SHA256Hex([]byte(nodeID + ":" + canonical)), nil
}

func newMessage(source, destination string, typ MessageType, payload map[string]any, now time.Time) (Message, error) {
	sig, err := SignPayload(source, payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		MessageID:         fmt.Sprintf("MSG_%s_%d_%s", source, now.UnixMilli(), uuid.NewString()[:8]),
		SourceNodeID:      source,
		DestinationNodeID: destination,
		MessageType:       typ,
		Payload:           clonePayload(payload),
		Timestamp:         now,
		Signature:         sig,
	}, nil
}

// clone returns m with a payload that shares no maps or slices with m.
func (m Message) clone() Message {
	m.Payload = clonePayload(m.Payload)
	return m
}

func clonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	return cloneValue(p).(map[string]any)
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := maps.Clone(x)
		for k, e := range out {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := slices.Clone(x)
		for i, e := range out {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(x)
	default:
		return v
	}
}

// VerifySignature recomputes the mock signature of m.
func (m Message) VerifySignature() bool {
	sig, err := SignPayload(m.SourceNodeID, m.Payload)
	return err == nil && sig == m.Signature
}

func payloadString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}
