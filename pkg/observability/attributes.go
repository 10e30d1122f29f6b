package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	AttrEntityID   = attribute.Key("dna.entity.id")
	AttrEntityType = attribute.Key("dna.entity.type")
	AttrStage      = attribute.Key("dna.pipeline.stage")

	AttrAlgorithm    = attribute.Key("dna.algorithm")
	AttrEntropy      = attribute.Key("dna.entropy")
	AttrThreatLevel  = attribute.Key("dna.threat_level")
	AttrDecision     = attribute.Key("dna.decision")
	AttrConsensus    = attribute.Key("dna.consensus.policy")
	AttrConsensusMet = attribute.Key("dna.consensus.reached")
)

// PipelineOperation labels one stage of processing an entity.
func PipelineOperation(entityID, entityType, stage string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEntityID.String(entityID),
		AttrEntityType.String(entityType),
		AttrStage.String(stage),
	}
}

func GenerationOutcome(algorithm string, entropy float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAlgorithm.String(algorithm),
		AttrEntropy.Float64(entropy),
	}
}

func ConsensusOutcome(policy string, reached bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrConsensus.String(policy),
		AttrConsensusMet.Bool(reached),
	}
}

func DecisionOutcome(decision, threatLevel string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDecision.String(decision),
		AttrThreatLevel.String(threatLevel),
	}
}

// AddSpanEvent adds an event to the span carried by ctx.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanAttributes annotates the span carried by ctx.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
