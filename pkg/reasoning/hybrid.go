package reasoning

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/noesislabs/noesis/pkg/atomspace"
)

// HybridEngine fans a query out to a set of local variants, concatenates
// their conclusions, and reduces their confidences with the same
// confidence-weighted mean the distributed aggregator uses. It is the
// fallback for query types no dedicated variant claims, and a miniature of
// the distributed aggregation problem run in-process.
type HybridEngine struct {
	variants []Engine
}

// NewHybridEngine creates a hybrid engine over the given variants. The
// variants slice should not itself contain a hybrid engine.
func NewHybridEngine(variants []Engine) *HybridEngine {
	return &HybridEngine{variants: variants}
}

// Capability returns CapabilityHybrid.
func (e *HybridEngine) Capability() Capability { return CapabilityHybrid }

// Reason runs every variant and merges the outcomes. Variants that
// conclude nothing contribute zero weight, so they dilute nothing.
func (e *HybridEngine) Reason(ctx context.Context, q Query) Result {
	return safeReason(CapabilityHybrid, func() Result {
		if len(e.variants) == 0 {
			return failedResult(CapabilityHybrid, "no variants available")
		}

		var merged Result
		var confidences, weights []float64
		var parts []string

		for _, variant := range e.variants {
			if ctx.Err() != nil {
				break
			}
			res := variant.Reason(ctx, q)
			merged.Conclusion = append(merged.Conclusion, res.Conclusion...)
			confidences = append(confidences, res.Confidence)
			// Confidence doubles as weight: the same rule the distributed
			// aggregator applies to remote node results.
			weights = append(weights, res.Confidence)
			parts = append(parts, fmt.Sprintf("%s=%.2f", variant.Capability(), res.Confidence))
		}

		merged.Confidence = WeightedMean(confidences, weights)
		merged.Explanation = "hybrid fan-out: " + strings.Join(parts, ", ")
		merged.Metadata = map[string]string{"variants": fmt.Sprintf("%d", len(e.variants))}
		return merged
	})
}

// EngineSet holds every locally available engine variant and dispatches
// queries by type. Unrecognized query types fall back to the hybrid
// variant.
type EngineSet struct {
	engines map[Capability]Engine
	hybrid  *HybridEngine
}

// NewEngineSet builds the full variant set over a store, hybrid included.
func NewEngineSet(s *atomspace.Store) *EngineSet {
	variants := []Engine{
		NewDeductiveEngine(s),
		NewInductiveEngine(s),
		NewAbductiveEngine(s),
		NewPatternMatchingEngine(s),
		NewDomainAnalysisEngine(s),
	}

	engines := make(map[Capability]Engine, len(variants)+1)
	for _, v := range variants {
		engines[v.Capability()] = v
	}
	hybrid := NewHybridEngine(variants)
	engines[CapabilityHybrid] = hybrid

	return &EngineSet{engines: engines, hybrid: hybrid}
}

// Dispatch routes the query to the engine matching its type, or to the
// hybrid fallback when no variant claims it.
func (s *EngineSet) Dispatch(ctx context.Context, q Query) Result {
	if engine, ok := s.engines[q.Type]; ok {
		return engine.Reason(ctx, q)
	}
	return s.hybrid.Reason(ctx, q)
}

// Capabilities lists the capabilities this set can serve, sorted for
// deterministic output.
func (s *EngineSet) Capabilities() []Capability {
	caps := make([]Capability, 0, len(s.engines))
	for c := range s.engines {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}
