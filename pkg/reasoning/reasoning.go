// Package reasoning defines the reasoning engine contract and the local
// engine variants that implement it against an atomspace. Engines are
// total: a well-formed query never produces an error or panic, only a
// Result whose confidence reflects how much the engine could conclude.
// Internal failures surface as a zero-confidence Result with the failure
// description in the explanation.
package reasoning

import (
	"context"
	"fmt"

	"github.com/noesislabs/noesis/pkg/atomspace"
)

// Capability is a labeled reasoning skill. Nodes advertise capabilities;
// queries request one; engines implement one.
type Capability string

const (
	// CapabilityDeductive derives consequents from matching implications.
	CapabilityDeductive Capability = "deductive"

	// CapabilityInductive generalizes from instances of a type.
	CapabilityInductive Capability = "inductive"

	// CapabilityAbductive hypothesizes antecedents that would explain the query.
	CapabilityAbductive Capability = "abductive"

	// CapabilityPatternMatching matches query atoms against the store.
	CapabilityPatternMatching Capability = "pattern-matching"

	// CapabilityDomainAnalysis filters the store by domain context.
	CapabilityDomainAnalysis Capability = "domain-analysis"

	// CapabilityHybrid fans a query out to every local variant.
	CapabilityHybrid Capability = "hybrid"
)

// Validate checks if the Capability is a known value.
func (c Capability) Validate() error {
	switch c {
	case CapabilityDeductive, CapabilityInductive, CapabilityAbductive,
		CapabilityPatternMatching, CapabilityDomainAnalysis, CapabilityHybrid:
		return nil
	default:
		return fmt.Errorf("unknown capability: %q", c)
	}
}

// Query is the read-only input to a reasoning invocation. It is never
// mutated downstream; engines that need to derive atoms clone them.
type Query struct {
	Type       Capability        `json:"type"`
	Atoms      []atomspace.Atom  `json:"atoms,omitempty"`
	Context    string            `json:"context,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Validate checks the query is well-formed enough to dispatch. An unknown
// Type is allowed (it falls back to the hybrid variant); an empty Type is
// not.
func (q *Query) Validate() error {
	if q.Type == "" {
		return fmt.Errorf("query type cannot be empty")
	}
	for i := range q.Atoms {
		if err := q.Atoms[i].Validate(); err != nil {
			return fmt.Errorf("query atom %d: %w", i, err)
		}
	}
	return nil
}

// Result is the output of one reasoning invocation, local or remote.
type Result struct {
	Conclusion  []atomspace.Atom  `json:"conclusion,omitempty"`
	Confidence  float64           `json:"confidence"`
	Explanation string            `json:"explanation,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Engine is the single reasoning contract. Implementations must be total
// on well-formed queries and must honor context cancellation by returning
// early with whatever was concluded so far.
type Engine interface {
	Reason(ctx context.Context, q Query) Result
	Capability() Capability
}

// WeightedMean computes the weighted mean of values. A zero total weight
// yields 0, never a division by zero. This is the single averaging rule
// shared by the hybrid engine and the distributed result aggregator so
// local fan-out and remote fan-out reduce confidences identically.
func WeightedMean(values, weights []float64) float64 {
	if len(values) == 0 || len(values) != len(weights) {
		return 0
	}
	var sum, total float64
	for i, v := range values {
		sum += v * weights[i]
		total += weights[i]
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// failedResult builds the zero-confidence Result engines return on
// internal failure.
func failedResult(cap Capability, reason string) Result {
	return Result{
		Confidence:  0,
		Explanation: fmt.Sprintf("%s reasoning failed: %s", cap, reason),
	}
}

// safeReason runs fn and converts a panic into a zero-confidence Result,
// keeping every engine total.
func safeReason(cap Capability, fn func() Result) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failedResult(cap, fmt.Sprintf("internal error: %v", r))
		}
	}()
	return fn()
}
