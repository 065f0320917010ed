package reasoning

import (
	"context"
	"fmt"
	"math"

	"github.com/noesislabs/noesis/pkg/atomspace"
)

// Link types the deductive and abductive engines chain over.
const (
	linkTypeImplication = "implication"
	linkTypeInheritance = "inheritance"
)

func defaultTruth(a *atomspace.Atom) atomspace.TruthValue {
	if a.Truth != nil {
		return *a.Truth
	}
	return atomspace.TruthValue{Strength: 1, Confidence: 1}
}

func isLinkType(t string) bool {
	return t == linkTypeImplication || t == linkTypeInheritance
}

// DeductiveEngine performs forward chaining: for each query atom that
// matches the antecedent of a stored implication or inheritance link, the
// consequent is derived. Derived strength is the product of premise and
// link strengths; derived confidence is their minimum.
type DeductiveEngine struct {
	store *atomspace.Store
}

// NewDeductiveEngine creates a deductive engine over the given store.
func NewDeductiveEngine(store *atomspace.Store) *DeductiveEngine {
	return &DeductiveEngine{store: store}
}

// Capability returns CapabilityDeductive.
func (e *DeductiveEngine) Capability() Capability { return CapabilityDeductive }

// Reason derives consequents for every query atom with a matching
// antecedent. Returns a zero-confidence result when nothing is derivable.
func (e *DeductiveEngine) Reason(ctx context.Context, q Query) Result {
	return safeReason(CapabilityDeductive, func() Result {
		var conclusions []atomspace.Atom
		var confidences []float64

		two := 2
		links := e.store.QueryAtoms(atomspace.Pattern{Arity: &two})

		for i := range q.Atoms {
			if ctx.Err() != nil {
				break
			}
			premise := &q.Atoms[i]
			for j := range links {
				link := &links[j]
				if !isLinkType(link.Type) {
					continue
				}
				antecedent, ok := e.store.GetAtom(link.Outgoing[0])
				if !ok || antecedent.Type != premise.Type || antecedent.Name != premise.Name {
					continue
				}
				consequent, ok := e.store.GetAtom(link.Outgoing[1])
				if !ok {
					continue
				}

				pt := defaultTruth(premise)
				lt := defaultTruth(link)
				derived := atomspace.TruthValue{
					Strength:   pt.Strength * lt.Strength,
					Confidence: math.Min(pt.Confidence, lt.Confidence),
				}
				consequent.Truth = &derived
				conclusions = append(conclusions, consequent)
				confidences = append(confidences, derived.Confidence)
			}
		}

		if len(conclusions) == 0 {
			return Result{
				Confidence:  0,
				Explanation: "no implications match the query premises",
			}
		}

		uniform := make([]float64, len(confidences))
		for i := range uniform {
			uniform[i] = 1
		}
		return Result{
			Conclusion:  conclusions,
			Confidence:  WeightedMean(confidences, uniform),
			Explanation: fmt.Sprintf("derived %d consequent(s) by forward chaining", len(conclusions)),
		}
	})
}

// InductiveEngine generalizes: for each query atom it samples all stored
// atoms of the same type and emits a generalization atom whose strength is
// the sample mean and whose confidence grows with sample size (n/(n+1)).
type InductiveEngine struct {
	store *atomspace.Store
}

// NewInductiveEngine creates an inductive engine over the given store.
func NewInductiveEngine(store *atomspace.Store) *InductiveEngine {
	return &InductiveEngine{store: store}
}

// Capability returns CapabilityInductive.
func (e *InductiveEngine) Capability() Capability { return CapabilityInductive }

// Reason emits one generalization per distinct query atom type that has
// instances in the store.
func (e *InductiveEngine) Reason(ctx context.Context, q Query) Result {
	return safeReason(CapabilityInductive, func() Result {
		var conclusions []atomspace.Atom
		var confidences []float64
		generalized := make(map[string]bool)

		for i := range q.Atoms {
			if ctx.Err() != nil {
				break
			}
			atomType := q.Atoms[i].Type
			if generalized[atomType] {
				continue
			}
			generalized[atomType] = true

			instances := e.store.QueryAtoms(atomspace.Pattern{Type: atomType})
			if len(instances) == 0 {
				continue
			}

			var strengthSum float64
			for j := range instances {
				strengthSum += defaultTruth(&instances[j]).Strength
			}
			n := float64(len(instances))
			truth := atomspace.TruthValue{
				Strength:   strengthSum / n,
				Confidence: n / (n + 1),
			}
			conclusions = append(conclusions, atomspace.Atom{
				Type:     "generalization",
				Name:     atomType,
				Truth:    &truth,
				Metadata: map[string]string{"sample_size": fmt.Sprintf("%d", len(instances))},
			})
			confidences = append(confidences, truth.Confidence)
		}

		if len(conclusions) == 0 {
			return Result{
				Confidence:  0,
				Explanation: "no instances found to generalize from",
			}
		}

		uniform := make([]float64, len(confidences))
		for i := range uniform {
			uniform[i] = 1
		}
		return Result{
			Conclusion:  conclusions,
			Confidence:  WeightedMean(confidences, uniform),
			Explanation: fmt.Sprintf("generalized over %d type(s)", len(conclusions)),
		}
	})
}

// abductiveDiscount reflects that abduction is weaker than deduction: a
// hypothesized antecedent is only plausible, never entailed.
const abductiveDiscount = 0.8

// AbductiveEngine reasons backwards: for each query atom that matches the
// consequent of a stored implication, the antecedent is hypothesized as a
// plausible explanation with discounted confidence.
type AbductiveEngine struct {
	store *atomspace.Store
}

// NewAbductiveEngine creates an abductive engine over the given store.
func NewAbductiveEngine(store *atomspace.Store) *AbductiveEngine {
	return &AbductiveEngine{store: store}
}

// Capability returns CapabilityAbductive.
func (e *AbductiveEngine) Capability() Capability { return CapabilityAbductive }

// Reason hypothesizes antecedents for every query atom observed as a
// consequent.
func (e *AbductiveEngine) Reason(ctx context.Context, q Query) Result {
	return safeReason(CapabilityAbductive, func() Result {
		var conclusions []atomspace.Atom
		var confidences []float64

		two := 2
		links := e.store.QueryAtoms(atomspace.Pattern{Arity: &two})

		for i := range q.Atoms {
			if ctx.Err() != nil {
				break
			}
			observed := &q.Atoms[i]
			for j := range links {
				link := &links[j]
				if !isLinkType(link.Type) {
					continue
				}
				consequent, ok := e.store.GetAtom(link.Outgoing[1])
				if !ok || consequent.Type != observed.Type || consequent.Name != observed.Name {
					continue
				}
				antecedent, ok := e.store.GetAtom(link.Outgoing[0])
				if !ok {
					continue
				}

				ot := defaultTruth(observed)
				lt := defaultTruth(link)
				hypothesis := atomspace.TruthValue{
					Strength:   ot.Strength * lt.Strength,
					Confidence: abductiveDiscount * math.Min(ot.Confidence, lt.Confidence),
				}
				antecedent.Truth = &hypothesis
				conclusions = append(conclusions, antecedent)
				confidences = append(confidences, hypothesis.Confidence)
			}
		}

		if len(conclusions) == 0 {
			return Result{
				Confidence:  0,
				Explanation: "no implications explain the observed atoms",
			}
		}

		uniform := make([]float64, len(confidences))
		for i := range uniform {
			uniform[i] = 1
		}
		return Result{
			Conclusion:  conclusions,
			Confidence:  WeightedMean(confidences, uniform),
			Explanation: fmt.Sprintf("hypothesized %d explanation(s)", len(conclusions)),
		}
	})
}

// PatternMatchingEngine treats each query atom as a pattern (type and name,
// empty fields as wildcards) and returns every stored atom that matches.
// Confidence is the fraction of query atoms that matched at least once.
type PatternMatchingEngine struct {
	store *atomspace.Store
}

// NewPatternMatchingEngine creates a pattern-matching engine over the store.
func NewPatternMatchingEngine(store *atomspace.Store) *PatternMatchingEngine {
	return &PatternMatchingEngine{store: store}
}

// Capability returns CapabilityPatternMatching.
func (e *PatternMatchingEngine) Capability() Capability { return CapabilityPatternMatching }

// Reason unions the matches of every query atom pattern.
func (e *PatternMatchingEngine) Reason(ctx context.Context, q Query) Result {
	return safeReason(CapabilityPatternMatching, func() Result {
		if len(q.Atoms) == 0 {
			return Result{
				Confidence:  0,
				Explanation: "no query atoms to match against",
			}
		}

		seen := make(map[string]bool)
		var conclusions []atomspace.Atom
		matchedPatterns := 0

		for i := range q.Atoms {
			if ctx.Err() != nil {
				break
			}
			matches := e.store.QueryAtoms(atomspace.Pattern{
				Type: q.Atoms[i].Type,
				Name: q.Atoms[i].Name,
			})
			if len(matches) > 0 {
				matchedPatterns++
			}
			for j := range matches {
				if seen[matches[j].ID] {
					continue
				}
				seen[matches[j].ID] = true
				conclusions = append(conclusions, matches[j])
			}
		}

		confidence := float64(matchedPatterns) / float64(len(q.Atoms))
		explanation := fmt.Sprintf("%d/%d patterns matched, %d atom(s) found",
			matchedPatterns, len(q.Atoms), len(conclusions))
		return Result{
			Conclusion:  conclusions,
			Confidence:  confidence,
			Explanation: explanation,
		}
	})
}

// domainMetadataKey is the atom metadata key the domain engine filters on.
const domainMetadataKey = "domain"

// DomainAnalysisEngine restricts the store to a domain region selected by
// the query context and parameters, matching against atom metadata.
// Confidence is the coverage of the selected region relative to the store.
type DomainAnalysisEngine struct {
	store *atomspace.Store
}

// NewDomainAnalysisEngine creates a domain-analysis engine over the store.
func NewDomainAnalysisEngine(store *atomspace.Store) *DomainAnalysisEngine {
	return &DomainAnalysisEngine{store: store}
}

// Capability returns CapabilityDomainAnalysis.
func (e *DomainAnalysisEngine) Capability() Capability { return CapabilityDomainAnalysis }

// Reason selects atoms whose metadata matches the query context (under the
// "domain" key) and every query parameter key/value pair.
func (e *DomainAnalysisEngine) Reason(ctx context.Context, q Query) Result {
	return safeReason(CapabilityDomainAnalysis, func() Result {
		if q.Context == "" && len(q.Parameters) == 0 {
			return Result{
				Confidence:  0,
				Explanation: "no domain context or parameters to analyze",
			}
		}

		all := e.store.QueryAtoms(atomspace.Pattern{})
		if len(all) == 0 {
			return Result{
				Confidence:  0,
				Explanation: "knowledge store is empty",
			}
		}

		var conclusions []atomspace.Atom
		for i := range all {
			if ctx.Err() != nil {
				break
			}
			a := &all[i]
			if q.Context != "" && a.Metadata[domainMetadataKey] != q.Context {
				continue
			}
			paramsMatch := true
			for k, v := range q.Parameters {
				if a.Metadata[k] != v {
					paramsMatch = false
					break
				}
			}
			if !paramsMatch {
				continue
			}
			conclusions = append(conclusions, *a)
		}

		coverage := float64(len(conclusions)) / float64(len(all))
		return Result{
			Conclusion:  conclusions,
			Confidence:  coverage,
			Explanation: fmt.Sprintf("domain %q covers %d/%d atoms", q.Context, len(conclusions), len(all)),
		}
	})
}
