package coordinator

import (
	"fmt"
	"sort"

	"github.com/noesislabs/noesis/pkg/atomspace"
	"github.com/noesislabs/noesis/pkg/mesh"
	"github.com/noesislabs/noesis/pkg/reasoning"
)

// AggregatorOptions tune how node results are reduced to one answer.
type AggregatorOptions struct {
	// Strategy is the aggregation strategy name (see NewAggregator).
	Strategy string

	// MinConsensusLevel is the agreement threshold for the
	// consensus-based strategy.
	MinConsensusLevel float64

	// SimilarityThreshold is the structural similarity above which two
	// conclusions count as agreeing.
	SimilarityThreshold float64

	// Byzantine enables statistical screening of outlier results before
	// aggregation.
	Byzantine bool
}

// Aggregator reduces the node results of one task to a single
// DistributedResult. Stateless and safe for concurrent use.
type Aggregator struct {
	opts AggregatorOptions
}

// knownAggregationStrategies lists every strategy NewAggregator accepts.
var knownAggregationStrategies = []string{
	"majority-vote",
	"weighted-average",
	"confidence-weighted",
	"performance-weighted",
	"consensus-based",
	"best-result",
}

// NewAggregator creates an aggregator for a configured strategy name.
func NewAggregator(opts AggregatorOptions) (*Aggregator, error) {
	found := false
	for _, s := range knownAggregationStrategies {
		if s == opts.Strategy {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("unknown aggregation strategy: %q", opts.Strategy)
	}
	return &Aggregator{opts: opts}, nil
}

// Strategy returns the configured strategy name.
func (a *Aggregator) Strategy() string { return a.opts.Strategy }

// Aggregate reduces node results to one DistributedResult. Results
// carrying an error, and results below the task's MinConfidence
// constraint, are excluded from aggregation but preserved in the audit
// copy. The suspicious set marks nodes the registry has flagged; under
// byzantine screening their contributions carry half weight. Returns the
// IDs of nodes whose results were screened out as outliers, for suspicion
// tracking.
//
// Failure modes:
//   - zero usable results: AggregationFailure
//   - consensus-based below MinConsensusLevel: ConsensusNotReached
func (a *Aggregator) Aggregate(task *mesh.Task, results []mesh.NodeResult, suspicious map[string]bool) (*mesh.DistributedResult, []string, error) {
	usable := make([]mesh.NodeResult, 0, len(results))
	failed := make(map[string]string)
	for _, r := range results {
		if r.Error != "" {
			failed[r.NodeID] = r.Error
			continue
		}
		if min := task.Constraints.MinConfidence; min > 0 && r.Result.Confidence < min {
			failed[r.NodeID] = fmt.Sprintf("confidence %.2f below required %.2f", r.Result.Confidence, min)
			continue
		}
		usable = append(usable, r)
	}

	var screened []string
	if a.opts.Byzantine && len(usable) >= 3 {
		usable, screened = screenOutliers(usable)
	}

	if len(usable) == 0 {
		return nil, screened, &mesh.CoordinationError{
			Kind:   mesh.ErrAggregationFailure,
			TaskID: task.ID,
			Detail: "no usable node results",
			Nodes:  failed,
		}
	}

	groups := groupByConclusion(usable, a.opts.SimilarityThreshold)

	var aggregated reasoning.Result
	switch a.opts.Strategy {
	case "majority-vote", "consensus-based":
		aggregated = reduceGroup(groups[0], a.weightFor(suspicious, uniformWeight))

	case "weighted-average":
		aggregated = reduceUnion(usable, a.weightFor(suspicious, func(r mesh.NodeResult) float64 { return r.Reliability }))

	case "confidence-weighted":
		aggregated = reduceUnion(usable, a.weightFor(suspicious, func(r mesh.NodeResult) float64 { return r.Result.Confidence }))

	case "performance-weighted":
		aggregated = reduceUnion(usable, a.weightFor(suspicious, func(r mesh.NodeResult) float64 {
			// Reliability discounted by observed latency, like node ranking.
			w := r.Reliability
			if r.ExecutionTimeMs > 0 {
				w *= 1000 / (float64(r.ExecutionTimeMs) + 1000)
			}
			return w
		}))

	case "best-result":
		best := usable[0]
		for _, r := range usable[1:] {
			if r.Result.Confidence > best.Result.Confidence {
				best = r
			}
		}
		aggregated = best.Result

	default:
		return nil, screened, fmt.Errorf("unknown aggregation strategy: %q", a.opts.Strategy)
	}

	consensus := a.consensusLevel(usable, aggregated)
	if a.opts.Strategy == "consensus-based" && consensus < a.opts.MinConsensusLevel {
		return nil, screened, &mesh.CoordinationError{
			Kind:   mesh.ErrConsensusNotReached,
			TaskID: task.ID,
			Detail: fmt.Sprintf("consensus %.2f below required %.2f", consensus, a.opts.MinConsensusLevel),
		}
	}

	if aggregated.Metadata == nil {
		aggregated.Metadata = make(map[string]string)
	}
	aggregated.Metadata["aggregation_strategy"] = a.opts.Strategy

	return &mesh.DistributedResult{
		TaskID:         task.ID,
		NodeResults:    results,
		Aggregated:     aggregated,
		ConsensusLevel: consensus,
		NodesUsed:      len(usable),
	}, screened, nil
}

func uniformWeight(mesh.NodeResult) float64 { return 1 }

// weightFor wraps a base weight function with the byzantine suspicion
// discount: nodes the registry has flagged contribute at half weight.
func (a *Aggregator) weightFor(suspicious map[string]bool, base func(mesh.NodeResult) float64) func(mesh.NodeResult) float64 {
	if !a.opts.Byzantine || len(suspicious) == 0 {
		return base
	}
	return func(r mesh.NodeResult) float64 {
		w := base(r)
		if suspicious[r.NodeID] {
			w /= 2
		}
		return w
	}
}

// consensusLevel is the fraction of usable results that agree with the
// chosen aggregate. Union strategies subsume every contributed
// conclusion, so agreement there is closeness of reported confidence;
// winner-take-all strategies compare conclusion structure.
func (a *Aggregator) consensusLevel(usable []mesh.NodeResult, aggregated reasoning.Result) float64 {
	agree := 0
	switch a.opts.Strategy {
	case "weighted-average", "confidence-weighted", "performance-weighted":
		tolerance := 1 - a.opts.SimilarityThreshold
		for _, r := range usable {
			if abs(r.Result.Confidence-aggregated.Confidence) <= tolerance {
				agree++
			}
		}
	default:
		aggPrints := conclusionFingerprints(aggregated.Conclusion)
		for _, r := range usable {
			if setSimilarity(conclusionFingerprints(r.Result.Conclusion), aggPrints) >= a.opts.SimilarityThreshold {
				agree++
			}
		}
	}
	return float64(agree) / float64(len(usable))
}

// reduceGroup merges a group of agreeing results: the conclusion of the
// most confident member, confidence as the weighted mean over the group.
// The same averaging rule the hybrid engine uses locally.
func reduceGroup(group []mesh.NodeResult, weight func(mesh.NodeResult) float64) reasoning.Result {
	best := group[0]
	values := make([]float64, len(group))
	weights := make([]float64, len(group))
	for i, r := range group {
		values[i] = r.Result.Confidence
		weights[i] = weight(r)
		if r.Result.Confidence > best.Result.Confidence {
			best = r
		}
	}

	out := best.Result
	out.Confidence = reasoning.WeightedMean(values, weights)
	out.Explanation = fmt.Sprintf("aggregated from %d agreeing results: %s", len(group), best.Result.Explanation)

	meta := make(map[string]string, len(best.Result.Metadata))
	for k, v := range best.Result.Metadata {
		meta[k] = v
	}
	out.Metadata = meta
	return out
}

// reduceUnion merges every contributing result into one: the
// fingerprint-deduplicated union of all conclusions in first-seen order,
// confidence as the weighted mean over contributors.
func reduceUnion(results []mesh.NodeResult, weight func(mesh.NodeResult) float64) reasoning.Result {
	best := results[0]
	values := make([]float64, len(results))
	weights := make([]float64, len(results))
	seen := make(map[string]bool)
	var conclusion []atomspace.Atom

	for i := range results {
		r := results[i]
		values[i] = r.Result.Confidence
		weights[i] = weight(r)
		if r.Result.Confidence > best.Result.Confidence {
			best = r
		}

		byID := make(map[string]*atomspace.Atom, len(r.Result.Conclusion))
		for j := range r.Result.Conclusion {
			byID[r.Result.Conclusion[j].ID] = &r.Result.Conclusion[j]
		}
		lookup := func(id string) (*atomspace.Atom, bool) {
			a, ok := byID[id]
			return a, ok
		}
		for j := range r.Result.Conclusion {
			fp := atomspace.Fingerprint(&r.Result.Conclusion[j], lookup)
			if seen[fp] {
				continue
			}
			seen[fp] = true
			conclusion = append(conclusion, r.Result.Conclusion[j])
		}
	}

	out := best.Result
	out.Conclusion = conclusion
	out.Confidence = reasoning.WeightedMean(values, weights)
	out.Explanation = fmt.Sprintf("aggregated union of %d results: %s", len(results), best.Result.Explanation)

	meta := make(map[string]string, len(best.Result.Metadata))
	for k, v := range best.Result.Metadata {
		meta[k] = v
	}
	out.Metadata = meta
	return out
}

// groupByConclusion partitions results into agreement groups by structural
// similarity of their conclusions, largest group first. Similarity
// compares the set of structural fingerprints of each conclusion, so two
// nodes deriving the same atoms under different IDs agree.
func groupByConclusion(results []mesh.NodeResult, threshold float64) [][]mesh.NodeResult {
	prints := make([]map[string]bool, len(results))
	for i, r := range results {
		prints[i] = conclusionFingerprints(r.Result.Conclusion)
	}

	var groups [][]int
	for i := range results {
		placed := false
		for gi, group := range groups {
			if setSimilarity(prints[group[0]], prints[i]) >= threshold {
				groups[gi] = append(groups[gi], i)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []int{i})
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return len(groups[i]) > len(groups[j])
	})

	out := make([][]mesh.NodeResult, len(groups))
	for gi, group := range groups {
		members := make([]mesh.NodeResult, len(group))
		for mi, idx := range group {
			members[mi] = results[idx]
		}
		out[gi] = members
	}
	return out
}

// conclusionFingerprints computes the structural fingerprint of each
// conclusion atom, resolving outgoing links within the conclusion itself.
func conclusionFingerprints(conclusion []atomspace.Atom) map[string]bool {
	byID := make(map[string]*atomspace.Atom, len(conclusion))
	for i := range conclusion {
		byID[conclusion[i].ID] = &conclusion[i]
	}
	lookup := func(id string) (*atomspace.Atom, bool) {
		a, ok := byID[id]
		return a, ok
	}

	prints := make(map[string]bool, len(conclusion))
	for i := range conclusion {
		prints[atomspace.Fingerprint(&conclusion[i], lookup)] = true
	}
	return prints
}

// setSimilarity is the Jaccard similarity of two fingerprint sets. Two
// empty conclusions are identical.
func setSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// screenOutliers drops results whose confidence sits far from the median,
// the cheap screen against nodes reporting wildly divergent confidence to
// dominate weighted strategies. Returns survivors and the screened node
// IDs.
func screenOutliers(results []mesh.NodeResult) ([]mesh.NodeResult, []string) {
	confidences := make([]float64, len(results))
	for i, r := range results {
		confidences[i] = r.Result.Confidence
	}
	sort.Float64s(confidences)
	median := confidences[len(confidences)/2]

	// Median absolute deviation, floored so tight clusters do not flag
	// benign variation.
	devs := make([]float64, len(results))
	for i, c := range confidences {
		devs[i] = abs(c - median)
	}
	sort.Float64s(devs)
	mad := devs[len(devs)/2]
	if mad < 0.05 {
		mad = 0.05
	}

	var survivors []mesh.NodeResult
	var screened []string
	for _, r := range results {
		if abs(r.Result.Confidence-median) > 3*mad {
			screened = append(screened, r.NodeID)
			continue
		}
		survivors = append(survivors, r)
	}

	// Screening everything would be self-defeating; keep the original set.
	if len(survivors) == 0 {
		return results, nil
	}
	return survivors, screened
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
