package coordinator

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/noesislabs/noesis/pkg/mesh"
)

// Balancer orders eligible nodes by desirability for a task. Strategies
// only rank; candidate filtering and count limits are applied by
// SelectNodes so every strategy honors constraints identically.
type Balancer interface {
	// Rank returns the candidates ordered best-first. Implementations must
	// not mutate the nodes.
	Rank(task *mesh.Task, candidates []*mesh.Node) []*mesh.Node

	// Name returns the strategy name as used in configuration.
	Name() string
}

// NewBalancer returns the balancer for a configured strategy name.
func NewBalancer(strategy string) (Balancer, error) {
	switch strategy {
	case "round-robin":
		return &roundRobinBalancer{}, nil
	case "least-loaded":
		return &leastLoadedBalancer{}, nil
	case "performance-based":
		return &performanceBalancer{}, nil
	case "capability-optimized":
		return &capabilityBalancer{}, nil
	case "random":
		return &randomBalancer{}, nil
	default:
		return nil, fmt.Errorf("unknown balancer strategy: %q", strategy)
	}
}

// SelectNodes filters candidates against the task's requirements and
// constraints, ranks the survivors with the strategy, and returns up to
// maxNodes of them. Preferred nodes outrank the strategy's ordering;
// excluded nodes never appear.
//
// Failure modes are part of the contract:
//   - an explicit MaxNodes of 0 rejects the task (NodeUnavailable)
//   - no eligible candidates rejects the task (NodeUnavailable)
//   - RequireAllNodes with fewer survivors than maxNodes rejects the task
func SelectNodes(b Balancer, task *mesh.Task, candidates []*mesh.Node, defaultMaxNodes int) ([]*mesh.Node, error) {
	maxNodes := defaultMaxNodes
	if task.Constraints.MaxNodesSet || task.Constraints.MaxNodes > 0 {
		maxNodes = task.Constraints.MaxNodes
	}
	if maxNodes <= 0 {
		return nil, &mesh.CoordinationError{
			Kind:   mesh.ErrNodeUnavailable,
			TaskID: task.ID,
			Detail: "task constraints allow zero nodes",
		}
	}

	eligible := filterCandidates(task, candidates)
	if len(eligible) == 0 {
		return nil, &mesh.CoordinationError{
			Kind:   mesh.ErrNodeUnavailable,
			TaskID: task.ID,
			Detail: "no active node covers the required capabilities",
		}
	}
	if task.Constraints.RequireAllNodes && len(eligible) < maxNodes {
		return nil, &mesh.CoordinationError{
			Kind:   mesh.ErrNodeUnavailable,
			TaskID: task.ID,
			Detail: fmt.Sprintf("require_all_nodes: need %d nodes, only %d eligible", maxNodes, len(eligible)),
		}
	}

	ranked := b.Rank(task, eligible)
	ranked = promotePreferred(task.Constraints.PreferredNodes, ranked)

	if len(ranked) > maxNodes {
		ranked = ranked[:maxNodes]
	}
	return ranked, nil
}

// filterCandidates drops nodes that cannot serve the task: missing
// capabilities or explicitly excluded.
func filterCandidates(task *mesh.Task, candidates []*mesh.Node) []*mesh.Node {
	excluded := make(map[string]bool, len(task.Constraints.ExcludedNodes))
	for _, id := range task.Constraints.ExcludedNodes {
		excluded[id] = true
	}

	eligible := make([]*mesh.Node, 0, len(candidates))
	for _, node := range candidates {
		if excluded[node.ID] {
			continue
		}
		if !node.CoversAll(task.RequiredCapabilities) {
			continue
		}
		eligible = append(eligible, node)
	}
	return eligible
}

// promotePreferred moves preferred nodes to the front, keeping the
// strategy's relative order within each group.
func promotePreferred(preferredIDs []string, ranked []*mesh.Node) []*mesh.Node {
	if len(preferredIDs) == 0 {
		return ranked
	}

	preferred := make(map[string]bool, len(preferredIDs))
	for _, id := range preferredIDs {
		preferred[id] = true
	}

	out := make([]*mesh.Node, 0, len(ranked))
	for _, node := range ranked {
		if preferred[node.ID] {
			out = append(out, node)
		}
	}
	for _, node := range ranked {
		if !preferred[node.ID] {
			out = append(out, node)
		}
	}
	return out
}

// sortStable sorts a copy of the candidates with the given less function,
// breaking ties by node ID so rankings are deterministic.
func sortStable(candidates []*mesh.Node, less func(a, b *mesh.Node) bool) []*mesh.Node {
	out := make([]*mesh.Node, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if less(out[i], out[j]) {
			return true
		}
		if less(out[j], out[i]) {
			return false
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// roundRobinBalancer rotates a moving start position over the candidate
// list so successive tasks spread across the mesh.
type roundRobinBalancer struct {
	mu   sync.Mutex
	next uint64
}

func (b *roundRobinBalancer) Name() string { return "round-robin" }

func (b *roundRobinBalancer) Rank(task *mesh.Task, candidates []*mesh.Node) []*mesh.Node {
	// Stable base order so rotation is well-defined across calls.
	base := sortStable(candidates, func(a, c *mesh.Node) bool { return a.ID < c.ID })

	b.mu.Lock()
	start := int(b.next % uint64(len(base)))
	b.next++
	b.mu.Unlock()

	out := make([]*mesh.Node, 0, len(base))
	out = append(out, base[start:]...)
	out = append(out, base[:start]...)
	return out
}

// leastLoadedBalancer prefers the node reporting the lowest workload.
type leastLoadedBalancer struct{}

func (b *leastLoadedBalancer) Name() string { return "least-loaded" }

func (b *leastLoadedBalancer) Rank(task *mesh.Task, candidates []*mesh.Node) []*mesh.Node {
	return sortStable(candidates, func(a, c *mesh.Node) bool {
		return a.Workload < c.Workload
	})
}

// performanceBalancer prefers reliable, fast nodes. Reliability dominates;
// response time breaks ties between equally reliable nodes.
type performanceBalancer struct{}

func (b *performanceBalancer) Name() string { return "performance-based" }

func (b *performanceBalancer) Rank(task *mesh.Task, candidates []*mesh.Node) []*mesh.Node {
	return sortStable(candidates, func(a, c *mesh.Node) bool {
		if a.Performance.Reliability != c.Performance.Reliability {
			return a.Performance.Reliability > c.Performance.Reliability
		}
		return a.Performance.AvgResponseTimeMs < c.Performance.AvgResponseTimeMs
	})
}

// capabilityBalancer prefers the most specialized eligible node: fewer
// advertised capabilities means less contention for the generalists.
type capabilityBalancer struct{}

func (b *capabilityBalancer) Name() string { return "capability-optimized" }

func (b *capabilityBalancer) Rank(task *mesh.Task, candidates []*mesh.Node) []*mesh.Node {
	return sortStable(candidates, func(a, c *mesh.Node) bool {
		return len(a.Capabilities) < len(c.Capabilities)
	})
}

// randomBalancer shuffles candidates uniformly.
type randomBalancer struct {
	mu sync.Mutex
}

func (b *randomBalancer) Name() string { return "random" }

func (b *randomBalancer) Rank(task *mesh.Task, candidates []*mesh.Node) []*mesh.Node {
	out := make([]*mesh.Node, len(candidates))
	copy(out, candidates)

	b.mu.Lock()
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	b.mu.Unlock()
	return out
}
