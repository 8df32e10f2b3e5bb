package supervisor

import (
	"sort"
	"sync/atomic"
)

// Strategy names accepted by the runtime config.
const (
	StrategyRoundRobin       = "round_robin"
	StrategyLeastConnections = "least_connections"
	StrategyWeighted         = "weighted"
)

// Strategy picks a server instance for a new connection out of the healthy,
// under-capacity candidates. Candidates are always passed sorted by id so
// strategies behave deterministically.
type Strategy interface {
	Name() string
	Select(candidates []*ServerInstance) *ServerInstance
}

type roundRobin struct {
	counter atomic.Uint64
}

func (r *roundRobin) Name() string { return StrategyRoundRobin }

func (r *roundRobin) Select(candidates []*ServerInstance) *ServerInstance {
	if len(candidates) == 0 {
		return nil
	}
	n := r.counter.Add(1) - 1
	return candidates[n%uint64(len(candidates))]
}

type leastConnections struct{}

func (leastConnections) Name() string { return StrategyLeastConnections }

func (leastConnections) Select(candidates []*ServerInstance) *ServerInstance {
	var best *ServerInstance
	var bestActive int64
	for _, inst := range candidates {
		active := inst.Active()
		if best == nil || active < bestActive {
			best = inst
			bestActive = active
		}
	}
	return best
}

// weightedByLoad scores each candidate by remaining headroom times weight and
// picks the highest.
type weightedByLoad struct{}

func (weightedByLoad) Name() string { return StrategyWeighted }

func (weightedByLoad) Select(candidates []*ServerInstance) *ServerInstance {
	var best *ServerInstance
	bestScore := -1.0
	for _, inst := range candidates {
		score := (1 - inst.Utilization()) * inst.Weight
		if score > bestScore {
			best = inst
			bestScore = score
		}
	}
	return best
}

// newStrategyTable builds the fixed dispatch table of selection strategies.
func newStrategyTable() map[string]Strategy {
	return map[string]Strategy{
		StrategyRoundRobin:       &roundRobin{},
		StrategyLeastConnections: leastConnections{},
		StrategyWeighted:         weightedByLoad{},
	}
}

func sortByID(instances []*ServerInstance) {
	sort.Slice(instances, func(a, b int) bool {
		return instances[a].ID < instances[b].ID
	})
}
