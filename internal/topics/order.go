package topics

import (
	"fmt"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/bilgi/internal/models"
)

// orderTopics assigns Order to topics by a Kahn topological sort over
// prerequisites, choosing among ready topics by ascending difficulty and then
// first appearance. Numbering continues after existing topics. Prerequisites
// pointing outside topics are already satisfied. When a cycle blocks progress,
// the easiest remaining topic is released and its unmet prerequisites dropped.
func orderTopics(topics []*models.Topic, existing []*models.Topic, logger *zap.Logger) error {
	base := 0
	for _, t := range existing {
		base = max(base, t.Order)
	}

	pos := make(map[string]int, len(topics))
	for i, t := range topics {
		if _, dup := pos[t.ID]; dup {
			return fmt.Errorf("duplicate topic id %s", t.ID)
		}
		pos[t.ID] = i
	}
	indeg := make([]int, len(topics))
	dependents := make([][]int, len(topics))
	for i, t := range topics {
		for _, p := range t.Prerequisites {
			j, ok := pos[p]
			if !ok {
				continue
			}
			indeg[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	less := func(a, b int) bool {
		ra, rb := topics[a].Difficulty.Rank(), topics[b].Difficulty.Rank()
		if ra != rb {
			return ra < rb
		}
		return a < b
	}

	done := make([]bool, len(topics))
	var ready []int
	for i := range topics {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}
	next := base + 1
	for placed := 0; placed < len(topics); placed++ {
		if len(ready) == 0 {
			// Cycle: release the easiest remaining topic.
			pick := -1
			for i := range topics {
				if !done[i] && (pick < 0 || less(i, pick)) {
					pick = i
				}
			}
			dropped := unmet(topics, pick, pos, done)
			logger.Warn("prerequisite cycle broken",
				zap.String("topic_id", topics[pick].ID),
				zap.String("title", topics[pick].Title),
				zap.Strings("dropped_prerequisites", dropped))
			topics[pick].Prerequisites = slices.DeleteFunc(topics[pick].Prerequisites, func(p string) bool {
				return slices.Contains(dropped, p)
			})
			indeg[pick] = 0
			ready = append(ready, pick)
		}
		sort.Slice(ready, func(a, b int) bool { return less(ready[a], ready[b]) })
		cur := ready[0]
		ready = ready[1:]
		done[cur] = true
		topics[cur].Order = next
		next++
		for _, d := range dependents[cur] {
			if done[d] {
				continue
			}
			indeg[d]--
			if indeg[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	sort.SliceStable(topics, func(a, b int) bool { return topics[a].Order < topics[b].Order })
	return nil
}

// unmet returns the prerequisites of topics[i] that are not yet placed.
func unmet(topics []*models.Topic, i int, pos map[string]int, done []bool) []string {
	var out []string
	for _, p := range topics[i].Prerequisites {
		if j, ok := pos[p]; ok && !done[j] {
			out = append(out, p)
		}
	}
	return out
}
