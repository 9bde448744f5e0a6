/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package dag

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/logging"
)

// MergeMap records which removed node was folded into which survivor.
// Entries are only ever added.
type MergeMap struct {
	into  map[int]int
	order []int
}

// NewMergeMap creates an empty merge map
func NewMergeMap() *MergeMap {
	return &MergeMap{into: make(map[int]int)}
}

func (m *MergeMap) record(removed, survivor int) {
	if _, exists := m.into[removed]; exists {
		return
	}
	m.into[removed] = survivor
	m.order = append(m.order, removed)
}

// Len returns the number of recorded folds
func (m *MergeMap) Len() int {
	return len(m.into)
}

// Into returns the node removed was folded into directly
func (m *MergeMap) Into(removed int) (int, bool) {
	survivor, ok := m.into[removed]
	return survivor, ok
}

// Resolve follows folds from an original id to the id that represents it now
func (m *MergeMap) Resolve(id int) int {
	seen := make(map[int]bool)
	for {
		next, ok := m.into[id]
		if !ok || seen[id] {
			return id
		}
		seen[id] = true
		id = next
	}
}

// Removed returns the removed ids in the order they were folded
func (m *MergeMap) Removed() []int {
	return append([]int(nil), m.order...)
}

// Entries returns a copy of the map from removed id to survivor
func (m *MergeMap) Entries() map[int]int {
	out := make(map[int]int, len(m.into))
	for k, v := range m.into {
		out[k] = v
	}
	return out
}

// Mergeable reports whether a and b can be folded together without creating
// a cycle: they differ, neither is a direct parent or child of the other,
// neither depends on the other and neither is reachable from the other.
func (d *DAG) Mergeable(a, b int) bool {
	na, nb := d.nodes[a], d.nodes[b]
	if a == b || na == nil || nb == nil {
		return false
	}
	if na.Children.Has(b) || nb.Children.Has(a) || na.Parents.Has(b) || nb.Parents.Has(a) {
		return false
	}
	if na.Deps.Has(b) || nb.Deps.Has(a) {
		return false
	}
	return !d.Reachable(a, b) && !d.Reachable(b, a)
}

// Merge folds the higher id into the lower one. The survivor takes the union
// of both nodes' relations, every reference to the removed id is rewritten and
// the fold is recorded in the merge map. It returns the surviving id.
func (d *DAG) Merge(a, b int) (int, error) {
	if !d.Mergeable(a, b) {
		return 0, fmt.Errorf("nodes %d and %d cannot be merged", a, b)
	}

	keep, remove := a, b
	if remove < keep {
		keep, remove = remove, keep
	}
	survivor, removed := d.nodes[keep], d.nodes[remove]

	survivor.Sources.Union(removed.Sources)
	survivor.Parents.Union(removed.Parents)
	survivor.Children.Union(removed.Children)
	survivor.Deps.Union(removed.Deps)
	for k, v := range removed.Metadata {
		if survivor.Metadata == nil {
			survivor.Metadata = make(map[string]any)
		}
		if _, exists := survivor.Metadata[k]; !exists {
			survivor.Metadata[k] = v
		}
	}

	for _, set := range []IDSet{survivor.Parents, survivor.Children, survivor.Deps} {
		set.Remove(keep)
		set.Remove(remove)
	}

	for id, n := range d.nodes {
		if id == keep || id == remove {
			continue
		}
		n.Parents.Replace(remove, keep)
		n.Children.Replace(remove, keep)
		n.Deps.Replace(remove, keep)
	}

	delete(d.nodes, remove)
	d.Merges.record(remove, keep)
	return keep, nil
}

// Candidate is a pair of nodes the oracle considers likely equivalent
type Candidate struct {
	A     int
	B     int
	Score float64
}

// Oracle judges node similarity. Its answers are advisory: structural safety
// is always checked first.
type Oracle interface {
	FindSimilarPairs(ctx context.Context, nodes []*Node) ([]Candidate, error)
	ShouldMerge(ctx context.Context, a, b *Node) (bool, error)
}

// SimplifyOption configures Simplify
type SimplifyOption func(*simplifier)

// WithMinScore ignores candidates scored below min
func WithMinScore(min float64) SimplifyOption {
	return func(s *simplifier) { s.minScore = min }
}

// WithLogger sets the logger used to report merges and oracle failures
func WithLogger(logger *logging.Logger) SimplifyOption {
	return func(s *simplifier) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type simplifier struct {
	minScore float64
	logger   *logging.Logger
}

type pairKey struct{ lo, hi int }

func keyOf(a, b int) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// Simplify merges the pairs of d the oracle judges equivalent. The oracle is
// asked for candidates once; each pair-specific answer is cached for the whole
// call. Oracle failures leave the affected pairs unmerged. A graph that is
// already cyclic is rejected with a ConfigurationError.
func Simplify(ctx context.Context, d *DAG, oracle Oracle, opts ...SimplifyOption) error {
	s := &simplifier{logger: logging.NewWriter(io.Discard)}
	for _, opt := range opts {
		opt(s)
	}

	if cycle := d.FindCycle(); cycle != nil {
		return &global.ConfigurationError{Reason: "dependency cycle", Nodes: cycle}
	}
	if d.Len() < 2 {
		return nil
	}

	candidates, err := oracle.FindSimilarPairs(ctx, d.Nodes())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warnf("similarity search failed, plan %d left unmerged: %v", d.PlanID, err)
		return nil
	}

	filtered := candidates[:0]
	for _, c := range candidates {
		if c.A != c.B && c.Score >= s.minScore {
			filtered = append(filtered, c)
		}
	}
	candidates = filtered
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) == 0 {
		return nil
	}

	answers := make(map[pairKey]bool)
	maxPasses := 2 * d.Len()

	for pass := 0; pass < maxPasses; pass++ {
		merged := false
		for _, c := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !d.Mergeable(c.A, c.B) {
				continue
			}

			key := keyOf(c.A, c.B)
			ok, asked := answers[key]
			if !asked {
				ok, err = oracle.ShouldMerge(ctx, d.nodes[c.A], d.nodes[c.B])
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					s.logger.Warnf("merge check for nodes %d and %d failed: %v", c.A, c.B, err)
					ok = false
				}
				answers[key] = ok
			}
			if !ok {
				continue
			}

			keep, err := d.Merge(c.A, c.B)
			if err != nil {
				continue
			}
			s.logger.Infof("merged node %d into %d (score %.2f)", key.hi, keep, c.Score)
			merged = true
			break
		}
		if !merged {
			break
		}
	}
	return nil
}
