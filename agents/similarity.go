/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package agents

import (
	"context"

	"github.com/PivotLLM/Planwright/dag"
	"github.com/PivotLLM/Planwright/templates"
)

// SimilarityOracle judges which plan nodes duplicate each other
type SimilarityOracle struct {
	base
	minScore float64
}

// NewSimilarityOracle creates a similarity oracle backed by the given LLM.
// Pairs scored below minScore are dropped from FindSimilarPairs.
func NewSimilarityOracle(llm Completer, llmID string, minScore float64, opts ...Option) *SimilarityOracle {
	return &SimilarityOracle{base: newBase(llm, llmID, opts), minScore: minScore}
}

type similarPair struct {
	ID1        int     `json:"id1"`
	ID2        int     `json:"id2"`
	Similarity float64 `json:"similarity"`
	Reason     string  `json:"reason"`
}

type mergeVerdict struct {
	CanMerge   bool    `json:"can_merge"`
	Similarity float64 `json:"similarity"`
	Reason     string  `json:"reason"`
}

// FindSimilarPairs returns the node pairs the LLM considers likely equivalent.
// Pairs naming unknown nodes or the same node twice are dropped.
func (o *SimilarityOracle) FindSimilarPairs(ctx context.Context, nodes []*dag.Node) ([]dag.Candidate, error) {
	known := make(map[int]bool, len(nodes))
	p := templates.NodesPrompt{MinScore: o.minScore}
	for _, n := range nodes {
		known[n.ID] = true
		p.Nodes = append(p.Nodes, brief(n))
	}

	var reply []similarPair
	if err := o.ask(ctx, "similar_pairs", templates.PromptSimilarPairs, p, templates.SimilarPairsSchema, &reply); err != nil {
		return nil, err
	}

	candidates := make([]dag.Candidate, 0, len(reply))
	for _, pair := range reply {
		if pair.ID1 == pair.ID2 || !known[pair.ID1] || !known[pair.ID2] {
			o.logger.Debugf("ignoring similarity pair %d/%d", pair.ID1, pair.ID2)
			continue
		}
		if pair.Similarity < o.minScore {
			continue
		}
		candidates = append(candidates, dag.Candidate{A: pair.ID1, B: pair.ID2, Score: pair.Similarity})
	}
	o.logger.Infof("similarity search over %d nodes found %d candidate pairs", len(nodes), len(candidates))
	return candidates, nil
}

// ShouldMerge asks whether two specific nodes should be folded into one
func (o *SimilarityOracle) ShouldMerge(ctx context.Context, a, b *dag.Node) (bool, error) {
	var verdict mergeVerdict
	p := templates.PairPrompt{A: brief(a), B: brief(b)}
	if err := o.ask(ctx, "should_merge", templates.PromptShouldMerge, p, templates.ShouldMergeSchema, &verdict); err != nil {
		return false, err
	}
	o.logger.Debugf("merge %d/%d: %v (%s)", a.ID, b.ID, verdict.CanMerge, verdict.Reason)
	return verdict.CanMerge, nil
}

func brief(n *dag.Node) templates.NodeBrief {
	return templates.NodeBrief{ID: n.ID, Name: n.Name, Instruction: n.Instruction}
}
