/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package dag

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PivotLLM/Planwright/global"
)

// ToTree converts the DAG back into a plan tree that can be stored as a new
// plan. Surviving node ids are kept. A node with several parents keeps the
// lowest as its tree parent; every other parent gets the node as an explicit
// dependency so it still runs after it. A parent that had no explicit
// dependencies also gets all of its children, since explicit dependencies
// replace children as its prerequisites.
func (d *DAG) ToTree() *global.PlanTree {
	tree := &global.PlanTree{
		Title:       d.Title + global.SimplifiedSuffix,
		Description: d.simplifiedDescription(),
		Metadata:    copyMeta(d.Metadata),
	}
	if tree.Metadata == nil {
		tree.Metadata = make(map[string]any)
	}
	mergeMap := make(map[string]int, d.Merges.Len())
	for removed, survivor := range d.Merges.Entries() {
		mergeMap[strconv.Itoa(removed)] = survivor
	}
	tree.Metadata[global.MetaMergeMap] = mergeMap
	tree.Metadata[global.MetaSourcePlanID] = d.PlanID
	tree.Metadata[global.MetaIsSimplified] = true

	extraDeps := make(map[int]IDSet)
	for _, n := range d.Nodes() {
		parents := n.Parents.Sorted()
		for _, extra := range parents[min(1, len(parents)):] {
			p := d.nodes[extra]
			deps, ok := extraDeps[extra]
			if !ok {
				deps = NewIDSet()
				if len(p.Deps) == 0 {
					deps.Union(p.Children)
				}
				extraDeps[extra] = deps
			}
			deps.Add(n.ID)
		}
	}

	for _, n := range d.Nodes() {
		tn := global.TaskNode{
			ID:          n.ID,
			Name:        n.Name,
			Instruction: n.Instruction,
			Position:    n.Position,
			Status:      global.StatusPending,
			Metadata:    copyMeta(n.Metadata),
		}
		if parents := n.Parents.Sorted(); len(parents) > 0 {
			parent := parents[0]
			tn.ParentID = &parent
		}

		deps := NewIDSet()
		deps.Union(n.Deps)
		deps.Union(extraDeps[n.ID])
		if len(deps) > 0 {
			tn.Dependencies = deps.Sorted()
		}

		if tn.Metadata == nil {
			tn.Metadata = make(map[string]any)
		}
		tn.Metadata[global.MetaSourceNodeIDs] = n.Sources.Sorted()
		tn.Metadata[global.MetaParentIDs] = n.Parents.Sorted()
		tn.Metadata[global.MetaChildIDs] = n.Children.Sorted()

		tree.Nodes = append(tree.Nodes, tn)
	}

	return tree
}

func (d *DAG) simplifiedDescription() string {
	var b strings.Builder
	if d.Description != "" {
		b.WriteString(d.Description)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Simplified from plan %d: %d nodes, %d merged into existing nodes.",
		d.PlanID, d.Len()+d.Merges.Len(), d.Merges.Len())
	return b.String()
}
