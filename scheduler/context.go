/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package scheduler

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PivotLLM/Planwright/global"
)

// dependencyContext concatenates an excerpt of every completed prerequisite
// and every completed child of id. Failed and skipped nodes contribute
// nothing.
func (r *run) dependencyContext(id int) string {
	var b strings.Builder
	seen := make(map[int]bool)

	add := func(kind string, dep int) {
		if seen[dep] {
			return
		}
		seen[dep] = true
		if r.states.get(dep) != global.StatusCompleted {
			return
		}
		rec := r.record(dep)
		node := r.tree.Node(dep)
		if rec == nil || node == nil {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		writeExcerpt(&b, kind, node, rec, r.s.excerptLimit)
	}

	for _, dep := range r.dag.Prerequisites(id) {
		add("Dependency", dep)
	}
	for _, child := range r.tree.ChildrenOf(id) {
		add("Subtask", child)
	}
	return b.String()
}

func writeExcerpt(b *strings.Builder, kind string, node *global.TaskNode, rec *global.NodeExecutionRecord, limit int) {
	fmt.Fprintf(b, "### %s [%d] %s\n", kind, node.ID, node.Name)
	fmt.Fprintf(b, "Description: %s\n", node.Description())
	if rec.CodeDescription != "" {
		fmt.Fprintf(b, "Approach: %s\n", rec.CodeDescription)
	}
	if out := strings.TrimSpace(rec.Stdout); out != "" {
		fmt.Fprintf(b, "Output:\n%s\n", truncate(out, limit))
	}
	if answer := strings.TrimSpace(rec.TextResponse); answer != "" {
		fmt.Fprintf(b, "Answer:\n%s\n", truncate(answer, limit))
	}
	if rec.HasVisualization && rec.VisualizationAnalysis != "" {
		fmt.Fprintf(b, "Visualization: %s\n", truncate(rec.VisualizationAnalysis, limit))
	}
	if len(rec.Files) > 0 {
		fmt.Fprintf(b, "Files: %s\n", strings.Join(rec.Files, ", "))
	}
}

// truncate cuts s to at most limit bytes on a rune boundary
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... (truncated)"
}
