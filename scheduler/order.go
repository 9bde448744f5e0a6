/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package scheduler

import (
	"container/heap"
	"sort"

	"github.com/PivotLLM/Planwright/dag"
	"github.com/PivotLLM/Planwright/global"
)

// Order returns the execution order of d: every node appears after all of
// its prerequisites, and ties are broken by ascending id. A cycle is a
// ConfigurationError naming the nodes that could not be ordered.
func Order(d *dag.DAG) ([]int, error) {
	indegree := make(map[int]int, d.Len())
	dependents := make(map[int][]int, d.Len())
	for _, id := range d.IDs() {
		prereqs := d.Prerequisites(id)
		indegree[id] = len(prereqs)
		for _, p := range prereqs {
			dependents[p] = append(dependents[p], id)
		}
	}

	ready := &idHeap{}
	for _, id := range d.IDs() {
		if indegree[id] == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]int, 0, d.Len())
	for ready.Len() > 0 {
		id := heap.Pop(ready).(int)
		order = append(order, id)
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}

	if len(order) < d.Len() {
		var stuck []int
		for id, n := range indegree {
			if n > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Ints(stuck)
		return nil, &global.ConfigurationError{Reason: "dependency cycle", Nodes: stuck}
	}
	return order, nil
}

// dependentsOf returns every node that transitively requires id, in ascending order
func dependentsOf(d *dag.DAG, id int) []int {
	direct := make(map[int][]int, d.Len())
	for _, n := range d.IDs() {
		for _, p := range d.Prerequisites(n) {
			direct[p] = append(direct[p], n)
		}
	}

	seen := map[int]bool{id: true}
	queue := append([]int(nil), direct[id]...)
	var out []int
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
		queue = append(queue, direct[n]...)
	}
	sort.Ints(out)
	return out
}

type idHeap []int

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *idHeap) Push(x any) { *h = append(*h, x.(int)) }

func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
