/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package dag converts plan trees into directed acyclic graphs and merges
// equivalent nodes without ever introducing a cycle.
//
// Nodes live in an arena keyed by their integer id. Parent, child, dependency
// and source relations are id sets, and every structural change goes through
// Merge. Edges run from a parent to its children and from a node to the nodes
// it depends on; the graph formed by both kinds of edge must stay acyclic.
package dag

import (
	"fmt"
	"sort"

	"github.com/PivotLLM/Planwright/global"
)

// IDSet is a set of node ids
type IDSet map[int]struct{}

// NewIDSet creates a set holding ids
func NewIDSet(ids ...int) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id
func (s IDSet) Add(id int) { s[id] = struct{}{} }

// Remove deletes id
func (s IDSet) Remove(id int) { delete(s, id) }

// Has reports whether id is in the set
func (s IDSet) Has(id int) bool {
	_, ok := s[id]
	return ok
}

// Union adds every id of other
func (s IDSet) Union(other IDSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Replace swaps old for new if old is present
func (s IDSet) Replace(old, new int) {
	if s.Has(old) {
		delete(s, old)
		s[new] = struct{}{}
	}
}

// Sorted returns the ids in ascending order
func (s IDSet) Sorted() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Node is one vertex of the graph
type Node struct {
	ID          int
	Name        string
	Instruction string
	Position    int
	Sources     IDSet // task node ids folded into this node
	Parents     IDSet
	Children    IDSet
	Deps        IDSet
	Metadata    map[string]any
}

// DAG is the executable form of a plan
type DAG struct {
	PlanID      int
	Title       string
	Description string
	Metadata    map[string]any
	Merges      *MergeMap

	nodes map[int]*Node
}

// Build converts a plan tree into a DAG. Parent/child edges and explicit
// dependencies are copied verbatim. A parent or dependency that names a
// missing node is an error.
func Build(tree *global.PlanTree) (*DAG, error) {
	if tree == nil {
		return nil, fmt.Errorf("plan tree is nil")
	}

	d := &DAG{
		PlanID:      tree.ID,
		Title:       tree.Title,
		Description: tree.Description,
		Metadata:    copyMeta(tree.Metadata),
		Merges:      NewMergeMap(),
		nodes:       make(map[int]*Node, len(tree.Nodes)),
	}

	for _, tn := range tree.Nodes {
		if _, dup := d.nodes[tn.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %d", tn.ID)
		}
		d.nodes[tn.ID] = &Node{
			ID:          tn.ID,
			Name:        tn.Name,
			Instruction: tn.Instruction,
			Position:    tn.Position,
			Sources:     NewIDSet(tn.ID),
			Parents:     NewIDSet(),
			Children:    NewIDSet(),
			Deps:        NewIDSet(tn.Dependencies...),
			Metadata:    copyMeta(tn.Metadata),
		}
	}

	for _, tn := range tree.Nodes {
		n := d.nodes[tn.ID]
		if tn.ParentID != nil {
			parent, ok := d.nodes[*tn.ParentID]
			if !ok {
				return nil, fmt.Errorf("node %d references missing parent %d", tn.ID, *tn.ParentID)
			}
			n.Parents.Add(parent.ID)
			parent.Children.Add(n.ID)
		}
		for dep := range n.Deps {
			if _, ok := d.nodes[dep]; !ok {
				return nil, fmt.Errorf("node %d depends on missing node %d", tn.ID, dep)
			}
		}
	}

	return d, nil
}

// Node returns the node with the given id, or nil
func (d *DAG) Node(id int) *Node {
	return d.nodes[id]
}

// Len returns the number of nodes
func (d *DAG) Len() int {
	return len(d.nodes)
}

// IDs returns all node ids in ascending order
func (d *DAG) IDs() []int {
	ids := make([]int, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Nodes returns all nodes in ascending id order
func (d *DAG) Nodes() []*Node {
	ids := d.IDs()
	nodes := make([]*Node, len(ids))
	for i, id := range ids {
		nodes[i] = d.nodes[id]
	}
	return nodes
}

// Prerequisites returns the nodes that must be terminal before id may run:
// its explicit dependencies when it has any, otherwise its children.
func (d *DAG) Prerequisites(id int) []int {
	n := d.nodes[id]
	if n == nil {
		return nil
	}
	if len(n.Deps) > 0 {
		return n.Deps.Sorted()
	}
	return n.Children.Sorted()
}

// successors are the nodes reachable from n in one step
func (d *DAG) successors(n *Node, visit func(int)) {
	for id := range n.Children {
		visit(id)
	}
	for id := range n.Deps {
		visit(id)
	}
}

// Reachable reports whether to can be reached from from by following child
// and dependency edges. A node does not reach itself unless it is on a cycle.
func (d *DAG) Reachable(from, to int) bool {
	start := d.nodes[from]
	if start == nil || d.nodes[to] == nil {
		return false
	}

	visited := make(map[int]bool)
	queue := []int{}
	d.successors(start, func(id int) { queue = append(queue, id) })

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == to {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		if n := d.nodes[id]; n != nil {
			d.successors(n, func(next int) {
				if !visited[next] {
					queue = append(queue, next)
				}
			})
		}
	}
	return false
}

// FindCycle returns the ids of one cycle over child and dependency edges,
// or nil when the graph is acyclic.
func (d *DAG) FindCycle() []int {
	const (
		white = iota
		grey
		black
	)
	color := make(map[int]int, len(d.nodes))
	var stack []int
	var cycle []int

	var visit func(id int) bool
	visit = func(id int) bool {
		color[id] = grey
		stack = append(stack, id)

		n := d.nodes[id]
		next := make([]int, 0, len(n.Children)+len(n.Deps))
		d.successors(n, func(s int) { next = append(next, s) })
		sort.Ints(next)

		for _, s := range next {
			switch color[s] {
			case grey:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == s {
						cycle = append([]int(nil), stack[i:]...)
						break
					}
				}
				return true
			case white:
				if visit(s) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range d.IDs() {
		if color[id] == white && visit(id) {
			sort.Ints(cycle)
			return cycle
		}
	}
	return nil
}

// HasCycle reports whether any node can reach itself
func (d *DAG) HasCycle() bool {
	return d.FindCycle() != nil
}

func copyMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
