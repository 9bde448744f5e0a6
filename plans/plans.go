/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package plans stores plan trees as JSON files, one per plan, guarded by
// file locks so that concurrent runs and tool calls never lose an update.
package plans

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/logging"
	"github.com/PivotLLM/Planwright/templates"
)

// planFileRegex matches plan file names and captures the id
var planFileRegex = regexp.MustCompile(`^plan-(\d+)\.json$`)

// Repository provides plan storage operations
type Repository struct {
	dir       string
	logger    *logging.Logger
	validator *templates.Validator
}

// New creates a repository storing plans in dir
func New(dir string, logger *logging.Logger) *Repository {
	return &Repository{
		dir:       dir,
		logger:    logger,
		validator: templates.New(),
	}
}

// Dir returns the plans directory
func (r *Repository) Dir() string {
	return r.dir
}

func (r *Repository) planPath(planID int) string {
	return filepath.Join(r.dir, fmt.Sprintf(global.PlanFilePattern, planID))
}

// withLock executes fn while holding the lock file at lockPath
func (r *Repository) withLock(lockPath string, fn func() error) error {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("failed to create plans directory: %w", err)
	}

	lock := flock.New(lockPath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	return fn()
}

func (r *Repository) withPlanLock(planID int, fn func() error) error {
	return r.withLock(r.planPath(planID)+global.PlanLockSuffix, fn)
}

// load reads a plan from disk
func (r *Repository) load(planID int) (*global.PlanTree, error) {
	var tree global.PlanTree
	if err := global.ReadJSON(r.planPath(planID), &tree); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("plan not found: %d", planID)
		}
		return nil, fmt.Errorf("failed to read plan %d: %w", planID, err)
	}
	if tree.Nodes == nil {
		tree.Nodes = []global.TaskNode{}
	}
	return &tree, nil
}

// save writes a plan to disk atomically
func (r *Repository) save(tree *global.PlanTree) error {
	if tree.Nodes == nil {
		tree.Nodes = []global.TaskNode{}
	}
	if err := global.WriteJSON(r.planPath(tree.ID), tree); err != nil {
		return fmt.Errorf("failed to save plan %d: %w", tree.ID, err)
	}
	return nil
}

// planIDs returns the ids of all stored plans in ascending order
func (r *Repository) planIDs() ([]int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plans directory: %w", err)
	}

	var ids []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := planFileRegex.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// CreatePlan stores a new plan with the next free id. Nodes without an id are
// numbered after the highest given id. Every node starts pending.
func (r *Repository) CreatePlan(title, description string, metadata map[string]any, nodes []global.TaskNode) (*global.PlanTree, error) {
	if title == "" {
		return nil, fmt.Errorf("title cannot be empty")
	}

	normalized, err := normalizeNodes(nodes)
	if err != nil {
		return nil, err
	}

	var tree *global.PlanTree
	err = r.withLock(filepath.Join(r.dir, global.PlansIndexLockName), func() error {
		ids, err := r.planIDs()
		if err != nil {
			return err
		}
		next := 1
		if len(ids) > 0 {
			next = ids[len(ids)-1] + 1
		}

		now := time.Now().UTC()
		tree = &global.PlanTree{
			ID:          next,
			Title:       title,
			Description: description,
			Metadata:    metadata,
			Nodes:       normalized,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		for i := range tree.Nodes {
			tree.Nodes[i].Status = global.StatusPending
			tree.Nodes[i].ExecutionResult = nil
			tree.Nodes[i].UpdatedAt = now
		}
		return r.withPlanLock(next, func() error {
			return r.save(tree)
		})
	})
	if err != nil {
		return nil, err
	}

	r.logger.Infof("Created plan: id=%d title=%q nodes=%d", tree.ID, tree.Title, len(tree.Nodes))
	return tree, nil
}

// GetPlanTree retrieves a plan by id
func (r *Repository) GetPlanTree(planID int) (*global.PlanTree, error) {
	var tree *global.PlanTree
	err := r.withPlanLock(planID, func() error {
		var err error
		tree, err = r.load(planID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tree, nil
}

// ListPlans lists all plans in ascending id order. Unreadable plan files are
// logged and skipped.
func (r *Repository) ListPlans() ([]*global.PlanInfo, error) {
	ids, err := r.planIDs()
	if err != nil {
		return nil, err
	}

	infos := []*global.PlanInfo{}
	for _, id := range ids {
		tree, err := r.GetPlanTree(id)
		if err != nil {
			r.logger.Warnf("Failed to load plan %d: %v", id, err)
			continue
		}
		infos = append(infos, Info(tree))
	}
	return infos, nil
}

// Info returns the list view of a plan
func Info(tree *global.PlanTree) *global.PlanInfo {
	info := &global.PlanInfo{
		ID:        tree.ID,
		Title:     tree.Title,
		NodeCount: len(tree.Nodes),
		Counts:    make(map[global.NodeStatus]int),
		UpdatedAt: tree.UpdatedAt,
	}
	for _, n := range tree.Nodes {
		status := n.Status
		if status == "" {
			status = global.StatusPending
		}
		info.Counts[status]++
	}
	return info
}

// UpdateTask sets the status of a node and, when record is not nil, its
// execution record
func (r *Repository) UpdateTask(planID, taskID int, status global.NodeStatus, record *global.NodeExecutionRecord) error {
	return r.withPlanLock(planID, func() error {
		tree, err := r.load(planID)
		if err != nil {
			return err
		}
		node := tree.Node(taskID)
		if node == nil {
			return fmt.Errorf("task not found: plan=%d id=%d", planID, taskID)
		}

		now := time.Now().UTC()
		node.Status = status
		if record != nil {
			node.ExecutionResult = record
		}
		node.UpdatedAt = now
		tree.UpdatedAt = now

		if err := r.save(tree); err != nil {
			return err
		}
		r.logger.Debugf("Updated task: plan=%d id=%d status=%s", planID, taskID, status)
		return nil
	})
}

// CreateTask appends a node to a plan. A zero id is replaced by the next free id.
func (r *Repository) CreateTask(planID int, node global.TaskNode) (*global.TaskNode, error) {
	if node.Name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}

	var created global.TaskNode
	err := r.withPlanLock(planID, func() error {
		tree, err := r.load(planID)
		if err != nil {
			return err
		}

		if node.ID == 0 {
			node.ID = nextNodeID(tree.Nodes)
		}
		node.Status = global.StatusPending
		node.ExecutionResult = nil

		nodes, err := normalizeNodes(append(append([]global.TaskNode(nil), tree.Nodes...), node))
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		created = nodes[len(nodes)-1]
		created.UpdatedAt = now
		tree.Nodes = append(tree.Nodes, created)
		tree.UpdatedAt = now
		return r.save(tree)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Infof("Created task: plan=%d id=%d name=%q", planID, created.ID, created.Name)
	return &created, nil
}

// ResetPlan puts every node back to pending and clears its record. It returns
// the updated plan and the number of nodes that changed.
func (r *Repository) ResetPlan(planID int) (*global.PlanTree, int, error) {
	var tree *global.PlanTree
	reset := 0
	err := r.withPlanLock(planID, func() error {
		var err error
		tree, err = r.load(planID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for i := range tree.Nodes {
			n := &tree.Nodes[i]
			if n.Status == global.StatusPending && n.ExecutionResult == nil {
				continue
			}
			n.Status = global.StatusPending
			n.ExecutionResult = nil
			n.UpdatedAt = now
			reset++
		}
		tree.UpdatedAt = now
		return r.save(tree)
	})
	if err != nil {
		return nil, 0, err
	}

	r.logger.Infof("Reset plan: id=%d nodes=%d", planID, reset)
	return tree, reset, nil
}

// normalizeNodes assigns missing ids and statuses and checks that ids are
// unique and that parents and dependencies exist
func normalizeNodes(nodes []global.TaskNode) ([]global.TaskNode, error) {
	out := make([]global.TaskNode, len(nodes))
	copy(out, nodes)

	next := nextNodeID(out)
	seen := make(map[int]bool, len(out))
	for i := range out {
		n := &out[i]
		if n.Name == "" {
			return nil, fmt.Errorf("node %d has no name", i+1)
		}
		if n.ID == 0 {
			n.ID = next
			next++
		}
		if n.ID < 0 {
			return nil, fmt.Errorf("node %q has a negative id", n.Name)
		}
		if seen[n.ID] {
			return nil, fmt.Errorf("duplicate node id %d", n.ID)
		}
		seen[n.ID] = true
		if n.Status == "" {
			n.Status = global.StatusPending
		}
	}

	for _, n := range out {
		if n.ParentID != nil {
			if *n.ParentID == n.ID {
				return nil, fmt.Errorf("node %d is its own parent", n.ID)
			}
			if !seen[*n.ParentID] {
				return nil, fmt.Errorf("node %d references missing parent %d", n.ID, *n.ParentID)
			}
		}
		for _, dep := range n.Dependencies {
			if dep == n.ID {
				return nil, fmt.Errorf("node %d depends on itself", n.ID)
			}
			if !seen[dep] {
				return nil, fmt.Errorf("node %d depends on missing node %d", n.ID, dep)
			}
		}
	}
	return out, nil
}

func nextNodeID(nodes []global.TaskNode) int {
	highest := 0
	for _, n := range nodes {
		if n.ID > highest {
			highest = n.ID
		}
	}
	return highest + 1
}
