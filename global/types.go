/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import (
	"sort"
	"time"
)

// NodeStatus is the persisted lifecycle state of a plan node
type NodeStatus string

// Node status values
const (
	StatusPending   NodeStatus = "pending"
	StatusRunning   NodeStatus = "running"
	StatusCompleted NodeStatus = "completed"
	StatusFailed    NodeStatus = "failed"
	StatusSkipped   NodeStatus = "skipped"
)

// IsTerminal reports whether a node in this state will not transition again within a run
func (s NodeStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// ExecutionMode is how a node is executed
type ExecutionMode string

// Execution modes
const (
	ModeCodeRequired ExecutionMode = "code_required" // generated code run in the sandbox
	ModeTextOnly     ExecutionMode = "text_only"     // direct text answer
	ModeDataSummary  ExecutionMode = "data_summary"  // profile the data with code, then answer in text
)

// ParseExecutionMode converts a string to an ExecutionMode
func ParseExecutionMode(s string) (ExecutionMode, bool) {
	switch ExecutionMode(s) {
	case ModeCodeRequired, ModeTextOnly, ModeDataSummary:
		return ExecutionMode(s), true
	}
	return "", false
}

// TaskNode is one node of a plan tree
type TaskNode struct {
	ID              int                  `json:"id" yaml:"id"`
	Name            string               `json:"name" yaml:"name"`
	Instruction     string               `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	ParentID        *int                 `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Position        int                  `json:"position" yaml:"position"`
	Dependencies    []int                `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Metadata        map[string]any       `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Status          NodeStatus           `json:"status,omitempty" yaml:"status,omitempty"`
	ExecutionResult *NodeExecutionRecord `json:"execution_result,omitempty" yaml:"-"`
	UpdatedAt       time.Time            `json:"updated_at,omitempty" yaml:"-"`
}

// Description returns the instruction, falling back to the name
func (n *TaskNode) Description() string {
	if n.Instruction != "" {
		return n.Instruction
	}
	return n.Name
}

// ForcedMode returns the execution mode forced through node metadata, if any
func (n *TaskNode) ForcedMode() (ExecutionMode, bool) {
	if n.Metadata == nil {
		return "", false
	}
	raw, ok := n.Metadata[MetaExecutionMode].(string)
	if !ok {
		return "", false
	}
	return ParseExecutionMode(raw)
}

// PlanTree is a persisted plan: a set of task nodes linked by parent ids and dependencies
type PlanTree struct {
	ID          int            `json:"id" yaml:"id,omitempty"`
	Title       string         `json:"title" yaml:"title"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Nodes       []TaskNode     `json:"nodes" yaml:"nodes"`
	CreatedAt   time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"-"`
}

// Node returns the node with the given id, or nil
func (t *PlanTree) Node(id int) *TaskNode {
	for i := range t.Nodes {
		if t.Nodes[i].ID == id {
			return &t.Nodes[i]
		}
	}
	return nil
}

// ChildrenOf returns the ids of the direct children of a node, ordered by position then id
func (t *PlanTree) ChildrenOf(id int) []int {
	var children []*TaskNode
	for i := range t.Nodes {
		if p := t.Nodes[i].ParentID; p != nil && *p == id {
			children = append(children, &t.Nodes[i])
		}
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].Position != children[j].Position {
			return children[i].Position < children[j].Position
		}
		return children[i].ID < children[j].ID
	})
	ids := make([]int, len(children))
	for i, c := range children {
		ids[i] = c.ID
	}
	return ids
}

// SortedIDs returns all node ids in ascending order
func (t *PlanTree) SortedIDs() []int {
	ids := make([]int, len(t.Nodes))
	for i := range t.Nodes {
		ids[i] = t.Nodes[i].ID
	}
	sort.Ints(ids)
	return ids
}

// PlanInfo is the list view of a plan
type PlanInfo struct {
	ID        int                `json:"id"`
	Title     string             `json:"title"`
	NodeCount int                `json:"node_count"`
	Counts    map[NodeStatus]int `json:"counts"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// CodeResponse is the reply shape of the code-generation collaborator
type CodeResponse struct {
	Code                  string `json:"code"`
	Description           string `json:"description"`
	HasVisualization      bool   `json:"has_visualization"`
	VisualizationPurpose  string `json:"visualization_purpose,omitempty"`
	VisualizationAnalysis string `json:"visualization_analysis,omitempty"`
}

// NodeExecutionRecord is the result of one attempt at a node
type NodeExecutionRecord struct {
	NodeID                int           `json:"node_id"`
	NodeName              string        `json:"node_name"`
	Status                NodeStatus    `json:"status"`
	Mode                  ExecutionMode `json:"mode,omitempty"`
	Code                  string        `json:"code,omitempty"`
	CodeDescription       string        `json:"code_description,omitempty"`
	Stdout                string        `json:"stdout,omitempty"`
	Stderr                string        `json:"stderr,omitempty"`
	TextResponse          string        `json:"text_response,omitempty"`
	Files                 []string      `json:"files,omitempty"`
	HasVisualization      bool          `json:"has_visualization,omitempty"`
	VisualizationPurpose  string        `json:"visualization_purpose,omitempty"`
	VisualizationAnalysis string        `json:"visualization_analysis,omitempty"`
	Error                 string        `json:"error,omitempty"`
	Attempts              int           `json:"attempts,omitempty"`
	StartedAt             time.Time     `json:"started_at"`
	CompletedAt           time.Time     `json:"completed_at"`
}

// ExecutionSummary aggregates the records of one run
type ExecutionSummary struct {
	PlanID     int                    `json:"plan_id"`
	PlanTitle  string                 `json:"plan_title"`
	Success    bool                   `json:"success"`
	Total      int                    `json:"total"`
	Completed  int                    `json:"completed"`
	Failed     int                    `json:"failed"`
	Skipped    int                    `json:"skipped"`
	Files      []string               `json:"files"`
	ReportPath string                 `json:"report_path"`
	Records    []*NodeExecutionRecord `json:"records,omitempty"`
}
