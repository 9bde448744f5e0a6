/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package plans

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/logging"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "plans"), logging.NewWriter(io.Discard))
}

func ptr(i int) *int { return &i }

func sampleNodes() []global.TaskNode {
	return []global.TaskNode{
		{ID: 1, Name: "Analyze sales"},
		{ID: 2, Name: "Load data", ParentID: ptr(1)},
		{Name: "Plot trend", ParentID: ptr(1), Dependencies: []int{2}},
	}
}

func TestCreatePlan(t *testing.T) {
	repo := newRepo(t)

	tree, err := repo.CreatePlan("Sales", "quarterly", map[string]any{"owner": "ops"}, sampleNodes())
	if err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}
	if tree.ID != 1 || len(tree.Nodes) != 3 {
		t.Fatalf("tree = %+v", tree)
	}
	if tree.Nodes[2].ID != 3 {
		t.Errorf("unnumbered node got id %d, want 3", tree.Nodes[2].ID)
	}
	for _, n := range tree.Nodes {
		if n.Status != global.StatusPending {
			t.Errorf("node %d status = %s", n.ID, n.Status)
		}
	}
	if !global.FileExists(filepath.Join(repo.Dir(), "plan-1.json")) {
		t.Error("plan file was not written")
	}

	second, err := repo.CreatePlan("Other", "", nil, []global.TaskNode{{Name: "only"}})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != 2 || second.Nodes[0].ID != 1 {
		t.Errorf("second plan = %+v", second)
	}

	got, err := repo.GetPlanTree(1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Sales" || got.Metadata["owner"] != "ops" || *got.Nodes[1].ParentID != 1 {
		t.Errorf("GetPlanTree() = %+v", got)
	}
}

func TestCreatePlanResetsImportedState(t *testing.T) {
	repo := newRepo(t)
	nodes := []global.TaskNode{{ID: 1, Name: "a", Status: global.StatusCompleted, ExecutionResult: &global.NodeExecutionRecord{NodeID: 1}}}

	tree, err := repo.CreatePlan("T", "", nil, nodes)
	if err != nil {
		t.Fatal(err)
	}
	if tree.Nodes[0].Status != global.StatusPending || tree.Nodes[0].ExecutionResult != nil {
		t.Errorf("node = %+v", tree.Nodes[0])
	}
}

func TestCreatePlanValidation(t *testing.T) {
	tests := []struct {
		name  string
		title string
		nodes []global.TaskNode
		want  string
	}{
		{"empty title", "", sampleNodes(), "title cannot be empty"},
		{"missing parent", "T", []global.TaskNode{{ID: 1, Name: "a", ParentID: ptr(5)}}, "missing parent 5"},
		{"missing dependency", "T", []global.TaskNode{{ID: 1, Name: "a", Dependencies: []int{9}}}, "missing node 9"},
		{"duplicate id", "T", []global.TaskNode{{ID: 1, Name: "a"}, {ID: 1, Name: "b"}}, "duplicate node id 1"},
		{"self parent", "T", []global.TaskNode{{ID: 1, Name: "a", ParentID: ptr(1)}}, "its own parent"},
		{"self dependency", "T", []global.TaskNode{{ID: 1, Name: "a", Dependencies: []int{1}}}, "depends on itself"},
		{"no name", "T", []global.TaskNode{{ID: 1}}, "has no name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newRepo(t).CreatePlan(tt.title, "", nil, tt.nodes)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("CreatePlan() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestGetPlanTreeNotFound(t *testing.T) {
	if _, err := newRepo(t).GetPlanTree(42); err == nil || !strings.Contains(err.Error(), "plan not found") {
		t.Errorf("GetPlanTree() error = %v", err)
	}
}

func TestUpdateTask(t *testing.T) {
	repo := newRepo(t)
	tree, err := repo.CreatePlan("Sales", "", nil, sampleNodes())
	if err != nil {
		t.Fatal(err)
	}

	rec := &global.NodeExecutionRecord{NodeID: 2, NodeName: "Load data", Status: global.StatusCompleted, Stdout: "rows=10", Files: []string{"results/a.csv"}}
	if err := repo.UpdateTask(tree.ID, 2, global.StatusCompleted, rec); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	// a status-only update keeps the record
	if err := repo.UpdateTask(tree.ID, 2, global.StatusRunning, nil); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetPlanTree(tree.ID)
	if err != nil {
		t.Fatal(err)
	}
	n := got.Node(2)
	if n.Status != global.StatusRunning || n.ExecutionResult == nil || n.ExecutionResult.Stdout != "rows=10" {
		t.Errorf("node = %+v", n)
	}

	if err := repo.UpdateTask(tree.ID, 99, global.StatusCompleted, nil); err == nil {
		t.Error("updating a missing task should fail")
	}
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	repo := newRepo(t)
	var nodes []global.TaskNode
	for i := 1; i <= 20; i++ {
		nodes = append(nodes, global.TaskNode{ID: i, Name: fmt.Sprintf("n%d", i)})
	}
	tree, err := repo.CreatePlan("Many", "", nil, nodes)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(nodes))
	for _, n := range nodes {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			errs <- repo.UpdateTask(tree.ID, id, global.StatusCompleted, &global.NodeExecutionRecord{NodeID: id})
		}(n.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.GetPlanTree(tree.ID)
	if err != nil {
		t.Fatal(err)
	}
	if c := Info(got).Counts[global.StatusCompleted]; c != len(nodes) {
		t.Errorf("completed = %d, want %d", c, len(nodes))
	}
}

func TestCreateTask(t *testing.T) {
	repo := newRepo(t)
	tree, err := repo.CreatePlan("Sales", "", nil, sampleNodes())
	if err != nil {
		t.Fatal(err)
	}

	created, err := repo.CreateTask(tree.ID, global.TaskNode{Name: "Summarize", ParentID: ptr(1), Dependencies: []int{3}})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if created.ID != 4 || created.Status != global.StatusPending {
		t.Errorf("created = %+v", created)
	}

	if _, err := repo.CreateTask(tree.ID, global.TaskNode{Name: "bad", Dependencies: []int{77}}); err == nil {
		t.Error("a dependency on a missing node should fail")
	}
	if _, err := repo.CreateTask(tree.ID, global.TaskNode{ID: 2, Name: "dup"}); err == nil {
		t.Error("a duplicate id should fail")
	}

	got, err := repo.GetPlanTree(tree.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Nodes) != 4 {
		t.Errorf("nodes = %d", len(got.Nodes))
	}
}

func TestResetPlan(t *testing.T) {
	repo := newRepo(t)
	tree, err := repo.CreatePlan("Sales", "", nil, sampleNodes())
	if err != nil {
		t.Fatal(err)
	}
	_ = repo.UpdateTask(tree.ID, 1, global.StatusFailed, &global.NodeExecutionRecord{NodeID: 1, Error: "boom"})
	_ = repo.UpdateTask(tree.ID, 2, global.StatusRunning, nil)

	got, n, err := repo.ResetPlan(tree.ID)
	if err != nil {
		t.Fatalf("ResetPlan() error = %v", err)
	}
	if n != 2 {
		t.Errorf("reset %d nodes, want 2", n)
	}
	for _, node := range got.Nodes {
		if node.Status != global.StatusPending || node.ExecutionResult != nil {
			t.Errorf("node = %+v", node)
		}
	}
}

func TestListPlans(t *testing.T) {
	repo := newRepo(t)
	if infos, err := repo.ListPlans(); err != nil || len(infos) != 0 {
		t.Fatalf("ListPlans() on an empty store = %v, %v", infos, err)
	}

	for _, title := range []string{"A", "B"} {
		if _, err := repo.CreatePlan(title, "", nil, sampleNodes()); err != nil {
			t.Fatal(err)
		}
	}
	_ = repo.UpdateTask(2, 1, global.StatusCompleted, nil)
	if err := os.WriteFile(filepath.Join(repo.Dir(), "plan-9.json"), []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo.Dir(), "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	infos, err := repo.ListPlans()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 || infos[0].Title != "A" || infos[1].ID != 2 {
		t.Fatalf("ListPlans() = %+v", infos)
	}
	if infos[1].Counts[global.StatusCompleted] != 1 || infos[1].Counts[global.StatusPending] != 2 || infos[1].NodeCount != 3 {
		t.Errorf("counts = %+v", infos[1].Counts)
	}

	// the broken file still reserves its id
	next, err := repo.CreatePlan("C", "", nil, sampleNodes())
	if err != nil {
		t.Fatal(err)
	}
	if next.ID != 10 {
		t.Errorf("next id = %d, want 10", next.ID)
	}
}

func TestImportYAML(t *testing.T) {
	repo := newRepo(t)
	path := filepath.Join(t.TempDir(), "plan.yaml")
	doc := `title: Churn analysis
description: Why customers leave
metadata:
  team: growth
nodes:
  - id: 1
    name: Report
  - id: 2
    name: Load customers
    parent_id: 1
    metadata:
      execution_mode: code_required
  - id: 3
    name: Explain churn
    parent_id: 1
    dependencies: [2]
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	tree, err := repo.Import(path)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if tree.Title != "Churn analysis" || len(tree.Nodes) != 3 {
		t.Fatalf("tree = %+v", tree)
	}
	if tree.Metadata["team"] != "growth" || tree.Metadata[global.MetaImportSource] != "plan.yaml" {
		t.Errorf("metadata = %v", tree.Metadata)
	}
	if id, _ := tree.Metadata[global.MetaImportID].(string); len(id) != 36 {
		t.Errorf("import id = %q", id)
	}
	if mode, ok := tree.Node(2).ForcedMode(); !ok || mode != global.ModeCodeRequired {
		t.Errorf("forced mode = %q, %v", mode, ok)
	}
	if fmt.Sprint(tree.Node(3).Dependencies) != "[2]" {
		t.Errorf("dependencies = %v", tree.Node(3).Dependencies)
	}
}

func TestImportJSONFile(t *testing.T) {
	repo := newRepo(t)
	path := filepath.Join(t.TempDir(), "plan.json")
	doc := `{"title": "T", "nodes": [{"name": "a"}, {"name": "b", "dependencies": [1]}]}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	tree, err := repo.Import(path)
	if err != nil {
		t.Fatal(err)
	}
	if tree.Nodes[0].ID != 1 || tree.Nodes[1].ID != 2 {
		t.Errorf("ids = %d, %d", tree.Nodes[0].ID, tree.Nodes[1].ID)
	}
}

func TestImportRejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		doc  string
		want string
	}{
		{"schema", "p.json", `{"title": "T", "nodes": []}`, "invalid plan document"},
		{"missing title", "p.json", `{"nodes": [{"name": "a"}]}`, "invalid plan document"},
		{"bad yaml", "p.yml", "title: [unterminated", "failed to parse"},
		{"extension", "p.txt", `{}`, "unsupported plan file type"},
		{"dangling parent", "p.json", `{"title": "T", "nodes": [{"id": 1, "name": "a", "parent_id": 4}]}`, "missing parent 4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepo(t)
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.doc), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := repo.Import(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Import() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestImportDocument(t *testing.T) {
	repo := newRepo(t)
	doc := "title: Inline\nnodes:\n  - name: load\n  - name: plot\n    dependencies: [1]\n"

	tree, err := repo.ImportDocument([]byte(doc), "yaml", "inline")
	if err != nil {
		t.Fatalf("ImportDocument failed: %v", err)
	}
	if tree.Title != "Inline" || len(tree.Nodes) != 2 {
		t.Errorf("unexpected plan: %+v", tree)
	}
	if tree.Metadata[global.MetaImportSource] != "inline" {
		t.Errorf("expected import source inline, got %v", tree.Metadata[global.MetaImportSource])
	}

	if _, err := repo.ImportDocument([]byte(doc), "", "inline"); err == nil {
		t.Error("expected an error without a format")
	}
}
