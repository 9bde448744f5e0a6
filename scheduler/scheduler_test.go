/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PivotLLM/Planwright/dag"
	"github.com/PivotLLM/Planwright/global"
)

type update struct {
	taskID int
	status global.NodeStatus
}

type fakeStore struct {
	mu      sync.Mutex
	updates []update
	err     error
}

func (s *fakeStore) UpdateTask(_, taskID int, status global.NodeStatus, _ *global.NodeExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update{taskID, status})
	return s.err
}

func (s *fakeStore) statuses(id int) []global.NodeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []global.NodeStatus
	for _, u := range s.updates {
		if u.taskID == id {
			out = append(out, u.status)
		}
	}
	return out
}

// fakeRunner completes every node except those in fail, and persists the
// final record like the real executor does
type fakeRunner struct {
	mu       sync.Mutex
	store    *fakeStore
	fail     map[int]bool
	stdout   map[int]string
	contexts map[int]string
	calls    []int
	hook     func(id int) error
}

func newRunner(store *fakeStore) *fakeRunner {
	return &fakeRunner{store: store, fail: map[int]bool{}, stdout: map[int]string{}, contexts: map[int]string{}}
}

func (f *fakeRunner) Run(_ context.Context, node *global.TaskNode, depContext string) (*global.NodeExecutionRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, node.ID)
	f.contexts[node.ID] = depContext
	out, ok := f.stdout[node.ID]
	f.mu.Unlock()
	if !ok {
		out = "out-" + node.Name
	}

	if f.hook != nil {
		if err := f.hook(node.ID); err != nil {
			return nil, err
		}
	}

	rec := &global.NodeExecutionRecord{NodeID: node.ID, NodeName: node.Name, Status: global.StatusCompleted, Stdout: out, Attempts: 1}
	if f.fail[node.ID] {
		rec.Status = global.StatusFailed
		rec.Error = "boom"
		rec.Attempts = global.DefaultMaxAttempts
		rec.Stdout = ""
	}
	if err := f.store.UpdateTask(1, node.ID, rec.Status, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func ptr(i int) *int { return &i }

func plan(nodes ...global.TaskNode) *global.PlanTree {
	return &global.PlanTree{ID: 1, Title: "test plan", Nodes: nodes}
}

// chain is A <- B <- C through explicit dependencies
func chain() *global.PlanTree {
	return plan(
		global.TaskNode{ID: 1, Name: "A"},
		global.TaskNode{ID: 2, Name: "B", Dependencies: []int{1}},
		global.TaskNode{ID: 3, Name: "C", Dependencies: []int{2}},
	)
}

func order(t *testing.T, tree *global.PlanTree) ([]int, error) {
	t.Helper()
	d, err := dag.Build(tree)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return Order(d)
}

func TestOrderChildrenBeforeParents(t *testing.T) {
	got, err := order(t, plan(
		global.TaskNode{ID: 1, Name: "root"},
		global.TaskNode{ID: 2, Name: "a", ParentID: ptr(1)},
		global.TaskNode{ID: 3, Name: "b", ParentID: ptr(1)},
		global.TaskNode{ID: 4, Name: "b1", ParentID: ptr(3)},
	))
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(got) != "[2 4 3 1]" {
		t.Errorf("Order() = %v", got)
	}
}

func TestOrderExplicitDependenciesTakePrecedence(t *testing.T) {
	got, err := order(t, plan(
		global.TaskNode{ID: 1, Name: "report", Dependencies: []int{2}},
		global.TaskNode{ID: 2, Name: "load"},
		global.TaskNode{ID: 3, Name: "child of report", ParentID: ptr(1), Dependencies: []int{1}},
	))
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(got) != "[2 1 3]" {
		t.Errorf("Order() = %v", got)
	}
}

func TestOrderCycleIsConfigurationError(t *testing.T) {
	_, err := order(t, plan(
		global.TaskNode{ID: 1, Name: "a", Dependencies: []int{2}},
		global.TaskNode{ID: 2, Name: "b", Dependencies: []int{1}},
		global.TaskNode{ID: 3, Name: "free"},
	))
	var cfg *global.ConfigurationError
	if !errors.As(err, &cfg) {
		t.Fatalf("Order() error = %v", err)
	}
	if fmt.Sprint(cfg.Nodes) != "[1 2]" {
		t.Errorf("Nodes = %v", cfg.Nodes)
	}
}

func TestOrderIsTopologicalOnRandomPlans(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		n := 2 + rng.Intn(10)
		var nodes []global.TaskNode
		for id := 1; id <= n; id++ {
			node := global.TaskNode{ID: id, Name: fmt.Sprintf("n%d", id)}
			if id > 1 && rng.Intn(2) == 0 {
				node.ParentID = ptr(1 + rng.Intn(id-1))
			}
			for dep := 1; dep <= n; dep++ {
				if dep != id && rng.Intn(6) == 0 {
					node.Dependencies = append(node.Dependencies, dep)
				}
			}
			nodes = append(nodes, node)
		}
		d, err := dag.Build(plan(nodes...))
		if err != nil {
			t.Fatal(err)
		}
		got, err := Order(d)
		var cfg *global.ConfigurationError
		if errors.As(err, &cfg) {
			continue
		}
		if err != nil {
			t.Fatal(err)
		}

		pos := make(map[int]int, len(got))
		for i, id := range got {
			pos[id] = i
		}
		if len(pos) != n {
			t.Fatalf("round %d: order %v does not cover %d nodes", round, got, n)
		}
		for _, id := range d.IDs() {
			for _, p := range d.Prerequisites(id) {
				if pos[p] >= pos[id] {
					t.Fatalf("round %d: prerequisite %d of %d comes later in %v", round, p, id, got)
				}
			}
		}
	}
}

func TestFailedPrerequisiteDoesNotBlock(t *testing.T) {
	store := &fakeStore{}
	runner := newRunner(store)
	runner.fail[1] = true

	res, err := New(runner, store).Run(context.Background(), chain())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Count(global.StatusFailed) != 1 || res.Count(global.StatusCompleted) != 2 {
		t.Errorf("failed = %d, completed = %d", res.Count(global.StatusFailed), res.Count(global.StatusCompleted))
	}
	if fmt.Sprint(runner.calls) != "[1 2 3]" {
		t.Errorf("calls = %v", runner.calls)
	}
	if runner.contexts[2] != "" {
		t.Errorf("B should get no context from a failed A, got %q", runner.contexts[2])
	}
	if !strings.Contains(runner.contexts[3], "### Dependency [2] B") || !strings.Contains(runner.contexts[3], "out-B") {
		t.Errorf("C context = %q", runner.contexts[3])
	}
	if got := store.statuses(1); fmt.Sprint(got) != "[running failed]" {
		t.Errorf("A updates = %v", got)
	}
}

func TestStrictPolicySkipsDependents(t *testing.T) {
	store := &fakeStore{}
	runner := newRunner(store)
	runner.fail[1] = true

	res, err := New(runner, store, WithFailurePolicy(global.FailurePolicyStrict)).Run(context.Background(), chain())
	if err != nil {
		t.Fatal(err)
	}
	if res.Count(global.StatusFailed) != 1 || res.Count(global.StatusSkipped) != 2 {
		t.Errorf("records = %+v", res.Records)
	}
	if fmt.Sprint(runner.calls) != "[1]" {
		t.Errorf("calls = %v", runner.calls)
	}
	for _, id := range []int{2, 3} {
		if got := store.statuses(id); fmt.Sprint(got) != "[skipped]" {
			t.Errorf("node %d updates = %v", id, got)
		}
	}
	if res.Records[2].Error != "prerequisite 1 did not complete" {
		t.Errorf("skip reason = %q", res.Records[2].Error)
	}
}

func TestStrictPolicyAppliesToResumedFailures(t *testing.T) {
	tree := chain()
	tree.Nodes[0].Status = global.StatusFailed
	tree.Nodes[0].ExecutionResult = &global.NodeExecutionRecord{NodeID: 1, NodeName: "A", Status: global.StatusFailed}
	store := &fakeStore{}
	runner := newRunner(store)

	res, err := New(runner, store, WithFailurePolicy(global.FailurePolicyStrict)).Run(context.Background(), tree)
	if err != nil {
		t.Fatal(err)
	}
	if len(runner.calls) != 0 || res.Count(global.StatusSkipped) != 2 {
		t.Errorf("calls = %v, records = %+v", runner.calls, res.Records)
	}
}

func TestInterruptedNodeRunsAgain(t *testing.T) {
	tree := chain()
	tree.Nodes[0].Status = global.StatusCompleted
	tree.Nodes[0].ExecutionResult = &global.NodeExecutionRecord{NodeID: 1, NodeName: "A", Status: global.StatusCompleted, Stdout: "cached A"}
	tree.Nodes[1].Status = global.StatusRunning
	store := &fakeStore{}
	runner := newRunner(store)

	res, err := New(runner, store).Run(context.Background(), tree)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(runner.calls) != "[2 3]" || fmt.Sprint(res.Executed) != "[2 3]" {
		t.Errorf("calls = %v, executed = %v", runner.calls, res.Executed)
	}
	if !strings.Contains(runner.contexts[2], "cached A") {
		t.Errorf("B context should carry the reloaded record of A, got %q", runner.contexts[2])
	}
	if res.Count(global.StatusCompleted) != 3 {
		t.Errorf("records = %+v", res.Records)
	}
}

func TestCompletedPlanIsNotRunAgain(t *testing.T) {
	store := &fakeStore{}
	runner := newRunner(store)
	tree := chain()

	first, err := New(runner, store).Run(context.Background(), tree)
	if err != nil {
		t.Fatal(err)
	}
	// the store would hand back what was persisted
	for i := range tree.Nodes {
		tree.Nodes[i].Status = first.Records[i].Status
		tree.Nodes[i].ExecutionResult = first.Records[i]
	}
	calls := len(runner.calls)

	second, err := New(runner, store).Run(context.Background(), tree)
	if err != nil {
		t.Fatal(err)
	}
	if len(runner.calls) != calls || len(second.Executed) != 0 {
		t.Errorf("second run executed %v", second.Executed)
	}
	for i := range first.Records {
		if first.Records[i] != second.Records[i] {
			t.Errorf("record %d changed between runs", i)
		}
	}
}

func TestDependencyContextIncludesChildren(t *testing.T) {
	store := &fakeStore{}
	runner := newRunner(store)
	runner.stdout[2] = strings.Repeat("x", 50)

	tree := plan(
		global.TaskNode{ID: 1, Name: "summary", Instruction: "summarize"},
		global.TaskNode{ID: 2, Name: "stats", ParentID: ptr(1), Position: 1},
		global.TaskNode{ID: 3, Name: "plot", ParentID: ptr(1), Position: 0},
	)
	if _, err := New(runner, store, WithExcerptLimit(10)).Run(context.Background(), tree); err != nil {
		t.Fatal(err)
	}
	got := runner.contexts[1]
	if !strings.Contains(got, "### Dependency [2] stats") || !strings.Contains(got, "### Dependency [3] plot") {
		t.Errorf("context = %q", got)
	}
	if !strings.Contains(got, "xxxxxxxxxx\n... (truncated)") || strings.Contains(got, strings.Repeat("x", 11)) {
		t.Errorf("excerpt was not truncated: %q", got)
	}
	if fmt.Sprint(runner.calls) != "[2 3 1]" {
		t.Errorf("calls = %v", runner.calls)
	}
}

func TestSubtaskContextWithExplicitDependencies(t *testing.T) {
	store := &fakeStore{}
	runner := newRunner(store)
	tree := plan(
		global.TaskNode{ID: 1, Name: "load"},
		global.TaskNode{ID: 2, Name: "figure", ParentID: ptr(3), Dependencies: []int{1}},
		global.TaskNode{ID: 3, Name: "report", Dependencies: []int{1}},
	)
	if _, err := New(runner, store).Run(context.Background(), tree); err != nil {
		t.Fatal(err)
	}
	got := runner.contexts[3]
	if !strings.Contains(got, "### Dependency [1] load") || !strings.Contains(got, "### Subtask [2] figure") {
		t.Errorf("context = %q", got)
	}
}

func TestBatchConcurrency(t *testing.T) {
	store := &fakeStore{}
	runner := newRunner(store)
	var started sync.WaitGroup
	started.Add(3)
	all := make(chan struct{})
	go func() {
		started.Wait()
		close(all)
	}()
	runner.hook = func(int) error {
		started.Done()
		select {
		case <-all:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("nodes of one batch did not run concurrently")
		}
	}

	tree := plan(
		global.TaskNode{ID: 1, Name: "a"},
		global.TaskNode{ID: 2, Name: "b"},
		global.TaskNode{ID: 3, Name: "c"},
	)
	res, err := New(runner, store, WithBatchConcurrency(3)).Run(context.Background(), tree)
	if err != nil {
		t.Fatal(err)
	}
	if res.Count(global.StatusCompleted) != 3 {
		t.Errorf("records = %+v", res.Records)
	}
}

func TestStoreFailureAbortsRun(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	runner := newRunner(store)

	_, err := New(runner, store).Run(context.Background(), chain())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Run() error = %v", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("calls = %v", runner.calls)
	}
}

func TestCycleAbortsBeforeAnyNode(t *testing.T) {
	store := &fakeStore{}
	runner := newRunner(store)
	tree := plan(
		global.TaskNode{ID: 1, Name: "a", Dependencies: []int{2}},
		global.TaskNode{ID: 2, Name: "b", Dependencies: []int{1}},
	)
	_, err := New(runner, store).Run(context.Background(), tree)
	var cfg *global.ConfigurationError
	if !errors.As(err, &cfg) {
		t.Fatalf("Run() error = %v", err)
	}
	if len(runner.calls) != 0 || len(store.updates) != 0 {
		t.Errorf("calls = %v, updates = %v", runner.calls, store.updates)
	}

	_, err = New(runner, store).Run(context.Background(), plan(global.TaskNode{ID: 1, Name: "a", ParentID: ptr(9)}))
	if !errors.As(err, &cfg) {
		t.Errorf("malformed plan error = %v", err)
	}
}

func TestCancelledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := &fakeStore{}
	runner := newRunner(store)

	if _, err := New(runner, store).Run(ctx, chain()); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("calls = %v", runner.calls)
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to global.NodeStatus
		ok       bool
	}{
		{global.StatusPending, global.StatusRunning, true},
		{global.StatusPending, global.StatusSkipped, true},
		{global.StatusRunning, global.StatusCompleted, true},
		{global.StatusRunning, global.StatusFailed, true},
		{global.StatusPending, global.StatusCompleted, false},
		{global.StatusCompleted, global.StatusRunning, false},
		{global.StatusFailed, global.StatusPending, false},
		{global.StatusSkipped, global.StatusRunning, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			s := newStates()
			s.set(1, tt.from)
			err := s.transition(1, tt.from, tt.to)
			if (err == nil) != tt.ok {
				t.Errorf("transition() error = %v, want ok %v", err, tt.ok)
			}
		})
	}

	s := newStates()
	s.set(1, global.StatusRunning)
	if err := s.transition(1, global.StatusPending, global.StatusRunning); err == nil {
		t.Error("transition from the wrong state should fail")
	}
	if err := s.transition(2, global.StatusPending, global.StatusRunning); err == nil {
		t.Error("transition of an unknown node should fail")
	}
}

func TestResume(t *testing.T) {
	for persisted, want := range map[global.NodeStatus]global.NodeStatus{
		"":                     global.StatusPending,
		global.StatusPending:   global.StatusPending,
		global.StatusRunning:   global.StatusPending,
		global.StatusCompleted: global.StatusCompleted,
		global.StatusFailed:    global.StatusFailed,
		global.StatusSkipped:   global.StatusSkipped,
	} {
		if got := resume(persisted); got != want {
			t.Errorf("resume(%q) = %s, want %s", persisted, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	// é is two bytes; the cut must not split it
	if got := truncate("aé", 2); got != "a\n... (truncated)" {
		t.Errorf("truncate() = %q", got)
	}
}
