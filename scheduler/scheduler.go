/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package scheduler runs the nodes of a plan in dependency order.
//
// A node may run once it is pending and every prerequisite is terminal. Its
// prerequisites are its explicit dependencies, or its children when it has
// none, so by default children run before their parent. Under the best effort
// policy a failed prerequisite only withholds its output; under the strict
// policy every node that requires it is skipped.
//
// Eligible nodes are run in batches in ascending id order. Nodes of one batch
// never depend on each other, so a batch may run concurrently. The scheduler
// persists the running state before a node starts; the node runner persists
// the final record.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/PivotLLM/Planwright/dag"
	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/logging"
)

var (
	tracer = otel.Tracer("planwright.scheduler")
	meter  = otel.Meter("planwright.scheduler")

	metricsOnce  sync.Once
	nodeDuration metric.Float64Histogram
	nodeOutcomes metric.Int64Counter
)

func initMetrics(logger *logging.Logger) {
	metricsOnce.Do(func() {
		var err error
		nodeDuration, err = meter.Float64Histogram("scheduler_node_duration_seconds",
			metric.WithDescription("Time spent executing each plan node"),
			metric.WithUnit("s"),
		)
		if err != nil {
			logger.Warnf("Failed to create node duration histogram: %v", err)
		}
		nodeOutcomes, err = meter.Int64Counter("scheduler_nodes_total",
			metric.WithDescription("Number of nodes reaching a terminal state, by status"),
		)
		if err != nil {
			logger.Warnf("Failed to create node outcome counter: %v", err)
		}
	})
}

// NodeRunner executes one node and persists its record
type NodeRunner interface {
	Run(ctx context.Context, node *global.TaskNode, depContext string) (*global.NodeExecutionRecord, error)
}

// Store persists node state
type Store interface {
	UpdateTask(planID, taskID int, status global.NodeStatus, record *global.NodeExecutionRecord) error
}

// Scheduler drives one plan run
type Scheduler struct {
	runner       NodeRunner
	store        Store
	policy       string
	concurrency  int
	excerptLimit int
	logger       *logging.Logger
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithFailurePolicy sets global.FailurePolicyBestEffort or global.FailurePolicyStrict
func WithFailurePolicy(policy string) Option {
	return func(s *Scheduler) {
		if p, err := global.ValidateFailurePolicy(policy); err == nil {
			s.policy = p
		}
	}
}

// WithBatchConcurrency sets how many nodes of one batch may run at once.
// The executor still runs sandbox code for one node at a time.
func WithBatchConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithExcerptLimit caps each output excerpt in the dependency context, in bytes
func WithExcerptLimit(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.excerptLimit = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Scheduler
func New(runner NodeRunner, store Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:       runner,
		store:        store,
		policy:       global.FailurePolicyBestEffort,
		concurrency:  1,
		excerptLimit: global.DefaultContextExcerptLimit,
		logger:       logging.NewWriter(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is the outcome of a run
type Result struct {
	PlanID   int
	Order    []int
	Records  []*global.NodeExecutionRecord // one per node, in execution order
	Executed []int                         // nodes started by this run, in start order
}

// Count returns the number of records with the given status
func (r *Result) Count(status global.NodeStatus) int {
	n := 0
	for _, rec := range r.Records {
		if rec.Status == status {
			n++
		}
	}
	return n
}

type run struct {
	s      *Scheduler
	tree   *global.PlanTree
	dag    *dag.DAG
	order  []int
	states *states

	mu       sync.Mutex
	records  map[int]*global.NodeExecutionRecord
	executed []int
}

// Run executes every pending node of tree. Completed and failed nodes from a
// previous run keep their records; a node left running is run again. A
// malformed or cyclic plan is a ConfigurationError returned before any node
// runs. Node failures never fail the run; only a store failure or ctx
// cancellation does.
func (s *Scheduler) Run(ctx context.Context, tree *global.PlanTree) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "scheduler.Run",
		trace.WithAttributes(
			attribute.Int("plan.id", tree.ID),
			attribute.Int("plan.nodes", len(tree.Nodes)),
			attribute.String("plan.failure_policy", s.policy),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()
	initMetrics(s.logger)

	d, err := dag.Build(tree)
	if err != nil {
		return nil, &global.ConfigurationError{Reason: err.Error()}
	}
	order, err := Order(d)
	if err != nil {
		s.logger.Errorf("Plan %d cannot run: %v", tree.ID, err)
		return nil, err
	}

	r := &run{
		s:       s,
		tree:    tree,
		dag:     d,
		order:   order,
		states:  newStates(),
		records: make(map[int]*global.NodeExecutionRecord),
	}
	r.load()

	if s.policy == global.FailurePolicyStrict {
		for _, id := range order {
			if r.states.get(id) == global.StatusFailed {
				if err := r.skipDependents(id); err != nil {
					return nil, err
				}
			}
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch := r.eligible()
		if len(batch) == 0 {
			break
		}
		s.logger.Debugf("Plan %d: running batch %v", tree.ID, batch)
		if err := r.runBatch(ctx, batch); err != nil {
			return nil, err
		}
	}

	for _, id := range order {
		if r.states.get(id) == global.StatusPending {
			if err := r.skip(id, "prerequisites never became terminal"); err != nil {
				return nil, err
			}
		}
	}

	res = r.result()
	span.SetAttributes(
		attribute.Int("plan.executed", len(res.Executed)),
		attribute.Int("plan.failed", res.Count(global.StatusFailed)),
	)
	s.logger.Infof("Plan %d: %d completed, %d failed, %d skipped (%d run now)", tree.ID,
		res.Count(global.StatusCompleted), res.Count(global.StatusFailed), res.Count(global.StatusSkipped), len(res.Executed))
	return res, nil
}

// load sets the starting state of every node from its persisted status
func (r *run) load() {
	for _, id := range r.order {
		node := r.tree.Node(id)
		st := resume(node.Status)
		if node.Status == global.StatusRunning {
			r.s.logger.Warnf("Node %d was interrupted in a previous run, running it again", id)
		}
		r.states.set(id, st)
		if st != global.StatusPending && node.ExecutionResult != nil {
			r.records[id] = node.ExecutionResult
		}
	}
}

// eligible returns the pending nodes whose prerequisites are all terminal, in ascending id order
func (r *run) eligible() []int {
	var batch []int
	for _, id := range r.dag.IDs() {
		if r.states.get(id) != global.StatusPending {
			continue
		}
		ready := true
		for _, p := range r.dag.Prerequisites(id) {
			if !r.states.get(p).IsTerminal() {
				ready = false
				break
			}
		}
		if ready {
			batch = append(batch, id)
		}
	}
	return batch
}

func (r *run) runBatch(ctx context.Context, batch []int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.s.concurrency)
	for _, id := range batch {
		g.Go(func() error {
			return r.runNode(gctx, id)
		})
	}
	return g.Wait()
}

func (r *run) runNode(ctx context.Context, id int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	node := *r.tree.Node(id)
	depContext := r.dependencyContext(id)
	if err := r.states.transition(id, global.StatusPending, global.StatusRunning); err != nil {
		return err
	}
	if err := r.s.store.UpdateTask(r.tree.ID, id, global.StatusRunning, nil); err != nil {
		return fmt.Errorf("failed to mark node %d running: %w", id, err)
	}
	r.mu.Lock()
	r.executed = append(r.executed, id)
	r.mu.Unlock()

	ctx, span := tracer.Start(ctx, "scheduler.node",
		trace.WithAttributes(
			attribute.Int("node.id", id),
			attribute.String("node.name", node.Name),
		),
	)
	defer span.End()

	r.s.logger.Infof("Node %d (%s): starting", id, node.Name)
	start := time.Now()
	rec, err := r.s.runner.Run(ctx, &node, depContext)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	status := global.StatusFailed
	if rec.Status == global.StatusCompleted {
		status = global.StatusCompleted
	}
	if err := r.states.transition(id, global.StatusRunning, status); err != nil {
		return err
	}
	r.setRecord(id, rec)

	elapsed := time.Since(start).Seconds()
	if nodeDuration != nil {
		nodeDuration.Record(ctx, elapsed, metric.WithAttributes(attribute.String("status", string(status))))
	}
	count(ctx, status)
	span.SetAttributes(
		attribute.String("node.status", string(status)),
		attribute.String("node.mode", string(rec.Mode)),
		attribute.Int("node.attempts", rec.Attempts),
	)

	if status == global.StatusCompleted {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	span.SetStatus(codes.Error, firstLine(rec.Error))
	if r.s.policy == global.FailurePolicyStrict {
		return r.skipDependents(id)
	}
	return nil
}

// skipDependents skips every pending node that transitively requires id
func (r *run) skipDependents(id int) error {
	for _, dep := range dependentsOf(r.dag, id) {
		if r.states.get(dep) != global.StatusPending {
			continue
		}
		if err := r.skip(dep, fmt.Sprintf("prerequisite %d did not complete", id)); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) skip(id int, reason string) error {
	if err := r.states.transition(id, global.StatusPending, global.StatusSkipped); err != nil {
		return err
	}
	node := r.tree.Node(id)
	now := time.Now().UTC()
	rec := &global.NodeExecutionRecord{
		NodeID:      id,
		NodeName:    node.Name,
		Status:      global.StatusSkipped,
		Error:       reason,
		StartedAt:   now,
		CompletedAt: now,
	}
	if err := r.s.store.UpdateTask(r.tree.ID, id, global.StatusSkipped, rec); err != nil {
		return fmt.Errorf("failed to mark node %d skipped: %w", id, err)
	}
	r.setRecord(id, rec)
	count(context.Background(), global.StatusSkipped)
	r.s.logger.Warnf("Node %d (%s): skipped, %s", id, node.Name, reason)
	return nil
}

func (r *run) record(id int) *global.NodeExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id]
}

func (r *run) setRecord(id int, rec *global.NodeExecutionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[id] = rec
}

func (r *run) result() *Result {
	res := &Result{
		PlanID:   r.tree.ID,
		Order:    r.order,
		Executed: append([]int(nil), r.executed...),
	}
	for _, id := range r.order {
		rec := r.record(id)
		if rec == nil {
			rec = &global.NodeExecutionRecord{
				NodeID:   id,
				NodeName: r.tree.Node(id).Name,
				Status:   r.states.get(id),
			}
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

func count(ctx context.Context, status global.NodeStatus) {
	if nodeOutcomes != nil {
		nodeOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
