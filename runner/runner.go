/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package runner owns plan runs: it wires the dataset stager, sandbox,
// collaborators, executor and scheduler for one plan and writes the report
// and summary when the run ends.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/PivotLLM/Planwright/agents"
	"github.com/PivotLLM/Planwright/config"
	"github.com/PivotLLM/Planwright/dag"
	"github.com/PivotLLM/Planwright/datasets"
	"github.com/PivotLLM/Planwright/executor"
	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/llm"
	"github.com/PivotLLM/Planwright/logging"
	"github.com/PivotLLM/Planwright/plans"
	"github.com/PivotLLM/Planwright/reporting"
	"github.com/PivotLLM/Planwright/sandbox"
	"github.com/PivotLLM/Planwright/scheduler"
	"github.com/PivotLLM/Planwright/templates"
)

// ErrPlanRunning is returned when a plan already has a run in progress
var ErrPlanRunning = errors.New("plan is already running")

// SandboxFactory creates the sandbox for one run
type SandboxFactory func(cfg config.Sandbox, workDir, dataDir string, logger *logging.Logger) (sandbox.Runner, error)

// Request describes one plan run
type Request struct {
	PlanID    int
	DataPaths []string
	// OutputDir defaults to <output_dir>/plan-<id>
	OutputDir string
	// Sandbox overrides the configured sandbox; empty fields keep the configured values
	Sandbox *config.Sandbox
}

// BatchResult is the outcome of one plan of a batch
type BatchResult struct {
	PlanID  int                      `json:"plan_id"`
	Summary *global.ExecutionSummary `json:"summary,omitempty"`
	Err     error                    `json:"-"`
}

// RunInfo describes an asynchronous run
type RunInfo struct {
	RunID      string                   `json:"run_id"`
	PlanID     int                      `json:"plan_id"`
	OutputDir  string                   `json:"output_dir"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt *time.Time               `json:"finished_at,omitempty"`
	Running    bool                     `json:"running"`
	Error      string                   `json:"error,omitempty"`
	Summary    *global.ExecutionSummary `json:"summary,omitempty"`
}

// Runner executes plans
type Runner struct {
	config     *config.Config
	logger     *logging.Logger
	plans      *plans.Repository
	llm        *llm.Service
	reporter   *reporting.Reporter
	validator  *templates.Validator
	newSandbox SandboxFactory
	collab     *executor.Collaborators
	oracle     dag.Oracle

	runningPlans sync.Map // map[int]bool - plans with a run in progress
	runs         sync.Map // map[int]*RunInfo - latest asynchronous run per plan
	runsMu       sync.Mutex
	activeRuns   sync.WaitGroup
	baseCtx      context.Context
	cancel       context.CancelFunc
}

// Option configures a Runner
type Option func(*Runner)

// WithSandboxFactory replaces sandbox.New
func WithSandboxFactory(f SandboxFactory) Option {
	return func(r *Runner) {
		if f != nil {
			r.newSandbox = f
		}
	}
}

// WithCollaborators replaces the LLM-backed collaborators
func WithCollaborators(c executor.Collaborators) Option {
	return func(r *Runner) { r.collab = &c }
}

// WithOracle replaces the LLM-backed similarity oracle
func WithOracle(o dag.Oracle) Option {
	return func(r *Runner) { r.oracle = o }
}

// WithReporter replaces the default report layout
func WithReporter(rep *reporting.Reporter) Option {
	return func(r *Runner) {
		if rep != nil {
			r.reporter = rep
		}
	}
}

// New creates a new Runner
func New(cfg *config.Config, repo *plans.Repository, logger *logging.Logger, opts ...Option) (*Runner, error) {
	engine := cfg.Engine()
	reporter, err := reporting.New(logger.With("reporting"), "")
	if err != nil {
		return nil, err
	}

	r := &Runner{
		config: cfg,
		logger: logger,
		plans:  repo,
		llm: llm.NewService(cfg.LLMs(), logger.With("llm"),
			llm.WithRateLimit(engine.RateLimit.MaxRequests, engine.RateLimit.PeriodSeconds),
			llm.WithTimeout(engine.CollaboratorTimeoutSeconds),
		),
		reporter:   reporter,
		validator:  templates.New(),
		newSandbox: sandbox.New,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.baseCtx, r.cancel = context.WithCancel(context.Background())
	return r, nil
}

// LLM returns the LLM service used by the collaborators
func (r *Runner) LLM() *llm.Service {
	return r.llm
}

func (r *Runner) agentOptions() []agents.Option {
	timeout := time.Duration(r.config.Engine().CollaboratorTimeoutSeconds) * time.Second
	return []agents.Option{
		agents.WithTimeout(timeout),
		agents.WithLogger(r.logger.With("agents")),
		agents.WithValidator(r.validator),
	}
}

// collaborators returns the injected collaborators or builds them from the configured roles
func (r *Runner) collaborators() (executor.Collaborators, error) {
	if r.collab != nil {
		return *r.collab, nil
	}
	roles := r.config.Roles()
	if roles.Codegen == "" {
		return executor.Collaborators{}, fmt.Errorf("no LLM is configured for code generation")
	}
	opts := r.agentOptions()
	return executor.Collaborators{
		Classifier: agents.NewClassifier(r.llm, roles.Classifier, opts...),
		Coder:      agents.NewCodeGenerator(r.llm, roles.Codegen, opts...),
		Answerer:   agents.NewAnswerer(r.llm, roles.Answer, opts...),
	}, nil
}

func (r *Runner) similarityOracle() (dag.Oracle, error) {
	if r.oracle != nil {
		return r.oracle, nil
	}
	roles := r.config.Roles()
	if roles.Similarity == "" {
		return nil, fmt.Errorf("no LLM is configured for similarity checks")
	}
	return agents.NewSimilarityOracle(r.llm, roles.Similarity, r.config.Engine().SimplifyMinScore, r.agentOptions()...), nil
}

// OutputDir returns the absolute output directory a request will use.
// Relative paths are resolved against the working directory.
func (r *Runner) OutputDir(req Request) string {
	dir := req.OutputDir
	if dir == "" {
		dir = filepath.Join(r.config.OutputDir(), fmt.Sprintf("plan-%d", req.PlanID))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		r.logger.Warnf("Could not resolve output directory %s: %v", dir, err)
		return dir
	}
	return abs
}

// sandboxConfig merges a request override onto the configured sandbox
func (r *Runner) sandboxConfig(override *config.Sandbox) config.Sandbox {
	cfg := r.config.Sandbox()
	if override == nil {
		return cfg
	}
	if override.Backend != "" {
		cfg.Backend = override.Backend
	}
	if override.Runtime != "" {
		cfg.Runtime = override.Runtime
	}
	if override.Image != "" {
		cfg.Image = override.Image
	}
	if override.Interpreter != "" {
		cfg.Interpreter = override.Interpreter
	}
	if override.TimeoutSeconds > 0 {
		cfg.TimeoutSeconds = override.TimeoutSeconds
	}
	if override.Memory != "" {
		cfg.Memory = override.Memory
	}
	if override.PollIntervalMS > 0 {
		cfg.PollIntervalMS = override.PollIntervalMS
	}
	return cfg
}

// ExecutePlan runs a plan to completion and returns its summary. Nodes that
// completed in an earlier run are not run again. Node failures are reported in
// the summary; an error means the plan could not be run at all.
func (r *Runner) ExecutePlan(ctx context.Context, req Request) (*global.ExecutionSummary, error) {
	if err := r.claim(req.PlanID); err != nil {
		return nil, err
	}
	defer r.runningPlans.Delete(req.PlanID)
	return r.execute(ctx, req)
}

// claim marks a plan as running
func (r *Runner) claim(planID int) error {
	if _, loaded := r.runningPlans.LoadOrStore(planID, true); loaded {
		return fmt.Errorf("%w: %d", ErrPlanRunning, planID)
	}
	return nil
}

func (r *Runner) execute(ctx context.Context, req Request) (*global.ExecutionSummary, error) {
	tree, err := r.plans.GetPlanTree(req.PlanID)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := r.logger.With(fmt.Sprintf("plan %d", req.PlanID))
	outDir := r.OutputDir(req)
	logger.Infof("Starting run %s: title=%q nodes=%d output=%s", runID, tree.Title, len(tree.Nodes), outDir)

	if err := os.MkdirAll(filepath.Join(outDir, global.ResultsDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	inputsDir := filepath.Join(outDir, global.InputsDir)
	stager := datasets.New(logger.With("datasets"))
	staged, err := stager.Stage(req.DataPaths, inputsDir)
	if err != nil {
		return nil, err
	}
	dataSummary := datasets.Summary(stager.DescribeAll(staged))

	sbx, err := r.newSandbox(r.sandboxConfig(req.Sandbox), outDir, inputsDir, logger.With("sandbox"))
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}

	collab, err := r.collaborators()
	if err != nil {
		return nil, err
	}

	engine := r.config.Engine()
	exec := executor.New(req.PlanID, outDir, r.plans, sbx, collab,
		executor.WithDatasets(dataSummary),
		executor.WithMaxAttempts(engine.MaxAttempts),
		executor.WithRedesignFrom(engine.RedesignFromAttempt),
		executor.WithLogger(logger.With("executor")),
	)
	sched := scheduler.New(exec, r.plans,
		scheduler.WithFailurePolicy(engine.FailurePolicy),
		scheduler.WithExcerptLimit(engine.ContextExcerptLimit),
		scheduler.WithLogger(logger.With("scheduler")),
	)

	res, err := sched.Run(ctx, tree)
	if err != nil {
		logger.Errorf("Run %s aborted: %v", runID, err)
		return nil, err
	}

	summary := reporting.Summarize(tree, res.Records)
	if err := r.reporter.Write(outDir, tree, summary); err != nil {
		return nil, err
	}

	logger.Infof("Finished run %s: completed=%d failed=%d skipped=%d executed=%d",
		runID, summary.Completed, summary.Failed, summary.Skipped, len(res.Executed))
	return summary, nil
}

// ExecuteBatch runs independent plans concurrently, at most max_concurrent at
// a time. Each result carries its own error.
func (r *Runner) ExecuteBatch(ctx context.Context, reqs []Request) []BatchResult {
	results := make([]BatchResult, len(reqs))
	sem := semaphore.NewWeighted(int64(r.config.Engine().MaxConcurrent))

	var g errgroup.Group
	for i, req := range reqs {
		results[i].PlanID = req.PlanID
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			results[i].Summary, results[i].Err = r.ExecutePlan(ctx, req)
			if results[i].Err != nil {
				r.logger.Warnf("Batch run of plan %d failed: %v", req.PlanID, results[i].Err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Start runs a plan in the background and returns immediately. The latest
// run of each plan can be inspected with Status.
func (r *Runner) Start(req Request) (*RunInfo, error) {
	if _, err := r.plans.GetPlanTree(req.PlanID); err != nil {
		return nil, err
	}
	if err := r.claim(req.PlanID); err != nil {
		return nil, err
	}

	info := &RunInfo{
		RunID:     uuid.NewString(),
		PlanID:    req.PlanID,
		OutputDir: r.OutputDir(req),
		StartedAt: time.Now().UTC(),
		Running:   true,
	}
	r.runs.Store(req.PlanID, info)

	r.activeRuns.Add(1)
	go r.runAsync(info, req)

	return r.Status(req.PlanID), nil
}

func (r *Runner) runAsync(info *RunInfo, req Request) {
	defer r.activeRuns.Done()
	summary, err := r.protectedExecute(info.RunID, req)
	r.runningPlans.Delete(req.PlanID)
	r.finish(info, summary, err)
}

// protectedExecute converts a panic in a background run into an error
func (r *Runner) protectedExecute(runID string, req Request) (summary *global.ExecutionSummary, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorf("Panic in run %s of plan %d: %v", runID, req.PlanID, p)
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.execute(r.baseCtx, req)
}

func (r *Runner) finish(info *RunInfo, summary *global.ExecutionSummary, err error) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()
	now := time.Now().UTC()
	info.FinishedAt = &now
	info.Running = false
	info.Summary = summary
	if err != nil {
		info.Error = err.Error()
	}
}

// Status returns a copy of the latest asynchronous run of a plan, or nil
func (r *Runner) Status(planID int) *RunInfo {
	v, ok := r.runs.Load(planID)
	if !ok {
		return nil
	}
	r.runsMu.Lock()
	defer r.runsMu.Unlock()
	info := *v.(*RunInfo)
	return &info
}

// IsRunning reports whether a plan has a run in progress
func (r *Runner) IsRunning(planID int) bool {
	_, ok := r.runningPlans.Load(planID)
	return ok
}

// Wait blocks until every background run has finished
func (r *Runner) Wait() {
	r.activeRuns.Wait()
}

// Shutdown cancels background runs and waits for them to stop or for ctx to end
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.activeRuns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Simplify merges equivalent nodes of a plan and stores the result as a new
// plan. The source plan is not changed.
func (r *Runner) Simplify(ctx context.Context, planID int) (*global.PlanTree, error) {
	tree, err := r.plans.GetPlanTree(planID)
	if err != nil {
		return nil, err
	}
	d, err := dag.Build(tree)
	if err != nil {
		return nil, &global.ConfigurationError{Reason: err.Error()}
	}

	oracle, err := r.similarityOracle()
	if err != nil {
		return nil, err
	}
	err = dag.Simplify(ctx, d, oracle,
		dag.WithMinScore(r.config.Engine().SimplifyMinScore),
		dag.WithLogger(r.logger.With("dag")),
	)
	if err != nil {
		return nil, err
	}

	out := d.ToTree()
	created, err := r.plans.CreatePlan(out.Title, out.Description, out.Metadata, out.Nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to store simplified plan: %w", err)
	}
	r.logger.Infof("Simplified plan %d into plan %d: %d -> %d nodes (%d merged)",
		planID, created.ID, len(tree.Nodes), len(created.Nodes), d.Merges.Len())
	return created, nil
}
