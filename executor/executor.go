/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package executor runs a single plan node: it picks the execution mode,
// produces code or a text answer through the collaborators, runs code through
// the retry controller and persists the resulting record.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PivotLLM/Planwright/agents"
	"github.com/PivotLLM/Planwright/codefix"
	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/logging"
	"github.com/PivotLLM/Planwright/sandbox"
	"github.com/PivotLLM/Planwright/templates"
)

// Store persists node records
type Store interface {
	UpdateTask(planID, taskID int, status global.NodeStatus, record *global.NodeExecutionRecord) error
}

// Classifier picks the execution mode of a node
type Classifier interface {
	Classify(ctx context.Context, req agents.TaskRequest) (global.ExecutionMode, error)
}

// CodeWriter writes and repairs analysis code
type CodeWriter interface {
	Generate(ctx context.Context, req agents.TaskRequest) (*global.CodeResponse, error)
	Profile(ctx context.Context, req agents.TaskRequest) (*global.CodeResponse, error)
	Patch(ctx context.Context, req agents.TaskRequest, code, errText string) (*global.CodeResponse, error)
	Redesign(ctx context.Context, req agents.TaskRequest, history []templates.Failure) (*global.CodeResponse, error)
}

// Answerer answers a node in text
type Answerer interface {
	Answer(ctx context.Context, req agents.TaskRequest, observations string) (string, error)
}

// Collaborators groups the LLM-backed services the executor calls
type Collaborators struct {
	Classifier Classifier
	Coder      CodeWriter
	Answerer   Answerer
}

// Executor runs nodes of one plan. Run is safe for concurrent use; code
// nodes take turns so that each results snapshot covers one node only.
type Executor struct {
	window       sync.Mutex
	planID       int
	outputDir    string
	store        Store
	runner       sandbox.Runner
	collab       Collaborators
	datasets     string
	maxAttempts  int
	redesignFrom int
	logger       *logging.Logger
}

// Option configures an Executor
type Option func(*Executor)

// WithDatasets sets the dataset summary shown to every collaborator
func WithDatasets(summary string) Option {
	return func(e *Executor) { e.datasets = summary }
}

// WithMaxAttempts bounds the sandbox runs per node
func WithMaxAttempts(n int) Option {
	return func(e *Executor) { e.maxAttempts = n }
}

// WithRedesignFrom sets after how many failures code is redesigned instead of patched
func WithRedesignFrom(n int) Option {
	return func(e *Executor) { e.redesignFrom = n }
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an executor for plan planID. Generated files are expected under
// outputDir/results.
func New(planID int, outputDir string, store Store, runner sandbox.Runner, collab Collaborators, opts ...Option) *Executor {
	e := &Executor{
		planID:       planID,
		outputDir:    outputDir,
		store:        store,
		runner:       runner,
		collab:       collab,
		maxAttempts:  global.DefaultMaxAttempts,
		redesignFrom: global.DefaultRedesignFromAttempt,
		logger:       logging.NewWriter(io.Discard),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes node with the given dependency context and persists the record
// whatever the outcome. Node-level failures are reported through the record's
// status. The error is non-nil only when the record could not be persisted or
// ctx was cancelled.
func (e *Executor) Run(ctx context.Context, node *global.TaskNode, depContext string) (*global.NodeExecutionRecord, error) {
	rec := &global.NodeExecutionRecord{
		NodeID:    node.ID,
		NodeName:  node.Name,
		StartedAt: time.Now().UTC(),
	}
	req := agents.TaskRequest{
		Title:       node.Name,
		Description: node.Description(),
		Datasets:    e.datasets,
		Context:     depContext,
	}

	rec.Mode = e.mode(ctx, node, req)
	e.logger.Infof("Node %d (%s): running in %s mode", node.ID, node.Name, rec.Mode)

	var err error
	switch rec.Mode {
	case global.ModeTextOnly:
		err = e.runText(ctx, req, rec)
	case global.ModeDataSummary:
		err = e.runDataSummary(ctx, req, rec)
	default:
		err = e.runCode(ctx, req, rec, e.collab.Coder.Generate)
	}
	if err != nil && ctx.Err() != nil {
		return rec, ctx.Err()
	}

	rec.CompletedAt = time.Now().UTC()
	if rec.Status == global.StatusCompleted {
		e.logger.Infof("Node %d completed after %d attempt(s)", node.ID, rec.Attempts)
	} else {
		rec.Status = global.StatusFailed
		e.logger.Warnf("Node %d failed after %d attempt(s): %s", node.ID, rec.Attempts, firstLine(rec.Error))
	}

	if err := e.store.UpdateTask(e.planID, node.ID, rec.Status, rec); err != nil {
		return rec, fmt.Errorf("failed to persist node %d: %w", node.ID, err)
	}
	return rec, nil
}

func (e *Executor) mode(ctx context.Context, node *global.TaskNode, req agents.TaskRequest) global.ExecutionMode {
	if forced, ok := node.ForcedMode(); ok {
		return forced
	}
	mode, err := e.collab.Classifier.Classify(ctx, req)
	if err != nil {
		e.logger.Warnf("Node %d: classification failed, using %s: %v", node.ID, global.ModeCodeRequired, err)
		return global.ModeCodeRequired
	}
	return mode
}

func (e *Executor) runText(ctx context.Context, req agents.TaskRequest, rec *global.NodeExecutionRecord) error {
	rec.Attempts = 1
	answer, err := e.collab.Answerer.Answer(ctx, req, "")
	if err != nil {
		rec.Error = err.Error()
		return err
	}
	rec.TextResponse = answer
	rec.Status = global.StatusCompleted
	return nil
}

// runDataSummary profiles the data with code, then answers from the profile.
// A failed profile still gets an answer, without observations, unless the
// sandbox could not start at all.
func (e *Executor) runDataSummary(ctx context.Context, req agents.TaskRequest, rec *global.NodeExecutionRecord) error {
	if err := e.runCode(ctx, req, rec, e.collab.Coder.Profile); err != nil {
		if ctx.Err() != nil || errors.Is(err, global.ErrSandboxUnavailable) {
			return err
		}
	}

	observations := ""
	if rec.Status == global.StatusCompleted {
		observations = rec.Stdout
	} else {
		e.logger.Warnf("Data profile failed, answering without it: %s", firstLine(rec.Error))
	}

	answer, err := e.collab.Answerer.Answer(ctx, req, observations)
	if err != nil {
		rec.Status = global.StatusFailed
		rec.Error = err.Error()
		return err
	}
	rec.TextResponse = answer
	rec.Status = global.StatusCompleted
	rec.Error = ""
	return nil
}

type generateFunc func(ctx context.Context, req agents.TaskRequest) (*global.CodeResponse, error)

func (e *Executor) runCode(ctx context.Context, req agents.TaskRequest, rec *global.NodeExecutionRecord, generate generateFunc) error {
	initial, err := generate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Warnf("Code generation failed, counting it as a failed attempt: %v", err)
		initial = nil
	}

	// Nodes share the results directory, so only one may sit between the two snapshots
	e.window.Lock()
	defer e.window.Unlock()

	resultsDir := filepath.Join(e.outputDir, global.ResultsDir)
	before, err := snapshot(resultsDir)
	if err != nil {
		e.logger.Warnf("Could not snapshot %s: %v", resultsDir, err)
	}

	ctrl := codefix.New(e.runner, &fixer{coder: e.collab.Coder, req: req},
		codefix.WithMaxAttempts(e.maxAttempts),
		codefix.WithRedesignFrom(e.redesignFrom),
		codefix.WithLogger(e.logger),
	)
	outcome, runErr := ctrl.Run(ctx, initial)

	rec.Attempts = outcome.Attempts
	if resp := outcome.Response; resp != nil {
		rec.Code = resp.Code
		rec.CodeDescription = resp.Description
		rec.HasVisualization = resp.HasVisualization
		rec.VisualizationPurpose = resp.VisualizationPurpose
		rec.VisualizationAnalysis = resp.VisualizationAnalysis
	}
	if res := outcome.Result; res != nil {
		rec.Stdout = res.Stdout
		rec.Stderr = res.Stderr
	}

	after, err := snapshot(resultsDir)
	if err != nil {
		e.logger.Warnf("Could not snapshot %s: %v", resultsDir, err)
	}
	rec.Files = diff(before, after)

	if runErr != nil {
		rec.Error = runErr.Error()
		if errors.Is(runErr, global.ErrSandboxUnavailable) {
			e.logger.Errorf("Sandbox unavailable, not retrying: %v", runErr)
		}
		return runErr
	}
	if outcome.Succeeded() {
		rec.Status = global.StatusCompleted
		return nil
	}
	rec.Error = outcome.LastError()
	return nil
}

// fixer binds the code writer to one node for the retry controller
type fixer struct {
	coder CodeWriter
	req   agents.TaskRequest
}

func (f *fixer) Patch(ctx context.Context, code string, failure codefix.Failure) (*global.CodeResponse, error) {
	return f.coder.Patch(ctx, f.req, code, errorText(failure))
}

func (f *fixer) Redesign(ctx context.Context, history []codefix.Failure) (*global.CodeResponse, error) {
	failures := make([]templates.Failure, len(history))
	for i, h := range history {
		failures[i] = templates.Failure{
			Attempt:  h.Attempt,
			Status:   string(h.Status),
			ExitCode: h.ExitCode,
			Code:     h.Code,
			Stdout:   h.Stdout,
			Stderr:   h.Stderr,
		}
	}
	return f.coder.Redesign(ctx, f.req, failures)
}

// errorText is what the code writer is shown for one failure
func errorText(f codefix.Failure) string {
	var b strings.Builder
	if f.Status == sandbox.StatusTimeout {
		b.WriteString("The code did not finish before the sandbox timeout. Make it faster or process less data.\n")
	}
	if s := strings.TrimSpace(f.Stderr); s != "" {
		b.WriteString(s)
	} else if s := strings.TrimSpace(f.Stdout); s != "" {
		fmt.Fprintf(&b, "Exit code %d. Output:\n%s", f.ExitCode, s)
	} else {
		fmt.Fprintf(&b, "Exit code %d with no output.", f.ExitCode)
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
