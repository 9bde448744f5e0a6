/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package codefix runs generated code in a sandbox and, when it fails, asks a
// fixer for corrected code until it succeeds or the attempt budget runs out.
//
// The controller is a small state machine. It starts in Patching, where each
// failure is sent to the fixer on its own for a targeted patch. Once the
// configured number of attempts has failed it moves to Redesigning, where the
// fixer sees the whole failure history and is asked for a new approach. It
// never moves back. Exhausted is reached when the last attempt fails.
package codefix

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/logging"
	"github.com/PivotLLM/Planwright/sandbox"
)

// Phase is the state of the retry loop
type Phase int

// Retry phases
const (
	Patching Phase = iota
	Redesigning
	Exhausted
)

func (p Phase) String() string {
	switch p {
	case Patching:
		return "patching"
	case Redesigning:
		return "redesigning"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// errNoCode is the failure recorded for an attempt that had no code to run
const errNoCode = "no code was generated"

// Failure is one failed attempt
type Failure struct {
	Attempt  int
	Status   sandbox.Status
	ExitCode int
	Code     string
	Stdout   string
	Stderr   string
}

// Fixer produces corrected code
type Fixer interface {
	// Patch fixes code given only its latest failure
	Patch(ctx context.Context, code string, failure Failure) (*global.CodeResponse, error)
	// Redesign writes a new approach given every failure so far
	Redesign(ctx context.Context, history []Failure) (*global.CodeResponse, error)
}

// Outcome is the result of a retry loop
type Outcome struct {
	Result   *sandbox.Result      // result of the last attempt
	Response *global.CodeResponse // code and description of the last attempt
	Attempts int
	History  []Failure
	Phase    Phase
}

// Succeeded reports whether the last attempt ran successfully
func (o *Outcome) Succeeded() bool {
	return o.Result != nil && o.Result.Status == sandbox.StatusSuccess
}

// LastError describes the last failure for the node record
func (o *Outcome) LastError() string {
	if o.Succeeded() || len(o.History) == 0 {
		return ""
	}
	last := o.History[len(o.History)-1]
	msg := strings.TrimSpace(last.Stderr)
	if msg == "" {
		msg = "code exited with status " + string(last.Status)
	}
	return msg
}

// Controller drives the retry loop
type Controller struct {
	runner       sandbox.Runner
	fixer        Fixer
	maxAttempts  int
	redesignFrom int
	logger       *logging.Logger
}

// Option configures a Controller
type Option func(*Controller)

// WithMaxAttempts bounds the number of sandbox runs
func WithMaxAttempts(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRedesignFrom sets the number of failed attempts after which the
// controller stops patching and asks for a redesign
func WithRedesignFrom(n int) Option {
	return func(c *Controller) {
		if n >= global.DefaultRedesignFromAttempt {
			c.redesignFrom = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Controller
func New(runner sandbox.Runner, fixer Fixer, opts ...Option) *Controller {
	c := &Controller{
		runner:       runner,
		fixer:        fixer,
		maxAttempts:  global.DefaultMaxAttempts,
		redesignFrom: global.DefaultRedesignFromAttempt,
		logger:       logging.NewWriter(io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes initial and retries until success or exhaustion. An empty or
// nil initial response counts as a failed attempt. The returned error is
// non-nil only when the sandbox is unavailable or ctx is done; the outcome
// then describes the attempts made so far.
func (c *Controller) Run(ctx context.Context, initial *global.CodeResponse) (*Outcome, error) {
	current := initial
	if current == nil {
		current = &global.CodeResponse{}
	}
	out := &Outcome{Phase: Patching, Response: current}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		res, err := c.execute(ctx, current.Code)
		out.Attempts = attempt
		out.Result = res
		out.Response = current
		if err != nil {
			c.logger.Errorf("Attempt %d could not run: %v", attempt, err)
			return out, err
		}
		if res.Status == sandbox.StatusSuccess {
			c.logger.Infof("Attempt %d succeeded", attempt)
			return out, nil
		}

		failure := Failure{
			Attempt:  attempt,
			Status:   res.Status,
			ExitCode: res.ExitCode,
			Code:     current.Code,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}
		out.History = append(out.History, failure)
		c.logger.Warnf("Attempt %d/%d %s (exit code %d)", attempt, c.maxAttempts, res.Status, res.ExitCode)

		if attempt == c.maxAttempts {
			out.Phase = Exhausted
			break
		}
		if attempt >= c.redesignFrom {
			out.Phase = Redesigning
		}

		fixed, err := c.fix(ctx, out.Phase, current.Code, failure, out.History)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			c.logger.Warnf("Could not get a %s fix after attempt %d, retrying the same code: %v",
				out.Phase, attempt, err)
			continue
		}
		if fixed == nil || strings.TrimSpace(fixed.Code) == "" {
			c.logger.Warnf("Fixer returned no code after attempt %d, retrying the same code", attempt)
			continue
		}
		current = fixed
	}

	c.logger.Warnf("Giving up after %d attempts", out.Attempts)
	return out, nil
}

func (c *Controller) execute(ctx context.Context, code string) (*sandbox.Result, error) {
	if strings.TrimSpace(code) == "" {
		return &sandbox.Result{Status: sandbox.StatusFailed, ExitCode: -1, Stderr: errNoCode}, nil
	}
	res, err := c.runner.Execute(ctx, code)
	if err != nil {
		return res, err
	}
	if res == nil {
		return nil, fmt.Errorf("%w: sandbox returned no result", global.ErrSandboxUnavailable)
	}
	return res, nil
}

func (c *Controller) fix(ctx context.Context, phase Phase, code string, failure Failure, history []Failure) (*global.CodeResponse, error) {
	if phase == Redesigning {
		c.logger.Infof("Requesting a redesign from %d failed attempts", len(history))
		return c.fixer.Redesign(ctx, append([]Failure(nil), history...))
	}
	c.logger.Infof("Requesting a patch for attempt %d", failure.Attempt)
	return c.fixer.Patch(ctx, code, failure)
}
