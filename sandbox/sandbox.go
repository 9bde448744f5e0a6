/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package sandbox runs one snippet of generated code to completion or timeout
// in an isolated container or a local subprocess.
//
// Both backends return the same Result. A code-level failure or a timeout is a
// Result, not an error; Execute only returns an error when the backend cannot
// start at all (wrapping global.ErrSandboxUnavailable) or when the caller's
// context is cancelled.
package sandbox

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

	"github.com/PivotLLM/Planwright/config"
	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/logging"
)

// Status is the outcome of one execution
type Status string

// Execution outcomes
const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// Result is what one execution produced
type Result struct {
	Status   Status        `json:"status"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Err converts a non-successful result into the matching error
func (r *Result) Err() error {
	switch r.Status {
	case StatusSuccess:
		return nil
	case StatusTimeout:
		return global.ErrSandboxTimeout
	case StatusFailed:
		return &global.SandboxExecutionError{ExitCode: r.ExitCode, Stderr: r.Stderr}
	default:
		return fmt.Errorf("%w: %s", global.ErrSandboxUnavailable, strings.TrimSpace(r.Stderr))
	}
}

// Runner executes code
type Runner interface {
	Execute(ctx context.Context, code string) (*Result, error)
}

// Option configures a backend
type Option func(*settings)

type settings struct {
	dataDir      string
	timeout      time.Duration
	interpreter  []string
	runtime      string
	image        string
	memory       string
	pollInterval time.Duration
	logger       *logging.Logger
}

func newSettings(opts []Option) settings {
	s := settings{
		timeout:      time.Duration(global.DefaultSandboxTimeout) * time.Second,
		interpreter:  []string{global.DefaultInterpreter},
		runtime:      global.RuntimeDocker,
		image:        global.DefaultSandboxImage,
		memory:       global.DefaultSandboxMemory,
		pollInterval: time.Duration(global.DefaultPollIntervalMS) * time.Millisecond,
		logger:       logging.NewWriter(io.Discard),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithDataDir exposes dir to the code read-only
func WithDataDir(dir string) Option {
	return func(s *settings) { s.dataDir = dir }
}

// WithTimeout sets the execution deadline
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithInterpreter sets the interpreter command, e.g. "python3" or "python3 -u"
func WithInterpreter(cmd string) Option {
	return func(s *settings) {
		if fields := strings.Fields(cmd); len(fields) > 0 {
			s.interpreter = fields
		}
	}
}

// WithRuntime sets the container runtime executable (docker or podman)
func WithRuntime(runtime string) Option {
	return func(s *settings) {
		if runtime != "" {
			s.runtime = runtime
		}
	}
}

// WithImage sets the container image
func WithImage(image string) Option {
	return func(s *settings) {
		if image != "" {
			s.image = image
		}
	}
}

// WithMemory sets the container memory cap, e.g. "512m"
func WithMemory(memory string) Option {
	return func(s *settings) {
		if memory != "" {
			s.memory = memory
		}
	}
}

// WithPollInterval sets how often container state is polled
func WithPollInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New selects the backend named by cfg. workDir is the code's writable
// working directory and dataDir, if set, is mounted read-only.
func New(cfg config.Sandbox, workDir, dataDir string, logger *logging.Logger) (Runner, error) {
	opts := []Option{
		WithDataDir(dataDir),
		WithTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second),
		WithInterpreter(cfg.Interpreter),
		WithRuntime(cfg.Runtime),
		WithImage(cfg.Image),
		WithMemory(cfg.Memory),
		WithPollInterval(time.Duration(cfg.PollIntervalMS) * time.Millisecond),
		WithLogger(logger),
	}

	switch cfg.Backend {
	case global.SandboxBackendContainer, "":
		return NewContainer(workDir, opts...), nil
	case global.SandboxBackendLocal:
		return NewLocal(workDir, opts...), nil
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}
}

// environment is what the code sees in both backends
func environment(workDir, dataDir string) []string {
	return []string{
		"WORK_DIR=" + workDir,
		"DATA_DIR=" + dataDir,
		"MPLBACKEND=Agg",
	}
}

var (
	tracer = otel.Tracer("planwright.sandbox")
	meter  = otel.Meter("planwright.sandbox")

	metricsOnce  sync.Once
	execDuration metric.Float64Histogram
	execOutcomes metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		var err error
		execDuration, err = meter.Float64Histogram("sandbox_execution_duration_seconds",
			metric.WithDescription("Time spent running generated code"),
			metric.WithUnit("s"),
		)
		if err != nil {
			execDuration = nil
		}
		execOutcomes, err = meter.Int64Counter("sandbox_executions_total",
			metric.WithDescription("Number of sandbox executions by outcome"),
		)
		if err != nil {
			execOutcomes = nil
		}
	})
}

// observe starts a span for one execution; the returned func records the outcome
func observe(ctx context.Context, backend string) (context.Context, func(*Result, error)) {
	initMetrics()
	ctx, span := tracer.Start(ctx, "sandbox.Execute",
		trace.WithAttributes(attribute.String("sandbox.backend", backend)),
	)
	start := time.Now()

	return ctx, func(res *Result, err error) {
		defer span.End()

		status := string(StatusError)
		if res != nil {
			status = string(res.Status)
			res.Duration = time.Since(start)
			span.SetAttributes(attribute.Int("sandbox.exit_code", res.ExitCode))
		}
		attrs := metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status),
		)
		if execDuration != nil {
			execDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		if execOutcomes != nil {
			execOutcomes.Add(ctx, 1, attrs)
		}

		span.SetAttributes(attribute.String("sandbox.status", status))
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case status != string(StatusSuccess):
			span.SetStatus(codes.Error, status)
		default:
			span.SetStatus(codes.Ok, "")
		}
	}
}
