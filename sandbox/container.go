/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PivotLLM/Planwright/global"
)

// cleanupTimeout bounds the kill and remove calls made after a run
const cleanupTimeout = 30 * time.Second

// Container runs each execution in a fresh container through the docker or
// podman command line. The container has no network, a memory cap, the work
// directory mounted read-write and the data directory mounted read-only.
type Container struct {
	workDir string
	settings
}

// NewContainer creates a container backend mounting workDir as /workspace
func NewContainer(workDir string, opts ...Option) *Container {
	return &Container{workDir: workDir, settings: newSettings(opts)}
}

// Execute starts a container, polls it until it exits or the timeout passes,
// collects its logs and always removes it.
func (c *Container) Execute(ctx context.Context, code string) (res *Result, err error) {
	ctx, done := observe(ctx, global.SandboxBackendContainer)
	defer func() { done(res, err) }()

	runtime, err := exec.LookPath(c.runtime)
	if err != nil {
		return &Result{Status: StatusError, ExitCode: -1, Stderr: err.Error()},
			fmt.Errorf("%w: container runtime %s: %v", global.ErrSandboxUnavailable, c.runtime, err)
	}

	name := global.DefaultContainerPrefix + uuid.NewString()
	if _, stderr, err := c.cli(ctx, runtime, c.runArgs(name, code)...); err != nil {
		if ctx.Err() != nil {
			c.remove(runtime, name)
			return &Result{Status: StatusError, ExitCode: -1}, ctx.Err()
		}
		c.remove(runtime, name)
		c.logger.Errorf("Container sandbox: failed to start %s: %v: %s", name, err, strings.TrimSpace(stderr))
		return &Result{Status: StatusError, ExitCode: -1, Stderr: stderr},
			fmt.Errorf("%w: failed to start container: %v", global.ErrSandboxUnavailable, err)
	}
	defer c.remove(runtime, name)

	c.logger.Debugf("Container sandbox: started %s (timeout %s)", name, c.timeout)
	exitCode, timedOut, err := c.wait(ctx, runtime, name)
	if err != nil {
		c.kill(runtime, name)
		if ctx.Err() != nil {
			return &Result{Status: StatusError, ExitCode: -1}, ctx.Err()
		}
		return &Result{Status: StatusError, ExitCode: -1, Stderr: err.Error()},
			fmt.Errorf("%w: %v", global.ErrSandboxUnavailable, err)
	}
	if timedOut {
		c.kill(runtime, name)
	}

	logCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	stdout, stderr, logErr := c.cli(logCtx, runtime, "logs", name)
	if logErr != nil {
		c.logger.Warnf("Container sandbox: failed to read logs of %s: %v", name, logErr)
	}

	res = &Result{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}
	switch {
	case timedOut:
		res.Status = StatusTimeout
		res.ExitCode = -1
		res.Stderr += fmt.Sprintf("\nexecution timed out after %s", c.timeout)
		c.logger.Warnf("Container sandbox: %s killed after %s", name, c.timeout)
	case exitCode != 0:
		res.Status = StatusFailed
	default:
		res.Status = StatusSuccess
	}
	return res, nil
}

func (c *Container) runArgs(name, code string) []string {
	args := []string{
		"run", "-d",
		"--name", name,
		"--network", "none",
		"--memory", c.memory,
		"-v", c.workDir + ":" + global.ContainerWorkDir + ":rw",
	}
	dataDir := ""
	if c.dataDir != "" {
		args = append(args, "-v", c.dataDir+":"+global.ContainerDataDir+":ro")
		dataDir = global.ContainerDataDir
	}
	args = append(args, "-w", global.ContainerWorkDir)
	for _, env := range environment(global.ContainerWorkDir, dataDir) {
		args = append(args, "-e", env)
	}
	args = append(args, c.image)
	args = append(args, c.interpreter...)
	return append(args, "-c", code)
}

// wait polls the container state. It returns the exit code once the container
// has stopped, or timedOut when the deadline passes first.
func (c *Container) wait(ctx context.Context, runtime, name string) (exitCode int, timedOut bool, err error) {
	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return -1, false, ctx.Err()
		case <-deadline.C:
			return -1, true, nil
		case <-ticker.C:
			out, stderr, err := c.cli(ctx, runtime, "inspect", "-f", "{{.State.Status}} {{.State.ExitCode}}", name)
			if err != nil {
				if ctx.Err() != nil {
					return -1, false, ctx.Err()
				}
				return -1, false, fmt.Errorf("inspect %s: %v: %s", name, err, strings.TrimSpace(stderr))
			}
			state, code, ok := parseState(out)
			if !ok {
				c.logger.Debugf("Container sandbox: unexpected state %q for %s", strings.TrimSpace(out), name)
				continue
			}
			if state == "exited" || state == "dead" {
				return code, false, nil
			}
		}
	}
}

func parseState(out string) (state string, exitCode int, ok bool) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return "", 0, false
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, false
	}
	return fields[0], code, true
}

func (c *Container) kill(runtime, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if _, stderr, err := c.cli(ctx, runtime, "kill", name); err != nil {
		c.logger.Debugf("Container sandbox: kill %s: %v: %s", name, err, strings.TrimSpace(stderr))
	}
}

// remove runs with its own context so a cancelled run still cleans up
func (c *Container) remove(runtime, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if _, stderr, err := c.cli(ctx, runtime, "rm", "-f", name); err != nil {
		c.logger.Warnf("Container sandbox: failed to remove %s: %v: %s", name, err, strings.TrimSpace(stderr))
	}
}

func (c *Container) cli(ctx context.Context, runtime string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, runtime, args...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = fmt.Errorf("%s %s exited with code %d", runtime, args[0], exitErr.ExitCode())
	}
	return stdout.String(), stderr.String(), err
}
