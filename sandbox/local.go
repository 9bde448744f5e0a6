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
	"os"
	"os/exec"
	"time"

	"github.com/PivotLLM/Planwright/global"
)

// waitDelay bounds how long output pipes may stay open after the process is killed
const waitDelay = 2 * time.Second

// Local runs code as a subprocess of this process. It provides a deadline and
// a scoped environment but no isolation.
type Local struct {
	workDir string
	settings
}

// NewLocal creates a local subprocess backend running in workDir
func NewLocal(workDir string, opts ...Option) *Local {
	return &Local{workDir: workDir, settings: newSettings(opts)}
}

// Execute writes code to a temporary file and runs it with the interpreter
func (l *Local) Execute(ctx context.Context, code string) (res *Result, err error) {
	ctx, done := observe(ctx, global.SandboxBackendLocal)
	defer func() { done(res, err) }()

	interpreter, err := exec.LookPath(l.interpreter[0])
	if err != nil {
		return &Result{Status: StatusError, ExitCode: -1, Stderr: err.Error()},
			fmt.Errorf("%w: interpreter %s: %v", global.ErrSandboxUnavailable, l.interpreter[0], err)
	}

	script, err := os.CreateTemp("", "planwright-*.py")
	if err != nil {
		return &Result{Status: StatusError, ExitCode: -1, Stderr: err.Error()},
			fmt.Errorf("%w: %v", global.ErrSandboxUnavailable, err)
	}
	defer func() { _ = os.Remove(script.Name()) }()
	_, werr := script.WriteString(code)
	cerr := script.Close()
	if werr != nil || cerr != nil {
		return &Result{Status: StatusError, ExitCode: -1, Stderr: errors.Join(werr, cerr).Error()},
			fmt.Errorf("%w: failed to write script: %v", global.ErrSandboxUnavailable, errors.Join(werr, cerr))
	}

	runCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	args := append(append([]string{}, l.interpreter[1:]...), script.Name())
	cmd := exec.CommandContext(runCtx, interpreter, args...)
	cmd.Dir = l.workDir
	cmd.Env = append(os.Environ(), environment(l.workDir, l.dataDir)...)
	cmd.WaitDelay = waitDelay
	configureProcess(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	l.logger.Debugf("Local sandbox: running %s (timeout %s)", script.Name(), l.timeout)
	runErr := cmd.Run()

	res = &Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctx.Err() != nil {
		res.Status = StatusError
		res.ExitCode = -1
		return res, ctx.Err()
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.Status = StatusTimeout
		res.ExitCode = -1
		res.Stderr += fmt.Sprintf("\nexecution timed out after %s", l.timeout)
		l.logger.Warnf("Local sandbox: execution timed out after %s", l.timeout)
		return res, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.Status = StatusFailed
			res.ExitCode = exitErr.ExitCode()
			l.logger.Debugf("Local sandbox: exited with code %d", res.ExitCode)
			return res, nil
		}
		res.Status = StatusError
		res.ExitCode = -1
		res.Stderr += runErr.Error()
		l.logger.Errorf("Local sandbox: failed to run interpreter: %v", runErr)
		return res, fmt.Errorf("%w: %v", global.ErrSandboxUnavailable, runErr)
	}

	res.Status = StatusSuccess
	return res, nil
}
