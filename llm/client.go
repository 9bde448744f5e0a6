/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/PivotLLM/Planwright/config"
	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/logging"
)

// Service provides LLM dispatch functionality
type Service struct {
	logger    *logging.Logger
	llmConfig map[string]*config.LLM
	order     []string
	limiter   *RateLimiter
	timeout   int // seconds
}

// Option configures a Service
type Option func(*Service)

// WithRateLimit bounds the number of dispatches in a sliding window
func WithRateLimit(maxRequests, periodSeconds int) Option {
	return func(s *Service) {
		if maxRequests > 0 && periodSeconds > 0 {
			s.limiter = NewRateLimiter(maxRequests, periodSeconds)
		}
	}
}

// WithTimeout sets the default per-call timeout in seconds
func WithTimeout(seconds int) Option {
	return func(s *Service) {
		if seconds > 0 {
			s.timeout = seconds
		}
	}
}

// DispatchRequest represents a request to dispatch work to an LLM
type DispatchRequest struct {
	LLMID   string `json:"llm_id"`
	Prompt  string `json:"prompt"`
	Timeout int    `json:"timeout,omitempty"` // seconds, 0 uses the service default
}

// DispatchResult represents the result of an LLM dispatch
// This is returned when the LLM command was invoked (any exit code).
// For infrastructure failures (command not found, permission denied), Dispatch returns (nil, error).
type DispatchResult struct {
	ExitCode     int    `json:"exit_code"` // Command exit code (0 = success, non-zero = LLM error)
	Stdout       string `json:"stdout"`
	Stderr       string `json:"stderr"`
	ResponseSize int    `json:"response_size,omitempty"`
}

// NewService creates a new LLM service over the given LLM definitions
func NewService(llms []config.LLM, logger *logging.Logger, opts ...Option) *Service {
	s := &Service{
		logger:    logger,
		llmConfig: make(map[string]*config.LLM),
		timeout:   global.DefaultCollaboratorTimeout,
	}
	for i := range llms {
		llm := llms[i]
		s.llmConfig[llm.ID] = &llm
		s.order = append(s.order, llm.ID)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LLMInfo represents information about a configured LLM
//
//goland:noinspection GoNameStartsWithPackageName
type LLMInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	PromptInput string `json:"prompt_input"` // "stdin" or "args"
}

// ListLLMs returns information about all configured LLMs in configuration order
func (s *Service) ListLLMs() []LLMInfo {
	infos := make([]LLMInfo, 0, len(s.order))
	for _, id := range s.order {
		llm := s.llmConfig[id]
		promptInput := "args"
		if llm.Stdin {
			promptInput = "stdin"
		}
		infos = append(infos, LLMInfo{
			ID:          llm.ID,
			DisplayName: llm.DisplayName,
			Description: llm.Description,
			Enabled:     llm.Enabled,
			PromptInput: promptInput,
		})
	}
	return infos
}

// validateRequest validates a dispatch request
func (s *Service) validateRequest(req *DispatchRequest) (*config.LLM, error) {
	if req.LLMID == "" {
		return nil, fmt.Errorf("llm_id is required")
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	llm, exists := s.llmConfig[req.LLMID]
	if !exists {
		return nil, fmt.Errorf("unknown LLM ID: %s", req.LLMID)
	}
	if !llm.Enabled {
		return nil, fmt.Errorf("LLM %s is not enabled - set enabled: true in config to use it", req.LLMID)
	}
	return llm, nil
}

// Dispatch dispatches work to an LLM, waiting on the rate limiter first
func (s *Service) Dispatch(ctx context.Context, req *DispatchRequest) (*DispatchResult, error) {
	llm, err := s.validateRequest(req)
	if err != nil {
		return nil, err
	}

	timeout := s.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	s.logger.Debugf("Dispatching to LLM %s (timeout: %ds, prompt %d bytes)", req.LLMID, timeout, len(req.Prompt))
	return s.callCommandLLM(ctx, llm, req.Prompt, timeout)
}

// Complete sends a prompt and returns stdout. A non-zero exit or empty reply is an error.
func (s *Service) Complete(ctx context.Context, llmID, prompt string) (string, error) {
	result, err := s.Dispatch(ctx, &DispatchRequest{LLMID: llmID, Prompt: prompt})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		msg := result.Stderr
		if msg == "" {
			msg = result.Stdout
		}
		return "", fmt.Errorf("LLM %s exited with code %d: %s", llmID, result.ExitCode, truncate(msg, 500))
	}
	if result.Stdout == "" {
		return "", fmt.Errorf("LLM %s returned an empty response", llmID)
	}
	return result.Stdout, nil
}

// TestLLM sends a simple test prompt to verify LLM availability
// Returns (true, nil) if LLM responds successfully
// Returns (false, nil) if the LLM ran but exited non-zero
// Returns (false, error) if infrastructure error prevents test
func (s *Service) TestLLM(ctx context.Context, llmID string) (bool, error) {
	result, err := s.Dispatch(ctx, &DispatchRequest{
		LLMID:   llmID,
		Prompt:  "Respond with only the word OK",
		Timeout: 60,
	})
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

// callCommandLLM executes a command-line LLM
func (s *Service) callCommandLLM(parent context.Context, llm *config.LLM, prompt string, timeout int) (*DispatchResult, error) {
	// Build args - substitute {{PROMPT}} unless using stdin
	var args []string
	if llm.Stdin {
		args = llm.Args
	} else {
		args = make([]string, len(llm.Args))
		for i, arg := range llm.Args {
			args[i] = strings.ReplaceAll(arg, "{{PROMPT}}", prompt)
		}
	}

	s.logger.Debugf("Executing command: %s (%d args, stdin: %v)", llm.Command, len(args), llm.Stdin)

	ctx, cancel := context.WithTimeout(parent, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, llm.Command, args...)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if llm.Stdin {
		cmd.Stdin = strings.NewReader(prompt)
	}

	err := cmd.Run()

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	output := strings.TrimSpace(stdout.String())
	stderrOutput := strings.TrimSpace(stderr.String())

	if err != nil {
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.Errorf("LLM command timed out after %d seconds", timeout)
			return nil, fmt.Errorf("command timed out after %d seconds", timeout)
		}

		// Not an ExitError means the command could not start at all
		var execErr *exec.ExitError
		if !errors.As(err, &execErr) {
			s.logger.Errorf("LLM command infrastructure failure: %v", err)
			return nil, fmt.Errorf("infrastructure failure: %w", err)
		}
	}

	s.logger.Debugf("LLM command exited with code %d, returned %d bytes, stderr %d bytes", exitCode, len(output), len(stderrOutput))
	if exitCode != 0 {
		s.logger.Warnf("LLM command exited with non-zero code %d", exitCode)
	}

	return &DispatchResult{
		ExitCode:     exitCode,
		Stdout:       output,
		Stderr:       stderrOutput,
		ResponseSize: len(output),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
