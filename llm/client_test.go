/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/PivotLLM/Planwright/config"
	"github.com/PivotLLM/Planwright/logging"
)

func testLLMs() []config.LLM {
	return []config.LLM{
		{ID: "echo", DisplayName: "Echo", Description: "args", Enabled: true,
			Command: "/bin/echo", Args: []string{"reply:", "{{PROMPT}}"}},
		{ID: "cat", DisplayName: "Cat", Description: "stdin", Enabled: true,
			Command: "/bin/cat", Stdin: true},
		{ID: "fail", DisplayName: "Fail", Description: "exits 3", Enabled: true,
			Command: "/bin/sh", Args: []string{"-c", "echo broken >&2; exit 3", "{{PROMPT}}"}},
		{ID: "off", DisplayName: "Off", Description: "disabled",
			Command: "/bin/echo", Args: []string{"{{PROMPT}}"}},
		{ID: "missing", DisplayName: "Missing", Description: "no binary", Enabled: true,
			Command: "/nonexistent/llm", Args: []string{"{{PROMPT}}"}},
		{ID: "slow", DisplayName: "Slow", Description: "sleeps", Enabled: true,
			Command: "/bin/sh", Args: []string{"-c", "exec sleep 5", "{{PROMPT}}"}},
	}
}

func newTestService(opts ...Option) *Service {
	return NewService(testLLMs(), logging.NewWriter(io.Discard), opts...)
}

func TestCompleteArgsAndStdin(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	out, err := s.Complete(ctx, "echo", "hello world")
	if err != nil {
		t.Fatalf("Complete(echo) error = %v", err)
	}
	if out != "reply: hello world" {
		t.Errorf("Complete(echo) = %q", out)
	}

	out, err = s.Complete(ctx, "cat", "piped prompt")
	if err != nil {
		t.Fatalf("Complete(cat) error = %v", err)
	}
	if out != "piped prompt" {
		t.Errorf("Complete(cat) = %q", out)
	}
}

func TestCompleteErrors(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	tests := []struct {
		name    string
		llmID   string
		prompt  string
		wantMsg string
	}{
		{"non-zero exit", "fail", "x", "exited with code 3"},
		{"disabled", "off", "x", "not enabled"},
		{"unknown", "nope", "x", "unknown LLM ID"},
		{"empty prompt", "echo", "", "prompt is required"},
		{"missing binary", "missing", "x", "infrastructure failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Complete(ctx, tt.llmID, tt.prompt)
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Complete() error = %v, want containing %q", err, tt.wantMsg)
			}
		})
	}
}

func TestDispatchReportsExitCode(t *testing.T) {
	s := newTestService()
	result, err := s.Dispatch(context.Background(), &DispatchRequest{LLMID: "fail", Prompt: "x"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result.ExitCode != 3 || result.Stderr != "broken" {
		t.Errorf("Dispatch() = %+v", result)
	}
}

func TestDispatchHonoursContext(t *testing.T) {
	s := newTestService()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Dispatch(ctx, &DispatchRequest{LLMID: "slow", Prompt: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Dispatch() error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("Dispatch() did not stop at the context deadline")
	}
}

func TestDispatchTimeout(t *testing.T) {
	s := newTestService(WithTimeout(1))
	_, err := s.Dispatch(context.Background(), &DispatchRequest{LLMID: "slow", Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Dispatch() error = %v, want timeout", err)
	}
}

func TestListLLMsKeepsOrder(t *testing.T) {
	infos := newTestService().ListLLMs()
	if len(infos) != 6 || infos[0].ID != "echo" || infos[5].ID != "slow" {
		t.Fatalf("ListLLMs() = %+v", infos)
	}
	if infos[1].PromptInput != "stdin" || infos[0].PromptInput != "args" {
		t.Error("PromptInput not reported correctly")
	}
	if infos[3].Enabled {
		t.Error("disabled LLM reported as enabled")
	}
}

func TestTestLLM(t *testing.T) {
	s := newTestService()
	ok, err := s.TestLLM(context.Background(), "echo")
	if err != nil || !ok {
		t.Errorf("TestLLM(echo) = %v, %v", ok, err)
	}
	ok, err = s.TestLLM(context.Background(), "fail")
	if err != nil || ok {
		t.Errorf("TestLLM(fail) = %v, %v", ok, err)
	}
}
