/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/PivotLLM/Planwright/global"
)

func echoLLM(id string) LLM {
	return LLM{
		ID:          id,
		DisplayName: "Test " + id,
		Type:        "command",
		Command:     "/bin/echo",
		Args:        []string{"{{PROMPT}}"},
		Description: "Test LLM",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		config    *configData
		wantError bool
	}{
		{
			name: "valid config",
			config: &configData{
				Version: 1,
				BaseDir: "/tmp/planwright",
				LLMs:    []LLM{echoLLM("test")},
			},
			wantError: false,
		},
		{
			name:      "invalid version",
			config:    &configData{Version: 2},
			wantError: true,
		},
		{
			name: "empty LLMs",
			config: &configData{
				Version: 1,
				LLMs:    []LLM{},
			},
			wantError: true,
		},
		{
			name: "missing prompt placeholder",
			config: &configData{
				Version: 1,
				LLMs: []LLM{{
					ID: "x", DisplayName: "X", Description: "X",
					Command: "/bin/echo", Args: []string{"hello"},
				}},
			},
			wantError: true,
		},
		{
			name: "stdin LLM without placeholder",
			config: &configData{
				Version: 1,
				LLMs: []LLM{{
					ID: "x", DisplayName: "X", Description: "X",
					Command: "/bin/cat", Stdin: true,
				}},
			},
			wantError: false,
		},
		{
			name: "duplicate LLM id",
			config: &configData{
				Version: 1,
				LLMs:    []LLM{echoLLM("a"), echoLLM("a")},
			},
			wantError: true,
		},
		{
			name: "unsupported LLM type",
			config: &configData{
				Version: 1,
				LLMs: []LLM{{
					ID: "x", DisplayName: "X", Description: "X", Type: "http",
					Command: "/bin/echo", Args: []string{"{{PROMPT}}"},
				}},
			},
			wantError: true,
		},
		{
			name: "default_llm not found",
			config: &configData{
				Version:    1,
				DefaultLLM: "nonexistent",
				LLMs:       []LLM{echoLLM("claude")},
			},
			wantError: true,
		},
		{
			name: "role references unknown LLM",
			config: &configData{
				Version: 1,
				LLMs:    []LLM{echoLLM("claude")},
				Roles:   Roles{Similarity: "gpt"},
			},
			wantError: true,
		},
		{
			name: "unknown sandbox backend",
			config: &configData{
				Version: 1,
				LLMs:    []LLM{echoLLM("claude")},
				Sandbox: Sandbox{Backend: "vm"},
			},
			wantError: true,
		},
		{
			name: "unknown container runtime",
			config: &configData{
				Version: 1,
				LLMs:    []LLM{echoLLM("claude")},
				Sandbox: Sandbox{Runtime: "lxc"},
			},
			wantError: true,
		},
		{
			name: "sandbox timeout too large",
			config: &configData{
				Version: 1,
				LLMs:    []LLM{echoLLM("claude")},
				Sandbox: Sandbox{TimeoutSeconds: global.MaxSandboxTimeout + 1},
			},
			wantError: true,
		},
		{
			name: "redesign before third attempt",
			config: &configData{
				Version: 1,
				LLMs:    []LLM{echoLLM("claude")},
				Engine:  Engine{RedesignFromAttempt: 2},
			},
			wantError: true,
		},
		{
			name: "unknown failure policy",
			config: &configData{
				Version: 1,
				LLMs:    []LLM{echoLLM("claude")},
				Engine:  Engine{FailurePolicy: "yolo"},
			},
			wantError: true,
		},
		{
			name: "simplify score out of range",
			config: &configData{
				Version: 1,
				LLMs:    []LLM{echoLLM("claude")},
				Engine:  Engine{SimplifyMinScore: 1.5},
			},
			wantError: true,
		},
		{
			name: "full engine and sandbox sections",
			config: &configData{
				Version:    1,
				DefaultLLM: "claude",
				LLMs:       []LLM{echoLLM("claude"), echoLLM("fast")},
				Roles:      Roles{Classifier: "fast", Similarity: "fast"},
				Sandbox: Sandbox{
					Backend: global.SandboxBackendLocal, Interpreter: "python3", TimeoutSeconds: 30,
				},
				Engine: Engine{
					MaxAttempts: 4, RedesignFromAttempt: 3, FailurePolicy: global.FailurePolicyStrict,
				},
			},
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{data: tt.config}
			err := cfg.validate()
			if (err != nil) != tt.wantError {
				t.Errorf("validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestValidateDisablesMissingExecutable(t *testing.T) {
	missing := echoLLM("ghost")
	missing.Command = "/nonexistent/llm-binary"
	missing.Enabled = true

	cfg := &Config{data: &configData{Version: 1, LLMs: []LLM{missing}}}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	if cfg.data.LLMs[0].Enabled {
		t.Error("LLM with missing executable should be disabled")
	}
	if cfg.HasEnabledLLM() {
		t.Error("HasEnabledLLM() = true, want false")
	}
}

func TestExpandHomePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantHome bool
	}{
		{name: "absolute path", path: "/usr/local/bin"},
		{name: "home path", path: "~/documents", wantHome: true},
		{name: "relative path", path: "relative/path"},
	}

	home, _ := os.UserHomeDir()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandHomePath(tt.path)
			if tt.wantHome {
				expected := filepath.Join(home, "documents")
				if result != expected {
					t.Errorf("expandHomePath(%s) = %s, want %s", tt.path, result, expected)
				}
			} else if result != tt.path {
				t.Errorf("expandHomePath(%s) = %s, want %s", tt.path, result, tt.path)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	cfg := &Config{data: &configData{BaseDir: "/base/dir"}}

	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{"absolute path", "/absolute/path", "/absolute/path"},
		{"relative path", "relative/path", "/base/dir/relative/path"},
		{"empty path", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := cfg.resolvePath(tt.path); result != tt.expected {
				t.Errorf("resolvePath(%s) = %s, want %s", tt.path, result, tt.expected)
			}
		})
	}
}

func TestGetters(t *testing.T) {
	cfg := &Config{
		data: &configData{
			Version:    1,
			BaseDir:    "/base/dir",
			DefaultLLM: "llm1",
			LLMs: []LLM{
				{ID: "llm1", DisplayName: "LLM 1", Enabled: true},
				{ID: "llm2", DisplayName: "LLM 2"},
			},
			Roles: Roles{Similarity: "llm2"},
			Logging: Logging{
				File:  "/var/log/planwright.log",
				Level: "INFO",
			},
		},
		plansDir:  "/base/dir/plans",
		outputDir: "/base/dir/output",
	}

	if cfg.BaseDir() != "/base/dir" {
		t.Errorf("BaseDir() = %s, want /base/dir", cfg.BaseDir())
	}
	if cfg.PlansDir() != "/base/dir/plans" {
		t.Errorf("PlansDir() = %s", cfg.PlansDir())
	}
	if cfg.OutputDir() != "/base/dir/output" {
		t.Errorf("OutputDir() = %s", cfg.OutputDir())
	}
	if len(cfg.LLMs()) != 2 {
		t.Errorf("LLMs() length = %d, want 2", len(cfg.LLMs()))
	}
	if llm := cfg.GetLLM("llm2"); llm == nil || llm.DisplayName != "LLM 2" {
		t.Errorf("GetLLM(llm2) = %+v", llm)
	}
	if cfg.GetLLM("missing") != nil {
		t.Error("GetLLM(missing) should return nil")
	}
	if cfg.DefaultLLM() != "llm1" {
		t.Errorf("DefaultLLM() = %s, want llm1", cfg.DefaultLLM())
	}

	roles := cfg.Roles()
	if roles.Codegen != "llm1" || roles.Classifier != "llm1" || roles.Answer != "llm1" {
		t.Errorf("Roles() did not fall back to default: %+v", roles)
	}
	if roles.Similarity != "llm2" {
		t.Errorf("Roles().Similarity = %s, want llm2", roles.Similarity)
	}

	if cfg.LogFile() != "/var/log/planwright.log" {
		t.Errorf("LogFile() = %s", cfg.LogFile())
	}
	if cfg.LogLevel() != "INFO" {
		t.Errorf("LogLevel() = %s", cfg.LogLevel())
	}
}

func TestDefaultLLMFallsBackToFirstEnabled(t *testing.T) {
	cfg := &Config{data: &configData{LLMs: []LLM{
		{ID: "off"},
		{ID: "on", Enabled: true},
	}}}
	if cfg.DefaultLLM() != "on" {
		t.Errorf("DefaultLLM() = %q, want on", cfg.DefaultLLM())
	}

	cfg = &Config{data: &configData{LLMs: []LLM{{ID: "off"}}}}
	if cfg.DefaultLLM() != "" {
		t.Errorf("DefaultLLM() = %q, want empty", cfg.DefaultLLM())
	}
}

func TestSandboxDefaults(t *testing.T) {
	cfg := &Config{data: &configData{}}
	s := cfg.Sandbox()

	if s.Backend != global.SandboxBackendContainer {
		t.Errorf("Backend = %s", s.Backend)
	}
	if s.Runtime != global.RuntimeDocker {
		t.Errorf("Runtime = %s", s.Runtime)
	}
	if s.Image != global.DefaultSandboxImage || s.Interpreter != global.DefaultInterpreter {
		t.Errorf("Image/Interpreter = %s/%s", s.Image, s.Interpreter)
	}
	if s.TimeoutSeconds != global.DefaultSandboxTimeout {
		t.Errorf("TimeoutSeconds = %d", s.TimeoutSeconds)
	}
	if s.Memory != global.DefaultSandboxMemory || s.PollIntervalMS != global.DefaultPollIntervalMS {
		t.Errorf("Memory/PollIntervalMS = %s/%d", s.Memory, s.PollIntervalMS)
	}

	cfg = &Config{data: &configData{Sandbox: Sandbox{Backend: "local", TimeoutSeconds: 15}}}
	if s := cfg.Sandbox(); s.Backend != "local" || s.TimeoutSeconds != 15 {
		t.Errorf("explicit sandbox values not kept: %+v", s)
	}
}

func TestEngineDefaults(t *testing.T) {
	cfg := &Config{data: &configData{}}
	e := cfg.Engine()

	if e.MaxAttempts != global.DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d", e.MaxAttempts)
	}
	if e.RedesignFromAttempt != global.DefaultRedesignFromAttempt {
		t.Errorf("RedesignFromAttempt = %d", e.RedesignFromAttempt)
	}
	if e.FailurePolicy != global.FailurePolicyBestEffort {
		t.Errorf("FailurePolicy = %s", e.FailurePolicy)
	}
	if e.MaxConcurrent != global.DefaultMaxConcurrent {
		t.Errorf("MaxConcurrent = %d", e.MaxConcurrent)
	}
	if e.ContextExcerptLimit != global.DefaultContextExcerptLimit {
		t.Errorf("ContextExcerptLimit = %d", e.ContextExcerptLimit)
	}
	if e.CollaboratorTimeoutSeconds != global.DefaultCollaboratorTimeout {
		t.Errorf("CollaboratorTimeoutSeconds = %d", e.CollaboratorTimeoutSeconds)
	}
	if e.RateLimit.MaxRequests != global.DefaultRateLimitRequests || e.RateLimit.PeriodSeconds != global.DefaultRateLimitPeriod {
		t.Errorf("RateLimit = %+v", e.RateLimit)
	}
}

func TestLLMTypeMethods(t *testing.T) {
	llm := LLM{}
	if llm.GetType() != LLMTypeCommand {
		t.Errorf("GetType() = %s, want command", llm.GetType())
	}
	if !llm.IsCommandType() {
		t.Error("IsCommandType() = false for default type")
	}
	llm.Type = "http"
	if llm.IsCommandType() {
		t.Error("IsCommandType() = true for http type")
	}
}

func TestNormalizePaths(t *testing.T) {
	base := t.TempDir()
	cfg := &Config{data: &configData{
		BaseDir:   base,
		PlansDir:  "my-plans",
		OutputDir: filepath.Join(base, "abs-output"),
		Logging:   Logging{File: "logs/run.log"},
	}}

	if err := cfg.normalizePaths(); err != nil {
		t.Fatalf("normalizePaths() error = %v", err)
	}

	if cfg.PlansDir() != filepath.Join(base, "my-plans") {
		t.Errorf("PlansDir() = %s", cfg.PlansDir())
	}
	if cfg.OutputDir() != filepath.Join(base, "abs-output") {
		t.Errorf("OutputDir() = %s", cfg.OutputDir())
	}
	if !global.DirExists(cfg.PlansDir()) || !global.DirExists(cfg.OutputDir()) {
		t.Error("normalizePaths() should create plans and output directories")
	}
	if cfg.LogFile() != filepath.Join(base, "logs/run.log") {
		t.Errorf("LogFile() = %s", cfg.LogFile())
	}
}

func TestNormalizePathsDefaults(t *testing.T) {
	base := t.TempDir()
	cfg := &Config{data: &configData{BaseDir: base}}

	if err := cfg.normalizePaths(); err != nil {
		t.Fatalf("normalizePaths() error = %v", err)
	}
	if cfg.PlansDir() != filepath.Join(base, global.DefaultPlansDir) {
		t.Errorf("PlansDir() = %s", cfg.PlansDir())
	}
	if cfg.OutputDir() != filepath.Join(base, global.DefaultOutputDir) {
		t.Errorf("OutputDir() = %s", cfg.OutputDir())
	}
	if cfg.LogFile() != filepath.Join(base, "planwright.log") {
		t.Errorf("LogFile() = %s", cfg.LogFile())
	}
}

func TestParseConfigToleratesUnknownFields(t *testing.T) {
	data := []byte(`{"version": 1, "llms": [], "legacy_option": true, "engine": {"max_attempts": 3}}`)
	cfg, err := parseConfig("test.json", data)
	if err != nil {
		t.Fatalf("parseConfig() error = %v", err)
	}
	if cfg.Version != 1 || cfg.Engine.MaxAttempts != 3 {
		t.Errorf("parseConfig() = %+v", cfg)
	}

	if _, err := parseConfig("bad.json", []byte(`{"version": `)); err == nil {
		t.Error("parseConfig() should fail on malformed JSON")
	}
}

func TestLoadWithExplicitPath(t *testing.T) {
	base := t.TempDir()
	t.Setenv("HOME", base)
	path := filepath.Join(base, "config.json")
	content := `{
  "version": 1,
  "base_dir": "` + base + `",
  "default_llm": "echo",
  "llms": [{"id": "echo", "display_name": "Echo", "description": "Echo", "command": "/bin/echo", "args": ["{{PROMPT}}"]}],
  "engine": {"failure_policy": "strict"},
  "logging": {"file": "", "level": "DEBUG"}
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := New(WithConfigPath(path))
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.IsFirstRun() {
		t.Error("IsFirstRun() = true for existing config")
	}
	if cfg.ConfigPath() != path {
		t.Errorf("ConfigPath() = %s", cfg.ConfigPath())
	}
	if cfg.Engine().FailurePolicy != global.FailurePolicyStrict {
		t.Errorf("Engine().FailurePolicy = %s", cfg.Engine().FailurePolicy)
	}
	if !global.DirExists(filepath.Join(base, global.DefaultPlansDir)) {
		t.Error("Load() should create the plans directory")
	}
}
