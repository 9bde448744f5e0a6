/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package config

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/PivotLLM/Planwright/global"
)

// embeddedConfigExample is the path of the default config inside the embedded FS
const embeddedConfigExample = "docs/config-example.json"

// setupDefaultConfig creates a default config file from the embedded config-example.json
func (c *Config) setupDefaultConfig(configPath string) error {
	content, err := c.embeddedFS.ReadFile(embeddedConfigExample)
	if err != nil {
		return fmt.Errorf("failed to read embedded config-example.json: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}

	return nil
}

// Config provides access to application configuration
type Config struct {
	configPath string      // resolved path to config file
	data       *configData // parsed configuration
	firstRun   bool        // true if config was just created
	plansDir   string      // resolved plans directory
	outputDir  string      // resolved default output directory
	embeddedFS embed.FS    // embedded default configuration
}

// configData holds the parsed configuration (internal)
type configData struct {
	Version            int     `json:"version"`
	BaseDir            string  `json:"base_dir"`
	PlansDir           string  `json:"plans_dir,omitempty"`
	OutputDir          string  `json:"output_dir,omitempty"`
	DefaultLLM         string  `json:"default_llm,omitempty"`
	LLMs               []LLM   `json:"llms"`
	Roles              Roles   `json:"roles,omitempty"`
	Sandbox            Sandbox `json:"sandbox,omitempty"`
	Engine             Engine  `json:"engine,omitempty"`
	Logging            Logging `json:"logging"`
	MarkNonDestructive bool    `json:"mark_non_destructive,omitempty"`
}

// LLMTypeCommand LLMType constants
const (
	LLMTypeCommand = "command" // Command-line executable (only supported type for now)
)

// LLM represents an LLM configuration
type LLM struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled,omitempty"`

	// Type specifies the provider type (only "command" supported for now)
	Type string `json:"type,omitempty"`

	// Command is the path to the executable
	Command string `json:"command,omitempty"`
	// Args is the list of arguments; use {{PROMPT}} as placeholder for the prompt (unless Stdin is true)
	Args []string `json:"args,omitempty"`
	// Stdin: if true, prompt is piped to command's stdin instead of using {{PROMPT}} placeholder
	Stdin bool `json:"stdin,omitempty"`
}

// Roles maps each collaborator to an LLM id. Empty roles use default_llm.
type Roles struct {
	Codegen    string `json:"codegen,omitempty"`
	Classifier string `json:"classifier,omitempty"`
	Answer     string `json:"answer,omitempty"`
	Similarity string `json:"similarity,omitempty"`
}

// Sandbox configures where generated code runs
type Sandbox struct {
	Backend        string `json:"backend,omitempty"`     // "container" or "local"
	Runtime        string `json:"runtime,omitempty"`     // "docker" or "podman"
	Image          string `json:"image,omitempty"`       // container image
	Interpreter    string `json:"interpreter,omitempty"` // local backend interpreter
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Memory         string `json:"memory,omitempty"`
	PollIntervalMS int    `json:"poll_interval_ms,omitempty"`
}

// Engine configures scheduling, retries and collaborator calls
type Engine struct {
	MaxAttempts                int       `json:"max_attempts,omitempty"`
	RedesignFromAttempt        int       `json:"redesign_from_attempt,omitempty"`
	FailurePolicy              string    `json:"failure_policy,omitempty"`
	MaxConcurrent              int       `json:"max_concurrent,omitempty"`
	ContextExcerptLimit        int       `json:"context_excerpt_limit,omitempty"`
	CollaboratorTimeoutSeconds int       `json:"collaborator_timeout_seconds,omitempty"`
	RateLimit                  RateLimit `json:"rate_limit,omitempty"`
	SimplifyMinScore           float64   `json:"simplify_min_score,omitempty"`
}

// RateLimit represents rate limiting configuration for LLM calls
type RateLimit struct {
	MaxRequests   int `json:"max_requests,omitempty"`
	PeriodSeconds int `json:"period_seconds,omitempty"`
}

// Logging represents logging configuration
type Logging struct {
	File  string `json:"file"`
	Level string `json:"level"`
}

// Option is a functional option for configuring Config
type Option func(*Config)

// New creates a new Config instance with optional configuration
func New(opts ...Option) *Config {
	c := &Config{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithConfigPath sets an explicit config file path
func WithConfigPath(path string) Option {
	return func(c *Config) {
		c.configPath = path
	}
}

// WithEmbeddedFS sets the embedded filesystem holding the default configuration
func WithEmbeddedFS(efs embed.FS) Option {
	return func(c *Config) {
		c.embeddedFS = efs
	}
}

// Load loads and validates configuration from file
// If the base directory or config file doesn't exist, it creates them from embedded defaults
func (c *Config) Load() error {
	configPath, err := c.resolveConfigPath()
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	c.configPath = configPath

	baseDir := c.resolveDefaultBaseDir()
	if !global.DirExists(baseDir) {
		if err := os.MkdirAll(baseDir, 0755); err != nil {
			return fmt.Errorf("failed to create base directory %s: %w", baseDir, err)
		}
	}

	if !global.FileExists(configPath) {
		c.firstRun = true
		if err := c.setupDefaultConfig(configPath); err != nil {
			return fmt.Errorf("failed to create default config at %s: %w", configPath, err)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg, err := parseConfig(configPath, data)
	if err != nil {
		return err
	}
	c.data = cfg

	c.resolveBaseDir()

	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.normalizePaths(); err != nil {
		return fmt.Errorf("failed to normalize paths: %w", err)
	}

	return nil
}

// parseConfig decodes the config strictly, falling back to lenient parsing on unknown fields
func parseConfig(configPath string, data []byte) (*configData, error) {
	var cfg configData
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		if !strings.Contains(err.Error(), "unknown field") {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
		_, _ = fmt.Fprintf(os.Stderr, "Warning: config file %s: %v\n", configPath, err)
		cfg = configData{}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}
	return &cfg, nil
}

// resolveConfigPath determines the config file path using precedence rules
func (c *Config) resolveConfigPath() (string, error) {
	// 1. Explicit path (from WithConfigPath option)
	if c.configPath != "" {
		return resolveToAbsolute(c.configPath)
	}

	// 2. Environment variable
	if envPath := os.Getenv(global.ConfigEnvVar); envPath != "" {
		return resolveToAbsolute(envPath)
	}

	// 3. Default: base_dir/config.json
	return filepath.Join(c.resolveDefaultBaseDir(), global.DefaultConfigFileName), nil
}

// resolveDefaultBaseDir returns the resolved default base directory
func (c *Config) resolveDefaultBaseDir() string {
	return expandHomePath(global.DefaultBaseDir)
}

// resolveBaseDir resolves the base_dir from config, falling back to the default
func (c *Config) resolveBaseDir() {
	if c.data.BaseDir == "" {
		c.data.BaseDir = expandHomePath(global.DefaultBaseDir)
		return
	}

	resolved := expandHomePath(c.data.BaseDir)
	if !filepath.IsAbs(resolved) {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: base_dir '%s' is not absolute, using default '%s'\n",
			c.data.BaseDir, global.DefaultBaseDir)
		resolved = expandHomePath(global.DefaultBaseDir)
	}
	c.data.BaseDir = resolved
}

// resolveToAbsolute converts a path to absolute, expanding ~/ if needed
func resolveToAbsolute(path string) (string, error) {
	expanded := expandHomePath(path)
	if filepath.IsAbs(expanded) {
		return expanded, nil
	}
	return filepath.Abs(expanded)
}

// resolvePath resolves a path relative to base_dir
// - If absolute, returns as-is
// - If starts with ~/, expands home directory
// - Otherwise, joins with base_dir
func (c *Config) resolvePath(path string) string {
	if path == "" {
		return ""
	}

	expanded := expandHomePath(path)
	if filepath.IsAbs(expanded) {
		return expanded
	}
	return filepath.Join(c.data.BaseDir, expanded)
}

// expandHomePath expands ~/ to the user's home directory
func expandHomePath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.data.Version != 1 {
		if c.data.Version < 1 {
			return fmt.Errorf("config version %d is too old (expected 1)", c.data.Version)
		}
		return fmt.Errorf("config version %d is newer than supported (expected 1)", c.data.Version)
	}

	if len(c.data.LLMs) == 0 {
		return fmt.Errorf("llms cannot be empty - please define at least one LLM")
	}

	llmIDs := make(map[string]bool)
	for _, llm := range c.data.LLMs {
		if err := c.validateLLM(llm, llmIDs); err != nil {
			return err
		}
		llmIDs[llm.ID] = true
	}

	if c.data.DefaultLLM != "" && !llmIDs[c.data.DefaultLLM] {
		return fmt.Errorf("default_llm '%s' not found in llms list", c.data.DefaultLLM)
	}

	roles := map[string]string{
		"codegen":    c.data.Roles.Codegen,
		"classifier": c.data.Roles.Classifier,
		"answer":     c.data.Roles.Answer,
		"similarity": c.data.Roles.Similarity,
	}
	for role, id := range roles {
		if id != "" && !llmIDs[id] {
			return fmt.Errorf("roles.%s '%s' not found in llms list", role, id)
		}
	}

	if err := c.validateSandbox(); err != nil {
		return err
	}

	return c.validateEngine()
}

// validateLLM validates a single LLM entry. Enabled LLMs whose executable cannot be
// found are disabled with a warning rather than failing the load.
func (c *Config) validateLLM(llm LLM, seen map[string]bool) error {
	if llm.ID == "" {
		return fmt.Errorf("LLM id cannot be empty")
	}
	if llm.DisplayName == "" {
		return fmt.Errorf("LLM display_name cannot be empty for LLM %s", llm.ID)
	}
	if llm.Description == "" {
		return fmt.Errorf("LLM description cannot be empty for LLM %s", llm.ID)
	}
	if seen[llm.ID] {
		return fmt.Errorf("duplicate LLM id: %s", llm.ID)
	}

	if !llm.IsCommandType() {
		return fmt.Errorf("invalid LLM type '%s' for LLM %s (only 'command' is supported)", llm.Type, llm.ID)
	}
	if llm.Command == "" {
		return fmt.Errorf("LLM command cannot be empty for LLM %s", llm.ID)
	}

	if !llm.Stdin {
		hasPromptPlaceholder := false
		for _, arg := range llm.Args {
			if strings.Contains(arg, "{{PROMPT}}") {
				hasPromptPlaceholder = true
				break
			}
		}
		if !hasPromptPlaceholder {
			return fmt.Errorf("LLM args must contain {{PROMPT}} placeholder for LLM %s (or set stdin: true)", llm.ID)
		}
	}

	if !llm.Enabled {
		return nil
	}

	expandedCmd := expandHomePath(llm.Command)
	for i := range c.data.LLMs {
		if c.data.LLMs[i].ID != llm.ID {
			continue
		}
		if _, err := exec.LookPath(expandedCmd); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Warning: LLM %s: executable not found: %s - disabling\n", llm.ID, llm.Command)
			c.data.LLMs[i].Enabled = false
		} else {
			c.data.LLMs[i].Command = expandedCmd
		}
		break
	}
	return nil
}

// validateSandbox validates the sandbox section
func (c *Config) validateSandbox() error {
	s := c.data.Sandbox
	switch s.Backend {
	case "", global.SandboxBackendContainer, global.SandboxBackendLocal:
	default:
		return fmt.Errorf("invalid sandbox backend '%s' (must be '%s' or '%s')",
			s.Backend, global.SandboxBackendContainer, global.SandboxBackendLocal)
	}
	switch s.Runtime {
	case "", global.RuntimeDocker, global.RuntimePodman:
	default:
		return fmt.Errorf("invalid sandbox runtime '%s' (must be '%s' or '%s')",
			s.Runtime, global.RuntimeDocker, global.RuntimePodman)
	}
	if _, err := global.ValidateSandboxTimeout(s.TimeoutSeconds); err != nil {
		return err
	}
	if s.PollIntervalMS < 0 {
		return fmt.Errorf("sandbox poll_interval_ms cannot be negative")
	}
	return nil
}

// validateEngine validates the engine section
func (c *Config) validateEngine() error {
	e := c.data.Engine
	if _, err := global.ValidateMaxAttempts(e.MaxAttempts); err != nil {
		return err
	}
	if e.RedesignFromAttempt != 0 && e.RedesignFromAttempt < global.DefaultRedesignFromAttempt {
		return fmt.Errorf("redesign_from_attempt must be at least %d", global.DefaultRedesignFromAttempt)
	}
	if _, err := global.ValidateFailurePolicy(e.FailurePolicy); err != nil {
		return err
	}
	if _, err := global.ValidateCollaboratorTimeout(e.CollaboratorTimeoutSeconds); err != nil {
		return err
	}
	if e.MaxConcurrent < 0 || e.ContextExcerptLimit < 0 {
		return fmt.Errorf("engine limits cannot be negative")
	}
	if e.SimplifyMinScore < 0 || e.SimplifyMinScore > 1 {
		return fmt.Errorf("simplify_min_score must be between 0 and 1")
	}
	return nil
}

// normalizePaths resolves all paths to absolute paths and creates directories
func (c *Config) normalizePaths() error {
	plansDir := c.data.PlansDir
	if plansDir == "" {
		plansDir = global.DefaultPlansDir
	}
	c.plansDir = c.resolvePath(plansDir)
	if err := os.MkdirAll(c.plansDir, 0755); err != nil {
		return fmt.Errorf("failed to create plans directory at %s: %w", c.plansDir, err)
	}

	outputDir := c.data.OutputDir
	if outputDir == "" {
		outputDir = global.DefaultOutputDir
	}
	c.outputDir = c.resolvePath(outputDir)
	if err := os.MkdirAll(c.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory at %s: %w", c.outputDir, err)
	}

	if c.data.Logging.File == "" {
		c.data.Logging.File = strings.ToLower(global.ProgramName) + ".log"
	}
	c.data.Logging.File = c.resolvePath(c.data.Logging.File)

	return nil
}

// Getter methods

// BaseDir returns the resolved base directory
func (c *Config) BaseDir() string {
	return c.data.BaseDir
}

// PlansDir returns the resolved plans directory
func (c *Config) PlansDir() string {
	return c.plansDir
}

// OutputDir returns the resolved default output directory
func (c *Config) OutputDir() string {
	return c.outputDir
}

// LLMs returns all configured LLMs
func (c *Config) LLMs() []LLM {
	return c.data.LLMs
}

// GetLLM returns the LLM with the given id, or nil
func (c *Config) GetLLM(id string) *LLM {
	for i := range c.data.LLMs {
		if c.data.LLMs[i].ID == id {
			return &c.data.LLMs[i]
		}
	}
	return nil
}

// DefaultLLM returns the default LLM ID, or the first enabled LLM when not configured
func (c *Config) DefaultLLM() string {
	if c.data.DefaultLLM != "" {
		return c.data.DefaultLLM
	}
	for _, llm := range c.data.LLMs {
		if llm.Enabled {
			return llm.ID
		}
	}
	return ""
}

// Roles returns the collaborator role mapping with empty roles set to the default LLM
func (c *Config) Roles() Roles {
	r := c.data.Roles
	def := c.DefaultLLM()
	if r.Codegen == "" {
		r.Codegen = def
	}
	if r.Classifier == "" {
		r.Classifier = def
	}
	if r.Answer == "" {
		r.Answer = def
	}
	if r.Similarity == "" {
		r.Similarity = def
	}
	return r
}

// HasEnabledLLM returns true if at least one LLM is enabled
func (c *Config) HasEnabledLLM() bool {
	for _, llm := range c.data.LLMs {
		if llm.Enabled {
			return true
		}
	}
	return false
}

// Sandbox returns the sandbox configuration with defaults applied
func (c *Config) Sandbox() Sandbox {
	s := c.data.Sandbox
	if s.Backend == "" {
		s.Backend = global.SandboxBackendContainer
	}
	if s.Runtime == "" {
		s.Runtime = global.RuntimeDocker
	}
	if s.Image == "" {
		s.Image = global.DefaultSandboxImage
	}
	if s.Interpreter == "" {
		s.Interpreter = global.DefaultInterpreter
	}
	s.TimeoutSeconds, _ = global.ValidateSandboxTimeout(s.TimeoutSeconds)
	if s.Memory == "" {
		s.Memory = global.DefaultSandboxMemory
	}
	if s.PollIntervalMS <= 0 {
		s.PollIntervalMS = global.DefaultPollIntervalMS
	}
	return s
}

// Engine returns the engine configuration with defaults applied
func (c *Config) Engine() Engine {
	e := c.data.Engine
	e.MaxAttempts, _ = global.ValidateMaxAttempts(e.MaxAttempts)
	if e.RedesignFromAttempt <= 0 {
		e.RedesignFromAttempt = global.DefaultRedesignFromAttempt
	}
	e.FailurePolicy, _ = global.ValidateFailurePolicy(e.FailurePolicy)
	if e.MaxConcurrent <= 0 {
		e.MaxConcurrent = global.DefaultMaxConcurrent
	}
	if e.ContextExcerptLimit <= 0 {
		e.ContextExcerptLimit = global.DefaultContextExcerptLimit
	}
	e.CollaboratorTimeoutSeconds, _ = global.ValidateCollaboratorTimeout(e.CollaboratorTimeoutSeconds)
	if e.RateLimit.MaxRequests <= 0 {
		e.RateLimit.MaxRequests = global.DefaultRateLimitRequests
	}
	if e.RateLimit.PeriodSeconds <= 0 {
		e.RateLimit.PeriodSeconds = global.DefaultRateLimitPeriod
	}
	return e
}

// LogFile returns the log file path
func (c *Config) LogFile() string {
	return c.data.Logging.File
}

// LogLevel returns the configured log level
func (c *Config) LogLevel() string {
	return c.data.Logging.Level
}

// MarkNonDestructive returns whether destructive tools are annotated as non-destructive
func (c *Config) MarkNonDestructive() bool {
	return c.data.MarkNonDestructive
}

// IsFirstRun returns true if the config was just created
func (c *Config) IsFirstRun() bool {
	return c.firstRun
}

// ConfigPath returns the path to the loaded config file
func (c *Config) ConfigPath() string {
	return c.configPath
}

// LLM methods

// GetType returns the effective LLM type (defaults to "command" if not specified)
func (llm *LLM) GetType() string {
	if llm.Type == "" {
		return LLMTypeCommand
	}
	return llm.Type
}

// IsCommandType returns true if this is a command-line LLM
func (llm *LLM) IsCommandType() bool {
	return llm.GetType() == LLMTypeCommand
}
