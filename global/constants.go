/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import "fmt"

//goland:noinspection GoCommentStart,GoUnusedConst
const (
	// Configuration constants
	ConfigEnvVar          = "PLANWRIGHT_CONFIG"
	DefaultBaseDir        = "~/.planwright"
	DefaultConfigFileName = "config.json"
	DefaultPlansDir       = "plans"
	DefaultOutputDir      = "output"

	// MCP Tool Names
	ToolPlanList     = "plan_list"
	ToolPlanGet      = "plan_get"
	ToolPlanImport   = "plan_import"
	ToolPlanSimplify = "plan_simplify"
	ToolPlanExecute  = "plan_execute"
	ToolPlanStatus   = "plan_status"
	ToolPlanReset    = "plan_reset"
	ToolLLMList      = "llm_list"
	ToolLLMTest      = "llm_test"
	ToolHealth       = "health"

	// Output layout
	ResultsDir         = "results" // generated files, relative to the output directory
	InputsDir          = "inputs"  // staged data files, mounted read-only
	SummaryFileName    = "summary.json"
	ReportFilePattern  = "analysis_report_plan%d.md"
	SimplifiedSuffix   = " (Simplified)"
	PlanFilePattern    = "plan-%d.json"
	PlanLockSuffix     = ".lock"
	PlansIndexLockName = "plans.lock"

	// Container mount points
	ContainerWorkDir = "/workspace"
	ContainerDataDir = "/data"

	// Sandbox backends
	SandboxBackendContainer = "container"
	SandboxBackendLocal     = "local"

	// Container runtimes
	RuntimeDocker = "docker"
	RuntimePodman = "podman"

	// Failure policies
	FailurePolicyBestEffort = "best_effort"
	FailurePolicyStrict     = "strict"

	// Metadata keys
	MetaExecutionMode = "execution_mode" // forces a node's execution mode
	MetaMergeMap      = "merge_map"
	MetaSourcePlanID  = "source_plan_id"
	MetaIsSimplified  = "is_simplified"
	MetaSourceNodeIDs = "source_node_ids"
	MetaParentIDs     = "original_parent_ids"
	MetaChildIDs      = "original_child_ids"
	MetaImportID      = "import_id"
	MetaImportSource  = "import_source"

	// Engine defaults
	DefaultMaxAttempts           = 5
	MaxAttemptsLimit             = 10
	DefaultRedesignFromAttempt   = 3
	DefaultMaxConcurrent         = 5
	DefaultContextExcerptLimit   = 2000
	DefaultCollaboratorTimeout   = 300 // seconds
	MinCollaboratorTimeout       = 10  // seconds
	MaxCollaboratorTimeout       = 1200
	DefaultRateLimitRequests     = 10
	DefaultRateLimitPeriod       = 60
	DefaultSimplifyMinScore      = 0.0
	DefaultPreviewLines          = 20
	DefaultHexPreviewBytes       = 512
	DefaultDatasetSummaryColumns = 20

	// Sandbox defaults
	DefaultSandboxTimeout  = 120 // seconds
	MinSandboxTimeout      = 1
	MaxSandboxTimeout      = 3600
	DefaultSandboxImage    = "python:3.12-slim"
	DefaultSandboxMemory   = "512m"
	DefaultInterpreter     = "python3"
	DefaultPollIntervalMS  = 500
	DefaultContainerPrefix = "planwright-"

	// Log Levels
	LogLevelDebug = "DEBUG"
	LogLevelInfo  = "INFO"
	LogLevelWarn  = "WARN"
	LogLevelError = "ERROR"
	LogLevelFatal = "FATAL"
)

// ValidateMaxAttempts validates and normalizes a max_attempts value.
// If value is 0, returns DefaultMaxAttempts.
func ValidateMaxAttempts(maxAttempts int) (int, error) {
	if maxAttempts == 0 {
		return DefaultMaxAttempts, nil
	}
	if maxAttempts < 1 {
		return 0, fmt.Errorf("max_attempts must be at least 1")
	}
	if maxAttempts > MaxAttemptsLimit {
		return 0, fmt.Errorf("max_attempts must be at most %d", MaxAttemptsLimit)
	}
	return maxAttempts, nil
}

// ValidateSandboxTimeout validates and normalizes a sandbox timeout in seconds.
// If timeout is 0, returns DefaultSandboxTimeout.
func ValidateSandboxTimeout(timeout int) (int, error) {
	if timeout == 0 {
		return DefaultSandboxTimeout, nil
	}
	if timeout < MinSandboxTimeout {
		return 0, fmt.Errorf("sandbox timeout must be at least %d seconds", MinSandboxTimeout)
	}
	if timeout > MaxSandboxTimeout {
		return 0, fmt.Errorf("sandbox timeout must be at most %d seconds", MaxSandboxTimeout)
	}
	return timeout, nil
}

// ValidateCollaboratorTimeout validates and normalizes a collaborator timeout in seconds.
// If timeout is 0, returns DefaultCollaboratorTimeout.
func ValidateCollaboratorTimeout(timeout int) (int, error) {
	if timeout == 0 {
		return DefaultCollaboratorTimeout, nil
	}
	if timeout < MinCollaboratorTimeout {
		return 0, fmt.Errorf("collaborator timeout must be at least %d seconds", MinCollaboratorTimeout)
	}
	if timeout > MaxCollaboratorTimeout {
		return 0, fmt.Errorf("collaborator timeout must be at most %d seconds", MaxCollaboratorTimeout)
	}
	return timeout, nil
}

// ValidateFailurePolicy returns the policy, defaulting an empty value to best effort.
func ValidateFailurePolicy(policy string) (string, error) {
	switch policy {
	case "":
		return FailurePolicyBestEffort, nil
	case FailurePolicyBestEffort, FailurePolicyStrict:
		return policy, nil
	default:
		return "", fmt.Errorf("invalid failure_policy %q (must be %q or %q)", policy, FailurePolicyBestEffort, FailurePolicyStrict)
	}
}
