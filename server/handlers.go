/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/PivotLLM/Planwright/config"
	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/plans"
	"github.com/PivotLLM/Planwright/runner"
)

// Helper function to create JSON tool results safely
func createJSONResult(data interface{}) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(data)
	if err != nil {
		return mcp.NewToolResultError("Failed to create JSON result"), nil
	}
	return result, nil
}

// logToolCall logs an MCP tool invocation at INFO level
func (s *Server) logToolCall(toolName string, params map[string]string) {
	var parts []string
	for k, v := range params {
		if v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
	}
	if len(parts) == 0 {
		s.logger.Infof("Tool %s called", toolName)
		return
	}
	s.logger.Infof("Tool %s called: %s", toolName, strings.Join(parts, ", "))
}

// planIDParam returns the plan_id parameter, or zero when it is missing
func planIDParam(request mcp.CallToolRequest) int {
	return int(mcp.ParseFloat64(request, "plan_id", 0))
}

// Plan tool handlers

func (s *Server) handlePlanList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logToolCall(global.ToolPlanList, nil)

	infos, err := s.plans.ListPlans()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return createJSONResult(map[string]interface{}{
		"plans": infos,
		"count": len(infos),
	})
}

func (s *Server) handlePlanGet(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planID := planIDParam(request)

	s.logToolCall(global.ToolPlanGet, map[string]string{"plan_id": strconv.Itoa(planID)})

	if planID <= 0 {
		return mcp.NewToolResultError("plan_id parameter is required"), nil
	}

	tree, err := s.plans.GetPlanTree(planID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return createJSONResult(tree)
}

func (s *Server) handlePlanImport(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(request, "path", "")
	content := mcp.ParseString(request, "content", "")
	format := mcp.ParseString(request, "format", "json")

	s.logToolCall(global.ToolPlanImport, map[string]string{"path": path, "format": format})

	var (
		tree *global.PlanTree
		err  error
	)
	switch {
	case path != "":
		tree, err = s.plans.Import(path)
	case content != "":
		tree, err = s.plans.ImportDocument([]byte(content), format, global.ToolPlanImport)
	default:
		return mcp.NewToolResultError("path or content parameter is required"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(map[string]interface{}{
		"plan_id":   tree.ID,
		"title":     tree.Title,
		"nodes":     len(tree.Nodes),
		"import_id": tree.Metadata[global.MetaImportID],
	})
}

func (s *Server) handlePlanSimplify(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planID := planIDParam(request)

	s.logToolCall(global.ToolPlanSimplify, map[string]string{"plan_id": strconv.Itoa(planID)})

	if planID <= 0 {
		return mcp.NewToolResultError("plan_id parameter is required"), nil
	}

	tree, err := s.runner.Simplify(ctx, planID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(map[string]interface{}{
		"source_plan_id": planID,
		"plan_id":        tree.ID,
		"title":          tree.Title,
		"nodes":          len(tree.Nodes),
		"merge_map":      tree.Metadata[global.MetaMergeMap],
	})
}

func (s *Server) handlePlanExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planID := planIDParam(request)
	outputDir := mcp.ParseString(request, "output_dir", "")
	backend := mcp.ParseString(request, "sandbox_backend", "")
	timeout := int(mcp.ParseFloat64(request, "sandbox_timeout", 0))
	wait := mcp.ParseBoolean(request, "wait", false)

	s.logToolCall(global.ToolPlanExecute, map[string]string{
		"plan_id":         strconv.Itoa(planID),
		"sandbox_backend": backend,
		"wait":            strconv.FormatBool(wait),
	})

	if planID <= 0 {
		return mcp.NewToolResultError("plan_id parameter is required"), nil
	}

	req := runner.Request{PlanID: planID, OutputDir: outputDir}

	args := request.GetArguments()
	if val, ok := args["data_paths"]; ok {
		data, err := json.Marshal(val)
		if err == nil {
			err = json.Unmarshal(data, &req.DataPaths)
		}
		if err != nil {
			return mcp.NewToolResultError("data_paths must be an array of strings"), nil
		}
	}

	if backend != "" || timeout != 0 {
		switch backend {
		case "", global.SandboxBackendContainer, global.SandboxBackendLocal:
		default:
			return mcp.NewToolResultError(fmt.Sprintf("invalid sandbox_backend %q (must be %q or %q)",
				backend, global.SandboxBackendContainer, global.SandboxBackendLocal)), nil
		}
		if timeout != 0 {
			if _, err := global.ValidateSandboxTimeout(timeout); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
		}
		req.Sandbox = &config.Sandbox{Backend: backend, TimeoutSeconds: timeout}
	}

	if !wait {
		info, err := s.runner.Start(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return createJSONResult(info)
	}

	summary, err := s.runner.ExecutePlan(ctx, req)
	if err != nil {
		var cfgErr *global.ConfigurationError
		if errors.As(err, &cfgErr) {
			return mcp.NewToolResultError("plan cannot run: " + cfgErr.Error()), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return createJSONResult(summary)
}

// nodeStatus is the status view of one node
type nodeStatus struct {
	ID       int               `json:"id"`
	Name     string            `json:"name"`
	Status   global.NodeStatus `json:"status"`
	Attempts int               `json:"attempts,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func (s *Server) handlePlanStatus(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planID := planIDParam(request)

	s.logToolCall(global.ToolPlanStatus, map[string]string{"plan_id": strconv.Itoa(planID)})

	if planID <= 0 {
		return mcp.NewToolResultError("plan_id parameter is required"), nil
	}

	tree, err := s.plans.GetPlanTree(planID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	nodes := make([]nodeStatus, 0, len(tree.Nodes))
	for _, id := range tree.SortedIDs() {
		n := tree.Node(id)
		ns := nodeStatus{ID: n.ID, Name: n.Name, Status: n.Status}
		if rec := n.ExecutionResult; rec != nil {
			ns.Attempts = rec.Attempts
			ns.Error = rec.Error
		}
		nodes = append(nodes, ns)
	}

	result := map[string]interface{}{
		"plan":    plans.Info(tree),
		"running": s.runner.IsRunning(planID),
		"nodes":   nodes,
	}
	if run := s.runner.Status(planID); run != nil {
		result["run"] = run
	}
	return createJSONResult(result)
}

func (s *Server) handlePlanReset(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planID := planIDParam(request)

	s.logToolCall(global.ToolPlanReset, map[string]string{"plan_id": strconv.Itoa(planID)})

	if planID <= 0 {
		return mcp.NewToolResultError("plan_id parameter is required"), nil
	}
	if s.runner.IsRunning(planID) {
		return mcp.NewToolResultError(fmt.Sprintf("plan %d is running and cannot be reset", planID)), nil
	}

	_, reset, err := s.plans.ResetPlan(planID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return createJSONResult(map[string]interface{}{
		"plan_id": planID,
		"reset":   reset,
	})
}

// LLM handlers

func (s *Server) handleLLMList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logToolCall(global.ToolLLMList, nil)
	llms := s.runner.LLM().ListLLMs()
	return createJSONResult(map[string]interface{}{
		"llms":  llms,
		"count": len(llms),
		"roles": s.config.Roles(),
	})
}

func (s *Server) handleLLMTest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	llmID := mcp.ParseString(request, "llm_id", "")

	s.logToolCall(global.ToolLLMTest, map[string]string{"llm_id": llmID})

	if llmID == "" {
		return mcp.NewToolResultError("llm_id parameter is required"), nil
	}

	available, err := s.runner.LLM().TestLLM(ctx, llmID)
	if err != nil {
		return createJSONResult(map[string]interface{}{
			"llm_id":    llmID,
			"available": false,
			"error":     err.Error(),
		})
	}

	return createJSONResult(map[string]interface{}{
		"llm_id":    llmID,
		"available": available,
	})
}

// roleIssues reports collaborator roles without an enabled LLM
func (s *Server) roleIssues() []string {
	enabled := make(map[string]bool)
	for _, info := range s.runner.LLM().ListLLMs() {
		enabled[info.ID] = info.Enabled
	}

	roles := s.config.Roles()
	var issues []string
	for _, role := range []struct{ name, llmID string }{
		{"codegen", roles.Codegen},
		{"classifier", roles.Classifier},
		{"answer", roles.Answer},
		{"similarity", roles.Similarity},
	} {
		switch {
		case role.llmID == "":
			issues = append(issues, fmt.Sprintf("no LLM is assigned to the %s role", role.name))
		case !enabled[role.llmID]:
			issues = append(issues, fmt.Sprintf("the %s role uses LLM %s which is not enabled", role.name, role.llmID))
		}
	}
	return issues
}

// System handlers

func (s *Server) handleHealth(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logToolCall(global.ToolHealth, nil)
	var issues []string

	baseDir := s.config.BaseDir()
	if !global.DirExists(baseDir) {
		issues = append(issues, fmt.Sprintf("base directory does not exist: %s", baseDir))
	}

	if !s.config.HasEnabledLLM() {
		issues = append(issues, "no LLMs are enabled - edit config.json and set enabled: true for at least one LLM")
	}

	if s.config.IsFirstRun() {
		issues = append(issues, "this is a first run - configuration was just created, please review and configure")
	}

	if s.config.HasEnabledLLM() {
		issues = append(issues, s.roleIssues()...)
	}

	sbx := s.config.Sandbox()
	executable := sbx.Interpreter
	if sbx.Backend == global.SandboxBackendContainer {
		executable = sbx.Runtime
	}
	if fields := strings.Fields(executable); len(fields) == 0 {
		issues = append(issues, "no sandbox executable is configured")
	} else if _, err := exec.LookPath(fields[0]); err != nil {
		issues = append(issues, fmt.Sprintf("sandbox executable not found: %s", fields[0]))
	}

	enabled := 0
	for _, llm := range s.config.LLMs() {
		if llm.Enabled {
			enabled++
		}
	}

	healthy := len(issues) == 0
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	result := map[string]interface{}{
		"status":          status,
		"healthy":         healthy,
		"program_name":    global.ProgramName,
		"version":         global.Version,
		"base_dir":        baseDir,
		"plans_dir":       s.config.PlansDir(),
		"config_path":     s.config.ConfigPath(),
		"first_run":       s.config.IsFirstRun(),
		"enabled_llms":    enabled,
		"sandbox_backend": sbx.Backend,
		"pid":             os.Getpid(),
	}

	if len(issues) > 0 {
		result["issues"] = issues
	}

	return createJSONResult(result)
}
