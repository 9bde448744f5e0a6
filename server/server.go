/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/PivotLLM/Planwright/config"
	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/logging"
	"github.com/PivotLLM/Planwright/plans"
	"github.com/PivotLLM/Planwright/runner"
)

// shutdownTimeout bounds how long a signal waits for cancelled runs to stop
const shutdownTimeout = 30 * time.Second

// Server wraps the MCP server with our services
type Server struct {
	config             *config.Config
	logger             *logging.Logger
	plans              *plans.Repository
	runner             *runner.Runner
	mcpServer          *server.MCPServer
	markNonDestructive bool
}

// New creates a new server instance
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	repo := plans.New(cfg.PlansDir(), logger.With("plans"))
	runnerService, err := runner.New(cfg, repo, logger.With("runner"))
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}
	return newServer(cfg, logger, repo, runnerService)
}

func newServer(cfg *config.Config, logger *logging.Logger, repo *plans.Repository, run *runner.Runner) (*Server, error) {
	mcpServer := server.NewMCPServer(
		global.ProgramName,
		global.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	srv := &Server{
		config:             cfg,
		logger:             logger,
		plans:              repo,
		runner:             run,
		mcpServer:          mcpServer,
		markNonDestructive: cfg.MarkNonDestructive(),
	}

	if err := srv.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return srv, nil
}

// readOnlyTool creates a tool with read-only annotations
func (s *Server) readOnlyTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append(opts, mcp.WithToolAnnotation(mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(true),
		DestructiveHint: mcp.ToBoolPtr(false),
		OpenWorldHint:   mcp.ToBoolPtr(false),
	}))
	return mcp.NewTool(name, opts...)
}

// defaultTool creates a tool with default annotations (non-destructive)
func (s *Server) defaultTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append(opts, mcp.WithToolAnnotation(mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(false),
		DestructiveHint: mcp.ToBoolPtr(false),
		OpenWorldHint:   mcp.ToBoolPtr(false),
	}))
	return mcp.NewTool(name, opts...)
}

// destructiveTool creates a tool with destructive annotations
// Destructive unless markNonDestructive config is set
func (s *Server) destructiveTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	destructive := !s.markNonDestructive
	opts = append(opts, mcp.WithToolAnnotation(mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(false),
		DestructiveHint: mcp.ToBoolPtr(destructive),
		OpenWorldHint:   mcp.ToBoolPtr(false),
	}))
	return mcp.NewTool(name, opts...)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolPlanList,
			mcp.WithDescription("List all plans with their node counts by status."),
		), s.handlePlanList)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolPlanGet,
			mcp.WithDescription("Get a plan with all of its nodes and their execution records."),
			mcp.WithNumber("plan_id",
				mcp.Description("Plan ID"),
				mcp.Required(),
			),
		), s.handlePlanGet)

	s.mcpServer.AddTool(
		s.defaultTool(global.ToolPlanImport,
			mcp.WithDescription("Import a plan from a JSON or YAML file, or from an inline document. The plan is stored under a new id with every node pending."),
			mcp.WithString("path",
				mcp.Description("Path to a .json, .yaml or .yml plan file"),
			),
			mcp.WithString("content",
				mcp.Description("Inline plan document (used when path is not given)"),
			),
			mcp.WithString("format",
				mcp.Description("Format of content: json (default) or yaml"),
			),
		), s.handlePlanImport)

	s.mcpServer.AddTool(
		s.defaultTool(global.ToolPlanSimplify,
			mcp.WithDescription("Merge equivalent nodes of a plan. The result is stored as a new plan titled '<title> (Simplified)'; the source plan is not changed."),
			mcp.WithNumber("plan_id",
				mcp.Description("Plan ID"),
				mcp.Required(),
			),
		), s.handlePlanSimplify)

	s.mcpServer.AddTool(
		s.defaultTool(global.ToolPlanExecute,
			mcp.WithDescription("Run a plan. Nodes already completed are not run again. By default the run starts in the background; use plan_status to follow it."),
			mcp.WithNumber("plan_id",
				mcp.Description("Plan ID"),
				mcp.Required(),
			),
			mcp.WithArray("data_paths",
				mcp.Description("Data files or directories to stage for the run"),
				mcp.Items(map[string]any{"type": "string"}),
			),
			mcp.WithString("output_dir",
				mcp.Description("Output directory (default: <output_dir>/plan-<id>)"),
			),
			mcp.WithString("sandbox_backend",
				mcp.Description("Override the sandbox backend: container or local"),
			),
			mcp.WithNumber("sandbox_timeout",
				mcp.Description("Override the sandbox timeout in seconds"),
			),
			mcp.WithBoolean("wait",
				mcp.Description("If true, wait for the run to finish and return the execution summary (default: false)"),
			),
		), s.handlePlanExecute)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolPlanStatus,
			mcp.WithDescription("Get the status of a plan: node states and the latest background run."),
			mcp.WithNumber("plan_id",
				mcp.Description("Plan ID"),
				mcp.Required(),
			),
		), s.handlePlanStatus)

	s.mcpServer.AddTool(
		s.destructiveTool(global.ToolPlanReset,
			mcp.WithDescription("Put every node of a plan back to pending and clear its execution records. Failed nodes are only retried after a reset."),
			mcp.WithNumber("plan_id",
				mcp.Description("Plan ID"),
				mcp.Required(),
			),
		), s.handlePlanReset)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolLLMList,
			mcp.WithDescription("List the configured LLMs and the LLM assigned to each collaborator role (codegen, classifier, answer, similarity)."),
		), s.handleLLMList)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolLLMTest,
			mcp.WithDescription("Send a short test prompt to an LLM to check that it responds."),
			mcp.WithString("llm_id",
				mcp.Description("ID of the LLM to test (see llm_list)"),
				mcp.Required(),
			),
		), s.handleLLMTest)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolHealth,
			mcp.WithDescription("Check configuration, LLM and sandbox readiness."),
		), s.handleHealth)

	return nil
}

// Run starts the MCP server with graceful shutdown
func (s *Server) Run() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	errChan := make(chan error, 1)
	go func() {
		// ServeStdio returns when stdin is closed (EOF) or on error
		errChan <- server.ServeStdio(s.mcpServer)
	}()

	s.logger.Infof("MCP server started successfully")

	select {
	case <-sigChan:
		s.logger.Info("Shutdown signal received")
		s.stopRunner()
		s.logger.Info("Server stopped")
		if err := s.logger.Sync(); err != nil {
			s.logger.Warnf("Failed to flush logs on shutdown: %v", err)
		}
		return nil

	case err := <-errChan:
		if err != nil {
			s.logger.Errorf("Server error: %v", err)
			s.waitForRunner()
			return fmt.Errorf("server error: %w", err)
		}
		s.logger.Info("Connection closed")
		s.waitForRunner()
		s.logger.Info("Server exiting")
		return nil
	}
}

// waitForRunner lets background runs finish so that their reports are written
func (s *Server) waitForRunner() {
	s.logger.Info("Waiting for background runs to complete...")
	s.runner.Wait()
	s.logger.Info("Background runs completed")
}

// stopRunner cancels background runs and waits for them to record their state
func (s *Server) stopRunner() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.runner.Shutdown(ctx); err != nil {
		s.logger.Warnf("Background runs did not stop in time: %v", err)
	}
}
