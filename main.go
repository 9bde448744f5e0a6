/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package main

import (
	"context"
	"embed"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/PivotLLM/Planwright/config"
	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/logging"
	"github.com/PivotLLM/Planwright/plans"
	"github.com/PivotLLM/Planwright/runner"
	"github.com/PivotLLM/Planwright/server"
)

// EmbeddedDocs holds the default configuration written on first run
//
//go:embed docs/config-example.json
var EmbeddedDocs embed.FS

func main() {
	// Top-level panic recovery
	defer func() {
		if rec := recover(); rec != nil {
			_, _ = fmt.Fprintf(os.Stderr, "FATAL PANIC: %v\n", rec)
			os.Exit(2)
		}
	}()

	var (
		configPath = flag.String("config", "", "Path to configuration file")
		importPath = flag.String("import", "", "Import a JSON or YAML plan file and exit")
		executeID  = flag.Int("execute", 0, "Run the plan with this id and exit")
		dataPaths  = flag.String("data", "", "Comma-separated data files or directories for --execute")
		outputDir  = flag.String("output", "", "Output directory for --execute")
		version    = flag.Bool("version", false, "Show version information")
		help       = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", global.ProgramName, global.Version)
		return
	}

	if *help {
		showHelp()
		return
	}

	opts := []config.Option{config.WithEmbeddedFS(EmbeddedDocs)}
	if *configPath != "" {
		opts = append(opts, config.WithConfigPath(*configPath))
	}
	cfg := config.New(opts...)

	if err := cfg.Load(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogFile())
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *logging.Logger) {
		_ = logger.Sync()
		_ = logger.Close()
	}(logger)

	logger.SetLevel(cfg.LogLevel())
	logger.Infof("%s v%s starting", global.ProgramName, global.Version)

	if cfg.IsFirstRun() {
		logger.Infof("First run detected - created default configuration at %s", cfg.ConfigPath())
		logger.Info("Please review the LLM commands and sandbox settings in the configuration")
	}

	if !cfg.HasEnabledLLM() {
		logger.Warn("No LLMs are enabled - plans cannot run until at least one LLM is enabled in the configuration")
	}

	switch {
	case *importPath != "":
		if err := runImport(cfg, logger, *importPath); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
			os.Exit(1)
		}
		return

	case *executeID > 0:
		req := runner.Request{PlanID: *executeID, OutputDir: *outputDir}
		if *dataPaths != "" {
			for _, p := range strings.Split(*dataPaths, ",") {
				if p = strings.TrimSpace(p); p != "" {
					req.DataPaths = append(req.DataPaths, p)
				}
			}
		}
		code := runExecute(cfg, logger, req)
		_ = logger.Sync()
		os.Exit(code)
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Run(); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
}

func runImport(cfg *config.Config, logger *logging.Logger, path string) error {
	repo := plans.New(cfg.PlansDir(), logger.With("plans"))
	tree, err := repo.Import(path)
	if err != nil {
		return err
	}
	fmt.Printf("Imported plan %d: %s (%d nodes)\n", tree.ID, tree.Title, len(tree.Nodes))
	return nil
}

// runExecute runs one plan in the foreground and prints its summary. It
// returns 0 when every node completed, 1 when the plan could not run and 3
// when some nodes failed or were skipped.
func runExecute(cfg *config.Config, logger *logging.Logger, req runner.Request) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo := plans.New(cfg.PlansDir(), logger.With("plans"))
	run, err := runner.New(cfg, repo, logger.With("runner"))
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to create runner: %v\n", err)
		return 1
	}

	summary, err := run.ExecutePlan(ctx, req)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Plan %d failed: %v\n", req.PlanID, err)
		return 1
	}

	summary.Records = nil
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to encode summary: %v\n", err)
		return 1
	}
	fmt.Println(string(out))

	if !summary.Success {
		return 3
	}
	return 0
}

func showHelp() {
	fmt.Printf(`%s v%s - Analysis plan executor and MCP server

USAGE:
    %s [OPTIONS]

OPTIONS:
    --config PATH    Path to configuration file
                     (default: $%s or %s/%s)
    --import PATH    Import a JSON or YAML plan file and exit
    --execute ID     Run a plan in the foreground, print its summary and exit
    --data PATHS     Comma-separated data files or directories for --execute
    --output DIR     Output directory for --execute (default: <output_dir>/plan-<id>)
    --version        Show version information
    --help           Show this help message

DESCRIPTION:
    %s runs analysis plans: trees of tasks whose nodes are answered by
    LLM-generated code executed in a sandbox, by a text answer, or by a
    profile of the input data. Nodes run in dependency order; failed code
    is patched and, after repeated failures, redesigned.

    Without --import or --execute, %s serves these MCP tools over stdio:

    - plan_list, plan_get, plan_status
    - plan_import, plan_simplify
    - plan_execute, plan_reset
    - llm_list, llm_test
    - health

OUTPUT:
    Each run writes to its output directory:

    - inputs/                        staged data files (read-only in the sandbox)
    - results/                       files produced by generated code
    - analysis_report_plan<ID>.md    markdown report
    - summary.json                   execution summary

FIRST RUN:
    1. Run %s once to create the default config
    2. Edit %s/%s to configure LLM commands and the sandbox
    3. Run %s again

EXAMPLES:
    # Start the MCP server
    %s

    # Import and run a plan
    %s --import plan.yaml
    %s --execute 1 --data sales.csv,regions.csv

ENVIRONMENT:
    %s    Path to configuration file (if --config not used)
`, global.ProgramName, global.Version,
		strings.ToLower(global.ProgramName),
		global.ConfigEnvVar, global.DefaultBaseDir, global.DefaultConfigFileName,
		global.ProgramName,
		global.ProgramName,
		strings.ToLower(global.ProgramName),
		global.DefaultBaseDir, global.DefaultConfigFileName,
		strings.ToLower(global.ProgramName),
		strings.ToLower(global.ProgramName),
		strings.ToLower(global.ProgramName),
		strings.ToLower(global.ProgramName),
		global.ConfigEnvVar)
}
