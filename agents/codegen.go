/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package agents

import (
	"context"

	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/templates"
)

// CodeGenerator writes, patches and redesigns analysis code
type CodeGenerator struct {
	base
}

// NewCodeGenerator creates a code generator backed by the given LLM
func NewCodeGenerator(llm Completer, llmID string, opts ...Option) *CodeGenerator {
	return &CodeGenerator{base: newBase(llm, llmID, opts)}
}

// Generate writes a first version of the code for a task
func (g *CodeGenerator) Generate(ctx context.Context, req TaskRequest) (*global.CodeResponse, error) {
	return g.code(ctx, "generate", templates.PromptGenerate, req.prompt())
}

// Profile writes code that prints a profile of the data for a descriptive question
func (g *CodeGenerator) Profile(ctx context.Context, req TaskRequest) (*global.CodeResponse, error) {
	return g.code(ctx, "profile", templates.PromptDataSummary, req.prompt())
}

// Patch asks for a targeted fix of code given only its latest error
func (g *CodeGenerator) Patch(ctx context.Context, req TaskRequest, code, errText string) (*global.CodeResponse, error) {
	p := req.prompt()
	p.Code = code
	p.Error = errText
	return g.code(ctx, "patch", templates.PromptPatch, p)
}

// Redesign asks for a new approach given every failed attempt so far
func (g *CodeGenerator) Redesign(ctx context.Context, req TaskRequest, history []templates.Failure) (*global.CodeResponse, error) {
	p := req.prompt()
	p.History = history
	if n := len(history); n > 0 {
		p.Code = history[n-1].Code
	}
	return g.code(ctx, "redesign", templates.PromptRedesign, p)
}

func (g *CodeGenerator) code(ctx context.Context, op, promptName string, p templates.TaskPrompt) (*global.CodeResponse, error) {
	var resp global.CodeResponse
	if err := g.ask(ctx, op, promptName, p, templates.CodeSchema, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
