/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package agents

import (
	"context"
	"errors"
	"strings"

	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/templates"
)

// Answerer produces direct text answers
type Answerer struct {
	base
}

// NewAnswerer creates an answerer backed by the given LLM
func NewAnswerer(llm Completer, llmID string, opts ...Option) *Answerer {
	return &Answerer{base: newBase(llm, llmID, opts)}
}

// Answer answers a task in text. observations, when set, is the output of a
// data profiling run and is inlined into the prompt.
func (a *Answerer) Answer(ctx context.Context, req TaskRequest, observations string) (string, error) {
	p := req.prompt()
	p.Observations = observations

	reply, err := a.complete(ctx, "answer", templates.PromptAnswer, p)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", global.NewCollaboratorError("answer", errors.New("empty answer"))
	}
	return reply, nil
}
