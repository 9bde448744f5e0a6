/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/templates"
)

// Classifier decides how a node is executed
type Classifier struct {
	base
}

// NewClassifier creates a classifier backed by the given LLM
func NewClassifier(llm Completer, llmID string, opts ...Option) *Classifier {
	return &Classifier{base: newBase(llm, llmID, opts)}
}

type classification struct {
	TaskType string `json:"task_type"`
	Reason   string `json:"reason"`
}

// Classify returns the execution mode for a task. The mode is always usable:
// when the call fails the error is returned alongside ModeCodeRequired.
func (c *Classifier) Classify(ctx context.Context, req TaskRequest) (global.ExecutionMode, error) {
	var reply classification
	if err := c.ask(ctx, "classify", templates.PromptClassify, req.prompt(), templates.ClassificationSchema, &reply); err != nil {
		return global.ModeCodeRequired, err
	}

	mode, ok := global.ParseExecutionMode(strings.ToLower(reply.TaskType))
	if !ok {
		return global.ModeCodeRequired, global.NewCollaboratorError("classify", fmt.Errorf("unknown task type %q", reply.TaskType))
	}
	c.logger.Debugf("classified %q as %s: %s", req.Title, mode, reply.Reason)
	return mode, nil
}
