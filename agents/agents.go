/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package agents implements the LLM-backed collaborators used by the engine:
// the code generator, the task classifier, the text answerer and the
// similarity oracle. Each one renders a prompt, calls an LLM under a deadline
// and validates the reply before handing it back.
package agents

import (
	"context"
	"io"
	"time"

	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/logging"
	"github.com/PivotLLM/Planwright/templates"
)

// Completer sends a prompt to an LLM and returns its reply
type Completer interface {
	Complete(ctx context.Context, llmID, prompt string) (string, error)
}

// TaskRequest identifies the node a collaborator works on
type TaskRequest struct {
	Title       string
	Description string
	Datasets    string // dataset summary
	Context     string // dependency context
}

func (r TaskRequest) prompt() templates.TaskPrompt {
	return templates.TaskPrompt{
		Title:       r.Title,
		Description: r.Description,
		Datasets:    r.Datasets,
		Context:     r.Context,
	}
}

// Option configures a collaborator
type Option func(*base)

// WithTimeout bounds every call made by the collaborator
func WithTimeout(d time.Duration) Option {
	return func(b *base) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the collaborator logger
func WithLogger(logger *logging.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithValidator shares a schema validator between collaborators
func WithValidator(v *templates.Validator) Option {
	return func(b *base) {
		if v != nil {
			b.validator = v
		}
	}
}

// base holds what every collaborator needs to make a call
type base struct {
	llm       Completer
	llmID     string
	timeout   time.Duration
	logger    *logging.Logger
	validator *templates.Validator
}

func newBase(llm Completer, llmID string, opts []Option) base {
	b := base{
		llm:       llm,
		llmID:     llmID,
		timeout:   time.Duration(global.DefaultCollaboratorTimeout) * time.Second,
		logger:    logging.NewWriter(io.Discard),
		validator: templates.New(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// complete renders the named prompt and returns the raw reply
func (b *base) complete(ctx context.Context, op, promptName string, data interface{}) (string, error) {
	prompt, err := templates.Render(promptName, data)
	if err != nil {
		return "", global.NewCollaboratorError(op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	reply, err := b.llm.Complete(ctx, b.llmID, prompt)
	if err != nil {
		b.logger.Warnf("%s via %s failed after %s: %v", op, b.llmID, time.Since(start).Round(time.Millisecond), err)
		return "", global.NewCollaboratorError(op, err)
	}
	b.logger.Debugf("%s via %s replied with %d bytes in %s", op, b.llmID, len(reply), time.Since(start).Round(time.Millisecond))
	return reply, nil
}

// ask renders a prompt, calls the LLM and decodes a schema-checked reply into out
func (b *base) ask(ctx context.Context, op, promptName string, data interface{}, schema string, out interface{}) error {
	reply, err := b.complete(ctx, op, promptName, data)
	if err != nil {
		return err
	}
	if err := b.validator.Decode(reply, schema, out); err != nil {
		b.logger.Warnf("%s reply rejected: %v", op, err)
		return global.NewCollaboratorError(op, err)
	}
	return nil
}
