// Package orchestrator drives the prompt/validate/follow-up retry loop.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/checkloop/checkloop/internal/script"
	"github.com/checkloop/checkloop/internal/validation"
	"github.com/checkloop/checkloop/pkg/domain"
)

// AgentRunner is the session surface the loop drives. internal/engine
// implements it.
type AgentRunner interface {
	RunSession(ctx context.Context, prompt string, timeout time.Duration) (domain.Session, error)
	SendFollowUp(ctx context.Context, sessionID, message string, timeout time.Duration) (domain.Session, error)
}

// Validator judges one agent message. internal/validation implements it.
type Validator interface {
	Validate(ctx context.Context, req validation.Request) (validation.Result, error)
}

// Task is one complete unit of work: a prompt plus an optional validation
// script and its retry budget.
type Task struct {
	Prompt         string
	Script         string
	Runtime        script.Runtime
	MaxRetries     int
	SessionTimeout time.Duration
	WorkspaceRoot  string
	Env            map[string]string
}

const (
	defaultMaxRetries     = 3
	defaultSessionTimeout = 5 * time.Minute
)

// Orchestrator couples an agent runner to a validator.
type Orchestrator struct {
	log       *slog.Logger
	agent     AgentRunner
	validator Validator
}

// New creates an orchestrator.
func New(log *slog.Logger, agent AgentRunner, validator Validator) *Orchestrator {
	return &Orchestrator{log: log, agent: agent, validator: validator}
}

// Run executes the task: one initial session, then up to MaxRetries
// validation rounds, each failed round feeding the script's output back to
// the agent. A validation tooling error on a non-final attempt is retried
// without sending feedback; the agent should not be blamed for a missing
// interpreter.
func (o *Orchestrator) Run(ctx context.Context, task Task) (domain.RunResult, error) {
	if task.Prompt == "" {
		return domain.RunResult{}, fmt.Errorf("task has no prompt")
	}
	maxRetries := task.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	timeout := task.SessionTimeout
	if timeout <= 0 {
		timeout = defaultSessionTimeout
	}

	o.log.Info("starting session", "max_retries", maxRetries)
	sess, err := o.agent.RunSession(ctx, task.Prompt, timeout)
	if err != nil {
		return domain.RunResult{}, err
	}

	if task.Script == "" {
		return domain.RunResult{
			Success:     true,
			SessionID:   sess.ID,
			LastMessage: sess.LastMessage,
			Attempts:    0,
		}, nil
	}

	var lastFeedback string
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return domain.RunResult{}, domain.ErrAborted
		}

		res, verr := o.validator.Validate(ctx, validation.Request{
			Script:        task.Script,
			Runtime:       task.Runtime,
			LastMessage:   sess.LastMessage,
			WorkspaceRoot: task.WorkspaceRoot,
			Env:           task.Env,
		})
		if verr != nil {
			if ctx.Err() != nil {
				return domain.RunResult{}, domain.ErrAborted
			}
			if attempt == maxRetries {
				return domain.RunResult{}, verr
			}
			o.log.Warn("validation could not run, retrying",
				"attempt", attempt,
				"err", verr)
			continue
		}

		if res.Success {
			o.log.Info("validation passed", "attempt", attempt, "session_id", sess.ID)
			return domain.RunResult{
				Success:     true,
				SessionID:   sess.ID,
				LastMessage: sess.LastMessage,
				Attempts:    attempt,
			}, nil
		}

		lastFeedback = res.ContinueMessage
		if attempt == maxRetries {
			break
		}

		o.log.Info("validation failed, sending feedback",
			"attempt", attempt,
			"session_id", sess.ID)
		sess, err = o.agent.SendFollowUp(ctx, sess.ID, res.ContinueMessage, timeout)
		if err != nil {
			return domain.RunResult{}, err
		}
	}

	return domain.RunResult{}, &domain.ValidationExhaustedError{
		Attempts:     maxRetries,
		LastFeedback: lastFeedback,
	}
}
