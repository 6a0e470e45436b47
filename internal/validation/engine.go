// Package validation turns a user-supplied check script into a pass/fail
// verdict on the agent's last message. The script sees the message via an
// environment variable and votes with its stdout: empty or "true" passes,
// anything else is feedback sent back to the agent.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/checkloop/checkloop/internal/procexec"
	"github.com/checkloop/checkloop/internal/script"
	"github.com/checkloop/checkloop/internal/workspace"
)

// Request describes one validation round.
type Request struct {
	// Script is the raw reference: a workspace-relative file, a prefixed
	// inline snippet, or bare code when Runtime is declared.
	Script  string
	Runtime script.Runtime
	// LastMessage is the agent output under validation.
	LastMessage   string
	WorkspaceRoot string
	Env           map[string]string
}

// Result is the interpreted verdict.
type Result struct {
	Success bool
	// ContinueMessage holds the script's feedback verbatim when the check
	// failed; empty on success.
	ContinueMessage string
}

// launchers maps a runtime to the interpreter binary and the file
// extension used for inline temp scripts.
type launcher struct {
	Binary string
	Ext    string
}

func defaultLaunchers() map[script.Runtime]launcher {
	return map[script.Runtime]launcher{
		script.RuntimePython:     {Binary: "python3", Ext: ".py"},
		script.RuntimeJavaScript: {Binary: "node", Ext: ".js"},
	}
}

// Engine classifies, executes, and interprets validation scripts.
type Engine struct {
	log       *slog.Logger
	exec      *procexec.Executor
	launchers map[script.Runtime]launcher
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithLauncher overrides the interpreter used for a runtime.
func WithLauncher(rt script.Runtime, binary, ext string) EngineOption {
	return func(e *Engine) {
		e.launchers[rt] = launcher{Binary: binary, Ext: ext}
	}
}

// NewEngine creates a validation engine backed by exec.
func NewEngine(log *slog.Logger, exec *procexec.Executor, opts ...EngineOption) *Engine {
	e := &Engine{
		log:       log,
		exec:      exec,
		launchers: defaultLaunchers(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate runs one validation round. Script classification or launcher
// problems surface as errors; a completed script never errors, it votes.
func (e *Engine) Validate(ctx context.Context, req Request) (Result, error) {
	s, err := script.Classify(req.Script, req.Runtime)
	if err != nil {
		return Result{}, err
	}

	l, ok := e.launchers[s.Runtime]
	if !ok {
		return Result{}, fmt.Errorf("no launcher configured for runtime %q", s.Runtime)
	}
	if err := e.exec.Probe(ctx, string(s.Runtime), l.Binary); err != nil {
		return Result{}, err
	}

	cmd := procexec.Command{
		Launcher:    l.Binary,
		Dir:         req.WorkspaceRoot,
		Env:         req.Env,
		LastMessage: req.LastMessage,
	}
	if s.Inline {
		cmd.InlineCode = s.Code
		cmd.FileExt = l.Ext
	} else {
		path, err := workspace.ResolveWithinRoot(req.WorkspaceRoot, s.Code)
		if err != nil {
			return Result{}, fmt.Errorf("validation script: %w", err)
		}
		cmd.ScriptPath = path
	}

	out, err := e.exec.Run(ctx, cmd)
	if err != nil {
		return Result{}, err
	}
	if out.TimedOut {
		e.log.Warn("validation script timed out, using partial output")
	}

	return interpret(out.Text()), nil
}

// interpret maps script output to a verdict. The comparison is forgiving
// about case and whitespace, but failure feedback is passed on verbatim
// (only trimmed) so the agent sees exactly what the script said.
func interpret(output string) Result {
	trimmed := strings.TrimSpace(output)
	switch strings.ToLower(trimmed) {
	case "", "true":
		return Result{Success: true}
	default:
		return Result{ContinueMessage: trimmed}
	}
}
