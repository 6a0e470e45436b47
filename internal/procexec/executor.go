// Package procexec runs validation scripts as local child processes with a
// scoped environment, capped output capture, and a two-stage kill chain.
package procexec

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/checkloop/checkloop/pkg/domain"
)

const (
	// EnvLastMessage carries the agent's final message to the script.
	EnvLastMessage = "AI_LAST_MESSAGE"

	defaultGracefulTimeout = 60 * time.Second
	defaultForceDelay      = 5 * time.Second
	defaultProbeTimeout    = 5 * time.Second

	stdoutCap      = 100 << 10
	stderrCap      = 10 << 10
	lastMessageCap = 100 << 10

	truncationMarker = "\n[truncated]"
)

// Executor launches script processes. The zero value is not usable; use New.
type Executor struct {
	log             *slog.Logger
	gracefulTimeout time.Duration
	forceDelay      time.Duration
	probeTimeout    time.Duration
	skipProbe       bool
}

// Option configures the executor.
type Option func(*Executor)

// WithGracefulTimeout sets how long a script may run before SIGTERM.
func WithGracefulTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.gracefulTimeout = d
	}
}

// WithForceDelay sets the grace period between SIGTERM and SIGKILL.
func WithForceDelay(d time.Duration) Option {
	return func(e *Executor) {
		e.forceDelay = d
	}
}

// WithoutProbe disables the launcher availability probe.
func WithoutProbe() Option {
	return func(e *Executor) {
		e.skipProbe = true
	}
}

// New creates an Executor with default timeouts.
func New(log *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		log:             log,
		gracefulTimeout: defaultGracefulTimeout,
		forceDelay:      defaultForceDelay,
		probeTimeout:    defaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Command describes one script execution.
type Command struct {
	Launcher string   // interpreter binary, e.g. "python3"
	Args     []string // arguments before the script path
	// ScriptPath is the resolved file to run. Empty for inline scripts.
	ScriptPath string
	// InlineCode, when non-empty, is written to a private temp file whose
	// path is appended to the argument list.
	InlineCode string
	FileExt    string // temp file extension for inline code, e.g. ".py"
	Dir        string // working directory
	Env        map[string]string
	// LastMessage is exposed to the script via AI_LAST_MESSAGE.
	LastMessage string
}

// Output is the captured result of a completed (or terminated) run.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	// Bytes dropped past the capture caps.
	StdoutDropped int
	StderrDropped int
}

// Text returns the script's effective output: stdout normally, or stderr
// when the script failed without writing anything to stdout.
func (o Output) Text() string {
	if o.ExitCode != 0 && strings.TrimSpace(o.Stdout) == "" {
		return o.Stderr
	}
	return o.Stdout
}

// Probe verifies that the launcher binary responds to --version. A runtime
// that is not installed fails here, before any script is attempted.
func (e *Executor) Probe(ctx context.Context, runtime, launcher string) error {
	if e.skipProbe {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()

	if err := exec.CommandContext(ctx, launcher, "--version").Run(); err != nil {
		return fmt.Errorf("%s runtime unavailable: %q is not runnable: %w", runtime, launcher, err)
	}
	return nil
}

// Run executes the command and captures its output. A graceful timeout is
// not an error: the process is terminated and whatever it wrote to stdout
// is returned with TimedOut set. Context cancellation terminates the
// process and returns domain.ErrAborted.
func (e *Executor) Run(ctx context.Context, c Command) (Output, error) {
	scriptPath := c.ScriptPath
	if c.InlineCode != "" {
		path, cleanup, err := writeInline(c.InlineCode, c.FileExt)
		if err != nil {
			return Output{}, err
		}
		defer cleanup()
		scriptPath = path
	}

	args := append([]string{}, c.Args...)
	if scriptPath != "" {
		args = append(args, scriptPath)
	}
	cmd := exec.Command(c.Launcher, args...)
	cmd.Dir = c.Dir
	cmd.Env = e.buildEnv(c)
	cmd.Stdin = nil
	// Orphaned grandchildren may keep the output pipes open; don't let
	// them stall Wait past the force delay.
	cmd.WaitDelay = e.forceDelay

	stdout := &cappedBuffer{limit: stdoutCap}
	stderr := &cappedBuffer{limit: stderrCap}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return Output{}, fmt.Errorf("starting %s: %w", c.Launcher, err)
	}

	var exited atomic.Bool
	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		exited.Store(true)
		done <- err
	}()

	timer := time.NewTimer(e.gracefulTimeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false

	select {
	case waitErr = <-done:
	case <-ctx.Done():
		e.terminate(cmd, &exited, done)
		return e.collect(stdout, stderr, nil, true), domain.ErrAborted
	case <-timer.C:
		timedOut = true
		e.log.Warn("script exceeded time limit, terminating",
			"launcher", c.Launcher,
			"timeout", e.gracefulTimeout)
		waitErr = e.terminate(cmd, &exited, done)
	}

	out := e.collect(stdout, stderr, cmd.ProcessState, timedOut)
	out.TimedOut = timedOut
	if timedOut {
		// Partial stdout is still usable output.
		return out, nil
	}
	if waitErr != nil {
		if _, ok := waitErr.(*exec.ExitError); !ok {
			return out, fmt.Errorf("running %s: %w", c.Launcher, waitErr)
		}
	}
	return out, nil
}

// terminate signals SIGTERM and escalates to SIGKILL after the force delay.
// The exited flag keeps us from signalling a process that already finished.
func (e *Executor) terminate(cmd *exec.Cmd, exited *atomic.Bool, done <-chan error) error {
	if !exited.Load() {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case err := <-done:
		return err
	case <-time.After(e.forceDelay):
		e.log.Warn("script ignored SIGTERM, sending SIGKILL")
		if !exited.Load() {
			_ = cmd.Process.Kill()
		}
		return <-done
	}
}

func (e *Executor) collect(stdout, stderr *cappedBuffer, state *os.ProcessState, terminated bool) Output {
	out := Output{
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
		StdoutDropped: stdout.dropped,
		StderrDropped: stderr.dropped,
	}
	if state != nil {
		out.ExitCode = state.ExitCode()
	} else if terminated {
		out.ExitCode = -1
	}
	if out.StdoutDropped > 0 || out.StderrDropped > 0 {
		e.log.Warn("script output truncated",
			"stdout_dropped", out.StdoutDropped,
			"stderr_dropped", out.StderrDropped)
	}
	return out
}

// buildEnv assembles the child environment. The parent environment is never
// forwarded wholesale; only a small allow-list survives, plus the caller's
// explicit pairs and the last-message variable.
func (e *Executor) buildEnv(c Command) []string {
	env := make([]string, 0, len(c.Env)+5)
	for _, key := range []string{"PATH", "HOME", "LANG", "TERM"} {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	for k, v := range c.Env {
		env = append(env, k+"="+v)
	}
	env = append(env, EnvLastMessage+"="+sanitizeLastMessage(c.LastMessage))
	return env
}

// sanitizeLastMessage strips null bytes (they break putenv on some libcs)
// and caps the value so a huge agent reply cannot blow past the OS argv/env
// size limit.
func sanitizeLastMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "\x00", "")
	if len(msg) > lastMessageCap {
		msg = msg[:lastMessageCap] + truncationMarker
	}
	return msg
}

// writeInline stores code in a fresh private temp file and returns its path
// with a cleanup func. O_EXCL guards against a pre-placed file at the
// generated name.
func writeInline(code, ext string) (string, func(), error) {
	path := filepath.Join(os.TempDir(), "checkloop-"+uuid.NewString()+ext)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", nil, fmt.Errorf("creating temp script: %w", err)
	}
	_, werr := f.WriteString(code)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(path)
		if werr == nil {
			werr = cerr
		}
		return "", nil, fmt.Errorf("writing temp script: %w", werr)
	}
	return path, func() { os.Remove(path) }, nil
}

// cappedBuffer keeps the first limit bytes and counts the rest.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		b.buf.Write(p)
	} else {
		p = nil
	}
	b.dropped += n - len(p)
	return n, nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
