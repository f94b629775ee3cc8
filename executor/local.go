// Package executor runs workflow tasks as local shell commands.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/ornolab/foreman/scheduler"
	"github.com/ornolab/foreman/task"
)

// Command is the payload a shell task carries through the scheduler.
type Command struct {
	// Script is passed verbatim to "sh -c".
	Script string
	// Env entries are appended to the process environment, as KEY=VALUE.
	Env []string
	// Dir is the working directory; empty means inherit.
	Dir string
}

// Result is what a completed command leaves behind.
type Result struct {
	ExitCode int
	Output   string
}

// maxOutputBytes caps how much command output is retained per task.
const maxOutputBytes = 256 << 10

// Local runs task payloads as shell commands on the host.
type Local struct {
	log *slog.Logger
}

// Local implements scheduler.Executor
var _ scheduler.Executor = (*Local)(nil)

func NewLocal(logger *slog.Logger) *Local {
	return &Local{log: logger}
}

func (l *Local) Run(ctx context.Context, t *task.Task, ctl scheduler.Control) (any, error) {
	command, ok := t.Payload.(Command)
	if !ok {
		return nil, fmt.Errorf("task '%s' payload is %T, expected executor.Command", t.ID, t.Payload)
	}
	if strings.TrimSpace(command.Script) == "" {
		return nil, fmt.Errorf("task '%s' has an empty command", t.ID)
	}

	log := l.log.With(slog.String("task", string(t.ID)))
	log.Debug("Running command", slog.String("script", command.Script))

	cmd := exec.CommandContext(ctx, "sh", "-c", command.Script)
	cmd.Dir = command.Dir
	cmd.Env = append(os.Environ(), command.Env...)
	cmd.WaitDelay = 0

	var output limitedBuffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		log.Debug("Command failed",
			slog.String("command", shellescape.QuoteCommand([]string{"sh", "-c", command.Script})),
			slog.Any("error", err))
		return nil, fmt.Errorf("command failed: %w", err)
	}

	return Result{ExitCode: cmd.ProcessState.ExitCode(), Output: output.String()}, nil
}

// limitedBuffer keeps the first maxOutputBytes and silently drops the rest.
type limitedBuffer struct {
	buf       bytes.Buffer
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if remaining := maxOutputBytes - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else {
		b.truncated = true
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
