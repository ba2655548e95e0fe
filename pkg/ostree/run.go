package ostree

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

const maxErrorOutput = 4096

// Cmd is an external command
type Cmd struct {
	Name string
	Args []string

	Stdin  io.Reader
	Stdout io.Writer

	// Env is added to the environment of the host
	Env []string
}

func (c Cmd) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner runs external commands. Tests replace it to avoid depending on installed tools.
type Runner interface {
	Run(context.Context, Cmd) error
}

// ExecRunner runs commands on the host
type ExecRunner struct {
	L *zap.Logger
}

// Run a command, reporting its error output on failure
func (e *ExecRunner) Run(ctx context.Context, c Cmd) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stderr limitedBuffer
	cmd.Stderr = &stderr
	if e.L != nil {
		e.L.Debug("running", zap.Stringer("command", c))
	}
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return ErrCommand.WrapMessage("%s: %s", c, msg).Wrap(err)
		}
		return ErrCommand.WrapMessage("%s", c).Wrap(err)
	}
	return nil
}

// output runs a command and returns its trimmed standard output
func output(ctx context.Context, r Runner, name string, args ...string) (string, error) {
	var stdout bytes.Buffer
	if err := r.Run(ctx, Cmd{Name: name, Args: args, Stdout: &stdout}); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// limitedBuffer keeps the first bytes of an error output
type limitedBuffer struct {
	bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := maxErrorOutput - b.Len(); room > 0 {
		if len(p) > room {
			_, _ = b.Buffer.Write(p[:room])
		} else {
			_, _ = b.Buffer.Write(p)
		}
	}
	return len(p), nil
}
