// Package adapters turns tool actions into runnable lintscale.ToolAction strategies.
package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/lintscale"
	"github.com/rs/zerolog"
)

const defaultGraceDelay = 3 * time.Second

// CommandAdapter runs an action's command template as a child process.
type CommandAdapter struct {
	grace  time.Duration
	env    []string
	logger zerolog.Logger
}

// CommandOption configures a CommandAdapter.
type CommandOption func(*CommandAdapter)

// WithGraceDelay sets how long an interrupted process may take to exit before it is killed.
func WithGraceDelay(d time.Duration) CommandOption {
	return func(c *CommandAdapter) {
		c.grace = d
	}
}

// WithEnv appends KEY=VALUE pairs to the child environment.
func WithEnv(env ...string) CommandOption {
	return func(c *CommandAdapter) {
		c.env = append(c.env, env...)
	}
}

// WithCommandLogger sets the logger for process-level debug output.
func WithCommandLogger(logger zerolog.Logger) CommandOption {
	return func(c *CommandAdapter) {
		c.logger = logger
	}
}

// NewCommandAdapter creates a command-backed action runner.
func NewCommandAdapter(options ...CommandOption) *CommandAdapter {
	c := &CommandAdapter{grace: defaultGraceDelay, logger: zerolog.Nop()}
	for _, option := range options {
		option(c)
	}
	return c
}

// Execute runs the command. Exit codes listed as successful map to passed, any other
// exit code to findings. A process killed by a signal counts as failed. Errors are
// returned only when the process could not be started or did not finish.
func (c *CommandAdapter) Execute(ctx context.Context, req lintscale.ActionRequest) (lintscale.Outcome, error) {
	outcome := lintscale.Outcome{
		ToolID:   req.Tool.ID,
		ActionID: req.Action.ID,
		Phase:    req.Tool.Phase,
	}
	argv := ExpandCommand(req.Action.Command, req)
	if len(argv) == 0 {
		return outcome, lintscale.NewExecutionError(req.Tool.ID, req.Action.ID, errors.New("empty command"))
	}

	if req.Action.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Action.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = req.Facts.Root
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = c.grace
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug().Str("tool", req.Tool.ID).Str("action", req.Action.ID).Strs("argv", argv).Msg("starting process")
	start := time.Now()
	err := cmd.Run()
	outcome.Duration = time.Since(start)
	outcome.Stdout = stdout.String()
	outcome.Stderr = stderr.String()

	if ctxErr := ctx.Err(); ctxErr != nil {
		outcome.ExitCode = -1
		return outcome, lintscale.NewExecutionError(req.Tool.ID, req.Action.ID, ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		outcome.ExitCode = 0
	case errors.As(err, &exitErr):
		outcome.ExitCode = exitErr.ExitCode()
	default:
		return outcome, lintscale.NewExecutionError(req.Tool.ID, req.Action.ID, err)
	}

	switch {
	case outcome.ExitCode < 0:
		outcome.Status = lintscale.StatusFailed
	case req.Action.IsSuccess(outcome.ExitCode):
		outcome.Status = lintscale.StatusPassed
	default:
		outcome.Status = lintscale.StatusFindings
	}
	return outcome, nil
}

// ExpandCommand substitutes placeholders in a command template:
// an argument that is exactly {files} expands to one argument per target file,
// {root} becomes the workspace root and {config:key} the tool setting key.
func ExpandCommand(template []string, req lintscale.ActionRequest) []string {
	argv := make([]string, 0, len(template)+len(req.Files))
	for _, arg := range template {
		if arg == "{files}" {
			argv = append(argv, req.Files...)
			continue
		}
		argv = append(argv, expandArg(arg, req))
	}
	return argv
}

func expandArg(arg string, req lintscale.ActionRequest) string {
	arg = strings.ReplaceAll(arg, "{root}", req.Facts.Root)
	for {
		start := strings.Index(arg, "{config:")
		if start < 0 {
			return arg
		}
		end := strings.Index(arg[start:], "}")
		if end < 0 {
			return arg
		}
		key := arg[start+len("{config:") : start+end]
		value := ""
		if v, ok := req.Settings[key]; ok {
			value = fmt.Sprint(v)
		}
		arg = arg[:start] + value + arg[start+end+1:]
	}
}

var _ lintscale.ToolAction = (*CommandAdapter)(nil)
