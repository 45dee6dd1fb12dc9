package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/lintscale"
)

const defaultVersionTimeout = 10 * time.Second

// VersionResolver runs tool version commands through a CommandAdapter's environment.
// Each distinct command runs at most once; create a new resolver per build to pick up upgrades.
type VersionResolver struct {
	command *CommandAdapter
	root    string
	timeout time.Duration

	mu   sync.Mutex
	memo map[string]versionResult
}

type versionResult struct {
	version string
	err     error
}

// NewVersionResolver creates a resolver that runs commands in root.
func NewVersionResolver(command *CommandAdapter, root string) *VersionResolver {
	if command == nil {
		command = NewCommandAdapter()
	}
	return &VersionResolver{
		command: command,
		root:    root,
		timeout: defaultVersionTimeout,
		memo:    make(map[string]versionResult),
	}
}

// Resolve returns the first non-empty output line of the tool's version command.
// Output on stderr is used when stdout is empty.
func (v *VersionResolver) Resolve(ctx context.Context, tool lintscale.Tool) (string, error) {
	if len(tool.VersionCommand) == 0 {
		return tool.Version, nil
	}
	key := strings.Join(tool.VersionCommand, "\x00")

	v.mu.Lock()
	defer v.mu.Unlock()
	if r, ok := v.memo[key]; ok {
		return r.version, r.err
	}
	version, err := v.run(ctx, tool.VersionCommand)
	if err != nil {
		err = fmt.Errorf("version command of tool %q: %w", tool.ID, err)
	}
	v.memo[key] = versionResult{version: version, err: err}
	return version, err
}

func (v *VersionResolver) run(ctx context.Context, argv []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = v.root
	if len(v.command.env) > 0 {
		cmd.Env = append(os.Environ(), v.command.env...)
	}
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	v.command.logger.Debug().Strs("argv", argv).Msg("resolving tool version")
	if err := cmd.Run(); err != nil {
		return "", err
	}
	if line := firstLine(stdout.String()); line != "" {
		return line, nil
	}
	if line := firstLine(stderr.String()); line != "" {
		return line, nil
	}
	return "", errors.New("no output")
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
