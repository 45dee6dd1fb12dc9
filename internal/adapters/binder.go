package adapters

import (
	"fmt"
	"sync"

	"github.com/ZanzyTHEbar/lintscale"
)

// Binder hands out runners for catalog actions: registered Go analyzers for
// internal tools, the shared command adapter for everything with a command.
type Binder struct {
	command *CommandAdapter

	mu        sync.RWMutex
	analyzers map[string]*GoActionAdapter
}

// NewBinder creates a Binder backed by command.
func NewBinder(command *CommandAdapter) *Binder {
	if command == nil {
		command = NewCommandAdapter()
	}
	return &Binder{command: command, analyzers: make(map[string]*GoActionAdapter)}
}

// Command returns the adapter used for command-backed actions.
func (b *Binder) Command() *CommandAdapter {
	return b.command
}

// Register makes an analyzer available to the internal tool with the given id.
func (b *Binder) Register(toolID string, adapter *GoActionAdapter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.analyzers[toolID] = adapter
}

// Bind has the shape of registry.ActionBinder.
func (b *Binder) Bind(tool lintscale.Tool, action lintscale.Action) (lintscale.ToolAction, error) {
	if tool.Family == lintscale.FamilyInternal {
		b.mu.RLock()
		adapter, ok := b.analyzers[tool.ID]
		b.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("no analyzer registered for internal tool %q", tool.ID)
		}
		return adapter, nil
	}
	if len(action.Command) == 0 {
		return nil, fmt.Errorf("action %q of tool %q has no command", action.ID, tool.ID)
	}
	return b.command, nil
}
