// Package cache stores per-action outcomes keyed by content, configuration and tool version.
package cache

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/lintscale"
)

// Entry is one stored outcome.
type Entry struct {
	Token       string            `json:"token"`
	ToolID      string            `json:"tool_id"`
	ActionID    string            `json:"action_id"`
	ToolVersion string            `json:"tool_version"`
	Outcome     lintscale.Outcome `json:"outcome"`
	StoredAt    time.Time         `json:"stored_at"`
}

// Store is a cache backend. Implementations must tolerate concurrent Get/Put on
// different tokens without a global lock.
type Store interface {
	// Get returns the entry for token. A missing or unreadable entry is (Entry{}, false, nil);
	// err is reserved for backend failures.
	Get(ctx context.Context, token string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	// LoadManifest returns the last known resolved version of each tool.
	LoadManifest(ctx context.Context) (map[string]string, error)
	SaveManifest(ctx context.Context, versions map[string]string) error
	Clear(ctx context.Context) error
	Close() error
}
