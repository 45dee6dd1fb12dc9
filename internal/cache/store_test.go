package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/lintscale"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "files"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	sqliteStore, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { sqliteStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(0),
		"file":   fileStore,
		"sqlite": sqliteStore,
	}
}

func sampleEntry(token string) Entry {
	return Entry{
		Token:       token,
		ToolID:      "ruff",
		ActionID:    "check",
		ToolVersion: "0.4.1",
		Outcome: lintscale.Outcome{
			ToolID:   "ruff",
			ActionID: "check",
			Phase:    lintscale.PhaseLint,
			Status:   lintscale.StatusFindings,
			ExitCode: 1,
			Stdout:   "a.py:1:1: F401 unused import",
		},
		StoredAt: time.Now(),
	}
}

func TestStores_PutAndGet(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, found, err := store.Get(ctx, "ab12"); err != nil || found {
				t.Fatalf("expected miss on empty store, got found=%v err=%v", found, err)
			}
			if err := store.Put(ctx, sampleEntry("ab12")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			got, found, err := store.Get(ctx, "ab12")
			if err != nil || !found {
				t.Fatalf("expected hit, got found=%v err=%v", found, err)
			}
			if got.Outcome.Stdout != "a.py:1:1: F401 unused import" {
				t.Errorf("unexpected stdout %q", got.Outcome.Stdout)
			}
			if got.ToolVersion != "0.4.1" {
				t.Errorf("expected version 0.4.1, got %q", got.ToolVersion)
			}
		})
	}
}

func TestStores_Manifest(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			versions, err := store.LoadManifest(ctx)
			if err != nil {
				t.Fatalf("LoadManifest failed: %v", err)
			}
			if len(versions) != 0 {
				t.Fatalf("expected empty manifest, got %v", versions)
			}
			want := map[string]string{"ruff": "0.4.1", "pyright": "1.1.360"}
			if err := store.SaveManifest(ctx, want); err != nil {
				t.Fatalf("SaveManifest failed: %v", err)
			}
			got, err := store.LoadManifest(ctx)
			if err != nil {
				t.Fatalf("LoadManifest failed: %v", err)
			}
			for id, v := range want {
				if got[id] != v {
					t.Errorf("expected %s=%s, got %q", id, v, got[id])
				}
			}
		})
	}
}

func TestStores_Clear(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Put(ctx, sampleEntry("cd34")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			if err := store.SaveManifest(ctx, map[string]string{"ruff": "1"}); err != nil {
				t.Fatalf("SaveManifest failed: %v", err)
			}
			if err := store.Clear(ctx); err != nil {
				t.Fatalf("Clear failed: %v", err)
			}
			if _, found, _ := store.Get(ctx, "cd34"); found {
				t.Errorf("expected entry to be cleared")
			}
			versions, _ := store.LoadManifest(ctx)
			if len(versions) != 0 {
				t.Errorf("expected empty manifest after clear, got %v", versions)
			}
		})
	}
}

func TestStores_ConcurrentTokens(t *testing.T) {
	ctx := context.Background()
	tokens := []string{"aa01", "aa02", "bb03", "cc04", "dd05", "ee06", "ff07", "0108"}
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			errs := make(chan error, len(tokens)*2)
			for _, token := range tokens {
				wg.Add(2)
				go func() {
					defer wg.Done()
					errs <- store.Put(ctx, sampleEntry(token))
				}()
				go func() {
					defer wg.Done()
					_, _, err := store.Get(ctx, token)
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
			for _, token := range tokens {
				if _, found, _ := store.Get(ctx, token); !found {
					t.Errorf("expected %s to be stored", token)
				}
			}
		})
	}
}

func TestMemoryStore_Expiration(t *testing.T) {
	store := NewMemoryStore(50 * time.Millisecond)
	ctx := context.Background()
	if err := store.Put(ctx, sampleEntry("ab12")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, found, _ := store.Get(ctx, "ab12"); found {
		t.Errorf("expected expired entry to miss")
	}
}

func TestFileStore_CorruptEntryIsMiss(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	path := store.entryPath("ab12")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, found, err := store.Get(context.Background(), "ab12")
	if err != nil {
		t.Fatalf("expected corrupt entry to be a plain miss, got %v", err)
	}
	if found {
		t.Errorf("expected corrupt entry to miss")
	}
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := store.Put(context.Background(), sampleEntry("ab12")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ab", "ab12.json")); err != nil {
		t.Errorf("expected sharded entry file: %v", err)
	}
}
