package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

const manifestFile = "versions.json"

// FileStore is a content-addressable directory of JSON entries: <dir>/<aa>/<token>.json.
// Writes go to a temp file and are renamed into place, so readers never see partial entries
// and writers of different tokens never contend.
type FileStore struct {
	dir string
}

// NewFileStore creates the cache directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errbuilder.GenericErr(fmt.Sprintf("cannot create cache directory %s", dir), err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the cache root.
func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) entryPath(token string) string {
	shard := "00"
	if len(token) >= 2 {
		shard = token[:2]
	}
	return filepath.Join(f.dir, shard, token+".json")
}

// Get reads an entry. Missing and corrupt files are misses.
func (f *FileStore) Get(ctx context.Context, token string) (Entry, bool, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return Entry{}, false, err
	}
	data, err := os.ReadFile(f.entryPath(token))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errbuilder.GenericErr("cannot read cache entry", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Token != token {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Put writes an entry atomically.
func (f *FileStore) Put(ctx context.Context, entry Entry) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return errbuilder.GenericErr("cannot encode cache entry", err)
	}
	return writeAtomic(f.entryPath(entry.Token), data)
}

func (f *FileStore) LoadManifest(ctx context.Context) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errbuilder.GenericErr("cannot read version manifest", err)
	}
	versions := map[string]string{}
	if err := json.Unmarshal(data, &versions); err != nil {
		// A corrupt manifest only costs the fast path; entries still carry their own versions.
		return map[string]string{}, nil
	}
	return versions, nil
}

func (f *FileStore) SaveManifest(ctx context.Context, versions map[string]string) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}
	data, err := json.MarshalIndent(versions, "", "  ")
	if err != nil {
		return errbuilder.GenericErr("cannot encode version manifest", err)
	}
	return writeAtomic(filepath.Join(f.dir, manifestFile), data)
}

// Clear removes the whole cache directory and recreates it empty.
func (f *FileStore) Clear(ctx context.Context) error {
	if err := os.RemoveAll(f.dir); err != nil {
		return errbuilder.GenericErr("cannot clear cache directory", err)
	}
	return os.MkdirAll(f.dir, 0o755)
}

func (f *FileStore) Close() error { return nil }

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errbuilder.GenericErr("cannot create cache shard", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errbuilder.GenericErr("cannot create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errbuilder.GenericErr("cannot write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errbuilder.GenericErr("cannot close temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errbuilder.GenericErr("cannot move cache file into place", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
