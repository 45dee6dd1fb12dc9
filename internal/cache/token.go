package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ZanzyTHEbar/lintscale"
	"golang.org/x/sync/errgroup"
)

const (
	tokenSchema   = "lintscale-cache-v1"
	absentContent = "<absent>"
)

// FileDigest is the content hash of one workspace file.
type FileDigest struct {
	Path string
	Hash string
}

// Hasher hashes workspace files concurrently and memoises results for one run,
// so a file shared by many tools is read once.
type Hasher struct {
	limit int

	mu   sync.Mutex
	memo map[string]string
}

// NewHasher creates a Hasher reading at most limit files at once.
func NewHasher(limit int) *Hasher {
	if limit < 1 {
		limit = 1
	}
	return &Hasher{limit: limit, memo: make(map[string]string)}
}

// Reset forgets memoised hashes; call it between runs.
func (h *Hasher) Reset() {
	h.mu.Lock()
	h.memo = make(map[string]string)
	h.mu.Unlock()
}

// Digests returns the sorted (path, hash) pairs of files relative to root.
func (h *Hasher) Digests(ctx context.Context, root string, files []string) ([]FileDigest, error) {
	out := make([]FileDigest, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.limit)
	for i, rel := range files {
		g.Go(func() error {
			sum, err := h.hashFile(gctx, root, rel)
			if err != nil {
				return err
			}
			out[i] = FileDigest{Path: filepath.ToSlash(rel), Hash: sum}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (h *Hasher) hashFile(ctx context.Context, root, rel string) (string, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return "", err
	}
	abs := filepath.Join(root, filepath.FromSlash(rel))

	h.mu.Lock()
	sum, ok := h.memo[abs]
	h.mu.Unlock()
	if ok {
		return sum, nil
	}

	f, err := os.Open(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		sum = absentContent
	case err != nil:
		return "", errbuilder.GenericErr("cannot read "+rel, err)
	default:
		hasher := sha256.New()
		_, err = io.Copy(hasher, f)
		f.Close()
		if err != nil {
			return "", errbuilder.GenericErr("cannot hash "+rel, err)
		}
		sum = hex.EncodeToString(hasher.Sum(nil))
	}

	h.mu.Lock()
	h.memo[abs] = sum
	h.mu.Unlock()
	return sum, nil
}

// ComputeToken derives the cache token of one action run. Every field is
// length-prefixed so adjacent values can never run together.
func ComputeToken(tool lintscale.Tool, action lintscale.Action, digests []FileDigest, settings map[string]any) (string, error) {
	encodedSettings, err := json.Marshal(settings) // map keys are emitted sorted
	if err != nil {
		return "", errbuilder.GenericErr("cannot encode tool settings", err)
	}

	h := sha256.New()
	writeField(h, tokenSchema)
	writeField(h, tool.ID)
	writeField(h, action.ID)
	writeField(h, action.Parser)
	writeCount(h, len(action.Command))
	for _, arg := range action.Command {
		writeField(h, arg)
	}
	writeCount(h, len(digests))
	for _, d := range digests {
		writeField(h, d.Path)
		writeField(h, d.Hash)
	}
	writeField(h, string(encodedSettings))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeField(h hash.Hash, s string) {
	writeCount(h, len(s))
	h.Write([]byte(s))
}

func writeCount(h hash.Hash, n int) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}
