package data

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/lk2023060901/file-dedup-service/internal/filestore/biz"
)

// LocalStore keeps blobs on the local filesystem under root
type LocalStore struct {
	root string
}

// NewLocalStore 创建本地存储，根目录不存在时自动创建
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", root, err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	return &LocalStore{root: absRoot}, nil
}

var _ biz.BlobStore = (*LocalStore)(nil)

// Root returns the absolute storage root
func (s *LocalStore) Root() string {
	return s.root
}

// abs maps a relative slash path under root, rejecting anything that escapes it
func (s *LocalStore) abs(path string) (string, error) {
	clean, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(s.root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(s.root, joined)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes storage root", path)
	}
	return joined, nil
}

// Write streams r to path through a temp file and an atomic rename, so
// readers never observe a partial blob.
func (s *LocalStore) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	dest, err := s.abs(path)
	if err != nil {
		return 0, err
	}
	f, err := s.createTemp(filepath.Dir(dest))
	if err != nil {
		return 0, err
	}
	tmp := f.Name()

	n, werr := io.Copy(f, &ctxReader{ctx: ctx, r: r})
	cerr := f.Close()

	if werr != nil {
		os.Remove(tmp) //nolint:errcheck
		return 0, fmt.Errorf("stream write: %w", werr)
	}
	if cerr != nil {
		os.Remove(tmp) //nolint:errcheck
		return 0, fmt.Errorf("flush: %w", cerr)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return 0, fmt.Errorf("rename to %q: %w", dest, err)
	}
	return n, nil
}

// createTemp makes dir and a temp file in it. prune may remove the directory
// of another digest with the same prefix in between, so the pair is retried.
func (s *LocalStore) createTemp(dir string) (*os.File, error) {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("mkdir %q: %w", dir, err)
		}
		f, err := os.CreateTemp(dir, ".upload-*")
		if err == nil {
			return f, nil
		}
		lastErr = err
		if !errors.Is(err, fs.ErrNotExist) {
			break
		}
	}
	return nil, fmt.Errorf("create temp file in %q: %w", dir, lastErr)
}

func (s *LocalStore) Open(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	abs, err := s.abs(path)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, fmt.Errorf("%w: %s", biz.ErrBlobNotFound, path)
	}
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// Remove deletes path and prunes directories it leaves empty. A missing file is not an error.
func (s *LocalStore) Remove(ctx context.Context, path string) error {
	abs, err := s.abs(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.prune(filepath.Dir(abs))
	return nil
}

func (s *LocalStore) Exists(ctx context.Context, path string) (bool, error) {
	abs, err := s.abs(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// prune removes empty parents up to root. A concurrent writer may recreate a
// directory at any point; os.Remove fails on non-empty dirs and stops the walk.
func (s *LocalStore) prune(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
