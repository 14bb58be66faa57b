// Package artifact persists embedding matrices and model checkpoints.
//
// A key's presence is the only cache-hit signal. Writes are committed
// atomically so a failed stage never leaves a file that looks complete.
package artifact

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"etymdef/internal/domain"
)

// LocalStore implements domain.ArtifactStore on the local file system.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore rooted at the given directory.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// Path returns the canonical file path for key.
func (s *LocalStore) Path(key string) string {
	return filepath.Join(s.root, key)
}

// Has reports whether a regular file exists for key.
func (s *LocalStore) Has(ctx context.Context, key string) (bool, error) {
	info, err := os.Stat(s.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Load opens the artifact for reading.
func (s *LocalStore) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrArtifactNotFound, s.Path(key))
		}
		return nil, err
	}
	return &bufferedFile{Reader: bufio.NewReaderSize(f, 256*1024), f: f}, nil
}

// Store writes the artifact to a temp file in the same directory and renames
// it into place once write succeeded. Concurrent writers race; the last rename wins.
func (s *LocalStore) Store(ctx context.Context, key string, write func(io.Writer) error) error {
	filename := s.Path(key)
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifact: create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(filename)+".tmp-*")
	if err != nil {
		return fmt.Errorf("artifact: create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	_ = tmp.Chmod(0o644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := write(buf); err != nil {
		return fmt.Errorf("artifact: write %s: %w", key, err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("artifact: flush %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("artifact: sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("artifact: close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return fmt.Errorf("artifact: commit %s: %w", key, err)
	}
	tmpName = ""

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

type bufferedFile struct {
	*bufio.Reader
	f *os.File
}

func (b *bufferedFile) Close() error { return b.f.Close() }
