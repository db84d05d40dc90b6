package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Storage implements FileStorage on a local directory. Artifacts are moved,
// not copied, so the scratch directory drains as jobs finish; a rename
// across filesystems falls back to copy-and-remove.
type Storage struct {
	dir string
}

// NewStorage creates the storage directory if needed
func NewStorage(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	return &Storage{dir: dir}, nil
}

// MoveIntoStorage moves a finished artifact under its storage key
func (s *Storage) MoveIntoStorage(key string, localPath string) error {
	dest := filepath.Join(s.dir, key)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	if err := os.Rename(localPath, dest); err == nil {
		return nil
	}

	// Rename fails across filesystems; fall back to copy
	in, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open artifact %s: %w", localPath, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create stored artifact %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("copy artifact into storage: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("flush stored artifact: %w", err)
	}
	return os.Remove(localPath)
}

// Path returns the local path a stored key resolves to
func (s *Storage) Path(key string) string {
	return filepath.Join(s.dir, key)
}
