package replay

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore keeps replays on the local filesystem under
// {baseDir}/{year}/{month}/{name}.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a LocalStore rooted at baseDir.
func NewLocalStore(baseDir string) *LocalStore {
	return &LocalStore{baseDir: baseDir}
}

// Save writes the replay to disk and returns its absolute path.
func (s *LocalStore) Save(name string, r io.Reader) (string, error) {
	now := time.Now()
	cleanName := filepath.Base(name) // strip any directory components
	relPath := filepath.Join(fmt.Sprintf("%d", now.Year()), fmt.Sprintf("%02d", now.Month()), cleanName)

	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("invalid replay dir: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(s.baseDir, relPath))
	if err != nil {
		return "", fmt.Errorf("invalid replay path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid replay name %q: escapes the replay dir", name)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("create replay dir: %w", err)
	}

	f, err := os.Create(absPath)
	if err != nil {
		return "", fmt.Errorf("create replay file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(absPath)
		return "", fmt.Errorf("write replay: %w", err)
	}
	return absPath, nil
}
