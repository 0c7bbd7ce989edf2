// Package local archives snapshots to the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/venturescope/scraperd/internal/archive"
	"github.com/venturescope/scraperd/internal/metrics"
)

// Config captures the parameters for the filesystem store.
type Config struct {
	// BaseDir is the root directory snapshots are written under.
	BaseDir string `mapstructure:"base_dir"`
}

// Store writes snapshots below a base directory.
type Store struct {
	baseDir string
}

// New creates a filesystem-backed snapshot store. The base directory
// is created if missing and probed for writability.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("remove probe file: %w", err)
	}

	return &Store{baseDir: cfg.BaseDir}, nil
}

// Save writes the snapshot and returns a file:// URI.
func (s *Store) Save(_ context.Context, snap archive.Snapshot) (string, error) {
	key := archive.ObjectKey(snap)
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(key))

	// The site slug feeds the key, so keep everything under baseDir.
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("snapshot path escapes base directory")
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		metrics.ObserveSnapshot("local", "error")
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.WriteFile(fullPath, snap.Content, 0o600); err != nil {
		metrics.ObserveSnapshot("local", "error")
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	metrics.ObserveSnapshot("local", "ok")
	return fmt.Sprintf("file://%s", fullPath), nil
}
