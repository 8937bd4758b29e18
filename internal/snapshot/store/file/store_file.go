// Package file stores snapshots as JSON documents in a directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"audita/internal/ids"
	"audita/internal/snapshot"
	"audita/pkg/platform/sentinel"
)

const ext = ".json"

// Store writes one file per run, named after the run id.
type Store struct {
	dir string
}

// New creates the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(runID string) (string, error) {
	if _, err := ids.ParseRunID(runID); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, runID+ext), nil
}

// Save writes to a temporary file and renames it into place so readers never
// observe a partial snapshot.
func (s *Store) Save(_ context.Context, snap *snapshot.Snapshot) error {
	path, err := s.path(snap.RunID)
	if err != nil {
		return err
	}
	data, err := snapshot.Marshal(snap)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot %s: %w", snap.RunID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot %s: %w", snap.RunID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot %s: %w", snap.RunID, err)
	}
	return nil
}

func (s *Store) Load(_ context.Context, runID string) (*snapshot.Snapshot, error) {
	path, err := s.path(runID)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", runID, sentinel.ErrNotFound)
	}
	return ReadFile(path)
}

// List returns stored runs, most recent first.
func (s *Store) List(_ context.Context) ([]snapshot.Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}

	var infos []snapshot.Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		snap, err := ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		infos = append(infos, snapshot.Info{RunID: snap.RunID, CreatedAt: snap.CreatedAt})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos, nil
}

// ReadFile decodes a snapshot file from an arbitrary path.
func ReadFile(path string) (*snapshot.Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("snapshot %s: %w", filepath.Base(path), sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return snapshot.Unmarshal(data)
}

// WriteFile encodes a snapshot to an arbitrary path.
func WriteFile(path string, snap *snapshot.Snapshot) error {
	data, err := snapshot.Marshal(snap)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
