package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/programming-digital-twins/pdt-unity-components/internal/dtmodel"
)

// FileStore keeps one JSON file per sync key in Dir.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state dir %s: %w", dir, err)
	}
	return &FileStore{Dir: dir}, nil
}

func (f *FileStore) path(syncKey string) (string, error) {
	if syncKey == "" || strings.ContainsAny(syncKey, `/\`) || syncKey == "." || syncKey == ".." {
		return "", fmt.Errorf("invalid sync key %q", syncKey)
	}
	return filepath.Join(f.Dir, dtmodel.StateFileName(syncKey)), nil
}

// Save writes the snapshot through a temp file and a rename.
func (f *FileStore) Save(_ context.Context, snap dtmodel.Snapshot) error {
	p, err := f.path(snap.SyncKey)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("save %s: %w", snap.SyncKey, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save %s: %w", snap.SyncKey, err)
	}
	return nil
}

func (f *FileStore) Load(_ context.Context, syncKey string) (dtmodel.Snapshot, error) {
	var snap dtmodel.Snapshot
	p, err := f.path(syncKey)
	if err != nil {
		return snap, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return snap, fmt.Errorf("%w: %s", ErrNotFound, syncKey)
	}
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(b, &snap); err != nil {
		return snap, fmt.Errorf("load %s: %w", syncKey, err)
	}
	return snap, nil
}

// List returns the stored sync keys in name order.
func (f *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, dtmodel.StateFileExtension) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, dtmodel.StateFileExtension))
	}
	sort.Strings(keys)
	return keys, nil
}
