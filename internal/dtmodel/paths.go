package dtmodel

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	ModelsDir          = "Models"
	DtdlDir            = "Dtdl"
	DataDir            = "Data"
	StateDir           = "State"
	StateFileExtension = ".dat"
)

// DataDirs are the directories a twin installation reads models from and
// writes state snapshots to.
type DataDirs struct {
	Root   string
	Models string
	State  string
}

// EnsureDataDirs creates root/Models/Dtdl and root/Data/State when missing.
func EnsureDataDirs(root string) (DataDirs, error) {
	if root == "" {
		root = "."
	}
	dirs := DataDirs{
		Root:   root,
		Models: filepath.Join(root, ModelsDir, DtdlDir),
		State:  filepath.Join(root, DataDir, StateDir),
	}
	for _, d := range []string{dirs.Models, dirs.State} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return dirs, fmt.Errorf("create %s: %w", d, err)
		}
	}
	return dirs, nil
}

// StateFileName is the snapshot file name for a sync key.
func StateFileName(syncKey string) string {
	return syncKey + StateFileExtension
}
