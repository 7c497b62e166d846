// Package state persists model state snapshots between runs.
package state

import (
	"context"
	"errors"

	"github.com/programming-digital-twins/pdt-unity-components/internal/dtmodel"
)

var ErrNotFound = errors.New("snapshot not found")

// Store saves and loads snapshots by sync key.
type Store interface {
	Save(ctx context.Context, snap dtmodel.Snapshot) error
	Load(ctx context.Context, syncKey string) (dtmodel.Snapshot, error)
	List(ctx context.Context) ([]string, error)
}

// SaveAll snapshots every state. It keeps going after a failure and returns
// the first error.
func SaveAll(ctx context.Context, s Store, states []*dtmodel.ModelState) error {
	var first error
	for _, st := range states {
		if err := s.Save(ctx, st.Snapshot()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RestoreAll applies the stored snapshot of every state that has one and
// returns how many were restored.
func RestoreAll(ctx context.Context, s Store, states []*dtmodel.ModelState) (int, error) {
	n := 0
	for _, st := range states {
		snap, err := s.Load(ctx, st.GetModelSyncKey())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		if err := st.ApplySnapshot(snap); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
