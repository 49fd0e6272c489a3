// Package cas stores the fingerprint each compilation unit was last built with.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/zerr"
)

// Store implements ports.BuildInfoStore using a file-per-unit strategy under
// <root>/.keel/build-info. Distinct units never share a file, so concurrent Puts
// from the scheduler need no locking.
type Store struct{}

// NewStore creates a new BuildInfoStore.
func NewStore() *Store {
	return &Store{}
}

// Get retrieves the build info for a given unit id.
func (s *Store) Get(root, unitID string) (*domain.BuildInfo, error) {
	filename := s.filename(root, unitID)
	//nolint:gosec // Path is constructed from the workspace root and a hashed filename
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, zerr.With(zerr.Wrap(err, domain.ErrStoreReadFailed.Error()), "unit", unitID)
	}

	var info domain.BuildInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, zerr.With(zerr.Wrap(err, domain.ErrStoreReadFailed.Error()), "unit", unitID)
	}
	if info.UnitID != unitID {
		// Hash collision or a hand-edited file; treat as absent.
		return nil, nil
	}
	return &info, nil
}

// Put stores the build info, replacing the file atomically.
func (s *Store) Put(root string, info domain.BuildInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return zerr.Wrap(err, domain.ErrStoreWriteFailed.Error())
	}

	filename := s.filename(root, info.UnitID)
	if err := os.MkdirAll(filepath.Dir(filename), domain.DirPerm); err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrStoreWriteFailed.Error()), "unit", info.UnitID)
	}

	tmp := filename + ".tmp"
	//nolint:gosec // Path is constructed from the workspace root and a hashed filename
	if err := os.WriteFile(tmp, data, domain.FilePerm); err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrStoreWriteFailed.Error()), "unit", info.UnitID)
	}
	if err := os.Rename(tmp, filename); err != nil {
		_ = os.Remove(tmp)
		return zerr.With(zerr.Wrap(err, domain.ErrStoreWriteFailed.Error()), "unit", info.UnitID)
	}
	return nil
}

func (s *Store) filename(root, unitID string) string {
	hash := sha256.Sum256([]byte(unitID))
	return filepath.Join(domain.StorePath(root), hex.EncodeToString(hash[:])+".json")
}
