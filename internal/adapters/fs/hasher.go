package fs

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.Hasher = (*Hasher)(nil)

// Hasher fingerprints package contents and compilation units with xxhash.
type Hasher struct {
	walker *Walker
}

// NewHasher creates a new Hasher.
func NewHasher(walker *Walker) *Hasher {
	return &Hasher{walker: walker}
}

// ComputeFileHash computes the XXHash of a file's content.
func (h *Hasher) ComputeFileHash(path string) (uint64, error) {
	f, err := os.Open(path) //nolint:gosec // Path is controlled by caller
	if err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to open file"), "path", path)
	}
	defer f.Close() //nolint:errcheck // Best effort close in defer

	hasher := xxhash.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to hash file content"), "path", path)
	}

	return hasher.Sum64(), nil
}

// ComputeDirHash hashes every file below dir together with its path relative to dir,
// so the result does not depend on where the directory lives.
func (h *Hasher) ComputeDirHash(dir string) (string, error) {
	hasher := xxhash.New()
	if err := h.hashTree(dir, hasher); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", hasher.Sum64()), nil
}

// ComputeUnitFingerprint computes a single hash representing the unit's identity, its
// package sources, the fingerprints of the units it depends on and the compiler salt.
func (h *Hasher) ComputeUnitFingerprint(
	unit *domain.CompilationUnit,
	depFingerprints []string,
	salt string,
) (string, error) {
	hasher := xxhash.New()

	// Identity
	_, _ = hasher.WriteString(unit.Package.ID().String())
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.WriteString(unit.Target.String())
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.WriteString(unit.Target.Entry)
	_, _ = hasher.Write([]byte{0}) // Section separator

	// Dependencies, in the order the caller supplies them
	for _, fp := range depFingerprints {
		_, _ = hasher.WriteString(fp)
		_, _ = hasher.Write([]byte{0})
	}
	_, _ = hasher.Write([]byte{0})

	_, _ = hasher.WriteString(salt)
	_, _ = hasher.Write([]byte{0})

	if err := h.hashTree(unit.Package.Root(), hasher); err != nil {
		return "", zerr.With(zerr.Wrap(err, domain.ErrFingerprintFailed.Error()), "unit", unit.ID.String())
	}

	return fmt.Sprintf("%016x", hasher.Sum64()), nil
}

func (h *Hasher) hashTree(root string, mainHasher io.Writer) error {
	info, err := os.Stat(root)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to stat path"), "path", root)
	}
	if !info.IsDir() {
		return zerr.With(zerr.New("not a directory"), "path", root)
	}

	for filePath := range h.walker.WalkFiles(root, nil) {
		rel, err := filepath.Rel(root, filePath)
		if err != nil {
			return zerr.With(zerr.Wrap(err, "failed to relativize path"), "path", filePath)
		}
		if err := h.hashFile(filePath, filepath.ToSlash(rel), mainHasher); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hasher) hashFile(path, name string, mainHasher io.Writer) error {
	_, _ = mainHasher.Write([]byte(name))
	_, _ = mainHasher.Write([]byte{0})

	hash, err := h.ComputeFileHash(path)
	if err != nil {
		return err
	}

	if err := binary.Write(mainHasher, binary.LittleEndian, hash); err != nil {
		return zerr.Wrap(err, "failed to write hash to digest")
	}
	return nil
}
