package source

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/zerr"
)

const (
	checksumPrefix = "sha256:"

	// maxArchiveSize bounds a registry download held in memory for verification.
	maxArchiveSize int64 = 256 << 20
)

var errUnsafeArchivePath = zerr.New("archive entry escapes the package directory")

// ArchiveChecksum returns the checksum of data in index notation, "sha256:<hex>".
func ArchiveChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return checksumPrefix + hex.EncodeToString(sum[:])
}

// readVerified reads at most limit bytes of the archive and compares them against
// the recorded checksum. Larger archives are rejected.
func readVerified(r io.Reader, want string, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, zerr.Wrap(err, domain.ErrFetchFailed.Error())
	}
	if int64(len(data)) > limit {
		err := zerr.With(domain.ErrFetchFailed, "reason", "archive exceeds size limit")
		return nil, zerr.With(err, "limit", limit)
	}
	if got := ArchiveChecksum(data); got != want {
		err := zerr.With(domain.ErrChecksumMismatch, "expected", want)
		return nil, zerr.With(err, "actual", got)
	}
	return data, nil
}

// extractArchive unpacks a gzip-compressed tarball into dest. Entries are relative to the
// package root; absolute entries and entries leaving dest are rejected.
func extractArchive(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return zerr.Wrap(err, "failed to open archive")
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return zerr.Wrap(err, "failed to read archive")
		}

		target, err := archiveTarget(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, domain.DirPerm); err != nil {
				return zerr.Wrap(err, "failed to create directory")
			}
		case tar.TypeReg:
			if err := writeArchiveFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			// Links and devices are not part of package sources.
		}
	}
}

func archiveTarget(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", zerr.With(errUnsafeArchivePath, "entry", name)
	}
	return filepath.Join(dest, clean), nil
}

func writeArchiveFile(path string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), domain.DirPerm); err != nil {
		return zerr.Wrap(err, "failed to create directory")
	}
	if perm&0o200 == 0 {
		perm |= 0o200
	}
	//nolint:gosec // path is validated by archiveTarget
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return zerr.Wrap(err, "failed to create file")
	}
	//nolint:gosec // archives are checksum-verified before extraction
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return zerr.Wrap(err, "failed to write file")
	}
	return f.Close()
}
