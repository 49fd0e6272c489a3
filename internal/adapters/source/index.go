package source

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/zerr"
)

// IndexDocument lists every published version of one package in a registry.
type IndexDocument struct {
	Name     string         `json:"name"`
	Versions []IndexVersion `json:"versions"`
}

// IndexVersion is one published version.
type IndexVersion struct {
	Version      string            `json:"version"`
	Checksum     string            `json:"checksum"`
	Yanked       bool              `json:"yanked,omitempty"`
	Dependencies []IndexDependency `json:"dependencies,omitempty"`
	// Download is the archive location, relative to the registry root unless absolute.
	Download string `json:"download"`
}

// IndexDependency is a dependency of a published version. An empty Registry means
// the registry the version was published to.
type IndexDependency struct {
	Name     string   `json:"name"`
	Req      string   `json:"req"`
	Registry string   `json:"registry,omitempty"`
	Features []string `json:"features,omitempty"`
}

// Index is the read side of a registry.
type Index interface {
	// Document returns the index document of name, or nil if the registry does not know it.
	Document(ctx context.Context, name domain.PackageName) (*IndexDocument, error)
	// Download opens the archive of a version.
	Download(ctx context.Context, v IndexVersion) (io.ReadCloser, error)
}

// FileIndex is a registry laid out in a local directory:
// <root>/index/<name>.json plus archives referenced from it.
type FileIndex struct {
	root string
}

// NewFileIndex creates an index rooted at dir.
func NewFileIndex(dir string) *FileIndex {
	return &FileIndex{root: dir}
}

// Document reads <root>/index/<name>.json.
func (f *FileIndex) Document(_ context.Context, name domain.PackageName) (*IndexDocument, error) {
	data, err := os.ReadFile(filepath.Join(f.root, "index", name.String()+".json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, domain.ErrFetchFailed.Error()), "package", name.String())
	}
	return decodeIndexDocument(name, data)
}

// Download opens the archive file.
func (f *FileIndex) Download(_ context.Context, v IndexVersion) (io.ReadCloser, error) {
	path := v.Download
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.root, filepath.FromSlash(path))
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, domain.ErrFetchFailed.Error()), "archive", path)
	}
	return file, nil
}

func decodeIndexDocument(name domain.PackageName, data []byte) (*IndexDocument, error) {
	var doc IndexDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		err = zerr.Wrap(err, "malformed index document")
		return nil, zerr.With(zerr.Wrap(err, domain.ErrFetchFailed.Error()), "package", name.String())
	}
	if doc.Name != name.String() {
		err := zerr.With(domain.ErrFetchFailed, "package", name.String())
		return nil, zerr.With(err, "reason", "index document names "+doc.Name)
	}
	return &doc, nil
}

// isLocalRegistry reports whether a registry location is a directory rather than a URL.
func isLocalRegistry(location string) (string, bool) {
	if dir, ok := strings.CutPrefix(location, "file://"); ok {
		return filepath.FromSlash(dir), true
	}
	if filepath.IsAbs(location) {
		return location, true
	}
	return "", false
}
