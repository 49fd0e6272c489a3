// Package lockfile stores the lock document as TOML and serializes runs against a workspace.
package lockfile

import (
	"bytes"
	"strconv"

	"github.com/BurntSushi/toml"
	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/zerr"
)

const header = "# This file is generated by keel. Do not edit it by hand.\n\n"

type document struct {
	Version  int     `toml:"version"`
	Packages []entry `toml:"package"`
}

type entry struct {
	Name         string   `toml:"name"`
	Version      string   `toml:"version"`
	Source       string   `toml:"source,omitempty"`
	Checksum     string   `toml:"checksum,omitempty"`
	Dependencies []string `toml:"dependencies,omitempty"`
}

// Encode renders lock in canonical form. Equal lock documents encode to equal bytes.
func Encode(lock *domain.Lockfile) ([]byte, error) {
	sorted := domain.NewLockfile(lock.Packages)

	doc := document{Version: domain.LockFormatVersion, Packages: make([]entry, len(sorted.Packages))}
	for i, p := range sorted.Packages {
		e := entry{
			Name:     p.Name.String(),
			Version:  p.Version.String(),
			Checksum: p.Checksum,
		}
		if !p.Source.IsZero() {
			e.Source = p.Source.String()
		}
		for _, d := range p.Dependencies {
			e.Dependencies = append(e.Dependencies, d.String())
		}
		doc.Packages[i] = e
	}

	var buf bytes.Buffer
	buf.WriteString(header)
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(doc); err != nil {
		return nil, zerr.Wrap(err, domain.ErrLockWriteFailed.Error())
	}
	return buf.Bytes(), nil
}

// Decode parses a lock document.
func Decode(data []byte) (*domain.Lockfile, error) {
	var doc document
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, zerr.Wrap(err, domain.ErrLockParseFailed.Error())
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, zerr.With(domain.ErrLockParseFailed, "unknown_key", undecoded[0].String())
	}
	if doc.Version != domain.LockFormatVersion {
		return nil, zerr.With(domain.ErrLockVersionUnsupported, "version", strconv.Itoa(doc.Version))
	}

	packages := make([]domain.LockedPackage, 0, len(doc.Packages))
	for i, e := range doc.Packages {
		p, err := decodeEntry(e)
		if err != nil {
			return nil, zerr.With(err, "entry", strconv.Itoa(i))
		}
		packages = append(packages, p)
	}
	return domain.NewLockfile(packages), nil
}

func decodeEntry(e entry) (domain.LockedPackage, error) {
	name, err := domain.NewPackageName(e.Name)
	if err != nil {
		return domain.LockedPackage{}, zerr.Wrap(err, domain.ErrLockParseFailed.Error())
	}
	version, err := domain.ParseVersion(e.Version)
	if err != nil {
		return domain.LockedPackage{}, zerr.With(zerr.Wrap(err, domain.ErrLockParseFailed.Error()), "package", e.Name)
	}

	p := domain.LockedPackage{Name: name, Version: version, Checksum: e.Checksum}
	if e.Source != "" {
		if p.Source, err = domain.ParseSourceID(e.Source); err != nil {
			return domain.LockedPackage{}, zerr.With(zerr.Wrap(err, domain.ErrLockParseFailed.Error()), "package", e.Name)
		}
	}
	for _, d := range e.Dependencies {
		dep, err := domain.NewPackageName(d)
		if err != nil {
			return domain.LockedPackage{}, zerr.With(zerr.Wrap(err, domain.ErrLockParseFailed.Error()), "package", e.Name)
		}
		p.Dependencies = append(p.Dependencies, dep)
	}
	return p, nil
}
