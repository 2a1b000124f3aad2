package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned for an archive on a network mount, where
// SQLite file locking cannot be trusted.
var ErrNetworkFilesystem = errors.New("archive is on a network filesystem")

var networkFilesystems = map[string]struct{}{
	"9p":     {},
	"afpfs":  {},
	"afs":    {},
	"ceph":   {},
	"cifs":   {},
	"lustre": {},
	"nfs":    {},
	"smb2":   {},
	"smbfs":  {},
	"webdav": {},
}

// Location is where an archive database lives or will be created.
type Location struct {
	// Path is the absolute database path.
	Path string
	// Existing is Path itself, or the nearest ancestor that exists yet.
	Existing   string
	Filesystem string
}

// IsNew reports whether the database file still has to be created.
func (l Location) IsNew() bool { return l.Existing != l.Path }

// filesystemOf names the filesystem holding path. Replaced in tests.
var filesystemOf = filesystemType

// CheckArchiveLocation resolves path and inspects what would hold the archive.
// The database must be a regular file (or not exist yet) below a directory, on
// a local filesystem.
func CheckArchiveLocation(path string) (Location, error) {
	if strings.TrimSpace(path) == "" {
		return Location{}, errors.New("archive path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Location{}, fmt.Errorf("resolve archive path %q: %w", path, err)
	}

	loc := Location{Path: abs}
	info, existing, err := nearestExisting(abs)
	if err != nil {
		return Location{}, err
	}
	loc.Existing = existing
	switch {
	case existing == abs && info.IsDir():
		return Location{}, fmt.Errorf("archive path %s is a directory", abs)
	case existing != abs && !info.IsDir():
		return Location{}, fmt.Errorf("archive directory cannot be created: %s is a file", existing)
	}

	loc.Filesystem, err = filesystemOf(existing)
	if err != nil {
		return Location{}, fmt.Errorf("inspect filesystem of %s: %w", existing, err)
	}
	if isNetworkFilesystem(loc.Filesystem) {
		return loc, fmt.Errorf("%w: %s is on %s", ErrNetworkFilesystem, existing, loc.Filesystem)
	}
	return loc, nil
}

func nearestExisting(abs string) (os.FileInfo, string, error) {
	candidate := abs
	for {
		info, err := os.Stat(candidate)
		if err == nil {
			return info, candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return nil, "", fmt.Errorf("no existing parent for %s", abs)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return found
}
