// Package localfs walks the local side of a sync root through an afero.Fs,
// so tests can substitute an in-memory filesystem for a real directory
// tree (spec §4.2 Discovery, local side).
package localfs

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/foldersync/fsync/internal/model"
)

// CaseSensitivity is a small capability interface a Fs backend can
// implement to report whether its names compare case-sensitively.
// Backends that don't implement it are assumed case-sensitive, matching
// POSIX-like afero.Fs backends. Discovery does not consult it: it matches
// local, remote and journal paths by exact, case-sensitive string key.
type CaseSensitivity interface {
	CaseSensitive() bool
}

// Walker walks a root directory on an afero.Fs, producing FsEntry values.
type Walker struct {
	Fs   afero.Fs
	Root string
}

// NewWalker returns a Walker rooted at root on fsys.
func NewWalker(fsys afero.Fs, root string) *Walker {
	return &Walker{Fs: fsys, Root: root}
}

// CaseSensitive reports whether w's backend compares names case-sensitively.
func (w *Walker) CaseSensitive() bool {
	if cs, ok := w.Fs.(CaseSensitivity); ok {
		return cs.CaseSensitive()
	}
	return true
}

// WalkAll walks every path under the root, directories before their
// children, matching the ordering Discovery's contract requires.
func (w *Walker) WalkAll() ([]model.FsEntry, error) {
	return w.walkPrefixes(nil)
}

// WalkPrefixes walks only the listed subtree prefixes (DatabaseOnly mode,
// spec §4.2), plus the root directory entries needed to reach them.
func (w *Walker) WalkPrefixes(prefixes []string) ([]model.FsEntry, error) {
	return w.walkPrefixes(prefixes)
}

func (w *Walker) walkPrefixes(prefixes []string) ([]model.FsEntry, error) {
	var entries []model.FsEntry

	err := afero.Walk(w.Fs, w.Root, func(fullPath string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walk %q: %w", fullPath, err)
		}
		rel, relErr := relPath(w.Root, fullPath)
		if relErr != nil {
			return relErr
		}
		if rel == "." || rel == "" {
			return nil
		}
		if len(prefixes) > 0 && !anyPrefixMatches(rel, prefixes) {
			if info.IsDir() {
				// Still need to descend to reach nested prefixes; afero.Walk
				// doesn't give us SkipDir granularity here without also
				// skipping wanted descendants, so we only filter the
				// emitted entry, not the traversal.
				return nil
			}
			return nil
		}

		entry := model.FsEntry{
			Path:      rel,
			IsDir:     info.IsDir(),
			SizeBytes: info.Size(),
			Mtime:     info.ModTime().Unix(),
		}
		if !info.IsDir() {
			sum, hashErr := hashFile(w.Fs, fullPath)
			if hashErr != nil {
				return fmt.Errorf("hash %q: %w", fullPath, hashErr)
			}
			entry.Checksum = sum
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return directoryFirstLess(entries[i].Path, entries[j].Path)
	})
	return entries, nil
}

func anyPrefixMatches(rel string, prefixes []string) bool {
	for _, p := range prefixes {
		if rel == p || strings.HasPrefix(rel, p+"/") || strings.HasPrefix(p, rel+"/") {
			return true
		}
	}
	return false
}

// directoryFirstLess orders by path depth then lexically, so a directory
// sorts before any of its children.
func directoryFirstLess(a, b string) bool {
	da := strings.Count(a, "/")
	db := strings.Count(b, "/")
	if da != db {
		return da < db
	}
	return a < b
}

func relPath(root, full string) (string, error) {
	rel, err := relSlash(root, full)
	if err != nil {
		return "", fmt.Errorf("compute relative path for %q under %q: %w", full, root, err)
	}
	return rel, nil
}

func relSlash(root, full string) (string, error) {
	root = strings.TrimSuffix(path.Clean(root), "/")
	full = path.Clean(full)
	if full == root {
		return ".", nil
	}
	prefix := root + "/"
	if !strings.HasPrefix(full, prefix) {
		return "", fmt.Errorf("path %q is not under root %q", full, root)
	}
	return strings.TrimPrefix(full, prefix), nil
}
