package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/foldersync/fsync/internal/model"
)

// FakeSource is an in-memory RemoteSource used by tests and the
// test/fakefolder harness in place of a real transport. It also exposes
// mutation methods (InsertFile, InsertDir, UpdateContent, Remove,
// RenamePath) so tests can
// script remote-side changes between sync runs, the way the original
// test suite's FakeFolder drives its fake server.
type FakeSource struct {
	mu      sync.Mutex
	entries map[string]model.RemoteEntry // path -> entry
}

// NewFakeSource returns an empty fake remote tree.
func NewFakeSource() *FakeSource {
	return &FakeSource{entries: make(map[string]model.RemoteEntry)}
}

// InsertFile adds or replaces a remote regular file at path with the given
// content size, synthesizing a fresh etag and remote id.
func (f *FakeSource) InsertFile(path string, sizeBytes int64, mtime int64) model.RemoteEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := model.RemoteEntry{
		Path:      path,
		IsDir:     false,
		SizeBytes: sizeBytes,
		Mtime:     mtime,
		Etag:      uuid.NewString(),
		RemoteID:  uuid.NewString(),
	}
	e.ParentRemoteID = f.parentIDLocked(path)
	f.entries[path] = e
	return e
}

// InsertDir adds a remote directory at path.
func (f *FakeSource) InsertDir(path string, mtime int64) model.RemoteEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := model.RemoteEntry{
		Path:     path,
		IsDir:    true,
		Mtime:    mtime,
		Etag:     uuid.NewString(),
		RemoteID: uuid.NewString(),
	}
	e.ParentRemoteID = f.parentIDLocked(path)
	f.entries[path] = e
	return e
}

// UpdateContent changes a file's size/mtime and mints a new etag, as if
// the remote content changed.
func (f *FakeSource) UpdateContent(path string, sizeBytes int64, mtime int64) (model.RemoteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[path]
	if !ok {
		return model.RemoteEntry{}, fmt.Errorf("fake remote: no entry at %q", path)
	}
	e.SizeBytes = sizeBytes
	e.Mtime = mtime
	e.Etag = uuid.NewString()
	f.entries[path] = e
	return e, nil
}

// Remove deletes the remote entry at path.
func (f *FakeSource) Remove(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, path)
}

// RenamePath moves a remote entry from one path to another, keeping its
// remote id and minting a fresh etag.
func (f *FakeSource) RenamePath(from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[from]
	if !ok {
		return fmt.Errorf("fake remote: no entry at %q", from)
	}
	delete(f.entries, from)
	e.Path = to
	e.Etag = uuid.NewString()
	e.ParentRemoteID = f.parentIDLocked(to)
	f.entries[to] = e
	return nil
}

// Get returns the current entry at path, if any.
func (f *FakeSource) Get(path string) (model.RemoteEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[path]
	return e, ok
}

// Upload implements Mutator by inserting or overwriting the remote file at
// path, as if the propagator had just pushed local content upstream.
func (f *FakeSource) Upload(_ context.Context, path string, sizeBytes, mtime int64) (model.RemoteEntry, error) {
	return f.InsertFile(path, sizeBytes, mtime), nil
}

// Delete implements Mutator.
func (f *FakeSource) Delete(_ context.Context, path string) error {
	f.Remove(path)
	return nil
}

// Rename implements Mutator.
func (f *FakeSource) Rename(_ context.Context, fromPath, toPath string) error {
	return f.RenamePath(fromPath, toPath)
}

func (f *FakeSource) parentIDLocked(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	parent := path[:idx]
	if e, ok := f.entries[parent]; ok {
		return e.RemoteID
	}
	return ""
}

// ListChildren returns every entry whose parent remote id matches
// remoteID.
func (f *FakeSource) ListChildren(_ context.Context, remoteID string) ([]model.RemoteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.RemoteEntry
	for _, e := range f.entries {
		if e.ParentRemoteID == remoteID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Stat returns the entry with the given remote id.
func (f *FakeSource) Stat(_ context.Context, remoteID string) (model.RemoteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, e := range f.entries {
		if e.RemoteID == remoteID {
			return e, nil
		}
	}
	return model.RemoteEntry{}, fmt.Errorf("fake remote: no entry with id %q", remoteID)
}

// ListAll returns every remote entry, directories-before-children ordered.
func (f *FakeSource) ListAll(_ context.Context) ([]model.RemoteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]model.RemoteEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		di := strings.Count(out[i].Path, "/")
		dj := strings.Count(out[j].Path, "/")
		if di != dj {
			return di < dj
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}
