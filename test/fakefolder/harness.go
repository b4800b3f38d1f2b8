// Package fakefolder is an importable integration harness simulating a
// local tree (on an in-memory afero.Fs) and a remote tree (FakeSource),
// driving full sync runs against the reconciliation engine the way
// marcus-td/test/syncharness drives the sync engine against a real
// sqlite-backed multi-client fixture.
package fakefolder

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/foldersync/fsync/internal/blacklist"
	"github.com/foldersync/fsync/internal/discover"
	"github.com/foldersync/fsync/internal/journal"
	"github.com/foldersync/fsync/internal/localfs"
	"github.com/foldersync/fsync/internal/model"
	"github.com/foldersync/fsync/internal/propagate"
	"github.com/foldersync/fsync/internal/remote"
	"github.com/foldersync/fsync/internal/syncrun"
)

const root = "/sync"

// Harness bundles one simulated local+remote pair and the engine wired
// over them, plus direct handles to the local fs and remote fake so tests
// can script changes between sync runs.
type Harness struct {
	t *testing.T

	Fs     afero.Fs
	Remote *remote.FakeSource
	Clock  clockwork.FakeClock

	Journal *journal.Journal
	Engine  *syncrun.Engine
	Options model.SyncOptions

	closers []func()
}

// New creates a harness with an empty local tree and empty remote tree,
// using an in-memory (":memory:") journal; journal.Open caps the pool at
// one connection, so every query sees the same in-memory database.
func New(t *testing.T) *Harness {
	t.Helper()

	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir root: %v", err)
	}

	j, err := journal.Open(":memory:")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	fakeRemote := remote.NewFakeSource()
	clock := clockwork.NewFakeClock()

	bl, err := blacklist.New(j, clock)
	if err != nil {
		t.Fatalf("init blacklist: %v", err)
	}

	walker := localfs.NewWalker(fsys, root)
	d := discover.New(j, walker, fakeRemote)
	p := propagate.NewLocalPropagator(fsys, root, j, fakeRemote, clock)
	engine := syncrun.New(j, d, p, bl, nil)

	h := &Harness{
		t: t, Fs: fsys, Remote: fakeRemote, Clock: clock,
		Journal: j, Engine: engine, Options: model.DefaultSyncOptions(),
		closers: []func(){func() { j.Close() }},
	}
	t.Cleanup(h.close)
	return h
}

func (h *Harness) close() {
	for _, c := range h.closers {
		c()
	}
}

// Sync runs one sync pass and returns the paths of every non-trivial
// instruction dispatched, in dispatch order — the completeSpy equivalent
// used throughout the reference test suite.
func (h *Harness) Sync() []string {
	h.t.Helper()
	result, err := h.Engine.Run(context.Background(), h.Options, h.Clock.Now().Unix())
	if err != nil {
		h.t.Fatalf("sync run: %v", err)
	}
	paths := make([]string, len(result.Decisions))
	for i, d := range result.Decisions {
		paths[i] = d.Path
	}
	return paths
}

// SyncResult runs one sync pass and returns the full Result for tests
// that need instruction kinds or error counts, not just paths.
func (h *Harness) SyncResult() syncrun.Result {
	h.t.Helper()
	result, err := h.Engine.Run(context.Background(), h.Options, h.Clock.Now().Unix())
	if err != nil {
		h.t.Fatalf("sync run: %v", err)
	}
	return result
}

// Advance moves the fake clock forward, for blacklist-expiry tests.
func (h *Harness) Advance(d time.Duration) {
	h.Clock.Advance(d)
}

// LocalPath returns the full on-disk path for a sync-relative path.
func (h *Harness) LocalPath(relPath string) string {
	return root + "/" + relPath
}

// WriteLocalFile creates or overwrites a local file with size bytes of
// content, committing the given mtime.
func (h *Harness) WriteLocalFile(relPath string, size int, mtime time.Time) {
	h.t.Helper()
	full := h.LocalPath(relPath)
	content := make([]byte, size)
	if err := afero.WriteFile(h.Fs, full, content, 0o644); err != nil {
		h.t.Fatalf("write local file %q: %v", relPath, err)
	}
	if err := h.Fs.Chtimes(full, mtime, mtime); err != nil {
		h.t.Fatalf("chtimes %q: %v", relPath, err)
	}
}

// WriteLocalDir creates a local directory.
func (h *Harness) WriteLocalDir(relPath string) {
	h.t.Helper()
	if err := h.Fs.MkdirAll(h.LocalPath(relPath), 0o755); err != nil {
		h.t.Fatalf("mkdir %q: %v", relPath, err)
	}
}

// RemoveLocal deletes a local path (file or directory).
func (h *Harness) RemoveLocal(relPath string) {
	h.t.Helper()
	if err := h.Fs.RemoveAll(h.LocalPath(relPath)); err != nil {
		h.t.Fatalf("remove local %q: %v", relPath, err)
	}
}

// RenameLocal renames a local path.
func (h *Harness) RenameLocal(fromRel, toRel string) {
	h.t.Helper()
	if err := h.Fs.Rename(h.LocalPath(fromRel), h.LocalPath(toRel)); err != nil {
		h.t.Fatalf("rename local %q -> %q: %v", fromRel, toRel, err)
	}
}

// RenameRemote moves a remote entry from one path to another, keeping its
// remote id and minting a fresh etag — the remote-side move that rule 5's
// rename detection correlates against the journal's RemoteID.
func (h *Harness) RenameRemote(fromRel, toRel string) {
	h.t.Helper()
	if err := h.Remote.RenamePath(fromRel, toRel); err != nil {
		h.t.Fatalf("rename remote %q -> %q: %v", fromRel, toRel, err)
	}
}

// LocalExists reports whether relPath currently exists locally.
func (h *Harness) LocalExists(relPath string) bool {
	h.t.Helper()
	exists, err := afero.Exists(h.Fs, h.LocalPath(relPath))
	if err != nil {
		h.t.Fatalf("stat %q: %v", relPath, err)
	}
	return exists
}

// LocalSize returns the on-disk size of relPath.
func (h *Harness) LocalSize(relPath string) int64 {
	h.t.Helper()
	info, err := h.Fs.Stat(h.LocalPath(relPath))
	if err != nil {
		h.t.Fatalf("stat %q: %v", relPath, err)
	}
	return info.Size()
}

// JournalRecord returns the journal record at relPath, or nil if absent.
func (h *Harness) JournalRecord(relPath string) *model.JournalRecord {
	h.t.Helper()
	rec, err := h.Journal.Get(relPath)
	if err != nil {
		return nil
	}
	return rec
}

// ConflictRecordPaths returns every recorded conflict's conflict_path.
func (h *Harness) ConflictRecordPaths() []string {
	h.t.Helper()
	paths, err := h.Journal.ConflictRecordPaths()
	if err != nil {
		h.t.Fatalf("conflict record paths: %v", err)
	}
	return paths
}
