package fakefolder_test

import (
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/foldersync/fsync/internal/model"
	"github.com/foldersync/fsync/test/fakefolder"
)

func TestNewRemoteFileMaterializesAsPlaceholder(t *testing.T) {
	h := fakefolder.New(t)
	h.Remote.InsertFile("A/a1", 64, h.Clock.Now().Unix())

	paths := h.Sync()
	if len(paths) != 1 || paths[0] != "A/a1.owncloud" {
		t.Fatalf("expected single NEW for A/a1.owncloud, got %v", paths)
	}
	if !h.LocalExists("A/a1.owncloud") {
		t.Fatalf("expected placeholder file to exist")
	}
	if h.LocalExists("A/a1") {
		t.Fatalf("expected no real file at A/a1")
	}
	if size := h.LocalSize("A/a1.owncloud"); size != 0 {
		t.Fatalf("expected placeholder to be empty, got size %d", size)
	}
	rec := h.JournalRecord("A/a1.owncloud")
	if rec == nil || rec.Kind != model.KindVirtualPlaceholder {
		t.Fatalf("expected VirtualPlaceholder journal record, got %+v", rec)
	}
}

func TestRemoteMetadataChangeUpdatesPlaceholder(t *testing.T) {
	h := fakefolder.New(t)
	h.Remote.InsertFile("A/a1", 64, h.Clock.Now().Unix())
	h.Sync()

	h.Advance(time.Minute)
	if _, err := h.Remote.UpdateContent("A/a1", 65, h.Clock.Now().Unix()); err != nil {
		t.Fatalf("update remote content: %v", err)
	}

	result := h.SyncResult()
	if len(result.Decisions) != 1 || result.Decisions[0].Instruction != model.UpdateMetadata {
		t.Fatalf("expected single UPDATE_METADATA decision, got %v", result.Decisions)
	}
	if !h.LocalExists("A/a1.owncloud") || h.LocalExists("A/a1") {
		t.Fatalf("expected placeholder to remain the only local entry")
	}
	rec := h.JournalRecord("A/a1.owncloud")
	if rec == nil || rec.SizeBytes != 65 {
		t.Fatalf("expected journal size 65, got %+v", rec)
	}
}

func TestPendingDownloadMaterializesRealFile(t *testing.T) {
	h := fakefolder.New(t)
	h.Remote.InsertFile("A/a1", 65, h.Clock.Now().Unix())
	h.Sync()

	if err := h.Engine.MarkVirtualFileForDownloadRecursively("A"); err != nil {
		t.Fatalf("mark for download: %v", err)
	}

	result := h.SyncResult()
	var sawNew, sawRemove bool
	for _, d := range result.Decisions {
		switch {
		case d.Path == "A/a1" && d.Instruction == model.New:
			sawNew = true
		case d.Path == "A/a1.owncloud" && d.Instruction == model.Remove:
			sawRemove = true
		}
	}
	if !sawNew || !sawRemove {
		t.Fatalf("expected NEW A/a1 and REMOVE A/a1.owncloud, got %v", result.Decisions)
	}
	if h.LocalExists("A/a1.owncloud") {
		t.Fatalf("expected placeholder gone")
	}
	if !h.LocalExists("A/a1") {
		t.Fatalf("expected real file materialized")
	}
}

func TestRule9ConflictResolutionIsIdempotentNextSync(t *testing.T) {
	h := fakefolder.New(t)
	h.Remote.InsertFile("A/a1", 64, h.Clock.Now().Unix())
	h.Sync()

	h.RemoveLocal("A/a1.owncloud")
	h.WriteLocalFile("A/a1", 64, time.Unix(h.Clock.Now().Unix(), 0))
	h.Sync()

	result := h.SyncResult()
	if len(result.Decisions) != 0 {
		// Conflict already resolved on the prior Sync() call; this second
		// run should be idempotent.
		t.Fatalf("expected no further decisions, got %v", result.Decisions)
	}
}

func TestRealFileAlongsidePlaceholderFiresConflict(t *testing.T) {
	h := fakefolder.New(t)
	h.Remote.InsertFile("A/a1", 64, h.Clock.Now().Unix())
	h.Sync()

	h.WriteLocalFile("A/a1", 64, time.Unix(h.Clock.Now().Unix(), 0))

	result := h.SyncResult()
	if len(result.Decisions) != 1 || result.Decisions[0].Instruction != model.Conflict {
		t.Fatalf("expected single CONFLICT decision, got %v", result.Decisions)
	}
	if h.LocalExists("A/a1.owncloud") {
		t.Fatalf("expected placeholder removed")
	}
	rec := h.JournalRecord("A/a1")
	if rec == nil || rec.Kind != model.KindFile {
		t.Fatalf("expected File journal record for A/a1, got %+v", rec)
	}
	if paths := h.ConflictRecordPaths(); len(paths) != 1 {
		t.Fatalf("expected one conflict record, got %v", paths)
	}
}

func TestLocalRenameToSuffixVirtualizes(t *testing.T) {
	h := fakefolder.New(t)
	h.Remote.InsertFile("A/a1", 64, h.Clock.Now().Unix())
	h.WriteLocalFile("A/a1", 64, time.Unix(h.Clock.Now().Unix(), 0))
	h.Sync() // adopt: journal now has a File record for A/a1

	h.RenameLocal("A/a1", "A/a1.owncloud")
	h.Sync()

	if !h.LocalExists("A/a1.owncloud") {
		t.Fatalf("expected placeholder to remain")
	}
	if h.LocalSize("A/a1.owncloud") != 0 {
		t.Fatalf("expected placeholder to be truncated to empty")
	}
	rec := h.JournalRecord("A/a1.owncloud")
	if rec == nil || rec.Kind != model.KindVirtualPlaceholder {
		t.Fatalf("expected VirtualPlaceholder journal record, got %+v", rec)
	}
	if _, ok := h.Remote.Get("A/a1"); !ok {
		t.Fatalf("expected remote file to remain untouched")
	}
}

func TestLocalRenameToUnmatchedSuffixPreservesFile(t *testing.T) {
	h := fakefolder.New(t)
	h.Remote.InsertFile("A/a2", 64, h.Clock.Now().Unix())
	h.WriteLocalFile("A/a2", 64, time.Unix(h.Clock.Now().Unix(), 0))
	h.Sync()

	h.RenameLocal("A/a2", "A/rand.owncloud")
	h.Sync()

	if !h.LocalExists("A/rand.owncloud") {
		t.Fatalf("expected renamed file to survive untouched")
	}
	if h.LocalSize("A/rand.owncloud") != 64 {
		t.Fatalf("expected original content size to be preserved")
	}
	if rec := h.JournalRecord("A/rand.owncloud"); rec != nil {
		t.Fatalf("expected no journal record for A/rand.owncloud, got %+v", rec)
	}
	if _, ok := h.Remote.Get("A/a2"); ok {
		t.Fatalf("expected remote A/a2 to be removed")
	}
}

func TestRecursiveMaterializationIsScopedToPrefix(t *testing.T) {
	h := fakefolder.New(t)
	now := h.Clock.Now().Unix()
	h.Remote.InsertFile("A/a1", 10, now)
	h.Remote.InsertFile("A/Sub/a3", 10, now)
	h.Remote.InsertFile("A/Sub/SubSub/a4", 10, now)
	h.Remote.InsertFile("A/Sub2/a6", 10, now)
	h.Remote.InsertFile("B/b1", 10, now)
	h.Sync()

	if err := h.Engine.MarkVirtualFileForDownloadRecursively("A/Sub"); err != nil {
		t.Fatalf("mark for download: %v", err)
	}
	h.Sync()

	materialized := []string{"A/Sub/a3", "A/Sub/SubSub/a4"}
	for _, p := range materialized {
		if !h.LocalExists(p) {
			t.Errorf("expected %s to be materialized", p)
		}
	}
	stillVirtual := []string{"A/a1", "A/Sub2/a6", "B/b1"}
	for _, p := range stillVirtual {
		if !h.LocalExists(p + ".owncloud") {
			t.Errorf("expected %s to remain a placeholder", p)
		}
	}
}

func TestRemoteRenameOfPlaceholderIsPropagatedLocally(t *testing.T) {
	h := fakefolder.New(t)
	h.Remote.InsertFile("A/a1", 64, h.Clock.Now().Unix())
	h.Sync()

	h.RenameRemote("A/a1", "A/a1m")
	result := h.SyncResult()

	var sawRename bool
	for _, d := range result.Decisions {
		if d.Instruction == model.Rename && d.Path == "A/a1m.owncloud" {
			sawRename = true
		}
	}
	if !sawRename {
		t.Fatalf("expected RENAME to A/a1m.owncloud, got %v", result.Decisions)
	}
	if h.LocalExists("A/a1.owncloud") {
		t.Fatalf("expected old placeholder path gone")
	}
	if !h.LocalExists("A/a1m.owncloud") {
		t.Fatalf("expected placeholder renamed in place")
	}
	rec := h.JournalRecord("A/a1m.owncloud")
	if rec == nil || rec.Kind != model.KindVirtualPlaceholder {
		t.Fatalf("expected VirtualPlaceholder journal record at new path, got %+v", rec)
	}
	if h.JournalRecord("A/a1.owncloud") != nil {
		t.Fatalf("expected old journal record gone")
	}
}

func TestTypeChangeFromFileToDirectoryReplacesLocalEntity(t *testing.T) {
	h := fakefolder.New(t)
	now := h.Clock.Now().Unix()
	h.Remote.InsertFile("A/a1", 64, now)
	h.WriteLocalFile("A/a1", 64, time.Unix(now, 0))
	h.Sync() // adopt: journal now has a File record for A/a1

	h.Remote.Remove("A/a1")
	h.Remote.InsertDir("A/a1", h.Clock.Now().Unix())

	result := h.SyncResult()
	var sawTypeChange bool
	for _, d := range result.Decisions {
		if d.Path == "A/a1" && d.Instruction == model.TypeChange {
			sawTypeChange = true
		}
	}
	if !sawTypeChange {
		t.Fatalf("expected TYPE_CHANGE decision for A/a1, got %v", result.Decisions)
	}

	isDir, err := afero.DirExists(h.Fs, h.LocalPath("A/a1"))
	if err != nil {
		t.Fatalf("stat A/a1: %v", err)
	}
	if !isDir {
		t.Fatalf("expected A/a1 to have been replaced by a directory")
	}
	rec := h.JournalRecord("A/a1")
	if rec == nil || rec.Kind != model.KindDirectory {
		t.Fatalf("expected Directory journal record, got %+v", rec)
	}
}

func TestIdempotentSecondSyncEmitsNothing(t *testing.T) {
	h := fakefolder.New(t)
	h.Remote.InsertFile("A/a1", 64, h.Clock.Now().Unix())
	h.Sync()

	paths := h.Sync()
	if len(paths) != 0 {
		t.Fatalf("expected no instructions on repeat sync, got %v", paths)
	}
}
