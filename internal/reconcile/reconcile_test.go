package reconcile

import (
	"testing"

	"github.com/foldersync/fsync/internal/model"
)

func TestRule1NewRemoteFileBecomesVirtual(t *testing.T) {
	triples := []model.PathTriple{
		{Path: "A/a1", Remote: &model.RemoteEntry{Path: "A/a1", SizeBytes: 64, Etag: "e1", RemoteID: "r1"}},
	}
	decisions := ReconcileAll(triples, model.DefaultSyncOptions(), nil, 1000, true)

	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %v", decisions)
	}
	d := decisions[0]
	if d.Path != "A/a1.owncloud" || d.Instruction != model.New || d.Kind != model.KindVirtualPlaceholder {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestRule1NewRemoteFileRealWhenNotVirtual(t *testing.T) {
	opts := model.DefaultSyncOptions()
	opts.NewFilesAreVirtual = false
	triples := []model.PathTriple{
		{Path: "A/a1", Remote: &model.RemoteEntry{Path: "A/a1", SizeBytes: 64, Etag: "e1", RemoteID: "r1"}},
	}
	decisions := ReconcileAll(triples, opts, nil, 1000, true)

	if len(decisions) != 1 || decisions[0].Path != "A/a1" || decisions[0].Instruction != model.New {
		t.Fatalf("unexpected decisions: %v", decisions)
	}
}

func TestRule3UnchangedPlaceholderIsNoOp(t *testing.T) {
	triples := []model.PathTriple{
		{Path: "A/a1.owncloud",
			Local:   &model.FsEntry{Path: "A/a1.owncloud", SizeBytes: 0},
			Remote:  &model.RemoteEntry{Path: "A/a1", SizeBytes: 64, Etag: "e1", RemoteID: "r1"},
			Journal: &model.JournalRecord{Path: "A/a1.owncloud", Kind: model.KindVirtualPlaceholder, SizeBytes: 64, Etag: "e1", RemoteID: "r1", WriterVersion: model.CurrentWriterVersion},
		},
	}
	decisions := ReconcileAll(triples, model.DefaultSyncOptions(), nil, 1000, true)
	if len(decisions) != 0 {
		t.Fatalf("expected no decisions, got %v", decisions)
	}
}

func TestRule6RemovedRemoteDropsPlaceholder(t *testing.T) {
	triples := []model.PathTriple{
		{Path: "A/a1.owncloud",
			Local:   &model.FsEntry{Path: "A/a1.owncloud", SizeBytes: 0},
			Journal: &model.JournalRecord{Path: "A/a1.owncloud", Kind: model.KindVirtualPlaceholder, SizeBytes: 64, Etag: "e1", RemoteID: "r1", WriterVersion: model.CurrentWriterVersion},
		},
	}
	decisions := ReconcileAll(triples, model.DefaultSyncOptions(), nil, 1000, true)
	if len(decisions) != 1 || decisions[0].Instruction != model.Remove {
		t.Fatalf("expected single REMOVE decision, got %v", decisions)
	}
}

func legacyUnknownKindTriples() []model.PathTriple {
	return []model.PathTriple{
		{Path: "A/a1.owncloud",
			Local:   &model.FsEntry{Path: "A/a1.owncloud", SizeBytes: 0},
			Remote:  &model.RemoteEntry{Path: "A/a1", SizeBytes: 64, Etag: "e2", RemoteID: "r1"},
			Journal: &model.JournalRecord{Path: "A/a1.owncloud", Kind: model.KindUnknown, SizeBytes: 64, Etag: "e1", RemoteID: "r1"},
		},
	}
}

// TestOldVersion1LegacyRecordUntouchedWithoutForcedDiscovery: an
// incremental (non-forced) sync encounters a legacy/unknown-kind journal
// record. Rule 14's cleanup must NOT fire, because an incremental remote
// listing may not have re-observed this path at all.
func TestOldVersion1LegacyRecordUntouchedWithoutForcedDiscovery(t *testing.T) {
	decisions := ReconcileAll(legacyUnknownKindTriples(), model.DefaultSyncOptions(), nil, 1000, false)
	if len(decisions) != 0 {
		t.Fatalf("expected the legacy record to be left untouched, got %v", decisions)
	}
}

// TestOldVersion2LegacyRecordClearedAfterForcedDiscovery: the same legacy
// record, now seen during a forced full remote traversal. Rule 14 cleans
// it up and materializes the real file.
func TestOldVersion2LegacyRecordClearedAfterForcedDiscovery(t *testing.T) {
	decisions := ReconcileAll(legacyUnknownKindTriples(), model.DefaultSyncOptions(), nil, 1000, true)
	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions (remove stale, materialize real), got %v", decisions)
	}
	var sawRemove, sawNew bool
	for _, d := range decisions {
		if d.Path == "A/a1.owncloud" && d.Instruction == model.Remove {
			sawRemove = true
		}
		if d.Path == "A/a1" && d.Instruction == model.New {
			sawNew = true
		}
	}
	if !sawRemove || !sawNew {
		t.Fatalf("unexpected decisions: %v", decisions)
	}
}

func TestRule15LegacyCoexistenceDropsSuffixRecord(t *testing.T) {
	triples := []model.PathTriple{
		{Path: "A/x",
			Local:   &model.FsEntry{Path: "A/x", SizeBytes: 64},
			Remote:  &model.RemoteEntry{Path: "A/x", SizeBytes: 64, Etag: "e1", RemoteID: "r1"},
			Journal: &model.JournalRecord{Path: "A/x", Kind: model.KindFile, SizeBytes: 64, Etag: "e1", RemoteID: "r1"},
		},
		{Path: "A/x.owncloud",
			Local:   &model.FsEntry{Path: "A/x.owncloud", SizeBytes: 0},
			Journal: &model.JournalRecord{Path: "A/x.owncloud", Kind: model.KindVirtualPlaceholder, RemoteID: "r1"},
		},
	}
	decisions := ReconcileAll(triples, model.DefaultSyncOptions(), nil, 1000, true)
	if len(decisions) != 1 || decisions[0].Path != "A/x.owncloud" || decisions[0].Instruction != model.Remove {
		t.Fatalf("expected single REMOVE of A/x.owncloud, got %v", decisions)
	}
}

func TestBlacklistedPathIsIgnored(t *testing.T) {
	triples := []model.PathTriple{
		{Path: "A/a1", Remote: &model.RemoteEntry{Path: "A/a1", SizeBytes: 64, Etag: "e1", RemoteID: "r1"}},
	}
	checker := stubBlacklist{blacklisted: map[string]bool{"A/a1.owncloud": true}}
	decisions := ReconcileAll(triples, model.DefaultSyncOptions(), checker, 1000, true)
	if len(decisions) != 1 || decisions[0].Instruction != model.Ignore {
		t.Fatalf("expected IGNORE decision, got %v", decisions)
	}
}

// TestRule8RealFileAlongsidePlaceholderFiresConflictAndRemovesIt covers
// rules 8/9: a real file appears at the base path while a resting
// (already-downloaded-nothing) VirtualPlaceholder still tracks it. The
// conflict must fire for the real path AND the placeholder's file and
// journal record must be dropped (placeholder exclusivity).
func TestRule8RealFileAlongsidePlaceholderFiresConflictAndRemovesIt(t *testing.T) {
	triples := []model.PathTriple{
		{Path: "A/a1",
			Local: &model.FsEntry{Path: "A/a1", SizeBytes: 32, Mtime: 500},
		},
		{Path: "A/a1.owncloud",
			Local:   &model.FsEntry{Path: "A/a1.owncloud", SizeBytes: 0},
			Journal: &model.JournalRecord{Path: "A/a1.owncloud", Kind: model.KindVirtualPlaceholder, SizeBytes: 64, Etag: "e1", RemoteID: "r1", WriterVersion: model.CurrentWriterVersion},
		},
	}
	decisions := ReconcileAll(triples, model.DefaultSyncOptions(), nil, 1000, true)

	var sawConflict, sawRemove bool
	for _, d := range decisions {
		if d.Path == "A/a1" && d.Instruction == model.Conflict {
			sawConflict = true
		}
		if d.Path == "A/a1.owncloud" && d.Instruction == model.Remove {
			sawRemove = true
			if d.JournalOnly {
				t.Fatalf("expected placeholder removal to delete the on-disk placeholder file, not be journal-only: %+v", d)
			}
		}
	}
	if !sawConflict || !sawRemove {
		t.Fatalf("expected CONFLICT + REMOVE(suffix) decisions, got %v", decisions)
	}
}

// TestPendingDownloadSurvivesConflictDuringMaterialization covers the
// conflict-during-materialization case: a download is already in flight
// (VirtualPendingDownload) when a colliding real file appears at the base
// path. The conflict must still fire for the real path, but the
// pending-download placeholder's journal record must be left untouched so
// the download is retried on the next sync instead of being dropped.
func TestPendingDownloadSurvivesConflictDuringMaterialization(t *testing.T) {
	triples := []model.PathTriple{
		{Path: "A/a1",
			Local: &model.FsEntry{Path: "A/a1", SizeBytes: 32, Mtime: 500},
		},
		{Path: "A/a1.owncloud",
			Local:   &model.FsEntry{Path: "A/a1.owncloud", SizeBytes: 0},
			Journal: &model.JournalRecord{Path: "A/a1.owncloud", Kind: model.KindVirtualPendingDownload, SizeBytes: 64, Etag: "e1", RemoteID: "r1", WriterVersion: model.CurrentWriterVersion},
		},
	}
	decisions := ReconcileAll(triples, model.DefaultSyncOptions(), nil, 1000, true)

	if len(decisions) != 1 {
		t.Fatalf("expected exactly the CONFLICT decision, pending-download record untouched; got %v", decisions)
	}
	d := decisions[0]
	if d.Path != "A/a1" || d.Instruction != model.Conflict {
		t.Fatalf("expected CONFLICT at A/a1, got %+v", d)
	}
}

// TestRule10DirectoryReplacesPlaceholderFiresConflictAndRemovesIt covers
// rule 10 (original_source testVirtualFileConflict, case C: user adds a
// directory locally where a virtual file's placeholder sat).
func TestRule10DirectoryReplacesPlaceholderFiresConflictAndRemovesIt(t *testing.T) {
	triples := []model.PathTriple{
		{Path: "A/a1",
			Local: &model.FsEntry{Path: "A/a1", IsDir: true, Mtime: 500},
		},
		{Path: "A/a1.owncloud",
			Local:   &model.FsEntry{Path: "A/a1.owncloud", SizeBytes: 0},
			Journal: &model.JournalRecord{Path: "A/a1.owncloud", Kind: model.KindVirtualPlaceholder, SizeBytes: 64, Etag: "e1", RemoteID: "r1", WriterVersion: model.CurrentWriterVersion},
		},
	}
	decisions := ReconcileAll(triples, model.DefaultSyncOptions(), nil, 1000, true)

	var sawConflict, sawRemove bool
	for _, d := range decisions {
		if d.Path == "A/a1" && d.Instruction == model.Conflict && d.Kind == model.KindDirectory {
			sawConflict = true
		}
		if d.Path == "A/a1.owncloud" && d.Instruction == model.Remove {
			sawRemove = true
			if d.JournalOnly {
				t.Fatalf("expected placeholder removal to delete the on-disk placeholder file, not be journal-only: %+v", d)
			}
		}
	}
	if !sawConflict || !sawRemove {
		t.Fatalf("expected CONFLICT(directory) + REMOVE(suffix) decisions, got %v", decisions)
	}
}

// TestSubtreeDownloadPolicyInheritMaterializationDownloadsNewFiles covers
// Open Question #1's InheritMaterialization alternative: a new remote file
// under a directory that already carries a real (materialized) journal
// record downloads directly instead of arriving as a placeholder.
func TestSubtreeDownloadPolicyInheritMaterializationDownloadsNewFiles(t *testing.T) {
	triples := []model.PathTriple{
		{Path: "A",
			Local:   &model.FsEntry{Path: "A", IsDir: true},
			Remote:  &model.RemoteEntry{Path: "A", IsDir: true, Etag: "eA", RemoteID: "rA"},
			Journal: &model.JournalRecord{Path: "A", Kind: model.KindDirectory},
		},
		{Path: "A/new1", Remote: &model.RemoteEntry{Path: "A/new1", SizeBytes: 32, Etag: "e1", RemoteID: "r1"}},
	}
	opts := model.DefaultSyncOptions()
	opts.SubtreeDownloadPolicy = model.InheritMaterialization
	decisions := ReconcileAll(triples, opts, nil, 1000, true)

	var found bool
	for _, d := range decisions {
		if d.Path == "A/new1" {
			found = true
			if d.Instruction != model.New || d.Kind != model.KindFile {
				t.Fatalf("expected a real-file NEW decision for A/new1, got %+v", d)
			}
		}
	}
	if !found {
		t.Fatalf("expected a decision for A/new1, got %v", decisions)
	}
}

// TestSubtreeDownloadPolicyKeepVirtualIsDefault confirms the default policy
// still virtualizes new files under a materialized directory.
func TestSubtreeDownloadPolicyKeepVirtualIsDefault(t *testing.T) {
	triples := []model.PathTriple{
		{Path: "A",
			Local:   &model.FsEntry{Path: "A", IsDir: true},
			Remote:  &model.RemoteEntry{Path: "A", IsDir: true, Etag: "eA", RemoteID: "rA"},
			Journal: &model.JournalRecord{Path: "A", Kind: model.KindDirectory},
		},
		{Path: "A/new1", Remote: &model.RemoteEntry{Path: "A/new1", SizeBytes: 32, Etag: "e1", RemoteID: "r1"}},
	}
	decisions := ReconcileAll(triples, model.DefaultSyncOptions(), nil, 1000, true)

	var found bool
	for _, d := range decisions {
		if d.Path == "A/new1.owncloud" {
			found = true
			if d.Instruction != model.New || d.Kind != model.KindVirtualPlaceholder {
				t.Fatalf("expected a placeholder NEW decision for A/new1.owncloud, got %+v", d)
			}
		}
	}
	if !found {
		t.Fatalf("expected a placeholder decision for A/new1.owncloud, got %v", decisions)
	}
}

type stubBlacklist struct {
	blacklisted map[string]bool
}

func (s stubBlacklist) IsBlacklisted(path string, _ int64) bool {
	return s.blacklisted[path]
}
