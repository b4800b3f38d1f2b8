package propagate

import (
	"context"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/foldersync/fsync/internal/journal"
	"github.com/foldersync/fsync/internal/model"
	"github.com/foldersync/fsync/internal/remote"
)

// LocalPropagator is the reference Propagator implementation, operating
// against an afero.Fs and a Journal. It mutates disk first and commits the
// journal only after the mutation succeeds, never partially, the way
// marcus-td's ApplyRemoteEvents/MarkEventsSynced pair commits a batch of
// entity mutations and then marks them synced in the same transaction
// scope.
type LocalPropagator struct {
	Fs      afero.Fs
	Root    string
	Journal *journal.Journal
	Remote  remote.Mutator
	Clock   clockwork.Clock
}

// NewLocalPropagator returns a Propagator rooted at root on fsys, backed
// by j and mutator, timestamping conflict records from clock.
func NewLocalPropagator(fsys afero.Fs, root string, j *journal.Journal, mutator remote.Mutator, clock clockwork.Clock) *LocalPropagator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LocalPropagator{Fs: fsys, Root: root, Journal: j, Remote: mutator, Clock: clock}
}

func (p *LocalPropagator) fullPath(path string) string {
	return p.Root + "/" + path
}

func (p *LocalPropagator) CreatePlaceholder(_ context.Context, path string, _ int64, _ string, rec *model.JournalRecord) error {
	full := p.fullPath(path)
	if err := afero.WriteFile(p.Fs, full, nil, 0o644); err != nil {
		return fmt.Errorf("create placeholder %q: %w", path, err)
	}
	if err := p.Journal.Upsert(rec); err != nil {
		return fmt.Errorf("commit placeholder journal record %q: %w", path, err)
	}
	return nil
}

func (p *LocalPropagator) RemovePlaceholder(_ context.Context, path string) error {
	full := p.fullPath(path)
	if err := p.Fs.Remove(full); err != nil && !isNotExist(err) {
		return fmt.Errorf("remove placeholder %q: %w", path, err)
	}
	if err := p.Journal.Delete(path); err != nil {
		return fmt.Errorf("drop placeholder journal record %q: %w", path, err)
	}
	return nil
}

// DownloadFull materializes path: removes any placeholder at path+suffix,
// writes size zero-filled bytes standing in for the fetched content (real
// content transfer belongs to the external transport collaborator), and
// commits a File/Directory journal record.
func (p *LocalPropagator) DownloadFull(_ context.Context, path string, rec *model.JournalRecord) error {
	placeholderPath := p.fullPath(path + model.OwnedSuffix)
	if exists, _ := afero.Exists(p.Fs, placeholderPath); exists {
		if err := p.Fs.Remove(placeholderPath); err != nil {
			return fmt.Errorf("remove placeholder during materialize %q: %w", path, err)
		}
	}

	full := p.fullPath(path)
	wantDir := rec.Kind == model.KindDirectory
	if info, err := p.Fs.Stat(full); err == nil && info.IsDir() != wantDir {
		// TypeChange: the existing local entity is the wrong kind for what
		// the remote side now has at this path (e.g. a file where a
		// directory now belongs). Clear it first; afero.WriteFile/MkdirAll
		// don't replace an entity of the opposite kind on their own.
		if err := p.Fs.RemoveAll(full); err != nil {
			return fmt.Errorf("clear stale local entity before materializing %q: %w", path, err)
		}
	}

	if wantDir {
		if err := p.Fs.MkdirAll(full, 0o755); err != nil {
			return fmt.Errorf("materialize directory %q: %w", path, err)
		}
	} else {
		content := make([]byte, rec.SizeBytes)
		if err := afero.WriteFile(p.Fs, full, content, 0o644); err != nil {
			return fmt.Errorf("materialize file %q: %w", path, err)
		}
	}

	if err := p.Journal.Delete(path + model.OwnedSuffix); err != nil {
		return fmt.Errorf("drop stale placeholder record %q: %w", path, err)
	}
	if err := p.Journal.Upsert(rec); err != nil {
		return fmt.Errorf("commit materialized journal record %q: %w", path, err)
	}
	return nil
}

func (p *LocalPropagator) UploadNew(ctx context.Context, path string, rec *model.JournalRecord) error {
	entry, err := p.Remote.Upload(ctx, path, rec.SizeBytes, rec.Mtime)
	if err != nil {
		return fmt.Errorf("upload %q: %w", path, err)
	}
	rec.Etag = entry.Etag
	rec.RemoteID = entry.RemoteID
	if err := p.Journal.Upsert(rec); err != nil {
		return fmt.Errorf("commit upload journal record %q: %w", path, err)
	}
	return nil
}

func (p *LocalPropagator) DeleteRemote(ctx context.Context, path string) error {
	if err := p.Remote.Delete(ctx, path); err != nil {
		return fmt.Errorf("delete remote %q: %w", path, err)
	}
	full := p.fullPath(path)
	if err := p.Fs.RemoveAll(full); err != nil && !isNotExist(err) {
		return fmt.Errorf("delete local %q: %w", path, err)
	}
	if err := p.Journal.Delete(path); err != nil {
		return fmt.Errorf("drop journal record %q: %w", path, err)
	}
	return nil
}

// ApplyRemoteRename is the catch-up counterpart to a move the remote side
// already made: it renames the local file/placeholder and commits the
// journal, without calling Remote.Rename — fromPath no longer exists
// remotely by the time a Rename decision is ever produced.
func (p *LocalPropagator) ApplyRemoteRename(_ context.Context, fromPath, toPath string, rec *model.JournalRecord) error {
	if err := p.Fs.Rename(p.fullPath(fromPath), p.fullPath(toPath)); err != nil && !isNotExist(err) {
		return fmt.Errorf("rename local %q -> %q: %w", fromPath, toPath, err)
	}
	if err := p.Journal.Rename(fromPath, toPath, rec); err != nil {
		return fmt.Errorf("commit rename journal record %q -> %q: %w", fromPath, toPath, err)
	}
	return nil
}

func (p *LocalPropagator) RecordConflict(_ context.Context, path, conflictPath string, rec *model.JournalRecord) error {
	if conflictPath != "" && conflictPath != path {
		if err := p.Fs.Rename(p.fullPath(path), p.fullPath(conflictPath)); err != nil && !isNotExist(err) {
			return fmt.Errorf("rename conflict loser %q -> %q: %w", path, conflictPath, err)
		}
	}
	if err := p.Journal.RecordConflict(journal.ConflictRecord{
		Path: path, ConflictPath: orSelf(conflictPath, path), ServerMtime: rec.Mtime, DetectedAt: p.Clock.Now().Unix(),
	}); err != nil {
		return fmt.Errorf("record conflict %q: %w", path, err)
	}
	// The record just committed describes a path whose on-disk content was
	// rewritten out from under any DatabaseOnly reconstruction of it; force
	// a real stat on the next discovery pass instead of trusting the
	// journal for this path (internal/discover.localEntries clears the
	// flag once it has done that stat).
	rec.AvoidReadFromDBNextSync = true
	if err := p.Journal.Upsert(rec); err != nil {
		return fmt.Errorf("commit post-conflict journal record %q: %w", path, err)
	}
	return nil
}

func (p *LocalPropagator) UpdateMetadata(_ context.Context, _ string, rec *model.JournalRecord) error {
	if err := p.Journal.Upsert(rec); err != nil {
		return fmt.Errorf("commit metadata update %q: %w", rec.Path, err)
	}
	return nil
}

func (p *LocalPropagator) RemoveJournalOnly(_ context.Context, path string) error {
	if err := p.Journal.Delete(path); err != nil {
		return fmt.Errorf("remove journal-only record %q: %w", path, err)
	}
	return nil
}

func orSelf(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func isNotExist(err error) bool {
	return os.IsNotExist(err)
}
