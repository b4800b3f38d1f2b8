// Package propagate implements the abstract sink the Reconciler's
// decisions are dispatched to (spec §4.4): uploads, downloads, renames,
// deletions, placeholder create/remove, and atomic journal commits.
package propagate

import (
	"context"

	"github.com/foldersync/fsync/internal/model"
)

// Propagator performs the I/O a Decision calls for and, on success,
// commits the matching journal update. Every method must be atomic with
// respect to the journal: either both disk and journal reflect success,
// or neither does (spec §4.4).
type Propagator interface {
	CreatePlaceholder(ctx context.Context, path string, size int64, etag string, rec *model.JournalRecord) error
	RemovePlaceholder(ctx context.Context, path string) error
	DownloadFull(ctx context.Context, path string, rec *model.JournalRecord) error
	UploadNew(ctx context.Context, path string, rec *model.JournalRecord) error
	DeleteRemote(ctx context.Context, path string) error
	// ApplyRemoteRename catches the local side up to a move the remote
	// side has already made: it is the only producer of model.Rename
	// decisions (internal/reconcile's rename detection), which by
	// construction fires exclusively when fromPath has already vacated
	// the remote. It must not push a rename upstream.
	ApplyRemoteRename(ctx context.Context, fromPath, toPath string, rec *model.JournalRecord) error
	RecordConflict(ctx context.Context, path, conflictPath string, rec *model.JournalRecord) error
	// UpdateMetadata commits a metadata-only journal change with no disk
	// or remote I/O.
	UpdateMetadata(ctx context.Context, path string, rec *model.JournalRecord) error
	// RemoveJournalOnly drops a journal record without touching local or
	// remote storage (rule 11's stale-record cleanup).
	RemoveJournalOnly(ctx context.Context, path string) error
}

// Dispatch routes one Decision to the appropriate Propagator method. It is
// the single place that interprets a Decision's Instruction, so both the
// real engine and tests drive decisions through the same mapping.
func Dispatch(ctx context.Context, p Propagator, d model.Decision) error {
	switch d.Instruction {
	case model.New:
		switch d.Kind {
		case model.KindVirtualPlaceholder:
			rec := d.Intent.Record
			return p.CreatePlaceholder(ctx, d.Path, rec.SizeBytes, rec.Etag, rec)
		default:
			return p.DownloadFull(ctx, d.Path, d.Intent.Record)
		}

	case model.Remove:
		if d.JournalOnly {
			return p.RemoveJournalOnly(ctx, d.Path)
		}
		if d.Kind == model.KindVirtualPlaceholder {
			return p.RemovePlaceholder(ctx, d.Path)
		}
		return p.DeleteRemote(ctx, d.Path)

	case model.Rename:
		return p.ApplyRemoteRename(ctx, d.Intent.RenameFrom, d.Path, d.Intent.Record)

	case model.UpdateMetadata:
		return p.UpdateMetadata(ctx, d.Path, d.Intent.Record)

	case model.Sync:
		return p.UploadNew(ctx, d.Path, d.Intent.Record)

	case model.Conflict:
		return p.RecordConflict(ctx, d.Path, d.ConflictPath, d.Intent.Record)

	case model.TypeChange:
		return p.DownloadFull(ctx, d.Path, d.Intent.Record)

	case model.Ignore, model.InstructionNone:
		return nil

	default:
		return nil
	}
}
