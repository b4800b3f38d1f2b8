package reconcile

import "github.com/foldersync/fsync/internal/model"

// renameInfo records a detected remote-side move, correlated by remote id
// rather than by path.
type renameInfo struct {
	fromEntity *entity
	toEntity   *entity
	decision   model.Decision
}

// applyRenameDetection finds remote-side renames by correlating journal
// RemoteID values against the current remote listing (spec rule 5 for
// virtual placeholders, and the fallback paragraph's "detected cross-path
// moves → RENAME" for plain files), and marks the participating entities
// so decideEntity skips their default new/remove handling.
//
// Local-side move detection (matching by content rather than remote id)
// is not implemented: it is not one of the concrete testable scenarios in
// spec §8, and is recorded as a documented gap rather than guessed at.
func applyRenameDetection(entities []*entity) []model.Decision {
	byRemoteID := make(map[string]*entity)
	for _, e := range entities {
		if e.base != nil && e.base.Journal != nil && e.base.Journal.RemoteID != "" {
			byRemoteID[e.base.Journal.RemoteID] = e
		}
		if e.suffix != nil && e.suffix.Journal != nil && e.suffix.Journal.RemoteID != "" {
			byRemoteID[e.suffix.Journal.RemoteID] = e
		}
	}

	var decisions []model.Decision
	for _, toEntity := range entities {
		remoteID, remote := currentRemote(toEntity)
		if remote == nil {
			continue
		}
		fromEntity, ok := byRemoteID[remoteID]
		if !ok || fromEntity == toEntity {
			continue
		}
		if fromEntity.canonical == toEntity.canonical {
			continue
		}
		// A move only applies if the old entity no longer has a live local
		// or remote presence of its own under its old name.
		if !entityVacated(fromEntity) {
			continue
		}

		oldRec := journalRecordOf(fromEntity)
		if oldRec == nil {
			continue
		}

		fromPath := oldRec.Path
		toPath := toEntity.canonical
		kind := oldRec.Kind
		// Whether the renamed entity keeps its placeholder status is a
		// property of what it WAS (oldRec.Kind), not of where the new
		// remote listing happened to be found — remote entries are never
		// suffixed themselves.
		if oldRec.Kind == model.KindVirtualPlaceholder || oldRec.Kind == model.KindVirtualPendingDownload {
			toPath = toEntity.canonical + model.OwnedSuffix
			kind = model.KindVirtualPlaceholder
		}

		newRec := cloneRecord(oldRec)
		newRec.Path = toPath
		newRec.SizeBytes = remote.SizeBytes
		newRec.Mtime = remote.Mtime
		newRec.Etag = remote.Etag
		newRec.RemoteID = remote.RemoteID
		newRec.ParentRemoteID = remote.ParentRemoteID

		decisions = append(decisions, model.Decision{
			Path:        toPath,
			Instruction: model.Rename,
			Kind:        kind,
			Intent:      model.JournalIntent{Record: newRec, RenameFrom: fromPath},
		})

		fromEntity.skip = true
		toEntity.skip = true
	}

	return decisions
}

func currentRemote(e *entity) (remoteID string, entry *model.RemoteEntry) {
	if e.suffix != nil && e.suffix.Remote != nil {
		return e.suffix.Remote.RemoteID, e.suffix.Remote
	}
	if e.base != nil && e.base.Remote != nil {
		return e.base.Remote.RemoteID, e.base.Remote
	}
	return "", nil
}

func journalRecordOf(e *entity) *model.JournalRecord {
	if e.base != nil && e.base.Journal != nil {
		return e.base.Journal
	}
	if e.suffix != nil && e.suffix.Journal != nil {
		return e.suffix.Journal
	}
	return nil
}

// entityVacated reports whether e's old name has no live remote entry of
// its own left (the precondition for treating it as "moved away" rather
// than "independently still present").
func entityVacated(e *entity) bool {
	if e.base != nil && e.base.Remote != nil {
		return false
	}
	if e.suffix != nil && e.suffix.Remote != nil {
		return false
	}
	return true
}
