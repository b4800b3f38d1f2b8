package propagate

import (
	"context"
	"sync"

	"github.com/foldersync/fsync/internal/model"
)

// Call is one recorded invocation against a RecordingPropagator.
type Call struct {
	Method       string
	Path         string
	ToPath       string
	ConflictPath string
	Record       *model.JournalRecord
}

// RecordingPropagator captures every dispatched instruction instead of
// performing I/O, the Go equivalent of the original client's
// `QSignalSpy completeSpy` used to assert exactly which instructions fired
// in a sync run (spec §8).
type RecordingPropagator struct {
	mu    sync.Mutex
	Calls []Call

	// Err, when set, is returned by every method, simulating a propagator
	// failure for blacklist/error-handling tests.
	Err error
}

func (r *RecordingPropagator) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, c)
	return r.Err
}

// Paths returns the path of every recorded call, in call order, matching
// the "completeSpy" assertion idiom from the reference test suite.
func (r *RecordingPropagator) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		out[i] = c.Path
	}
	return out
}

func (r *RecordingPropagator) CreatePlaceholder(_ context.Context, path string, size int64, etag string, rec *model.JournalRecord) error {
	return r.record(Call{Method: "CreatePlaceholder", Path: path, Record: rec})
}

func (r *RecordingPropagator) RemovePlaceholder(_ context.Context, path string) error {
	return r.record(Call{Method: "RemovePlaceholder", Path: path})
}

func (r *RecordingPropagator) DownloadFull(_ context.Context, path string, rec *model.JournalRecord) error {
	return r.record(Call{Method: "DownloadFull", Path: path, Record: rec})
}

func (r *RecordingPropagator) UploadNew(_ context.Context, path string, rec *model.JournalRecord) error {
	return r.record(Call{Method: "UploadNew", Path: path, Record: rec})
}

func (r *RecordingPropagator) DeleteRemote(_ context.Context, path string) error {
	return r.record(Call{Method: "DeleteRemote", Path: path})
}

func (r *RecordingPropagator) ApplyRemoteRename(_ context.Context, fromPath, toPath string, rec *model.JournalRecord) error {
	return r.record(Call{Method: "ApplyRemoteRename", Path: fromPath, ToPath: toPath, Record: rec})
}

func (r *RecordingPropagator) RecordConflict(_ context.Context, path, conflictPath string, rec *model.JournalRecord) error {
	return r.record(Call{Method: "RecordConflict", Path: path, ConflictPath: conflictPath, Record: rec})
}

func (r *RecordingPropagator) UpdateMetadata(_ context.Context, path string, rec *model.JournalRecord) error {
	return r.record(Call{Method: "UpdateMetadata", Path: path, Record: rec})
}

func (r *RecordingPropagator) RemoveJournalOnly(_ context.Context, path string) error {
	return r.record(Call{Method: "RemoveJournalOnly", Path: path})
}
