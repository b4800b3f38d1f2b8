// Package syncrun orchestrates one full sync run: discover, reconcile,
// propagate, commit (spec §2 data flow). It also exposes the triggers an
// external caller (CLI, file watcher, etc.) uses to influence the next run.
package syncrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/foldersync/fsync/internal/blacklist"
	"github.com/foldersync/fsync/internal/discover"
	"github.com/foldersync/fsync/internal/journal"
	"github.com/foldersync/fsync/internal/model"
	"github.com/foldersync/fsync/internal/propagate"
	"github.com/foldersync/fsync/internal/reconcile"
)

// Status is the terminal state of a sync run.
type Status int

const (
	StatusComplete Status = iota
	StatusPartial
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPartial:
		return "partial"
	case StatusCancelled:
		return "cancelled"
	default:
		return "complete"
	}
}

// FatalSyncError distinguishes journal corruption and missing-sync-root
// conditions from ordinary per-path failures (spec §7), so the wrapping
// application can decide whether to suggest rebuilding the journal.
type FatalSyncError struct {
	Reason string
	Err    error
}

func (e *FatalSyncError) Error() string {
	return fmt.Sprintf("fatal sync error: %s: %v", e.Reason, e.Err)
}

func (e *FatalSyncError) Unwrap() error { return e.Err }

// Result summarizes one sync run.
type Result struct {
	Status       Status
	Decisions    []model.Decision
	Errored      []string
	ConflictPaths []string
}

// Engine ties the pieces together for one sync root.
type Engine struct {
	Journal    *journal.Journal
	Discovery  *discover.Discovery
	Propagator propagate.Propagator
	Blacklist  *blacklist.Blacklist
	Log        *slog.Logger
}

// New returns an Engine over the given components.
func New(j *journal.Journal, d *discover.Discovery, p propagate.Propagator, bl *blacklist.Blacklist, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{Journal: j, Discovery: d, Propagator: p, Blacklist: bl, Log: log}
}

// Run performs one sync run: discover, reconcile, dispatch, commit. now is
// a unix-seconds timestamp supplied by the caller's clock, used for
// conflict-copy naming and blacklist comparisons.
func (e *Engine) Run(ctx context.Context, opts model.SyncOptions, now int64) (Result, error) {
	if mode, prefixes, ok, err := e.Journal.LocalDiscoveryOptions(); err != nil {
		return Result{}, &FatalSyncError{Reason: "read local discovery options", Err: err}
	} else if ok {
		opts.LocalDiscoveryMode = mode
		opts.LocalDiscoveryPrefixes = prefixes
	}

	triples, fullDiscovery, err := e.Discovery.Discover(ctx, opts)
	if err != nil {
		if errors.Is(err, journal.ErrCorrupt) {
			return Result{}, &FatalSyncError{Reason: "journal corruption", Err: err}
		}
		return Result{}, &FatalSyncError{Reason: "discovery failed", Err: err}
	}

	var blChecker reconcile.BlacklistChecker
	if e.Blacklist != nil {
		blChecker = e.Blacklist
	}
	decisions := reconcile.ReconcileAll(triples, opts, blChecker, now, fullDiscovery)

	result := Result{Status: StatusComplete}
	for _, d := range decisions {
		if d.Instruction == model.InstructionNone || d.Instruction == model.Ignore {
			continue
		}

		select {
		case <-ctx.Done():
			result.Status = StatusCancelled
			return result, nil
		default:
		}

		if err := propagate.Dispatch(ctx, e.Propagator, d); err != nil {
			e.Log.Warn("propagate failed", "path", d.Path, "instruction", d.Instruction.String(), "error", err)
			result.Errored = append(result.Errored, d.Path)
			result.Status = StatusPartial
			if e.Blacklist != nil {
				if blErr := e.Blacklist.RecordFailure(d.Path, err); blErr != nil {
					e.Log.Warn("blacklist update failed", "path", d.Path, "error", blErr)
				}
			}
			continue
		}

		if e.Blacklist != nil {
			if err := e.Blacklist.ClearSuccess(d.Path); err != nil {
				e.Log.Warn("blacklist clear failed", "path", d.Path, "error", err)
			}
		}
		result.Decisions = append(result.Decisions, d)
		if d.Instruction == model.Conflict {
			result.ConflictPaths = append(result.ConflictPaths, d.ConflictPath)
		}
	}

	return result, nil
}

// MarkVirtualFileForDownloadRecursively flips every VirtualPlaceholder
// journal record under prefix to VirtualPendingDownload (spec rule 13).
func (e *Engine) MarkVirtualFileForDownloadRecursively(prefix string) error {
	records, err := e.Journal.RecordsUnderPrefix(prefix)
	if err != nil {
		return fmt.Errorf("mark for download: %w", err)
	}
	for _, rec := range records {
		if rec.Kind != model.KindVirtualPlaceholder {
			continue
		}
		rec.Kind = model.KindVirtualPendingDownload
		if err := e.Journal.Upsert(&rec); err != nil {
			return fmt.Errorf("mark %q for download: %w", rec.Path, err)
		}
	}
	return nil
}

// ForceRemoteDiscoveryNextSync sets the one-shot flag forcing a full
// remote traversal on the next Run.
func (e *Engine) ForceRemoteDiscoveryNextSync() error {
	return e.Journal.SetForceRemoteDiscoveryNextSync(true)
}

// SetLocalDiscoveryOptions persists the local discovery mode (and, for
// DatabaseOnly, the prefix set) every subsequent Run uses until this is
// called again (spec.md §6's setLocalDiscoveryOptions trigger).
func (e *Engine) SetLocalDiscoveryOptions(mode model.LocalDiscoveryMode, prefixes []string) error {
	return e.Journal.SetLocalDiscoveryOptions(mode, prefixes)
}

// WipeErrorBlacklist clears every blacklist entry.
func (e *Engine) WipeErrorBlacklist() error {
	if e.Blacklist == nil {
		return nil
	}
	return e.Blacklist.Wipe()
}
