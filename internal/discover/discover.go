// Package discover walks the local tree, the remote tree, and the journal,
// merging them into the per-path triples the Reconciler consumes (spec
// §4.2).
package discover

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/foldersync/fsync/internal/journal"
	"github.com/foldersync/fsync/internal/localfs"
	"github.com/foldersync/fsync/internal/model"
	"github.com/foldersync/fsync/internal/remote"
)

// Discovery produces the stream of PathTriple values Discover() emits.
type Discovery struct {
	Journal *journal.Journal
	Local   *localfs.Walker
	Remote  remote.RemoteSource
}

// New returns a Discovery over the given journal, local walker, and
// remote source.
func New(j *journal.Journal, local *localfs.Walker, r remote.RemoteSource) *Discovery {
	return &Discovery{Journal: j, Local: local, Remote: r}
}

// Discover runs one discovery pass according to opts, returning triples
// ordered so that every directory precedes its children (spec §4.2:
// "Directory triples are emitted before their children"), plus whether
// this pass did a full remote traversal rather than an incremental,
// subtree-skipping one (forceRemoteDiscoveryNextSync's effect — spec.md
// §6 — and a precondition the Reconciler uses to decide whether a legacy
// record is trustworthy to clean up; see rule 14).
func (d *Discovery) Discover(ctx context.Context, opts model.SyncOptions) ([]model.PathTriple, bool, error) {
	journalRecords, err := d.Journal.AllRecords()
	if err != nil {
		return nil, false, fmt.Errorf("discover: read journal: %w", err)
	}
	journalByPath := make(map[string]model.JournalRecord, len(journalRecords))
	for _, rec := range journalRecords {
		journalByPath[rec.Path] = rec
	}

	localByPath, err := d.localEntries(opts, journalByPath)
	if err != nil {
		return nil, false, fmt.Errorf("discover: local walk: %w", err)
	}

	forceRemote, err := d.Journal.ForceRemoteDiscoveryNextSync()
	if err != nil {
		return nil, false, fmt.Errorf("discover: read force-remote flag: %w", err)
	}
	fullDiscovery := forceRemote || opts.ForceRemoteDiscoveryNextSync
	remoteByPath, err := d.remoteEntries(ctx, fullDiscovery, journalByPath)
	if err != nil {
		return nil, false, fmt.Errorf("discover: remote listing: %w", err)
	}
	if forceRemote {
		if err := d.Journal.SetForceRemoteDiscoveryNextSync(false); err != nil {
			return nil, false, fmt.Errorf("discover: clear force-remote flag: %w", err)
		}
	}

	paths := make(map[string]struct{})
	for p := range localByPath {
		paths[p] = struct{}{}
	}
	for p := range remoteByPath {
		paths[p] = struct{}{}
	}
	for p := range journalByPath {
		paths[p] = struct{}{}
	}

	ordered := make([]string, 0, len(paths))
	for p := range paths {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool { return directoryFirstLess(ordered[i], ordered[j]) })

	triples := make([]model.PathTriple, 0, len(ordered))
	for _, p := range ordered {
		var local *model.FsEntry
		if e, ok := localByPath[p]; ok {
			local = &e
		}
		var rem *model.RemoteEntry
		if e, ok := remoteByPath[p]; ok {
			rem = &e
		}
		var rec *model.JournalRecord
		if r, ok := journalByPath[p]; ok {
			rec = &r
		}
		triples = append(triples, model.PathTriple{Path: p, Local: local, Remote: rem, Journal: rec})
	}

	return triples, fullDiscovery, nil
}

func (d *Discovery) localEntries(opts model.SyncOptions, journalByPath map[string]model.JournalRecord) (map[string]model.FsEntry, error) {
	switch opts.LocalDiscoveryMode {
	case model.DatabaseOnly:
		out := make(map[string]model.FsEntry)

		// A record flagged AvoidReadFromDBNextSync (set by the propagator
		// after a conflict rewrites a path out from under the journal) must
		// get a real stat this pass rather than a journal reconstruction,
		// so it rides along with the caller's own walked prefixes.
		var forceStat []string
		for p, rec := range journalByPath {
			if rec.AvoidReadFromDBNextSync {
				forceStat = append(forceStat, p)
			}
		}
		walkPrefixes := append(append([]string{}, opts.LocalDiscoveryPrefixes...), forceStat...)
		if len(walkPrefixes) > 0 {
			entries, err := d.Local.WalkPrefixes(walkPrefixes)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				out[e.Path] = e
			}
		}
		for _, p := range forceStat {
			rec := journalByPath[p]
			rec.AvoidReadFromDBNextSync = false
			if err := d.Journal.Upsert(&rec); err != nil {
				return nil, fmt.Errorf("clear avoid-read-from-db flag for %q: %w", p, err)
			}
		}

		// Everything outside the walked prefixes is taken from the journal
		// as local truth: a journal record of kind File/Directory implies
		// "this exists locally" for DatabaseOnly purposes.
		for p, rec := range journalByPath {
			if _, ok := out[p]; ok {
				continue
			}
			if rec.Kind == model.KindFile || rec.Kind == model.KindDirectory || rec.Kind == model.KindVirtualPlaceholder {
				out[p] = model.FsEntry{Path: p, IsDir: rec.Kind == model.KindDirectory, SizeBytes: rec.SizeBytes, Mtime: rec.Mtime, Checksum: rec.Checksum}
			}
		}
		return out, nil

	case model.FilesystemOnly, model.DatabaseAndFilesystem:
		entries, err := d.Local.WalkAll()
		if err != nil {
			return nil, err
		}
		out := make(map[string]model.FsEntry, len(entries))
		for _, e := range entries {
			out[e.Path] = e
		}
		return out, nil

	default:
		return nil, fmt.Errorf("discover: unknown local discovery mode %v", opts.LocalDiscoveryMode)
	}
}

// remoteEntries lists the remote tree. A forced full traversal walks
// everything with a single ListAll. Otherwise it walks the tree from the
// root via ListChildren, skipping into a directory's subtree only when
// its etag no longer matches the journal's last-seen value for it (spec
// §4.2's subtree-incremental-listing seam) — an unchanged directory's
// descendants are assumed unchanged rather than re-listed, and are
// reported from the journal's own remote snapshot instead.
func (d *Discovery) remoteEntries(ctx context.Context, forceFull bool, journalByPath map[string]model.JournalRecord) (map[string]model.RemoteEntry, error) {
	if forceFull {
		entries, err := d.Remote.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		out := make(map[string]model.RemoteEntry, len(entries))
		for _, e := range entries {
			out[e.Path] = e
		}
		return out, nil
	}

	out := make(map[string]model.RemoteEntry)
	if err := d.walkRemoteSubtree(ctx, "", journalByPath, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Discovery) walkRemoteSubtree(ctx context.Context, parentRemoteID string, journalByPath map[string]model.JournalRecord, out map[string]model.RemoteEntry) error {
	children, err := d.Remote.ListChildren(ctx, parentRemoteID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if !child.IsDir {
			out[child.Path] = child
			continue
		}

		rec, tracked := journalByPath[child.Path]
		if !tracked || rec.RemoteID != child.RemoteID {
			out[child.Path] = child
			if err := d.walkRemoteSubtree(ctx, child.RemoteID, journalByPath, out); err != nil {
				return err
			}
			continue
		}

		// A directory we've seen before: Stat it directly for its current
		// etag (cheaper than trusting the parent listing's embedded copy)
		// before deciding whether its subtree needs re-listing at all.
		fresh, err := d.Remote.Stat(ctx, child.RemoteID)
		if err != nil {
			return err
		}
		out[child.Path] = fresh
		if fresh.Etag == rec.Etag {
			fillFromJournal(child.Path, journalByPath, out)
			continue
		}
		if err := d.walkRemoteSubtree(ctx, fresh.RemoteID, journalByPath, out); err != nil {
			return err
		}
	}
	return nil
}

// fillFromJournal reports every journal record already known under prefix
// as a RemoteEntry, trusting it in place of a fresh remote listing.
func fillFromJournal(prefix string, journalByPath map[string]model.JournalRecord, out map[string]model.RemoteEntry) {
	for p, rec := range journalByPath {
		if p == prefix || !strings.HasPrefix(p, prefix+"/") || rec.RemoteID == "" {
			continue
		}
		out[p] = model.RemoteEntry{
			Path:      p,
			IsDir:     rec.Kind == model.KindDirectory,
			SizeBytes: rec.SizeBytes,
			Mtime:     rec.Mtime,
			Etag:      rec.Etag,
			RemoteID:  rec.RemoteID,
		}
	}
}

func directoryFirstLess(a, b string) bool {
	da := strings.Count(a, "/")
	db := strings.Count(b, "/")
	if da != db {
		return da < db
	}
	return a < b
}
