// Package journal implements the persistent per-path record store that
// backs three-way diffing: one record per tracked entity, a conflicts side
// table, an error blacklist table, and a handful of singleton flags.
//
// The schema is versioned with golang-migrate rather than hand-rolled
// ALTER TABLE bookkeeping, because the journal must survive exactly the
// kind of schema evolution the legacy-version scenarios exercise.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/foldersync/fsync/internal/model"
)

// ErrNotFound is returned when a lookup finds no record for a path.
var ErrNotFound = errors.New("journal: record not found")

// ErrCorrupt indicates the journal failed an integrity check and the run
// must abort fatally (spec §7, journal corruption).
var ErrCorrupt = errors.New("journal: corrupt or unreadable")

// Journal wraps a sqlite-backed record store. All writes go through a
// single serialized mutex, matching the "sole shared mutable resource,
// offers serialized read/write transactions" requirement (spec §5).
type Journal struct {
	conn *sql.DB
	mu   sync.Mutex
}

// Open opens (creating if necessary) the journal database at path and
// brings its schema up to date.
func Open(path string) (*Journal, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// The journal already serializes all writes through j.mu; capping the
	// pool at one connection also avoids the classic ":memory:" pitfall of
	// each pooled connection seeing a distinct, empty in-memory database.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return &Journal{conn: conn}, nil
}

// Close flushes the WAL back into the main database file and closes the
// underlying database handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	_, _ = j.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	j.mu.Unlock()
	return j.conn.Close()
}

// Get returns the journal record for path, or ErrNotFound.
func (j *Journal) Get(path string) (*model.JournalRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	row := j.conn.QueryRow(`SELECT path, kind, size, mtime, checksum, etag, remote_id, parent_remote_id, flags, writer_version
		FROM files WHERE path = ?`, path)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return rec, nil
}

// Upsert writes rec, replacing any existing record at rec.Path.
func (j *Journal) Upsert(rec *model.JournalRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.upsertLocked(rec)
}

func (j *Journal) upsertLocked(rec *model.JournalRecord) error {
	flags := 0
	if rec.AvoidReadFromDBNextSync {
		flags = 1
	}
	writerVersion := rec.WriterVersion
	if writerVersion == "" {
		writerVersion = model.CurrentWriterVersion
	}
	_, err := j.conn.Exec(`INSERT INTO files (path, kind, size, mtime, checksum, etag, remote_id, parent_remote_id, flags, writer_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			kind=excluded.kind, size=excluded.size, mtime=excluded.mtime,
			checksum=excluded.checksum, etag=excluded.etag, remote_id=excluded.remote_id,
			parent_remote_id=excluded.parent_remote_id, flags=excluded.flags,
			writer_version=excluded.writer_version`,
		rec.Path, int(rec.Kind), rec.SizeBytes, rec.Mtime, rec.Checksum, rec.Etag, rec.RemoteID, rec.ParentRemoteID, flags, writerVersion)
	if err != nil {
		return fmt.Errorf("upsert journal record %q: %w", rec.Path, err)
	}
	return nil
}

// Delete removes the record at path, if any.
func (j *Journal) Delete(path string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.deleteLocked(path)
}

func (j *Journal) deleteLocked(path string) error {
	if _, err := j.conn.Exec(`DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete journal record %q: %w", path, err)
	}
	return nil
}

// Rename atomically moves a journal record from one path to another,
// deleting any pre-existing record at to first (the legacy-coexistence
// case, spec rule 15).
func (j *Journal) Rename(from, to string, rec *model.JournalRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin rename tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM files WHERE path IN (?, ?)`, from, to); err != nil {
		return fmt.Errorf("clear rename targets: %w", err)
	}

	flags := 0
	if rec.AvoidReadFromDBNextSync {
		flags = 1
	}
	writerVersion := rec.WriterVersion
	if writerVersion == "" {
		writerVersion = model.CurrentWriterVersion
	}
	if _, err := tx.Exec(`INSERT INTO files (path, kind, size, mtime, checksum, etag, remote_id, parent_remote_id, flags, writer_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Path, int(rec.Kind), rec.SizeBytes, rec.Mtime, rec.Checksum, rec.Etag, rec.RemoteID, rec.ParentRemoteID, flags, writerVersion); err != nil {
		return fmt.Errorf("insert renamed record: %w", err)
	}

	return tx.Commit()
}

// AllRecords returns every journal record, ordered by path so that
// directories sort before their children.
func (j *Journal) AllRecords() ([]model.JournalRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.conn.Query(`SELECT path, kind, size, mtime, checksum, etag, remote_id, parent_remote_id, flags, writer_version
		FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rows.Close()

	var out []model.JournalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// RecordsUnderPrefix returns every record whose path is prefix or a
// descendant of prefix, used by markVirtualFileForDownloadRecursively.
func (j *Journal) RecordsUnderPrefix(prefix string) ([]model.JournalRecord, error) {
	all, err := j.AllRecords()
	if err != nil {
		return nil, err
	}
	var out []model.JournalRecord
	for _, rec := range all {
		if underPrefix(rec.Path, prefix) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func underPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.JournalRecord, error) {
	var rec model.JournalRecord
	var kind int
	var flags int
	var checksum, etag, remoteID, parentRemoteID, writerVersion sql.NullString
	var checksumBytes []byte
	if err := row.Scan(&rec.Path, &kind, &rec.SizeBytes, &rec.Mtime, &checksumBytes, &etag, &remoteID, &parentRemoteID, &flags, &writerVersion); err != nil {
		return nil, err
	}
	_ = checksum
	rec.Kind = model.ItemKind(kind)
	rec.Checksum = checksumBytes
	rec.Etag = etag.String
	rec.RemoteID = remoteID.String
	rec.ParentRemoteID = parentRemoteID.String
	rec.AvoidReadFromDBNextSync = flags&1 != 0
	rec.WriterVersion = writerVersion.String
	return &rec, nil
}
