package journal

import "fmt"

// ConflictRecord is one entry in the conflicts side table: a local
// modification that lost to a remote change, preserved under a renamed
// path (spec §4.3 "Conflict detection").
type ConflictRecord struct {
	Path         string
	ConflictPath string
	ServerMtime  int64
	DetectedAt   int64
}

// RecordConflict appends a conflict entry. Conflicts are append-only; a
// path may accumulate more than one over its lifetime.
func (j *Journal) RecordConflict(rec ConflictRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.conn.Exec(`INSERT INTO conflicts (path, conflict_path, server_mtime, detected_at) VALUES (?, ?, ?, ?)`,
		rec.Path, rec.ConflictPath, rec.ServerMtime, rec.DetectedAt)
	if err != nil {
		return fmt.Errorf("record conflict for %q: %w", rec.Path, err)
	}
	return nil
}

// ConflictRecordPaths returns the conflict_path value of every recorded
// conflict, matching spec §8's conflictRecordPaths assertion surface.
func (j *Journal) ConflictRecordPaths() ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.conn.Query(`SELECT conflict_path FROM conflicts ORDER BY detected_at`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListConflicts returns every recorded conflict, newest first.
func (j *Journal) ListConflicts() ([]ConflictRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.conn.Query(`SELECT path, conflict_path, server_mtime, detected_at FROM conflicts ORDER BY detected_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rows.Close()

	var out []ConflictRecord
	for rows.Next() {
		var rec ConflictRecord
		if err := rows.Scan(&rec.Path, &rec.ConflictPath, &rec.ServerMtime, &rec.DetectedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
