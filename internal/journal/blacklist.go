package journal

import (
	"database/sql"
	"errors"
	"fmt"
)

// BlacklistEntry is one row of the journal-backed error blacklist (spec
// §4.5): a path whose last propagator attempt failed, with a cooldown
// before the reconciler will try it again.
type BlacklistEntry struct {
	Path       string
	LastError  string
	RetryAfter int64 // unix seconds
	Attempts   int
}

// GetBlacklistEntry returns the blacklist row for path, or ErrNotFound.
func (j *Journal) GetBlacklistEntry(path string) (*BlacklistEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	row := j.conn.QueryRow(`SELECT path, last_error, retry_after, attempts FROM blacklist WHERE path = ?`, path)
	var e BlacklistEntry
	if err := row.Scan(&e.Path, &e.LastError, &e.RetryAfter, &e.Attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &e, nil
}

// PutBlacklistEntry upserts a blacklist row.
func (j *Journal) PutBlacklistEntry(e BlacklistEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.conn.Exec(`INSERT INTO blacklist (path, last_error, retry_after, attempts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET last_error=excluded.last_error, retry_after=excluded.retry_after, attempts=excluded.attempts`,
		e.Path, e.LastError, e.RetryAfter, e.Attempts)
	if err != nil {
		return fmt.Errorf("put blacklist entry %q: %w", e.Path, err)
	}
	return nil
}

// DeleteBlacklistEntry removes path from the blacklist, if present.
func (j *Journal) DeleteBlacklistEntry(path string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.conn.Exec(`DELETE FROM blacklist WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete blacklist entry %q: %w", path, err)
	}
	return nil
}

// WipeBlacklist removes every blacklist row, implementing the
// wipeErrorBlacklist() trigger (spec §6).
func (j *Journal) WipeBlacklist() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.conn.Exec(`DELETE FROM blacklist`); err != nil {
		return fmt.Errorf("wipe blacklist: %w", err)
	}
	return nil
}

// AllBlacklistEntries returns every blacklist row.
func (j *Journal) AllBlacklistEntries() ([]BlacklistEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.conn.Query(`SELECT path, last_error, retry_after, attempts FROM blacklist`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rows.Close()

	var out []BlacklistEntry
	for rows.Next() {
		var e BlacklistEntry
		if err := rows.Scan(&e.Path, &e.LastError, &e.RetryAfter, &e.Attempts); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
