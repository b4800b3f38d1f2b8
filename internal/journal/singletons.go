package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/foldersync/fsync/internal/model"
)

const keyForceRemoteDiscovery = "force_remote_discovery_next_sync"

const (
	keyLocalDiscoveryMode     = "local_discovery_mode"
	keyLocalDiscoveryPrefixes = "local_discovery_prefixes"
	keyLocalDiscoverySet      = "local_discovery_options_set"
)

// SetLocalDiscoveryOptions persists the local discovery mode (and, for
// DatabaseOnly, the prefix set) that every sync run should use until this
// is called again (spec.md §6's setLocalDiscoveryOptions trigger).
func (j *Journal) SetLocalDiscoveryOptions(mode model.LocalDiscoveryMode, prefixes []string) error {
	if err := j.putSingleton(keyLocalDiscoveryMode, strconv.Itoa(int(mode))); err != nil {
		return err
	}
	if err := j.putSingleton(keyLocalDiscoveryPrefixes, strings.Join(prefixes, "\n")); err != nil {
		return err
	}
	return j.putSingleton(keyLocalDiscoverySet, "1")
}

// LocalDiscoveryOptions returns the persisted mode and prefixes, and
// whether SetLocalDiscoveryOptions has ever been called. ok is false
// when it hasn't, so the caller can keep using its own default.
func (j *Journal) LocalDiscoveryOptions() (mode model.LocalDiscoveryMode, prefixes []string, ok bool, err error) {
	set, err := j.getSingleton(keyLocalDiscoverySet)
	if err != nil {
		return 0, nil, false, err
	}
	if set != "1" {
		return 0, nil, false, nil
	}

	modeStr, err := j.getSingleton(keyLocalDiscoveryMode)
	if err != nil {
		return 0, nil, false, err
	}
	modeInt, convErr := strconv.Atoi(modeStr)
	if convErr != nil {
		return 0, nil, false, fmt.Errorf("%w: %v", ErrCorrupt, convErr)
	}

	prefixesStr, err := j.getSingleton(keyLocalDiscoveryPrefixes)
	if err != nil {
		return 0, nil, false, err
	}
	if prefixesStr != "" {
		prefixes = strings.Split(prefixesStr, "\n")
	}
	return model.LocalDiscoveryMode(modeInt), prefixes, true, nil
}

// ForceRemoteDiscoveryNextSync reports whether the one-shot
// forceRemoteDiscoveryNextSync flag (spec §4.1) is currently set.
func (j *Journal) ForceRemoteDiscoveryNextSync() (bool, error) {
	v, err := j.getSingleton(keyForceRemoteDiscovery)
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// SetForceRemoteDiscoveryNextSync sets or clears the flag.
func (j *Journal) SetForceRemoteDiscoveryNextSync(set bool) error {
	v := "0"
	if set {
		v = "1"
	}
	return j.putSingleton(keyForceRemoteDiscovery, v)
}

func (j *Journal) getSingleton(key string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	row := j.conn.QueryRow(`SELECT value FROM singletons WHERE key = ?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return v, nil
}

func (j *Journal) putSingleton(key, value string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.conn.Exec(`INSERT INTO singletons (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set singleton %q: %w", key, err)
	}
	return nil
}
