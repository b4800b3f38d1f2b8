// Package blacklist implements the journal-backed error blacklist (spec
// §4.5): paths whose last propagator attempt failed get a cooldown before
// the reconciler will try them again. An in-process LRU cache fronts the
// journal so a sync run doesn't round-trip to SQLite for every path's
// blacklist check; the journal remains the durable source of truth.
package blacklist

import (
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"

	"github.com/foldersync/fsync/internal/journal"
)

// Backoff constants mirror marcus-td/internal/db/lock.go's write-lock
// retry schedule, applied here to retryAfter instead of lock-acquire
// retries.
const (
	initialBackoff = 5 * time.Second
	maxBackoff     = 30 * time.Minute
)

const cacheSize = 4096

// Blacklist is a read-through LRU cache over the journal's blacklist
// table.
type Blacklist struct {
	journal *journal.Journal
	cache   *lru.Cache[string, journal.BlacklistEntry]
	clock   clockwork.Clock
}

// New returns a Blacklist backed by j, using clock for "now" so tests can
// control expiry without sleeping.
func New(j *journal.Journal, clock clockwork.Clock) (*Blacklist, error) {
	cache, err := lru.New[string, journal.BlacklistEntry](cacheSize)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Blacklist{journal: j, cache: cache, clock: clock}, nil
}

// IsBlacklisted implements reconcile.BlacklistChecker: it reports whether
// path is currently within its cooldown window, comparing the stored
// retry-after time against nowUnix (b.clock is used only to stamp new
// failures in RecordFailure).
func (b *Blacklist) IsBlacklisted(path string, nowUnix int64) bool {
	entry, ok := b.lookup(path)
	if !ok {
		return false
	}
	return nowUnix < entry.RetryAfter
}

func (b *Blacklist) lookup(path string) (journal.BlacklistEntry, bool) {
	if entry, ok := b.cache.Get(path); ok {
		return entry, true
	}
	entry, err := b.journal.GetBlacklistEntry(path)
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			return journal.BlacklistEntry{}, false
		}
		return journal.BlacklistEntry{}, false
	}
	b.cache.Add(path, *entry)
	return *entry, true
}

// RecordFailure registers a propagator failure for path, doubling the
// backoff from the previous attempt (capped at maxBackoff).
func (b *Blacklist) RecordFailure(path string, err error) error {
	prev, _ := b.lookup(path)

	backoff := initialBackoff
	attempts := 1
	if prev.Attempts > 0 {
		attempts = prev.Attempts + 1
		backoff = initialBackoff << uint(prev.Attempts)
		if backoff > maxBackoff || backoff <= 0 {
			backoff = maxBackoff
		}
	}

	entry := journal.BlacklistEntry{
		Path:       path,
		LastError:  err.Error(),
		RetryAfter: b.clock.Now().Add(backoff).Unix(),
		Attempts:   attempts,
	}
	if putErr := b.journal.PutBlacklistEntry(entry); putErr != nil {
		return putErr
	}
	b.cache.Add(path, entry)
	return nil
}

// ClearSuccess removes path from the blacklist after a successful
// propagator call.
func (b *Blacklist) ClearSuccess(path string) error {
	b.cache.Remove(path)
	return b.journal.DeleteBlacklistEntry(path)
}

// Wipe implements the wipeErrorBlacklist() trigger (spec §6).
func (b *Blacklist) Wipe() error {
	b.cache.Purge()
	return b.journal.WipeBlacklist()
}
