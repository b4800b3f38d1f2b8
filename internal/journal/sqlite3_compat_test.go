package journal

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/foldersync/fsync/internal/model"
)

// TestSchemaReadableByCgoDriver opens a journal database produced by the
// pure-Go modernc.org/sqlite driver with the cgo mattn/go-sqlite3 driver and
// checks the migrated schema round-trips. Production code never uses the
// cgo driver; it is exercised here only as a compatibility check against an
// independent sqlite implementation.
func TestSchemaReadableByCgoDriver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	rec := &model.JournalRecord{Path: "A/a1.owncloud", Kind: model.KindVirtualPlaceholder, SizeBytes: 64, Etag: "e1", RemoteID: "r1"}
	if err := j.Upsert(rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("journal file missing: %v", err)
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open with cgo driver: %v", err)
	}
	defer conn.Close()

	var path2, writerVersion string
	row := conn.QueryRow(`SELECT path, writer_version FROM files WHERE path = ?`, "A/a1.owncloud")
	if err := row.Scan(&path2, &writerVersion); err != nil {
		t.Fatalf("scan via cgo driver: %v", err)
	}
	if path2 != "A/a1.owncloud" {
		t.Fatalf("unexpected path: %q", path2)
	}
	if writerVersion == "" {
		t.Fatalf("expected writer_version to be stamped")
	}
}
