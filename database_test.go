package coredb_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coredb-io/coredb"
	_ "github.com/coredb-io/coredb/engine/bolt"
	_ "github.com/coredb-io/coredb/engine/forest"
)

func openTestDB(t *testing.T, cfg *coredb.DatabaseConfig) *coredb.Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sqlite3")
	if cfg == nil {
		cfg = &coredb.DatabaseConfig{}
	}
	cfg.Flags |= coredb.FlagCreate
	db, err := coredb.Open(path, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Release() })
	return db
}

func TestOpenCreatesFileAndRefcountStartsAtOne(t *testing.T) {
	db := openTestDB(t, nil)
	if db.GetPath() == "" {
		t.Fatalf("expected non-empty path")
	}
	if _, err := os.Stat(db.GetPath()); err != nil {
		t.Fatalf("expected database file at %s: %v", db.GetPath(), err)
	}
	// Delete reports ErrBusy unless the reference count is exactly one.
	if err := db.Delete(); err != nil {
		t.Fatalf("Delete on a freshly opened handle: got %v, want nil", err)
	}
}

func TestCloseIsTerminalExceptForRelease(t *testing.T) {
	db := openTestDB(t, nil)
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
	if err := db.Begin(); err != coredb.ErrDatabaseClosed {
		t.Fatalf("Begin on closed handle: got %v, want ErrDatabaseClosed", err)
	}
	if err := db.Release(); err != nil {
		t.Fatalf("Release on closed handle should succeed, got %v", err)
	}
}

func TestCloseFailsWhileInTransaction(t *testing.T) {
	db := openTestDB(t, nil)
	if err := db.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := db.Close(); err != coredb.ErrTransactionNotClosed {
		t.Fatalf("got %v, want ErrTransactionNotClosed", err)
	}
	if err := db.End(true); err != nil {
		t.Fatalf("End: %v", err)
	}
}

func TestDeleteRequiresRefcountOfOne(t *testing.T) {
	db := openTestDB(t, nil)
	db.Retain()
	if err := db.Delete(); err != coredb.ErrBusy {
		t.Fatalf("got %v, want ErrBusy", err)
	}
	if err := db.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := db.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestDeleteFailsWhileInTransaction(t *testing.T) {
	db := openTestDB(t, nil)
	if err := db.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := db.Delete(); err != coredb.ErrTransactionNotClosed {
		t.Fatalf("got %v, want ErrTransactionNotClosed", err)
	}
	if err := db.End(false); err != nil {
		t.Fatalf("End: %v", err)
	}
}

func TestCompactAndIsCompactingCallback(t *testing.T) {
	db := openTestDB(t, nil)
	var starts, ends int
	db.RegisterOnCompact(func(starting bool) {
		if starting {
			starts++
		} else {
			ends++
		}
	})
	if err := db.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if starts != 1 || ends != 1 {
		t.Fatalf("got starts=%d ends=%d, want 1,1", starts, ends)
	}
	if db.IsCompacting() {
		t.Fatalf("expected IsCompacting()=false once Compact has returned")
	}
}

func TestRekeyThenReadBack(t *testing.T) {
	db := openTestDB(t, nil)
	if err := db.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := db.RawPut("local", []byte("k"), []byte("m"), []byte("v")); err != nil {
		t.Fatalf("RawPut: %v", err)
	}
	if err := db.End(true); err != nil {
		t.Fatalf("End: %v", err)
	}

	var key [coredb.EncryptionKeySize]byte
	for i := range key {
		key[i] = byte(i + 1)
	}
	if err := db.Rekey(coredb.AlgorithmAES256, key); err != nil {
		t.Fatalf("Rekey: %v", err)
	}

	doc, err := db.RawGet("local", []byte("k"))
	if err != nil {
		t.Fatalf("RawGet after rekey: %v", err)
	}
	if string(doc.Body) != "v" {
		t.Fatalf("got body %q after rekey", doc.Body)
	}
}

func TestForestDBEngineOpensAndRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.forestdb")
	cfg := &coredb.DatabaseConfig{Flags: coredb.FlagCreate, StorageEngine: coredb.EngineForestDB}
	db, err := coredb.Open(path, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Release()

	if err := db.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := db.RawPut("local", []byte("k"), []byte("m"), []byte("v")); err != nil {
		t.Fatalf("RawPut: %v", err)
	}
	if err := db.End(true); err != nil {
		t.Fatalf("End: %v", err)
	}

	doc, err := db.RawGet("local", []byte("k"))
	if err != nil {
		t.Fatalf("RawGet: %v", err)
	}
	if string(doc.Body) != "v" {
		t.Fatalf("got body %q", doc.Body)
	}
}

func TestBundledDatabaseSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bundle")
	cfg := &coredb.DatabaseConfig{Flags: coredb.FlagCreate | coredb.FlagBundled}
	db, err := coredb.Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := db.RawPut("local", []byte("k"), []byte("m"), []byte("v")); err != nil {
		t.Fatalf("RawPut: %v", err)
	}
	if err := db.End(true); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := db.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	reopenCfg := &coredb.DatabaseConfig{Flags: coredb.FlagBundled}
	reopened, err := coredb.Open(dir, reopenCfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Release()
	doc, err := reopened.RawGet("local", []byte("k"))
	if err != nil {
		t.Fatalf("RawGet after reopen: %v", err)
	}
	if string(doc.Body) != "v" {
		t.Fatalf("got body %q after reopen", doc.Body)
	}
	if reopened.GetConfig().StorageEngine != coredb.EngineSQLite {
		t.Fatalf("got engine %q, want SQLite (default)", reopened.GetConfig().StorageEngine)
	}
}

func TestGetByOffsetRoundTripsOnForestDBUnderSchemaV1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.forestdb")
	cfg := &coredb.DatabaseConfig{Flags: coredb.FlagCreate, StorageEngine: coredb.EngineForestDB}
	db, err := coredb.Open(path, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Release()

	if err := db.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := db.RawPut("local", []byte("k"), []byte("m"), []byte("v")); err != nil {
		t.Fatalf("RawPut: %v", err)
	}
	if err := db.End(true); err != nil {
		t.Fatalf("End: %v", err)
	}

	rec, err := db.GetByOffset("local", 0)
	if err != nil {
		t.Fatalf("GetByOffset: %v", err)
	}
	if string(rec.Body) != "v" {
		t.Fatalf("got body %q, want %q", rec.Body, "v")
	}
}

func TestGetByOffsetUnsupportedUnderSchemaV2(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.forestdb")
	cfg := &coredb.DatabaseConfig{Flags: coredb.FlagCreate | coredb.FlagV2Format, StorageEngine: coredb.EngineForestDB}
	db, err := coredb.Open(path, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Release()

	if _, err := db.GetByOffset("local", 0); err != coredb.ErrUnsupported {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}
}

func TestGetByOffsetUnsupportedOnSQLiteEngine(t *testing.T) {
	db := openTestDB(t, nil)
	if err := db.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := db.RawPut("local", []byte("k"), []byte("m"), []byte("v")); err != nil {
		t.Fatalf("RawPut: %v", err)
	}
	if err := db.End(true); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := db.GetByOffset("local", 0); err != coredb.ErrUnsupported {
		t.Fatalf("got %v, want ErrUnsupported (bbolt has no offset addressing)", err)
	}
}

func TestDeleteAtPathRemovesUnopenedBundle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bundle")
	cfg := &coredb.DatabaseConfig{Flags: coredb.FlagCreate | coredb.FlagBundled}
	db, err := coredb.Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := db.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if err := coredb.DeleteAtPath(dir, &coredb.DatabaseConfig{Flags: coredb.FlagBundled}); err != nil {
		t.Fatalf("DeleteAtPath: %v", err)
	}
	if _, err := coredb.Open(dir, &coredb.DatabaseConfig{Flags: coredb.FlagBundled}); err == nil {
		t.Fatalf("expected reopening a deleted bundle to fail")
	}
}
