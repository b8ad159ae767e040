package coredb_test

import (
	"path/filepath"
	"testing"

	"github.com/coredb-io/coredb"
	_ "github.com/coredb-io/coredb/engine/bolt"
)

func openRawTestDB(t *testing.T) *coredb.Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sqlite3")
	db, err := coredb.Open(path, &coredb.DatabaseConfig{Flags: coredb.FlagCreate})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Release() })
	return db
}

func TestRawPutOpensAndClosesItsOwnTransaction(t *testing.T) {
	db := openRawTestDB(t)
	if err := db.RawPut("local", []byte("k"), []byte("m"), []byte("v")); err != nil {
		t.Fatalf("RawPut: %v", err)
	}
	if db.InTransaction() {
		t.Fatalf("expected RawPut to leave no open transaction")
	}
	doc, err := db.RawGet("local", []byte("k"))
	if err != nil {
		t.Fatalf("RawGet: %v", err)
	}
	if string(doc.Meta) != "m" || string(doc.Body) != "v" {
		t.Fatalf("got meta=%q body=%q", doc.Meta, doc.Body)
	}
}

func TestRawGetMissingReturnsNotFound(t *testing.T) {
	db := openRawTestDB(t)
	if _, err := db.RawGet("local", []byte("nope")); err != coredb.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRawPutEmptyMetaAndBodyDeletes(t *testing.T) {
	db := openRawTestDB(t)
	if err := db.RawPut("local", []byte("k"), []byte("m"), []byte("v")); err != nil {
		t.Fatalf("RawPut: %v", err)
	}
	if err := db.RawPut("local", []byte("k"), nil, nil); err != nil {
		t.Fatalf("RawPut delete: %v", err)
	}
	if _, err := db.RawGet("local", []byte("k")); err != coredb.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound after delete-via-empty-put", err)
	}
}

func TestRawGetReturnsIndependentCopies(t *testing.T) {
	db := openRawTestDB(t)
	if err := db.RawPut("local", []byte("k"), []byte("m"), []byte("v")); err != nil {
		t.Fatalf("RawPut: %v", err)
	}
	doc, err := db.RawGet("local", []byte("k"))
	if err != nil {
		t.Fatalf("RawGet: %v", err)
	}
	doc.Body[0] = 'X'
	doc2, err := db.RawGet("local", []byte("k"))
	if err != nil {
		t.Fatalf("RawGet: %v", err)
	}
	if string(doc2.Body) != "v" {
		t.Fatalf("mutating a returned RawDocument affected stored data: got %q", doc2.Body)
	}
}
