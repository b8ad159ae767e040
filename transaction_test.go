package coredb_test

import (
	"path/filepath"
	"testing"

	"github.com/coredb-io/coredb"
	_ "github.com/coredb-io/coredb/engine/bolt"
)

func openTxnTestDB(t *testing.T) *coredb.Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sqlite3")
	cfg := &coredb.DatabaseConfig{Flags: coredb.FlagCreate}
	db, err := coredb.Open(path, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Release() })
	return db
}

func TestEndWithoutBeginReturnsNotInTransaction(t *testing.T) {
	db := openTxnTestDB(t)
	if err := db.End(true); err != coredb.ErrNotInTransaction {
		t.Fatalf("got %v, want ErrNotInTransaction", err)
	}
}

func TestNestedTransactionsShareOneUnderlyingTransaction(t *testing.T) {
	db := openTxnTestDB(t)
	if err := db.Begin(); err != nil {
		t.Fatalf("outer Begin: %v", err)
	}
	if !db.InTransaction() {
		t.Fatalf("expected InTransaction() after Begin")
	}
	if err := db.Begin(); err != nil {
		t.Fatalf("inner Begin: %v", err)
	}
	if err := db.RawPut("local", []byte("k"), []byte("m"), []byte("v")); err != nil {
		t.Fatalf("RawPut: %v", err)
	}
	if err := db.End(true); err != nil {
		t.Fatalf("inner End: %v", err)
	}
	if !db.InTransaction() {
		t.Fatalf("expected still InTransaction() after inner End")
	}
	if err := db.End(true); err != nil {
		t.Fatalf("outer End: %v", err)
	}
	if db.InTransaction() {
		t.Fatalf("expected not InTransaction() after outer End")
	}

	doc, err := db.RawGet("local", []byte("k"))
	if err != nil {
		t.Fatalf("RawGet: %v", err)
	}
	if string(doc.Body) != "v" {
		t.Fatalf("got body %q", doc.Body)
	}
}

// TestNestedAbortDoesNotLatchOuterCommit exercises the resolved Open
// Question: an inner End(false) does not force the outer End's decision.
// Only the outermost End's commit argument determines the fate of the
// underlying write.
func TestNestedAbortDoesNotLatchOuterCommit(t *testing.T) {
	db := openTxnTestDB(t)
	if err := db.Begin(); err != nil {
		t.Fatalf("outer Begin: %v", err)
	}
	if err := db.Begin(); err != nil {
		t.Fatalf("inner Begin: %v", err)
	}
	if err := db.RawPut("local", []byte("k"), []byte("m"), []byte("v")); err != nil {
		t.Fatalf("RawPut: %v", err)
	}
	if err := db.End(false); err != nil { // inner abort decision, non-latching
		t.Fatalf("inner End: %v", err)
	}
	if err := db.End(true); err != nil { // outer commits regardless
		t.Fatalf("outer End: %v", err)
	}

	doc, err := db.RawGet("local", []byte("k"))
	if err != nil {
		t.Fatalf("RawGet: %v", err)
	}
	if string(doc.Body) != "v" {
		t.Fatalf("got body %q, want the write to have survived the outer commit", doc.Body)
	}
}

func TestOuterAbortDiscardsCommittedInnerWrites(t *testing.T) {
	db := openTxnTestDB(t)
	if err := db.Begin(); err != nil {
		t.Fatalf("outer Begin: %v", err)
	}
	if err := db.Begin(); err != nil {
		t.Fatalf("inner Begin: %v", err)
	}
	if err := db.RawPut("local", []byte("k"), []byte("m"), []byte("v")); err != nil {
		t.Fatalf("RawPut: %v", err)
	}
	if err := db.End(true); err != nil { // inner "commit" is only a depth decrement
		t.Fatalf("inner End: %v", err)
	}
	if err := db.End(false); err != nil { // outer abort wins
		t.Fatalf("outer End: %v", err)
	}

	if _, err := db.RawGet("local", []byte("k")); err != coredb.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound after outer abort", err)
	}
}

func TestPurgeDocRequiresTransaction(t *testing.T) {
	db := openTxnTestDB(t)
	if err := db.PurgeDoc([]byte("k")); err != coredb.ErrNotInTransaction {
		t.Fatalf("got %v, want ErrNotInTransaction", err)
	}
}

func TestPurgeDocReturnsNotFoundForAbsentDoc(t *testing.T) {
	db := openTxnTestDB(t)
	if err := db.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	err := db.PurgeDoc([]byte("nope"))
	if endErr := db.End(err == nil); endErr != nil {
		t.Fatalf("End: %v", endErr)
	}
	if err != coredb.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
