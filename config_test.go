package coredb

import "testing"

func TestFlagsHas(t *testing.T) {
	f := FlagCreate | FlagBundled
	if !f.Has(FlagCreate) {
		t.Fatalf("expected Has(FlagCreate)")
	}
	if !f.Has(FlagBundled) {
		t.Fatalf("expected Has(FlagBundled)")
	}
	if f.Has(FlagReadOnly) {
		t.Fatalf("did not expect Has(FlagReadOnly)")
	}
	if !f.Has(FlagCreate | FlagBundled) {
		t.Fatalf("expected Has of the combined flag set")
	}
	if f.Has(FlagCreate | FlagReadOnly) {
		t.Fatalf("Has should require every bit in want")
	}
}

func TestSchemaFromFlags(t *testing.T) {
	if got := schemaFromFlags(0); got != SchemaV1 {
		t.Fatalf("got %v, want SchemaV1", got)
	}
	if got := schemaFromFlags(FlagV2Format); got != SchemaV2 {
		t.Fatalf("got %v, want SchemaV2", got)
	}
}

func TestSchemaString(t *testing.T) {
	if SchemaV1.String() != "V1" {
		t.Fatalf("got %s", SchemaV1.String())
	}
	if SchemaV2.String() != "V2" {
		t.Fatalf("got %s", SchemaV2.String())
	}
}

func TestDatabaseConfigCloneIsIndependent(t *testing.T) {
	cfg := DatabaseConfig{Flags: FlagCreate, StorageEngine: "SQLite"}
	clone := cfg.clone()
	clone.StorageEngine = "ForestDB"
	if cfg.StorageEngine != "SQLite" {
		t.Fatalf("clone mutation leaked back into original")
	}
}
