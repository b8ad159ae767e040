package coredb

// Schema identifies one of the two document-store schema variants fixed
// at open (spec.md §4.5). The only observable behavioral difference
// today is that Database.GetByOffset, for any key store, is enabled only
// under SchemaV1.
type Schema int

const (
	// SchemaV1 is the legacy schema.
	SchemaV1 Schema = iota
	// SchemaV2 is selected by FlagV2Format.
	SchemaV2
)

func (s Schema) String() string {
	if s == SchemaV2 {
		return "V2"
	}
	return "V1"
}

func schemaFromFlags(f Flags) Schema {
	if f.Has(FlagV2Format) {
		return SchemaV2
	}
	return SchemaV1
}

// mustBeSchema returns nil if db's schema equals want, else ErrUnsupported
// (spec.md §4.5).
func (db *Database) mustBeSchema(want Schema) error {
	if db.schema == want {
		return nil
	}
	return ErrUnsupported
}

// GetByOffset looks up a record in the named key store by the physical
// byte offset it was written at (spec.md §4.5: "getByOffset is enabled
// only under V1"). Gated by mustBeSchema(SchemaV1); also requires the
// underlying engine's key store to implement OffsetKeyStore.
// engine/bolt's B-tree layout has no notion of a stable physical offset
// and never implements it, so GetByOffset against a "SQLite"-tagged
// database reports ErrUnsupported even under SchemaV1; engine/forest's
// append-only log does implement it.
func (db *Database) GetByOffset(store string, offset uint64) (Record, error) {
	if err := db.checkOpen(); err != nil {
		return Record{}, err
	}
	if err := db.mustBeSchema(SchemaV1); err != nil {
		return Record{}, err
	}
	ks, err := db.GetKeyStore(store)
	if err != nil {
		return Record{}, err
	}
	offsetKS, ok := ks.(OffsetKeyStore)
	if !ok {
		return Record{}, ErrUnsupported
	}
	return offsetKS.GetByOffset(offset)
}
