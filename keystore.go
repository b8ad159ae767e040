package coredb

// Record is one entry in a KeyStore: {key, meta, body, sequence}
// (spec.md §3). Meta and Body may be nil.
type Record struct {
	Key      []byte
	Meta     []byte
	Body     []byte
	Sequence uint64
}

// DecodeFlags derives the record's DocFlags from its Meta bytes. This
// package defines the minimal, stable encoding it needs: the first byte
// of Meta holds the flag bits, matching the DocFlag* constants in
// datafile.go. A nil or empty
// Meta decodes to zero flags (SPEC_FULL.md §3: the wider document/meta
// format is out of this facade's scope; it only needs a stable way to
// read the Deleted bit for GetDocumentCount).
func (r Record) DecodeFlags() DocFlags {
	if len(r.Meta) == 0 {
		return 0
	}
	return DocFlags(r.Meta[0])
}

// ContentOptions controls how much of a record Enumerate materializes.
type ContentOptions int

const (
	// ContentDefault includes meta and body.
	ContentDefault ContentOptions = iota
	// ContentMetaOnly omits the body, for cheap enumeration (used by
	// GetDocumentCount, spec.md §4.6).
	ContentMetaOnly
)

// EnumerateOptions configures KeyStore.Enumerate.
type EnumerateOptions struct {
	// StartKey and EndKey bound the enumerated range. Nil/empty means
	// unbounded on that side.
	StartKey, EndKey []byte
	// Content controls whether bodies are materialized.
	Content ContentOptions
}

// DefaultEnumerateOptions enumerates the full key range with bodies
// included.
func DefaultEnumerateOptions() EnumerateOptions {
	return EnumerateOptions{Content: ContentDefault}
}

// Iterator walks records in key order. Callers must call Close when
// done, even after Next returns false.
type Iterator interface {
	// Next advances to the next record, returning false at end of range
	// or on error (check Err after Next returns false).
	Next() bool
	// Record returns the current record. Valid only after a call to
	// Next that returned true.
	Record() Record
	// Err returns the first error encountered during iteration, if any.
	Err() error
	// Close releases resources held by the iterator.
	Close() error
}

// OffsetKeyStore is an optional KeyStore capability: fetching a record
// by the physical byte offset it was written at, instead of by key.
// Only engines whose on-disk format naturally addresses records by
// offset (an append-only log, e.g. engine/forest) need implement it; a
// KeyStore that does not satisfy this interface simply has no
// offset-addressing capability, and Database.GetByOffset reports
// ErrUnsupported for it.
type OffsetKeyStore interface {
	GetByOffset(offset uint64) (Record, error)
}

// KeyStore is a namespace inside a DataFile holding {key -> (meta, body,
// sequence)} records (spec.md §3, Component 3). The default store holds
// user documents; named stores hold auxiliary records such as "expiry"
// or caller-defined "raw" stores.
type KeyStore interface {
	// Name returns the key store's name.
	Name() string

	// Get looks up key, returning ErrNotFound if absent.
	Get(key []byte) (Record, error)

	// Set writes {meta, body} at key under txn, assigning it the next
	// sequence number if the store has sequences enabled.
	Set(key, meta, body []byte, txn Transaction) error

	// Del removes key under txn. Returns (false, nil) if key was not
	// present; the caller decides whether that is an error.
	Del(key []byte, txn Transaction) (bool, error)

	// LastSequence returns the highest sequence number the store has
	// issued, or 0 if no records have ever been written. (engine/forest
	// also issues a sequence number to each delete.)
	LastSequence() (uint64, error)

	// Enumerate returns an Iterator over opts' range and content mode.
	Enumerate(opts EnumerateOptions) (Iterator, error)
}
