package coredb

import "github.com/coredb-io/coredb/logging"

// Flags is a bit set of database-open options.
type Flags uint32

const (
	// FlagCreate creates the database if it does not already exist.
	FlagCreate Flags = 1 << iota
	// FlagReadOnly opens the database read-only.
	FlagReadOnly
	// FlagBundled treats the path as a directory bundle rather than a
	// bare database file.
	FlagBundled
	// FlagV2Format selects the V2 schema at open (see schema.go).
	FlagV2Format
)

// Has reports whether all bits in want are set in f.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}

// EncryptionAlgorithm identifies a database encryption scheme.
type EncryptionAlgorithm int

const (
	// AlgorithmNone means the database is not encrypted.
	AlgorithmNone EncryptionAlgorithm = iota
	// AlgorithmAES256 encrypts the database with a 256-bit AES key.
	AlgorithmAES256
)

// EncryptionKeySize is the required length of EncryptionKey.Bytes when
// Algorithm is AlgorithmAES256.
const EncryptionKeySize = 32

// EncryptionKey configures database-at-rest encryption.
type EncryptionKey struct {
	Algorithm EncryptionAlgorithm
	// Bytes holds EncryptionKeySize raw key bytes when Algorithm != AlgorithmNone.
	Bytes [EncryptionKeySize]byte
}

// DatabaseConfig configures Open. It is immutable after Open returns
// except for the StorageEngine field, which ResolveBundle may fill in
// when the caller leaves it empty (spec.md §4.1).
type DatabaseConfig struct {
	// Flags is the bit set of open options (spec.md §6).
	Flags Flags

	// StorageEngine selects the storage engine by tag ("SQLite" or
	// "ForestDB"). Empty means "no preference": ResolveBundle picks one.
	StorageEngine string

	// EncryptionKey configures at-rest encryption. The zero value means
	// unencrypted.
	EncryptionKey EncryptionKey

	// Logger receives coredb's internal log output. If nil, a
	// WARN-level logger writing to stderr is used.
	Logger logging.Logger

	// Registry selects the storage-engine constructor registry to use.
	// If nil, DefaultRegistry is used. Most callers should leave this
	// nil; it exists so tests and unusual embedders can supply an
	// isolated registry instead of relying on the package-level default.
	Registry EngineRegistry

	// SingleThreaded replaces the Database's data-file lock with a no-op;
	// the transaction controller's own mutex and the engines' internal
	// locks are still used. Use only when
	// the caller guarantees a Database is never touched from more than
	// one goroutine; this is a runtime switch rather than spec.md's
	// build-time compilation flag, since Go callers can make this choice
	// at construction time without needing a separate build (SPEC_FULL.md
	// §5).
	SingleThreaded bool
}

// clone returns a shallow copy of cfg suitable for storing on a Database
// once StorageEngine has potentially been filled in by ResolveBundle.
func (c DatabaseConfig) clone() DatabaseConfig {
	return c
}
