package coredb

import (
	"sync"

	"github.com/coredb-io/coredb/logging"
)

const defaultKeyStoreName = "default"
const expiryKeyStoreName = "expiry"

// noopLocker satisfies sync.Locker with no-op Lock/Unlock, used when
// DatabaseConfig.SingleThreaded is true (SPEC_FULL.md §5).
type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// Database is the facade's handle: it owns one open DataFile, holds
// configuration, manages reference counting, enforces "not in
// transaction" preconditions for destructive operations, and exposes
// the high-level verbs of spec.md §4.3.
type Database struct {
	path   string
	config DatabaseConfig
	schema Schema
	logger logging.Logger

	registry EngineRegistry

	mu sync.Locker // data-file lock: serializes verb bodies (spec.md §5)
	df DataFile

	txn *txnController
	ref *refCounter

	closed bool
}

// Open opens (and, if requested, creates) a database at path per cfg.
// See spec.md §4.3's operation table for the exact precondition/error
// contract.
func Open(path string, cfg *DatabaseConfig) (*Database, error) {
	if cfg == nil {
		return nil, newError(KindInvalidParameter, "config must not be nil")
	}
	logger := logging.OrDefault(cfg.Logger)

	resolved := cfg.clone()
	dbPath, err := ResolveBundle(path, &resolved)
	if err != nil {
		return nil, err
	}

	registry := resolved.Registry
	if registry == nil {
		registry = DefaultRegistry
	}

	opts := dataFileOptionsForMainDB(&resolved)
	opts.Logger = logger

	logger.Infof(logging.NSDB+"%s engine=%s path=%s", openVerb(resolved.Flags.Has(FlagCreate)), resolved.StorageEngine, dbPath)
	df, err := registry.Open(resolved.StorageEngine, dbPath, opts)
	if err != nil {
		if e, ok := err.(*Error); ok {
			return nil, e
		}
		return nil, wrapError(KindCantOpenFile, err, "opening %s", dbPath)
	}

	var lock sync.Locker
	if resolved.SingleThreaded {
		lock = noopLocker{}
	} else {
		lock = &sync.Mutex{}
	}

	db := &Database{
		path:     dbPath,
		config:   resolved,
		schema:   schemaFromFlags(resolved.Flags),
		logger:   logger,
		registry: registry,
		mu:       lock,
		df:       df,
		ref:      newRefCounter(),
	}
	db.txn = newTxnController(df, lock, logger)
	return db, nil
}

func openVerb(create bool) string {
	if create {
		return "creating"
	}
	return "opening"
}

// dataFileOptionsForMainDB derives DataFileOptions per spec.md §4.2: the
// main database's default key store gets sequences and soft-deletes
// enabled, and GetByOffset enabled only under SchemaV1.
func dataFileOptionsForMainDB(cfg *DatabaseConfig) DataFileOptions {
	return DataFileOptions{
		Create:    cfg.Flags.Has(FlagCreate),
		Writeable: !cfg.Flags.Has(FlagReadOnly),
		Algorithm: cfg.EncryptionKey.Algorithm,
		Key:       cfg.EncryptionKey.Bytes,
		DefaultOpts: KeyStoreOptions{
			Sequences:   true,
			SoftDeletes: true,
			GetByOffset: !cfg.Flags.Has(FlagV2Format),
		},
	}
}

// GetPath returns the filesystem path this handle was opened with.
func (db *Database) GetPath() string {
	return db.path
}

// GetConfig returns the configuration this handle was opened with. The
// returned value is a copy; mutating it has no effect on the handle.
func (db *Database) GetConfig() DatabaseConfig {
	return db.config
}

// Close closes the underlying DataFile. The handle remains addressable
// afterward (its Path/Config accessors still work) but Close is
// terminal: no other verb may be called on a closed handle except
// Release (SPEC_FULL.md §9, Open Question 2).
func (db *Database) Close() error {
	if err := db.txn.mustNotBeInTransaction(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	if err := db.df.Close(); err != nil {
		return wrapError(KindIOError, err, "closing database")
	}
	db.closed = true
	db.logger.Infof(logging.NSDB + "closed")
	return nil
}

func (db *Database) checkOpen() error {
	db.mu.Lock()
	closed := db.closed
	db.mu.Unlock()
	if closed {
		return ErrDatabaseClosed
	}
	return nil
}

// Retain increments the handle's reference count and returns db, so a
// subsystem that wants to keep a Database alive can write
// `sub.db = db.Retain()`.
func (db *Database) Retain() *Database {
	db.ref.Retain()
	return db
}

// Release decrements the reference count. At zero, the handle is
// considered fully disposed: no further verbs should be called on it.
// Requires not-in-transaction (spec.md §4.3 "free").
func (db *Database) Release() error {
	if err := db.txn.mustNotBeInTransaction(); err != nil {
		return err
	}
	db.ref.Release()
	return nil
}

// Delete removes the on-disk files backing this handle. Requires
// refcount == 1 (spec.md §4.3, invariant 2 in spec.md §8).
func (db *Database) Delete() error {
	if err := db.txn.mustNotBeInTransaction(); err != nil {
		return err
	}
	if err := db.checkOpen(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.ref.Load() > 1 {
		return ErrBusy
	}
	if err := db.df.Delete(); err != nil {
		return wrapError(KindIOError, err, "deleting database")
	}
	db.closed = true
	return nil
}

// DeleteAtPath removes the files at path per cfg without opening a
// handle (spec.md §4.3 "deleteAtPath").
func DeleteAtPath(path string, cfg *DatabaseConfig) error {
	if cfg == nil {
		return newError(KindInvalidParameter, "config must not be nil")
	}
	resolved := cfg.clone()
	return DeleteBundleFiles(path, &resolved)
}

// Compact triggers on-disk reorganization. Requires not-in-transaction.
func (db *Database) Compact() error {
	if err := db.txn.mustNotBeInTransaction(); err != nil {
		return err
	}
	if err := db.checkOpen(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.df.Compact(); err != nil {
		return wrapError(KindIOError, err, "compacting database")
	}
	return nil
}

// IsCompacting reports whether this handle's DataFile has a compaction
// in flight (SPEC_FULL.md §4.3 supplement). It does not take the
// data-file lock, which Compact holds for the whole compaction.
func (db *Database) IsCompacting() bool {
	return db.df.IsCompacting()
}

// AnyCompacting reports whether any engine registered in DefaultRegistry
// has a compaction in flight, by polling the most recently constructed
// DataFile per tag (see EngineRegistry.AnyCompacting). This is a
// best-effort, process-wide status query, matching the read-only,
// advisory nature of the original's c4db_isCompacting(NULL) form; it
// does not enumerate every open Database, only the latest one opened
// per storage engine tag.
func AnyCompacting() bool {
	return DefaultRegistry.AnyCompacting()
}

// RegisterOnCompact registers cb to be invoked with true when compaction
// starts and false when it ends. The engine invokes cb from inside
// Compact, while db's data-file lock is held, so cb must not call back
// into db (spec.md §9, Open Question 3).
func (db *Database) RegisterOnCompact(cb func(starting bool)) {
	db.mu.Lock()
	df := db.df
	db.mu.Unlock()
	df.SetOnCompact(cb)
}

// Rekey atomically swaps the database's encryption algorithm and key.
// Requires not-in-transaction.
func (db *Database) Rekey(alg EncryptionAlgorithm, key [EncryptionKeySize]byte) error {
	if err := db.txn.mustNotBeInTransaction(); err != nil {
		return err
	}
	if err := db.checkOpen(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.logger.Infof(logging.NSRekey + "rekeying")
	if err := db.df.Rekey(alg, key); err != nil {
		return wrapError(KindCryptoError, err, "rekeying database")
	}
	db.config.EncryptionKey = EncryptionKey{Algorithm: alg, Bytes: key}
	return nil
}

// GetKeyStore returns a reference to the named key store, creating it
// if it does not already exist.
func (db *Database) GetKeyStore(name string) (KeyStore, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	ks, err := db.df.KeyStore(name)
	if err != nil {
		return nil, wrapError(KindIOError, err, "opening key store %q", name)
	}
	return ks, nil
}

func (db *Database) defaultKeyStore() (KeyStore, error) {
	return db.GetKeyStore(defaultKeyStoreName)
}

// GetLastSequence returns the last sequence number of the default key
// store.
func (db *Database) GetLastSequence() (uint64, error) {
	ks, err := db.defaultKeyStore()
	if err != nil {
		return 0, err
	}
	seq, err := ks.LastSequence()
	if err != nil {
		return 0, wrapError(KindIOError, err, "reading last sequence")
	}
	return seq, nil
}

// Begin opens (or, if already in a transaction, nests into) a
// transaction on this handle. See txnController for the exact
// recursive-nesting semantics (spec.md §4.4).
func (db *Database) Begin() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.txn.Begin()
}

// End closes (or un-nests) the current transaction. commit selects
// commit vs. abort at the outermost level; see txnController.End for
// the non-latching nested-abort semantics.
func (db *Database) End(commit bool) error {
	ok, err := db.txn.End(commit)
	if !ok {
		return ErrNotInTransaction
	}
	return err
}

// InTransaction reports whether a transaction is currently open on this
// handle.
func (db *Database) InTransaction() bool {
	return db.txn.InTransaction()
}

// PurgeDoc removes the document with the given id from the default key
// store. Requires an active transaction.
func (db *Database) PurgeDoc(id []byte) error {
	if err := db.txn.mustBeInTransaction(); err != nil {
		return err
	}
	ks, err := db.defaultKeyStore()
	if err != nil {
		return err
	}
	deleted, err := ks.Del(id, db.txn.Current())
	if err != nil {
		return wrapError(KindIOError, err, "purging document")
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}
