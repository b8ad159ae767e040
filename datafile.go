package coredb

import (
	"fmt"
	"sync"

	"github.com/coredb-io/coredb/logging"
)

// DataFile is the capability coredb consumes from a storage engine: open
// a file (or bundle) readable/writable, compact, rekey, delete on disk,
// enumerate key stores, and vend a transaction tied to itself. At most
// one Transaction exists per DataFile at any moment (spec.md §3).
//
// Concrete storage engines are out of this package's scope; coredb only
// depends on this interface, matching spec.md §1's "treated as a generic
// Data File capability."
type DataFile interface {
	// Close releases the engine's resources without deleting on-disk data.
	Close() error

	// Path returns the filesystem path this DataFile was opened with.
	Path() string

	// Compact reorganizes on-disk storage to reclaim space. Orthogonal
	// to transactions.
	Compact() error

	// IsCompacting reports whether a compaction is currently running.
	IsCompacting() bool

	// SetOnCompact registers a callback invoked with true when
	// compaction starts and false when it ends. May be called from a
	// goroutine other than the caller's.
	SetOnCompact(cb func(starting bool))

	// Rekey atomically swaps the encryption algorithm and key. Reading
	// with the old key afterward fails.
	Rekey(alg EncryptionAlgorithm, key [EncryptionKeySize]byte) error

	// Delete removes the on-disk files backing this DataFile. It is
	// called instead of Close when the caller wants the files removed;
	// DataFile implementations must close their own handles as part of
	// Delete.
	Delete() error

	// KeyStore returns the named key store, creating it if it does not
	// already exist.
	KeyStore(name string) (KeyStore, error)

	// KeyStoreNames lists the names of all key stores that currently
	// exist in this DataFile.
	KeyStoreNames() ([]string, error)

	// BeginTransaction returns a new Transaction tied to this DataFile.
	// The caller must not call BeginTransaction again until the
	// returned Transaction has been committed or aborted.
	BeginTransaction() (Transaction, error)
}

// Transaction is a terminal-state handle owned by the database while
// active: Commit or Abort ends it, and calling either again is an
// implementation-defined no-op or error.
type Transaction interface {
	Commit() error
	Abort() error
}

// DocFlags decodes the meta-derived flag bits of a record.
type DocFlags uint8

const (
	// DocFlagDeleted marks a soft-deleted document.
	DocFlagDeleted DocFlags = 1 << iota
	// DocFlagConflicted marks a document with unresolved conflicts.
	DocFlagConflicted
	// DocFlagHasAttachments marks a document carrying attachments.
	DocFlagHasAttachments
	// DocFlagExists marks a live (already-created) document.
	DocFlagExists
)

// KeyStoreOptions configures a key store at DataFile-open time.
// engine/bolt and engine/forest accept these options but do not consult
// them: both always assign sequences, Del always removes the record, and
// offset lookup is gated by Database.GetByOffset rather than by the
// GetByOffset field.
type KeyStoreOptions struct {
	// Sequences enables per-record monotonic sequence numbers.
	Sequences bool
	// SoftDeletes enables the Deleted flag bit instead of hard deletion.
	SoftDeletes bool
	// GetByOffset enables lookup by physical offset (V1-schema-only
	// capability, spec.md §4.5).
	GetByOffset bool
}

// DataFileOptions configures DataFile construction (spec.md §4.2).
type DataFileOptions struct {
	Create      bool
	Writeable   bool
	Algorithm   EncryptionAlgorithm
	Key         [EncryptionKeySize]byte
	DefaultOpts KeyStoreOptions
	Logger      logging.Logger
}

// EngineConstructor builds a new DataFile for the given path and options.
type EngineConstructor func(path string, opts DataFileOptions) (DataFile, error)

// EngineRegistry maps storage-engine tags to constructors and provides
// the process-wide shutdown hook of spec.md §4.8. Most callers use
// DefaultRegistry via Register/Open and never construct one directly;
// the interface exists so a caller can supply an isolated registry
// instead of relying on package-level global state (spec.md §9's "avoid
// hidden singletons" design note, and DatabaseConfig.Registry).
type EngineRegistry interface {
	// Register associates tag with a constructor. Re-registering the
	// same tag replaces the previous constructor.
	Register(tag string, ctor EngineConstructor)

	// Open constructs a DataFile for tag, or *Error{Kind: KindUnimplemented}
	// if tag is not registered.
	Open(tag string, path string, opts DataFileOptions) (DataFile, error)

	// Shutdown flushes and releases each registered engine's global
	// state. Idempotent; safe to call with no live databases. Calling it
	// while any database is open yields undefined results (spec.md §4.8).
	Shutdown() error

	// AnyCompacting reports whether the most recently constructed
	// DataFile for any registered tag currently has a compaction in
	// flight. Because the registry only remembers the latest DataFile
	// per tag (see engineRegistry.live), this is a best-effort,
	// process-wide status query rather than an exhaustive one: it can
	// miss compactions on databases the registry has since lost track
	// of (a later Open for the same tag replaced the tracked entry).
	AnyCompacting() bool
}

// shutdowner is implemented by engines that hold process-wide global
// state needing an explicit release at shutdown (e.g. a shared page
// cache). Engines without such state need not implement it.
type shutdowner interface {
	Shutdown() error
}

type engineRegistry struct {
	mu   sync.Mutex
	ctor map[string]EngineConstructor
	// live remembers the most recently constructed DataFile per tag, so
	// Shutdown can reach engine-global state through a shutdowner and
	// AnyCompacting can poll IsCompacting, without keeping every
	// DataFile instance ever constructed alive.
	live map[string]DataFile
}

// NewEngineRegistry returns an empty, independent EngineRegistry.
func NewEngineRegistry() EngineRegistry {
	return &engineRegistry{
		ctor: make(map[string]EngineConstructor),
		live: make(map[string]DataFile),
	}
}

func (r *engineRegistry) Register(tag string, ctor EngineConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctor[tag] = ctor
}

func (r *engineRegistry) Open(tag string, path string, opts DataFileOptions) (DataFile, error) {
	r.mu.Lock()
	ctor, ok := r.ctor[tag]
	r.mu.Unlock()
	if !ok {
		return nil, newError(KindUnimplemented, "no storage engine registered for tag %q", tag)
	}
	df, err := ctor(path, opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.live[tag] = df
	r.mu.Unlock()
	return df, nil
}

func (r *engineRegistry) Shutdown() error {
	r.mu.Lock()
	live := r.live
	r.live = make(map[string]DataFile)
	r.mu.Unlock()

	var firstErr error
	for tag, df := range live {
		sd, ok := df.(shutdowner)
		if !ok {
			continue
		}
		if err := sd.Shutdown(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("engine %q shutdown: %w", tag, err)
		}
	}
	return firstErr
}

func (r *engineRegistry) AnyCompacting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, df := range r.live {
		if df.IsCompacting() {
			return true
		}
	}
	return false
}

// DefaultRegistry is the registry Open uses when DatabaseConfig.Registry
// is nil. Storage engine packages (engine/bolt, engine/forest) register
// themselves into it from an init function, mirroring the
// register-a-driver-in-init idiom used by database/sql drivers.
var DefaultRegistry EngineRegistry = NewEngineRegistry()

// Register registers ctor under tag in DefaultRegistry. Storage engine
// packages call this from init().
func Register(tag string, ctor EngineConstructor) {
	DefaultRegistry.Register(tag, ctor)
}

// Shutdown releases DefaultRegistry's process-wide engine state
// (spec.md §4.8). Calling it while any database is open yields
// undefined results.
func Shutdown() error {
	return DefaultRegistry.Shutdown()
}
