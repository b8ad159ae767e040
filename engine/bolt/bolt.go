// Package bolt implements coredb's DataFile interface over
// go.etcd.io/bbolt, an embedded, mmap'd, single-file B+tree store with
// ACID transactions. It backs the "SQLite" storage engine tag.
//
// Grounded on stevegt/grokker's bbolt adapters
// (universe/kv/bbolt.go, x/storm/db/bbolt/bbolt.go): open-with-timeout,
// a thin Tx wrapper, bucket-per-namespace.
package bolt

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/coredb-io/coredb"
	"github.com/coredb-io/coredb/engine"
)

func init() {
	coredb.Register(coredb.EngineSQLite, Open)
}

// openTimeout bounds how long Open waits for bbolt's file lock,
// matching grokker's bolt.Options{Timeout: ...} convention.
const openTimeout = 10 * time.Second

// dataFile implements coredb.DataFile over a *bolt.DB.
type dataFile struct {
	mu   sync.Mutex
	db   *bolt.DB
	path string

	cipher    *engine.Cipher
	algorithm coredb.EncryptionAlgorithm
	key       [coredb.EncryptionKeySize]byte

	compacting atomic.Bool
	onCompact  atomic.Pointer[func(bool)]
}

// Open constructs a bolt-backed DataFile, registered under the "SQLite"
// tag (see init above).
func Open(path string, opts coredb.DataFileOptions) (coredb.DataFile, error) {
	boltOpts := &bolt.Options{Timeout: openTimeout, ReadOnly: !opts.Writeable}
	if opts.Create {
		boltOpts.ReadOnly = false
	}
	if !opts.Create {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("bolt: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, boltOpts)
	if err != nil {
		return nil, fmt.Errorf("bolt: opening %s: %w", path, err)
	}
	c, err := engine.NewCipher(opts.Algorithm, opts.Key)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: %w", err)
	}
	return &dataFile{db: db, path: path, cipher: c, algorithm: opts.Algorithm, key: opts.Key}, nil
}

func (df *dataFile) Path() string { return df.path }

func (df *dataFile) Close() error {
	return df.db.Close()
}

func (df *dataFile) Delete() error {
	if err := df.db.Close(); err != nil {
		return err
	}
	if err := os.Remove(df.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (df *dataFile) IsCompacting() bool {
	return df.compacting.Load()
}

func (df *dataFile) SetOnCompact(cb func(starting bool)) {
	df.onCompact.Store(&cb)
}

func (df *dataFile) fireOnCompact(starting bool) {
	if p := df.onCompact.Load(); p != nil {
		(*p)(starting)
	}
}

// KeyStore returns the named bucket-backed key store. The bucket itself
// is created by the first Set, inside that Set's transaction, so this
// never opens a writable bbolt transaction of its own (which would block
// behind one the caller already holds). Until then the store reads as
// empty and KeyStoreNames does not list it.
func (df *dataFile) KeyStore(name string) (coredb.KeyStore, error) {
	return &keyStore{df: df, name: name}, nil
}

func (df *dataFile) KeyStoreNames() ([]string, error) {
	var names []string
	err := df.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

// BeginTransaction returns a Transaction wrapping a new writable
// *bolt.Tx. Only one such Transaction may be outstanding at a time per
// coredb's contract (spec.md §3); bbolt itself enforces that a second
// concurrent writable transaction blocks until the first ends.
func (df *dataFile) BeginTransaction() (coredb.Transaction, error) {
	tx, err := df.db.Begin(true)
	if err != nil {
		return nil, err
	}
	return &transaction{tx: tx}, nil
}

// Rekey re-encrypts every record in every bucket under a single bbolt
// write transaction, then swaps in the new cipher. If any record fails
// to decrypt under the old key the whole rekey is aborted and the file
// is left untouched.
func (df *dataFile) Rekey(alg coredb.EncryptionAlgorithm, key [coredb.EncryptionKeySize]byte) error {
	newCipher, err := engine.NewCipher(alg, key)
	if err != nil {
		return err
	}

	df.mu.Lock()
	oldCipher := df.cipher
	df.mu.Unlock()

	err = df.db.Update(func(tx *bolt.Tx) error {
		return tx.ForEach(func(_ []byte, b *bolt.Bucket) error {
			type kv struct{ k, v []byte }
			var pending []kv
			cerr := b.ForEach(func(k, v []byte) error {
				plain, err := oldCipher.Open(v)
				if err != nil {
					return err
				}
				sealed, err := newCipher.Seal(plain)
				if err != nil {
					return err
				}
				kk := append([]byte(nil), k...)
				pending = append(pending, kv{kk, sealed})
				return nil
			})
			if cerr != nil {
				return cerr
			}
			for _, p := range pending {
				if err := b.Put(p.k, p.v); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	df.mu.Lock()
	df.cipher = newCipher
	df.algorithm = alg
	df.key = key
	df.mu.Unlock()
	return nil
}

// Compact copies every bucket and record into a fresh file, then swaps
// it in for the current one, reclaiming space the way the RocksDB
// teacher's checkpoint/backup machinery copies live files into a new
// directory -- adapted here to bbolt's single-file layout instead.
func (df *dataFile) Compact() error {
	df.compacting.Store(true)
	df.fireOnCompact(true)
	defer func() {
		df.compacting.Store(false)
		df.fireOnCompact(false)
	}()

	tmpPath := df.path + ".compact.tmp"
	_ = os.Remove(tmpPath)

	dst, err := bolt.Open(tmpPath, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return err
	}

	err = df.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, b *bolt.Bucket) error {
				nb, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return b.ForEach(func(k, v []byte) error {
					return nb.Put(append([]byte(nil), k...), append([]byte(nil), v...))
				})
			})
		})
	})
	closeErr := dst.Close()
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return closeErr
	}

	if err := df.db.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, df.path); err != nil {
		return err
	}
	newDB, err := bolt.Open(df.path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return err
	}
	df.mu.Lock()
	df.db = newDB
	df.mu.Unlock()
	return nil
}

// keyStore implements coredb.KeyStore over one bbolt bucket. It does not
// implement coredb.OffsetKeyStore: bbolt's B-tree pages move records
// around on rebalance, so there is no stable physical offset to address
// a record by. Database.GetByOffset reports ErrUnsupported for a
// "SQLite"-tagged database regardless of schema.
type keyStore struct {
	df   *dataFile
	name string
}

func (ks *keyStore) Name() string { return ks.name }

// record encoding: 8-byte big-endian sequence, 4-byte big-endian meta
// length, meta, body -- then the whole thing is sealed by the DataFile's
// current cipher before being stored as the bucket value.
func encodeRecord(seq uint64, meta, body []byte) []byte {
	buf := make([]byte, 8+4+len(meta)+len(body))
	binary.BigEndian.PutUint64(buf[0:8], seq)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(meta)))
	copy(buf[12:12+len(meta)], meta)
	copy(buf[12+len(meta):], body)
	return buf
}

func decodeRecord(key, buf []byte, metaOnly bool) (coredb.Record, error) {
	if len(buf) < 12 {
		return coredb.Record{}, fmt.Errorf("bolt: corrupt record for key %x", key)
	}
	seq := binary.BigEndian.Uint64(buf[0:8])
	metaLen := binary.BigEndian.Uint32(buf[8:12])
	if int(12+metaLen) > len(buf) {
		return coredb.Record{}, fmt.Errorf("bolt: corrupt record for key %x", key)
	}
	meta := buf[12 : 12+metaLen]
	rec := coredb.Record{Key: append([]byte(nil), key...), Meta: append([]byte(nil), meta...), Sequence: seq}
	if !metaOnly {
		body := buf[12+metaLen:]
		rec.Body = append([]byte(nil), body...)
	}
	return rec, nil
}

func (ks *keyStore) Get(key []byte) (coredb.Record, error) {
	var rec coredb.Record
	var found bool
	err := ks.df.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ks.name))
		if b == nil {
			return nil
		}
		v := b.Get(key)
		if v == nil {
			return nil
		}
		found = true
		plain, err := ks.df.cipher.Open(v)
		if err != nil {
			return err
		}
		rec, err = decodeRecord(key, plain, false)
		return err
	})
	if err != nil {
		return coredb.Record{}, err
	}
	if !found {
		return coredb.Record{}, coredb.ErrNotFound
	}
	return rec, nil
}

func (ks *keyStore) Set(key, meta, body []byte, txn coredb.Transaction) error {
	t, ok := txn.(*transaction)
	if !ok || t == nil {
		return fmt.Errorf("bolt: Set requires an active bolt transaction")
	}
	b, err := t.tx.CreateBucketIfNotExists([]byte(ks.name))
	if err != nil {
		return err
	}
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	plain := encodeRecord(seq, meta, body)
	sealed, err := ks.df.cipher.Seal(plain)
	if err != nil {
		return err
	}
	return b.Put(key, sealed)
}

func (ks *keyStore) Del(key []byte, txn coredb.Transaction) (bool, error) {
	t, ok := txn.(*transaction)
	if !ok || t == nil {
		return false, fmt.Errorf("bolt: Del requires an active bolt transaction")
	}
	b := t.tx.Bucket([]byte(ks.name))
	if b == nil {
		return false, nil
	}
	existed := b.Get(key) != nil
	if !existed {
		return false, nil
	}
	if err := b.Delete(key); err != nil {
		return false, err
	}
	return true, nil
}

func (ks *keyStore) LastSequence() (uint64, error) {
	var seq uint64
	err := ks.df.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ks.name))
		if b == nil {
			return nil
		}
		seq = b.Sequence()
		return nil
	})
	return seq, err
}

func (ks *keyStore) Enumerate(opts coredb.EnumerateOptions) (coredb.Iterator, error) {
	tx, err := ks.df.db.Begin(false)
	if err != nil {
		return nil, err
	}
	b := tx.Bucket([]byte(ks.name))
	if b == nil {
		tx.Rollback()
		return &boltIterator{done: true}, nil
	}
	return &boltIterator{tx: tx, cursor: b.Cursor(), opts: opts, df: ks.df, started: false}, nil
}

// transaction wraps a writable *bolt.Tx as a coredb.Transaction.
type transaction struct {
	tx *bolt.Tx
}

func (t *transaction) Commit() error { return t.tx.Commit() }
func (t *transaction) Abort() error  { return t.tx.Rollback() }

// boltIterator implements coredb.Iterator over a read-only *bolt.Tx and
// Cursor, holding the transaction open until Close.
type boltIterator struct {
	tx      *bolt.Tx
	cursor  *bolt.Cursor
	opts    coredb.EnumerateOptions
	df      *dataFile
	started bool
	done    bool
	rec     coredb.Record
	err     error
}

func (it *boltIterator) Next() bool {
	if it.done {
		return false
	}
	var k, v []byte
	if !it.started {
		it.started = true
		if len(it.opts.StartKey) > 0 {
			k, v = it.cursor.Seek(it.opts.StartKey)
		} else {
			k, v = it.cursor.First()
		}
	} else {
		k, v = it.cursor.Next()
	}
	if k == nil {
		it.done = true
		return false
	}
	if len(it.opts.EndKey) > 0 && string(k) > string(it.opts.EndKey) {
		it.done = true
		return false
	}
	plain, err := it.df.cipher.Open(v)
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	rec, err := decodeRecord(k, plain, it.opts.Content == coredb.ContentMetaOnly)
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	it.rec = rec
	return true
}

func (it *boltIterator) Record() coredb.Record { return it.rec }
func (it *boltIterator) Err() error             { return it.err }
func (it *boltIterator) Close() error {
	if it.tx != nil {
		return it.tx.Rollback()
	}
	return nil
}
