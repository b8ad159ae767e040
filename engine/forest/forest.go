// Package forest implements coredb's DataFile interface as a
// from-scratch, single-file, append-only log, replayed into an
// in-memory index on open. It backs the "ForestDB" storage engine tag.
//
// Grounded on the teacher's checksum and compression packages
// (engine/forest/checksum, engine/forest/compression, themselves
// adapted from aalhour/rockyardkv's internal/checksum and
// internal/compression), reusing the whole-record encrypt-then-frame
// approach from engine/bolt for encryption at rest.
package forest

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/coredb-io/coredb"
	"github.com/coredb-io/coredb/engine"
	"github.com/coredb-io/coredb/engine/forest/checksum"
	"github.com/coredb-io/coredb/engine/forest/compression"
)

func init() {
	coredb.Register(coredb.EngineForestDB, Open)
}

const (
	flagTombstone byte = 1 << 0

	defaultCompression = compression.SnappyCompression
	defaultChecksum    = checksum.TypeCRC32C
)

// storeIndex is one key store's in-memory replay of the log: the full
// live dataset, the last sequence number handed out, and a reverse
// index from the physical file offset a value frame started at back to
// its key, for GetByOffset (coredb.OffsetKeyStore).
type storeIndex struct {
	records  map[string]coredb.Record
	byOffset map[uint64]string
	seq      uint64
}

// dataFile implements coredb.DataFile as an append-only log file.
type dataFile struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	cipher *engine.Cipher

	stores map[string]*storeIndex
	// writeOffset is the file offset the next appended frame will start
	// at; kept in lockstep with df.file's length.
	writeOffset int64

	compacting atomic.Bool
	onCompact  atomic.Pointer[func(bool)]
}

// Open constructs a forest-backed DataFile, registered under the
// "ForestDB" tag (see init above). If opts.Create and the file does not
// exist, a fresh empty log is created; otherwise the log is replayed in
// full to rebuild the in-memory index.
func Open(path string, opts coredb.DataFileOptions) (coredb.DataFile, error) {
	flag := os.O_RDWR
	if opts.Create {
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0o600)
	if err != nil {
		return nil, fmt.Errorf("forest: opening %s: %w", path, err)
	}

	c, err := engine.NewCipher(opts.Algorithm, opts.Key)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("forest: %w", err)
	}

	df := &dataFile{path: path, file: f, cipher: c, stores: make(map[string]*storeIndex)}
	if err := df.replay(); err != nil {
		f.Close()
		return nil, fmt.Errorf("forest: replaying %s: %w", path, err)
	}
	end, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("forest: %w", err)
	}
	df.writeOffset = end
	return df, nil
}

func (df *dataFile) getOrCreateStoreLocked(name string) *storeIndex {
	s, ok := df.stores[name]
	if !ok {
		s = &storeIndex{records: make(map[string]coredb.Record), byOffset: make(map[uint64]string)}
		df.stores[name] = s
	}
	return s
}

// replay reads every frame from the start of the file, applying value
// frames and tombstones in order to rebuild df.stores. A short read at
// EOF ends replay silently, treating a truncated final frame as if it
// were never appended (crash-consistency for an append-only log). A
// complete frame that fails to parse, verify or decrypt is an error.
func (df *dataFile) replay() error {
	if _, err := df.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(df.file)
	var offset int64
	for {
		consumed, ok, err := df.replayOneFrame(r, offset)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		offset += consumed
	}
	_, err := df.file.Seek(0, io.SeekEnd)
	return err
}

func (df *dataFile) replayOneFrame(r *bufio.Reader, offset int64) (int64, bool, error) {
	var frameLen uint32
	if err := binary.Read(r, binary.BigEndian, &frameLen); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, false, nil // truncated tail: stop replay
		}
		return 0, false, err
	}
	payload := make([]byte, frameLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, false, nil // truncated tail: stop replay
	}
	consumed := int64(4 + len(payload))

	flags, keystore, key, seq, rest, err := decodeFrameHeader(payload)
	if err != nil {
		return 0, false, err
	}
	store := df.getOrCreateStoreLocked(keystore)
	if flags&flagTombstone != 0 {
		delete(store.records, string(key))
	} else {
		meta, body, err := df.decodeValue(rest)
		if err != nil {
			return 0, false, err
		}
		store.records[string(key)] = coredb.Record{
			Key: append([]byte(nil), key...), Meta: meta, Body: body, Sequence: seq,
		}
		store.byOffset[uint64(offset)] = string(key)
	}
	if seq > store.seq {
		store.seq = seq
	}
	return consumed, true, nil
}

// decodeFrameHeader parses [flags][keystoreLen][keystore][keyLen][key][seq]
// and returns the remaining bytes (the value payload, empty for tombstones).
func decodeFrameHeader(payload []byte) (flags byte, keystore string, key []byte, seq uint64, rest []byte, err error) {
	if len(payload) < 1+2 {
		return 0, "", nil, 0, nil, fmt.Errorf("short frame")
	}
	flags = payload[0]
	off := 1
	ksLen := int(binary.BigEndian.Uint16(payload[off:]))
	off += 2
	if off+ksLen+2 > len(payload) {
		return 0, "", nil, 0, nil, fmt.Errorf("short frame")
	}
	keystore = string(payload[off : off+ksLen])
	off += ksLen
	keyLen := int(binary.BigEndian.Uint16(payload[off:]))
	off += 2
	if off+keyLen+8 > len(payload) {
		return 0, "", nil, 0, nil, fmt.Errorf("short frame")
	}
	key = payload[off : off+keyLen]
	off += keyLen
	seq = binary.BigEndian.Uint64(payload[off:])
	off += 8
	rest = payload[off:]
	return flags, keystore, key, seq, rest, nil
}

// decodeValue parses [checksumType][sealedLen][sealed][checksum],
// verifies the checksum, decrypts, and decompresses the body.
func (df *dataFile) decodeValue(rest []byte) (meta, body []byte, err error) {
	if len(rest) < 1+4 {
		return nil, nil, fmt.Errorf("short value")
	}
	ckType := checksum.Type(rest[0])
	off := 1
	sealedLen := int(binary.BigEndian.Uint32(rest[off:]))
	off += 4
	if off+sealedLen+4 > len(rest) {
		return nil, nil, fmt.Errorf("short value")
	}
	sealed := rest[off : off+sealedLen]
	off += sealedLen
	wantSum := binary.BigEndian.Uint32(rest[off:])
	if err := checksum.Verify(ckType, sealed, wantSum); err != nil {
		return nil, nil, err
	}
	plain, err := df.cipher.Open(sealed)
	if err != nil {
		return nil, nil, err
	}
	return decodeRecordPlain(plain)
}

// encodeRecordPlain lays out [compressionType][metaLen][meta][bodyLen][compressedBody].
func encodeRecordPlain(meta, body []byte) ([]byte, error) {
	compressedBody, err := compression.Compress(defaultCompression, body)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 1+4+len(meta)+4+len(compressedBody))
	buf[0] = byte(defaultCompression)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(meta)))
	copy(buf[5:5+len(meta)], meta)
	off := 5 + len(meta)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(compressedBody)))
	copy(buf[off+4:], compressedBody)
	return buf, nil
}

func decodeRecordPlain(plain []byte) (meta, body []byte, err error) {
	if len(plain) < 1+4 {
		return nil, nil, fmt.Errorf("short record")
	}
	ctype := compression.Type(plain[0])
	off := 1
	metaLen := int(binary.BigEndian.Uint32(plain[off:]))
	off += 4
	if off+metaLen+4 > len(plain) {
		return nil, nil, fmt.Errorf("short record")
	}
	meta = append([]byte(nil), plain[off:off+metaLen]...)
	off += metaLen
	bodyLen := int(binary.BigEndian.Uint32(plain[off:]))
	off += 4
	if off+bodyLen > len(plain) {
		return nil, nil, fmt.Errorf("short record")
	}
	compressedBody := plain[off : off+bodyLen]
	body, err = compression.Decompress(ctype, compressedBody)
	if err != nil {
		return nil, nil, err
	}
	return meta, body, nil
}

// encodeValueFrame builds a length-prefixed frame for a value write.
func (df *dataFile) encodeValueFrame(keystore string, key, meta, body []byte, seq uint64) ([]byte, error) {
	plain, err := encodeRecordPlain(meta, body)
	if err != nil {
		return nil, err
	}
	sealed, err := df.cipher.Seal(plain)
	if err != nil {
		return nil, err
	}
	sum, err := checksum.Compute(defaultChecksum, sealed)
	if err != nil {
		return nil, err
	}

	header := encodeFrameHeader(0, keystore, key, seq)
	value := make([]byte, 1+4+len(sealed)+4)
	value[0] = byte(defaultChecksum)
	binary.BigEndian.PutUint32(value[1:5], uint32(len(sealed)))
	copy(value[5:5+len(sealed)], sealed)
	binary.BigEndian.PutUint32(value[5+len(sealed):], sum)

	return framed(append(header, value...)), nil
}

// encodeTombstoneFrame builds a length-prefixed frame for a delete.
func encodeTombstoneFrame(keystore string, key []byte, seq uint64) []byte {
	return framed(encodeFrameHeader(flagTombstone, keystore, key, seq))
}

func encodeFrameHeader(flags byte, keystore string, key []byte, seq uint64) []byte {
	buf := make([]byte, 1+2+len(keystore)+2+len(key)+8)
	buf[0] = flags
	off := 1
	binary.BigEndian.PutUint16(buf[off:], uint16(len(keystore)))
	off += 2
	copy(buf[off:], keystore)
	off += len(keystore)
	binary.BigEndian.PutUint16(buf[off:], uint16(len(key)))
	off += 2
	copy(buf[off:], key)
	off += len(key)
	binary.BigEndian.PutUint64(buf[off:], seq)
	return buf
}

func framed(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

func (df *dataFile) Path() string { return df.path }

func (df *dataFile) Close() error {
	return df.file.Close()
}

func (df *dataFile) Delete() error {
	if err := df.file.Close(); err != nil {
		return err
	}
	if err := os.Remove(df.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (df *dataFile) IsCompacting() bool { return df.compacting.Load() }

func (df *dataFile) SetOnCompact(cb func(starting bool)) {
	df.onCompact.Store(&cb)
}

func (df *dataFile) fireOnCompact(starting bool) {
	if p := df.onCompact.Load(); p != nil {
		(*p)(starting)
	}
}

func (df *dataFile) KeyStore(name string) (coredb.KeyStore, error) {
	df.mu.Lock()
	df.getOrCreateStoreLocked(name)
	df.mu.Unlock()
	return &keyStore{df: df, name: name}, nil
}

func (df *dataFile) KeyStoreNames() ([]string, error) {
	df.mu.Lock()
	defer df.mu.Unlock()
	names := make([]string, 0, len(df.stores))
	for name := range df.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (df *dataFile) BeginTransaction() (coredb.Transaction, error) {
	return &transaction{df: df}, nil
}

// rewriteLocked replaces the log file with one containing only the
// current live records, discarding history. Called with df.mu held, by
// both Compact and Rekey.
func (df *dataFile) rewriteLocked() error {
	tmpPath := df.path + ".compact.tmp"
	_ = os.Remove(tmpPath)
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(df.stores))
	for name := range df.stores {
		names = append(names, name)
	}
	sort.Strings(names)

	var offset int64
	for _, name := range names {
		store := df.stores[name]
		keys := make([]string, 0, len(store.records))
		for k := range store.records {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		newByOffset := make(map[uint64]string, len(keys))
		for _, k := range keys {
			rec := store.records[k]
			startOffset := offset
			frame, err := df.encodeValueFrameInto(tmp, name, rec)
			if err != nil {
				tmp.Close()
				os.Remove(tmpPath)
				return err
			}
			offset += int64(len(frame))
			newByOffset[uint64(startOffset)] = k
		}
		// Compact/Rekey rewrite the whole log from scratch and rebuild
		// the offset index, so an offset from before the rewrite resolves
		// either to nothing (ErrNotFound) or to whichever record's frame
		// now starts there.
		store.byOffset = newByOffset
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := df.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, df.path); err != nil {
		return err
	}
	f, err := os.OpenFile(df.path, os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return err
	}
	df.file = f
	df.writeOffset = offset
	return nil
}

func (df *dataFile) encodeValueFrameInto(w io.Writer, keystore string, rec coredb.Record) ([]byte, error) {
	frame, err := df.encodeValueFrame(keystore, rec.Key, rec.Meta, rec.Body, rec.Sequence)
	if err != nil {
		return nil, err
	}
	_, err = w.Write(frame)
	return frame, err
}

func (df *dataFile) Compact() error {
	df.mu.Lock()
	defer df.mu.Unlock()
	df.compacting.Store(true)
	df.fireOnCompact(true)
	defer func() {
		df.compacting.Store(false)
		df.fireOnCompact(false)
	}()
	return df.rewriteLocked()
}

func (df *dataFile) Rekey(alg coredb.EncryptionAlgorithm, key [coredb.EncryptionKeySize]byte) error {
	newCipher, err := engine.NewCipher(alg, key)
	if err != nil {
		return err
	}
	df.mu.Lock()
	defer df.mu.Unlock()
	df.cipher = newCipher
	return df.rewriteLocked()
}

// keyStore implements coredb.KeyStore over one named partition of a
// dataFile's log and in-memory index.
type keyStore struct {
	df   *dataFile
	name string
}

func (ks *keyStore) Name() string { return ks.name }

func (ks *keyStore) Get(key []byte) (coredb.Record, error) {
	ks.df.mu.Lock()
	defer ks.df.mu.Unlock()
	store := ks.df.getOrCreateStoreLocked(ks.name)
	rec, ok := store.records[string(key)]
	if !ok {
		return coredb.Record{}, coredb.ErrNotFound
	}
	return coredb.Record{
		Key:      append([]byte(nil), rec.Key...),
		Meta:     append([]byte(nil), rec.Meta...),
		Body:     append([]byte(nil), rec.Body...),
		Sequence: rec.Sequence,
	}, nil
}

func (ks *keyStore) Set(key, meta, body []byte, txn coredb.Transaction) error {
	t, ok := txn.(*transaction)
	if !ok || t == nil {
		return fmt.Errorf("forest: Set requires an active forest transaction")
	}
	t.ops = append(t.ops, logOp{
		keystore: ks.name,
		key:      append([]byte(nil), key...),
		meta:     append([]byte(nil), meta...),
		body:     append([]byte(nil), body...),
	})
	return nil
}

func (ks *keyStore) Del(key []byte, txn coredb.Transaction) (bool, error) {
	t, ok := txn.(*transaction)
	if !ok || t == nil {
		return false, fmt.Errorf("forest: Del requires an active forest transaction")
	}
	ks.df.mu.Lock()
	store := ks.df.getOrCreateStoreLocked(ks.name)
	_, existed := store.records[string(key)]
	ks.df.mu.Unlock()
	if !existed {
		return false, nil
	}
	t.ops = append(t.ops, logOp{keystore: ks.name, key: append([]byte(nil), key...), tombstone: true})
	return true, nil
}

// GetByOffset looks up a record by the physical byte offset its value
// frame started at, satisfying coredb.OffsetKeyStore. Offsets are only
// stable until the next Compact or Rekey, which rewrite the log from
// the in-memory index and reassign every offset.
func (ks *keyStore) GetByOffset(offset uint64) (coredb.Record, error) {
	ks.df.mu.Lock()
	defer ks.df.mu.Unlock()
	store := ks.df.getOrCreateStoreLocked(ks.name)
	key, ok := store.byOffset[offset]
	if !ok {
		return coredb.Record{}, coredb.ErrNotFound
	}
	rec, ok := store.records[key]
	if !ok {
		return coredb.Record{}, coredb.ErrNotFound
	}
	return coredb.Record{
		Key:      append([]byte(nil), rec.Key...),
		Meta:     append([]byte(nil), rec.Meta...),
		Body:     append([]byte(nil), rec.Body...),
		Sequence: rec.Sequence,
	}, nil
}

func (ks *keyStore) LastSequence() (uint64, error) {
	ks.df.mu.Lock()
	defer ks.df.mu.Unlock()
	return ks.df.getOrCreateStoreLocked(ks.name).seq, nil
}

func (ks *keyStore) Enumerate(opts coredb.EnumerateOptions) (coredb.Iterator, error) {
	ks.df.mu.Lock()
	store := ks.df.getOrCreateStoreLocked(ks.name)
	keys := make([]string, 0, len(store.records))
	for k := range store.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var recs []coredb.Record
	for _, k := range keys {
		if len(opts.StartKey) > 0 && k < string(opts.StartKey) {
			continue
		}
		if len(opts.EndKey) > 0 && k > string(opts.EndKey) {
			break
		}
		rec := store.records[k]
		out := coredb.Record{Key: append([]byte(nil), rec.Key...), Sequence: rec.Sequence}
		out.Meta = append([]byte(nil), rec.Meta...)
		if opts.Content != coredb.ContentMetaOnly {
			out.Body = append([]byte(nil), rec.Body...)
		}
		recs = append(recs, out)
	}
	ks.df.mu.Unlock()
	return &sliceIterator{recs: recs, index: -1}, nil
}

// logOp is a buffered write awaiting Commit.
type logOp struct {
	keystore  string
	key       []byte
	meta      []byte
	body      []byte
	tombstone bool
}

// transaction buffers writes in memory and applies them to the log and
// index, one operation after another, on Commit; Abort simply discards
// the buffer, since nothing has touched the file yet. A Commit that fails
// partway leaves the operations before the failure applied.
type transaction struct {
	df  *dataFile
	ops []logOp
}

func (t *transaction) Commit() error {
	t.df.mu.Lock()
	defer t.df.mu.Unlock()

	for _, op := range t.ops {
		store := t.df.getOrCreateStoreLocked(op.keystore)
		store.seq++
		seq := store.seq

		var frame []byte
		var err error
		if op.tombstone {
			frame = encodeTombstoneFrame(op.keystore, op.key, seq)
		} else {
			frame, err = t.df.encodeValueFrame(op.keystore, op.key, op.meta, op.body, seq)
		}
		if err != nil {
			return err
		}
		startOffset := t.df.writeOffset
		if _, err := t.df.file.Write(frame); err != nil {
			return err
		}
		t.df.writeOffset += int64(len(frame))

		if op.tombstone {
			delete(store.records, string(op.key))
		} else {
			store.records[string(op.key)] = coredb.Record{
				Key: op.key, Meta: op.meta, Body: op.body, Sequence: seq,
			}
			store.byOffset[uint64(startOffset)] = string(op.key)
		}
	}
	return t.df.file.Sync()
}

func (t *transaction) Abort() error {
	t.ops = nil
	return nil
}

// sliceIterator implements coredb.Iterator over a pre-materialized,
// already-filtered slice of records.
type sliceIterator struct {
	recs  []coredb.Record
	index int
}

func (it *sliceIterator) Next() bool {
	it.index++
	return it.index < len(it.recs)
}

func (it *sliceIterator) Record() coredb.Record {
	return it.recs[it.index]
}

func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }
