package coredb

import (
	"encoding/binary"
)

// GetDocumentCount enumerates the default key store with meta-only
// content and counts entries whose decoded flags do not include
// DocFlagDeleted (spec.md §4.6, invariant 12 in spec.md §8). Grounded on
// c4db_getDocumentCount in c4Database.cc.
func (db *Database) GetDocumentCount() (uint64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	ks, err := db.defaultKeyStore()
	if err != nil {
		return 0, err
	}

	opts := EnumerateOptions{Content: ContentMetaOnly}
	it, err := ks.Enumerate(opts)
	if err != nil {
		return 0, wrapError(KindIOError, err, "enumerating default key store")
	}
	defer it.Close()

	var count uint64
	for it.Next() {
		rec := it.Record()
		if rec.DecodeFlags()&DocFlagDeleted == 0 {
			count++
		}
	}
	if err := it.Err(); err != nil {
		return 0, wrapError(KindIOError, err, "enumerating default key store")
	}
	return count, nil
}

// NextDocExpiration enumerates the "expiry" key store and returns the
// integer decoded from the first record with an empty body, whose key is
// a composite (collatable-style) key encoding an integer timestamp as
// its first element. Returns 0 if the store is empty or its first
// record has a non-empty body (spec.md §4.6, invariant 13 in spec.md
// §8). Grounded on c4db_nextDocExpiration in c4Database.cc.
func (db *Database) NextDocExpiration() (uint64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	ks, err := db.GetKeyStore(expiryKeyStoreName)
	if err != nil {
		return 0, err
	}

	it, err := ks.Enumerate(DefaultEnumerateOptions())
	if err != nil {
		return 0, wrapError(KindIOError, err, "enumerating expiry key store")
	}
	defer it.Close()

	if !it.Next() {
		if err := it.Err(); err != nil {
			return 0, wrapError(KindIOError, err, "enumerating expiry key store")
		}
		return 0, nil
	}
	rec := it.Record()
	if len(rec.Body) != 0 {
		return 0, nil
	}
	ts, ok := decodeExpiryKey(rec.Key)
	if !ok {
		return 0, nil
	}
	return ts, nil
}

// encodeExpiryKey and decodeExpiryKey implement the minimal composite-key
// encoding this facade needs for the expiry store: a single big-endian
// uint64 timestamp followed by the raw document id. The wider document
// layer's general collatable-array encoding is out of scope here
// (SPEC_FULL.md §4.6); this is the smallest stable encoding that
// satisfies "first element is an integer timestamp."
func encodeExpiryKey(timestamp uint64, docID []byte) []byte {
	key := make([]byte, 8+len(docID))
	binary.BigEndian.PutUint64(key, timestamp)
	copy(key[8:], docID)
	return key
}

func decodeExpiryKey(key []byte) (timestamp uint64, ok bool) {
	if len(key) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[:8]), true
}

// SetDocExpiration schedules id's expiration at timestamp (unix seconds)
// by writing an empty-bodied record to the "expiry" store under txn.
// Companion write-side operation to NextDocExpiration; the distilled
// spec.md documents only the read side, but a database with an "expiry"
// store and no way to populate it would be untestable, so this
// implementation adds the natural write path (SPEC_FULL.md's "supplement
// dropped features" allowance).
func (db *Database) SetDocExpiration(id []byte, timestamp uint64) error {
	if err := db.txn.mustBeInTransaction(); err != nil {
		return err
	}
	ks, err := db.GetKeyStore(expiryKeyStoreName)
	if err != nil {
		return err
	}
	key := encodeExpiryKey(timestamp, id)
	if err := ks.Set(key, nil, nil, db.txn.Current()); err != nil {
		return wrapError(KindIOError, err, "setting document expiration")
	}
	return nil
}
