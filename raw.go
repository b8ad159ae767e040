package coredb

// RawDocument is a caller-owned copy of a {key, meta, body} record
// returned by RawGet (spec.md §3). Unlike the original C API, no
// destructor is needed: Go's garbage collector reclaims it.
type RawDocument struct {
	Key, Meta, Body []byte
}

// RawGet looks up key in the named store (auto-created if absent). It
// returns ErrNotFound if the record does not exist. Grounded on
// c4raw_get in c4Database.cc.
func (db *Database) RawGet(store string, key []byte) (*RawDocument, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	ks, err := db.GetKeyStore(store)
	if err != nil {
		return nil, err
	}
	rec, err := ks.Get(key)
	if err != nil {
		if e, ok := err.(*Error); ok {
			return nil, e
		}
		return nil, wrapError(KindIOError, err, "reading raw document")
	}
	return &RawDocument{
		Key:  cloneBytes(rec.Key),
		Meta: cloneBytes(rec.Meta),
		Body: cloneBytes(rec.Body),
	}, nil
}

// RawPut writes {meta, body} at key in the named store (auto-created if
// absent), or deletes key if both meta and body are empty. It opens its
// own transaction, and closes it with commit equal to the success of the
// write, regardless of whether the write returned an error (spec.md
// §4.7, §7). Grounded on c4raw_put in c4Database.cc.
func (db *Database) RawPut(store string, key, meta, body []byte) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if err := db.Begin(); err != nil {
		return err
	}

	writeErr := db.rawPutBody(store, key, meta, body)
	commit := writeErr == nil

	if endErr := db.End(commit); endErr != nil && writeErr == nil {
		return endErr
	}
	return writeErr
}

func (db *Database) rawPutBody(store string, key, meta, body []byte) error {
	ks, err := db.GetKeyStore(store)
	if err != nil {
		return err
	}
	txn := db.txn.Current()
	if len(meta) != 0 || len(body) != 0 {
		if err := ks.Set(key, meta, body, txn); err != nil {
			return wrapError(KindIOError, err, "writing raw document")
		}
		return nil
	}
	if _, err := ks.Del(key, txn); err != nil {
		return wrapError(KindIOError, err, "deleting raw document")
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
