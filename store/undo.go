package store

import (
	"go.etcd.io/bbolt"

	"rubin.dev/spvnode/utxo"
	"rubin.dev/spvnode/wire"
)

var undoBucket = []byte("undo")

// UndoLog is the bbolt-backed implementation of utxo.UndoLog: one
// bucket keyed by block hash, holding that block's consumed outputs so
// a reorg can restore them. bbolt keeps the records across restarts,
// unlike the in-memory chain and UTXO indexes.
type UndoLog struct {
	db *bbolt.DB
}

// OpenUndoLog opens (creating if necessary) the bbolt file at path.
func OpenUndoLog(path string) (*UndoLog, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(undoBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &UndoLog{db: db}, nil
}

// Close closes the underlying bbolt database.
func (u *UndoLog) Close() error {
	return u.db.Close()
}

// Put stores the undo records for blockHash, overwriting any existing
// entry.
func (u *UndoLog) Put(blockHash wire.Hash, records []utxo.UndoRecord) error {
	w := wire.NewWriter()
	w.CompactSize(uint64(len(records)))
	for _, r := range records {
		w.Hash32(r.Txid)
		w.U32(r.Vout)
		w.U64(r.Out.Value)
		w.VarBytes(r.Out.ScriptPubKey)
	}
	payload := w.Bytes()
	return u.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(undoBucket).Put(blockHash[:], payload)
	})
}

// Get returns the undo records for blockHash, if present.
func (u *UndoLog) Get(blockHash wire.Hash) ([]utxo.UndoRecord, bool, error) {
	var records []utxo.UndoRecord
	found := false
	err := u.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(undoBucket).Get(blockHash[:])
		if v == nil {
			return nil
		}
		found = true
		buf := make([]byte, len(v))
		copy(buf, v)
		r := wire.NewReader(buf)
		n, err := r.CompactSize()
		if err != nil {
			return err
		}
		records = make([]utxo.UndoRecord, n)
		for i := range records {
			if records[i].Txid, err = r.Hash32(); err != nil {
				return err
			}
			if records[i].Vout, err = r.U32(); err != nil {
				return err
			}
			if records[i].Out.Value, err = r.U64(); err != nil {
				return err
			}
			if records[i].Out.ScriptPubKey, err = r.VarBytes(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return records, found, nil
}

// Delete removes the undo record for blockHash, if present.
func (u *UndoLog) Delete(blockHash wire.Hash) error {
	return u.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(undoBucket).Delete(blockHash[:])
	})
}

// Prune drops every undo record whose block hash is not in keep,
// bounding the log to the chain's own block-body retention window.
func (u *UndoLog) Prune(keep map[wire.Hash]struct{}) error {
	return u.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(undoBucket)
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			var h wire.Hash
			copy(h[:], k)
			if _, ok := keep[h]; ok {
				continue
			}
			kk := make([]byte, len(k))
			copy(kk, k)
			stale = append(stale, kk)
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
