// Package utxo implements the pruned unspent-transaction-output set: a
// radix tree keyed by the low 128 bits of each transaction id, holding a
// dense per-txid output vector, plus the bounded rewind log that makes
// block application reversible inside the retention window.
package utxo

import (
	"sync"

	"rubin.dev/spvnode/chain"
	"rubin.dev/spvnode/patricia"
	"rubin.dev/spvnode/uint256"
	"rubin.dev/spvnode/wire"
)

// KeyBits is the truncated keyspace width of the UTXO index, a
// memory-saving choice. Collisions are astronomically unlikely but must
// still be detected.
const KeyBits = 128

// Entry is the dense per-txid output vector: a nil slot denotes a spent
// or never-present output. Txid is kept alongside the truncated key so a
// 128-bit collision against a different transaction can be detected.
type Entry struct {
	Txid    wire.Hash
	Outputs []*chain.TxOut
}

func cloneEntry(e *Entry) *Entry {
	if e == nil {
		return nil
	}
	out := make([]*chain.TxOut, len(e.Outputs))
	copy(out, e.Outputs)
	return &Entry{Txid: e.Txid, Outputs: out}
}

// UndoRecord is one output a block's non-coinbase input consumed,
// recorded so Rewind can restore it.
type UndoRecord struct {
	Txid wire.Hash
	Vout uint32
	Out  chain.TxOut
}

// UndoLog is the bounded per-block rollback log: a small store keyed by
// block hash, holding the outputs that block's inputs consumed. Blocks
// outside the retention window are simply absent, and Rewind fails for
// them.
type UndoLog interface {
	Put(blockHash wire.Hash, records []UndoRecord) error
	Get(blockHash wire.Hash) ([]UndoRecord, bool, error)
	Delete(blockHash wire.Hash) error
}

// Set is the UTXO set: a 128-bit-keyed radix index plus bookkeeping for
// the last-applied header hash and the live unspent-output count.
type Set struct {
	mu          sync.RWMutex
	tree        *patricia.Tree[*Entry]
	lastApplied wire.Hash
	nUtxos      uint64
	undoLog     UndoLog
}

// NewSet returns an empty UTXO set rooted at genesisHash (the chain's
// genesis, since no blocks have been applied yet).
func NewSet(genesisHash wire.Hash, undoLog UndoLog) *Set {
	return &Set{
		tree:        patricia.New[*Entry](),
		lastApplied: genesisHash,
		undoLog:     undoLog,
	}
}

func key128(txid wire.Hash) uint256.Uint256 {
	return uint256.FromBytes32([32]byte(txid))
}

// LastAppliedHash returns the header hash up to which the set has been
// updated.
func (s *Set) LastAppliedHash() wire.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastApplied
}

// NUtxos returns the number of unspent outputs.
func (s *Set) NUtxos() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nUtxos
}

// GetUtxo looks up a single unspent output; absent entries, spent slots,
// and out-of-range vouts all report (nil, false).
func (s *Set) GetUtxo(txid wire.Hash, vout uint32) (*chain.TxOut, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, found := s.tree.Lookup(key128(txid), KeyBits)
	if !found || entry.Txid != txid {
		return nil, false
	}
	if int(vout) >= len(entry.Outputs) {
		return nil, false
	}
	out := entry.Outputs[vout]
	if out == nil {
		return nil, false
	}
	return out, true
}

// Update applies one block's transactions to the set: a two-phase
// commit where inputs are validated and their pre-images gathered
// before any are removed, so a later failure can roll the whole block
// back, followed by a single pass removing every non-coinbase input
// across the block. The genesis block's sole output is never added
// (reference-client behavior).
func (s *Set) Update(block chain.Block, level ValidationLevel, validator ScriptValidator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	isGenesis := block.Header.PrevBlock.IsZero()
	touched := make(map[uint256.Uint256]*Entry)
	recordTouch := func(key uint256.Uint256) {
		if _, ok := touched[key]; ok {
			return
		}
		if cur, found := s.tree.Lookup(key, KeyBits); found {
			touched[key] = cloneEntry(cur)
		} else {
			touched[key] = nil
		}
	}
	rollback := func() {
		for key, orig := range touched {
			s.tree.Delete(key, KeyBits)
			if orig != nil {
				s.tree.Insert(key, KeyBits, orig)
			}
		}
	}

	type spendRef struct {
		txid wire.Hash
		key  uint256.Uint256
		vout uint32
	}
	type outpoint struct {
		txid wire.Hash
		vout uint32
	}
	var spends []spendRef
	var undoRecords []UndoRecord
	pending := make(map[outpoint]struct{})
	added := 0

	for txIdx, tx := range block.Txdata {
		isCoinbase := txIdx == 0
		var preimages []chain.TxOut
		if !isCoinbase {
			preimages = make([]chain.TxOut, len(tx.Inputs))
			for i, in := range tx.Inputs {
				// Input removal is deferred to the end of the block, so a
				// second spend of the same outpoint would still find it in
				// the tree; the pending set catches it here instead.
				if _, dup := pending[outpoint{in.PrevTxid, in.PrevIndex}]; dup {
					rollback()
					return utxoErr(ErrDoubleSpend, "output spent twice within one block")
				}
				key := key128(in.PrevTxid)
				entry, found := s.tree.Lookup(key, KeyBits)
				if !found || entry.Txid != in.PrevTxid {
					rollback()
					return utxoErr(ErrUnknownInput, "referenced output not found")
				}
				if int(in.PrevIndex) >= len(entry.Outputs) || entry.Outputs[in.PrevIndex] == nil {
					rollback()
					return utxoErr(ErrDoubleSpend, "referenced output already spent")
				}
				preimages[i] = *entry.Outputs[in.PrevIndex]
			}
			if level == ScriptValidation {
				for i := range tx.Inputs {
					if err := validator.Validate(tx, i, preimages[i]); err != nil {
						rollback()
						return utxoErr(ErrScriptFail, err.Error())
					}
				}
			}
		}

		if !(isGenesis && isCoinbase) {
			txid := tx.Txid()
			key := key128(txid)
			recordTouch(key)
			entry, found := s.tree.Lookup(key, KeyBits)
			if found && entry.Txid != txid {
				rollback()
				return utxoErr(ErrKeyCollision, "128-bit key collision between distinct txids")
			}
			if !found {
				entry = &Entry{Txid: txid}
				s.tree.Insert(key, KeyBits, entry)
			}
			for vout := range tx.Outputs {
				for len(entry.Outputs) <= vout {
					entry.Outputs = append(entry.Outputs, nil)
				}
				out := tx.Outputs[vout]
				entry.Outputs[vout] = &out
				added++
			}
		}

		if !isCoinbase {
			for i, in := range tx.Inputs {
				pending[outpoint{in.PrevTxid, in.PrevIndex}] = struct{}{}
				spends = append(spends, spendRef{txid: in.PrevTxid, key: key128(in.PrevTxid), vout: in.PrevIndex})
				undoRecords = append(undoRecords, UndoRecord{Txid: in.PrevTxid, Vout: in.PrevIndex, Out: preimages[i]})
			}
		}
	}

	hash := block.Header.Hash()
	// Persist the undo record before touching the inputs: the rollback
	// closure can only restore entries the output phase cloned, so every
	// failure exit must happen before the spend phase mutates the rest.
	if s.undoLog != nil {
		if err := s.undoLog.Put(hash, undoRecords); err != nil {
			rollback()
			return err
		}
	}

	removed := 0
	for _, sp := range spends {
		entry, found := s.tree.Lookup(sp.key, KeyBits)
		if !found {
			continue
		}
		if int(sp.vout) < len(entry.Outputs) && entry.Outputs[sp.vout] != nil {
			entry.Outputs[sp.vout] = nil
			removed++
		}
		allNil := true
		for _, o := range entry.Outputs {
			if o != nil {
				allNil = false
				break
			}
		}
		if allNil {
			s.tree.Delete(sp.key, KeyBits)
		}
	}

	s.nUtxos += uint64(added) - uint64(removed)
	s.lastApplied = hash
	return nil
}

// Rewind is the inverse of Update: it removes the outputs this block
// added and restores the outputs its inputs consumed, consulting the
// bounded undo log. Blocks deeper than the log's retention window cannot
// be rewound.
func (s *Set) Rewind(block chain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := block.Header.Hash()
	if s.undoLog == nil {
		return utxoErr(ErrRewindOutOfRange, "no undo log configured")
	}
	records, found, err := s.undoLog.Get(hash)
	if err != nil {
		return err
	}
	if !found {
		return utxoErr(ErrRewindOutOfRange, "no undo record for block; outside rewind window")
	}

	isGenesis := block.Header.PrevBlock.IsZero()
	removed := 0
	for txIdx, tx := range block.Txdata {
		if isGenesis && txIdx == 0 {
			continue
		}
		txid := tx.Txid()
		key := key128(txid)
		entry, found := s.tree.Lookup(key, KeyBits)
		if !found {
			continue
		}
		for vout := range tx.Outputs {
			if vout < len(entry.Outputs) && entry.Outputs[vout] != nil {
				entry.Outputs[vout] = nil
				removed++
			}
		}
		allNil := true
		for _, o := range entry.Outputs {
			if o != nil {
				allNil = false
				break
			}
		}
		if allNil {
			s.tree.Delete(key, KeyBits)
		}
	}

	added := 0
	for _, rec := range records {
		key := key128(rec.Txid)
		entry, found := s.tree.Lookup(key, KeyBits)
		if !found {
			entry = &Entry{Txid: rec.Txid}
			s.tree.Insert(key, KeyBits, entry)
		}
		for uint32(len(entry.Outputs)) <= rec.Vout {
			entry.Outputs = append(entry.Outputs, nil)
		}
		out := rec.Out
		entry.Outputs[rec.Vout] = &out
		added++
	}

	s.nUtxos += uint64(added) - uint64(removed)
	_ = s.undoLog.Delete(hash)
	s.lastApplied = block.Header.PrevBlock
	return nil
}

// Encode persists the set as (last_hash, n_utxos, radix_index).
func (s *Set) Encode(w *wire.Writer) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w.Hash32(s.lastApplied)
	w.U64(s.nUtxos)
	s.tree.Serialize(w, encodeEntry)
}

func encodeEntry(w *wire.Writer, e *Entry) {
	w.Hash32(e.Txid)
	w.CompactSize(uint64(len(e.Outputs)))
	for _, out := range e.Outputs {
		if out == nil {
			w.Bool(false)
			continue
		}
		w.Bool(true)
		w.U64(out.Value)
		w.VarBytes(out.ScriptPubKey)
	}
}

func decodeEntry(r *wire.Reader) (*Entry, error) {
	txid, err := r.Hash32()
	if err != nil {
		return nil, err
	}
	n, err := r.CompactSize()
	if err != nil {
		return nil, err
	}
	if err := r.CheckCount(n, 1); err != nil { // a slot is at least its presence byte
		return nil, err
	}
	outputs := make([]*chain.TxOut, n)
	for i := range outputs {
		present, err := r.Bool()
		if err != nil {
			return nil, err
		}
		if !present {
			continue
		}
		value, err := r.U64()
		if err != nil {
			return nil, err
		}
		script, err := r.VarBytes()
		if err != nil {
			return nil, err
		}
		outputs[i] = &chain.TxOut{Value: value, ScriptPubKey: script}
	}
	return &Entry{Txid: txid, Outputs: outputs}, nil
}

// DecodeSet rebuilds a Set from its persisted form.
func DecodeSet(r *wire.Reader, undoLog UndoLog) (*Set, error) {
	lastApplied, err := r.Hash32()
	if err != nil {
		return nil, err
	}
	nUtxos, err := r.U64()
	if err != nil {
		return nil, err
	}
	tree, err := patricia.Deserialize[*Entry](r, decodeEntry)
	if err != nil {
		return nil, err
	}
	return &Set{
		tree:        tree,
		lastApplied: lastApplied,
		nUtxos:      nUtxos,
		undoLog:     undoLog,
	}, nil
}
