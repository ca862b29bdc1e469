package chain

import (
	"fmt"

	"rubin.dev/spvnode/wire"
)

// Block is a header plus an optional transaction payload: txdata may be
// absent when we only know the block's header (pruned or header-only
// knowledge).
type Block struct {
	Header    BlockHeader
	Txdata    []Transaction
	HasTxdata bool
}

// Encode writes the header followed by the transaction count and each
// transaction; a txdata-absent block encodes a zero count
// with no way to distinguish "empty block" from "pruned" on the wire
// alone -- callers track HasTxdata out of band via the chain index.
func (b Block) Encode(w *wire.Writer) {
	b.Header.Encode(w)
	w.CompactSize(uint64(len(b.Txdata)))
	for _, tx := range b.Txdata {
		tx.Encode(w)
	}
}

// DecodeBlock reads a Block from its canonical wire form.
func DecodeBlock(r *wire.Reader) (Block, error) {
	var b Block
	var err error
	if b.Header, err = DecodeHeader(r); err != nil {
		return b, err
	}
	n, err := r.CompactSize()
	if err != nil {
		return b, err
	}
	if err := r.CheckCount(n, minTxBytes); err != nil {
		return b, err
	}
	b.Txdata = make([]Transaction, n)
	for i := range b.Txdata {
		if b.Txdata[i], err = DecodeTransaction(r); err != nil {
			return b, err
		}
	}
	b.HasTxdata = n > 0
	return b, nil
}

// VerifyMerkleRoot confirms the block's txdata hashes to the header's
// declared merkle root.
func (b Block) VerifyMerkleRoot() error {
	txids := make([]wire.Hash, len(b.Txdata))
	for i, tx := range b.Txdata {
		txids[i] = tx.Txid()
	}
	got := MerkleRoot(txids)
	if got != b.Header.MerkleRoot {
		return fmt.Errorf("merkle root mismatch: header has %s, computed %s", b.Header.MerkleRoot, got)
	}
	return nil
}
