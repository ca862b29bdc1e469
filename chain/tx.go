package chain

import "rubin.dev/spvnode/wire"

// Smallest possible wire encodings, used to bound peer-declared element
// counts before allocation: a count the remaining payload cannot hold is
// rejected as a decode error instead of reaching make.
const (
	minTxInBytes  = 32 + 4 + 1 + 4 // prev_txid, prev_index, empty script, sequence
	minTxOutBytes = 8 + 1          // value, empty script
	minTxBytes    = 4 + 1 + 1 + 4  // version, zero input count, zero output count, lock_time
)

// TxIn references a previous output being spent.
type TxIn struct {
	PrevTxid  wire.Hash
	PrevIndex uint32
	ScriptSig []byte
	Sequence  uint32
}

// TxOut is a single payment output.
type TxOut struct {
	Value        uint64
	ScriptPubKey []byte
}

// Transaction is the canonical Bitcoin transaction shape this node
// understands: no witness data, since script execution itself is
// delegated to an external validator.
type Transaction struct {
	Version  uint32
	Inputs   []TxIn
	Outputs  []TxOut
	LockTime uint32
}

func (in TxIn) encode(w *wire.Writer) {
	w.Hash32(in.PrevTxid)
	w.U32(in.PrevIndex)
	w.VarBytes(in.ScriptSig)
	w.U32(in.Sequence)
}

func decodeTxIn(r *wire.Reader) (TxIn, error) {
	var in TxIn
	var err error
	if in.PrevTxid, err = r.Hash32(); err != nil {
		return in, err
	}
	if in.PrevIndex, err = r.U32(); err != nil {
		return in, err
	}
	if in.ScriptSig, err = r.VarBytes(); err != nil {
		return in, err
	}
	if in.Sequence, err = r.U32(); err != nil {
		return in, err
	}
	return in, nil
}

func (out TxOut) encode(w *wire.Writer) {
	w.U64(out.Value)
	w.VarBytes(out.ScriptPubKey)
}

func decodeTxOut(r *wire.Reader) (TxOut, error) {
	var out TxOut
	var err error
	if out.Value, err = r.U64(); err != nil {
		return out, err
	}
	if out.ScriptPubKey, err = r.VarBytes(); err != nil {
		return out, err
	}
	return out, nil
}

// Encode writes the canonical transaction serialization.
func (tx Transaction) Encode(w *wire.Writer) {
	w.U32(tx.Version)
	w.CompactSize(uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		in.encode(w)
	}
	w.CompactSize(uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		out.encode(w)
	}
	w.U32(tx.LockTime)
}

// DecodeTransaction reads a Transaction.
func DecodeTransaction(r *wire.Reader) (Transaction, error) {
	var tx Transaction
	var err error
	if tx.Version, err = r.U32(); err != nil {
		return tx, err
	}
	nIn, err := r.CompactSize()
	if err != nil {
		return tx, err
	}
	if err := r.CheckCount(nIn, minTxInBytes); err != nil {
		return tx, err
	}
	tx.Inputs = make([]TxIn, nIn)
	for i := range tx.Inputs {
		if tx.Inputs[i], err = decodeTxIn(r); err != nil {
			return tx, err
		}
	}
	nOut, err := r.CompactSize()
	if err != nil {
		return tx, err
	}
	if err := r.CheckCount(nOut, minTxOutBytes); err != nil {
		return tx, err
	}
	tx.Outputs = make([]TxOut, nOut)
	for i := range tx.Outputs {
		if tx.Outputs[i], err = decodeTxOut(r); err != nil {
			return tx, err
		}
	}
	if tx.LockTime, err = r.U32(); err != nil {
		return tx, err
	}
	return tx, nil
}

// Bytes returns the canonical encoding.
func (tx Transaction) Bytes() []byte {
	w := wire.NewWriter()
	tx.Encode(w)
	return w.Bytes()
}

// Txid is double-SHA-256 of the canonical serialization.
func (tx Transaction) Txid() wire.Hash {
	return wire.DoubleSHA256(tx.Bytes())
}
