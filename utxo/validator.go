package utxo

import "rubin.dev/spvnode/chain"

// ValidationLevel selects how much of an input's spend is checked during
// Update. The set never executes scripts itself; the driver picks how
// much of the external validator to invoke per sync state.
type ValidationLevel int

const (
	// TxoValidation checks only that referenced outputs exist and are
	// unspent (structural only, no script evaluation).
	TxoValidation ValidationLevel = iota
	// ScriptValidation additionally delegates full signature/script
	// checking to the ScriptValidator collaborator.
	ScriptValidation
)

// ScriptValidator answers whether a given input validly spends the
// output it references. Script execution lives entirely behind this
// interface.
type ScriptValidator interface {
	// Validate reports whether in, at index inputIndex of tx, is a valid
	// spend of prevOut.
	Validate(tx chain.Transaction, inputIndex int, prevOut chain.TxOut) error
}

// AcceptAllValidator is a no-op ScriptValidator: every input is
// accepted. Useful as a default when no real evaluator is wired in,
// e.g. during header-only sync or tests.
type AcceptAllValidator struct{}

// Validate always succeeds.
func (AcceptAllValidator) Validate(chain.Transaction, int, chain.TxOut) error {
	return nil
}
