// Package store implements the node's on-disk persistence: atomic
// tmp-file-then-rename snapshot writes for the chain and UTXO files,
// and a bbolt-backed bounded undo log for UTXO rewind.
package store

import (
	"log/slog"
	"os"

	"rubin.dev/spvnode/chain"
	"rubin.dev/spvnode/utxo"
	"rubin.dev/spvnode/wire"
)

// writeFileAtomic writes data to a temp file in the same directory as
// path, then renames it into place, so readers never observe a
// half-written snapshot.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SaveChain encodes and atomically writes the header chain.
func SaveChain(path string, c *chain.HeaderChain) error {
	w := wire.NewWriter()
	c.Encode(w)
	return writeFileAtomic(path, w.Bytes())
}

// LoadChain reads and decodes the header chain file. It returns
// (nil, false, nil) if the file does not exist, so callers can fall back
// to initializing from the network genesis block.
func LoadChain(path string, logger *slog.Logger) (*chain.HeaderChain, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	c, err := chain.DecodeHeaderChain(wire.NewReader(data), logger)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// SaveUtxoSet encodes and atomically writes the UTXO set.
func SaveUtxoSet(path string, s *utxo.Set) error {
	w := wire.NewWriter()
	s.Encode(w)
	return writeFileAtomic(path, w.Bytes())
}

// LoadUtxoSet reads and decodes the UTXO set file. It returns
// (nil, false, nil) if the file does not exist.
func LoadUtxoSet(path string, undoLog utxo.UndoLog) (*utxo.Set, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	s, err := utxo.DecodeSet(wire.NewReader(data), undoLog)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}
