package store

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// Default per-network file paths under the XDG cache directory, with
// the undo log alongside and the wallet under the XDG data directory.
const appDirName = "spvnode"

// DefaultBlockchainPath returns the default header-chain snapshot path.
func DefaultBlockchainPath(network string) string {
	return filepath.Join(xdg.CacheHome, appDirName, "blockchain."+network+".dat")
}

// DefaultUtxoSetPath returns the default UTXO-set snapshot path.
func DefaultUtxoSetPath(network string) string {
	return filepath.Join(xdg.CacheHome, appDirName, "utxo."+network+".dat")
}

// DefaultUndoLogPath returns the default bbolt undo-log path.
func DefaultUndoLogPath(network string) string {
	return filepath.Join(xdg.CacheHome, appDirName, "undo."+network+".db")
}

// DefaultWalletPath returns the default wallet file path.
func DefaultWalletPath(network string) string {
	return filepath.Join(xdg.DataHome, appDirName, "wallet."+network+".dat")
}
