// Package config loads the node's per-network TOML configuration: peer
// address, RPC address, coinjoin toggle, the three on-disk paths, and a
// debug level, with unknown keys rejected and per-network defaults for
// everything else.
package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"rubin.dev/spvnode/store"
)

// DebugLevel is the logging verbosity setting.
type DebugLevel string

const (
	Debug   DebugLevel = "debug"
	Notice  DebugLevel = "notice"
	Status  DebugLevel = "status"
	Warning DebugLevel = "warning"
	Error   DebugLevel = "error"
	Fatal   DebugLevel = "fatal"
)

var validDebugLevels = map[DebugLevel]struct{}{
	Debug: {}, Notice: {}, Status: {}, Warning: {}, Error: {}, Fatal: {},
}

// Network is one [mainnet]/[testnet] table in the config file.
type Network struct {
	PeerAddr       string     `toml:"peer_addr"`
	PeerPort       uint16     `toml:"peer_port"`
	RPCAddr        string     `toml:"rpc_addr"`
	RPCPort        uint16     `toml:"rpc_port"`
	CoinjoinOn     bool       `toml:"coinjoin_on"`
	BlockchainPath string     `toml:"blockchain_path"`
	UtxoSetPath    string     `toml:"utxo_set_path"`
	WalletPath     string     `toml:"wallet_path"`
	DebugLevel     DebugLevel `toml:"debug_level"`
}

// File is the whole decoded TOML document: one table per network.
type File struct {
	Mainnet *Network `toml:"mainnet"`
	Testnet *Network `toml:"testnet"`
}

// DefaultNetwork returns the defaults for a network; options absent
// from the config file fall back to these.
func DefaultNetwork(network string) (Network, error) {
	switch network {
	case "mainnet":
		return Network{
			PeerAddr:       "seed.bitcoinstats.com",
			PeerPort:       8333,
			RPCAddr:        "127.0.0.1",
			RPCPort:        8332,
			CoinjoinOn:     false,
			BlockchainPath: store.DefaultBlockchainPath("mainnet"),
			UtxoSetPath:    store.DefaultUtxoSetPath("mainnet"),
			WalletPath:     store.DefaultWalletPath("mainnet"),
			DebugLevel:     Status,
		}, nil
	case "testnet":
		return Network{
			PeerAddr:       "testnet-seed.bitcoin.jonasschnelli.ch",
			PeerPort:       18333,
			RPCAddr:        "127.0.0.1",
			RPCPort:        18332,
			CoinjoinOn:     false,
			BlockchainPath: store.DefaultBlockchainPath("testnet"),
			UtxoSetPath:    store.DefaultUtxoSetPath("testnet"),
			WalletPath:     store.DefaultWalletPath("testnet"),
			DebugLevel:     Status,
		}, nil
	default:
		return Network{}, fmt.Errorf("config: unknown network %q", network)
	}
}

// Load reads and strictly decodes a TOML config file; unknown keys are
// rejected rather than ignored.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &f, nil
}

// Resolve merges the file's table for network (if present) over that
// network's defaults, field by field, then validates the result.
func Resolve(f *File, network string) (Network, error) {
	cfg, err := DefaultNetwork(network)
	if err != nil {
		return Network{}, err
	}
	var override *Network
	if f != nil {
		switch network {
		case "mainnet":
			override = f.Mainnet
		case "testnet":
			override = f.Testnet
		}
	}
	if override != nil {
		mergeNetwork(&cfg, override)
	}
	if err := Validate(cfg); err != nil {
		return Network{}, err
	}
	return cfg, nil
}

func mergeNetwork(dst *Network, src *Network) {
	if src.PeerAddr != "" {
		dst.PeerAddr = src.PeerAddr
	}
	if src.PeerPort != 0 {
		dst.PeerPort = src.PeerPort
	}
	if src.RPCAddr != "" {
		dst.RPCAddr = src.RPCAddr
	}
	if src.RPCPort != 0 {
		dst.RPCPort = src.RPCPort
	}
	dst.CoinjoinOn = src.CoinjoinOn
	if src.BlockchainPath != "" {
		dst.BlockchainPath = src.BlockchainPath
	}
	if src.UtxoSetPath != "" {
		dst.UtxoSetPath = src.UtxoSetPath
	}
	if src.WalletPath != "" {
		dst.WalletPath = src.WalletPath
	}
	if src.DebugLevel != "" {
		dst.DebugLevel = src.DebugLevel
	}
}

// Validate checks a resolved Network config for well-formedness.
func Validate(cfg Network) error {
	if strings.TrimSpace(cfg.PeerAddr) == "" {
		return fmt.Errorf("config: peer_addr is required")
	}
	if cfg.PeerPort == 0 {
		return fmt.Errorf("config: peer_port must be nonzero")
	}
	if _, _, err := net.SplitHostPort(fmt.Sprintf("%s:%d", cfg.RPCAddr, cfg.RPCPort)); err != nil {
		return fmt.Errorf("config: invalid rpc_addr/rpc_port: %w", err)
	}
	if _, ok := validDebugLevels[cfg.DebugLevel]; !ok {
		return fmt.Errorf("config: invalid debug_level %q", cfg.DebugLevel)
	}
	return nil
}
