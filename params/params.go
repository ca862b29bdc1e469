// Package params holds the per-network constants: the P2P magic (the
// only on-wire difference between networks) and each network's genesis
// block, the seed every HeaderChain and UTXO Set is constructed from at
// first run.
package params

import (
	"rubin.dev/spvnode/chain"
	"rubin.dev/spvnode/wire"
)

// Network bundles one network's name, magic, and genesis block.
type Network struct {
	Name    string
	Magic   uint32
	Genesis chain.Block
}

func mustHash(hex string) wire.Hash {
	h, err := wire.HashFromHex(hex)
	if err != nil {
		panic(err)
	}
	return h
}

// Mainnet is the production Bitcoin network.
var Mainnet = Network{
	Name:  "mainnet",
	Magic: 0xd9b4bef9,
	Genesis: chain.Block{
		Header: chain.BlockHeader{
			Version:    1,
			PrevBlock:  wire.ZeroHash,
			MerkleRoot: mustHash("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"),
			Time:       1231006505,
			Bits:       0x1d00ffff,
			Nonce:      2083236893,
		},
		HasTxdata: false,
	},
}

// Testnet is the legacy public test network.
var Testnet = Network{
	Name:  "testnet",
	Magic: 0x0709110b,
	Genesis: chain.Block{
		Header: chain.BlockHeader{
			Version:    1,
			PrevBlock:  wire.ZeroHash,
			MerkleRoot: mustHash("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"),
			Time:       1296688602,
			Bits:       0x1d00ffff,
			Nonce:      414098458,
		},
		HasTxdata: false,
	},
}

// ByName looks up a network by its config name.
func ByName(name string) (Network, bool) {
	switch name {
	case Mainnet.Name:
		return Mainnet, true
	case Testnet.Name:
		return Testnet, true
	default:
		return Network{}, false
	}
}
