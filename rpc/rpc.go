// Package rpc implements the node's RPC surface as a plain method-name
// dispatch table.
package rpc

import (
	"fmt"

	"rubin.dev/spvnode/chain"
	"rubin.dev/spvnode/coinjoin"
	"rubin.dev/spvnode/utxo"
	"rubin.dev/spvnode/wire"
)

// IdleState is the view of core state the driver hands an RPC handler
// between sync states.
type IdleState interface {
	Chain() *chain.HeaderChain
	Utxo() *utxo.Set
	Coinjoin() coinjoin.Session
}

// Request is one RPC call: a method name plus loosely-typed parameters.
type Request struct {
	Method string
	Params map[string]any
}

// Handler answers a Request against the current IdleState.
type Handler func(req Request, state IdleState) (any, error)

// Handlers is the method-name dispatch table.
var Handlers = map[string]Handler{
	"getblock":        getBlockHandler,
	"getblockcount":   getBlockCountHandler,
	"getutxocount":    getUtxoCountHandler,
	"coinjoin_start":  coinjoinStartHandler,
	"coinjoin_status": coinjoinStatusHandler,
}

func init() {
	Handlers["help"] = helpHandler
}

// Dispatch looks up and invokes the handler for req.Method.
func Dispatch(req Request, state IdleState) (any, error) {
	h, ok := Handlers[req.Method]
	if !ok {
		return nil, fmt.Errorf("rpc: unknown method %q", req.Method)
	}
	return h(req, state)
}

func helpHandler(Request, IdleState) (any, error) {
	names := make([]string, 0, len(Handlers))
	for name := range Handlers {
		names = append(names, name)
	}
	return names, nil
}

func paramHash(req Request, key string) (wire.Hash, error) {
	raw, ok := req.Params[key].(string)
	if !ok || raw == "" {
		return wire.Hash{}, fmt.Errorf("rpc: missing or invalid %q parameter", key)
	}
	return wire.HashFromHex(raw)
}

func getBlockHandler(req Request, state IdleState) (any, error) {
	hash, err := paramHash(req, "hash")
	if err != nil {
		return nil, err
	}
	node, found := state.Chain().GetBlock(hash)
	if !found {
		return nil, fmt.Errorf("rpc: getblock: unknown hash")
	}
	result := map[string]any{
		"hash":       hash.String(),
		"height":     node.Height,
		"version":    node.Block.Header.Version,
		"time":       node.Block.Header.Time,
		"bits":       node.Block.Header.Bits,
		"nonce":      node.Block.Header.Nonce,
		"has_txdata": node.HasTxdata,
	}
	if node.HasTxdata {
		txids := make([]string, len(node.Block.Txdata))
		for i, tx := range node.Block.Txdata {
			txids[i] = tx.Txid().String()
		}
		result["txids"] = txids
	}
	return result, nil
}

// getblockcount reports the best-chain height, or the height of an
// optional specific hash when one is supplied.
func getBlockCountHandler(req Request, state IdleState) (any, error) {
	if raw, ok := req.Params["hash"].(string); ok && raw != "" {
		hash, err := wire.HashFromHex(raw)
		if err != nil {
			return nil, err
		}
		node, found := state.Chain().GetBlock(hash)
		if !found {
			return nil, fmt.Errorf("rpc: getblockcount: unknown hash")
		}
		return node.Height, nil
	}
	return state.Chain().Height(), nil
}

// getutxocount reports the live unspent-output count.
func getUtxoCountHandler(_ Request, state IdleState) (any, error) {
	return state.Utxo().NUtxos(), nil
}

func coinjoinStartHandler(req Request, state IdleState) (any, error) {
	denom, _ := req.Params["denomination"].(float64)
	participants, _ := req.Params["participants"].(float64)
	cfg := coinjoin.Config{
		Denomination: uint64(denom),
		Participants: int(participants),
	}
	if err := state.Coinjoin().Start(cfg); err != nil {
		return nil, err
	}
	return state.Coinjoin().Status(), nil
}

func coinjoinStatusHandler(_ Request, state IdleState) (any, error) {
	return state.Coinjoin().Status(), nil
}
