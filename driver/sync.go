package driver

import (
	"context"
	"fmt"

	"rubin.dev/spvnode/chain"
	"rubin.dev/spvnode/p2p"
	"rubin.dev/spvnode/utxo"
	"rubin.dev/spvnode/wire"
)

// awaitMessage loops on the incoming channel, handling every message
// inline via handleMessage except one of wants, which it returns. This
// lets a sync state wait for, say, the next headers message while still
// answering interspersed pings.
func (d *Driver) awaitMessage(ctx context.Context, wants ...string) (wire.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return wire.Message{}, ctx.Err()
		case msg, ok := <-d.incoming:
			if !ok {
				return wire.Message{}, errConnClosed
			}
			if msg.Command == p2p.CmdConnectionFailed {
				return wire.Message{}, errConnFailed
			}
			for _, want := range wants {
				if msg.Command == want {
					return msg, nil
				}
			}
			d.handleMessage(msg)
		}
	}
}

// syncBlockchain extends the header chain by repeatedly requesting
// headers with the chain's current locator until the peer replies
// empty.
func (d *Driver) syncBlockchain(ctx context.Context) error {
	for {
		req := p2p.GetHeadersMsg{
			Version:  ProtocolVersion,
			Locator:  d.chain.LocatorHashes(),
			HashStop: wire.ZeroHash,
		}
		if err := d.socket.Send(p2p.CmdGetHeaders, req.Encode()); err != nil {
			return errConnFailed
		}
		msg, err := d.awaitMessage(ctx, p2p.CmdHeaders)
		if err != nil {
			return err
		}
		headers, decErr := p2p.DecodeHeaders(msg.Payload)
		if decErr != nil {
			d.logger.Warn("driver: malformed headers payload", "err", decErr)
			continue
		}
		if len(headers) == 0 {
			return nil
		}
		for _, h := range headers {
			if err := d.chain.AddHeader(h); err != nil {
				d.logger.Debug("driver: header rejected", "err", err)
			}
		}
	}
}

// syncUtxoSet first rewinds any stale (reorged-off) blocks, then walks
// the best chain forward from the set's last-applied hash in batches of
// UtxoSyncNBlocks, requesting bodies and applying them in order.
func (d *Driver) syncUtxoSet(ctx context.Context, level utxo.ValidationLevel) error {
	for _, stale := range d.chain.RevStaleIter(d.utxo.LastAppliedHash()) {
		if !stale.HasTxdata {
			return fmt.Errorf("driver: cannot rewind block %s: no cached txdata", stale.Header.Hash())
		}
		if err := d.utxo.Rewind(stale); err != nil {
			return err
		}
	}

	forward := d.chain.Iter(d.utxo.LastAppliedHash())
	if len(forward) > 0 {
		forward = forward[1:] // drop the already-applied starting hash
	}

	for i := 0; i < len(forward); i += UtxoSyncNBlocks {
		end := i + UtxoSyncNBlocks
		if end > len(forward) {
			end = len(forward)
		}
		batch := forward[i:end]
		if err := d.fetchAndApplyBatch(ctx, batch, level); err != nil {
			return err
		}
	}

	return d.refreshBodyCache(ctx)
}

func (d *Driver) fetchAndApplyBatch(ctx context.Context, batch []wire.Hash, level utxo.ValidationLevel) error {
	vecs := make([]p2p.InvVector, len(batch))
	for i, h := range batch {
		vecs[i] = p2p.InvVector{Type: p2p.InvTypeBlock, Hash: h}
	}
	if err := d.socket.Send(p2p.CmdGetData, p2p.EncodeInv(vecs)); err != nil {
		return errConnFailed
	}

	received := make(map[wire.Hash]chain.Block, len(batch))
	for len(received) < len(batch) {
		msg, err := d.awaitMessage(ctx, p2p.CmdBlock, p2p.CmdNotFound)
		if err != nil {
			return err
		}
		if msg.Command == p2p.CmdNotFound {
			return fmt.Errorf("driver: peer reported notfound during utxo sync")
		}
		blk, decErr := chain.DecodeBlock(wire.NewReader(msg.Payload))
		if decErr != nil {
			return fmt.Errorf("driver: malformed block payload: %w", decErr)
		}
		blk.HasTxdata = true
		received[blk.Header.Hash()] = blk
	}

	for _, h := range batch {
		blk, ok := received[h]
		if !ok {
			return fmt.Errorf("driver: peer never sent requested block %s", h)
		}
		if err := d.utxo.Update(blk, level, d.validator); err != nil {
			return err
		}
		if err := d.chain.AddTxdata(blk); err != nil {
			d.logger.Warn("driver: failed to cache applied block txdata", "err", err)
		}
	}
	return nil
}

// refreshBodyCache keeps txdata for only the last BlockchainNFullBlocks
// best-chain blocks, dropping it for older ones and requesting any
// missing bodies still inside the window.
func (d *Driver) refreshBodyCache(ctx context.Context) error {
	tip := d.chain.BestTipHash()
	ancestors := d.chain.RevIter(tip)

	var missing []wire.Hash
	for i, h := range ancestors {
		node, found := d.chain.GetBlock(h)
		if !found {
			continue
		}
		if i < BlockchainNFullBlocks {
			if !node.HasTxdata {
				missing = append(missing, h)
			}
			continue
		}
		if node.HasTxdata {
			_ = d.chain.RemoveTxdata(h)
		}
	}

	if d.undoLog != nil {
		keep := make(map[wire.Hash]struct{})
		for i, h := range ancestors {
			if i >= BlockchainNFullBlocks {
				break
			}
			keep[h] = struct{}{}
		}
		if err := d.undoLog.Prune(keep); err != nil {
			d.logger.Warn("driver: undo log prune failed", "err", err)
		}
	}

	if len(missing) == 0 {
		return nil
	}
	vecs := make([]p2p.InvVector, len(missing))
	for i, h := range missing {
		vecs[i] = p2p.InvVector{Type: p2p.InvTypeBlock, Hash: h}
	}
	if err := d.socket.Send(p2p.CmdGetData, p2p.EncodeInv(vecs)); err != nil {
		return errConnFailed
	}
	for range missing {
		msg, err := d.awaitMessage(ctx, p2p.CmdBlock, p2p.CmdNotFound)
		if err != nil {
			return err
		}
		if msg.Command == p2p.CmdNotFound {
			continue
		}
		blk, decErr := chain.DecodeBlock(wire.NewReader(msg.Payload))
		if decErr != nil {
			d.logger.Warn("driver: malformed cached-body block payload", "err", decErr)
			continue
		}
		blk.HasTxdata = true
		if err := d.chain.AddTxdata(blk); err != nil {
			d.logger.Warn("driver: failed to add cached txdata", "err", err)
		}
	}
	return nil
}
