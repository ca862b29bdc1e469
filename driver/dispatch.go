package driver

import (
	"rubin.dev/spvnode/chain"
	"rubin.dev/spvnode/p2p"
	"rubin.dev/spvnode/utxo"
	"rubin.dev/spvnode/wire"
)

// handleMessage dispatches one unsolicited (or inline-interspersed)
// message. ping is answered in every state, not just Idle, to avoid
// peer-side timeouts.
func (d *Driver) handleMessage(msg wire.Message) {
	switch msg.Command {
	case p2p.CmdVersion:
		_ = d.socket.Send(p2p.CmdVerack, nil)

	case p2p.CmdVerack, p2p.CmdAddr:
		// handshake noise / single-peer node: ignore.

	case p2p.CmdPing:
		p, err := p2p.DecodePing(msg.Payload)
		if err != nil {
			d.logger.Debug("driver: malformed ping payload", "err", err)
			return
		}
		_ = d.socket.Send(p2p.CmdPong, p2p.PingMsg{Nonce: p.Nonce}.Encode())

	case p2p.CmdInv:
		vecs, err := p2p.DecodeInv(msg.Payload)
		if err != nil {
			d.logger.Debug("driver: malformed inv payload", "err", err)
			return
		}
		_ = d.socket.Send(p2p.CmdGetData, p2p.EncodeInv(vecs))

	case p2p.CmdBlock:
		d.handleUnsolicitedBlock(msg.Payload)

	case p2p.CmdHeaders:
		d.logger.Debug("driver: unsolicited headers message")

	case p2p.CmdTx, p2p.CmdGetData, p2p.CmdNotFound, p2p.CmdGetBlocks, p2p.CmdGetHeaders, p2p.CmdPong:
		// accepted and ignored.

	default:
		d.logger.Debug("driver: ignoring unrecognized command", "command", msg.Command)
	}
}

func (d *Driver) handleUnsolicitedBlock(payload []byte) {
	blk, err := chain.DecodeBlock(wire.NewReader(payload))
	if err != nil {
		d.logger.Debug("driver: malformed unsolicited block payload", "err", err)
		return
	}
	blk.HasTxdata = true
	hash := blk.Header.Hash()

	if _, known := d.chain.GetBlock(hash); known {
		d.enqueue(action{kind: actionSyncUtxoSet, level: utxo.ScriptValidation})
		return
	}
	if _, parentKnown := d.chain.GetBlock(blk.Header.PrevBlock); !parentKnown {
		d.enqueue(action{kind: actionSyncBlockchain}, action{kind: actionSyncUtxoSet, level: utxo.ScriptValidation})
		return
	}
	if err := d.chain.AddHeader(blk.Header); err != nil {
		d.logger.Debug("driver: unsolicited block's header rejected", "err", err)
		return
	}
	d.enqueue(action{kind: actionSyncUtxoSet, level: utxo.ScriptValidation})
}

func (d *Driver) enqueue(actions ...action) {
	d.queue = append(d.queue, actions...)
}
