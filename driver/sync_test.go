package driver

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"testing"

	"rubin.dev/spvnode/chain"
	"rubin.dev/spvnode/p2p"
	"rubin.dev/spvnode/params"
	"rubin.dev/spvnode/uint256"
	"rubin.dev/spvnode/utxo"
	"rubin.dev/spvnode/wire"
)

const testBits = 0x207fffff

// memUndoLog keeps undo records in memory so the sync tests don't need a
// bbolt file on disk.
type memUndoLog struct {
	mu      sync.Mutex
	records map[wire.Hash][]utxo.UndoRecord
}

func newMemUndoLog() *memUndoLog {
	return &memUndoLog{records: make(map[wire.Hash][]utxo.UndoRecord)}
}

func (m *memUndoLog) Put(hash wire.Hash, records []utxo.UndoRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[hash] = records
	return nil
}

func (m *memUndoLog) Get(hash wire.Hash) ([]utxo.UndoRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[hash]
	return r, ok, nil
}

func (m *memUndoLog) Delete(hash wire.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, hash)
	return nil
}

func mineTestHeader(t *testing.T, h chain.BlockHeader) chain.BlockHeader {
	t.Helper()
	target := chain.CompactToTarget(h.Bits)
	for nonce := uint32(0); nonce < 1<<20; nonce++ {
		h.Nonce = nonce
		hash := h.Hash()
		if uint256.FromBytes32([32]byte(hash)).Cmp(target) <= 0 {
			return h
		}
	}
	t.Fatalf("no valid nonce found for bits %x within bound", h.Bits)
	return h
}

// mineBlock builds a one-coinbase block on prev, with the sequence field
// varied so every block's coinbase (and hence txid) is distinct.
func mineBlock(t *testing.T, prev wire.Hash, tm uint32, seq uint32) chain.Block {
	t.Helper()
	coinbase := chain.Transaction{
		Version: 1,
		Inputs: []chain.TxIn{
			{PrevTxid: wire.ZeroHash, PrevIndex: 0xffffffff, Sequence: seq},
		},
		Outputs: []chain.TxOut{{Value: 5000000000, ScriptPubKey: []byte{0x51}}},
	}
	header := chain.BlockHeader{
		Version:    1,
		PrevBlock:  prev,
		MerkleRoot: chain.MerkleRoot([]wire.Hash{coinbase.Txid()}),
		Time:       tm,
		Bits:       testBits,
	}
	return chain.Block{
		Header:    mineTestHeader(t, header),
		Txdata:    []chain.Transaction{coinbase},
		HasTxdata: true,
	}
}

// fakePeer answers getheaders from a queue of canned replies, serves
// getdata out of a block map, and pongs pings, playing the remote node
// the sync states converse with.
type fakePeer struct {
	mu             sync.Mutex
	blocks         map[wire.Hash]chain.Block
	headersReplies [][]chain.BlockHeader
}

func (p *fakePeer) nextHeaders() []chain.BlockHeader {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.headersReplies) == 0 {
		return nil
	}
	reply := p.headersReplies[0]
	p.headersReplies = p.headersReplies[1:]
	return reply
}

func (p *fakePeer) lookupBlock(h wire.Hash) (chain.Block, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	blk, ok := p.blocks[h]
	return blk, ok
}

func (p *fakePeer) serve(t *testing.T, conn net.Conn, magic uint32) {
	t.Helper()
	for {
		msg, rerr := wire.ReadMessage(conn, magic)
		if rerr != nil {
			return
		}
		switch msg.Command {
		case p2p.CmdGetHeaders:
			if err := wire.WriteMessage(conn, magic, p2p.CmdHeaders, p2p.EncodeHeaders(p.nextHeaders())); err != nil {
				return
			}
		case p2p.CmdGetData:
			vecs, err := p2p.DecodeInv(msg.Payload)
			if err != nil {
				t.Errorf("fake peer: malformed getdata: %v", err)
				return
			}
			for _, v := range vecs {
				blk, ok := p.lookupBlock(v.Hash)
				if !ok {
					t.Errorf("fake peer: asked for unknown block %s", v.Hash)
					return
				}
				w := wire.NewWriter()
				blk.Encode(w)
				if err := wire.WriteMessage(conn, magic, p2p.CmdBlock, w.Bytes()); err != nil {
					return
				}
			}
		case p2p.CmdPing:
			ping, err := p2p.DecodePing(msg.Payload)
			if err == nil {
				_ = wire.WriteMessage(conn, magic, p2p.CmdPong, p2p.PingMsg{Nonce: ping.Nonce}.Encode())
			}
		}
	}
}

// TestSyncAppliesHeadersAndBlocksThenReorgs drives both sync states
// against a scripted peer end to end: headers-first sync, block-body
// fetch and UTXO application, then a heavier fork that forces the UTXO
// layer to rewind the stale branch and re-apply along the new best chain.
func TestSyncAppliesHeadersAndBlocksThenReorgs(t *testing.T) {
	genesis := chain.Block{Header: chain.BlockHeader{Version: 1, Time: 1000000000, Bits: testBits}}
	genHash := genesis.Header.Hash()

	a1 := mineBlock(t, genHash, 1000000600, 1)
	a2 := mineBlock(t, a1.Header.Hash(), 1000001200, 2)
	b1 := mineBlock(t, genHash, 1000000700, 3)
	b2 := mineBlock(t, b1.Header.Hash(), 1000001300, 4)
	b3 := mineBlock(t, b2.Header.Hash(), 1000001900, 5)

	peer := &fakePeer{
		blocks: map[wire.Hash]chain.Block{
			// The body-cache refresh requests any header-only block in its
			// window, genesis included; an empty-txdata body satisfies it.
			genHash:          genesis,
			a1.Header.Hash(): a1,
			a2.Header.Hash(): a2,
			b1.Header.Hash(): b1,
			b2.Header.Hash(): b2,
			b3.Header.Hash(): b3,
		},
		headersReplies: [][]chain.BlockHeader{
			{a1.Header, a2.Header},
			nil, // empty reply terminates the first SyncBlockchain
		},
	}

	c := chain.NewHeaderChain(genesis, slog.Default())
	u := utxo.NewSet(genHash, newMemUndoLog())
	d := New(Config{
		Logger:  slog.Default(),
		Network: params.Mainnet,
		Chain:   c,
		Utxo:    u,
	})

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.socket = p2p.NewSocket(client, d.magic, d.logger)
	go d.socket.ReadLoop(ctx, d.incoming)
	go peer.serve(t, server, d.magic)

	if err := d.syncBlockchain(ctx); err != nil {
		t.Fatalf("syncBlockchain: %v", err)
	}
	if c.Height() != 2 || c.BestTipHash() != a2.Header.Hash() {
		t.Fatalf("after header sync: height=%d tip=%s", c.Height(), c.BestTipHash())
	}

	if err := d.syncUtxoSet(ctx, utxo.TxoValidation); err != nil {
		t.Fatalf("syncUtxoSet: %v", err)
	}
	if u.NUtxos() != 2 {
		t.Fatalf("after utxo sync: n_utxos=%d, want 2", u.NUtxos())
	}
	if u.LastAppliedHash() != a2.Header.Hash() {
		t.Fatalf("last applied hash not at chain A tip")
	}

	// A heavier fork arrives via the header path; the next UTXO sync has
	// to unwind a2 and a1 before walking forward along chain B.
	for _, h := range []chain.BlockHeader{b1.Header, b2.Header, b3.Header} {
		if err := c.AddHeader(h); err != nil {
			t.Fatalf("add fork header: %v", err)
		}
	}
	if c.BestTipHash() != b3.Header.Hash() {
		t.Fatalf("fork did not become best tip")
	}

	if err := d.syncUtxoSet(ctx, utxo.TxoValidation); err != nil {
		t.Fatalf("syncUtxoSet after reorg: %v", err)
	}
	if u.NUtxos() != 3 {
		t.Fatalf("after reorg sync: n_utxos=%d, want 3", u.NUtxos())
	}
	if u.LastAppliedHash() != b3.Header.Hash() {
		t.Fatalf("last applied hash not at chain B tip")
	}

	// Outputs from the stale branch are gone, the new branch's are live.
	if _, found := u.GetUtxo(a1.Txdata[0].Txid(), 0); found {
		t.Fatal("stale branch output survived the rewind")
	}
	for _, blk := range []chain.Block{b1, b2, b3} {
		if _, found := u.GetUtxo(blk.Txdata[0].Txid(), 0); !found {
			t.Fatalf("missing output for new-branch block %s", blk.Header.Hash())
		}
	}

	// The forward pointer out of the fork point now follows chain B.
	fwd := c.Iter(genHash)
	if len(fwd) != 4 || fwd[1] != b1.Header.Hash() {
		t.Fatalf("forward walk does not follow the reorged chain: %v", fwd)
	}
}
