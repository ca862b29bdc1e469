package chain

import (
	"log/slog"
	"sync"

	"rubin.dev/spvnode/patricia"
	"rubin.dev/spvnode/uint256"
	"rubin.dev/spvnode/wire"
)

// Consensus constants.
const (
	TargetTimespan   = 14 * 24 * 3600 // seconds
	RetargetInterval = 2016
)

// MaxTarget is the easiest allowed proof-of-work target, 0xFFFF<<208.
var MaxTarget = uint256.FromUint64(0xFFFF).Shl(208)

// ChainNode is one entry in the header chain index. ParentHash and
// NextHash are keys into the index, not owning pointers, so the index
// owns each node exactly once despite the links running both ways.
type ChainNode struct {
	Block          Block
	CumulativeWork uint256.Uint256
	RequiredBits   uint32
	Height         uint32
	HasTxdata      bool
	ParentHash     wire.Hash
	NextHash       wire.Hash
}

// HeaderChain owns every seen header, the current best tip, and the
// genesis hash, guarded by a single reader/writer lock. No per-node
// locks.
type HeaderChain struct {
	mu          sync.RWMutex
	index       map[wire.Hash]*ChainNode
	bestHash    wire.Hash
	genesisHash wire.Hash
	logger      *slog.Logger
}

// NewHeaderChain seeds a chain from a genesis block.
func NewHeaderChain(genesis Block, logger *slog.Logger) *HeaderChain {
	if logger == nil {
		logger = slog.Default()
	}
	hash := genesis.Header.Hash()
	node := &ChainNode{
		Block:          genesis,
		CumulativeWork: Work(genesis.Header.Bits),
		RequiredBits:   genesis.Header.Bits,
		Height:         0,
		HasTxdata:      genesis.HasTxdata,
		ParentHash:     wire.ZeroHash,
	}
	return &HeaderChain{
		index:       map[wire.Hash]*ChainNode{hash: node},
		bestHash:    hash,
		genesisHash: hash,
		logger:      logger,
	}
}

// BestTipHash returns the current best tip's hash.
func (c *HeaderChain) BestTipHash() wire.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bestHash
}

// GenesisHash returns the chain's genesis hash.
func (c *HeaderChain) GenesisHash() wire.Hash {
	return c.genesisHash
}

// Height returns the best tip's height.
func (c *HeaderChain) Height() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index[c.bestHash].Height
}

// GetBlock returns the node for hash, if known.
func (c *HeaderChain) GetBlock(hash wire.Hash) (*ChainNode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.index[hash]
	return n, ok
}

// requiredBitsForHeight computes required_bits for a header extending
// parent, scanning back RetargetInterval-1 ancestors on a retarget block.
func (c *HeaderChain) requiredBitsForHeight(parent *ChainNode) (uint32, error) {
	if (parent.Height+1)%RetargetInterval != 0 {
		return parent.RequiredBits, nil
	}
	cur := parent
	for i := 0; i < RetargetInterval-1; i++ {
		p, ok := c.index[cur.ParentHash]
		if !ok {
			return 0, chainErr(ErrUnknownRetargetAncestor, "retarget window ancestor not indexed")
		}
		cur = p
	}
	startTime := int64(cur.Block.Header.Time)
	timespan := int64(parent.Block.Header.Time) - startTime
	if timespan < TargetTimespan/4 {
		timespan = TargetTimespan / 4
	}
	if timespan > TargetTimespan*4 {
		timespan = TargetTimespan * 4
	}
	oldTarget := CompactToTarget(parent.RequiredBits)
	newTarget := oldTarget.MulU32(uint32(timespan)).Div(uint256.FromUint64(TargetTimespan))
	if newTarget.Cmp(MaxTarget) > 0 {
		newTarget = MaxTarget
	}
	return TargetToCompact(satoshiPrecision(newTarget)), nil
}

// satoshiPrecision reproduces the reference client's compact-bits
// truncation exactly. This rounding is a consensus quirk that must
// match bit-for-bit: get it wrong and the node forks off the network at
// the next retarget block.
func satoshiPrecision(target uint256.Uint256) uint256.Uint256 {
	bits := target.Bits()
	b := 8 * ((bits+7)/8 - 3)
	if b < 0 {
		b = 0
	}
	ret := target.Shr(b)
	if ret.BitValue(23) {
		ret = ret.Shr(8).Shl(8)
	}
	return ret.Shl(b)
}

// AddHeader validates and inserts a header whose parent is already known.
func (c *HeaderChain) AddHeader(h BlockHeader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	parent, ok := c.index[h.PrevBlock]
	if !ok {
		return chainErr(ErrOrphanHeader, "parent not in index")
	}
	requiredBits, err := c.requiredBitsForHeight(parent)
	if err != nil {
		return err
	}
	if h.Bits != requiredBits {
		return chainErr(ErrBadPoW, "declared bits does not match required_bits")
	}
	target := CompactToTarget(requiredBits)
	hash := h.Hash()
	hashAsInt := uint256.FromBytes32([32]byte(hash))
	if hashAsInt.Cmp(target) > 0 {
		return chainErr(ErrBadPoW, "hash exceeds target")
	}

	if _, exists := c.index[hash]; exists {
		return nil // already known; idempotent no-op
	}

	work := Work(requiredBits)
	node := &ChainNode{
		Block:          Block{Header: h},
		CumulativeWork: parent.CumulativeWork.Add(work),
		RequiredBits:   requiredBits,
		Height:         parent.Height + 1,
		ParentHash:     h.PrevBlock,
	}
	c.index[hash] = node

	if node.CumulativeWork.Cmp(c.index[c.bestHash].CumulativeWork) > 0 {
		c.setBestTip(hash)
	}
	return nil
}

// setBestTip rewires the forward pointers along the path from the old
// best tip to the new one. Caller must hold the write lock.
func (c *HeaderChain) setBestTip(newHash wire.Hash) {
	oldBest := c.bestHash
	cur := newHash
	for {
		node := c.index[cur]
		parentHash := node.ParentHash
		parent, ok := c.index[parentHash]
		if !ok {
			break // reached genesis
		}
		parent.NextHash = cur
		if parentHash == oldBest {
			break
		}
		cur = parentHash
	}
	c.bestHash = newHash
}

// LocatorHashes produces an exponentially-spaced backward list of hashes
// from the tip: the first ten positions step by 1, then the step doubles
// each position.
func (c *HeaderChain) LocatorHashes() []wire.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ancestors := c.revIterLocked(c.bestHash)
	var out []wire.Hash
	idx := 0
	skip := 1
	count := 0
	for idx < len(ancestors) {
		out = append(out, ancestors[idx])
		if ancestors[idx] == c.genesisHash {
			break
		}
		idx += skip
		count++
		if count >= 10 {
			skip *= 2
		}
	}
	// The doubling walk can overshoot genesis; anchor the locator with it
	// so the peer always finds a common ancestor.
	if len(out) == 0 || out[len(out)-1] != c.genesisHash {
		out = append(out, c.genesisHash)
	}
	return out
}

// Iter walks forward along the best-chain forward pointers from start.
func (c *HeaderChain) Iter(start wire.Hash) []wire.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []wire.Hash
	h := start
	for {
		node, ok := c.index[h]
		if !ok {
			break
		}
		out = append(out, h)
		if node.NextHash.IsZero() {
			break
		}
		h = node.NextHash
	}
	return out
}

// RevIter walks parents backward from start to genesis.
func (c *HeaderChain) RevIter(start wire.Hash) []wire.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.revIterLocked(start)
}

func (c *HeaderChain) revIterLocked(start wire.Hash) []wire.Hash {
	var out []wire.Hash
	h := start
	for {
		node, ok := c.index[h]
		if !ok {
			break
		}
		out = append(out, h)
		if h == c.genesisHash {
			break
		}
		h = node.ParentHash
	}
	return out
}

// isOnBestChainLocked reports whether hash lies on the current best
// chain. Caller must hold at least the read lock.
func (c *HeaderChain) isOnBestChainLocked(hash wire.Hash) bool {
	node, ok := c.index[hash]
	if !ok {
		return false
	}
	curHash := c.bestHash
	cur := c.index[curHash]
	for cur.Height > node.Height {
		curHash = cur.ParentHash
		cur, ok = c.index[curHash]
		if !ok {
			return false
		}
	}
	return curHash == hash
}

// RevStaleIter walks parents backward from start until it rejoins the
// best chain, used to unwind a reorg in the UTXO layer.
func (c *HeaderChain) RevStaleIter(start wire.Hash) []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Block
	h := start
	for {
		if c.isOnBestChainLocked(h) {
			break
		}
		node, ok := c.index[h]
		if !ok {
			break
		}
		out = append(out, node.Block)
		h = node.ParentHash
	}
	return out
}

// AddTxdata populates the transaction payload of an already-known header,
// failing if the hash is unknown or the merkle root disagrees.
func (c *HeaderChain) AddTxdata(block Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash := block.Header.Hash()
	node, ok := c.index[hash]
	if !ok {
		return chainErr(ErrUnknownHeader, "header not indexed")
	}
	if err := block.VerifyMerkleRoot(); err != nil {
		return chainErr(ErrMerkleMismatch, err.Error())
	}
	node.Block.Txdata = block.Txdata
	node.Block.HasTxdata = true
	node.HasTxdata = true
	return nil
}

// RemoveTxdata clears the cached transaction payload of a known header.
func (c *HeaderChain) RemoveTxdata(hash wire.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.index[hash]
	if !ok {
		return chainErr(ErrUnknownHeader, "header not indexed")
	}
	node.Block.Txdata = nil
	node.Block.HasTxdata = false
	node.HasTxdata = false
	return nil
}

// Encode persists the chain as (radix_index, best_hash, genesis_hash).
func (c *HeaderChain) Encode(w *wire.Writer) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tree := patricia.New[*ChainNode]()
	for h, node := range c.index {
		tree.Insert(uint256.FromBytes32([32]byte(h)), 256, node)
	}
	tree.Serialize(w, encodeChainNode)
	w.Hash32(c.bestHash)
	w.Hash32(c.genesisHash)
}

func encodeChainNode(w *wire.Writer, node *ChainNode) {
	node.Block.Header.Encode(w)
	w.Bool(node.HasTxdata)
	if node.HasTxdata {
		w.CompactSize(uint64(len(node.Block.Txdata)))
		for _, tx := range node.Block.Txdata {
			tx.Encode(w)
		}
	}
	w.Hash32(wire.Hash(node.CumulativeWork.Bytes32()))
	w.U32(node.Height)
}

func decodeChainNode(r *wire.Reader) (*ChainNode, error) {
	header, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	hasTxdata, err := r.Bool()
	if err != nil {
		return nil, err
	}
	var txdata []Transaction
	if hasTxdata {
		n, err := r.CompactSize()
		if err != nil {
			return nil, err
		}
		if err := r.CheckCount(n, minTxBytes); err != nil {
			return nil, err
		}
		txdata = make([]Transaction, n)
		for i := range txdata {
			if txdata[i], err = DecodeTransaction(r); err != nil {
				return nil, err
			}
		}
	}
	cumWorkHash, err := r.Hash32()
	if err != nil {
		return nil, err
	}
	height, err := r.U32()
	if err != nil {
		return nil, err
	}
	return &ChainNode{
		Block:          Block{Header: header, Txdata: txdata, HasTxdata: hasTxdata},
		CumulativeWork: uint256.FromBytes32([32]byte(cumWorkHash)),
		RequiredBits:   header.Bits,
		Height:         height,
		HasTxdata:      hasTxdata,
		ParentHash:     header.PrevBlock,
	}, nil
}

// DecodeHeaderChain rebuilds a HeaderChain from its persisted form,
// reconstructing next_ref by walking parents from best_hash and failing
// DisconnectedChain if that walk does not terminate at genesis_hash.
func DecodeHeaderChain(r *wire.Reader, logger *slog.Logger) (*HeaderChain, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tree, err := patricia.Deserialize[*ChainNode](r, decodeChainNode)
	if err != nil {
		return nil, err
	}
	bestHash, err := r.Hash32()
	if err != nil {
		return nil, err
	}
	genesisHash, err := r.Hash32()
	if err != nil {
		return nil, err
	}

	index := make(map[wire.Hash]*ChainNode)
	tree.Walk(256, func(key uint256.Uint256, node *ChainNode) {
		h := wire.Hash(key.Bytes32())
		index[h] = node
	})

	if _, ok := index[bestHash]; !ok {
		return nil, chainErr(ErrDisconnectedChain, "best tip reference not found in tree")
	}
	cur := bestHash
	for cur != genesisHash {
		node := index[cur]
		parent, ok := index[node.ParentHash]
		if !ok {
			return nil, chainErr(ErrDisconnectedChain, "best tip did not link back to genesis")
		}
		parent.NextHash = cur
		cur = node.ParentHash
	}

	return &HeaderChain{
		index:       index,
		bestHash:    bestHash,
		genesisHash: genesisHash,
		logger:      logger,
	}, nil
}
