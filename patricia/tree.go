// Package patricia implements the binary Patricia (radix) tree used to
// index both the header chain (256-bit keys) and the UTXO set (128-bit
// keys truncated from a transaction id). A single key container type,
// uint256.Uint256, serves both widths: the caller supplies the active
// key length on every call, so no second key type is needed.
package patricia

import (
	"rubin.dev/spvnode/uint256"
	"rubin.dev/spvnode/wire"
)

// node is one Patricia-tree node: an optional value, up to two children,
// and a compressed "skip" bitstring covering the bits between this node
// and its parent.
type node[V any] struct {
	data       *V
	childL     *node[V]
	childR     *node[V]
	skipPrefix uint256.Uint256
	skipLen    uint16
}

// Tree is a Patricia tree over keys of a caller-chosen bit width, valued
// by V. The zero value is an empty tree.
type Tree[V any] struct {
	root *node[V]
}

// New returns an empty tree.
func New[V any]() *Tree[V] {
	return &Tree[V]{}
}

// Insert adds value under key (its low keyLen bits). Returns false without
// modifying the tree if the exact key is already present.
func (t *Tree[V]) Insert(key uint256.Uint256, keyLen int, value V) bool {
	if t.root == nil {
		v := value
		t.root = &node[V]{
			data:       &v,
			skipPrefix: key.BitSlice(0, keyLen),
			skipLen:    uint16(keyLen),
		}
		return true
	}
	return insertNode(t.root, key, 0, keyLen, value)
}

func insertNode[V any](n *node[V], key uint256.Uint256, depth, keyLen int, value V) bool {
	for {
		remaining := keyLen - depth
		nodeSkip := int(n.skipLen)
		cmpLen := nodeSkip
		if remaining < cmpLen {
			cmpLen = remaining
		}
		nodeSlice := n.skipPrefix.BitSlice(0, cmpLen)
		keySlice := key.BitSlice(depth, depth+cmpLen)

		if nodeSlice != keySlice {
			// Prefix mismatch: split at the first differing bit.
			diff := nodeSlice.Xor(keySlice).TrailingZeros()
			oldChild := &node[V]{
				skipPrefix: n.skipPrefix.BitSlice(diff+1, nodeSkip),
				skipLen:    uint16(nodeSkip - diff - 1),
				data:       n.data,
				childL:     n.childL,
				childR:     n.childR,
			}
			v := value
			newChild := &node[V]{
				data:       &v,
				skipPrefix: key.BitSlice(depth+diff+1, keyLen),
				skipLen:    uint16(keyLen - depth - diff - 1),
			}
			branchBit := nodeSlice.BitValue(diff)
			n.skipPrefix = n.skipPrefix.BitSlice(0, diff)
			n.skipLen = uint16(diff)
			n.data = nil
			if branchBit {
				n.childR, n.childL = oldChild, newChild
			} else {
				n.childL, n.childR = oldChild, newChild
			}
			return true
		}

		if remaining < nodeSkip {
			// The search key is shorter than this node's skip: the new
			// key becomes an exact match here, and the old content is
			// pushed down into a single child.
			oldChild := &node[V]{
				skipPrefix: n.skipPrefix.BitSlice(remaining+1, nodeSkip),
				skipLen:    uint16(nodeSkip - remaining - 1),
				data:       n.data,
				childL:     n.childL,
				childR:     n.childR,
			}
			branchBit := n.skipPrefix.BitValue(remaining)
			n.skipPrefix = n.skipPrefix.BitSlice(0, remaining)
			n.skipLen = uint16(remaining)
			v := value
			n.data = &v
			n.childL, n.childR = nil, nil
			if branchBit {
				n.childR = oldChild
			} else {
				n.childL = oldChild
			}
			return true
		}

		depth += nodeSkip
		if remaining == nodeSkip {
			if n.data != nil {
				return false
			}
			v := value
			n.data = &v
			return true
		}

		bit := key.BitValue(depth)
		depth++
		child := &n.childL
		if bit {
			child = &n.childR
		}
		if *child == nil {
			v := value
			*child = &node[V]{
				data:       &v,
				skipPrefix: key.BitSlice(depth, keyLen),
				skipLen:    uint16(keyLen - depth),
			}
			return true
		}
		n = *child
	}
}

// Lookup returns the value stored under key's low keyLen bits, if present.
func (t *Tree[V]) Lookup(key uint256.Uint256, keyLen int) (V, bool) {
	var zero V
	n := t.root
	depth := 0
	for n != nil {
		remaining := keyLen - depth
		if remaining < int(n.skipLen) {
			return zero, false
		}
		if n.skipPrefix.BitSlice(0, int(n.skipLen)) != key.BitSlice(depth, depth+int(n.skipLen)) {
			return zero, false
		}
		depth += int(n.skipLen)
		if remaining == int(n.skipLen) {
			if n.data == nil {
				return zero, false
			}
			return *n.data, true
		}
		bit := key.BitValue(depth)
		depth++
		if bit {
			n = n.childR
		} else {
			n = n.childL
		}
	}
	return zero, false
}

// Delete removes and returns the value stored under key's low keyLen bits,
// merging any resulting single-child no-value node with its child so that
// invariant R2 (a no-value node has two children) is restored.
func (t *Tree[V]) Delete(key uint256.Uint256, keyLen int) (V, bool) {
	var zero V
	if t.root == nil {
		return zero, false
	}
	newRoot, val, found := deleteNode(t.root, key, 0, keyLen)
	if !found {
		return zero, false
	}
	t.root = newRoot
	return val, true
}

func deleteNode[V any](n *node[V], key uint256.Uint256, depth, keyLen int) (*node[V], V, bool) {
	var zero V
	remaining := keyLen - depth
	if remaining < int(n.skipLen) {
		return n, zero, false
	}
	if n.skipPrefix.BitSlice(0, int(n.skipLen)) != key.BitSlice(depth, depth+int(n.skipLen)) {
		return n, zero, false
	}
	newDepth := depth + int(n.skipLen)

	if remaining == int(n.skipLen) {
		if n.data == nil {
			return n, zero, false
		}
		val := *n.data
		n.data = nil
		return mergeIfNeeded(n), val, true
	}

	bit := key.BitValue(newDepth)
	childDepth := newDepth + 1
	if bit {
		if n.childR == nil {
			return n, zero, false
		}
		newChild, val, found := deleteNode(n.childR, key, childDepth, keyLen)
		if !found {
			return n, zero, false
		}
		n.childR = newChild
		return mergeIfNeeded(n), val, true
	}
	if n.childL == nil {
		return n, zero, false
	}
	newChild, val, found := deleteNode(n.childL, key, childDepth, keyLen)
	if !found {
		return n, zero, false
	}
	n.childL = newChild
	return mergeIfNeeded(n), val, true
}

// mergeIfNeeded restores R2: a no-value node must have two children. With
// zero children it is pruned (nil); with exactly one, it is merged into
// that child, concatenating the skip bitstrings with the branch bit
// between them.
func mergeIfNeeded[V any](n *node[V]) *node[V] {
	if n.data != nil {
		return n
	}
	if n.childL != nil && n.childR != nil {
		return n
	}
	if n.childL == nil && n.childR == nil {
		return nil
	}
	child := n.childL
	branchBit := false
	if child == nil {
		child = n.childR
		branchBit = true
	}
	branchVal := uint256.Zero
	if branchBit {
		branchVal = uint256.One
	}
	composed := n.skipPrefix.Xor(branchVal.Shl(int(n.skipLen)))
	composed = composed.Xor(child.skipPrefix.Shl(int(n.skipLen) + 1))
	newSkipLen := int(n.skipLen) + 1 + int(child.skipLen)
	return &node[V]{
		data:       child.data,
		childL:     child.childL,
		childR:     child.childR,
		skipPrefix: composed.Mask(newSkipLen),
		skipLen:    uint16(newSkipLen),
	}
}

// Serialize writes the tree depth-first pre-order: for each node, the skip
// bitstring, skip length, an optional value (1-byte tag + payload), then
// left and right children (each a 1-byte presence flag + optional
// recursive subtree).
func (t *Tree[V]) Serialize(w *wire.Writer, encodeValue func(*wire.Writer, V)) {
	serializeNode(w, t.root, encodeValue)
}

func serializeNode[V any](w *wire.Writer, n *node[V], encodeValue func(*wire.Writer, V)) {
	if n == nil {
		w.U8(0)
		return
	}
	w.U8(1)
	w.Hash32(wire.Hash(n.skipPrefix.Bytes32()))
	w.U16(n.skipLen)
	if n.data != nil {
		w.U8(1)
		encodeValue(w, *n.data)
	} else {
		w.U8(0)
	}
	serializeNode(w, n.childL, encodeValue)
	serializeNode(w, n.childR, encodeValue)
}

// Deserialize mirrors Serialize exactly.
func Deserialize[V any](r *wire.Reader, decodeValue func(*wire.Reader) (V, error)) (*Tree[V], error) {
	root, err := deserializeNode(r, decodeValue)
	if err != nil {
		return nil, err
	}
	return &Tree[V]{root: root}, nil
}

func deserializeNode[V any](r *wire.Reader, decodeValue func(*wire.Reader) (V, error)) (*node[V], error) {
	present, err := r.U8()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	h, err := r.Hash32()
	if err != nil {
		return nil, err
	}
	skipLen, err := r.U16()
	if err != nil {
		return nil, err
	}
	hasValue, err := r.U8()
	if err != nil {
		return nil, err
	}
	n := &node[V]{
		skipPrefix: uint256.FromBytes32([32]byte(h)),
		skipLen:    skipLen,
	}
	if hasValue == 1 {
		v, err := decodeValue(r)
		if err != nil {
			return nil, err
		}
		n.data = &v
	}
	childL, err := deserializeNode(r, decodeValue)
	if err != nil {
		return nil, err
	}
	childR, err := deserializeNode(r, decodeValue)
	if err != nil {
		return nil, err
	}
	n.childL, n.childR = childL, childR
	return n, nil
}

// Walk visits every (key, value) pair in the tree in depth-first order,
// reconstructing each full key from the accumulated skip bits and branch
// choices. keyLen is the fixed key width the tree was built with.
func (t *Tree[V]) Walk(keyLen int, visit func(key uint256.Uint256, value V)) {
	walkNode(t.root, uint256.Zero, 0, keyLen, visit)
}

func walkNode[V any](n *node[V], prefix uint256.Uint256, depth, keyLen int, visit func(uint256.Uint256, V)) {
	if n == nil {
		return
	}
	key := prefix.Xor(n.skipPrefix.Shl(depth))
	depth += int(n.skipLen)
	if n.data != nil {
		visit(key.Mask(depth), *n.data)
	}
	if n.childL != nil {
		walkNode(n.childL, key, depth+1, keyLen, visit)
	}
	if n.childR != nil {
		rightKey := key.Xor(uint256.One.Shl(depth))
		walkNode(n.childR, rightKey, depth+1, keyLen, visit)
	}
}
