// Package p2p implements the Bitcoin P2P message payloads and the single-
// peer socket the driver drives: version/verack handshake, inv/getdata/
// notfound, getheaders/headers/getblocks, ping/pong, and the raw block/tx
// payloads decoded through the chain package's own codec.
package p2p

import (
	"rubin.dev/spvnode/chain"
	"rubin.dev/spvnode/wire"
)

// Command names.
const (
	CmdVersion    = "version"
	CmdVerack     = "verack"
	CmdPing       = "ping"
	CmdPong       = "pong"
	CmdAddr       = "addr"
	CmdInv        = "inv"
	CmdGetData    = "getdata"
	CmdNotFound   = "notfound"
	CmdGetHeaders = "getheaders"
	CmdHeaders    = "headers"
	CmdGetBlocks  = "getblocks"
	CmdBlock      = "block"
	CmdTx         = "tx"
)

// MaxLocatorHashes and MaxInvEntries bound decode-side allocation so a
// hostile peer cannot request an unbounded one with a forged count.
const (
	MaxLocatorHashes = 128
	MaxInvEntries    = 50_000
	MaxHeadersPerMsg = 2_000
)

// NetAddr is the (services, IPv6-mapped address, port) triple embedded
// twice in a version message -- no timestamp field, matching the
// version-message-specific address encoding (unlike addr-message entries).
type NetAddr struct {
	Services uint64
	IP       [16]byte
	Port     uint16
}

func (a NetAddr) encode(w *wire.Writer) {
	w.U64(a.Services)
	w.Raw(a.IP[:])
	var portBuf [2]byte
	portBuf[0] = byte(a.Port >> 8)
	portBuf[1] = byte(a.Port)
	w.Raw(portBuf[:]) // port is big-endian on the wire, per the reference protocol
}

func decodeNetAddr(r *wire.Reader) (NetAddr, error) {
	var a NetAddr
	services, err := r.U64()
	if err != nil {
		return a, err
	}
	ip, err := r.Bytes(16)
	if err != nil {
		return a, err
	}
	portBytes, err := r.Bytes(2)
	if err != nil {
		return a, err
	}
	a.Services = services
	copy(a.IP[:], ip)
	a.Port = uint16(portBytes[0])<<8 | uint16(portBytes[1])
	return a, nil
}

// VersionMsg is the first message sent on connect: protocol version,
// services, timestamp, sender/receiver addresses, a random nonce, user
// agent, start height, and relay (always false for this node).
type VersionMsg struct {
	Version     int32
	Services    uint64
	Timestamp   int64
	AddrRecv    NetAddr
	AddrFrom    NetAddr
	Nonce       uint64
	UserAgent   string
	StartHeight int32
	Relay       bool
}

// Encode writes the version payload.
func (v VersionMsg) Encode() []byte {
	w := wire.NewWriter()
	w.I32(v.Version)
	w.U64(v.Services)
	w.I64(v.Timestamp)
	v.AddrRecv.encode(w)
	v.AddrFrom.encode(w)
	w.U64(v.Nonce)
	w.VarString(v.UserAgent)
	w.I32(v.StartHeight)
	w.Bool(v.Relay)
	return w.Bytes()
}

// DecodeVersionMsg reads a version payload.
func DecodeVersionMsg(payload []byte) (VersionMsg, error) {
	r := wire.NewReader(payload)
	var v VersionMsg
	var err error
	if v.Version, err = r.I32(); err != nil {
		return v, err
	}
	if v.Services, err = r.U64(); err != nil {
		return v, err
	}
	if v.Timestamp, err = r.I64(); err != nil {
		return v, err
	}
	if v.AddrRecv, err = decodeNetAddr(r); err != nil {
		return v, err
	}
	if v.AddrFrom, err = decodeNetAddr(r); err != nil {
		return v, err
	}
	if v.Nonce, err = r.U64(); err != nil {
		return v, err
	}
	if v.UserAgent, err = r.VarString(); err != nil {
		return v, err
	}
	if v.StartHeight, err = r.I32(); err != nil {
		return v, err
	}
	if v.Relay, err = r.Bool(); err != nil {
		return v, err
	}
	return v, nil
}

// Inventory vector types; values outside this set are an error.
const (
	InvTypeTx    uint32 = 1
	InvTypeBlock uint32 = 2
)

// InvVector names one piece of inventory by type and hash.
type InvVector struct {
	Type uint32
	Hash wire.Hash
}

func encodeInvVectors(w *wire.Writer, vecs []InvVector) {
	w.CompactSize(uint64(len(vecs)))
	for _, v := range vecs {
		w.U32(v.Type)
		w.Hash32(v.Hash)
	}
}

func decodeInvVectors(r *wire.Reader) ([]InvVector, error) {
	n, err := r.CompactSize()
	if err != nil {
		return nil, err
	}
	if n > MaxInvEntries {
		return nil, wireErr("inv entry count exceeds MaxInvEntries")
	}
	out := make([]InvVector, n)
	for i := range out {
		if out[i].Type, err = r.U32(); err != nil {
			return nil, err
		}
		if out[i].Type != InvTypeTx && out[i].Type != InvTypeBlock {
			return nil, wireErr("unknown inventory vector type")
		}
		if out[i].Hash, err = r.Hash32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EncodeInv encodes an inv/getdata/notfound payload (they share shape).
func EncodeInv(vecs []InvVector) []byte {
	w := wire.NewWriter()
	encodeInvVectors(w, vecs)
	return w.Bytes()
}

// DecodeInv decodes an inv/getdata/notfound payload.
func DecodeInv(payload []byte) ([]InvVector, error) {
	return decodeInvVectors(wire.NewReader(payload))
}

// GetHeadersMsg and GetBlocksMsg share the same (version, locator,
// hash_stop) shape.
type GetHeadersMsg struct {
	Version  uint32
	Locator  []wire.Hash
	HashStop wire.Hash
}

// Encode writes a getheaders/getblocks payload.
func (g GetHeadersMsg) Encode() []byte {
	w := wire.NewWriter()
	w.U32(g.Version)
	w.CompactSize(uint64(len(g.Locator)))
	for _, h := range g.Locator {
		w.Hash32(h)
	}
	w.Hash32(g.HashStop)
	return w.Bytes()
}

// DecodeGetHeadersMsg reads a getheaders/getblocks payload.
func DecodeGetHeadersMsg(payload []byte) (GetHeadersMsg, error) {
	r := wire.NewReader(payload)
	var g GetHeadersMsg
	var err error
	if g.Version, err = r.U32(); err != nil {
		return g, err
	}
	n, err := r.CompactSize()
	if err != nil {
		return g, err
	}
	if n > MaxLocatorHashes {
		return g, wireErr("locator hash count exceeds MaxLocatorHashes")
	}
	g.Locator = make([]wire.Hash, n)
	for i := range g.Locator {
		if g.Locator[i], err = r.Hash32(); err != nil {
			return g, err
		}
	}
	if g.HashStop, err = r.Hash32(); err != nil {
		return g, err
	}
	return g, nil
}

// EncodeHeaders writes a headers payload: count, then each header
// followed by a zero transaction count (the reference protocol's
// per-header txn_count, always 0 for a headers-only reply).
func EncodeHeaders(headers []chain.BlockHeader) []byte {
	w := wire.NewWriter()
	w.CompactSize(uint64(len(headers)))
	for _, h := range headers {
		h.Encode(w)
		w.CompactSize(0)
	}
	return w.Bytes()
}

// DecodeHeaders reads a headers payload.
func DecodeHeaders(payload []byte) ([]chain.BlockHeader, error) {
	r := wire.NewReader(payload)
	n, err := r.CompactSize()
	if err != nil {
		return nil, err
	}
	if n > MaxHeadersPerMsg {
		return nil, wireErr("headers count exceeds MaxHeadersPerMsg")
	}
	out := make([]chain.BlockHeader, n)
	for i := range out {
		if out[i], err = chain.DecodeHeader(r); err != nil {
			return nil, err
		}
		if _, err = r.CompactSize(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PingMsg/PongMsg carry a random nonce the responder must echo back.
type PingMsg struct {
	Nonce uint64
}

// Encode writes a ping/pong payload.
func (p PingMsg) Encode() []byte {
	w := wire.NewWriter()
	w.U64(p.Nonce)
	return w.Bytes()
}

// DecodePing reads a ping/pong payload.
func DecodePing(payload []byte) (PingMsg, error) {
	r := wire.NewReader(payload)
	n, err := r.U64()
	return PingMsg{Nonce: n}, err
}

func wireErr(msg string) error {
	return &wire.CodecError{Code: wire.ErrInvalidTag, Msg: msg}
}
