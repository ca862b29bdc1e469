// Package driver implements the synchronization state machine: a FIFO of
// pending actions (sync headers, sync the UTXO set, save to disk) that
// runs one to completion at a time, dropping into an idle loop when
// empty.
package driver

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"rubin.dev/spvnode/chain"
	"rubin.dev/spvnode/coinjoin"
	"rubin.dev/spvnode/p2p"
	"rubin.dev/spvnode/params"
	"rubin.dev/spvnode/store"
	"rubin.dev/spvnode/utxo"
	"rubin.dev/spvnode/wire"
)

// Consensus and sync constants.
const (
	UtxoSyncNBlocks       = 500
	BlockchainNFullBlocks = 100
	SaveFrequency         = 600 * time.Second
	ProtocolVersion       = 1
	minBackoff            = time.Second
	maxBackoff            = 60 * time.Second
)

type actionKind int

const (
	actionSyncBlockchain actionKind = iota
	actionSyncUtxoSet
	actionSaveToDisk
)

type action struct {
	kind  actionKind
	level utxo.ValidationLevel
}

// rpcCall is a single RPC request in flight from the RPC server task to
// the driver, answered between state steps.
type rpcCall struct {
	method string
	params map[string]any
	reply  chan rpcResult
}

type rpcResult struct {
	value any
	err   error
}

// Driver runs the single-peer synchronization state machine against one
// network. It owns the chain, UTXO set, peer socket, and coinjoin
// session; RPC handlers observe it through the IdleState accessors.
type Driver struct {
	logger *slog.Logger

	network    params.Network
	peerAddr   string
	userAgent  string
	startNonce uint64

	socket  *p2p.Socket
	magic   uint32
	backoff time.Duration

	chainPath string
	utxoPath  string
	undoLog   *store.UndoLog

	chain     *chain.HeaderChain
	utxo      *utxo.Set
	validator utxo.ScriptValidator
	session   coinjoin.Session

	incoming chan wire.Message
	rpcChan  chan rpcCall
	queue    []action
}

// Config gathers everything New needs to assemble a Driver.
type Config struct {
	Logger     *slog.Logger
	Network    params.Network
	PeerAddr   string
	UserAgent  string
	ChainPath  string
	UtxoPath   string
	UndoLog    *store.UndoLog
	Chain      *chain.HeaderChain
	Utxo       *utxo.Set
	Validator  utxo.ScriptValidator
	Coinjoin   coinjoin.Session
	RPCBacklog int
}

// New assembles a Driver from cfg, filling in defaults for anything the
// caller left zero.
func New(cfg Config) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	validator := cfg.Validator
	if validator == nil {
		validator = utxo.AcceptAllValidator{}
	}
	session := cfg.Coinjoin
	if session == nil {
		session = coinjoin.NewSession()
	}
	backlog := cfg.RPCBacklog
	if backlog <= 0 {
		backlog = 16
	}
	return &Driver{
		logger:     logger,
		network:    cfg.Network,
		peerAddr:   cfg.PeerAddr,
		userAgent:  cfg.UserAgent,
		startNonce: rand.Uint64(),
		magic:      cfg.Network.Magic,
		backoff:    minBackoff,
		chainPath:  cfg.ChainPath,
		utxoPath:   cfg.UtxoPath,
		undoLog:    cfg.UndoLog,
		chain:      cfg.Chain,
		utxo:       cfg.Utxo,
		validator:  validator,
		session:    session,
		incoming:   make(chan wire.Message, 64),
		rpcChan:    make(chan rpcCall, backlog),
	}
}

// Chain implements rpc.IdleState.
func (d *Driver) Chain() *chain.HeaderChain { return d.chain }

// Utxo implements rpc.IdleState.
func (d *Driver) Utxo() *utxo.Set { return d.utxo }

// Coinjoin implements rpc.IdleState.
func (d *Driver) Coinjoin() coinjoin.Session { return d.session }

// Call submits an RPC request to the driver and blocks for its reply.
// The RPC server task runs independently; this is the channel hop
// between it and the driver.
func (d *Driver) Call(ctx context.Context, method string, params map[string]any) (any, error) {
	reply := make(chan rpcResult, 1)
	select {
	case d.rpcChan <- rpcCall{method: method, params: params, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Driver) ourVersion() p2p.VersionMsg {
	return p2p.VersionMsg{
		Version:     ProtocolVersion,
		Services:    0,
		Timestamp:   time.Now().Unix(),
		Nonce:       d.startNonce,
		UserAgent:   d.userAgent,
		StartHeight: int32(d.chain.Height()),
		Relay:       false,
	}
}

// Connect dials the peer and performs the initial handshake.
func (d *Driver) Connect(ctx context.Context) error {
	sock, err := p2p.Dial(ctx, d.peerAddr, d.magic, d.logger)
	if err != nil {
		return err
	}
	if err := sock.Handshake(d.ourVersion()); err != nil {
		_ = sock.Close()
		return err
	}
	d.socket = sock
	go sock.ReadLoop(ctx, d.incoming)
	d.backoff = minBackoff
	return nil
}

// Run drives the state machine until ctx is cancelled. It seeds the
// initial queue with a full sync: headers, then UTXOs, then a save.
func (d *Driver) Run(ctx context.Context) error {
	d.queue = append(d.queue,
		action{kind: actionSyncBlockchain},
		action{kind: actionSyncUtxoSet, level: utxo.TxoValidation},
		action{kind: actionSaveToDisk},
	)

	saveTicker := time.NewTicker(SaveFrequency)
	defer saveTicker.Stop()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if len(d.queue) == 0 {
			if err := d.idle(ctx, saveTicker); err != nil {
				if err == errConnFailed {
					d.reconnect(ctx)
					continue
				}
				return err
			}
			continue
		}

		act := d.queue[0]
		d.queue = d.queue[1:]

		var err error
		switch act.kind {
		case actionSyncBlockchain:
			err = d.syncBlockchain(ctx)
		case actionSyncUtxoSet:
			err = d.syncUtxoSet(ctx, act.level)
		case actionSaveToDisk:
			err = d.saveToDisk()
		}
		if err == nil {
			continue
		}
		if err == errConnFailed {
			d.reconnect(ctx)
			// A reconnect counts as a sync failure too: the peer's
			// header chain may have advanced while we were away, so
			// resynchronize headers before resuming.
			d.queue = append([]action{
				{kind: actionSyncBlockchain},
				{kind: actionSyncUtxoSet, level: act.level},
			}, d.queue...)
			continue
		}
		d.logger.Warn("driver: sync action failed, retrying", "err", err)
		d.queue = append([]action{
			{kind: actionSyncBlockchain},
			{kind: actionSyncUtxoSet, level: act.level},
		}, d.queue...)
	}
}

func (d *Driver) idle(ctx context.Context, saveTicker *time.Ticker) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case msg, ok := <-d.incoming:
		if !ok {
			return errConnClosed
		}
		if msg.Command == p2p.CmdConnectionFailed {
			return errConnFailed
		}
		d.handleMessage(msg)
		return nil
	case <-saveTicker.C:
		d.queue = append(d.queue,
			action{kind: actionSyncBlockchain},
			action{kind: actionSyncUtxoSet, level: utxo.TxoValidation},
			action{kind: actionSaveToDisk},
		)
		return nil
	case call := <-d.rpcChan:
		value, err := d.dispatchRPC(call.method, call.params)
		call.reply <- rpcResult{value: value, err: err}
		return nil
	}
}

// saveToDisk snapshots the chain and UTXO set. A disk write failure is
// logged, not fatal: the node keeps serving from memory.
func (d *Driver) saveToDisk() error {
	if err := store.SaveChain(d.chainPath, d.chain); err != nil {
		d.logger.Error("driver: save chain failed", "err", err)
	}
	if err := store.SaveUtxoSet(d.utxoPath, d.utxo); err != nil {
		d.logger.Error("driver: save utxo set failed", "err", err)
	}
	return nil
}

// reconnect closes the current socket and retries the connection with
// exponential backoff, doubling to a 60s ceiling and resetting after a
// successful handshake. The action queue is left untouched: it survives
// reconnects.
func (d *Driver) reconnect(ctx context.Context) {
	if d.socket != nil {
		_ = d.socket.Close()
		d.socket = nil
	}
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.backoff):
		}

		d.logger.Warn("driver: reconnecting", "peer", d.peerAddr, "backoff", d.backoff)
		sock, err := p2p.Dial(ctx, d.peerAddr, d.magic, d.logger)
		if err != nil {
			d.backoff = nextBackoff(d.backoff)
			continue
		}
		if err := sock.Handshake(d.ourVersion()); err != nil {
			_ = sock.Close()
			d.backoff = nextBackoff(d.backoff)
			continue
		}
		d.incoming = make(chan wire.Message, 64)
		d.socket = sock
		go sock.ReadLoop(ctx, d.incoming)
		d.backoff = minBackoff
		return
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
