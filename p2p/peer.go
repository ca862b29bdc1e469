package p2p

import (
	"context"
	"log/slog"
	"net"
	"time"

	"rubin.dev/spvnode/wire"
)

// CmdConnectionFailed is the sentinel command ReadLoop pushes onto its
// output channel when the read side fails, telling the driver to
// reconnect.
const CmdConnectionFailed = "__connection_failed"

// Socket is a single outbound TCP connection to the node's one remote
// peer. It is a typed-message channel in both directions: Send writes a
// framed message, ReadLoop pushes decoded frames onto a channel for the
// driver to consume.
type Socket struct {
	conn    net.Conn
	magic   uint32
	logger  *slog.Logger
	version VersionMsg
}

// NewSocket wraps an already-established connection.
func NewSocket(conn net.Conn, magic uint32, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	return &Socket{conn: conn, magic: magic, logger: logger}
}

// Dial opens a TCP connection to addr.
func Dial(ctx context.Context, addr string, magic uint32, logger *slog.Logger) (*Socket, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewSocket(conn, magic, logger), nil
}

// Close closes the underlying connection.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// Send frames and writes one message.
func (s *Socket) Send(command string, payload []byte) error {
	return wire.WriteMessage(s.conn, s.magic, command, payload)
}

// Handshake performs the version/verack exchange: send our version,
// then loop reading frames (replying pong to any interspersed ping)
// until we have observed both the peer's version and its verack.
func (s *Socket) Handshake(ourVersion VersionMsg) error {
	if err := s.Send(CmdVersion, ourVersion.Encode()); err != nil {
		return err
	}

	var gotVersion, gotVerack bool
	for !gotVersion || !gotVerack {
		msg, rerr := wire.ReadMessage(s.conn, s.magic)
		if rerr != nil {
			return rerr
		}
		switch msg.Command {
		case CmdVersion:
			v, err := DecodeVersionMsg(msg.Payload)
			if err != nil {
				return err
			}
			s.version = v
			gotVersion = true
			if err := s.Send(CmdVerack, nil); err != nil {
				return err
			}
		case CmdVerack:
			gotVerack = true
		case CmdPing:
			p, err := DecodePing(msg.Payload)
			if err == nil {
				_ = s.Send(CmdPong, PingMsg{Nonce: p.Nonce}.Encode())
			}
		default:
			s.logger.Debug("p2p: ignoring message during handshake", "command", msg.Command)
		}
	}
	return nil
}

// PeerVersion returns the peer's version payload, valid after Handshake.
func (s *Socket) PeerVersion() VersionMsg {
	return s.version
}

// ReadLoop reads frames until ctx is cancelled or a read fails, pushing
// each onto out. A read failure pushes a single CmdConnectionFailed
// envelope and returns; the driver is responsible for reconnecting. out
// is never closed by ReadLoop; the caller owns its lifetime.
func (s *Socket) ReadLoop(ctx context.Context, out chan<- wire.Message) {
	for {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
		msg, rerr := wire.ReadMessage(s.conn, s.magic)
		if rerr != nil {
			s.logger.Warn("p2p: read failed, connection ending", "err", rerr.Err)
			select {
			case out <- wire.Message{Command: CmdConnectionFailed}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- *msg:
		case <-ctx.Done():
			return
		}
	}
}

// SetDeadline applies a read/write deadline to the underlying connection.
// The driver does not call it; its waits for a message have no deadline.
func (s *Socket) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}
