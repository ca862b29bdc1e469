package p2p

import (
	"context"
	"net"
	"testing"
	"time"

	"rubin.dev/spvnode/wire"
)

const testMagic = 0xd9b4bef9

func peerVersion() VersionMsg {
	return VersionMsg{
		Version:     1,
		Timestamp:   1700000000,
		Nonce:       42,
		UserAgent:   "/peer:0.0.1/",
		StartHeight: 100,
	}
}

// scriptedPeer plays the remote side of a handshake over a pipe: it reads
// our version, replies with its own version plus verack, and acks ours.
func scriptedPeer(t *testing.T, conn net.Conn, interleavePing bool) {
	t.Helper()
	msg, rerr := wire.ReadMessage(conn, testMagic)
	if rerr != nil {
		t.Errorf("peer: read version: %v", rerr)
		return
	}
	if msg.Command != CmdVersion {
		t.Errorf("peer: expected version first, got %q", msg.Command)
		return
	}

	// net.Pipe is unbuffered, so drain the client's verack/pong replies
	// concurrently while we write; otherwise both sides block on a write.
	go func() {
		for {
			if _, rerr := wire.ReadMessage(conn, testMagic); rerr != nil {
				return
			}
		}
	}()

	if interleavePing {
		_ = wire.WriteMessage(conn, testMagic, CmdPing, PingMsg{Nonce: 7}.Encode())
	}
	_ = wire.WriteMessage(conn, testMagic, CmdVersion, peerVersion().Encode())
	_ = wire.WriteMessage(conn, testMagic, CmdVerack, nil)
}

func TestHandshakeCompletes(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go scriptedPeer(t, server, false)

	sock := NewSocket(client, testMagic, nil)
	if err := sock.Handshake(VersionMsg{Version: 1, UserAgent: "/spvnode:0.1.0/"}); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if got := sock.PeerVersion(); got.UserAgent != "/peer:0.0.1/" || got.StartHeight != 100 {
		t.Fatalf("unexpected peer version: %+v", got)
	}
}

func TestHandshakeToleratesInterleavedPing(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go scriptedPeer(t, server, true)

	sock := NewSocket(client, testMagic, nil)
	if err := sock.Handshake(VersionMsg{Version: 1}); err != nil {
		t.Fatalf("handshake with interleaved ping: %v", err)
	}
}

func TestHandshakeRejectsWrongMagic(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		// Swallow our version, then answer on a different network's magic.
		if _, rerr := wire.ReadMessage(server, testMagic); rerr != nil {
			return
		}
		_ = wire.WriteMessage(server, 0x0709110b, CmdVersion, peerVersion().Encode())
	}()

	sock := NewSocket(client, testMagic, nil)
	if err := sock.Handshake(VersionMsg{Version: 1}); err == nil {
		t.Fatal("expected handshake failure on magic mismatch")
	}
}

func TestReadLoopEmitsConnectionFailedSentinel(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sock := NewSocket(client, testMagic, nil)
	out := make(chan wire.Message, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sock.ReadLoop(ctx, out)

	_ = wire.WriteMessage(server, testMagic, CmdPing, PingMsg{Nonce: 1}.Encode())
	select {
	case msg := <-out:
		if msg.Command != CmdPing {
			t.Fatalf("expected ping, got %q", msg.Command)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for relayed message")
	}

	server.Close()
	select {
	case msg := <-out:
		if msg.Command != CmdConnectionFailed {
			t.Fatalf("expected connection-failed sentinel, got %q", msg.Command)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connection-failed sentinel")
	}
}
