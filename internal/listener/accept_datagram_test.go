package listener

import (
	"context"
	"errors"
	"net"
	"testing"

	"golang.org/x/sys/unix"

	"netthrpt/internal/flow"
	"netthrpt/internal/sockopt"
	"netthrpt/internal/wire"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

func TestSockaddrToAddrPortInet4(t *testing.T) {
	sa := &unix.SockaddrInet4{Port: 5001, Addr: [4]byte{192, 0, 2, 1}}
	ap := sockaddrToAddrPort(sa)
	if ap.Addr().String() != "192.0.2.1" || ap.Port() != 5001 {
		t.Fatalf("expected 192.0.2.1:5001, got %s", ap)
	}
}

func TestSockaddrToAddrPortInet6(t *testing.T) {
	sa := &unix.SockaddrInet6{Port: 6000, Addr: [16]byte{0: 0x20, 1: 0x01, 15: 1}}
	ap := sockaddrToAddrPort(sa)
	if !ap.Addr().Is6() || ap.Port() != 6000 {
		t.Fatalf("expected an IPv6 address on port 6000, got %s", ap)
	}
}

func TestSockaddrToAddrPortUnknownTypeZeroValue(t *testing.T) {
	ap := sockaddrToAddrPort(&unix.SockaddrUnix{Name: "/tmp/x"})
	if ap.IsValid() {
		t.Fatalf("expected a zero AddrPort for an unrecognised sockaddr type, got %s", ap)
	}
}

func TestIsTimeoutDetectsNetTimeoutErrors(t *testing.T) {
	if isTimeout(errors.New("plain error")) {
		t.Fatal("expected a plain error not to be classified as a timeout")
	}
	if !isTimeout(fakeTimeoutErr{}) {
		t.Fatal("expected a net.Error with Timeout()==true to be classified as a timeout")
	}
}

func TestDrainDatagramAdvancesQueuePastPeekedPacket(t *testing.T) {
	server, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer server.Close()

	client, err := net.DialUDP("udp4", nil, server.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("first")); err != nil {
		t.Fatalf("writing first packet: %v", err)
	}

	peer, buf, err := peekDatagramSender(server, 0)
	if err != nil {
		t.Fatalf("peekDatagramSender: %v", err)
	}
	if string(buf) != "first" {
		t.Fatalf("expected to peek %q, got %q", "first", buf)
	}
	if peer.Port() == 0 {
		t.Fatal("expected a non-zero peer port from the peek")
	}

	// Peeking again without draining must return the same stuck packet.
	_, buf2, err := peekDatagramSender(server, 0)
	if err != nil {
		t.Fatalf("second peekDatagramSender: %v", err)
	}
	if string(buf2) != "first" {
		t.Fatalf("expected MSG_PEEK to leave the packet queued, got %q", buf2)
	}

	if err := drainDatagram(server); err != nil {
		t.Fatalf("drainDatagram: %v", err)
	}

	if _, err := client.Write([]byte("second")); err != nil {
		t.Fatalf("writing second packet: %v", err)
	}

	_, buf3, err := peekDatagramSender(server, 0)
	if err != nil {
		t.Fatalf("peekDatagramSender after drain: %v", err)
	}
	if string(buf3) != "second" {
		t.Fatalf("expected the queue to have advanced to %q, got %q", "second", buf3)
	}
}

func TestHandleDatagramFirstPacketAcceptsTwoConcurrentPeers(t *testing.T) {
	// dialConnectedUDP shares the listening socket's local port via
	// SO_REUSEPORT, which on Linux requires every socket bound to that
	// address to have set the option, so the listening socket itself must
	// go through sockopt.ListenPacket rather than a plain net.ListenUDP.
	pc, err := sockopt.ListenPacket(context.Background(), "udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	server := pc.(*net.UDPConn)
	defer server.Close()

	clientA, err := net.DialUDP("udp4", nil, server.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP clientA: %v", err)
	}
	defer clientA.Close()
	clientB, err := net.DialUDP("udp4", nil, server.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP clientB: %v", err)
	}
	defer clientB.Close()

	headerA := wire.Encode(flow.Settings{BufLen: 1024}.ToHeader())
	headerB := wire.Encode(flow.Settings{BufLen: 1024}.ToHeader())
	if _, err := clientA.Write(headerA); err != nil {
		t.Fatalf("clientA write: %v", err)
	}

	// ServerFactory blocks on ctx until the test ends, so dispatch's
	// Table.Remove doesn't race the Len() assertion below.
	e := &Engine{
		Table:         flow.NewTable(),
		ServerFactory: func(s flow.Settings, c net.Conn) Server { return &fakeServer{started: make(chan struct{})} },
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	peerA, bufA, err := peekDatagramSender(server, 0)
	if err != nil {
		t.Fatalf("peeking clientA's first packet: %v", err)
	}
	e.handleDatagramFirstPacket(ctx, server, peerA, bufA)

	if _, err := clientB.Write(headerB); err != nil {
		t.Fatalf("clientB write: %v", err)
	}

	peerB, bufB, err := peekDatagramSender(server, 0)
	if err != nil {
		t.Fatalf("peeking clientB's first packet: %v", err)
	}
	if peerB == peerA {
		t.Fatal("expected clientB's peer address to differ from clientA's")
	}
	e.handleDatagramFirstPacket(ctx, server, peerB, bufB)

	if got := e.Table.Len(); got != 2 {
		t.Fatalf("expected two flow table entries for two concurrent peers, got %d", got)
	}
}
