package client

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"netthrpt/internal/flow"
	"netthrpt/internal/wire"
)

func TestSendFirstPayloadWritesSettingsHeader(t *testing.T) {
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	c := New(flow.Settings{Proto: flow.Stream, BufLen: 2048}, conn, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- c.sendFirstPayload(context.Background()) }()

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	br := bufio.NewReader(peer)
	h, err := wire.Parse(br)
	if err != nil {
		t.Fatalf("parsing settings header: %v", err)
	}
	if h.Base.BufLen != 2048 {
		t.Fatalf("expected BufLen 2048 in the header, got %d", h.Base.BufLen)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("sendFirstPayload: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sendFirstPayload did not return")
	}
}

func TestMaybeReadAckRecordsPeerVersion(t *testing.T) {
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	c := New(flow.Settings{Proto: flow.Stream, Features: flow.Features{PeerVersionDetect: true}}, conn, nil)

	go func() {
		ack := wire.NewAck(2, 1)
		peer.Write(ack.Encode())
	}()

	if err := c.maybeReadAck(); err != nil {
		t.Fatalf("maybeReadAck: %v", err)
	}
	if c.Settings.PeerVersionU != 2 || c.Settings.PeerVersionL != 1 {
		t.Fatalf("expected peer version 2.1, got %d.%d", c.Settings.PeerVersionU, c.Settings.PeerVersionL)
	}
}

func TestMaybeReadAckSkippedWithoutPeerVersionDetect(t *testing.T) {
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	c := New(flow.Settings{Proto: flow.Stream}, conn, nil)

	if err := c.maybeReadAck(); err != nil {
		t.Fatalf("expected a nil error when no ack is expected, got %v", err)
	}
	if c.Settings.PeerVersionU != 0 {
		t.Fatalf("expected no version recorded, got %d", c.Settings.PeerVersionU)
	}
}

func TestMaybeReadAckToleratesAbsence(t *testing.T) {
	conn, peer := net.Pipe()
	defer conn.Close()

	c := New(flow.Settings{Proto: flow.Stream, Features: flow.Features{PeerVersionDetect: true}}, conn, nil)

	go peer.Close()

	if err := c.maybeReadAck(); err != nil {
		t.Fatalf("expected ack absence to be tolerated, got %v", err)
	}
}
