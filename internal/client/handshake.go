package client

import (
	"bufio"
	"context"
	"math/rand"
	"time"

	"netthrpt/internal/flow"
	"netthrpt/internal/wire"
)

// reverseRetries and reverseRetryMaxJitter implement the reverse-datagram
// probe: the client that will receive (not send) data sends its settings
// header this many times, spaced by a random jitter. The probe does not
// watch for the listener's reply, so every attempt is sent unless a write
// fails or ctx ends first.
const (
	reverseRetries       = 100
	reverseRetryMaxJitter = 20 * time.Millisecond
)

// sendFirstPayload writes the flow's settings header (and, for the reverse
// datagram case, retries it) and reads back the server's ack when one is
// expected.
func (c *Client) sendFirstPayload(ctx context.Context) error {
	h := c.Settings.ToHeader()
	encoded := wire.Encode(h)

	if c.Settings.Proto == flow.Datagram && c.Settings.Features.Reverse {
		return c.sendFirstPayloadReverseDatagram(ctx, encoded)
	}

	if err := c.writeAll(encoded); err != nil {
		return err
	}

	return c.maybeReadAck()
}

// sendFirstPayloadReverseDatagram sends the header reverseRetries times
// with a random 0-20ms gap, since the reverse direction has no
// stream-level delivery guarantee. It reads nothing back: a reply from the
// listener does not end the loop early.
func (c *Client) sendFirstPayloadReverseDatagram(ctx context.Context, encoded []byte) error {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 0; attempt < reverseRetries; attempt++ {
		if err := c.writeAll(encoded); err != nil {
			return err
		}
		jitter := time.Duration(rnd.Int63n(int64(reverseRetryMaxJitter) + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter):
		}
	}
	return nil
}

func (c *Client) writeAll(buf []byte) error {
	c.Conn.SetWriteDeadline(time.Now().Add(firstExchangeTimeout))
	_, err := c.Conn.Write(buf)
	c.Conn.SetWriteDeadline(time.Time{})
	return err
}

// maybeReadAck reads the server's 20-byte ack when PeerVersionDetect was
// requested, recording the peer's protocol version. Absence of the feature
// means no ack is expected and none is read.
func (c *Client) maybeReadAck() error {
	if !c.Settings.Features.PeerVersionDetect || c.Settings.Proto != flow.Stream {
		return nil
	}

	br := bufio.NewReaderSize(c.Conn, wire.AckLen)
	c.Conn.SetReadDeadline(time.Now().Add(firstExchangeTimeout))
	buf := make([]byte, wire.AckLen)
	_, err := br.Read(buf)
	c.Conn.SetReadDeadline(time.Time{})
	if err != nil {
		return nil // absence of an ack is tolerated
	}

	ack, err := wire.DecodeAck(buf)
	if err != nil {
		return nil
	}
	c.Settings.PeerVersionU = uint32(ack.VersionU)
	c.Settings.PeerVersionL = uint32(ack.VersionL)
	return nil
}
