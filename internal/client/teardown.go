package client

import (
	"context"
	"net"
	"time"

	"netthrpt/internal/flow"
	"netthrpt/internal/record"
)

// finAckRetries and finAckSpacing implement the datagram FIN handshake:
// after the terminator datagram, the client waits for the listener's own
// close/FIN reply, resending its terminator if none arrives.
const (
	finAckRetries = 200
	finAckSpacing = 10 * time.Millisecond
)

// finishTrafficActions winds a flow down: a stream flow half-closes its
// write side and waits for the peer to close in turn; a datagram flow
// resends its terminator until the listener acknowledges or the retry
// budget is spent.
func (c *Client) finishTrafficActions(ctx context.Context) error {
	if c.Settings.Proto == flow.Datagram {
		return c.awaitDatagramFin(ctx)
	}
	return c.awaitServerClose(ctx)
}

// awaitServerClose half-closes the write side (when supported) and reads
// until the peer closes or the read times out, discarding any bytes seen: a
// stream client has nothing further to say once its byte/time budget is
// spent.
func (c *Client) awaitServerClose(ctx context.Context) error {
	type halfCloser interface {
		CloseWrite() error
	}
	if hc, ok := c.Conn.(halfCloser); ok {
		hc.CloseWrite()
	}

	buf := make([]byte, 4096)
	deadline := time.Now().Add(firstExchangeTimeout)
	c.Conn.SetReadDeadline(deadline)
	defer c.Conn.SetReadDeadline(time.Time{})

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		_, err := c.Conn.Read(buf)
		if err != nil {
			c.peerClosed = true
			return nil
		}
	}
}

// awaitDatagramFin resends the negated-id terminator every finAckSpacing
// until a reply is read on the (connected) socket or finAckRetries is
// exhausted: a bounded best-effort close rather than an indefinite wait.
// Ending the job is a distinct step from emitting the terminating datagram,
// so exactly one record with the negated packet id is pushed here, once,
// regardless of how many times sendDatagramTerminator retries the write.
func (c *Client) awaitDatagramFin(ctx context.Context) error {
	defer c.pushRecord(record.Record{
		JobID:      c.Settings.JobID,
		PacketID:   -c.packetID,
		PacketTime: time.Now(),
	})

	if c.Settings.Features.NoUDPFin {
		return nil
	}

	buf := make([]byte, 64)
	for attempt := 0; attempt < finAckRetries; attempt++ {
		if err := c.sendDatagramTerminator(); err != nil {
			return nil
		}

		c.Conn.SetReadDeadline(time.Now().Add(finAckSpacing))
		_, err := c.Conn.Read(buf)
		c.Conn.SetReadDeadline(time.Time{})
		if err == nil {
			return nil
		}
		if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
	return nil
}
