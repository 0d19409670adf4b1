package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"netthrpt/internal/flow"
)

// connectBackoff is the delay between failed stream connect attempts.
const connectBackoff = 200 * time.Millisecond

// firstExchangeTimeout is the send timeout applied while exchanging the
// settings header and connection reports.
const firstExchangeTimeout = 4 * time.Second

func network(s flow.Settings) string {
	proto := "tcp"
	if s.Proto == flow.Datagram {
		proto = "udp"
	}
	if s.Features.V6 {
		proto += "6"
	} else {
		proto += "4"
	}
	return proto
}

// Connect dials the peer: for a stream flow it retries up to
// ConnectRetries+1 times with a fixed backoff; for a datagram flow it
// associates the peer via Dial for send-path simplicity. It returns the
// established connection and the time the successful connect attempt
// took.
func Connect(ctx context.Context, s flow.Settings) (net.Conn, time.Duration, error) {
	dialer := net.Dialer{}
	if s.Local.IsValid() {
		if s.Proto == flow.Stream {
			dialer.LocalAddr = net.TCPAddrFromAddrPort(s.Local)
		} else {
			dialer.LocalAddr = net.UDPAddrFromAddrPort(s.Local)
		}
	}

	attempts := 1
	if s.Proto == flow.Stream {
		attempts = s.ConnectRetries + 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(connectBackoff):
			}
		}

		start := time.Now()
		conn, err := dialer.DialContext(ctx, network(s), s.Peer.String())
		elapsed := time.Since(start)
		if err == nil {
			return conn, elapsed, nil
		}
		lastErr = err
	}
	return nil, 0, fmt.Errorf("client: connect to %s after %d attempt(s): %w", s.Peer, attempts, lastErr)
}

// ConnectPeriodicReport summarises a connect-only measurement run: a
// standalone connect/teardown loop used to characterise connection-setup
// cost independent of a data test.
type ConnectPeriodicReport struct {
	Attempts int
	Failures int
	Min, Max, Total time.Duration
}

// ConnectPeriodic repeatedly connects and immediately tears down, Count
// times, spaced by Period.
func ConnectPeriodic(ctx context.Context, s flow.Settings) (ConnectPeriodicReport, error) {
	var rep ConnectPeriodicReport
	count := s.ConnectOnlyCount
	if count <= 0 {
		count = 1
	}

	for i := 0; i < count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return rep, ctx.Err()
			case <-time.After(s.ConnectOnlyPeriod):
			}
		}
		conn, elapsed, err := Connect(ctx, s)
		rep.Attempts++
		if err != nil {
			rep.Failures++
			continue
		}
		conn.Close()
		rep.Total += elapsed
		if rep.Min == 0 || elapsed < rep.Min {
			rep.Min = elapsed
		}
		if elapsed > rep.Max {
			rep.Max = elapsed
		}
	}
	return rep, nil
}
