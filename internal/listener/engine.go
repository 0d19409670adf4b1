// Package listener implements the Listener Engine: bind/listen, the accept
// loop (stream and datagram), handshake application, reject conditions, and
// dispatch to the Server worker and any paired reverse/full-duplex Client.
package listener

import (
	"context"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"netthrpt/internal/flow"
	"netthrpt/internal/report"
	"netthrpt/internal/sockopt"
)

// pollInterval is the serialisation-by-sleep period used when single-client
// or multicast mode finds a traffic thread already live.
const pollInterval = 50 * time.Millisecond

// Server is the receive-loop seam a spawned flow is handed to once its
// handshake succeeds; internal/server supplies the concrete implementation.
type Server interface {
	Run(ctx context.Context) error
}

// ServerFactory builds a Server for a newly-accepted, handshaken flow.
type ServerFactory func(s flow.Settings, conn net.Conn) Server

// ClientFactory builds and runs the paired reverse/full-duplex Client for a
// flow whose handshake requested it.
type ClientFactory func(ctx context.Context, s flow.Settings, conn net.Conn) error

// Engine runs one Listener: one bound socket, one accept loop, dispatching
// accepted flows to Servers (and, where the handshake calls for it, paired
// Clients).
type Engine struct {
	Proto flow.Proto
	Addr  netip.AddrPort
	V6    bool

	SingleClient bool
	Multicast    bool
	PermitKey    string
	TimeLimit    time.Duration // 0 means unbounded
	NumThreads   int

	Table             *flow.Table
	ServerFactory     ServerFactory
	ClientFactory     ClientFactory
	ConnectionReports func(report.ConnectionReport)

	activeTraffic int32 // process-wide traffic-thread counter
}

// postReport hands a connection report to the configured sink, if any.
func (e *Engine) postReport(r report.ConnectionReport) {
	if e.ConnectionReports != nil {
		e.ConnectionReports(r)
	}
}

// traffic tracks live traffic threads so the single-client/multicast
// serialisation check can test "any traffic thread is live" without a
// condition variable, by polling on a sleep interval instead.
func (e *Engine) trafficStarted() { atomic.AddInt32(&e.activeTraffic, 1) }
func (e *Engine) trafficEnded()   { atomic.AddInt32(&e.activeTraffic, -1) }
func (e *Engine) trafficLive() bool {
	return atomic.LoadInt32(&e.activeTraffic) > 0
}

// Run binds the listener and enters the accept loop appropriate to the
// flow's protocol, returning when ctx is cancelled or the time limit
// elapses.
func (e *Engine) Run(ctx context.Context) error {
	if e.Table == nil {
		e.Table = flow.NewTable()
	}

	network := "tcp4"
	if e.V6 {
		network = "tcp6"
	}
	if e.Proto == flow.Datagram {
		network = "udp4"
		if e.V6 {
			network = "udp6"
		}
	}

	endTime := time.Time{}
	if e.TimeLimit > 0 {
		endTime = time.Now().Add(e.TimeLimit)
	}

	if e.Proto == flow.Datagram {
		conn, err := sockopt.ListenPacket(ctx, network, e.Addr.String())
		if err != nil {
			return err
		}
		defer conn.Close()
		return e.runDatagram(ctx, conn, endTime)
	}

	ln, err := sockopt.Listen(ctx, network, e.Addr.String())
	if err != nil {
		return err
	}
	defer ln.Close()
	return e.runStream(ctx, ln, endTime)
}

// newJobID mints a correlation id for a freshly accepted flow, used by the
// connection report and the Packet Record Ring.
func newJobID() uuid.UUID { return uuid.New() }
