package listener

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"

	"netthrpt/internal/flow"
	"netthrpt/internal/report"
)

// peekBufSize is large enough to hold the largest settings header this
// codec ever parses (base + extend + isoch + start-time + a permit key).
const peekBufSize = 4096

// runDatagram implements the datagram accept loop: each iteration peeks the
// next first packet without consuming it (MSG_PEEK), learns the sender, and
// either drops a retransmit of an already-known flow or "steals" the
// listening socket for the new peer by dialing a specifically-connected
// socket to it. The kernel then routes only that peer's further datagrams
// to the new socket while the original listening socket (still bound,
// unconnected) continues to receive other peers' first packets. This
// achieves fd-hand-off-like behavior without Go needing to tear down and
// recreate the listening socket on every iteration.
func (e *Engine) runDatagram(ctx context.Context, pc net.PacketConn, endTime time.Time) error {
	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if !endTime.IsZero() && time.Now().After(endTime) {
			return nil
		}
		if (e.SingleClient || e.Multicast) && e.trafficLive() {
			time.Sleep(pollInterval)
			continue
		}

		peer, buf, err := peekDatagramSender(udpConn, e.TimeLimit)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return err
		}

		e.handleDatagramFirstPacket(ctx, udpConn, peer, buf)
	}
}

// peekDatagramSender peeks one datagram's sender address and payload
// without consuming it from the socket.
func peekDatagramSender(conn *net.UDPConn, timeLimit time.Duration) (netip.AddrPort, []byte, error) {
	deadline := time.Now().Add(pollInterval)
	if timeLimit > 0 && timeLimit < pollInterval {
		deadline = time.Now().Add(timeLimit)
	}
	conn.SetReadDeadline(deadline)

	raw, err := conn.SyscallConn()
	if err != nil {
		return netip.AddrPort{}, nil, err
	}

	buf := make([]byte, peekBufSize)
	var n int
	var from unix.Sockaddr
	var opErr error
	err = raw.Read(func(fd uintptr) bool {
		n, from, opErr = unix.Recvfrom(int(fd), buf, unix.MSG_PEEK)
		if opErr == unix.EAGAIN {
			return false
		}
		return true
	})
	if err != nil {
		return netip.AddrPort{}, nil, err
	}
	if opErr != nil {
		return netip.AddrPort{}, nil, opErr
	}

	peer := sockaddrToAddrPort(from)
	return peer, buf[:n], nil
}

// sockaddrToAddrPort converts a unix.Sockaddr from Recvfrom into a
// netip.AddrPort for use as a flow.Key component.
func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port))
	default:
		return netip.AddrPort{}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// drainDatagram consumes the already-peeked first datagram from the shared
// listening socket with a real (non-MSG_PEEK) recvfrom. MSG_PEEK never
// advances a UDP socket's receive queue, so without this the peer's first
// packet would stay stuck at the head of the queue forever, and no later
// peer's first packet could ever be observed.
func drainDatagram(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	buf := make([]byte, peekBufSize)
	var opErr error
	err = raw.Read(func(fd uintptr) bool {
		_, _, opErr = unix.Recvfrom(int(fd), buf, 0)
		if opErr == unix.EAGAIN {
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return opErr
}

// handleDatagramFirstPacket applies a conditional flow-table insert to dedup
// a retransmitted first packet, and for a genuinely new peer, dials a
// connected socket to it and runs the handshake/reject/dispatch sequence
// against that socket.
func (e *Engine) handleDatagramFirstPacket(ctx context.Context, listening *net.UDPConn, peer netip.AddrPort, firstPacket []byte) {
	local, _ := netip.ParseAddrPort(listening.LocalAddr().String())

	probe := flow.Settings{Proto: flow.Datagram, Local: local, Peer: peer}
	if e.Table.PushConditional(probe) == flow.Duplicate {
		return
	}

	// The peer is genuinely new: drain its first packet off the shared
	// listening socket now, unconditionally of whatever happens next, so a
	// rejected or failed handshake still frees the queue for the next peer.
	if err := drainDatagram(listening); err != nil {
		e.Table.Remove(probe)
		return
	}

	if peer.Addr().Is6() && !e.V6 {
		e.Table.Remove(probe)
		return
	}

	conn, err := dialConnectedUDP(local, peer)
	if err != nil {
		e.Table.Remove(probe)
		return
	}

	s := flow.Settings{JobID: newJobID(), Proto: flow.Datagram, Role: flow.RoleServer, Local: local, Peer: peer}

	br := bufio.NewReaderSize(bytes.NewReader(firstPacket), len(firstPacket))
	_, applyErr, rejected := applyClientSettings(br, &s, e.PermitKey)
	if applyErr != nil || rejected {
		e.postReport(report.ConnectionReport{
			JobID: s.JobID, Local: s.Local.String(), Peer: s.Peer.String(),
			Connected: false, Reason: rejectReason(applyErr, rejected), At: time.Now(),
		})
		e.Table.Remove(probe)
		conn.Close()
		return
	}

	e.Table.Remove(probe)
	e.Table.Push(s)

	e.postReport(report.ConnectionReport{
		JobID: s.JobID, Local: s.Local.String(), Peer: s.Peer.String(),
		Connected: true, At: time.Now(),
	})

	e.dispatch(ctx, s, conn)
}
