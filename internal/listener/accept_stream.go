package listener

import (
	"bufio"
	"context"
	"net"
	"net/netip"
	"time"

	"netthrpt/internal/flow"
	"netthrpt/internal/report"
)

// runStream implements the stream accept loop: bind, loop, accept,
// per-connection handshake.
func (e *Engine) runStream(ctx context.Context, ln net.Listener, endTime time.Time) error {
	type tcpListener interface {
		SetDeadline(time.Time) error
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

		if tl, ok := ln.(tcpListener); ok && (e.TimeLimit > 0 || e.PermitKey != "") {
			deadline := time.Now().Add(pollInterval)
			if !endTime.IsZero() && endTime.Before(deadline) {
				deadline = endTime
			}
			tl.SetDeadline(deadline)
		}

		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}

		go e.handleStreamConn(ctx, conn)
	}
}

// handleStreamConn applies the handshake, rejects on a bad permit key or a
// duplicate flow, and dispatches the Server (and, if requested, paired
// Client) worker for one accepted stream connection.
func (e *Engine) handleStreamConn(ctx context.Context, conn net.Conn) {
	local, _ := netip.ParseAddrPort(conn.LocalAddr().String())
	peer, _ := netip.ParseAddrPort(conn.RemoteAddr().String())

	s := flow.Settings{
		JobID: newJobID(),
		Proto: flow.Stream,
		Role:  flow.RoleServer,
		Local: local,
		Peer:  peer,
	}

	if peer.Addr().Is6() && !e.V6 {
		conn.Close()
		return
	}

	br := bufio.NewReaderSize(conn, 4096)
	h, err, rejected := applyClientSettings(br, &s, e.PermitKey)
	if err != nil || rejected {
		e.postReport(report.ConnectionReport{
			JobID: s.JobID, Local: s.Local.String(), Peer: s.Peer.String(),
			Connected: false, Reason: rejectReason(err, rejected), At: time.Now(),
		})
		conn.Close()
		return
	}

	if ins := e.Table.PushConditional(s); ins == flow.Duplicate {
		conn.Close()
		return
	}

	e.sendAck(conn, h)

	e.postReport(report.ConnectionReport{
		JobID: s.JobID, Local: s.Local.String(), Peer: s.Peer.String(),
		Connected: true, At: time.Now(),
	})

	e.dispatch(ctx, s, &bufferedConn{Conn: conn, br: br})
}

func rejectReason(err error, rejected bool) string {
	if err != nil {
		return err.Error()
	}
	if rejected {
		return "handshake rejected"
	}
	return ""
}

// bufferedConn is a net.Conn whose Reads are served from br first. The
// handshake only peeks the header, so br still holds the header bytes and
// any bytes the same fill pulled in after them (early application data the
// client wrote back-to-back); the Server reads and re-accounts all of them.
// Handing the Server the bare conn would silently drop those bytes.
type bufferedConn struct {
	net.Conn
	br *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.br.Read(p)
}
