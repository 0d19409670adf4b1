// Package server implements the receive side of a flow: a loop simpler and
// symmetric to the datagram client. It receives into the Ring, tracks
// peer-close, and answers the datagram FIN handshake. Read errors are not
// run through the Client Engine's error taxonomy: a read timeout pushes an
// empty record, any other read error ends the loop, and every received
// packet is recorded as StatusOK.
// No independent pacing or burst generation, a receiver has nothing to
// pace.
package server

import (
	"context"
	"net"
	"time"

	"netthrpt/internal/clock"
	"netthrpt/internal/flow"
	"netthrpt/internal/record"
	"netthrpt/internal/ring"
	"netthrpt/internal/wire"
)

// readTimeout bounds each receive so a stalled peer doesn't block this
// worker past a reporting boundary.
const readTimeout = 2 * time.Second

// Server is the per-flow receive loop handed a connection already
// connected to its single peer (stream: accepted; datagram: the
// specifically-connected socket the Listener dialed via dialConnectedUDP).
type Server struct {
	Settings flow.Settings
	Conn     net.Conn
	Ring     *ring.Ring

	peerClosed bool
}

// New constructs a Server for an already-handshaken flow.
func New(s flow.Settings, conn net.Conn, ringBuf *ring.Ring) *Server {
	return &Server{Settings: s, Conn: conn, Ring: ringBuf}
}

// Run receives until the peer closes (stream) or sends its negated-id
// terminator (datagram), pushing a Record per packet/read and replying to
// the datagram FIN with a closing report datagram.
func (s *Server) Run(ctx context.Context) error {
	defer s.Conn.Close()
	if s.Settings.Proto == flow.Datagram {
		return s.runDatagram(ctx)
	}
	return s.runStream(ctx)
}

func (s *Server) push(rec record.Record) {
	if s.Ring != nil {
		s.Ring.Push(rec)
	}
}

// runStream reads full-size buffers until EOF or a fatal read error.
func (s *Server) runStream(ctx context.Context) error {
	buf := make([]byte, maxInt(s.Settings.BufLen, 4096))
	var packetID int64

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		s.Conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := s.Conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.push(record.Null(s.Settings.JobID, time.Now()))
				continue
			}
			s.peerClosed = true
			return nil
		}
		if n >= wire.BurstHeaderLen && s.Settings.Burst != flow.BurstNone {
			if hdr, herr := wire.DecodeBurstHeader(buf[:wire.BurstHeaderLen]); herr == nil {
				packetID = int64(hdr.SeqNoLower) | int64(hdr.SeqNoUpper)<<32
			}
		} else {
			packetID++
		}
		s.push(record.Record{
			JobID: s.Settings.JobID, PacketID: packetID, PacketLen: n,
			PacketTime: time.Now(), ErrorStatus: record.StatusOK,
		})
	}
}

// runDatagram receives datagram headers, stopping on the negated-id
// terminator and replying with a closing report datagram.
func (s *Server) runDatagram(ctx context.Context) error {
	buf := make([]byte, maxInt(s.Settings.BufLen, 2048))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		s.Conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := s.Conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.push(record.Null(s.Settings.JobID, time.Now()))
				continue
			}
			return nil
		}

		dh, derr := wire.DecodeDatagramHeader(buf[:n], s.Settings.Features.SeqNo64)
		if derr != nil {
			continue
		}

		if dh.IsNegative() {
			s.push(record.Record{
				JobID: s.Settings.JobID, PacketID: int64(dh.SeqNoLow), PacketLen: n,
				PacketTime: time.Now(), ErrorStatus: record.StatusOK,
			})
			s.replyFin()
			return nil
		}

		s.push(record.Record{
			JobID: s.Settings.JobID, PacketID: int64(dh.SeqNoLow), PacketLen: n,
			PacketTime: time.Now(), ErrorStatus: record.StatusOK,
		})
	}
}

// replyFin answers the client's terminator with a closing report datagram
// carrying id -1, so the client's FIN-ack read succeeds on the first round
// trip in the common case.
func (s *Server) replyFin() {
	stamp := clock.ToStamp(time.Now())
	dh := wire.DatagramHeader{SeqNoLow: -1, TVSec: uint32(stamp.Sec), TVUsec: uint32(stamp.Usec)}
	s.Conn.Write(dh.Encode())
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
