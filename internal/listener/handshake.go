package listener

import (
	"bufio"
	"context"
	"net"
	"time"

	"netthrpt/internal/flow"
	"netthrpt/internal/wire"
)

// maxEpochDiff and maxTripTimeDiff bound how far a peer's clock may
// disagree with ours before the handshake is rejected as implausible.
const (
	maxEpochDiff     = 30 * time.Second
	maxTripTimeDiff  = 30 * time.Second
)

// applyClientSettings runs the Settings Codec against br, merging the
// parsed header onto s and verifying the permit key if the listener
// requires one. It returns the parsed header (needed by the caller to
// build an ack and to schedule any paired reverse/full-duplex client),
// whether the codec itself failed, and whether the handshake was otherwise
// rejected (wrong or missing key, or a start/trip-time stamp further than
// maxEpochDiff/maxTripTimeDiff from our clock).
func applyClientSettings(br *bufio.Reader, s *flow.Settings, permitKey string) (wire.Header, error, bool) {
	h, err := wire.Parse(br)
	if err != nil {
		return h, err, false
	}

	s.ApplyHeader(h)

	if permitKey != "" {
		if !s.Features.PermitKeySet || s.PermitKey != permitKey {
			return h, nil, true
		}
	}

	if s.Features.TxEpochStart.IsZero() && h.StartTime != nil && h.Extend != nil &&
		h.Extend.UpperFlags.Has(wire.UpperTripTime) {
		sent := time.Unix(int64(h.StartTime.StartTVSec), int64(h.StartTime.StartTVUsec)*1000)
		diff := time.Since(sent)
		if diff < -maxTripTimeDiff || diff > maxTripTimeDiff {
			return h, nil, true
		}
	}
	if !s.Features.TxEpochStart.IsZero() {
		diff := time.Until(s.Features.TxEpochStart)
		if diff < -maxEpochDiff || diff > maxEpochDiff {
			return h, nil, true
		}
	}

	return h, nil, false
}

// sendAck writes the stream ack when the client requested peer-version
// detection. Errors are ignored: an ack failure does not abort a handshake
// that has already succeeded, it only means the client won't learn the
// server's version.
func (e *Engine) sendAck(conn net.Conn, h wire.Header) {
	if !h.Base.Flags.Has(wire.FlagVersion1) {
		return
	}
	ack := wire.NewAck(1, 0)
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		conn.Write(ack.Encode())
		tc.SetNoDelay(false)
		return
	}
	conn.Write(ack.Encode())
}

// dispatch spawns the Server worker for a handshaken flow and, when the
// handshake requested full-duplex or reverse, builds the complementary
// client settings and schedules it alongside. Legacy dual/trade-off tests
// get no paired client.
func (e *Engine) dispatch(ctx context.Context, s flow.Settings, conn net.Conn) {
	e.trafficStarted()
	go func() {
		defer e.trafficEnded()
		defer e.Table.Remove(s)
		if e.ServerFactory != nil {
			srv := e.ServerFactory(s, conn)
			srv.Run(ctx)
		}
	}()

	if (s.Features.Reverse || s.Features.FullDuplex) && e.ClientFactory != nil {
		paired := pairedClientSettings(s)
		e.trafficStarted()
		go func() {
			defer e.trafficEnded()
			e.ClientFactory(ctx, paired, conn)
		}()
	}
}

// pairedClientSettings builds the settings for the direction the Listener
// itself drives: the reverse sender, or the full-duplex return path.
func pairedClientSettings(s flow.Settings) flow.Settings {
	paired := s
	paired.Role = flow.RoleServerReverse
	paired.Local, paired.Peer = s.Peer, s.Local
	return paired
}
