package wire

import "encoding/binary"

// AckLen is the fixed size of the stream ack.
const AckLen = 20

// Ack is the server's reply to a stream client that set EXTEND (pre-V2) or
// V2PeerDetect.
type Ack struct {
	Type     uint32
	Length   uint32
	Flags    uint32
	Reserved uint32
	VersionU uint16
	VersionL uint16
}

// NewAck builds the canonical ack for a handshake, stamping the local
// protocol version.
func NewAck(versionU, versionL uint16) Ack {
	return Ack{Type: ackType, Length: AckLen, VersionU: versionU, VersionL: versionL}
}

// Encode serialises the ack to its wire form.
func (a Ack) Encode() []byte {
	buf := make([]byte, AckLen)
	binary.BigEndian.PutUint32(buf[0:4], a.Type)
	binary.BigEndian.PutUint32(buf[4:8], a.Length)
	binary.BigEndian.PutUint32(buf[8:12], a.Flags)
	binary.BigEndian.PutUint32(buf[12:16], a.Reserved)
	binary.BigEndian.PutUint16(buf[16:18], a.VersionU)
	binary.BigEndian.PutUint16(buf[18:20], a.VersionL)
	return buf
}

// DecodeAck parses a 20-byte ack.
func DecodeAck(buf []byte) (Ack, error) {
	if len(buf) < AckLen {
		return Ack{}, ErrShortRead
	}
	return Ack{
		Type:     binary.BigEndian.Uint32(buf[0:4]),
		Length:   binary.BigEndian.Uint32(buf[4:8]),
		Flags:    binary.BigEndian.Uint32(buf[8:12]),
		Reserved: binary.BigEndian.Uint32(buf[12:16]),
		VersionU: binary.BigEndian.Uint16(buf[16:18]),
		VersionL: binary.BigEndian.Uint16(buf[18:20]),
	}, nil
}

// AckTimeout computes the ack send timeout: min(socket send timeout,
// interval/4 or amount/4 clamped to [HDRXACKMIN, HDRXACKMAX] ms).
func AckTimeout(sockSendTimeoutMs, intervalMs, amountMs int64) int64 {
	candidate := intervalMs / 4
	if candidate <= 0 {
		candidate = amountMs / 4
	}
	if candidate < HDRXACKMIN {
		candidate = HDRXACKMIN
	}
	if candidate > HDRXACKMAX {
		candidate = HDRXACKMAX
	}
	if sockSendTimeoutMs > 0 && sockSendTimeoutMs < candidate {
		return sockSendTimeoutMs
	}
	return candidate
}
