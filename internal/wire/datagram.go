package wire

import "encoding/binary"

// DatagramHeaderLen12 is the per-packet datagram header length when
// SEQNO64B is not set: {id_low32, tv_sec, tv_usec}.
const DatagramHeaderLen12 = 12

// DatagramHeaderLen24 adds the high 32 bits of a 64-bit sequence number and
// a second id field (id2).
const DatagramHeaderLen24 = 24

// IsochPayloadLen is the additional isochronous payload header length.
const IsochPayloadLen = 28 // 7 x uint32

// DatagramHeader is the per-packet datagram header. SeqNoHigh/ID2 are only
// meaningful (and only written) when SeqNo64 is set.
type DatagramHeader struct {
	SeqNoLow  int32
	SeqNoHigh uint32
	ID2       uint32
	TVSec     uint32
	TVUsec    uint32
	SeqNo64   bool
}

// IsNegative reports whether this header signals datagram termination:
// packets with a negative signed id signal termination.
func (h DatagramHeader) IsNegative() bool { return h.SeqNoLow < 0 }

// Encode serialises the datagram header.
func (h DatagramHeader) Encode() []byte {
	n := DatagramHeaderLen12
	if h.SeqNo64 {
		n = DatagramHeaderLen24
	}
	buf := make([]byte, n)
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.SeqNoLow))
	if h.SeqNo64 {
		binary.BigEndian.PutUint32(buf[4:8], h.SeqNoHigh)
		binary.BigEndian.PutUint32(buf[8:12], h.ID2)
		binary.BigEndian.PutUint32(buf[12:16], h.TVSec)
		binary.BigEndian.PutUint32(buf[16:20], h.TVUsec)
	} else {
		binary.BigEndian.PutUint32(buf[4:8], h.TVSec)
		binary.BigEndian.PutUint32(buf[8:12], h.TVUsec)
	}
	return buf
}

// DecodeDatagramHeader parses a datagram header, selecting the 12 or
// 24-byte layout based on seqNo64.
func DecodeDatagramHeader(buf []byte, seqNo64 bool) (DatagramHeader, error) {
	n := DatagramHeaderLen12
	if seqNo64 {
		n = DatagramHeaderLen24
	}
	if len(buf) < n {
		return DatagramHeader{}, ErrShortRead
	}
	h := DatagramHeader{
		SeqNoLow: int32(binary.BigEndian.Uint32(buf[0:4])),
		SeqNo64:  seqNo64,
	}
	if seqNo64 {
		h.SeqNoHigh = binary.BigEndian.Uint32(buf[4:8])
		h.ID2 = binary.BigEndian.Uint32(buf[8:12])
		h.TVSec = binary.BigEndian.Uint32(buf[12:16])
		h.TVUsec = binary.BigEndian.Uint32(buf[16:20])
	} else {
		h.TVSec = binary.BigEndian.Uint32(buf[4:8])
		h.TVUsec = binary.BigEndian.Uint32(buf[8:12])
	}
	return h, nil
}

// IsochPayloadHeader carries the isochronous burst fields, present
// immediately after a DatagramHeader when isochronous transmission is in
// effect.
type IsochPayloadHeader struct {
	BurstPeriod  uint32
	BurstSize    uint32
	PrevFrameID  uint32
	FrameID      uint32
	Remaining    uint32
	StartTVSec   uint32
	StartTVUsec  uint32
}

func (h IsochPayloadHeader) Encode() []byte {
	buf := make([]byte, IsochPayloadLen)
	binary.BigEndian.PutUint32(buf[0:4], h.BurstPeriod)
	binary.BigEndian.PutUint32(buf[4:8], h.BurstSize)
	binary.BigEndian.PutUint32(buf[8:12], h.PrevFrameID)
	binary.BigEndian.PutUint32(buf[12:16], h.FrameID)
	binary.BigEndian.PutUint32(buf[16:20], h.Remaining)
	binary.BigEndian.PutUint32(buf[20:24], h.StartTVSec)
	binary.BigEndian.PutUint32(buf[24:28], h.StartTVUsec)
	return buf
}

func DecodeIsochPayloadHeader(buf []byte) (IsochPayloadHeader, error) {
	if len(buf) < IsochPayloadLen {
		return IsochPayloadHeader{}, ErrShortRead
	}
	return IsochPayloadHeader{
		BurstPeriod: binary.BigEndian.Uint32(buf[0:4]),
		BurstSize:   binary.BigEndian.Uint32(buf[4:8]),
		PrevFrameID: binary.BigEndian.Uint32(buf[8:12]),
		FrameID:     binary.BigEndian.Uint32(buf[12:16]),
		Remaining:   binary.BigEndian.Uint32(buf[16:20]),
		StartTVSec:  binary.BigEndian.Uint32(buf[20:24]),
		StartTVUsec: binary.BigEndian.Uint32(buf[24:28]),
	}, nil
}
