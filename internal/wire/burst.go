package wire

import "encoding/binary"

// BurstHeaderLen is the stream burst header length: {start_tv_sec,
// start_tv_usec, seqno_lower, seqno_upper, write_tv_sec, write_tv_usec,
// burst_id, burst_size, burst_period_s, burst_period_us}, 10 x uint32.
const BurstHeaderLen = 40

// BurstHeader is stamped at the start of every stream burst when the flow
// is in burst mode. Packet ids increment by BurstSize at write time so the
// server sees contiguous ranges.
type BurstHeader struct {
	StartTVSec    uint32
	StartTVUsec   uint32
	SeqNoLower    uint32
	SeqNoUpper    uint32
	WriteTVSec    uint32
	WriteTVUsec   uint32
	BurstID       uint32
	BurstSize     uint32
	BurstPeriodS  uint32
	BurstPeriodUs uint32
}

func (h BurstHeader) Encode() []byte {
	buf := make([]byte, BurstHeaderLen)
	fields := []uint32{
		h.StartTVSec, h.StartTVUsec, h.SeqNoLower, h.SeqNoUpper,
		h.WriteTVSec, h.WriteTVUsec, h.BurstID, h.BurstSize,
		h.BurstPeriodS, h.BurstPeriodUs,
	}
	for i, f := range fields {
		binary.BigEndian.PutUint32(buf[i*4:i*4+4], f)
	}
	return buf
}

func DecodeBurstHeader(buf []byte) (BurstHeader, error) {
	if len(buf) < BurstHeaderLen {
		return BurstHeader{}, ErrShortRead
	}
	var f [10]uint32
	for i := range f {
		f[i] = binary.BigEndian.Uint32(buf[i*4 : i*4+4])
	}
	return BurstHeader{
		StartTVSec: f[0], StartTVUsec: f[1], SeqNoLower: f[2], SeqNoUpper: f[3],
		WriteTVSec: f[4], WriteTVUsec: f[5], BurstID: f[6], BurstSize: f[7],
		BurstPeriodS: f[8], BurstPeriodUs: f[9],
	}, nil
}
