// Package wire implements the Settings Codec: the client-supplied first
// message header and its server ack, the per-packet datagram header, and
// the stream burst header.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
)

// ErrPermitKeyMismatch names a parsed Header's PermitKey not matching the
// expected value; the codec itself only decodes and never returns it, and
// the listener reports a mismatch as a rejected handshake instead.
var ErrPermitKeyMismatch = errors.New("wire: permit key mismatch")

// ErrShortRead signals a handshake rejection: not enough bytes were
// available to decode a required block.
var ErrShortRead = errors.New("wire: short read parsing settings header")

const baseHeaderLen = 24 // 6 x uint32
const extendHeaderLen = 24 // 2x uint32 typelen + uint16 + uint16 + 3x uint32
const isochBlockLen = 32  // 8 x uint32
const startTimeBlockLen = 8 // 2 x uint32

// BaseHeader is the first 24 bytes of every first message.
type BaseHeader struct {
	Flags      Flag
	NumThreads uint32
	MPort      uint32
	BufLen     uint32
	MWinBand   uint32
	MAmount    uint32
}

// ExtendHeader follows BaseHeader when Flags&FlagExtend is set.
type ExtendHeader struct {
	Type       uint32
	Length     uint32
	UpperFlags UpperFlag
	TOS        uint16
	VersionU   uint32
	VersionL   uint32
	Reserved   uint32
}

// IsochBlock follows ExtendHeader when UpperFlags&(ISOCH|PeriodicBurst) is set.
type IsochBlock struct {
	FPSl       uint32
	FPSu       uint32
	MeanL      uint32
	MeanU      uint32
	VarianceL  uint32
	VarianceU  uint32
	BurstIPGl  uint32
	BurstIPGu  uint32
}

// StartTimeBlock follows when UpperFlags&(EpochStart|TripTime) is set.
type StartTimeBlock struct {
	StartTVSec  uint32
	StartTVUsec uint32
}

// Header is the fully decoded first-message settings header. Nil pointer
// fields mean the corresponding block was absent on the wire.
type Header struct {
	Base      BaseHeader
	Extend    *ExtendHeader
	Isoch     *IsochBlock
	StartTime *StartTimeBlock
	PermitKey []byte

	// PeekLen is the total number of bytes this header occupies on the
	// wire. The listener peeks this many bytes without consuming them
	// (see Parse); the Server worker performs the real Read later and
	// re-accounts these bytes itself.
	PeekLen int
}

// Encode serialises h as a client would send it on first connect.
func Encode(h Header) []byte {
	buf := make([]byte, 0, baseHeaderLen+extendHeaderLen+isochBlockLen+startTimeBlockLen+2+len(h.PermitKey))
	buf = appendU32(buf, uint32(h.Base.Flags))
	buf = appendU32(buf, h.Base.NumThreads)
	buf = appendU32(buf, h.Base.MPort)
	buf = appendU32(buf, h.Base.BufLen)
	buf = appendU32(buf, h.Base.MWinBand)
	buf = appendU32(buf, h.Base.MAmount)

	if h.Base.Flags.Has(FlagExtend) && h.Extend != nil {
		buf = appendU32(buf, h.Extend.Type)
		buf = appendU32(buf, h.Extend.Length)
		buf = appendU16(buf, uint16(h.Extend.UpperFlags))
		buf = appendU16(buf, h.Extend.TOS)
		buf = appendU32(buf, h.Extend.VersionU)
		buf = appendU32(buf, h.Extend.VersionL)
		buf = appendU32(buf, h.Extend.Reserved)

		if h.Extend.UpperFlags.Has(UpperISOCH) || h.Extend.UpperFlags.Has(UpperPeriodicBurst) {
			if h.Isoch == nil {
				h.Isoch = &IsochBlock{}
			}
			buf = appendU32(buf, h.Isoch.FPSl)
			buf = appendU32(buf, h.Isoch.FPSu)
			buf = appendU32(buf, h.Isoch.MeanL)
			buf = appendU32(buf, h.Isoch.MeanU)
			buf = appendU32(buf, h.Isoch.VarianceL)
			buf = appendU32(buf, h.Isoch.VarianceU)
			buf = appendU32(buf, h.Isoch.BurstIPGl)
			buf = appendU32(buf, h.Isoch.BurstIPGu)
		}

		if h.Extend.UpperFlags.Has(UpperEpochStart) || h.Extend.UpperFlags.Has(UpperTripTime) {
			if h.StartTime == nil {
				h.StartTime = &StartTimeBlock{}
			}
			buf = appendU32(buf, h.StartTime.StartTVSec)
			buf = appendU32(buf, h.StartTime.StartTVUsec)
		}
	}

	if h.Base.Flags.Has(FlagKeyCheck) {
		buf = appendU16(buf, uint16(len(h.PermitKey)))
		buf = append(buf, h.PermitKey...)
	}

	return buf
}

// Parse reads a first-message header from r using Peek so the underlying
// bytes remain available for the Server worker's own accounting: the bytes
// are peeked, never dequeued, by this call. r's buffer size must be large
// enough to hold the largest possible header (bufio.NewReaderSize with a
// few KB is ample for the permit key).
func Parse(r *bufio.Reader) (Header, error) {
	var h Header

	base, err := r.Peek(baseHeaderLen)
	if err != nil {
		return h, ErrShortRead
	}
	h.Base = BaseHeader{
		Flags:      Flag(binary.BigEndian.Uint32(base[0:4])),
		NumThreads: binary.BigEndian.Uint32(base[4:8]),
		MPort:      binary.BigEndian.Uint32(base[8:12]),
		BufLen:     binary.BigEndian.Uint32(base[12:16]),
		MWinBand:   binary.BigEndian.Uint32(base[16:20]),
		MAmount:    binary.BigEndian.Uint32(base[20:24]),
	}
	total := baseHeaderLen

	if h.Base.Flags.Has(FlagExtend) {
		peeked, err := r.Peek(total + extendHeaderLen)
		if err != nil {
			return h, ErrShortRead
		}
		ext := peeked[total:]
		h.Extend = &ExtendHeader{
			Type:       binary.BigEndian.Uint32(ext[0:4]),
			Length:     binary.BigEndian.Uint32(ext[4:8]),
			UpperFlags: UpperFlag(binary.BigEndian.Uint16(ext[8:10])),
			TOS:        binary.BigEndian.Uint16(ext[10:12]),
			VersionU:   binary.BigEndian.Uint32(ext[12:16]),
			VersionL:   binary.BigEndian.Uint32(ext[16:20]),
			Reserved:   binary.BigEndian.Uint32(ext[20:24]),
		}
		total += extendHeaderLen

		if h.Extend.UpperFlags.Has(UpperISOCH) || h.Extend.UpperFlags.Has(UpperPeriodicBurst) {
			peeked, err := r.Peek(total + isochBlockLen)
			if err != nil {
				return h, ErrShortRead
			}
			b := peeked[total:]
			h.Isoch = &IsochBlock{
				FPSl:      binary.BigEndian.Uint32(b[0:4]),
				FPSu:      binary.BigEndian.Uint32(b[4:8]),
				MeanL:     binary.BigEndian.Uint32(b[8:12]),
				MeanU:     binary.BigEndian.Uint32(b[12:16]),
				VarianceL: binary.BigEndian.Uint32(b[16:20]),
				VarianceU: binary.BigEndian.Uint32(b[20:24]),
				BurstIPGl: binary.BigEndian.Uint32(b[24:28]),
				BurstIPGu: binary.BigEndian.Uint32(b[28:32]),
			}
			total += isochBlockLen
		}

		if h.Extend.UpperFlags.Has(UpperEpochStart) || h.Extend.UpperFlags.Has(UpperTripTime) {
			peeked, err := r.Peek(total + startTimeBlockLen)
			if err != nil {
				return h, ErrShortRead
			}
			b := peeked[total:]
			h.StartTime = &StartTimeBlock{
				StartTVSec:  binary.BigEndian.Uint32(b[0:4]),
				StartTVUsec: binary.BigEndian.Uint32(b[4:8]),
			}
			total += startTimeBlockLen
		}
	}

	if h.Base.Flags.Has(FlagKeyCheck) {
		peeked, err := r.Peek(total + 2)
		if err != nil {
			return h, ErrShortRead
		}
		keyLen := int(binary.BigEndian.Uint16(peeked[total : total+2]))
		if keyLen < 2 || keyLen > PermitKeyMaxLen {
			return h, ErrShortRead
		}
		total += 2
		peeked, err = r.Peek(total + keyLen)
		if err != nil {
			return h, ErrShortRead
		}
		h.PermitKey = append([]byte(nil), peeked[total:total+keyLen]...)
		total += keyLen
	}

	h.PeekLen = total
	return h, nil
}

// Discard consumes the bytes Parse peeked, for callers (tests, a
// stand-alone decoder) that don't need the Server worker's re-accounting
// behavior and just want a normal read cursor advance.
func Discard(r *bufio.Reader, h Header) error {
	_, err := r.Discard(h.PeekLen)
	return err
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}
