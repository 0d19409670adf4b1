// Package record defines the Packet Record: the unit handed from a traffic
// thread (producer) to the Reporter (consumer) via the Packet Record Ring.
package record

import (
	"time"

	"github.com/google/uuid"
)

// ErrorStatus classifies the outcome of the I/O attempt that produced a
// record.
type ErrorStatus int

const (
	// StatusOK is a successful, accounted write or read.
	StatusOK ErrorStatus = iota
	// StatusAcctErr is a recoverable error that is still counted (e.g.
	// ENOBUFS): WriteErrAccount.
	StatusAcctErr
	// StatusNoAcctErr is a recoverable error that is not counted (e.g.
	// EWOULDBLOCK/EAGAIN/EINTR): WriteErrNoAccount.
	StatusNoAcctErr
	// StatusFatal is a non-recoverable error that ends the transmit loop.
	StatusFatal
)

// Record is one packet or burst accounting entry.
type Record struct {
	JobID uuid.UUID

	PacketID       int64 // strictly increasing per flow; negated to signal datagram termination
	PacketLen      int
	PacketTime     time.Time
	SentTime       time.Time
	PrevSentTime   time.Time
	PrevPacketTime time.Time

	ErrorStatus ErrorStatus
	EmptyReport bool // no I/O occurred; forces interval advancement
	TransitReady bool // one-way trip-time fields are populated and valid

	FrameID   int64
	BurstSize int
	Remaining int

	TCPInfo *TCPInfo // optional snapshot, stream flows only
}

// TCPInfo is a minimal snapshot of kernel TCP statistics, analogous to
// Linux's struct tcp_info, captured opportunistically around a burst write.
type TCPInfo struct {
	RTTMicros    uint32
	RTTVarMicros uint32
	Retransmits  uint32
	SndCwnd      uint32
}

// IsTerminator reports whether this record is the datagram termination
// marker (negated packet id).
func (r Record) IsTerminator() bool {
	return r.PacketID < 0
}

// Null builds an empty-report record used to advance interval accounting
// when an iteration produced no I/O (select/receive timeout, low-duty-cycle
// periodic burst).
func Null(jobID uuid.UUID, at time.Time) Record {
	return Record{
		JobID:       jobID,
		PacketTime:  at,
		EmptyReport: true,
	}
}
