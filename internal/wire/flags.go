package wire

// Flag is the 32-bit base header "flags" word. Bit layout is internal to
// this implementation; only self-consistent round-tripping is required.
type Flag uint32

const (
	FlagSeqNo64B Flag = 1 << iota
	FlagVersion1
	FlagVersion2
	FlagExtend
	FlagUDPTests
	FlagKeyCheck
	FlagRunNow
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// UpperFlag is the 16-bit "upperflags" word carried inside the extend
// block.
type UpperFlag uint16

const (
	UpperISOCH UpperFlag = 1 << iota
	UpperL2EthPIPv6
	UpperL2LenCheck
	UpperNoUDPFin
	UpperFullDuplex
	UpperReverse
	UpperEpochStart
	UpperTripTime
	UpperPeriodicBurst
	UpperV2PeerDetect
	UpperSmallTripTimes
)

func (u UpperFlag) Has(bit UpperFlag) bool { return u&bit != 0 }

// extendBlockType identifies the extend block's typelen.type field.
const extendBlockType uint32 = 1

// ackType identifies the stream ack's type field.
const ackType uint32 = 2

// Ack send-timeout clamp constants.
const (
	HDRXACKMIN = 100 // ms
	HDRXACKMAX = 1000 // ms
)

// PermitKeyMaxLen bounds the permit-key length prefix.
const PermitKeyMaxLen = 64
