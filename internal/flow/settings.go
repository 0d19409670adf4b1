// Package flow defines the Flow Settings data model and the Flow Table
// used by the Listener Engine to demultiplex concurrent flows.
package flow

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"netthrpt/internal/wire"
)

// Proto is the transport protocol of a flow.
type Proto int

const (
	Stream Proto = iota
	Datagram
)

func (p Proto) String() string {
	if p == Stream {
		return "stream"
	}
	return "datagram"
}

// Role identifies which side of a flow this Settings describes.
type Role int

const (
	RoleClient Role = iota
	RoleServer
	RoleServerReverse
)

// Mode selects whether a flow runs for a duration or until a byte amount.
type Mode int

const (
	ModeTime Mode = iota
	ModeAmount
)

// RateUnits selects how Rate is interpreted.
type RateUnits int

const (
	UnitsBandwidth RateUnits = iota // bits/sec
	UnitsPPS                        // packets/sec
)

// BurstModel selects how per-burst size is computed.
type BurstModel int

const (
	BurstNone BurstModel = iota
	BurstPeriodic
	BurstIsochronous
)

// Features holds the first-message feature flags.
type Features struct {
	FullDuplex        bool
	Reverse           bool
	TripTime          bool
	PeriodicBurst     bool
	Isochronous       bool
	TxHoldback        time.Duration
	TxEpochStart      time.Time
	NearCongestion    bool
	RTTDivider        float64
	WritePrefetch     bool
	L2Check           bool
	NoUDPFin          bool
	PermitKeySet      bool
	V6                bool
	PeerVersionDetect bool
	Compat            bool
	SeqNo64           bool
	SmallTripTimes    bool
}

// Settings is the immutable-after-handshake per-flow configuration.
// Counters aside, a flow's Settings are exclusively owned by its traffic
// thread once the Listener hands them off.
type Settings struct {
	JobID uuid.UUID

	Proto Proto
	Role  Role

	Local netip.AddrPort
	Peer  netip.AddrPort
	Iface string

	BufLen int

	Mode     Mode
	Duration time.Duration
	Amount   int64

	ReportInterval time.Duration

	Rate      float64
	RateUnits RateUnits

	Burst     BurstModel
	FPS       float64
	Mean      float64
	Variance  float64
	BurstSize int

	Features Features

	PermitKey string

	PeerVersionU uint32
	PeerVersionL uint32

	ConnectRetries     int
	ConnectOnlyCount   int
	ConnectOnlyPeriod  time.Duration
	VaryLoad           bool
}

// Validate checks Settings' internal invariants.
func (s Settings) Validate() error {
	if s.Mode != ModeTime && s.Mode != ModeAmount {
		return fmt.Errorf("flow: invalid mode %v", s.Mode)
	}
	if s.Mode == ModeTime && s.Amount != 0 {
		return fmt.Errorf("flow: mode-time flow must not set an amount")
	}
	if s.Mode == ModeAmount && s.Duration != 0 {
		return fmt.Errorf("flow: mode-amount flow must not set a duration")
	}
	if s.Burst != BurstNone && s.FPS <= 0 {
		return fmt.Errorf("flow: burst mode %v requires FPS > 0", s.Burst)
	}
	if s.Burst == BurstIsochronous && s.Mean <= 0 {
		return fmt.Errorf("flow: isochronous burst requires mean > 0")
	}
	return nil
}

// ToHeader projects Settings onto the wire-transmitted subset of fields.
func (s Settings) ToHeader() wire.Header {
	var base wire.BaseHeader
	base.NumThreads = 1
	base.BufLen = uint32(s.BufLen)
	if s.Mode == ModeAmount {
		base.MAmount = uint32(s.Amount)
	}
	if s.Features.SeqNo64 {
		base.Flags |= wire.FlagSeqNo64B
	}
	base.Flags |= wire.FlagVersion2

	needExtend := s.Features.FullDuplex || s.Features.Reverse || s.Features.TripTime ||
		s.Features.PeriodicBurst || s.Features.Isochronous || s.Features.L2Check ||
		s.Features.NoUDPFin || s.Features.PeerVersionDetect || s.Proto == Datagram

	h := wire.Header{Base: base}

	if needExtend {
		base.Flags |= wire.FlagExtend
		if s.Proto == Datagram {
			base.Flags |= wire.FlagUDPTests
		}
		if s.Features.PeerVersionDetect {
			base.Flags |= wire.FlagVersion1
		}
		h.Base = base

		var upper wire.UpperFlag
		if s.Burst == BurstIsochronous {
			upper |= wire.UpperISOCH
		}
		if s.Burst == BurstPeriodic {
			upper |= wire.UpperPeriodicBurst
		}
		if s.Features.L2Check {
			upper |= wire.UpperL2EthPIPv6 | wire.UpperL2LenCheck
		}
		if s.Features.NoUDPFin {
			upper |= wire.UpperNoUDPFin
		}
		if s.Features.FullDuplex {
			upper |= wire.UpperFullDuplex
		}
		if s.Features.Reverse {
			upper |= wire.UpperReverse
		}
		if !s.Features.TxEpochStart.IsZero() {
			upper |= wire.UpperEpochStart
		}
		if s.Features.TripTime {
			upper |= wire.UpperTripTime
			if s.Features.SmallTripTimes {
				upper |= wire.UpperSmallTripTimes
			}
		}

		h.Extend = &wire.ExtendHeader{
			Type: 1, Length: 24, UpperFlags: upper,
			VersionU: s.PeerVersionU, VersionL: s.PeerVersionL,
		}

		if upper.Has(wire.UpperISOCH) || upper.Has(wire.UpperPeriodicBurst) {
			h.Isoch = &wire.IsochBlock{
				FPSl:      uint32(s.FPS),
				FPSu:      uint32((s.FPS - float64(uint32(s.FPS))) * 1_000_000),
				MeanL:     uint32(s.Mean),
				VarianceL: uint32(s.Variance),
				BurstIPGl: uint32(s.BurstSize),
			}
		}

		if upper.Has(wire.UpperEpochStart) || upper.Has(wire.UpperTripTime) {
			sec := s.Features.TxEpochStart.Unix()
			usec := int64(s.Features.TxEpochStart.Nanosecond() / 1000)
			h.StartTime = &wire.StartTimeBlock{
				StartTVSec:  uint32(sec),
				StartTVUsec: uint32(usec),
			}
		}
	}

	if s.Features.PermitKeySet {
		h.Base.Flags |= wire.FlagKeyCheck
		h.PermitKey = []byte(s.PermitKey)
	}

	return h
}

// ApplyHeader merges a parsed wire.Header onto a server-side Settings being
// built during the handshake.
func (s *Settings) ApplyHeader(h wire.Header) {
	s.BufLen = int(h.Base.BufLen)
	if h.Base.Flags.Has(wire.FlagUDPTests) {
		s.Proto = Datagram
	}
	if h.Base.MAmount != 0 {
		s.Mode = ModeAmount
		s.Amount = int64(h.Base.MAmount)
	} else {
		s.Mode = ModeTime
	}
	s.Features.SeqNo64 = h.Base.Flags.Has(wire.FlagSeqNo64B)
	if h.Base.Flags.Has(wire.FlagKeyCheck) {
		s.Features.PermitKeySet = true
		s.PermitKey = string(h.PermitKey)
	}

	if h.Extend != nil {
		s.PeerVersionU = h.Extend.VersionU
		s.PeerVersionL = h.Extend.VersionL
		uf := h.Extend.UpperFlags
		s.Features.FullDuplex = uf.Has(wire.UpperFullDuplex)
		s.Features.Reverse = uf.Has(wire.UpperReverse)
		s.Features.NoUDPFin = uf.Has(wire.UpperNoUDPFin)
		s.Features.L2Check = uf.Has(wire.UpperL2EthPIPv6) || uf.Has(wire.UpperL2LenCheck)
		s.Features.TripTime = uf.Has(wire.UpperTripTime)
		s.Features.SmallTripTimes = uf.Has(wire.UpperSmallTripTimes)
		if uf.Has(wire.UpperISOCH) {
			s.Burst = BurstIsochronous
		} else if uf.Has(wire.UpperPeriodicBurst) {
			s.Burst = BurstPeriodic
		}
		if h.Isoch != nil {
			s.FPS = float64(h.Isoch.FPSl) + float64(h.Isoch.FPSu)/1_000_000
			s.Mean = float64(h.Isoch.MeanL)
			s.Variance = float64(h.Isoch.VarianceL)
			s.BurstSize = int(h.Isoch.BurstIPGl)
		}
		if h.StartTime != nil {
			t := time.Unix(int64(h.StartTime.StartTVSec), int64(h.StartTime.StartTVUsec)*1000)
			if uf.Has(wire.UpperEpochStart) {
				s.Features.TxEpochStart = t
			}
		}
	}
}
