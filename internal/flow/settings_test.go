package flow

import (
	"testing"
	"time"

	"netthrpt/internal/wire"
)

func TestToHeaderApplyHeaderRoundTripsBaseFields(t *testing.T) {
	s := Settings{
		Proto: Stream, BufLen: 131072, Mode: ModeAmount, Amount: 5_000_000,
		Features: Features{SeqNo64: true},
	}
	h := s.ToHeader()

	var got Settings
	got.ApplyHeader(h)

	if got.BufLen != s.BufLen {
		t.Fatalf("BufLen round-trip: got %d want %d", got.BufLen, s.BufLen)
	}
	if got.Amount != s.Amount || got.Mode != ModeAmount {
		t.Fatalf("Amount/Mode round-trip: got %+v", got)
	}
	if !got.Features.SeqNo64 {
		t.Fatalf("SeqNo64 flag lost in round-trip")
	}
}

func TestToHeaderApplyHeaderRoundTripsIsochronous(t *testing.T) {
	s := Settings{
		Proto: Datagram, BufLen: 1470, Mode: ModeTime, Duration: 2 * time.Second,
		Burst: BurstIsochronous, FPS: 60, Mean: 20_000_000, Variance: 0,
		Features: Features{},
	}
	h := s.ToHeader()
	if h.Isoch == nil {
		t.Fatalf("expected an isoch block for an isochronous burst")
	}

	var got Settings
	got.Proto = Datagram
	got.ApplyHeader(h)

	if got.Burst != BurstIsochronous {
		t.Fatalf("expected isochronous burst to round-trip, got %v", got.Burst)
	}
	if got.FPS != 60 || got.Mean != 20_000_000 {
		t.Fatalf("FPS/Mean did not round-trip: %+v", got)
	}
}

func TestToHeaderPermitKeySetsKeyCheckFlag(t *testing.T) {
	s := Settings{Proto: Stream, PermitKey: "shared-secret", Features: Features{PermitKeySet: true}}
	h := s.ToHeader()
	if !h.Base.Flags.Has(wire.FlagKeyCheck) {
		t.Fatalf("expected FlagKeyCheck to be set when a permit key is configured")
	}
	if string(h.PermitKey) != "shared-secret" {
		t.Fatalf("expected permit key to be carried verbatim, got %q", h.PermitKey)
	}
}

func TestValidateRejectsConflictingModeAndAmount(t *testing.T) {
	s := Settings{Mode: ModeTime, Amount: 100}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected an error for mode-time settings with an amount set")
	}
}

func TestValidateRejectsIsochronousWithoutMean(t *testing.T) {
	s := Settings{Mode: ModeTime, Burst: BurstIsochronous, FPS: 30}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected an error for isochronous burst without a mean")
	}
}
