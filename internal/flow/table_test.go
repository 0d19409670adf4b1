package flow

import (
	"net/netip"
	"testing"
)

func TestPushConditionalDropsRetransmit(t *testing.T) {
	tbl := NewTable()
	s := Settings{
		Proto: Datagram,
		Peer:  netip.MustParseAddrPort("10.0.0.2:5001"),
		Local: netip.MustParseAddrPort("10.0.0.1:5001"),
	}

	if got := tbl.PushConditional(s); got != Inserted {
		t.Fatalf("first push = %v, want Inserted", got)
	}
	if got := tbl.PushConditional(s); got != Duplicate {
		t.Fatalf("second push = %v, want Duplicate", got)
	}
	if tbl.Len() != 1 {
		t.Fatalf("table has %d entries, want 1", tbl.Len())
	}
}

func TestTwoConcurrentDatagramClientsGetDistinctEntries(t *testing.T) {
	tbl := NewTable()
	local := netip.MustParseAddrPort("10.0.0.1:5001")
	a := Settings{Proto: Datagram, Local: local, Peer: netip.MustParseAddrPort("10.0.0.2:4001")}
	b := Settings{Proto: Datagram, Local: local, Peer: netip.MustParseAddrPort("10.0.0.3:4002")}

	if got := tbl.PushConditional(a); got != Inserted {
		t.Fatalf("push a = %v, want Inserted", got)
	}
	if got := tbl.PushConditional(b); got != Inserted {
		t.Fatalf("push b = %v, want Inserted", got)
	}
	if tbl.Len() != 2 {
		t.Fatalf("table has %d entries, want 2", tbl.Len())
	}

	tbl.Remove(a)
	if tbl.Len() != 1 {
		t.Fatalf("after removing a, table has %d entries, want 1", tbl.Len())
	}
	if _, ok := tbl.Lookup(KeyOf(b)); !ok {
		t.Error("b should still be present after removing a")
	}
}
