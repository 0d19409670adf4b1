package flow

import "net/netip"

// Key identifies a flow by its 5-tuple plus protocol. netip.AddrPort is
// comparable, so Key is usable directly as a map key without any hashing
// boilerplate.
type Key struct {
	Peer  netip.AddrPort
	Local netip.AddrPort
	Proto Proto
}

// KeyOf builds the lookup key for s.
func KeyOf(s Settings) Key {
	return Key{Peer: s.Peer, Local: s.Local, Proto: s.Proto}
}
