// Package nal is the network abstraction layer's TCP agency: it mirrors the
// TOE's sessions keyed by a packed triple and closes every session the
// application does not own when the link or the role goes away.
package nal

import (
	"fmt"
	"net/netip"

	"toe-nts/pkg/session"
)

// Triple packs remote IP, remote port and local port as ip<<32|rport<<16|lport.
type Triple uint64

func NewTriple(ip netip.Addr, rport, lport uint16) Triple {
	return Triple(uint64(session.AddrToUint32(ip))<<32 | uint64(rport)<<16 | uint64(lport))
}

func TripleOf(t session.FourTuple) Triple {
	return NewTriple(t.RemoteAddr, t.RemotePort, t.LocalPort)
}

func (t Triple) RemoteAddr() netip.Addr { return session.Uint32ToAddr(uint32(t >> 32)) }

func (t Triple) RemotePort() uint16 { return uint16(t >> 16) }

func (t Triple) LocalPort() uint16 { return uint16(t) }

func (t Triple) String() string {
	return fmt.Sprintf("%v:%d->%d", t.RemoteAddr(), t.RemotePort(), t.LocalPort())
}
