package session

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// ID identifies one tracked TCP connection. Valid ids are below the
// capacity of the table that issued them.
type ID uint16

// FourTuple is the socket pair of a TOE session, seen from the local end.
type FourTuple struct {
	RemoteAddr netip.Addr
	RemotePort uint16
	LocalAddr  netip.Addr
	LocalPort  uint16
}

func (t FourTuple) String() string {
	return fmt.Sprintf("%s:%d->%s:%d", formatAddr(t.RemoteAddr), t.RemotePort, formatAddr(t.LocalAddr), t.LocalPort)
}

// AddrToUint32 packs an IPv4 address in network order.
func AddrToUint32(addr netip.Addr) uint32 {
	if !addr.Is4() {
		return 0
	}
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

// Uint32ToAddr unpacks an IPv4 address packed by AddrToUint32.
func Uint32ToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

func formatAddr(addr netip.Addr) string {
	if !addr.IsValid() {
		return "*"
	}
	return addr.String()
}
