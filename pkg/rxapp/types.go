// Package rxapp is the application side of the receive path: read requests
// become buffer memory commands and a stitched byte stream, listen requests
// are relayed to the port table, and data notifications are merged.
package rxapp

import (
	"net/netip"

	"toe-nts/pkg/session"
)

// ReadRequest asks for Length bytes of session Session. A zero Length is
// dropped.
type ReadRequest struct {
	Session session.ID
	Length  uint16
}

// Notification tells the application that Length bytes arrived for
// Session, or that the session closed.
type Notification struct {
	Session    session.ID
	Length     uint16
	RemoteAddr netip.Addr
	RemotePort uint16
	LocalPort  uint16
	Closed     bool
}
