// Package event defines the TCP events exchanged between the event sources,
// the event engine, the ACK delayer and the transmitter.
package event

import (
	"fmt"

	"github.com/google/netstack/tcpip/header"

	"toe-nts/pkg/session"
)

type Kind uint8

const (
	KindTx Kind = iota
	KindRetransmit
	KindAck
	KindSyn
	KindSynAck
	KindFin
	KindRst
	KindAckNoDelay
)

func (k Kind) String() string {
	switch k {
	case KindTx:
		return "TX"
	case KindRetransmit:
		return "RT"
	case KindAck:
		return "ACK"
	case KindSyn:
		return "SYN"
	case KindSynAck:
		return "SYN_ACK"
	case KindFin:
		return "FIN"
	case KindRst:
		return "RST"
	case KindAckNoDelay:
		return "ACK_NODELAY"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Flags returns the TCP header flags a segment of kind k carries.
func Flags(k Kind) uint8 {
	switch k {
	case KindTx, KindRetransmit:
		return header.TCPFlagAck | header.TCPFlagPsh
	case KindAck, KindAckNoDelay:
		return header.TCPFlagAck
	case KindSyn:
		return header.TCPFlagSyn
	case KindSynAck:
		return header.TCPFlagSyn | header.TCPFlagAck
	case KindFin:
		return header.TCPFlagFin | header.TCPFlagAck
	case KindRst:
		return header.TCPFlagRst | header.TCPFlagAck
	default:
		return 0
	}
}

// Event is one of Tx, Retransmit, Control or Reset.
type Event interface {
	Kind() Kind
	Session() session.ID
}

// Tx asks for the transmission of Len bytes starting at Addr in the
// session's tx buffer.
type Tx struct {
	SessionID session.ID
	Addr      uint32
	Len       uint16
}

func (e Tx) Kind() Kind          { return KindTx }
func (e Tx) Session() session.ID { return e.SessionID }
func (e Tx) String() string {
	return fmt.Sprintf("TX{sid=%d addr=%#x len=%d}", e.SessionID, e.Addr, e.Len)
}

type Retransmit struct {
	SessionID session.ID
	Addr      uint32
	Len       uint16
	Retries   uint8
}

func (e Retransmit) Kind() Kind          { return KindRetransmit }
func (e Retransmit) Session() session.ID { return e.SessionID }
func (e Retransmit) String() string {
	return fmt.Sprintf("RT{sid=%d addr=%#x len=%d retries=%d}", e.SessionID, e.Addr, e.Len, e.Retries)
}

// Control is a payload-less event: ACK, SYN, SYN_ACK, FIN or ACK_NODELAY.
type Control struct {
	SessionID session.ID
	Type      Kind
}

func (e Control) Kind() Kind          { return e.Type }
func (e Control) Session() session.ID { return e.SessionID }
func (e Control) String() string      { return fmt.Sprintf("%v{sid=%d}", e.Type, e.SessionID) }

// Reset carries the sequence number to acknowledge and, for a socket pair
// that has no session, the tuple to answer to.
type Reset struct {
	SessionID session.ID
	Seq       uint32
	Tuple     *session.FourTuple
}

func (e Reset) Kind() Kind          { return KindRst }
func (e Reset) Session() session.ID { return e.SessionID }
func (e Reset) String() string {
	if e.Tuple != nil {
		return fmt.Sprintf("RST{seq=%d to=%v}", e.Seq, e.Tuple)
	}
	return fmt.Sprintf("RST{sid=%d seq=%d}", e.SessionID, e.Seq)
}

func NewAck(id session.ID) Event { return Control{SessionID: id, Type: KindAck} }

func New(k Kind, id session.ID) Event {
	switch k {
	case KindTx:
		return Tx{SessionID: id}
	case KindRetransmit:
		return Retransmit{SessionID: id}
	case KindRst:
		return Reset{SessionID: id}
	default:
		return Control{SessionID: id, Type: k}
	}
}

// Deferrable reports whether e may be held back by the ACK delayer.
func Deferrable(e Event) bool { return e.Kind() == KindAck }
