// Package rxe is the receive path adapter: it decodes IPv4/TCP packets,
// resolves their session and turns them into events for the event engine,
// buffer writes and notifications for the application.
package rxe

import (
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"toe-nts/pkg/event"
	"toe-nts/pkg/fifo"
	"toe-nts/pkg/metrics"
	"toe-nts/pkg/rxapp"
	"toe-nts/pkg/rxmem"
	"toe-nts/pkg/rxsar"
	"toe-nts/pkg/segment"
	"toe-nts/pkg/session"
)

// Packet is a decoded TCP segment.
type Packet struct {
	Tuple   session.FourTuple
	Seq     uint32
	SYN     bool
	ACK     bool
	FIN     bool
	RST     bool
	Payload []byte
}

// Decode parses an IPv4 packet carrying TCP. The tuple is seen from the
// local side.
func Decode(raw []byte) (Packet, error) {
	if !segment.Verify(raw) {
		return Packet{}, errors.New("bad checksum")
	}
	p := gopacket.NewPacket(raw, layers.LayerTypeIPv4, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	ip, ok := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return Packet{}, errors.New("not an ipv4 packet")
	}
	tcp, ok := p.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if !ok {
		return Packet{}, errors.Errorf("protocol %v is not tcp", ip.Protocol)
	}
	src, _ := netip.AddrFromSlice(ip.SrcIP.To4())
	dst, _ := netip.AddrFromSlice(ip.DstIP.To4())
	return Packet{
		Tuple: session.FourTuple{
			RemoteAddr: src,
			RemotePort: uint16(tcp.SrcPort),
			LocalAddr:  dst,
			LocalPort:  uint16(tcp.DstPort),
		},
		Seq:     tcp.Seq,
		SYN:     tcp.SYN,
		ACK:     tcp.ACK,
		FIN:     tcp.FIN,
		RST:     tcp.RST,
		Payload: tcp.Payload,
	}, nil
}

// seqLen is the sequence space the segment occupies.
func (p Packet) seqLen() uint32 {
	n := uint32(len(p.Payload))
	if p.SYN {
		n++
	}
	if p.FIN {
		n++
	}
	return n
}

type rxState int

const (
	rxIdle rxState = iota
	rxWaitPort
	rxWaitLookup
	rxWaitSar
)

type Config struct {
	LocalAddr netip.Addr
	Layout    rxmem.Layout
	Depth     int
}

// Links are the request and reply streams rxe uses.
type Links struct {
	Sessions session.Ports[session.FourTuple]
	Sar      *rxsar.Table
	CheckReq *fifo.Stream[uint16]
	CheckRep *fifo.Stream[bool]
	MemWrite *fifo.Stream[rxmem.Write]
	Events   *fifo.Stream[event.Event]
	Notify   *fifo.Stream[rxapp.Notification]
}

// Engine handles one packet at a time.
type Engine struct {
	In *fifo.Stream[[]byte]

	links  Links
	local  netip.Addr
	layout rxmem.Layout
	state  rxState
	cur    Packet
	id     session.ID
	log    zerolog.Logger
}

func New(cfg Config, links Links, log zerolog.Logger) *Engine {
	return &Engine{
		In:     fifo.New[[]byte]("rxe.in", cfg.Depth),
		links:  links,
		local:  cfg.LocalAddr,
		layout: cfg.Layout,
		log:    log.With().Str("stage", "rxe").Logger(),
	}
}

func (e *Engine) Name() string { return "rxe" }

// outputsReady reports whether every stream a transition may push to has
// room.
func (e *Engine) outputsReady() bool {
	l := e.links
	return !l.Events.Full() && !l.Notify.Full() && !l.MemWrite.Full() &&
		!l.Sar.RxeReq.Full() && !l.Sessions.LookupReq.Full() && !l.Sessions.DeleteReq.Full() &&
		!l.CheckReq.Full()
}

func (e *Engine) Step() {
	if !e.outputsReady() {
		return
	}
	switch e.state {
	case rxIdle:
		raw, ok := e.In.TryPop()
		if !ok {
			return
		}
		p, err := Decode(raw)
		if err != nil {
			e.log.Debug().Err(err).Int("len", len(raw)).Msg("packet dropped")
			metrics.RecordDrop("decode")
			return
		}
		if e.local.IsValid() && p.Tuple.LocalAddr != e.local {
			e.log.Debug().Stringer("dst", p.Tuple.LocalAddr).Msg("packet for another host dropped")
			metrics.RecordDrop("foreign_address")
			return
		}
		e.cur = p
		if p.SYN && !p.ACK && !p.RST {
			e.links.CheckReq.TryPush(p.Tuple.LocalPort)
			e.state = rxWaitPort
			return
		}
		e.links.Sessions.LookupReq.TryPush(session.LookupQuery[session.FourTuple]{Key: p.Tuple})
		e.state = rxWaitLookup
	case rxWaitPort:
		listening, ok := e.links.CheckRep.TryPop()
		if !ok {
			return
		}
		if !listening {
			e.log.Debug().Uint16("port", e.cur.Tuple.LocalPort).Msg("SYN on closed port")
			e.reset()
			e.state = rxIdle
			return
		}
		e.links.Sessions.LookupReq.TryPush(session.LookupQuery[session.FourTuple]{Key: e.cur.Tuple, AllowCreation: true})
		e.state = rxWaitLookup
	case rxWaitLookup:
		rep, ok := e.links.Sessions.LookupRep.TryPop()
		if !ok {
			return
		}
		e.state = rxIdle
		if !rep.Found {
			if !e.cur.RST {
				e.reset()
			}
			return
		}
		e.id = rep.ID
		e.handle(rep.Created)
	case rxWaitSar:
		sar, ok := e.links.Sar.RxeRep.TryPop()
		if !ok {
			return
		}
		e.state = rxIdle
		e.store(sar)
	}
}

func (e *Engine) handle(created bool) {
	p := e.cur
	switch {
	case p.RST:
		e.links.Sessions.DeleteReq.TryPush(e.id)
		e.links.Notify.TryPush(e.notification(0, true))
		e.log.Debug().Uint16("session", uint16(e.id)).Msg("connection reset by peer")
	case p.SYN:
		if created {
			e.links.Sar.RxeReq.TryPush(rxsar.RxeQuery{Session: e.id, Init: true})
			e.log.Info().Uint16("session", uint16(e.id)).Stringer("tuple", p.Tuple).Msg("session opened")
		}
		e.links.Events.TryPush(event.New(event.KindSynAck, e.id))
	case len(p.Payload) > 0:
		e.links.Sar.RxeReq.TryPush(rxsar.RxeQuery{Session: e.id})
		e.state = rxWaitSar
	case p.FIN:
		e.links.Events.TryPush(event.NewAck(e.id))
		e.links.Notify.TryPush(e.notification(0, true))
	}
}

func (e *Engine) store(sar rxsar.RxeReply) {
	p := e.cur
	n := uint32(len(p.Payload))
	if n > sar.Free(e.layout.WindowSize()) {
		e.log.Warn().Uint16("session", uint16(e.id)).Uint32("len", n).Msg("receive buffer full, payload dropped")
		metrics.RecordDrop("rx_buffer_full")
		e.links.Events.TryPush(event.New(event.KindAckNoDelay, e.id))
		return
	}
	e.links.MemWrite.TryPush(rxmem.Write{Addr: e.layout.Addr(e.id, sar.Rcvd), Data: p.Payload})
	e.links.Sar.RxeReq.TryPush(rxsar.RxeQuery{Session: e.id, Rcvd: sar.Rcvd + n, Write: true})
	e.links.Notify.TryPush(e.notification(uint16(n), p.FIN))
	e.links.Events.TryPush(event.NewAck(e.id))
}

func (e *Engine) notification(n uint16, closed bool) rxapp.Notification {
	return rxapp.Notification{
		Session:    e.id,
		Length:     n,
		RemoteAddr: e.cur.Tuple.RemoteAddr,
		RemotePort: e.cur.Tuple.RemotePort,
		LocalPort:  e.cur.Tuple.LocalPort,
		Closed:     closed,
	}
}

// reset answers the current packet with a RST addressed to its tuple.
func (e *Engine) reset() {
	t := e.cur.Tuple
	e.links.Events.TryPush(event.Reset{Seq: e.cur.Seq + e.cur.seqLen(), Tuple: &t})
}

func (e *Engine) Reset() {
	e.state = rxIdle
	e.cur = Packet{}
	e.id = 0
	e.In.Drain()
}
