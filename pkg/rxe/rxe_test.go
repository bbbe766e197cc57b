package rxe

import (
	"net/netip"
	"testing"

	"github.com/google/netstack/tcpip/header"

	"toe-nts/pkg/event"
	"toe-nts/pkg/fifo"
	"toe-nts/pkg/porttable"
	"toe-nts/pkg/rxapp"
	"toe-nts/pkg/rxmem"
	"toe-nts/pkg/rxsar"
	"toe-nts/pkg/segment"
	"toe-nts/pkg/session"
	"toe-nts/pkg/testutil/testlog"
)

var (
	local  = netip.MustParseAddr("10.0.0.1")
	remote = netip.MustParseAddr("10.0.0.2")
	layout = rxmem.Layout{Base: 0x40000000, WindowBits: 8, Sessions: 4}
)

type rig struct {
	rxe    *Engine
	agency *session.Agency[session.FourTuple]
	sar    *rxsar.Table
	ports  *porttable.Table
	write  *fifo.Stream[rxmem.Write]
	events *fifo.Stream[event.Event]
	notify *fifo.Stream[rxapp.Notification]
}

func newRig(t *testing.T) *rig {
	log := testlog.Start(t)
	r := &rig{
		agency: session.NewAgency[session.FourTuple](session.AgencyConfig{Name: "toe.sessions", Capacity: 4, Depth: 4, AllocateIDs: true}, log),
		sar:    rxsar.New(4, layout.WindowBits, 4, log),
		ports:  porttable.New(4, log),
		write:  fifo.New[rxmem.Write]("write", 8),
		events: fifo.New[event.Event]("events", 8),
		notify: fifo.New[rxapp.Notification]("notify", 8),
	}
	r.rxe = New(Config{LocalAddr: local, Layout: layout, Depth: 4}, Links{
		Sessions: r.agency.Ports,
		Sar:      r.sar,
		CheckReq: r.ports.CheckReq,
		CheckRep: r.ports.CheckRep,
		MemWrite: r.write,
		Events:   r.events,
		Notify:   r.notify,
	}, log)
	r.ports.LsnReq.TryPush(80)
	r.ports.Step()
	r.ports.LsnRep.TryPop()
	return r
}

// packet builds a segment sent by the remote host to local:lport.
func packet(t *testing.T, rport, lport uint16, flags uint8, seq uint32, payload string) []byte {
	t.Helper()
	pkt, err := segment.Encode(segment.Fields{
		Tuple: session.FourTuple{RemoteAddr: local, RemotePort: lport, LocalAddr: remote, LocalPort: rport},
		Flags: flags, Seq: seq, Window: 1000, Payload: []byte(payload),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return pkt
}

func (r *rig) deliver(pkt []byte) {
	r.rxe.In.TryPush(pkt)
	for i := 0; i < 12; i++ {
		r.rxe.Step()
		r.agency.Step()
		r.sar.Step()
		r.ports.Step()
	}
}

func (r *rig) nextEvent(t *testing.T) event.Event {
	t.Helper()
	ev, ok := r.events.TryPop()
	if !ok {
		t.Fatalf("no event")
	}
	return ev
}

func TestPassiveOpenAndData(t *testing.T) {
	r := newRig(t)
	r.deliver(packet(t, 40000, 80, header.TCPFlagSyn, 100, ""))
	if ev := r.nextEvent(t); ev.Kind() != event.KindSynAck || ev.Session() != 0 {
		t.Fatalf("got %v", ev)
	}

	r.deliver(packet(t, 40000, 80, header.TCPFlagAck|header.TCPFlagPsh, 101, "hello"))
	w, ok := r.write.TryPop()
	if !ok || w.Addr != layout.Addr(0, 0) || string(w.Data) != "hello" {
		t.Fatalf("write got=%+v ok=%v", w, ok)
	}
	if got := r.sar.Get(0).Rcvd; got != 5 {
		t.Fatalf("rcvd got=%d", got)
	}
	n, ok := r.notify.TryPop()
	if !ok || n.Session != 0 || n.Length != 5 || n.LocalPort != 80 || n.RemoteAddr != remote || n.Closed {
		t.Fatalf("notification got=%+v", n)
	}
	if ev := r.nextEvent(t); ev.Kind() != event.KindAck {
		t.Fatalf("got %v", ev)
	}

	r.deliver(packet(t, 40000, 80, header.TCPFlagAck|header.TCPFlagPsh, 106, "world"))
	w, _ = r.write.TryPop()
	if w.Addr != layout.Addr(0, 5) {
		t.Fatalf("second write at %#x", w.Addr)
	}
}

func TestSynOnClosedPortIsReset(t *testing.T) {
	r := newRig(t)
	r.deliver(packet(t, 40000, 81, header.TCPFlagSyn, 500, ""))
	ev := r.nextEvent(t)
	rst, ok := ev.(event.Reset)
	if !ok || rst.Tuple == nil || rst.Tuple.LocalPort != 81 || rst.Seq != 501 {
		t.Fatalf("got %v", ev)
	}
	if r.agency.Table().Used() != 0 {
		t.Fatalf("session created for a closed port")
	}
}

func TestSegmentForUnknownSessionIsReset(t *testing.T) {
	r := newRig(t)
	r.deliver(packet(t, 40000, 80, header.TCPFlagAck, 7, "abc"))
	rst, ok := r.nextEvent(t).(event.Reset)
	if !ok || rst.Seq != 10 || rst.Tuple.RemotePort != 40000 {
		t.Fatalf("got %+v", rst)
	}
	r.deliver(packet(t, 40000, 80, header.TCPFlagRst, 7, ""))
	if !r.events.Empty() {
		t.Fatalf("RST answered with RST")
	}
}

func TestPeerResetDeletesSession(t *testing.T) {
	r := newRig(t)
	r.deliver(packet(t, 40000, 80, header.TCPFlagSyn, 1, ""))
	r.events.Drain()
	r.deliver(packet(t, 40000, 80, header.TCPFlagRst, 2, ""))
	if r.agency.Table().Used() != 0 {
		t.Fatalf("session survived RST")
	}
	if n, _ := r.notify.TryPop(); !n.Closed {
		t.Fatalf("close not notified")
	}
}

func TestFinIsAcknowledged(t *testing.T) {
	r := newRig(t)
	r.deliver(packet(t, 40000, 80, header.TCPFlagSyn, 1, ""))
	r.events.Drain()
	r.deliver(packet(t, 40000, 80, header.TCPFlagFin|header.TCPFlagAck, 2, ""))
	if ev := r.nextEvent(t); ev.Kind() != event.KindAck {
		t.Fatalf("got %v", ev)
	}
	if n, _ := r.notify.TryPop(); !n.Closed {
		t.Fatalf("close not notified")
	}
}

func TestBufferOverrunDropped(t *testing.T) {
	r := newRig(t)
	r.deliver(packet(t, 40000, 80, header.TCPFlagSyn, 1, ""))
	r.events.Drain()
	big := make([]byte, layout.WindowSize())
	r.deliver(packet(t, 40000, 80, header.TCPFlagAck, 2, string(big)))
	if !r.write.Empty() {
		t.Fatalf("payload larger than the window stored")
	}
	if ev := r.nextEvent(t); ev.Kind() != event.KindAckNoDelay {
		t.Fatalf("got %v", ev)
	}
}

func TestCorruptPacketDropped(t *testing.T) {
	r := newRig(t)
	pkt := packet(t, 40000, 80, header.TCPFlagSyn, 1, "x")
	pkt[len(pkt)-1] ^= 1
	r.deliver(pkt)
	if !r.events.Empty() || r.agency.Table().Used() != 0 {
		t.Fatalf("corrupt packet processed")
	}
	if _, err := Decode(pkt); err == nil {
		t.Fatalf("decode accepted a bad checksum")
	}
}
