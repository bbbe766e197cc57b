package txe

import (
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"toe-nts/pkg/event"
	"toe-nts/pkg/fifo"
	"toe-nts/pkg/session"
	"toe-nts/pkg/testutil/testlog"
)

var peer = session.FourTuple{
	RemoteAddr: netip.MustParseAddr("10.0.0.2"),
	RemotePort: 40000,
	LocalAddr:  netip.MustParseAddr("10.0.0.1"),
	LocalPort:  80,
}

func decode(t *testing.T, pkt []byte) (*layers.IPv4, *layers.TCP) {
	t.Helper()
	p := gopacket.NewPacket(pkt, layers.LayerTypeIPv4, gopacket.Default)
	ip, ok := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		t.Fatalf("no ipv4 layer: %v", p.ErrorLayer())
	}
	tcp, ok := p.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if !ok {
		t.Fatalf("no tcp layer: %v", p.ErrorLayer())
	}
	return ip, tcp
}

type rig struct {
	agency *session.Agency[session.FourTuple]
	in     *fifo.Stream[event.Event]
	txe    *Transmitter
}

func newRig(t *testing.T) *rig {
	log := testlog.Start(t)
	r := &rig{
		agency: session.NewAgency[session.FourTuple](session.AgencyConfig{Name: "toe.sessions", Capacity: 4, Depth: 4, AllocateIDs: true}, log),
		in:     fifo.New[event.Event]("in", 4),
	}
	r.txe = New(Config{Depth: 4, Window: 1024}, r.in, r.agency.Ports, log)
	r.agency.InsertReq.TryPush(session.Entry[session.FourTuple]{Key: peer, ID: 2})
	r.agency.Step()
	r.agency.Step()
	return r
}

func (r *rig) run(n int) {
	for i := 0; i < n; i++ {
		r.txe.Step()
		r.agency.Step()
	}
}

func TestEventBecomesSegment(t *testing.T) {
	r := newRig(t)
	r.in.TryPush(event.New(event.KindFin, 2))
	r.run(4)
	if r.txe.RxSig.Len() != 1 {
		t.Fatalf("credits got=%d", r.txe.RxSig.Len())
	}
	pkt, ok := r.txe.Out.TryPop()
	if !ok {
		t.Fatalf("no segment")
	}
	_, tcp := decode(t, pkt)
	if !tcp.FIN || !tcp.ACK || tcp.DstPort != 40000 || tcp.Window != 1024 {
		t.Fatalf("segment %+v", tcp)
	}
}

func TestUnknownSessionDropped(t *testing.T) {
	r := newRig(t)
	r.in.TryPush(event.NewAck(3))
	r.in.TryPush(event.New(event.KindAckNoDelay, 2))
	r.run(8)
	if r.txe.RxSig.Len() != 2 {
		t.Fatalf("credits got=%d", r.txe.RxSig.Len())
	}
	if r.txe.Out.Len() != 1 || r.txe.Sent() != 1 {
		t.Fatalf("segments got=%d", r.txe.Out.Len())
	}
}

func TestResetWithTupleSkipsLookup(t *testing.T) {
	r := newRig(t)
	stranger := peer
	stranger.RemotePort = 5555
	r.in.TryPush(event.Reset{Seq: 99, Tuple: &stranger})
	r.txe.Step()
	pkt, ok := r.txe.Out.TryPop()
	if !ok {
		t.Fatalf("no reset segment")
	}
	_, tcp := decode(t, pkt)
	if !tcp.RST || tcp.Ack != 99 || tcp.DstPort != 5555 {
		t.Fatalf("reset segment %+v", tcp)
	}
	if !r.agency.ReverseReq.Empty() {
		t.Fatalf("lookup issued for a tuple-carrying reset")
	}
}
