package toe

import (
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/netstack/tcpip/header"

	"toe-nts/pkg/event"
	"toe-nts/pkg/nal"
	"toe-nts/pkg/rxmem"
	"toe-nts/pkg/segment"
	"toe-nts/pkg/session"
	"toe-nts/pkg/testutil/testlog"
)

var (
	localAddr  = netip.MustParseAddr("10.0.0.1")
	remoteAddr = netip.MustParseAddr("10.0.0.2")
)

func newTestTOE(t *testing.T) *TOE {
	return New(Config{
		Sessions:    4,
		NALSessions: 4,
		DelayTicks:  50,
		Layout:      rxmem.Layout{Base: 0x40000000, WindowBits: 10},
		LocalAddr:   localAddr,
		Depth:       8,
	}, testlog.Start(t))
}

func inbound(t *testing.T, rport uint16, flags uint8, seq uint32, payload string) []byte {
	t.Helper()
	pkt, err := segment.Encode(segment.Fields{
		Tuple: session.FourTuple{RemoteAddr: localAddr, RemotePort: 80, LocalAddr: remoteAddr, LocalPort: rport},
		Flags: flags, Seq: seq, Window: 4096, Payload: []byte(payload),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return pkt
}

// sent runs n ticks and returns the TCP headers the engine transmitted.
func sent(t *testing.T, e *TOE, n int) []*layers.TCP {
	t.Helper()
	var out []*layers.TCP
	for i := 0; i < n; i++ {
		e.Tick()
		for {
			pkt, ok := e.Transmitted()
			if !ok {
				break
			}
			if !segment.Verify(pkt) {
				t.Fatalf("engine sent a packet with bad checksums")
			}
			p := gopacket.NewPacket(pkt, layers.LayerTypeIPv4, gopacket.Default)
			tcp, ok := p.Layer(layers.LayerTypeTCP).(*layers.TCP)
			if !ok {
				t.Fatalf("sent packet is not tcp")
			}
			out = append(out, tcp)
		}
	}
	return out
}

func TestConnectionLifecycle(t *testing.T) {
	e := newTestTOE(t)
	e.Listen(80)
	e.Run(4)
	if ok, got := e.ListenReply(); !got || !ok {
		t.Fatalf("listen on port 80 not accepted")
	}

	e.Receive(inbound(t, 40000, header.TCPFlagSyn, 1000, ""))
	segs := sent(t, e, 30)
	if len(segs) != 1 || !segs[0].SYN || !segs[0].ACK || segs[0].DstPort != 40000 {
		t.Fatalf("expected one SYN-ACK, got %d segments", len(segs))
	}
	rows, err := e.SessionRows()
	if err != nil || len(rows) != 1 || rows[0].ID != 0 {
		t.Fatalf("session rows %+v err=%v", rows, err)
	}

	e.Receive(inbound(t, 40000, header.TCPFlagAck|header.TCPFlagPsh, 1001, "hello, world"))
	e.Run(10)
	n, ok := e.Notifications()
	if !ok || n.Session != 0 || n.Length != 12 {
		t.Fatalf("notification %+v ok=%v", n, ok)
	}
	if e.AckDelay.Pending(0) == 0 {
		t.Fatalf("data ACK not deferred")
	}
	nalRows, _ := e.NALRows()
	if len(nalRows) != 1 || nalRows[0].Key != nal.NewTriple(remoteAddr, 40000, 80) {
		t.Fatalf("nal rows %+v", nalRows)
	}

	e.Read(0, 12)
	var data []byte
	for i := 0; i < 30; i++ {
		e.Tick()
		for {
			c, ok := e.ReadChunk()
			if !ok {
				break
			}
			data = append(data, c.Bytes()...)
		}
	}
	if string(data) != "hello, world" {
		t.Fatalf("read got=%q", data)
	}
	if id, ok := e.ReadMeta(); !ok || id != 0 {
		t.Fatalf("read metadata %d %v", id, ok)
	}

	segs = sent(t, e, 300)
	if len(segs) != 1 || !segs[0].ACK || segs[0].SYN || segs[0].FIN {
		t.Fatalf("expected one delayed ACK, got %d segments", len(segs))
	}

	e.Trigger(nal.LinkDown)
	segs = sent(t, e, 40)
	if len(segs) != 1 || !segs[0].FIN {
		t.Fatalf("expected FIN for the unprivileged session, got %d segments", len(segs))
	}
}

func TestUnknownSegmentAnsweredWithReset(t *testing.T) {
	e := newTestTOE(t)
	e.Receive(inbound(t, 40001, header.TCPFlagAck, 77, "zz"))
	segs := sent(t, e, 20)
	if len(segs) != 1 || !segs[0].RST || segs[0].Ack != 79 {
		t.Fatalf("expected RST, got %d segments", len(segs))
	}
}

func TestApplicationEventsAreThrottled(t *testing.T) {
	e := newTestTOE(t)
	e.Listen(80)
	e.Run(4)
	e.Receive(inbound(t, 40000, header.TCPFlagSyn, 1, ""))
	sent(t, e, 30)

	e.Submit(event.New(event.KindAckNoDelay, 0))
	e.SubmitTimer(event.Retransmit{SessionID: 0, Addr: 5, Len: 10})
	segs := sent(t, e, 40)
	if len(segs) != 2 {
		t.Fatalf("segments got=%d", len(segs))
	}
	if !segs[0].PSH || segs[0].Seq != 5 {
		t.Fatalf("timer event not first: %+v", segs[0])
	}
	if e.Events.InFlight() {
		t.Fatalf("event engine still has events in flight")
	}
}

func TestResetClearsEverything(t *testing.T) {
	e := newTestTOE(t)
	e.Listen(80)
	e.Run(4)
	e.Receive(inbound(t, 40000, header.TCPFlagSyn, 1, ""))
	sent(t, e, 30)
	if err := e.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	rows, _ := e.SessionRows()
	if len(rows) != 0 || len(e.Ports.Listening()) != 0 || e.Ticks() != 0 {
		t.Fatalf("state survived reset")
	}
	e.Receive(inbound(t, 40000, header.TCPFlagSyn, 1, ""))
	segs := sent(t, e, 30)
	if len(segs) != 1 || !segs[0].RST {
		t.Fatalf("port still listening after reset")
	}
}

func TestStartStop(t *testing.T) {
	e := newTestTOE(t)
	e.Start()
	if _, err := e.SessionRows(); err != ErrRunning {
		t.Fatalf("snapshot allowed while running")
	}
	if err := e.Reset(); err != ErrRunning {
		t.Fatalf("reset allowed while running")
	}
	e.Stop()
	if e.Running() {
		t.Fatalf("still running after stop")
	}
}
