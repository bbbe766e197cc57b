package segment

import (
	"net/netip"
	"testing"

	ipv4header "github.com/brown-csci1680/iptcp-headers"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/netstack/tcpip/header"

	"toe-nts/pkg/session"
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

func TestEncode(t *testing.T) {
	pkt, err := Encode(Fields{Tuple: peer, Flags: header.TCPFlagSyn | header.TCPFlagAck, Seq: 7, Ack: 1001, Window: 0xFFFF, Payload: []byte("hi!")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !Verify(pkt) {
		t.Fatalf("checksums invalid")
	}
	ip, tcp := decode(t, pkt)
	if ip.SrcIP.String() != "10.0.0.1" || ip.DstIP.String() != "10.0.0.2" || ip.Protocol != layers.IPProtocolTCP {
		t.Fatalf("ip header %v -> %v proto %v", ip.SrcIP, ip.DstIP, ip.Protocol)
	}
	if tcp.SrcPort != 80 || tcp.DstPort != 40000 || !tcp.SYN || !tcp.ACK || tcp.FIN || tcp.RST {
		t.Fatalf("tcp header %+v", tcp)
	}
	if tcp.Seq != 7 || tcp.Ack != 1001 || string(tcp.Payload) != "hi!" {
		t.Fatalf("seq=%d ack=%d payload=%q", tcp.Seq, tcp.Ack, tcp.Payload)
	}
	hdr, err := ipv4header.ParseHeader(pkt)
	if err != nil || hdr.TotalLen != len(pkt) {
		t.Fatalf("parsed header %+v err=%v", hdr, err)
	}

	pkt[len(pkt)-1] ^= 0xFF
	if Verify(pkt) {
		t.Fatalf("corrupted payload passed verification")
	}
}

func TestEncodeRejectsIPv6(t *testing.T) {
	tuple := peer
	tuple.RemoteAddr = netip.MustParseAddr("::1")
	if _, err := Encode(Fields{Tuple: tuple}); err == nil {
		t.Fatalf("ipv6 endpoint accepted")
	}
}

func TestChecksumMatchesGopacket(t *testing.T) {
	pkt, err := Encode(Fields{Tuple: peer, Flags: header.TCPFlagAck | header.TCPFlagPsh, Seq: 1, Ack: 2, Window: 512, Payload: []byte("odd")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ip, tcp := decode(t, pkt)
	want := tcp.Checksum

	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("set network layer: %v", err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, tcp, gopacket.Payload(tcp.Payload)); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	_, again := decode(t, append(pkt[:ipv4header.HeaderLen:ipv4header.HeaderLen], buf.Bytes()...))
	if again.Checksum != want {
		t.Fatalf("checksum got=%#x gopacket=%#x", want, again.Checksum)
	}
}
