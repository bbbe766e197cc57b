// Package segment encodes outgoing TCP segments into IPv4 packets and checks
// the checksums of received ones.
package segment

import (
	"net/netip"

	ipv4header "github.com/brown-csci1680/iptcp-headers"
	"github.com/google/netstack/tcpip"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"

	"toe-nts/pkg/session"
)

const defaultTTL = 64

// Fields describe one outgoing TCP segment. Tuple is seen from the local side:
// the segment travels from LocalAddr:LocalPort to RemoteAddr:RemotePort.
type Fields struct {
	Tuple   session.FourTuple
	Flags   uint8
	Seq     uint32
	Ack     uint32
	Window  uint16
	Payload []byte
}

// Encode builds the IPv4 packet carrying seg, both checksums filled in.
func Encode(seg Fields) ([]byte, error) {
	src, dst := seg.Tuple.LocalAddr, seg.Tuple.RemoteAddr
	if !src.Is4() || !dst.Is4() {
		return nil, errors.Errorf("segment %v: only IPv4 endpoints are supported", seg.Tuple)
	}

	tcpHdr := header.TCPFields{
		SrcPort:    seg.Tuple.LocalPort,
		DstPort:    seg.Tuple.RemotePort,
		SeqNum:     seg.Seq,
		AckNum:     seg.Ack,
		DataOffset: header.TCPMinimumSize,
		Flags:      seg.Flags,
		WindowSize: seg.Window,
	}
	tcpLen := header.TCPMinimumSize + len(seg.Payload)
	segment := make([]byte, tcpLen)
	tcp := header.TCP(segment)
	tcp.Encode(&tcpHdr)
	copy(segment[header.TCPMinimumSize:], seg.Payload)
	tcp.SetChecksum(^header.Checksum(segment, pseudoHeaderChecksum(src, dst, tcpLen)))

	ipHdr := ipv4header.IPv4Header{
		Version:  4,
		Len:      ipv4header.HeaderLen,
		TotalLen: ipv4header.HeaderLen + tcpLen,
		TTL:      defaultTTL,
		Protocol: int(header.TCPProtocolNumber),
		Src:      src,
		Dst:      dst,
		Options:  []byte{},
	}
	hdrBytes, err := ipHdr.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal ipv4 header")
	}
	ipHdr.Checksum = int(^header.Checksum(hdrBytes, 0))
	hdrBytes, err = ipHdr.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal ipv4 header")
	}

	pkt := make([]byte, 0, len(hdrBytes)+tcpLen)
	pkt = append(pkt, hdrBytes...)
	return append(pkt, segment...), nil
}

func pseudoHeaderChecksum(src, dst netip.Addr, tcpLen int) uint16 {
	return header.PseudoHeaderChecksum(header.TCPProtocolNumber,
		tcpip.Address(src.AsSlice()), tcpip.Address(dst.AsSlice()), uint16(tcpLen))
}

// Verify reports whether the IPv4 header and TCP checksums of pkt
// are valid.
func Verify(pkt []byte) bool {
	hdr, err := ipv4header.ParseHeader(pkt)
	if err != nil || len(pkt) < hdr.Len+header.TCPMinimumSize {
		return false
	}
	if header.Checksum(pkt[:hdr.Len], 0) != 0xffff {
		return false
	}
	segment := pkt[hdr.Len:]
	xsum := pseudoHeaderChecksum(hdr.Src, hdr.Dst, len(segment))
	return header.Checksum(segment, xsum) == 0xffff
}
