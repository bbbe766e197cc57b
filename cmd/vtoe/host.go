package main

import (
	"fmt"
	"io"
	"net/netip"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/rs/zerolog"

	"toe-nts/pkg/session"
	"toe-nts/pkg/toe"
)

// host owns the engine. Every access, ticking included, holds mu.
type host struct {
	mu     sync.Mutex
	engine *toe.TOE
	local  netip.Addr
	out    io.Writer
	log    zerolog.Logger

	// peer sequence numbers of the simulated remote hosts
	peerSeq map[session.FourTuple]uint32
	reading []byte

	period time.Duration
	done   chan struct{}
	wg     sync.WaitGroup
}

func newHost(engine *toe.TOE, local netip.Addr, out io.Writer, log zerolog.Logger) *host {
	return &host{
		engine:  engine,
		local:   local,
		out:     out,
		log:     log,
		peerSeq: make(map[session.FourTuple]uint32),
	}
}

func (h *host) startLoop(period time.Duration) {
	h.period = period
	h.done = make(chan struct{})
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.tick(1)
			case <-h.done:
				return
			}
		}
	}()
}

func (h *host) stopLoop() {
	if h.done == nil {
		return
	}
	close(h.done)
	h.wg.Wait()
	h.done = nil
}

// tick advances the engine n steps and reports everything it produced.
func (h *host) tick(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < n; i++ {
		h.engine.Tick()
		h.collect()
	}
}

func (h *host) collect() {
	e := h.engine
	for {
		pkt, ok := e.Transmitted()
		if !ok {
			break
		}
		fmt.Fprintln(h.out, describe(pkt))
	}
	for {
		n, ok := e.Notifications()
		if !ok {
			break
		}
		if n.Closed {
			fmt.Fprintf(h.out, "Session %d closed by %v:%d\n", n.Session, n.RemoteAddr, n.RemotePort)
		} else {
			fmt.Fprintf(h.out, "Session %d: %d bytes ready from %v:%d\n", n.Session, n.Length, n.RemoteAddr, n.RemotePort)
		}
	}
	for {
		accepted, ok := e.ListenReply()
		if !ok {
			break
		}
		if accepted {
			fmt.Fprintln(h.out, "Created listen socket")
		} else {
			fmt.Fprintln(h.out, "Listen refused")
		}
	}
	for {
		id, ok := e.ReadMeta()
		if !ok {
			break
		}
		fmt.Fprintf(h.out, "Reading from session %d\n", id)
	}
	for {
		c, ok := e.ReadChunk()
		if !ok {
			break
		}
		h.reading = append(h.reading, c.Bytes()...)
		if c.Last {
			fmt.Fprintf(h.out, "Read %d bytes: %s\n", len(h.reading), h.reading)
			h.reading = h.reading[:0]
		}
	}
}

// describe summarizes an outgoing packet.
func describe(pkt []byte) string {
	p := gopacket.NewPacket(pkt, layers.LayerTypeIPv4, gopacket.Default)
	ip, _ := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	tcp, _ := p.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if ip == nil || tcp == nil {
		return fmt.Sprintf("Sent %d bytes (undecodable)", len(pkt))
	}
	flags := ""
	for _, f := range []struct {
		set  bool
		name string
	}{{tcp.SYN, "S"}, {tcp.FIN, "F"}, {tcp.RST, "R"}, {tcp.PSH, "P"}, {tcp.ACK, "A"}} {
		if f.set {
			flags += f.name
		}
	}
	return fmt.Sprintf("Sent [%s] %v:%d -> %v:%d seq=%d ack=%d win=%d",
		flags, ip.SrcIP, tcp.SrcPort, ip.DstIP, tcp.DstPort, tcp.Seq, tcp.Ack, tcp.Window)
}

// withEngine runs fn with the engine locked.
func (h *host) withEngine(fn func(e *toe.TOE)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.engine)
}
