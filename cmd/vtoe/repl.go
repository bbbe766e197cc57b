package main

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/google/netstack/tcpip/header"

	"toe-nts/pkg/event"
	"toe-nts/pkg/nal"
	"toe-nts/pkg/segment"
	"toe-nts/pkg/session"
	"toe-nts/pkg/toe"
)

const helpText = `Commands:
  ls                              list TOE sessions
  lnal                            list NAL sessions
  lp                              list listening ports
  a <port>                        listen on port
  cp <port>                       stop listening on port
  r <sid> <bytes>                 read from session
  s <sid> <addr> <len>            transmit from the tx buffer
  fin <sid>                       close session
  rt <sid> <addr> <len>           inject a retransmission timer event
  priv <sid>                      keep NAL session open on link down
  down | decouple | notready      trigger the NAL closer
  peer <syn|data|fin|rst> <raddr> <rport> <lport> [text]
                                  inject a segment from a remote host
  tick [n]                        step the engine n times
  pause | resume                  stop or restart the background clock
  reset                           reset every stage
  q                               quit`

// execute runs one REPL line and reports whether the user asked to quit.
func (h *host) execute(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	args := fields[1:]
	switch fields[0] {
	case "q":
		return true
	case "help":
		fmt.Fprintln(h.out, helpText)
	case "ls":
		h.listSessions()
	case "lnal":
		h.listNAL()
	case "lp":
		h.withEngine(func(e *toe.TOE) {
			fmt.Fprintln(h.out, "Listening:", e.Ports.Listening())
		})
	case "a", "cp":
		port, err := parsePort(args, 0)
		if err != nil {
			fmt.Fprintln(h.out, err)
			return false
		}
		h.withEngine(func(e *toe.TOE) {
			var ok bool
			if fields[0] == "a" {
				ok = e.Listen(port)
			} else {
				ok = e.ClosePort(port)
			}
			if !ok {
				fmt.Fprintln(h.out, "Error: request queue full")
			}
		})
	case "r":
		nums, err := parseNums(args, 2)
		if err != nil {
			fmt.Fprintln(h.out, err)
			return false
		}
		h.withEngine(func(e *toe.TOE) {
			if !e.Read(session.ID(nums[0]), uint16(nums[1])) {
				fmt.Fprintln(h.out, "Error: request queue full")
			}
		})
	case "s", "rt":
		nums, err := parseNums(args, 3)
		if err != nil {
			fmt.Fprintln(h.out, err)
			return false
		}
		id, addr, n := session.ID(nums[0]), uint32(nums[1]), uint16(nums[2])
		h.withEngine(func(e *toe.TOE) {
			var ok bool
			if fields[0] == "s" {
				ok = e.Submit(event.Tx{SessionID: id, Addr: addr, Len: n})
			} else {
				ok = e.SubmitTimer(event.Retransmit{SessionID: id, Addr: addr, Len: n})
			}
			if !ok {
				fmt.Fprintln(h.out, "Error: event queue full")
			}
		})
	case "fin":
		nums, err := parseNums(args, 1)
		if err != nil {
			fmt.Fprintln(h.out, err)
			return false
		}
		h.withEngine(func(e *toe.TOE) {
			if !e.Submit(event.New(event.KindFin, session.ID(nums[0]))) {
				fmt.Fprintln(h.out, "Error: event queue full")
			}
		})
	case "priv":
		nums, err := parseNums(args, 1)
		if err != nil {
			fmt.Fprintln(h.out, err)
			return false
		}
		h.withEngine(func(e *toe.TOE) {
			if !e.NAL.Privilege(session.ID(nums[0])) {
				fmt.Fprintln(h.out, "Error: request queue full")
			}
		})
	case "down", "decouple", "notready":
		cause := map[string]nal.Cause{"down": nal.LinkDown, "decouple": nal.Decouple, "notready": nal.NotReady}[fields[0]]
		h.withEngine(func(e *toe.TOE) {
			if !e.Trigger(cause) {
				fmt.Fprintln(h.out, "Error: trigger queue full")
			}
		})
	case "peer":
		if err := h.peer(args); err != nil {
			fmt.Fprintln(h.out, err)
		}
	case "tick":
		n := 1
		if len(args) > 0 {
			v, err := strconv.Atoi(args[0])
			if err != nil || v <= 0 {
				fmt.Fprintln(h.out, "Error: invalid tick count")
				return false
			}
			n = v
		}
		h.tick(n)
	case "pause":
		h.stopLoop()
	case "resume":
		if h.done == nil {
			h.startLoop(h.period)
		}
	case "reset":
		h.withEngine(func(e *toe.TOE) {
			if err := e.Reset(); err != nil {
				fmt.Fprintln(h.out, err)
				return
			}
			h.peerSeq = make(map[session.FourTuple]uint32)
			fmt.Fprintln(h.out, "Engine reset")
		})
	default:
		fmt.Fprintln(h.out, "Invalid command:", fields[0])
	}
	return false
}

func (h *host) listSessions() {
	h.withEngine(func(e *toe.TOE) {
		rows, err := e.SessionRows()
		if err != nil {
			fmt.Fprintln(h.out, err)
			return
		}
		fmt.Fprintln(h.out, "SID  RAddr           RPort   LAddr           LPort   Status")
		for _, r := range rows {
			if !r.Used {
				continue
			}
			fmt.Fprintf(h.out, "%-4d %-15v %-7d %-15v %-7d %s\n", r.ID, r.Key.RemoteAddr, r.Key.RemotePort, r.Key.LocalAddr, r.Key.LocalPort, status(r.PendingDelete, r.Privileged))
		}
	})
}

func (h *host) listNAL() {
	h.withEngine(func(e *toe.TOE) {
		rows, err := e.NALRows()
		if err != nil {
			fmt.Fprintln(h.out, err)
			return
		}
		fmt.Fprintln(h.out, "SID  Triple                          Status")
		for _, r := range rows {
			if !r.Used {
				continue
			}
			fmt.Fprintf(h.out, "%-4d %-31v %s\n", r.ID, r.Key, status(r.PendingDelete, r.Privileged))
		}
	})
}

func status(pending, privileged bool) string {
	switch {
	case pending:
		return "CLOSING"
	case privileged:
		return "PRIVILEGED"
	default:
		return "ESTABLISHED"
	}
}

// peer injects a segment as if sent by a remote host. The simulated peer
// keeps its own sequence number per socket pair.
func (h *host) peer(args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("Usage: peer <syn|data|fin|rst> <raddr> <rport> <lport> [text]")
	}
	remote, err := netip.ParseAddr(args[1])
	if err != nil {
		return fmt.Errorf("Error: invalid address %q", args[1])
	}
	rport, err := parsePort(args, 2)
	if err != nil {
		return err
	}
	lport, err := parsePort(args, 3)
	if err != nil {
		return err
	}
	payload := []byte(strings.Join(args[4:], " "))

	tuple := session.FourTuple{RemoteAddr: remote, RemotePort: rport, LocalAddr: h.local, LocalPort: lport}
	// from the peer's side the roles swap
	seg := segment.Fields{
		Tuple:  session.FourTuple{RemoteAddr: h.local, RemotePort: lport, LocalAddr: remote, LocalPort: rport},
		Window: 0xFFFF,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	seq := h.peerSeq[tuple]
	switch args[0] {
	case "syn":
		seg.Flags = header.TCPFlagSyn
		seq = 1000
		seg.Seq = seq
		seq++
	case "data":
		seg.Flags = header.TCPFlagAck | header.TCPFlagPsh
		seg.Seq = seq
		seg.Payload = payload
		seq += uint32(len(payload))
	case "fin":
		seg.Flags = header.TCPFlagFin | header.TCPFlagAck
		seg.Seq = seq
		seq++
	case "rst":
		seg.Flags = header.TCPFlagRst
		seg.Seq = seq
	default:
		return fmt.Errorf("Error: unknown segment type %q", args[0])
	}
	pkt, err := segment.Encode(seg)
	if err != nil {
		return err
	}
	if !h.engine.Receive(pkt) {
		return fmt.Errorf("Error: receive queue full")
	}
	h.peerSeq[tuple] = seq
	h.log.Debug().Stringer("tuple", tuple).Str("type", args[0]).Int("len", len(payload)).Msg("injected peer segment")
	return nil
}

func parsePort(args []string, i int) (uint16, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("Error: missing port")
	}
	v, err := strconv.ParseUint(args[i], 10, 16)
	if err != nil {
		return 0, fmt.Errorf("Error: invalid port %q", args[i])
	}
	return uint16(v), nil
}

func parseNums(args []string, n int) ([]uint64, error) {
	if len(args) < n {
		return nil, fmt.Errorf("Error: expected %d arguments", n)
	}
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseUint(args[i], 0, 32)
		if err != nil {
			return nil, fmt.Errorf("Error: invalid number %q", args[i])
		}
		out[i] = v
	}
	return out, nil
}
