package main

import (
	"bytes"
	"net/netip"
	"strings"
	"testing"

	"toe-nts/pkg/rxmem"
	"toe-nts/pkg/testutil/testlog"
	"toe-nts/pkg/toe"
)

func newTestHost(t *testing.T) (*host, *bytes.Buffer) {
	local := netip.MustParseAddr("10.0.0.1")
	log := testlog.Start(t)
	e := toe.New(toe.Config{
		Sessions:    4,
		NALSessions: 4,
		DelayTicks:  50,
		Layout:      rxmem.Layout{Base: 0x40000000, WindowBits: 10},
		LocalAddr:   local,
		Depth:       8,
	}, log)
	var out bytes.Buffer
	return newHost(e, local, &out, log), &out
}

func TestREPLHandshakeAndRead(t *testing.T) {
	h, out := newTestHost(t)

	h.execute("a 80")
	h.execute("tick 4")
	if !strings.Contains(out.String(), "Created listen socket") {
		t.Fatalf("listen not confirmed:\n%s", out.String())
	}

	h.execute("peer syn 10.0.0.2 40000 80")
	h.execute("tick 30")
	if !strings.Contains(out.String(), "Sent [SA]") {
		t.Fatalf("no SYN-ACK:\n%s", out.String())
	}

	h.execute("peer data 10.0.0.2 40000 80 hello")
	h.execute("tick 20")
	if !strings.Contains(out.String(), "5 bytes ready") {
		t.Fatalf("no data notification:\n%s", out.String())
	}

	h.execute("r 0 5")
	h.execute("tick 30")
	if !strings.Contains(out.String(), "Read 5 bytes: hello") {
		t.Fatalf("read did not return payload:\n%s", out.String())
	}

	out.Reset()
	h.execute("ls")
	if !strings.Contains(out.String(), "40000") {
		t.Fatalf("session missing from listing:\n%s", out.String())
	}
}

func TestREPLRejectsBadInput(t *testing.T) {
	h, out := newTestHost(t)
	for _, line := range []string{"a", "a 99999", "r 1", "peer syn nothere 1 2", "bogus"} {
		out.Reset()
		if h.execute(line) {
			t.Fatalf("%q quit the repl", line)
		}
		if out.Len() == 0 {
			t.Errorf("%q printed nothing", line)
		}
	}
	if !h.execute("q") {
		t.Fatalf("q did not quit")
	}
}
