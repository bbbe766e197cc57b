package rxmem

import (
	"bytes"
	"testing"

	"toe-nts/pkg/testutil/testlog"
)

func testLayout() Layout {
	return Layout{Base: 0x40000000, WindowBits: 8, Sessions: 4}
}

func TestLayoutAddr(t *testing.T) {
	l := Layout{Base: 0x40000000, WindowBits: 16, Sessions: 32}
	if got := l.Addr(5, 0x1234); got != 0x40051234 {
		t.Fatalf("addr got=%#x", got)
	}
	if got := l.Addr(5, 0x11234); got != 0x40051234 {
		t.Fatalf("offset not masked: %#x", got)
	}
	if l.Offset(0x4005FFF0) != 0xFFF0 {
		t.Fatalf("offset got=%#x", l.Offset(0x4005FFF0))
	}
}

func TestWriteWrapsInsideWindow(t *testing.T) {
	m := New(testLayout(), 4, testlog.Start(t))
	l := m.Layout()
	m.WriteReq.TryPush(Write{Addr: l.Addr(1, 250), Data: []byte("0123456789")})
	m.Step()
	if got := m.Peek(1, 250, 6); string(got) != "012345" {
		t.Fatalf("tail of window got=%q", got)
	}
	if got := m.Peek(1, 0, 4); string(got) != "6789" {
		t.Fatalf("head of window got=%q", got)
	}
	if got := m.Peek(2, 0, 4); !bytes.Equal(got, make([]byte, 4)) {
		t.Fatalf("neighbouring window touched: %q", got)
	}
}

func TestReadChunks(t *testing.T) {
	m := New(testLayout(), 8, testlog.Start(t))
	payload := []byte("abcdefghijklmnopqrst")
	m.Poke(3, 16, payload)
	m.ReadCmd.TryPush(DmCmd{Addr: m.Layout().Addr(3, 16), Bbt: uint32(len(payload))})
	var got []byte
	var lens []uint8
	for i := 0; i < 5; i++ {
		m.Step()
	}
	for {
		c, ok := m.ReadData.TryPop()
		if !ok {
			break
		}
		got = append(got, c.Bytes()...)
		lens = append(lens, c.Len)
		if c.Last != (len(got) == len(payload)) {
			t.Fatalf("last marker at %d bytes", len(got))
		}
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read got=%q", got)
	}
	if len(lens) != 3 || lens[0] != 8 || lens[1] != 8 || lens[2] != 4 {
		t.Fatalf("chunk sizes %v", lens)
	}
}

func TestReadHoldsOnFullDataPath(t *testing.T) {
	m := New(testLayout(), 1, testlog.Start(t))
	m.ReadCmd.TryPush(DmCmd{Addr: m.Layout().Addr(0, 0), Bbt: 16})
	m.Step()
	m.Step()
	if m.ReadData.Len() != 1 {
		t.Fatalf("queued chunks %d", m.ReadData.Len())
	}
	c, _ := m.ReadData.TryPop()
	if c.Last {
		t.Fatalf("first chunk marked last")
	}
	m.Step()
	c, _ = m.ReadData.TryPop()
	if !c.Last || c.Len != 8 {
		t.Fatalf("second chunk %+v", c)
	}
}
