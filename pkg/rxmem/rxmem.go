// Package rxmem models the receive buffer memory. Every session owns a
// window of 1<<WindowBits bytes at Base | sid<<WindowBits.
package rxmem

import (
	"fmt"

	"github.com/rs/zerolog"

	"toe-nts/pkg/fifo"
	"toe-nts/pkg/session"
)

// ChunkSize is the width of the memory data path in bytes.
const ChunkSize = 8

// DmCmd is a memory command: Bbt bytes starting at Addr.
type DmCmd struct {
	Addr uint32
	Bbt  uint32
}

func (c DmCmd) String() string { return fmt.Sprintf("{%#x,%d}", c.Addr, c.Bbt) }

// Chunk is one beat of the data path. The first Len bytes of Data are
// valid; Last closes the transfer of one command.
type Chunk struct {
	Data [ChunkSize]byte
	Len  uint8
	Last bool
}

func (c Chunk) Bytes() []byte { return c.Data[:c.Len] }

// Write stores Data at Addr, wrapping inside the session window.
type Write struct {
	Addr uint32
	Data []byte
}

type Layout struct {
	Base       uint32
	WindowBits uint
	Sessions   int
}

func (l Layout) WindowSize() uint32 { return 1 << l.WindowBits }

func (l Layout) Mask() uint32 { return l.WindowSize() - 1 }

// Addr returns the memory address of offset within the window of id.
func (l Layout) Addr(id session.ID, offset uint32) uint32 {
	return l.Base | uint32(id)<<l.WindowBits | offset&l.Mask()
}

func (l Layout) Offset(addr uint32) uint32 { return addr & l.Mask() }

// Memory serves read commands one at a time, emitting one chunk per step,
// and applies at most one write per step.
type Memory struct {
	ReadCmd  *fifo.Stream[DmCmd]
	ReadData *fifo.Stream[Chunk]
	WriteReq *fifo.Stream[Write]

	layout Layout
	mem    []byte
	cur    DmCmd
	active bool
	log    zerolog.Logger
}

func New(layout Layout, depth int, log zerolog.Logger) *Memory {
	if layout.Sessions < 1 {
		layout.Sessions = 1
	}
	return &Memory{
		ReadCmd:  fifo.New[DmCmd]("rxMem.readCmd", depth),
		ReadData: fifo.New[Chunk]("rxMem.readData", depth),
		WriteReq: fifo.New[Write]("rxMem.writeReq", depth),
		layout:   layout,
		mem:      make([]byte, layout.Sessions<<layout.WindowBits),
		log:      log.With().Str("stage", "rxMem").Logger(),
	}
}

func (m *Memory) Name() string { return "rxMem" }

func (m *Memory) Layout() Layout { return m.layout }

func (m *Memory) Step() {
	if w, ok := m.WriteReq.TryPop(); ok {
		m.write(w)
	}
	if !m.active {
		cmd, ok := m.ReadCmd.TryPop()
		if !ok {
			return
		}
		if cmd.Bbt == 0 {
			m.log.Warn().Stringer("cmd", cmd).Msg("empty read command dropped")
			return
		}
		m.cur, m.active = cmd, true
	}
	if m.ReadData.Full() {
		return
	}
	var c Chunk
	n := min(m.cur.Bbt, ChunkSize)
	for i := uint32(0); i < n; i++ {
		c.Data[i] = m.mem[m.index(m.cur.Addr+i)]
	}
	c.Len = uint8(n)
	m.cur.Addr += n
	m.cur.Bbt -= n
	c.Last = m.cur.Bbt == 0
	m.active = !c.Last
	m.ReadData.TryPush(c)
}

func (m *Memory) write(w Write) {
	start := w.Addr &^ m.layout.Mask()
	off := m.layout.Offset(w.Addr)
	for i, b := range w.Data {
		m.mem[m.index(start|(off+uint32(i))&m.layout.Mask())] = b
	}
	m.log.Trace().Uint32("addr", w.Addr).Int("len", len(w.Data)).Msg("stored")
}

// index maps a bus address to a byte of the backing array.
func (m *Memory) index(addr uint32) int {
	return int((addr - m.layout.Base) % uint32(len(m.mem)))
}

// Peek copies n bytes of the window of id starting at offset.
func (m *Memory) Peek(id session.ID, offset uint32, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = m.mem[m.index(m.layout.Addr(id, offset+uint32(i)))]
	}
	return out
}

// Poke stores data in the window of id without going through WriteReq.
func (m *Memory) Poke(id session.ID, offset uint32, data []byte) {
	m.write(Write{Addr: m.layout.Addr(id, offset), Data: data})
}

func (m *Memory) Reset() {
	clear(m.mem)
	m.active = false
	m.cur = DmCmd{}
	m.ReadCmd.Drain()
	m.ReadData.Drain()
	m.WriteReq.Drain()
}
