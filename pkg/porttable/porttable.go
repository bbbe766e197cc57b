// Package porttable tracks the local TCP ports that accept connections.
package porttable

import (
	"github.com/google/btree"
	"github.com/rs/zerolog"

	"toe-nts/pkg/fifo"
)

// StaticRangeEnd is the first port of the ephemeral range. Listening is only
// possible below it.
const StaticRangeEnd = 0x8000

// Table answers listen, close and is-listening requests. Listen requests
// come from the application interface and is-listening queries from the
// receive path.
type Table struct {
	LsnReq   *fifo.Stream[uint16]
	LsnRep   *fifo.Stream[bool]
	CloseReq *fifo.Stream[uint16]
	CheckReq *fifo.Stream[uint16]
	CheckRep *fifo.Stream[bool]

	ports *btree.BTreeG[uint16]
	log   zerolog.Logger
}

func New(depth int, log zerolog.Logger) *Table {
	return &Table{
		LsnReq:   fifo.New[uint16]("portTable.lsnReq", depth),
		LsnRep:   fifo.New[bool]("portTable.lsnRep", depth),
		CloseReq: fifo.New[uint16]("portTable.closeReq", depth),
		CheckReq: fifo.New[uint16]("portTable.checkReq", depth),
		CheckRep: fifo.New[bool]("portTable.checkRep", depth),
		ports:    btree.NewG[uint16](2, func(a, b uint16) bool { return a < b }),
		log:      log.With().Str("stage", "portTable").Logger(),
	}
}

func (t *Table) Name() string { return "portTable" }

func (t *Table) Step() {
	if !t.CheckReq.Empty() && !t.CheckRep.Full() {
		port, _ := t.CheckReq.TryPop()
		t.CheckRep.TryPush(t.ports.Has(port))
	}
	if !t.LsnReq.Empty() && !t.LsnRep.Full() {
		port, _ := t.LsnReq.TryPop()
		t.LsnRep.TryPush(t.listen(port))
	}
	if port, ok := t.CloseReq.TryPop(); ok {
		if _, found := t.ports.Delete(port); found {
			t.log.Debug().Uint16("port", port).Msg("port closed")
		}
	}
}

func (t *Table) listen(port uint16) bool {
	if port >= StaticRangeEnd {
		t.log.Warn().Uint16("port", port).Msg("listen outside the static port range refused")
		return false
	}
	if _, replaced := t.ports.ReplaceOrInsert(port); !replaced {
		t.log.Info().Uint16("port", port).Msg("listening")
	}
	return true
}

// Listening returns the open ports in ascending order.
func (t *Table) Listening() []uint16 {
	out := make([]uint16, 0, t.ports.Len())
	t.ports.Ascend(func(p uint16) bool {
		out = append(out, p)
		return true
	})
	return out
}

func (t *Table) Reset() {
	t.ports.Clear(false)
	t.LsnReq.Drain()
	t.LsnRep.Drain()
	t.CloseReq.Drain()
	t.CheckReq.Drain()
	t.CheckRep.Drain()
}
