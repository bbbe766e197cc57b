// Package rxsar keeps the per-session receive buffer pointers: appd, the
// next byte the application will read, and rcvd, the next byte the receive
// path will write. Both are offsets inside the session's buffer window.
package rxsar

import (
	"github.com/rs/zerolog"

	"toe-nts/pkg/fifo"
	"toe-nts/pkg/session"
)

// AppQuery reads appd, or sets it to Appd when Write is true.
type AppQuery struct {
	Session session.ID
	Appd    uint32
	Write   bool
}

type AppReply struct {
	Session session.ID
	Appd    uint32
}

// RxeQuery reads both pointers, or sets rcvd when Write is true. Init
// zeroes both pointers of a new session.
type RxeQuery struct {
	Session session.ID
	Rcvd    uint32
	Write   bool
	Init    bool
}

type RxeReply struct {
	Session session.ID
	Rcvd    uint32
	Appd    uint32
}

// Free returns how many bytes the receive path may still write before it
// would overrun unread data in a window of the given size.
func (r RxeReply) Free(window uint32) uint32 {
	used := (r.Rcvd - r.Appd) & (window - 1)
	return window - 1 - used
}

type Entry struct {
	Appd uint32
	Rcvd uint32
}

// Table is the stage owning every session's pointer pair. Writes carry no
// reply.
type Table struct {
	AppReq *fifo.Stream[AppQuery]
	AppRep *fifo.Stream[AppReply]
	RxeReq *fifo.Stream[RxeQuery]
	RxeRep *fifo.Stream[RxeReply]

	entries []Entry
	mask    uint32
	log     zerolog.Logger
}

func New(sessions int, windowBits uint, depth int, log zerolog.Logger) *Table {
	if sessions < 1 {
		sessions = 1
	}
	return &Table{
		AppReq:  fifo.New[AppQuery]("rxSar.appReq", depth),
		AppRep:  fifo.New[AppReply]("rxSar.appRep", depth),
		RxeReq:  fifo.New[RxeQuery]("rxSar.rxeReq", depth),
		RxeRep:  fifo.New[RxeReply]("rxSar.rxeRep", depth),
		entries: make([]Entry, sessions),
		mask:    uint32(1)<<windowBits - 1,
		log:     log.With().Str("stage", "rxSar").Logger(),
	}
}

func (t *Table) Name() string { return "rxSar" }

func (t *Table) Step() {
	t.serveRxe()
	t.serveApp()
}

func (t *Table) serveRxe() {
	if t.RxeReq.Empty() || t.RxeRep.Full() {
		return
	}
	q, _ := t.RxeReq.TryPop()
	e := t.entry(q.Session)
	if e == nil {
		return
	}
	switch {
	case q.Init:
		*e = Entry{}
	case q.Write:
		e.Rcvd = q.Rcvd & t.mask
	default:
		t.RxeRep.TryPush(RxeReply{Session: q.Session, Rcvd: e.Rcvd, Appd: e.Appd})
	}
}

func (t *Table) serveApp() {
	if t.AppReq.Empty() || t.AppRep.Full() {
		return
	}
	q, _ := t.AppReq.TryPop()
	e := t.entry(q.Session)
	if e == nil {
		return
	}
	if q.Write {
		e.Appd = q.Appd & t.mask
		return
	}
	t.AppRep.TryPush(AppReply{Session: q.Session, Appd: e.Appd})
}

func (t *Table) entry(id session.ID) *Entry {
	if int(id) >= len(t.entries) {
		t.log.Error().Uint16("session", uint16(id)).Msg("session out of range")
		return nil
	}
	return &t.entries[id]
}

// Get returns a copy of the pointers of id.
func (t *Table) Get(id session.ID) Entry {
	if int(id) >= len(t.entries) {
		return Entry{}
	}
	return t.entries[id]
}

func (t *Table) Reset() {
	clear(t.entries)
	t.AppReq.Drain()
	t.AppRep.Drain()
	t.RxeReq.Drain()
	t.RxeRep.Drain()
}
