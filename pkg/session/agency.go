package session

import (
	"github.com/rs/zerolog"

	"toe-nts/pkg/fifo"
)

// LookupQuery asks for the session of Key. With AllowCreation an unknown key
// is given the lowest free id, provided the agency allocates ids.
type LookupQuery[K comparable] struct {
	Key           K
	AllowCreation bool
}

type LookupReply struct {
	ID      ID
	Found   bool
	Created bool
}

type ReverseReply[K comparable] struct {
	ID    ID
	Key   K
	Found bool
}

type Entry[K comparable] struct {
	Key K
	ID  ID
}

type ReapReply struct {
	ID    ID
	Found bool
}

// Ports are the request/reply streams of an Agency. Each request stream has
// a single client, which is also the only consumer of the matching reply
// stream.
type Ports[K comparable] struct {
	LookupReq    *fifo.Stream[LookupQuery[K]]
	LookupRep    *fifo.Stream[LookupReply]
	ReverseReq   *fifo.Stream[ID]
	ReverseRep   *fifo.Stream[ReverseReply[K]]
	InsertReq    *fifo.Stream[Entry[K]]
	DeleteReq    *fifo.Stream[ID]
	PrivilegeReq *fifo.Stream[ID]
	MarkReq      *fifo.Signal
	ReapReq      *fifo.Signal
	ReapRep      *fifo.Stream[ReapReply]
	ResetReq     *fifo.Signal
}

func NewPorts[K comparable](name string, depth int) Ports[K] {
	return Ports[K]{
		LookupReq:    fifo.New[LookupQuery[K]](name+".lookupReq", depth),
		LookupRep:    fifo.New[LookupReply](name+".lookupRep", depth),
		ReverseReq:   fifo.New[ID](name+".reverseReq", depth),
		ReverseRep:   fifo.New[ReverseReply[K]](name+".reverseRep", depth),
		InsertReq:    fifo.New[Entry[K]](name+".insertReq", depth),
		DeleteReq:    fifo.New[ID](name+".deleteReq", depth),
		PrivilegeReq: fifo.New[ID](name+".privilegeReq", depth),
		MarkReq:      fifo.NewSignal(name+".markReq", depth),
		ReapReq:      fifo.NewSignal(name+".reapReq", depth),
		ReapRep:      fifo.New[ReapReply](name+".reapRep", depth),
		ResetReq:     fifo.NewSignal(name+".resetReq", depth),
	}
}

func (p Ports[K]) drain() {
	p.LookupReq.Drain()
	p.LookupRep.Drain()
	p.ReverseReq.Drain()
	p.ReverseRep.Drain()
	p.InsertReq.Drain()
	p.DeleteReq.Drain()
	p.PrivilegeReq.Drain()
	p.MarkReq.Drain()
	p.ReapReq.Drain()
	p.ReapRep.Drain()
	p.ResetReq.Drain()
}

type AgencyConfig struct {
	Name        string
	Capacity    int
	Depth       int
	AllocateIDs bool
}

type agencyPhase int

const (
	phaseRead agencyPhase = iota
	phaseWrite
)

// Agency is the stage that owns a Table. Other stages reach the table only
// through Ports. Steps alternate between a read phase (lookups) and a write
// phase (table mutations).
type Agency[K comparable] struct {
	Ports[K]

	name     string
	table    *Table[K]
	allocate bool
	inUse    []bool
	phase    agencyPhase
	log      zerolog.Logger
}

func NewAgency[K comparable](cfg AgencyConfig, log zerolog.Logger) *Agency[K] {
	log = log.With().Str("stage", cfg.Name).Logger()
	a := &Agency[K]{
		Ports:    NewPorts[K](cfg.Name, cfg.Depth),
		name:     cfg.Name,
		table:    NewTable[K](cfg.Name, cfg.Capacity, log),
		allocate: cfg.AllocateIDs,
		log:      log,
	}
	if a.allocate {
		a.inUse = make([]bool, a.table.Capacity())
	}
	return a
}

func (a *Agency[K]) Name() string { return a.name }

// Table exposes the owned table for snapshots. Callers must not use it while
// the agency runs on its own goroutine.
func (a *Agency[K]) Table() *Table[K] { return a.table }

func (a *Agency[K]) Step() {
	switch a.phase {
	case phaseRead:
		a.serveLookup()
		a.serveReverse()
		a.phase = phaseWrite
	case phaseWrite:
		if _, ok := a.ResetReq.TryPop(); ok {
			a.resetTables()
			return
		}
		a.serveInsert()
		a.serveDelete()
		a.servePrivilege()
		a.serveMark()
		a.serveReap()
		a.phase = phaseRead
	}
}

func (a *Agency[K]) serveLookup() {
	if a.LookupReq.Empty() || a.LookupRep.Full() {
		return
	}
	q, _ := a.LookupReq.TryPop()
	if id, ok := a.table.Lookup(q.Key); ok {
		a.LookupRep.TryPush(LookupReply{ID: id, Found: true})
		return
	}
	if q.AllowCreation && a.allocate {
		if id, ok := a.allocateID(); ok {
			if a.table.Insert(q.Key, id) == Stored {
				a.LookupRep.TryPush(LookupReply{ID: id, Found: true, Created: true})
				return
			}
			a.releaseID(id)
		} else {
			a.log.Error().Msg("session id pool exhausted")
		}
	}
	a.LookupRep.TryPush(LookupReply{})
}

func (a *Agency[K]) serveReverse() {
	if a.ReverseReq.Empty() || a.ReverseRep.Full() {
		return
	}
	id, _ := a.ReverseReq.TryPop()
	key, ok := a.table.ReverseLookup(id)
	a.ReverseRep.TryPush(ReverseReply[K]{ID: id, Key: key, Found: ok})
}

func (a *Agency[K]) serveInsert() {
	e, ok := a.InsertReq.TryPop()
	if !ok {
		return
	}
	if a.table.Insert(e.Key, e.ID) == Stored {
		a.claimID(e.ID)
	}
}

func (a *Agency[K]) serveDelete() {
	id, ok := a.DeleteReq.TryPop()
	if !ok {
		return
	}
	if a.table.Delete(id) {
		a.releaseID(id)
	}
}

func (a *Agency[K]) servePrivilege() {
	if id, ok := a.PrivilegeReq.TryPop(); ok {
		a.table.MarkPrivileged(id)
	}
}

func (a *Agency[K]) serveMark() {
	if _, ok := a.MarkReq.TryPop(); ok {
		a.table.MarkUnprivilegedForDeletion()
	}
}

func (a *Agency[K]) serveReap() {
	if a.ReapReq.Empty() || a.ReapRep.Full() {
		return
	}
	a.ReapReq.TryPop()
	id, ok := a.table.ReapNext()
	if ok {
		a.releaseID(id)
	} else {
		a.log.Debug().Msg("no session left to reap")
	}
	a.ReapRep.TryPush(ReapReply{ID: id, Found: ok})
}

func (a *Agency[K]) allocateID() (ID, bool) {
	for i, used := range a.inUse {
		if !used {
			a.inUse[i] = true
			return ID(i), true
		}
	}
	return 0, false
}

func (a *Agency[K]) claimID(id ID) {
	if a.allocate && int(id) < len(a.inUse) {
		a.inUse[id] = true
	}
}

func (a *Agency[K]) releaseID(id ID) {
	if a.allocate && int(id) < len(a.inUse) {
		a.inUse[id] = false
	}
}

func (a *Agency[K]) resetTables() {
	a.table.Reset()
	clear(a.inUse)
	a.phase = phaseRead
	a.log.Info().Msg("session tables reinitialized")
}

// Reset wipes the table, the id pool and every port.
func (a *Agency[K]) Reset() {
	a.resetTables()
	a.Ports.drain()
}
