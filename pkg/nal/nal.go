package nal

import (
	"github.com/rs/zerolog"

	"toe-nts/pkg/event"
	"toe-nts/pkg/fifo"
	"toe-nts/pkg/pipeline"
	"toe-nts/pkg/rxapp"
	"toe-nts/pkg/session"
)

// Cause is what triggers the closer.
type Cause int

const (
	// LinkDown and Decouple close every unprivileged session.
	LinkDown Cause = iota
	Decouple
	// NotReady wipes the table: the transport lost all of its sessions.
	NotReady
)

func (c Cause) String() string {
	switch c {
	case LinkDown:
		return "link-down"
	case Decouple:
		return "decouple"
	case NotReady:
		return "nts-not-ready"
	default:
		return "unknown"
	}
}

// Watcher records every session the TOE reports to the application and
// forgets it once it closes. Notifications pass through unchanged.
type Watcher struct {
	In  *fifo.Stream[rxapp.Notification]
	Out *fifo.Stream[rxapp.Notification]

	insert *fifo.Stream[session.Entry[Triple]]
	delete *fifo.Stream[session.ID]
}

func (w *Watcher) Name() string { return "nal.watcher" }

func (w *Watcher) Step() {
	if w.In.Empty() || w.Out.Full() || w.insert.Full() || w.delete.Full() {
		return
	}
	n, _ := w.In.TryPop()
	if n.Closed {
		w.delete.TryPush(n.Session)
	} else {
		w.insert.TryPush(session.Entry[Triple]{Key: NewTriple(n.RemoteAddr, n.RemotePort, n.LocalPort), ID: n.Session})
	}
	w.Out.TryPush(n)
}

func (w *Watcher) Reset() { w.Out.Drain() }

type closerState int

const (
	closerIdle closerState = iota
	closerReap
	closerWaitReap
)

// Closer marks every unprivileged session and then reaps one per step,
// turning each into a FIN request for the TOE.
type Closer struct {
	Trigger  *fifo.Stream[Cause]
	CloseReq *fifo.Stream[event.Event]

	ports  session.Ports[Triple]
	state  closerState
	closed int
	log    zerolog.Logger
}

func (c *Closer) Name() string { return "nal.closer" }

func (c *Closer) Step() {
	switch c.state {
	case closerIdle:
		if c.Trigger.Empty() || c.ports.MarkReq.Full() || c.ports.ResetReq.Full() {
			return
		}
		cause, _ := c.Trigger.TryPop()
		if cause == NotReady {
			fifo.Raise(c.ports.ResetReq)
			c.log.Warn().Stringer("cause", cause).Msg("session table reset")
			return
		}
		fifo.Raise(c.ports.MarkReq)
		c.closed = 0
		c.log.Info().Stringer("cause", cause).Msg("closing unprivileged sessions")
		c.state = closerReap
	case closerReap:
		if fifo.Raise(c.ports.ReapReq) {
			c.state = closerWaitReap
		}
	case closerWaitReap:
		if c.ports.ReapRep.Empty() || c.CloseReq.Full() {
			return
		}
		rep, _ := c.ports.ReapRep.TryPop()
		if !rep.Found {
			c.log.Info().Int("closed", c.closed).Msg("close sweep done")
			c.state = closerIdle
			return
		}
		c.CloseReq.TryPush(event.New(event.KindFin, rep.ID))
		c.closed++
		c.state = closerReap
	}
}

func (c *Closer) Reset() {
	c.state = closerIdle
	c.closed = 0
	c.Trigger.Drain()
	c.CloseReq.Drain()
}

type Config struct {
	Sessions int
	Depth    int
}

// NAL groups the agency owning the triple table with its two clients.
type NAL struct {
	Agency  *session.Agency[Triple]
	Watcher *Watcher
	Closer  *Closer
}

// New builds the agency. notify carries the TOE's notifications; the
// watcher republishes them on Watcher.Out.
func New(cfg Config, notify *fifo.Stream[rxapp.Notification], log zerolog.Logger) *NAL {
	log = log.With().Str("stage", "nal").Logger()
	agency := session.NewAgency[Triple](session.AgencyConfig{Name: "nal.sessions", Capacity: cfg.Sessions, Depth: cfg.Depth}, log)
	return &NAL{
		Agency: agency,
		Watcher: &Watcher{
			In:     notify,
			Out:    fifo.New[rxapp.Notification]("nal.notify", cfg.Depth),
			insert: agency.InsertReq,
			delete: agency.DeleteReq,
		},
		Closer: &Closer{
			Trigger:  fifo.New[Cause]("nal.trigger", cfg.Depth),
			CloseReq: fifo.New[event.Event]("nal.closeReq", cfg.Depth),
			ports:    agency.Ports,
			log:      log,
		},
	}
}

func (n *NAL) Stages() []pipeline.Stage {
	return []pipeline.Stage{n.Watcher, n.Closer, n.Agency}
}

// Privilege protects session id from the next close sweep.
func (n *NAL) Privilege(id session.ID) bool {
	return n.Agency.PrivilegeReq.TryPush(id)
}

func (n *NAL) Reset() {
	n.Agency.Reset()
	n.Watcher.Reset()
	n.Closer.Reset()
}
