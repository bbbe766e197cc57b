// Package toe assembles the offload engine: session agency, receive path,
// event engine, ACK delayer, transmitter, receive buffer and the
// application interface, plus the NAL agency watching its sessions.
package toe

import (
	"net/netip"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"toe-nts/pkg/ackdelay"
	"toe-nts/pkg/event"
	"toe-nts/pkg/eventengine"
	"toe-nts/pkg/fifo"
	"toe-nts/pkg/nal"
	"toe-nts/pkg/pipeline"
	"toe-nts/pkg/porttable"
	"toe-nts/pkg/rxapp"
	"toe-nts/pkg/rxe"
	"toe-nts/pkg/rxmem"
	"toe-nts/pkg/rxsar"
	"toe-nts/pkg/session"
	"toe-nts/pkg/txe"
)

var ErrRunning = errors.New("engine is running")

type Config struct {
	Sessions    int
	NALSessions int
	DelayTicks  uint16
	Layout      rxmem.Layout
	LocalAddr   netip.Addr
	Depth       int
	TickPeriod  time.Duration
}

// TOE owns every stage and the streams between them. Tick, Reset and the
// snapshot methods must not be used while the engine is started.
type TOE struct {
	Sessions *session.Agency[session.FourTuple]
	Events   *eventengine.Engine
	AckDelay *ackdelay.Delayer
	Tx       *txe.Transmitter
	Rx       *rxe.Engine
	Sar      *rxsar.Table
	Memory   *rxmem.Memory
	Ports    *porttable.Table
	App      *rxapp.Interface
	NAL      *nal.NAL

	appEvents *fifo.Stream[event.Event]
	rxNotify  *fifo.Stream[rxapp.Notification]
	sched     *pipeline.Scheduler
	log       zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *TOE {
	log = log.With().Str("component", "toe").Logger()
	cfg.Layout.Sessions = cfg.Sessions

	t := &TOE{
		Sessions: session.NewAgency[session.FourTuple](session.AgencyConfig{
			Name:        "toe.sessions",
			Capacity:    cfg.Sessions,
			Depth:       cfg.Depth,
			AllocateIDs: true,
		}, log),
		AckDelay:  ackdelay.New(ackdelay.Config{Sessions: cfg.Sessions, DelayTicks: cfg.DelayTicks, Depth: cfg.Depth}, log),
		Sar:       rxsar.New(cfg.Sessions, cfg.Layout.WindowBits, cfg.Depth, log),
		Memory:    rxmem.New(cfg.Layout, cfg.Depth, log),
		Ports:     porttable.New(cfg.Depth, log),
		appEvents: fifo.New[event.Event]("toe.appEvents", cfg.Depth),
		rxNotify:  fifo.New[rxapp.Notification]("toe.rxNotify", cfg.Depth),
		sched:     pipeline.NewScheduler(cfg.TickPeriod, log),
		log:       log,
	}
	t.Tx = txe.New(txe.Config{Depth: cfg.Depth, Window: window(cfg.Layout)}, t.AckDelay.Out, t.Sessions.Ports, log)
	t.Events = eventengine.New(t.AckDelay.In, t.AckDelay.RxSig, t.AckDelay.TxSig, t.Tx.RxSig, cfg.Depth, log)
	t.Rx = rxe.New(rxe.Config{LocalAddr: cfg.LocalAddr, Layout: cfg.Layout, Depth: cfg.Depth}, rxe.Links{
		Sessions: t.Sessions.Ports,
		Sar:      t.Sar,
		CheckReq: t.Ports.CheckReq,
		CheckRep: t.Ports.CheckRep,
		MemWrite: t.Memory.WriteReq,
		Events:   t.Events.RxEng,
		Notify:   t.rxNotify,
	}, log)
	t.App = rxapp.New(cfg.Layout, cfg.Depth, rxapp.Links{
		SarReq:       t.Sar.AppReq,
		SarRep:       t.Sar.AppRep,
		MemCmd:       t.Memory.ReadCmd,
		MemData:      t.Memory.ReadData,
		PortLsnReq:   t.Ports.LsnReq,
		PortLsnRep:   t.Ports.LsnRep,
		PortCloseReq: t.Ports.CloseReq,
		RxeNotify:    t.rxNotify,
	}, log)
	t.NAL = nal.New(nal.Config{Sessions: cfg.NALSessions, Depth: cfg.Depth}, t.App.Notify, log)

	t.sched.Add(t.Rx, t.Sessions, t.Ports, t.Sar)
	t.sched.Add(pipeline.NewMerge("toe.txAppMux", t.Events.TxApp, t.NAL.Closer.CloseReq, t.appEvents))
	t.sched.Add(t.Events, t.AckDelay, t.Tx)
	t.sched.Add(t.App)
	t.sched.Add(t.Memory)
	t.sched.Add(t.NAL.Stages()...)

	log.Info().
		Int("sessions", cfg.Sessions).
		Uint16("ackDelayTicks", t.AckDelay.Delay()).
		Uint32("window", cfg.Layout.WindowSize()).
		Stringer("localAddr", cfg.LocalAddr).
		Msg("offload engine assembled")
	return t
}

func window(l rxmem.Layout) uint16 {
	if l.WindowSize() > 0xFFFF {
		return 0xFFFF
	}
	return uint16(l.WindowSize())
}

func (t *TOE) Stages() []pipeline.Stage { return t.sched.Stages() }

// Tick steps every stage once.
func (t *TOE) Tick() { t.sched.Tick() }

func (t *TOE) Run(n int) { t.sched.Run(n) }

func (t *TOE) Ticks() uint64 { return t.sched.Ticks() }

func (t *TOE) Start() { t.sched.Start() }

func (t *TOE) Stop() { t.sched.Stop() }

func (t *TOE) Running() bool { return t.sched.Running() }

// Reset returns every table, counter and stream to its power-on state.
func (t *TOE) Reset() error {
	if t.sched.Running() {
		return ErrRunning
	}
	t.sched.Reset()
	t.appEvents.Drain()
	t.rxNotify.Drain()
	t.log.Info().Msg("offload engine reset")
	return nil
}

// Receive queues a raw IPv4 packet for the receive path.
func (t *TOE) Receive(pkt []byte) bool { return t.Rx.In.TryPush(pkt) }

// Transmitted pops the next packet sent by the engine.
func (t *TOE) Transmitted() ([]byte, bool) { return t.Tx.Out.TryPop() }

// Submit queues an application event.
func (t *TOE) Submit(ev event.Event) bool { return t.appEvents.TryPush(ev) }

// SubmitTimer queues a timer event.
func (t *TOE) SubmitTimer(ev event.Event) bool { return t.Events.Timers.TryPush(ev) }

func (t *TOE) Listen(port uint16) bool { return t.App.LsnReq.TryPush(port) }

func (t *TOE) ClosePort(port uint16) bool { return t.App.CloseReq.TryPush(port) }

func (t *TOE) Read(id session.ID, n uint16) bool {
	return t.App.ReadReq.TryPush(rxapp.ReadRequest{Session: id, Length: n})
}

// Notifications pops the next notification for the application.
func (t *TOE) Notifications() (rxapp.Notification, bool) { return t.NAL.Watcher.Out.TryPop() }

// Trigger starts a NAL close sweep or table reset.
func (t *TOE) Trigger(c nal.Cause) bool { return t.NAL.Closer.Trigger.TryPush(c) }

// SessionRows returns the TOE session table rows.
func (t *TOE) SessionRows() ([]session.Row[session.FourTuple], error) {
	if t.sched.Running() {
		return nil, ErrRunning
	}
	return t.Sessions.Table().Rows(), nil
}

// NALRows returns the NAL agency rows.
func (t *TOE) NALRows() ([]session.Row[nal.Triple], error) {
	if t.sched.Running() {
		return nil, ErrRunning
	}
	return t.NAL.Agency.Table().Rows(), nil
}

// ListenReply pops the answer to the oldest listen request.
func (t *TOE) ListenReply() (accepted, ok bool) { return t.App.LsnRep.TryPop() }

// ReadMeta pops the session id acknowledging the oldest read request.
func (t *TOE) ReadMeta() (session.ID, bool) { return t.App.ReadMeta.TryPop() }

// ReadChunk pops the next chunk of read data.
func (t *TOE) ReadChunk() (rxmem.Chunk, bool) { return t.App.ReadData.TryPop() }
