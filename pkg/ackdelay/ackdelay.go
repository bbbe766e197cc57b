// Package ackdelay paces ACK emission with one countdown counter per
// session, serviced by a round-robin sweep.
package ackdelay

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"toe-nts/pkg/event"
	"toe-nts/pkg/fifo"
	"toe-nts/pkg/metrics"
	"toe-nts/pkg/session"
)

// MaxDelay is the largest value a 12-bit countdown counter can hold.
const MaxDelay = 0xFFF

// DelayTicksFor converts an ACK delay into sweep visits. With a tick period
// every step lasts tickPeriod; otherwise a step is one cycle of a clockMHz
// clock. One sweep visits each of the sessions counters once.
func DelayTicksFor(ackDelay time.Duration, clockMHz float64, sessions int, tickPeriod time.Duration) uint16 {
	if sessions < 1 {
		sessions = 1
	}
	var steps float64
	if tickPeriod > 0 {
		steps = float64(ackDelay) / float64(tickPeriod)
	} else {
		steps = float64(ackDelay.Nanoseconds()) * clockMHz / 1e3
	}
	n := math.Floor(steps/float64(sessions)) + 1
	if n > MaxDelay {
		n = MaxDelay
	}
	return uint16(n)
}

type Config struct {
	Sessions   int
	DelayTicks uint16
	Depth      int
}

// Delayer holds back plain ACKs. In carries events from the event engine and
// Out feeds the transmitter. RxSig is raised for every consumed event and
// TxSig for every forwarded one.
type Delayer struct {
	In    *fifo.Stream[event.Event]
	Out   *fifo.Stream[event.Event]
	RxSig *fifo.Signal
	TxSig *fifo.Signal

	counters []uint16
	ptr      int
	delay    uint16
	log      zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Delayer {
	if cfg.Sessions < 1 {
		cfg.Sessions = 1
	}
	if cfg.DelayTicks == 0 {
		cfg.DelayTicks = 1
	}
	if cfg.DelayTicks > MaxDelay {
		cfg.DelayTicks = MaxDelay
	}
	return &Delayer{
		In:       fifo.New[event.Event]("ackDelay.in", cfg.Depth),
		Out:      fifo.New[event.Event]("ackDelay.out", cfg.Depth),
		RxSig:    fifo.NewSignal("ackDelay.rxSig", cfg.Depth),
		TxSig:    fifo.NewSignal("ackDelay.txSig", cfg.Depth),
		counters: make([]uint16, cfg.Sessions),
		delay:    cfg.DelayTicks,
		log:      log.With().Str("stage", "ackDelay").Logger(),
	}
}

func (d *Delayer) Name() string { return "ackDelay" }

func (d *Delayer) Step() {
	if !d.In.Empty() && !d.Out.Full() && !d.RxSig.Full() && !d.TxSig.Full() {
		ev, _ := d.In.TryPop()
		fifo.Raise(d.RxSig)
		if rst, ok := ev.(event.Reset); ok && rst.Tuple != nil {
			// no session behind it
			d.forward(ev)
			return
		}
		sid := int(ev.Session())
		if sid >= len(d.counters) {
			d.log.Error().Int("session", sid).Stringer("event", ev.Kind()).Msg("session out of range, forwarding")
			d.forward(ev)
			return
		}
		if event.Deferrable(ev) && d.counters[sid] == 0 {
			d.counters[sid] = d.delay
			metrics.RecordAckDelayed()
			d.log.Trace().Int("session", sid).Uint16("ticks", d.delay).Msg("ACK deferred")
			return
		}
		d.counters[sid] = 0
		d.forward(ev)
		return
	}

	if !d.Out.Full() && !d.TxSig.Full() {
		c := d.counters[d.ptr]
		if c == 1 {
			d.log.Trace().Int("session", d.ptr).Msg("delayed ACK due")
			d.forward(event.NewAck(session.ID(d.ptr)))
		}
		if c > 0 {
			d.counters[d.ptr] = c - 1
		}
	}
	d.ptr++
	if d.ptr == len(d.counters) {
		d.ptr = 0
	}
}

func (d *Delayer) forward(ev event.Event) {
	d.Out.TryPush(ev)
	fifo.Raise(d.TxSig)
	metrics.RecordEventForwarded("ackDelay", ev.Kind().String())
}

// Pending returns the countdown value of session id.
func (d *Delayer) Pending(id session.ID) uint16 {
	if int(id) >= len(d.counters) {
		return 0
	}
	return d.counters[id]
}

func (d *Delayer) Delay() uint16 { return d.delay }

func (d *Delayer) Reset() {
	clear(d.counters)
	d.ptr = 0
	d.In.Drain()
	d.Out.Drain()
	d.RxSig.Drain()
	d.TxSig.Drain()
}
