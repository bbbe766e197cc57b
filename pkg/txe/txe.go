// Package txe is the transmit side seen by the event engine: it takes the
// ACK delayer's output, credits the engine for every accepted event and
// turns control events into IPv4/TCP segments.
package txe

import (
	"github.com/rs/zerolog"

	"toe-nts/pkg/event"
	"toe-nts/pkg/fifo"
	"toe-nts/pkg/metrics"
	"toe-nts/pkg/segment"
	"toe-nts/pkg/session"
)

type txState int

const (
	txIdle txState = iota
	txWaitTuple
)

type Config struct {
	Depth  int
	Window uint16
}

// Transmitter resolves the socket pair of each event through the session
// agency's reverse lookup. Reset events that carry their own tuple skip the
// lookup.
type Transmitter struct {
	In         *fifo.Stream[event.Event]
	RxSig      *fifo.Signal
	ReverseReq *fifo.Stream[session.ID]
	ReverseRep *fifo.Stream[session.ReverseReply[session.FourTuple]]
	Out        *fifo.Stream[[]byte]

	window  uint16
	state   txState
	pending event.Event
	sent    uint64
	log     zerolog.Logger
}

func New(cfg Config, in *fifo.Stream[event.Event], ports session.Ports[session.FourTuple], log zerolog.Logger) *Transmitter {
	return &Transmitter{
		In:         in,
		RxSig:      fifo.NewSignal("txe.rxSig", cfg.Depth),
		ReverseReq: ports.ReverseReq,
		ReverseRep: ports.ReverseRep,
		Out:        fifo.New[[]byte]("txe.out", cfg.Depth),
		window:     cfg.Window,
		log:        log.With().Str("stage", "txe").Logger(),
	}
}

func (t *Transmitter) Name() string { return "txe" }

func (t *Transmitter) Step() {
	switch t.state {
	case txIdle:
		if t.In.Empty() || t.RxSig.Full() || t.ReverseReq.Full() || t.Out.Full() {
			return
		}
		ev, _ := t.In.TryPop()
		fifo.Raise(t.RxSig)
		if rst, ok := ev.(event.Reset); ok && rst.Tuple != nil {
			t.emit(ev, *rst.Tuple)
			return
		}
		t.ReverseReq.TryPush(ev.Session())
		t.pending = ev
		t.state = txWaitTuple
	case txWaitTuple:
		if t.ReverseRep.Empty() || t.Out.Full() {
			return
		}
		rep, _ := t.ReverseRep.TryPop()
		if rep.Found {
			t.emit(t.pending, rep.Key)
		} else {
			t.log.Warn().Uint16("session", uint16(rep.ID)).Stringer("event", t.pending.Kind()).Msg("no socket pair for session, event dropped")
			metrics.RecordDrop("unknown_session")
		}
		t.pending = nil
		t.state = txIdle
	}
}

func (t *Transmitter) emit(ev event.Event, tuple session.FourTuple) {
	seg := segment.Fields{Tuple: tuple, Flags: event.Flags(ev.Kind()), Window: t.window}
	switch e := ev.(type) {
	case event.Tx:
		seg.Seq = e.Addr
	case event.Retransmit:
		seg.Seq = e.Addr
	case event.Reset:
		seg.Ack = e.Seq
	}
	pkt, err := segment.Encode(seg)
	if err != nil {
		t.log.Error().Err(err).Msg("could not encode segment")
		metrics.RecordDrop("encode")
		return
	}
	t.Out.TryPush(pkt)
	t.sent++
	metrics.RecordSegment(ev.Kind().String())
	t.log.Trace().Stringer("event", ev.Kind()).Stringer("to", tuple).Msg("segment sent")
}

// Sent returns the number of segments emitted since the last reset.
func (t *Transmitter) Sent() uint64 { return t.sent }

func (t *Transmitter) Reset() {
	t.state = txIdle
	t.pending = nil
	t.sent = 0
	t.RxSig.Drain()
	t.Out.Drain()
}
