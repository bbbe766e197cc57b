// Package eventengine merges the receive path, timer and application event
// sources into the single stream feeding the ACK delayer.
package eventengine

import (
	"github.com/rs/zerolog"

	"toe-nts/pkg/event"
	"toe-nts/pkg/fifo"
	"toe-nts/pkg/metrics"
)

// Engine forwards receive-path events whenever the ACK delayer has room.
// Timer and application events are admitted one at a time, only when no
// earlier event is still inside the delay stage. The counters are 8 bits
// wide and wrap; only their equality is ever checked.
type Engine struct {
	TxApp  *fifo.Stream[event.Event]
	RxEng  *fifo.Stream[event.Event]
	Timers *fifo.Stream[event.Event]
	Out    *fifo.Stream[event.Event]

	AkdRxSig *fifo.Signal
	AkdTxSig *fifo.Signal
	TxeRxSig *fifo.Signal

	sent  uint8
	akdRx uint8
	akdTx uint8
	txeRx uint8

	log zerolog.Logger
}

// New wires the engine to the ACK delayer's input and credit streams and
// to the transmitter's credit stream.
func New(out *fifo.Stream[event.Event], akdRx, akdTx, txeRx *fifo.Signal, depth int, log zerolog.Logger) *Engine {
	return &Engine{
		TxApp:    fifo.New[event.Event]("eventEngine.txApp", depth),
		RxEng:    fifo.New[event.Event]("eventEngine.rxEng", depth),
		Timers:   fifo.New[event.Event]("eventEngine.timers", depth),
		Out:      out,
		AkdRxSig: akdRx,
		AkdTxSig: akdTx,
		TxeRxSig: txeRx,
		log:      log.With().Str("stage", "eventEngine").Logger(),
	}
}

func (e *Engine) Name() string { return "eventEngine" }

func (e *Engine) Step() {
	if !e.RxEng.Empty() && !e.Out.Full() {
		ev, _ := e.RxEng.TryPop()
		e.forward("rxEng", ev)
	} else if e.idle() && !e.Out.Full() {
		if ev, ok := e.Timers.TryPop(); ok {
			e.forward("timers", ev)
		} else if ev, ok := e.TxApp.TryPop(); ok {
			e.forward("txApp", ev)
		}
	}

	if _, ok := e.AkdRxSig.TryPop(); ok {
		e.akdRx++
	}
	if _, ok := e.AkdTxSig.TryPop(); ok {
		e.akdTx++
	}
	if _, ok := e.TxeRxSig.TryPop(); ok {
		e.txeRx++
	}
}

// idle reports whether every event sent has been taken by the ACK delayer
// and every event it forwarded has been taken by the transmitter.
func (e *Engine) idle() bool {
	return e.sent == e.akdRx && e.akdTx == e.txeRx
}

func (e *Engine) forward(source string, ev event.Event) {
	e.Out.TryPush(ev)
	e.sent++
	e.log.Trace().Str("source", source).Stringer("event", ev.Kind()).Uint16("session", uint16(ev.Session())).Msg("forwarded")
	metrics.RecordEventForwarded("eventEngine", ev.Kind().String())
}

// InFlight reports whether an event is still between the engine and the
// transmitter.
func (e *Engine) InFlight() bool { return !e.idle() }

// Reset zeroes the counters and drains the source streams. The shared
// ACK delayer and transmitter streams are drained by their owners.
func (e *Engine) Reset() {
	e.sent, e.akdRx, e.akdTx, e.txeRx = 0, 0, 0, 0
	e.TxApp.Drain()
	e.RxEng.Drain()
	e.Timers.Drain()
}
