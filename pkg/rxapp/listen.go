package rxapp

import (
	"github.com/rs/zerolog"

	"toe-nts/pkg/fifo"
	"toe-nts/pkg/metrics"
)

type listenState int

const (
	listenIdle listenState = iota
	listenWaitAck
)

// ListenInterface relays listen requests to the port table one at a time:
// a new request is taken only after the previous one was answered. Close
// requests carry no answer and are forwarded while idle.
type ListenInterface struct {
	AppLsnReq   *fifo.Stream[uint16]
	AppLsnRep   *fifo.Stream[bool]
	AppCloseReq *fifo.Stream[uint16]

	PortLsnReq   *fifo.Stream[uint16]
	PortLsnRep   *fifo.Stream[bool]
	PortCloseReq *fifo.Stream[uint16]

	state listenState
	port  uint16
	log   zerolog.Logger
}

func (l *ListenInterface) Name() string { return "rxApp.listen" }

func (l *ListenInterface) Step() {
	switch l.state {
	case listenIdle:
		if !l.AppLsnReq.Empty() && !l.PortLsnReq.Full() {
			l.port, _ = l.AppLsnReq.TryPop()
			l.PortLsnReq.TryPush(l.port)
			l.state = listenWaitAck
		} else if !l.AppCloseReq.Empty() && !l.PortCloseReq.Full() {
			port, _ := l.AppCloseReq.TryPop()
			l.PortCloseReq.TryPush(port)
			l.log.Debug().Uint16("port", port).Msg("close port forwarded")
		}
	case listenWaitAck:
		if l.PortLsnRep.Empty() || l.AppLsnRep.Full() {
			return
		}
		ok, _ := l.PortLsnRep.TryPop()
		l.AppLsnRep.TryPush(ok)
		metrics.RecordListenReply(ok)
		l.log.Debug().Uint16("port", l.port).Bool("accepted", ok).Msg("listen answered")
		l.state = listenIdle
	}
}

func (l *ListenInterface) Reset() {
	l.state = listenIdle
	l.port = 0
}
