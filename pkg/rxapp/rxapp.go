package rxapp

import (
	"github.com/rs/zerolog"

	"toe-nts/pkg/fifo"
	"toe-nts/pkg/pipeline"
	"toe-nts/pkg/rxmem"
	"toe-nts/pkg/rxsar"
	"toe-nts/pkg/session"
)

// Links are the streams the interface shares with its neighbours.
type Links struct {
	SarReq *fifo.Stream[rxsar.AppQuery]
	SarRep *fifo.Stream[rxsar.AppReply]

	MemCmd  *fifo.Stream[rxmem.DmCmd]
	MemData *fifo.Stream[rxmem.Chunk]

	PortLsnReq   *fifo.Stream[uint16]
	PortLsnRep   *fifo.Stream[bool]
	PortCloseReq *fifo.Stream[uint16]

	RxeNotify *fifo.Stream[Notification]
}

// Interface groups the receive-side application stages. The application
// talks to the exported streams.
type Interface struct {
	ReadReq     *fifo.Stream[ReadRequest]
	ReadMeta    *fifo.Stream[session.ID]
	ReadData    *fifo.Stream[rxmem.Chunk]
	LsnReq      *fifo.Stream[uint16]
	LsnRep      *fifo.Stream[bool]
	CloseReq    *fifo.Stream[uint16]
	Notify      *fifo.Stream[Notification]
	TimerNotify *fifo.Stream[Notification]

	Stream   *AppStream
	Reader   *MemoryReader
	Stitcher *SegmentStitcher
	Listen   *ListenInterface
	Mux      *NotifyMux

	internal []interface{ Drain() int }
}

func New(layout rxmem.Layout, depth int, links Links, log zerolog.Logger) *Interface {
	log = log.With().Str("stage", "rxApp").Logger()
	if layout.Sessions < 1 {
		layout.Sessions = 1
	}
	cmds := fifo.New[rxmem.DmCmd]("rxApp.cmd", depth)
	split := fifo.New[bool]("rxApp.split", depth)

	i := &Interface{
		ReadReq:     fifo.New[ReadRequest]("rxApp.readReq", depth),
		ReadMeta:    fifo.New[session.ID]("rxApp.readMeta", depth),
		ReadData:    fifo.New[rxmem.Chunk]("rxApp.readData", depth),
		LsnReq:      fifo.New[uint16]("rxApp.lsnReq", depth),
		LsnRep:      fifo.New[bool]("rxApp.lsnRep", depth),
		CloseReq:    fifo.New[uint16]("rxApp.closeReq", depth),
		Notify:      fifo.New[Notification]("rxApp.notify", depth),
		TimerNotify: fifo.New[Notification]("rxApp.timerNotify", depth),
	}
	i.Stream = &AppStream{
		Req:    i.ReadReq,
		Meta:   i.ReadMeta,
		MemCmd: cmds,
		SarReq: links.SarReq,
		SarRep: links.SarRep,
		layout: layout,
		log:    log,
	}
	i.Reader = &MemoryReader{In: cmds, Out: links.MemCmd, Split: split, layout: layout, log: log}
	i.Stitcher = &SegmentStitcher{Split: split, In: links.MemData, Out: i.ReadData, log: log}
	i.Listen = &ListenInterface{
		AppLsnReq:    i.LsnReq,
		AppLsnRep:    i.LsnRep,
		AppCloseReq:  i.CloseReq,
		PortLsnReq:   links.PortLsnReq,
		PortLsnRep:   links.PortLsnRep,
		PortCloseReq: links.PortCloseReq,
		log:          log,
	}
	i.Mux = &NotifyMux{Rxe: links.RxeNotify, Timers: i.TimerNotify, Out: i.Notify}
	i.internal = []interface{ Drain() int }{
		cmds, split, i.ReadReq, i.ReadMeta, i.ReadData, i.LsnReq, i.LsnRep, i.CloseReq, i.Notify, i.TimerNotify,
	}
	return i
}

// Stages returns the member stages in data-flow order.
func (i *Interface) Stages() []pipeline.Stage {
	return []pipeline.Stage{i.Stream, i.Reader, i.Stitcher, i.Listen, i.Mux}
}

func (i *Interface) Name() string { return "rxApp" }

func (i *Interface) Step() {
	for _, s := range i.Stages() {
		s.Step()
	}
}

func (i *Interface) Reset() {
	for _, s := range i.Stages() {
		s.Reset()
	}
	for _, q := range i.internal {
		q.Drain()
	}
}
