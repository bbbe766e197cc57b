package rxapp

import (
	"github.com/rs/zerolog"

	"toe-nts/pkg/fifo"
	"toe-nts/pkg/metrics"
	"toe-nts/pkg/rxmem"
	"toe-nts/pkg/rxsar"
	"toe-nts/pkg/session"
)

type streamState int

const (
	waitRequest streamState = iota
	waitReply
)

// AppStream turns a read request into a memory command. It queries the
// session's read pointer, then emits the session id as metadata, the command
// and the pointer update.
type AppStream struct {
	Req    *fifo.Stream[ReadRequest]
	Meta   *fifo.Stream[session.ID]
	MemCmd *fifo.Stream[rxmem.DmCmd]
	SarReq *fifo.Stream[rxsar.AppQuery]
	SarRep *fifo.Stream[rxsar.AppReply]

	layout rxmem.Layout
	state  streamState
	length uint16
	log    zerolog.Logger
}

func (s *AppStream) Name() string { return "rxApp.stream" }

func (s *AppStream) Step() {
	switch s.state {
	case waitRequest:
		if s.Req.Empty() || s.SarReq.Full() {
			return
		}
		req, _ := s.Req.TryPop()
		if req.Length == 0 {
			s.log.Debug().Uint16("session", uint16(req.Session)).Msg("zero length read request dropped")
			metrics.RecordDrop("zero_length_read")
			return
		}
		if int(req.Session) >= s.layout.Sessions {
			s.log.Debug().Uint16("session", uint16(req.Session)).Msg("read request for unknown session dropped")
			metrics.RecordDrop("session_out_of_range")
			return
		}
		s.SarReq.TryPush(rxsar.AppQuery{Session: req.Session})
		s.length = req.Length
		s.state = waitReply
	case waitReply:
		if s.SarRep.Empty() || s.Meta.Full() || s.MemCmd.Full() || s.SarReq.Full() {
			return
		}
		rep, _ := s.SarRep.TryPop()
		cmd := rxmem.DmCmd{Addr: s.layout.Addr(rep.Session, rep.Appd), Bbt: uint32(s.length)}
		s.Meta.TryPush(rep.Session)
		s.MemCmd.TryPush(cmd)
		s.SarReq.TryPush(rxsar.AppQuery{
			Session: rep.Session,
			Appd:    (rep.Appd + uint32(s.length)) & s.layout.Mask(),
			Write:   true,
		})
		s.log.Trace().Uint16("session", uint16(rep.Session)).Stringer("cmd", cmd).Msg("read issued")
		s.state = waitRequest
	}
}

func (s *AppStream) Reset() {
	s.state = waitRequest
	s.length = 0
}
