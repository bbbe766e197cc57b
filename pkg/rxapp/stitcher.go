package rxapp

import (
	"github.com/rs/zerolog"

	"toe-nts/pkg/fifo"
	"toe-nts/pkg/rxmem"
)

type stitchState int

const (
	stitchIdle stitchState = iota
	forwardFirst
	forwardSecond
	joinSecond
	flushResidue
)

func (s stitchState) String() string {
	switch s {
	case stitchIdle:
		return "IDLE"
	case forwardFirst:
		return "FWD_1ST"
	case forwardSecond:
		return "FWD_2ND"
	case joinSecond:
		return "JOIN_2ND"
	case flushResidue:
		return "RESIDUE"
	default:
		return "?"
	}
}

// SegmentStitcher joins the two transfers of a split read into one stream.
// When the first transfer ends on a partial chunk, its bytes are carried
// over and every chunk of the second transfer is shifted behind them.
type SegmentStitcher struct {
	Split *fifo.Stream[bool]
	In    *fifo.Stream[rxmem.Chunk]
	Out   *fifo.Stream[rxmem.Chunk]

	state   stitchState
	split   bool
	residue [rxmem.ChunkSize]byte
	resLen  int
	log     zerolog.Logger
}

func (s *SegmentStitcher) Name() string { return "rxApp.stitcher" }

func (s *SegmentStitcher) Step() {
	switch s.state {
	case stitchIdle:
		if split, ok := s.Split.TryPop(); ok {
			s.split = split
			s.state = forwardFirst
		}
	case forwardFirst:
		if s.In.Empty() || s.Out.Full() {
			return
		}
		c, _ := s.In.TryPop()
		if !c.Last {
			s.Out.TryPush(c)
			return
		}
		if !s.split {
			s.Out.TryPush(c)
			s.state = stitchIdle
			return
		}
		c.Last = false
		if c.Len == rxmem.ChunkSize {
			s.Out.TryPush(c)
			s.state = forwardSecond
			return
		}
		// Partial boundary chunk: hold it back.
		s.resLen = copy(s.residue[:], c.Bytes())
		s.log.Trace().Int("residue", s.resLen).Msg("joining second segment")
		s.state = joinSecond
	case forwardSecond:
		if s.In.Empty() || s.Out.Full() {
			return
		}
		c, _ := s.In.TryPop()
		s.Out.TryPush(c)
		if c.Last {
			s.state = stitchIdle
		}
	case joinSecond:
		if s.In.Empty() || s.Out.Full() {
			return
		}
		c, _ := s.In.TryPop()
		var buf [2 * rxmem.ChunkSize]byte
		n := copy(buf[:], s.residue[:s.resLen])
		n += copy(buf[n:], c.Bytes())

		var out rxmem.Chunk
		k := copy(out.Data[:], buf[:min(n, rxmem.ChunkSize)])
		out.Len = uint8(k)
		s.resLen = copy(s.residue[:], buf[k:n])
		if !c.Last {
			s.Out.TryPush(out)
			return
		}
		if s.resLen == 0 {
			out.Last = true
			s.Out.TryPush(out)
			s.state = stitchIdle
			return
		}
		s.Out.TryPush(out)
		s.state = flushResidue
	case flushResidue:
		if s.Out.Full() {
			return
		}
		var out rxmem.Chunk
		out.Len = uint8(copy(out.Data[:], s.residue[:s.resLen]))
		out.Last = true
		s.Out.TryPush(out)
		s.resLen = 0
		s.state = stitchIdle
	}
}

func (s *SegmentStitcher) Reset() {
	s.state = stitchIdle
	s.split = false
	s.resLen = 0
}
