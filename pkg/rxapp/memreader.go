package rxapp

import (
	"github.com/rs/zerolog"

	"toe-nts/pkg/fifo"
	"toe-nts/pkg/metrics"
	"toe-nts/pkg/rxmem"
)

// MemoryReader issues memory commands, splitting one that runs past the end
// of a session window into two: the tail of the window first, then the rest
// from the window start. Every input command yields one split flag for the
// stitcher.
type MemoryReader struct {
	In    *fifo.Stream[rxmem.DmCmd]
	Out   *fifo.Stream[rxmem.DmCmd]
	Split *fifo.Stream[bool]

	layout rxmem.Layout
	second bool
	rest   rxmem.DmCmd
	log    zerolog.Logger
}

// SplitCommand returns the commands a read of cmd becomes in a window of
// bufSize bytes. The second command is zero when no split is needed.
func SplitCommand(cmd rxmem.DmCmd, bufSize uint32) (first, second rxmem.DmCmd, split bool) {
	offset := cmd.Addr & (bufSize - 1)
	if offset+cmd.Bbt <= bufSize {
		return cmd, rxmem.DmCmd{}, false
	}
	first = rxmem.DmCmd{Addr: cmd.Addr, Bbt: bufSize - offset}
	second = rxmem.DmCmd{Addr: cmd.Addr &^ (bufSize - 1), Bbt: cmd.Bbt - first.Bbt}
	return first, second, true
}

func (r *MemoryReader) Name() string { return "rxApp.memReader" }

func (r *MemoryReader) Step() {
	if r.second {
		if r.Out.TryPush(r.rest) {
			r.second = false
		}
		return
	}
	if r.In.Empty() || r.Out.Full() || r.Split.Full() {
		return
	}
	cmd, _ := r.In.TryPop()
	first, second, split := SplitCommand(cmd, r.layout.WindowSize())
	r.Out.TryPush(first)
	r.Split.TryPush(split)
	metrics.RecordReadCommand(split)
	if split {
		r.log.Trace().Stringer("first", first).Stringer("second", second).Msg("read wraps, split")
		r.rest = second
		r.second = true
	}
}

func (r *MemoryReader) Reset() {
	r.second = false
	r.rest = rxmem.DmCmd{}
}
