package pipeline

import "toe-nts/pkg/fifo"

// Merge moves at most one item per step from its inputs to Out. Earlier
// inputs win.
type Merge[T any] struct {
	name   string
	Inputs []*fifo.Stream[T]
	Out    *fifo.Stream[T]
}

func NewMerge[T any](name string, out *fifo.Stream[T], inputs ...*fifo.Stream[T]) *Merge[T] {
	return &Merge[T]{name: name, Inputs: inputs, Out: out}
}

func (m *Merge[T]) Name() string { return m.name }

func (m *Merge[T]) Step() {
	if m.Out.Full() {
		return
	}
	for _, in := range m.Inputs {
		if v, ok := in.TryPop(); ok {
			m.Out.TryPush(v)
			return
		}
	}
}

// Reset drains the inputs. Out belongs to its consumer.
func (m *Merge[T]) Reset() {
	for _, in := range m.Inputs {
		in.Drain()
	}
}
