// Package fifo provides the bounded streams that connect pipeline stages.
//
// A stream has exactly one producing stage and one consuming stage. Both
// sides only use the non-blocking operations, so a stage that finds its input
// empty or its output full simply does nothing on that step.
package fifo

// Stream is a bounded first-in first-out queue of T.
type Stream[T any] struct {
	name string
	ch   chan T
}

// Signal is a stream whose items carry no payload, used for credits.
type Signal = Stream[struct{}]

// New returns a stream holding at most depth items. A depth below one is
// raised to one.
func New[T any](name string, depth int) *Stream[T] {
	if depth < 1 {
		depth = 1
	}
	return &Stream[T]{name: name, ch: make(chan T, depth)}
}

// NewSignal returns a credit stream.
func NewSignal(name string, depth int) *Signal {
	return New[struct{}](name, depth)
}

func (s *Stream[T]) Name() string { return s.name }

// TryPush appends v and reports whether there was room for it.
func (s *Stream[T]) TryPush(v T) bool {
	select {
	case s.ch <- v:
		return true
	default:
		return false
	}
}

// TryPop removes the oldest item. ok is false when the stream is empty.
func (s *Stream[T]) TryPop() (v T, ok bool) {
	select {
	case v = <-s.ch:
		return v, true
	default:
		return v, false
	}
}

func (s *Stream[T]) Empty() bool { return len(s.ch) == 0 }

func (s *Stream[T]) Full() bool { return len(s.ch) == cap(s.ch) }

func (s *Stream[T]) Len() int { return len(s.ch) }

func (s *Stream[T]) Cap() int { return cap(s.ch) }

// Drain discards every queued item and returns how many were dropped.
func (s *Stream[T]) Drain() int {
	n := 0
	for {
		if _, ok := s.TryPop(); !ok {
			return n
		}
		n++
	}
}

// Raise pushes an empty token on a signal stream.
func Raise(s *Signal) bool {
	return s.TryPush(struct{}{})
}
