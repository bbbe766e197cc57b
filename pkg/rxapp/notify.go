package rxapp

import "toe-nts/pkg/fifo"

// NotifyMux merges receive-path and timer notifications toward the
// application. The receive path wins when both are pending.
type NotifyMux struct {
	Rxe    *fifo.Stream[Notification]
	Timers *fifo.Stream[Notification]
	Out    *fifo.Stream[Notification]
}

func (m *NotifyMux) Name() string { return "rxApp.notify" }

func (m *NotifyMux) Step() {
	if m.Out.Full() {
		return
	}
	if n, ok := m.Rxe.TryPop(); ok {
		m.Out.TryPush(n)
	} else if n, ok := m.Timers.TryPop(); ok {
		m.Out.TryPush(n)
	}
}

func (m *NotifyMux) Reset() {}
