package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// Dispatcher is a two-lane queue feeding messages into the program. User-
// visible results (Push) always drain before background chatter
// (PushBackground), and background messages drain in bounded batches so a
// burst of poll results can never starve a keypress repaint.
type Dispatcher struct {
	mu     sync.Mutex
	high   []tea.Msg
	low    []tea.Msg
	closed bool

	wake     chan struct{}
	maxBatch int
}

// NewDispatcher returns a dispatcher draining at most maxBatch background
// messages per cycle (<=0 selects the default of 16).
func NewDispatcher(maxBatch int) *Dispatcher {
	if maxBatch <= 0 {
		maxBatch = 16
	}
	return &Dispatcher{
		wake:     make(chan struct{}, 1),
		maxBatch: maxBatch,
	}
}

// Push enqueues a high-priority message.
func (d *Dispatcher) Push(msg tea.Msg) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.high = append(d.high, msg)
	d.mu.Unlock()
	d.signal()
}

// PushBackground enqueues a low-priority message.
func (d *Dispatcher) PushBackground(msg tea.Msg) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.low = append(d.low, msg)
	d.mu.Unlock()
	d.signal()
}

// Wait blocks until at least one message is queued. Returns false once the
// dispatcher is closed and fully drained. Stale wakes left over from already-
// drained messages are absorbed by re-checking the queues.
func (d *Dispatcher) Wait() bool {
	for {
		d.mu.Lock()
		if len(d.high) > 0 || len(d.low) > 0 {
			d.mu.Unlock()
			return true
		}
		if d.closed {
			d.mu.Unlock()
			return false
		}
		d.mu.Unlock()

		if _, ok := <-d.wake; !ok {
			// Channel closed: loop once more to drain anything racing in.
			d.mu.Lock()
			pending := len(d.high) > 0 || len(d.low) > 0
			d.mu.Unlock()
			return pending
		}
	}
}

// Drain returns every queued high-priority message followed by at most
// maxBatch low-priority ones, in arrival order within each lane.
func (d *Dispatcher) Drain() []tea.Msg {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]tea.Msg, 0, len(d.high)+min(len(d.low), d.maxBatch))
	out = append(out, d.high...)
	d.high = nil

	n := min(len(d.low), d.maxBatch)
	out = append(out, d.low[:n]...)
	d.low = append([]tea.Msg(nil), d.low[n:]...)
	return out
}

// Close stops the dispatcher. Queued messages may still be drained; further
// pushes are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	close(d.wake)
}

// Forward pumps the dispatcher into send until Close. Run it on its own
// goroutine with p.Send.
func (d *Dispatcher) Forward(send func(tea.Msg)) {
	for d.Wait() {
		for _, msg := range d.Drain() {
			send(msg)
		}
	}
}

func (d *Dispatcher) signal() {
	defer func() { recover() }() // wake channel may close mid-send during shutdown
	select {
	case d.wake <- struct{}{}:
	default:
	}
}
