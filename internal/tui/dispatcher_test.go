package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type testMsg struct{ n int }

func TestDrainPrioritisesHighLane(t *testing.T) {
	d := NewDispatcher(16)
	d.PushBackground(testMsg{1})
	d.PushBackground(testMsg{2})
	d.Push(testMsg{3})
	d.Push(testMsg{4})

	got := d.Drain()
	want := []int{3, 4, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("drained %d messages, want %d", len(got), len(want))
	}
	for i, msg := range got {
		if msg.(testMsg).n != want[i] {
			t.Errorf("drain[%d] = %v, want %d", i, msg, want[i])
		}
	}
}

func TestDrainBoundsBackgroundBatch(t *testing.T) {
	d := NewDispatcher(4)
	for i := range 10 {
		d.PushBackground(testMsg{i})
	}
	d.Push(testMsg{100})

	got := d.Drain()
	if len(got) != 5 { // one high + batch of four low
		t.Fatalf("first drain = %d messages, want 5", len(got))
	}
	if got[0].(testMsg).n != 100 {
		t.Errorf("high message not first: %v", got[0])
	}
	if got[1].(testMsg).n != 0 || got[4].(testMsg).n != 3 {
		t.Errorf("background batch out of order: %v", got)
	}

	// The remainder survives for later cycles.
	rest := d.Drain()
	if len(rest) != 4 {
		t.Fatalf("second drain = %d, want 4", len(rest))
	}
	if len(d.Drain()) != 2 {
		t.Fatal("third drain lost the tail")
	}
}

func TestWaitWakesOnPush(t *testing.T) {
	d := NewDispatcher(0)

	ready := make(chan bool, 1)
	go func() { ready <- d.Wait() }()

	time.Sleep(10 * time.Millisecond)
	d.Push(testMsg{1})

	select {
	case ok := <-ready:
		if !ok {
			t.Fatal("Wait returned false with a queued message")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake on Push")
	}
}

func TestWaitAbsorbsStaleWakes(t *testing.T) {
	d := NewDispatcher(0)
	d.Push(testMsg{1})
	d.Drain() // leaves a pending wake with nothing queued

	done := make(chan bool, 1)
	go func() { done <- d.Wait() }()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Wait returned on a stale wake with empty queues")
	default:
	}

	d.PushBackground(testMsg{2})
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("Wait returned false")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait never woke")
	}
}

func TestCloseUnblocksWait(t *testing.T) {
	d := NewDispatcher(0)
	done := make(chan bool, 1)
	go func() { done <- d.Wait() }()

	time.Sleep(10 * time.Millisecond)
	d.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("Wait returned true on a closed empty dispatcher")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Wait")
	}

	// Pushes after close are dropped, not panics.
	d.Push(testMsg{1})
	if msgs := d.Drain(); len(msgs) != 0 {
		t.Errorf("message accepted after close: %v", msgs)
	}
}

func TestForwardDeliversInOrder(t *testing.T) {
	d := NewDispatcher(16)

	var got []int
	done := make(chan struct{})
	go func() {
		d.Forward(func(msg tea.Msg) { got = append(got, msg.(testMsg).n) })
		close(done)
	}()

	d.PushBackground(testMsg{2})
	d.Push(testMsg{1})
	time.Sleep(20 * time.Millisecond)
	d.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward did not stop after Close")
	}
	if len(got) != 2 {
		t.Fatalf("forwarded %d messages, want 2", len(got))
	}
}
