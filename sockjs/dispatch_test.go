package sockjs

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitReaders(t *testing.T, d *dispatcher) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		d.readers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber goroutines still running")
	}
}

func TestDispatcher_Order(t *testing.T) {
	d := newDispatcher(testLogger())
	got := make(chan string, 100)
	d.subscribe(func(ev Event) { got <- ev.Message })
	for i := 0; i < 100; i++ {
		d.publish(Event{Type: EventMessage, Message: fmt.Sprint(i)})
	}
	for i := 0; i < 100; i++ {
		require.Equal(t, fmt.Sprint(i), waitFor(t, got))
	}
	d.close()
	waitReaders(t, d)
}

func TestDispatcher_UnsubscribeEndsReader(t *testing.T) {
	d := newDispatcher(testLogger())
	kept := make(chan string, 4)
	dropped := make(chan string, 4)
	d.subscribe(func(ev Event) { kept <- ev.Message })
	unsubscribe := d.subscribe(func(ev Event) { dropped <- ev.Message })

	d.publish(Event{Type: EventMessage, Message: "a"})
	assert.Equal(t, "a", waitFor(t, dropped))
	assert.Equal(t, "a", waitFor(t, kept))

	unsubscribe()
	unsubscribe()
	d.publish(Event{Type: EventMessage, Message: "b"})
	assert.Equal(t, "b", waitFor(t, kept))
	select {
	case m := <-dropped:
		t.Errorf("unsubscribed handler got %q", m)
	case <-time.After(20 * time.Millisecond):
	}

	d.close()
	waitReaders(t, d)
}

func TestDispatcher_UnsubscribeWithoutClose(t *testing.T) {
	d := newDispatcher(testLogger())
	unsubscribe := d.subscribe(func(Event) {})
	unsubscribe()
	waitReaders(t, d)
}

func TestDispatcher_SubscribeAfterClose(t *testing.T) {
	d := newDispatcher(testLogger())
	d.close()
	d.close()
	called := make(chan struct{}, 1)
	unsubscribe := d.subscribe(func(Event) { called <- struct{}{} })
	waitReaders(t, d)
	unsubscribe()
	d.publish(Event{Type: EventMessage})
	select {
	case <-called:
		t.Error("handler called after close")
	case <-time.After(20 * time.Millisecond):
	}
}
