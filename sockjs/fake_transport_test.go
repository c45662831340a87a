package sockjs

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport plays both the transport and the server side in memory.
type fakeTransport struct {
	transportBase

	connectErr error
	block      bool // Connect waits for its context
	sendOpen   bool // server sends "o" right after connect
	sendErr    error

	connecting  chan struct{}
	sent        chan string
	disconnects atomic.Int32
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{
		transportBase: newTransportBase(name),
		sendOpen:      true,
		connecting:    make(chan struct{}),
		sent:          make(chan string, 16),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	close(f.connecting)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.connectErr != nil {
		return f.connectErr
	}
	if !f.markConnected(nil) {
		return ErrNotOpen
	}
	if f.sendOpen {
		f.inject("o")
	}
	return nil
}

// inject delivers a raw frame as if received from the server
func (f *fakeTransport) inject(frame string) { f.emitFrame([]byte(frame)) }

// drop simulates the connection going away without a close frame
func (f *fakeTransport) drop(err error) {
	if first, _ := f.beginClose(); first {
		go f.emitDisconnected(err)
	}
}

func (f *fakeTransport) Send(ctx context.Context, payload []byte) error {
	if !f.isOpen() {
		return ErrNotOpen
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent <- string(payload)
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.disconnects.Add(1)
	if first, _ := f.beginClose(); first {
		go f.emitDisconnected(nil)
	}
	return nil
}

// fakeNetwork hands out fake transports and records negotiation attempts.
type fakeNetwork struct {
	mux      sync.Mutex
	attempts []string
	last     map[string]*fakeTransport
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{last: make(map[string]*fakeTransport)}
}

func (n *fakeNetwork) descriptor(name string, priority uint, setup func(*fakeTransport)) TransportDescriptor {
	return TransportDescriptor{
		Name:     name,
		Enabled:  true,
		Priority: priority,
		Factory: func(TransportConfig) (Transport, error) {
			f := newFakeTransport(name)
			if setup != nil {
				setup(f)
			}
			n.mux.Lock()
			n.attempts = append(n.attempts, name)
			n.last[name] = f
			n.mux.Unlock()
			return f, nil
		},
	}
}

func (n *fakeNetwork) tried() []string {
	n.mux.Lock()
	defer n.mux.Unlock()
	return append([]string(nil), n.attempts...)
}

func (n *fakeNetwork) transport(name string) *fakeTransport {
	n.mux.Lock()
	defer n.mux.Unlock()
	return n.last[name]
}

// recorder collects session events.
type recorder struct{ ch chan Event }

func record(s *Session) *recorder {
	r := &recorder{ch: make(chan Event, 128)}
	s.Subscribe(func(ev Event) { r.ch <- ev })
	return r
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return Event{}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Errorf("Unexpected event received: '%v'", ev)
	case <-time.After(wait):
	}
}
