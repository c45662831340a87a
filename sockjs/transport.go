package sockjs

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// Transport is a single physical connection to a SockJS session.
//
// A transport raises exactly one TransportConnected after a successful Connect,
// then one TransportFrame per received frame, then exactly one TransportDisconnected,
// after which the Events channel is closed. The consumer must drain Events
// until it is closed.
type Transport interface {
	Name() string
	// Connect establishes the underlying resource. ctx bounds only the
	// establishment, the receive loop runs until Disconnect or remote close.
	Connect(ctx context.Context) error
	// Send writes an encoded frame payload, e.g. ["msg"]. Fails with
	// ErrNotOpen before Connected or after Disconnected.
	Send(ctx context.Context, payload []byte) error
	// Disconnect releases the resource. It is idempotent and does not wait
	// for the receive loop.
	Disconnect() error
	Events() <-chan TransportEvent
}

// TransportEventType enumerates transport events.
type TransportEventType int

const (
	TransportConnected TransportEventType = iota
	TransportFrame
	TransportDisconnected
)

// TransportEvent is raised by a transport. Frame is set for TransportFrame;
// Err carries a DecodeError for TransportFrame or the failure for TransportDisconnected.
type TransportEvent struct {
	Type  TransportEventType
	Frame Frame
	Err   error
}

// TransportConfig is handed to a TransportFactory.
type TransportConfig struct {
	// SessionURL is {base}/{server_id}/{session_id}
	SessionURL  *url.URL
	Header      http.Header
	HTTPClient  *http.Client
	Logger      Logger
	Compression bool
	PollRate    rate.Limit
}

// transportBase implements the event bookkeeping shared by all transports.
type transportBase struct {
	name   string
	events chan TransportEvent

	mux       sync.Mutex
	connected bool
	closed    bool
	looping   bool

	disconnectOnce sync.Once
	sendMux        sync.Mutex
}

func newTransportBase(name string) transportBase {
	// Connected is always the first event, the buffer keeps markConnected from blocking
	return transportBase{name: name, events: make(chan TransportEvent, 16)}
}

func (b *transportBase) Name() string { return b.name }

func (b *transportBase) Events() <-chan TransportEvent { return b.events }

// markConnected raises Connected unless Disconnect already ran. attach is
// called under the lock so the resource is visible to Disconnect.
func (b *transportBase) markConnected(attach func()) bool {
	b.mux.Lock()
	defer b.mux.Unlock()
	if b.closed || b.connected {
		return false
	}
	if attach != nil {
		attach()
	}
	b.connected = true
	b.looping = true
	b.events <- TransportEvent{Type: TransportConnected}
	return true
}

// beginClose marks the transport closed. first is false on repeated calls,
// looping reports whether a receive loop will raise Disconnected.
func (b *transportBase) beginClose() (first, looping bool) {
	b.mux.Lock()
	defer b.mux.Unlock()
	if b.closed {
		return false, b.looping
	}
	b.closed = true
	return true, b.looping
}

func (b *transportBase) isOpen() bool {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.connected && !b.closed
}

func (b *transportBase) isClosed() bool {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.closed
}

// emitFrame decodes payload and hands it to the consumer.
func (b *transportBase) emitFrame(payload []byte) Frame {
	f, err := DecodeFrame(payload)
	b.events <- TransportEvent{Type: TransportFrame, Frame: f, Err: err}
	return f
}

func (b *transportBase) emitDisconnected(err error) {
	b.disconnectOnce.Do(func() {
		b.mux.Lock()
		b.closed = true
		b.mux.Unlock()
		b.events <- TransportEvent{Type: TransportDisconnected, Err: err}
		close(b.events)
	})
}
