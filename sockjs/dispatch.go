package sockjs

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/igm/pubsub"
)

// EventType enumerates the events a session delivers to subscribers.
type EventType int

const (
	EventConnected EventType = iota
	EventMessage
	EventDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is delivered to subscribers. Message is set for EventMessage; Code,
// Reason and Err for EventDisconnected.
type Event struct {
	Type    EventType
	Message string
	Code    int
	Reason  string
	Err     error
}

// published after the last event of a session, ends subscriber goroutines
type endOfEvents struct{}

// published by unsubscribe, ends the goroutine of that subscription only
type unsubscribed struct{ id uint64 }

// dispatcher fans session events out to subscribers. The session publishes
// from a single goroutine; every subscriber reads the same ordered stream in
// its own goroutine.
type dispatcher struct {
	pub    pubsub.Publisher
	logger Logger

	mux         sync.Mutex
	ended       bool
	errHandlers map[uint64]func(error)
	nextID      uint64

	readers sync.WaitGroup
}

func newDispatcher(logger Logger) *dispatcher {
	return &dispatcher{logger: logger, errHandlers: make(map[uint64]func(error))}
}

func (d *dispatcher) publish(ev Event) { d.pub.Publish(ev) }

func (d *dispatcher) close() {
	d.mux.Lock()
	defer d.mux.Unlock()
	if !d.ended {
		d.ended = true
		d.pub.Publish(endOfEvents{})
	}
}

// subscribe registers fn for all events published from now on. The reader
// goroutine ends on close or when unsubscribe is called.
func (d *dispatcher) subscribe(fn func(Event)) (unsubscribe func()) {
	d.mux.Lock()
	if d.ended {
		d.mux.Unlock()
		return func() {}
	}
	id := d.nextID
	d.nextID++
	reader, _ := d.pub.SubReader()
	d.readers.Add(1)
	d.mux.Unlock()

	var cancelled atomic.Bool
	go func() {
		defer d.readers.Done()
		for {
			switch v := reader.Read().(type) {
			case endOfEvents:
				return
			case unsubscribed:
				if v.id == id {
					return
				}
			case Event:
				if !cancelled.Load() {
					d.deliver(fn, v)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancelled.Store(true)
			d.mux.Lock()
			defer d.mux.Unlock()
			if !d.ended {
				d.pub.Publish(unsubscribed{id})
			}
		})
	}
}

// deliver runs a handler, a panic is logged and reported to the error handlers.
func (d *dispatcher) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked", "event", ev.Type.String(), "panic", r)
			d.reportError(fmt.Errorf("sockjs: %s handler panicked: %v", ev.Type, r))
		}
	}()
	fn(ev)
}

func (d *dispatcher) onError(fn func(error)) (unsubscribe func()) {
	d.mux.Lock()
	id := d.nextID
	d.nextID++
	d.errHandlers[id] = fn
	d.mux.Unlock()
	return func() {
		d.mux.Lock()
		delete(d.errHandlers, id)
		d.mux.Unlock()
	}
}

func (d *dispatcher) reportError(err error) {
	d.mux.Lock()
	handlers := make([]func(error), 0, len(d.errHandlers))
	for _, h := range d.errHandlers {
		handlers = append(handlers, h)
	}
	d.mux.Unlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("error handler panicked", "panic", r)
				}
			}()
			h(err)
		}()
	}
}
