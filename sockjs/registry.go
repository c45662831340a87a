package sockjs

import (
	"fmt"
	"sort"
	"sync"
)

// Names of the built-in transports, matching the SockJS URL suffixes.
const (
	TransportWebsocket    = "websocket"
	TransportXHRStreaming = "xhr_streaming"
	TransportEventSource  = "eventsource"
	TransportXHRPolling   = "xhr"
	TransportJSONP        = "jsonp"
)

// TransportFactory builds a transport bound to one session.
type TransportFactory func(cfg TransportConfig) (Transport, error)

// TransportDescriptor describes a transport available for negotiation.
type TransportDescriptor struct {
	Name     string
	Enabled  bool
	Priority uint // higher is tried first
	Factory  TransportFactory
}

type registryEntry struct {
	TransportDescriptor
	seq int
}

// Registry holds transport descriptors. It is safe for concurrent use and
// may be shared by many sessions.
type Registry struct {
	mux     sync.RWMutex
	entries map[string]*registryEntry
	nextSeq int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// DefaultRegistry returns a new registry holding all built-in transports, enabled.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range []TransportDescriptor{
		{Name: TransportWebsocket, Enabled: true, Priority: 100, Factory: NewWebsocketTransport},
		{Name: TransportXHRStreaming, Enabled: true, Priority: 90, Factory: NewXHRStreamingTransport},
		{Name: TransportEventSource, Enabled: true, Priority: 80, Factory: NewEventSourceTransport},
		{Name: TransportXHRPolling, Enabled: true, Priority: 50, Factory: NewXHRPollingTransport},
		{Name: TransportJSONP, Enabled: true, Priority: 10, Factory: NewJSONPTransport},
	} {
		// names are distinct and factories set, Register cannot fail here
		_ = r.Register(d)
	}
	return r
}

// Register adds a descriptor. Names must be unique.
func (r *Registry) Register(d TransportDescriptor) error {
	if d.Name == "" {
		return fmt.Errorf("sockjs: transport name is empty")
	}
	if d.Factory == nil {
		return fmt.Errorf("sockjs: transport %q has no factory", d.Name)
	}
	r.mux.Lock()
	defer r.mux.Unlock()
	if _, ok := r.entries[d.Name]; ok {
		return fmt.Errorf("%w: %q", errTransportRegistered, d.Name)
	}
	r.entries[d.Name] = &registryEntry{TransportDescriptor: d, seq: r.nextSeq}
	r.nextSeq++
	return nil
}

// SetEnabled enables or disables a registered transport.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	return r.update(name, func(e *registryEntry) { e.Enabled = enabled })
}

// SetPriority changes the priority of a registered transport.
func (r *Registry) SetPriority(name string, priority uint) error {
	return r.update(name, func(e *registryEntry) { e.Priority = priority })
}

func (r *Registry) update(name string, fn func(*registryEntry)) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", errTransportUnknown, name)
	}
	fn(e)
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (TransportDescriptor, bool) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return TransportDescriptor{}, false
	}
	return e.TransportDescriptor, true
}

// CandidatesInPriorityOrder returns the enabled descriptors, highest priority
// first, ties in registration order.
func (r *Registry) CandidatesInPriorityOrder() []TransportDescriptor {
	r.mux.RLock()
	entries := make([]registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Enabled {
			entries = append(entries, *e)
		}
	}
	r.mux.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].seq < entries[j].seq
	})
	out := make([]TransportDescriptor, len(entries))
	for i, e := range entries {
		out[i] = e.TransportDescriptor
	}
	return out
}
