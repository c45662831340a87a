package sockjs

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client is the application facing API. It owns at most one Session at a
// time and keeps event subscriptions across sessions created by Reconnect.
type Client struct {
	cfg Config

	mux     sync.Mutex
	session *Session
	subs    map[uint64]*subscription
	nextID  uint64
}

type subscription struct {
	onEvent func(Event)
	onError func(error)
	cancel  func()
}

func (sub *subscription) attach(s *Session) {
	if sub.onEvent != nil {
		sub.cancel = s.Subscribe(sub.onEvent)
	} else {
		sub.cancel = s.OnError(sub.onError)
	}
}

// NewClient creates a client for the SockJS endpoint at baseURL, e.g.
// http://localhost:8081/echo
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	cfg, err := NewConfig(baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg.normalize(), subs: make(map[uint64]*subscription)}, nil
}

// Connect opens the session. It fails with ErrSessionUsed if the client was
// connected before, use Reconnect to start over.
func (c *Client) Connect(ctx context.Context) error {
	c.mux.Lock()
	if c.session != nil {
		c.mux.Unlock()
		return ErrSessionUsed
	}
	s := c.newSessionLocked()
	c.mux.Unlock()
	return s.Connect(ctx)
}

// Reconnect closes the current session, if any, and connects a new one,
// retrying according to the configured ReconnectPolicy.
func (c *Client) Reconnect(ctx context.Context) error {
	if old := c.Session(); old != nil {
		if err := old.Disconnect(ctx); err != nil {
			return err
		}
	}
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		c.mux.Lock()
		s := c.newSessionLocked()
		c.mux.Unlock()
		err := s.Connect(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, c.cfg.Reconnect.backOff(ctx), func(err error, next time.Duration) {
		c.cfg.Logger.Info("reconnect attempt failed", "attempt", attempt, "retry_in", next, "error", err)
	})
}

func (c *Client) newSessionLocked() *Session {
	s := NewSession(c.cfg)
	for _, sub := range c.subs {
		sub.attach(s)
	}
	c.session = s
	return s
}

// Session returns the current session, nil before the first Connect.
func (c *Client) Session() *Session {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.session
}

// State returns the state of the current session.
func (c *Client) State() SessionState {
	if s := c.Session(); s != nil {
		return s.State()
	}
	return SessionNew
}

// Send sends a message over the current session.
func (c *Client) Send(ctx context.Context, message string) error {
	s := c.Session()
	if s == nil {
		return &SendError{Err: ErrNotOpen}
	}
	return s.Send(ctx, message)
}

// Disconnect closes the current session and waits for it to be closed.
func (c *Client) Disconnect(ctx context.Context) error {
	s := c.Session()
	if s == nil {
		return nil
	}
	return s.Disconnect(ctx)
}

func (c *Client) subscribe(sub *subscription) (unsubscribe func()) {
	c.mux.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = sub
	if c.session != nil {
		sub.attach(c.session)
	}
	c.mux.Unlock()
	return func() {
		c.mux.Lock()
		defer c.mux.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			if sub.cancel != nil {
				sub.cancel()
			}
		}
	}
}

// OnConnected registers fn to run when a session opens.
func (c *Client) OnConnected(fn func()) (unsubscribe func()) {
	return c.subscribe(&subscription{onEvent: func(ev Event) {
		if ev.Type == EventConnected {
			fn()
		}
	}})
}

// OnMessage registers fn to run for every received message, in order.
func (c *Client) OnMessage(fn func(message string)) (unsubscribe func()) {
	return c.subscribe(&subscription{onEvent: func(ev Event) {
		if ev.Type == EventMessage {
			fn(ev.Message)
		}
	}})
}

// OnDisconnected registers fn to run when a session closes.
func (c *Client) OnDisconnected(fn func(code int, reason string)) (unsubscribe func()) {
	return c.subscribe(&subscription{onEvent: func(ev Event) {
		if ev.Type == EventDisconnected {
			fn(ev.Code, ev.Reason)
		}
	}})
}

// OnError registers fn for panics recovered from event handlers.
func (c *Client) OnError(fn func(error)) (unsubscribe func()) {
	return c.subscribe(&subscription{onError: fn})
}

// OnEvent registers fn for every session event, including the error carried
// by EventDisconnected (e.g. ErrHeartbeatTimeout).
func (c *Client) OnEvent(fn func(Event)) (unsubscribe func()) {
	return c.subscribe(&subscription{onEvent: fn})
}
