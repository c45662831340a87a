package sockjs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SessionState defines the current state of the session
type SessionState uint32

const (
	// created, Connect not called yet
	SessionNew SessionState = iota
	// negotiating a transport and waiting for the open frame
	SessionConnecting
	// open frame received, messages flow
	SessionOpen
	// close requested or received, waiting for the transport to go down
	SessionClosing
	// terminal, the session can not be reused
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "new"
	case SessionConnecting:
		return "connecting"
	case SessionOpen:
		return "open"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Session is one logical SockJS connection. It negotiates a transport on
// Connect, runs the protocol state machine and delivers events to
// subscribers. A Session is used once, a new connection needs a new Session.
type Session struct {
	cfg      Config
	logger   Logger
	tracer   trace.Tracer
	client   *http.Client
	dispatch *dispatcher

	mux           sync.RWMutex
	state         SessionState
	transport     Transport
	cancelConnect context.CancelFunc
	closeCode     int
	closeReason   string
	closeErr      error

	// closed once the session reached SessionClosed and its transport is gone
	done chan struct{}
}

// NewSession creates a session. cfg is copied, zero fields take defaults.
func NewSession(cfg Config) *Session {
	cfg = cfg.normalize()
	client := cfg.HTTPClient
	if client == nil {
		client = newHTTPClient()
	}
	return &Session{
		cfg:      cfg,
		logger:   cfg.Logger,
		tracer:   newTracer(cfg.TracerProvider),
		client:   client,
		dispatch: newDispatcher(cfg.Logger),
		done:     make(chan struct{}),
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.state
}

// Transport returns the name of the active transport, empty before Open.
func (s *Session) Transport() string {
	s.mux.RLock()
	defer s.mux.RUnlock()
	if s.transport == nil {
		return ""
	}
	return s.transport.Name()
}

// CloseStatus returns the close code and reason once the session is closing.
func (s *Session) CloseStatus() (code int, reason string) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.closeCode, s.closeReason
}

// Done is closed when the session reached SessionClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Subscribe registers fn for every event published after the call. Events
// are delivered in order on a goroutine owned by the subscription, which ends
// when the session is closed or unsubscribe is called.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.dispatch.subscribe(fn)
}

// OnError registers fn for errors raised by event handlers.
func (s *Session) OnError(fn func(error)) (unsubscribe func()) {
	return s.dispatch.onError(fn)
}

// Connect negotiates a transport and blocks until the open frame arrived.
// Candidates from the registry are tried one at a time, in priority order.
func (s *Session) Connect(ctx context.Context) (err error) {
	s.mux.Lock()
	if s.state != SessionNew {
		s.mux.Unlock()
		return ErrSessionUsed
	}
	if err := s.cfg.validate(); err != nil {
		s.state = SessionClosed
		s.mux.Unlock()
		s.shutdown()
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.state = SessionConnecting
	s.cancelConnect = cancel
	s.mux.Unlock()

	ctx, span := startSpan(ctx, s.tracer, "sockjs.connect", attribute.String("sockjs.url", s.cfg.BaseURL.String()))
	defer func() { endSpan(span, err) }()

	s.logger.Info("session connecting", "url", s.cfg.BaseURL.String())
	t, err := s.negotiate(ctx)

	s.mux.Lock()
	if err == nil && ctx.Err() != nil {
		// Disconnect won the race against a successful negotiation
		err = fmt.Errorf("sockjs: connect: %w", ctx.Err())
		s.mux.Unlock()
		s.dispose(t)
		s.mux.Lock()
	}
	s.cancelConnect = nil
	if err != nil {
		s.state = SessionClosed
		s.mux.Unlock()
		s.logger.Error("session connect failed", "error", err)
		s.shutdown()
		return err
	}
	s.state = SessionOpen
	s.transport = t
	s.mux.Unlock()

	s.logger.Info("session open", "transport", t.Name())
	s.cfg.Metrics.sessionOpened()
	s.dispatch.publish(Event{Type: EventConnected})
	go s.run(t)
	return nil
}

func (s *Session) negotiate(ctx context.Context) (Transport, error) {
	candidates := s.cfg.Registry.CandidatesInPriorityOrder()
	if s.cfg.InfoProbe {
		info, err := FetchInfo(ctx, s.client, s.cfg.BaseURL, s.cfg.Header)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("sockjs: connect: %w", ctx.Err())
			}
			return nil, &ConnectError{Err: ErrTransportRejected, Cause: err}
		}
		s.logger.Debug("server info", "websocket", info.Websocket, "cookie_needed", info.CookieNeeded)
		if !info.Websocket {
			candidates = slices.DeleteFunc(candidates, func(d TransportDescriptor) bool {
				return d.Name == TransportWebsocket
			})
		}
	}

	var errs []error
	for _, d := range candidates {
		if ctx.Err() != nil {
			break
		}
		t, err := s.attempt(ctx, d)
		if err == nil {
			return t, nil
		}
		if ctx.Err() != nil {
			break
		}
		s.logger.Error("transport failed", "transport", d.Name, "error", err)
		errs = append(errs, err)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("sockjs: connect: %w", ctx.Err())
	}
	return nil, &ConnectError{Err: ErrAllTransportsExhausted, Cause: errors.Join(errs...)}
}

// attempt connects a single candidate. A failed candidate is fully disposed
// before attempt returns.
func (s *Session) attempt(ctx context.Context, d TransportDescriptor) (t Transport, err error) {
	ctx, span := startSpan(ctx, s.tracer, "sockjs.attempt", attribute.String("sockjs.transport", d.Name))
	defer func() {
		result := "ok"
		if err != nil {
			result = "failed"
		}
		s.cfg.Metrics.connectAttempt(d.Name, result)
		endSpan(span, err)
	}()

	s.logger.Debug("trying transport", "transport", d.Name, "priority", d.Priority)
	t, err = d.Factory(TransportConfig{
		SessionURL:  sessionURL(s.cfg.BaseURL),
		Header:      s.cfg.Header,
		HTTPClient:  s.client,
		Logger:      s.logger,
		Compression: s.cfg.Compression,
		PollRate:    s.cfg.PollRate,
	})
	if err != nil {
		return nil, &ConnectError{Transport: d.Name, Err: ErrTransportRejected, Cause: err}
	}
	if err = s.handshake(ctx, t); err != nil {
		s.dispose(t)
		return nil, err
	}
	return t, nil
}

// handshake connects t and waits for the open frame.
func (s *Session) handshake(ctx context.Context, t Transport) error {
	connectCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.cfg.ConnectTimeout > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	}
	err := t.Connect(connectCtx)
	timedOut := errors.Is(connectCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if timedOut {
			return &ConnectError{Transport: t.Name(), Err: ErrConnectTimeout, Cause: err}
		}
		return &ConnectError{Transport: t.Name(), Err: ErrTransportRejected, Cause: err}
	}

	var openTimeout <-chan time.Time
	if s.cfg.OpenTimeout > 0 {
		timer := time.NewTimer(s.cfg.OpenTimeout)
		defer timer.Stop()
		openTimeout = timer.C
	}
	for {
		select {
		case ev, ok := <-t.Events():
			if !ok || ev.Type == TransportDisconnected {
				cause := errors.New("transport closed before open frame")
				if ok && ev.Err != nil {
					cause = ev.Err
				}
				return &ConnectError{Transport: t.Name(), Err: ErrTransportRejected, Cause: cause}
			}
			if ev.Type != TransportFrame {
				continue
			}
			if ev.Err != nil {
				s.cfg.Metrics.decodeError()
				s.logger.Error("dropping frame", "transport", t.Name(), "error", ev.Err)
				continue
			}
			s.cfg.Metrics.frameReceived(ev.Frame.Type)
			switch ev.Frame.Type {
			case FrameOpen:
				return nil
			case FrameClose:
				return &ConnectError{Transport: t.Name(), Err: ErrTransportRejected,
					Cause: fmt.Errorf("server closed session: %d %s", ev.Frame.Code, ev.Frame.Reason)}
			default:
				s.logger.Debug("frame before open frame dropped", "transport", t.Name(), "frame", ev.Frame.Type.String())
			}
		case <-openTimeout:
			return &ConnectError{Transport: t.Name(), Err: ErrProtocolTimeout}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispose disconnects t and waits until its events channel is closed.
func (s *Session) dispose(t Transport) {
	if err := t.Disconnect(); err != nil {
		s.logger.Debug("transport disconnect", "transport", t.Name(), "error", err)
	}
	for range t.Events() {
	}
}

// run consumes the events of the active transport until it disconnects.
func (s *Session) run(t Transport) {
	var heartbeat <-chan time.Time
	var timer *time.Timer
	if s.cfg.HeartbeatTimeout > 0 {
		timer = time.NewTimer(s.cfg.HeartbeatTimeout)
		defer timer.Stop()
		heartbeat = timer.C
	}
	for {
		select {
		case ev, ok := <-t.Events():
			if !ok {
				s.finish(nil)
				return
			}
			switch ev.Type {
			case TransportDisconnected:
				// drain to the close of the channel
				for range t.Events() {
				}
				s.finish(ev.Err)
				return
			case TransportFrame:
				if s.handleFrame(t, ev) && timer != nil {
					timer.Reset(s.cfg.HeartbeatTimeout)
				}
			}
		case <-heartbeat:
			heartbeat = nil
			s.cfg.Metrics.heartbeatTimeout()
			s.logger.Error("heartbeat timeout", "transport", t.Name(), "timeout", s.cfg.HeartbeatTimeout)
			if s.beginClosing(CloseAbnormal, reasonHeartbeat, ErrHeartbeatTimeout) {
				t.Disconnect()
			}
		}
	}
}

// handleFrame reports whether the frame counts as server activity.
func (s *Session) handleFrame(t Transport, ev TransportEvent) bool {
	if ev.Err != nil {
		s.cfg.Metrics.decodeError()
		s.logger.Error("dropping frame", "transport", t.Name(), "error", ev.Err)
		return false
	}
	f := ev.Frame
	s.cfg.Metrics.frameReceived(f.Type)
	if s.State() != SessionOpen {
		s.logger.Debug("frame after close dropped", "transport", t.Name(), "frame", f.Type.String())
		return false
	}
	switch f.Type {
	case FrameData:
		s.cfg.Metrics.messageReceived(len(f.Messages))
		for _, m := range f.Messages {
			s.dispatch.publish(Event{Type: EventMessage, Message: m})
		}
		return true
	case FrameHeartbeat:
		s.logger.Debug("heartbeat", "transport", t.Name())
		return true
	case FrameClose:
		s.logger.Info("session closed by server", "code", f.Code, "reason", f.Reason)
		if s.beginClosing(f.Code, f.Reason, nil) {
			t.Disconnect()
		}
		return false
	default:
		s.logger.Debug("duplicate open frame dropped", "transport", t.Name())
		return false
	}
}

// beginClosing moves an open session to SessionClosing, keeping the first
// close status recorded.
func (s *Session) beginClosing(code int, reason string, err error) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.state != SessionOpen {
		return false
	}
	s.state = SessionClosing
	s.closeCode, s.closeReason, s.closeErr = code, reason, err
	return true
}

func (s *Session) finish(transportErr error) {
	s.mux.Lock()
	if s.state == SessionOpen {
		// transport went away without a close frame
		s.closeCode, s.closeReason, s.closeErr = CloseAbnormal, reasonLostSession, transportErr
	}
	s.state = SessionClosed
	ev := Event{Type: EventDisconnected, Code: s.closeCode, Reason: s.closeReason, Err: s.closeErr}
	s.mux.Unlock()

	if transportErr != nil {
		s.logger.Error("transport error", "error", transportErr)
	}
	s.logger.Info("session closed", "code", ev.Code, "reason", ev.Reason)
	s.cfg.Metrics.sessionClosed(ev.Code, true)
	s.dispatch.publish(ev)
	s.shutdown()
}

// shutdown ends the event stream and releases waiters.
func (s *Session) shutdown() {
	s.dispatch.close()
	close(s.done)
}

// Send encodes message as a data frame and writes it to the active transport.
func (s *Session) Send(ctx context.Context, message string) error {
	if i := invalidUTF8(message); i >= 0 {
		return &SendError{Err: ErrInvalidMessage, Cause: fmt.Errorf("invalid UTF-8 at byte %d", i)}
	}
	s.mux.RLock()
	state, t := s.state, s.transport
	s.mux.RUnlock()
	if state != SessionOpen {
		return &SendError{Err: ErrNotOpen}
	}
	if err := ctx.Err(); err != nil {
		return &SendError{Err: ErrSendCancelled, Cause: err}
	}
	if err := t.Send(ctx, EncodeMessage(message)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &SendError{Err: ErrSendCancelled, Cause: ctxErr}
		}
		s.logger.Error("send failed", "transport", t.Name(), "error", err)
		return sendError(ErrTransportFailure, err)
	}
	s.cfg.Metrics.messageSent()
	return nil
}

// invalidUTF8 returns the offset of the first invalid byte, or -1.
func invalidUTF8(s string) int {
	if utf8.ValidString(s) {
		return -1
	}
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}

// Disconnect closes the session and blocks until it reached SessionClosed.
// Calling it again, or on a closed session, is a no-op.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mux.Lock()
	switch s.state {
	case SessionNew:
		s.state = SessionClosed
		s.mux.Unlock()
		s.shutdown()
		return nil
	case SessionConnecting:
		s.cancelConnect()
		s.mux.Unlock()
	case SessionOpen:
		s.state = SessionClosing
		s.closeCode, s.closeReason = CloseNormal, reasonLocalClose
		t := s.transport
		s.mux.Unlock()
		s.logger.Info("session closing", "transport", t.Name())
		t.Disconnect()
	case SessionClosing:
		s.mux.Unlock()
	default:
		s.mux.Unlock()
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
