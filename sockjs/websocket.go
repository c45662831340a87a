package sockjs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const wsCloseTimeout = time.Second

type wsTransport struct {
	transportBase
	url    *url.URL
	header http.Header
	dialer websocket.Dialer
	logger Logger

	conn *websocket.Conn // set once connected, guarded by transportBase.mux
}

// NewWebsocketTransport builds the native websocket transport. The session
// URL scheme is rewritten to ws/wss and /websocket appended.
func NewWebsocketTransport(cfg TransportConfig) (Transport, error) {
	u, err := websocketURL(cfg.SessionURL)
	if err != nil {
		return nil, err
	}
	t := &wsTransport{
		transportBase: newTransportBase(TransportWebsocket),
		url:           u,
		header:        cfg.Header.Clone(),
		logger:        cfg.Logger,
		dialer: websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			EnableCompression: cfg.Compression,
		},
	}
	if cfg.HTTPClient != nil {
		t.dialer.Jar = cfg.HTTPClient.Jar
	}
	return t, nil
}

func websocketURL(sessionURL *url.URL) (*url.URL, error) {
	u := *sessionURL
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return nil, fmt.Errorf("sockjs: unsupported scheme %q", u.Scheme)
	}
	return u.JoinPath("websocket"), nil
}

func (t *wsTransport) Connect(ctx context.Context) error {
	conn, resp, err := t.dialer.DialContext(ctx, t.url.String(), t.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("sockjs: websocket handshake: %w (status %s)", err, resp.Status)
		}
		return err
	}
	if !t.markConnected(func() { t.conn = conn }) {
		conn.Close()
		return ErrNotOpen
	}
	t.logger.Debug("websocket connected", "url", t.url.String())
	go t.readLoop(conn)
	return nil
}

func (t *wsTransport) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	var err error
	for {
		var msg []byte
		// ReadMessage joins continuation fragments into one message
		if _, msg, err = conn.ReadMessage(); err != nil {
			break
		}
		t.emitFrame(msg)
	}
	if t.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		err = nil
	}
	t.emitDisconnected(err)
}

func (t *wsTransport) Send(ctx context.Context, payload []byte) error {
	t.sendMux.Lock()
	defer t.sendMux.Unlock()
	if !t.isOpen() {
		return ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	conn := t.conn
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (t *wsTransport) Disconnect() error {
	first, looping := t.beginClose()
	if !first {
		return nil
	}
	if !looping {
		t.emitDisconnected(nil)
		return nil
	}
	err := t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsCloseTimeout))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		t.logger.Debug("websocket close message not sent", "error", err)
	}
	// unblocks ReadMessage, the read loop raises Disconnected
	t.conn.Close()
	return nil
}
