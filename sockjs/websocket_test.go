package sockjs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, tr Transport) TransportEvent {
	t.Helper()
	select {
	case ev, ok := <-tr.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no transport event received")
	}
	return TransportEvent{}
}

func expectFrame(t *testing.T, tr Transport, want Frame) {
	t.Helper()
	ev := nextEvent(t, tr)
	require.Equal(t, TransportFrame, ev.Type)
	require.NoError(t, ev.Err)
	assert.Equal(t, want, ev.Frame)
}

func expectClosed(t *testing.T, tr Transport) TransportEvent {
	t.Helper()
	ev := nextEvent(t, tr)
	require.Equal(t, TransportDisconnected, ev.Type)
	select {
	case _, ok := <-tr.Events():
		assert.False(t, ok, "events channel should be closed after Disconnected")
	case <-time.After(time.Second):
		t.Errorf("events channel not closed")
	}
	return ev
}

func transportConfig(t *testing.T, serverURL string) TransportConfig {
	t.Helper()
	u, err := url.Parse(serverURL + "/echo/000/session")
	require.NoError(t, err)
	return TransportConfig{
		SessionURL: u,
		Header:     http.Header{"X-Test": {"1"}},
		HTTPClient: newHTTPClient(),
		Logger:     testLogger(),
		PollRate:   1000,
	}
}

// wsEchoServer answers "o", echoes data frames and closes on a "close" message.
func wsEchoServer(t *testing.T) *httptest.Server {
	router := httprouter.New()
	upgrader := websocket.Upgrader{}
	router.GET("/echo/:server/:session/websocket", func(rw http.ResponseWriter, req *http.Request, p httprouter.Params) {
		if req.Header.Get("X-Test") != "1" {
			http.Error(rw, "missing header", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(rw, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("o"))
		for {
			var messages []string
			if err := conn.ReadJSON(&messages); err != nil {
				return
			}
			if len(messages) == 1 && messages[0] == "close" {
				conn.WriteMessage(websocket.TextMessage, []byte(`c[3000,"Go away!"]`))
				return
			}
			conn.WriteMessage(websocket.TextMessage, EncodeFrame(Frame{Type: FrameData, Messages: messages}))
		}
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func TestWebsocketURL(t *testing.T) {
	for in, want := range map[string]string{
		"http://host/echo/1/2":      "ws://host/echo/1/2/websocket",
		"https://host:8443/echo/1/2": "wss://host:8443/echo/1/2/websocket",
	} {
		u, _ := url.Parse(in)
		got, err := websocketURL(u)
		require.NoError(t, err)
		assert.Equal(t, want, got.String())
	}
	u, _ := url.Parse("ftp://host/echo")
	_, err := websocketURL(u)
	assert.Error(t, err)
}

func TestWebsocketTransport_Echo(t *testing.T) {
	server := wsEchoServer(t)
	tr, err := NewWebsocketTransport(transportConfig(t, server.URL))
	require.NoError(t, err)
	assert.Equal(t, TransportWebsocket, tr.Name())

	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, TransportConnected, nextEvent(t, tr).Type)
	expectFrame(t, tr, Frame{Type: FrameOpen})

	require.NoError(t, tr.Send(context.Background(), EncodeMessage("hello")))
	expectFrame(t, tr, Frame{Type: FrameData, Messages: []string{"hello"}})

	require.NoError(t, tr.Disconnect())
	require.NoError(t, tr.Disconnect())
	ev := expectClosed(t, tr)
	assert.NoError(t, ev.Err)
	assert.ErrorIs(t, tr.Send(context.Background(), EncodeMessage("late")), ErrNotOpen)
}

func TestWebsocketTransport_ServerClose(t *testing.T) {
	server := wsEchoServer(t)
	tr, err := NewWebsocketTransport(transportConfig(t, server.URL))
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))
	nextEvent(t, tr)
	expectFrame(t, tr, Frame{Type: FrameOpen})

	require.NoError(t, tr.Send(context.Background(), EncodeMessage("close")))
	expectFrame(t, tr, Frame{Type: FrameClose, Code: 3000, Reason: "Go away!"})
	expectClosed(t, tr)
}

func TestWebsocketTransport_HandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	tr, err := NewWebsocketTransport(transportConfig(t, server.URL))
	require.NoError(t, err)
	assert.Error(t, tr.Connect(context.Background()))
	assert.ErrorIs(t, tr.Send(context.Background(), EncodeMessage("x")), ErrNotOpen)

	require.NoError(t, tr.Disconnect())
	ev := expectClosed(t, tr)
	assert.NoError(t, ev.Err)
}
