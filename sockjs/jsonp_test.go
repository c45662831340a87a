package sockjs

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrapJSONP(t *testing.T) {
	for body, want := range map[string]string{
		`cb("o");`:                  "o",
		"/**/cb(\"h\");\r\n":        "h",
		`cb("a[\"x\"]");`:           `a["x"]`,
		`  cb("c[3000,\"bye\"]")  `: `c[3000,"bye"]`,
	} {
		frame, err := unwrapJSONP("cb", []byte(body))
		require.NoError(t, err, body)
		assert.Equal(t, want, string(frame))
	}

	_, err := unwrapJSONP("cb", []byte(`other("o");`))
	assert.Error(t, err)
	_, err = unwrapJSONP("cb", []byte(`cb(o);`))
	assert.Error(t, err)
}

func TestJSONPTransport(t *testing.T) {
	var (
		polls    atomic.Int32
		received = make(chan string, 4)
		goAway   = make(chan struct{})
	)
	router := httprouter.New()
	router.GET("/echo/:server/:session/jsonp", func(rw http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		callback := req.URL.Query().Get("c")
		if callback == "" {
			http.Error(rw, `"callback" parameter required`, http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/javascript; charset=UTF-8")
		switch polls.Add(1) {
		case 1:
			fmt.Fprintf(rw, "/**/%s(\"o\");\r\n", callback)
		case 2:
			fmt.Fprintf(rw, "/**/%s(\"a[\\\"polled\\\"]\");\r\n", callback)
		default:
			select {
			case <-goAway:
			case <-req.Context().Done():
				return
			}
			fmt.Fprintf(rw, "/**/%s(\"c[3000,\\\"Go away!\\\"]\");\r\n", callback)
		}
	})
	router.POST("/echo/:server/:session/jsonp_send", func(rw http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if err := req.ParseForm(); err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		received <- req.PostForm.Get("d")
		rw.Write([]byte("ok"))
	})
	server := newRouterServer(t, router)

	tr, err := NewJSONPTransport(transportConfig(t, server.URL))
	require.NoError(t, err)
	assert.Equal(t, TransportJSONP, tr.Name())
	require.NoError(t, tr.Connect(context.Background()))
	nextEvent(t, tr)
	expectFrame(t, tr, Frame{Type: FrameOpen})
	expectFrame(t, tr, Frame{Type: FrameData, Messages: []string{"polled"}})

	require.NoError(t, tr.Send(context.Background(), EncodeMessage("a&b=c")))
	assert.Equal(t, `["a&b=c"]`, <-received)

	close(goAway)
	expectFrame(t, tr, Frame{Type: FrameClose, Code: 3000, Reason: "Go away!"})
	expectClosed(t, tr)
}

func TestJSONPSend_Rejected(t *testing.T) {
	router := httprouter.New()
	router.GET("/echo/:server/:session/jsonp", func(rw http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		fmt.Fprintf(rw, "%s(\"o\");", req.URL.Query().Get("c"))
	})
	router.POST("/echo/:server/:session/jsonp_send", func(rw http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		rw.Write([]byte("nope"))
	})
	server := newRouterServer(t, router)

	tr, err := NewJSONPTransport(transportConfig(t, server.URL))
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))
	nextEvent(t, tr)
	expectFrame(t, tr, Frame{Type: FrameOpen})
	assert.ErrorContains(t, tr.Send(context.Background(), EncodeMessage("x")), "unexpected response")
	require.NoError(t, tr.Disconnect())
	// the server keeps answering "o", which the transport still reports until
	// it notices the disconnect
	for ev := range tr.Events() {
		if ev.Type == TransportDisconnected {
			assert.NoError(t, ev.Err)
		}
	}
}
