package sockjs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
)

// NewEventSourceTransport builds the eventsource transport: frames arrive as
// server-sent events, messages are sent with xhr_send.
func NewEventSourceTransport(cfg TransportConfig) (Transport, error) {
	t := newHTTPTransport(TransportEventSource, cfg)
	header := http.Header{
		"Accept":        {"text/event-stream"},
		"Cache-Control": {"no-cache"},
	}
	t.open = func(ctx context.Context) (frameReader, error) {
		resp, err := t.openStream(ctx, http.MethodGet, t.session.JoinPath("eventsource"), header)
		if err != nil {
			return nil, err
		}
		return &eventSourceReader{r: bufio.NewReader(resp.Body), body: resp.Body}, nil
	}
	return t, nil
}

type eventSourceReader struct {
	r    *bufio.Reader
	body io.Closer
}

var dataField = []byte("data:")

// ReadFrame returns the payload of the next "data:" line. Other fields and
// blank lines are ignored, SockJS never splits a frame over several lines.
func (e *eventSourceReader) ReadFrame() ([]byte, error) {
	for {
		line, err := e.r.ReadBytes('\n')
		if err != nil && (len(line) == 0 || !errors.Is(err, io.EOF)) {
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if data, ok := bytes.CutPrefix(line, dataField); ok {
			data = bytes.TrimPrefix(data, []byte{' '})
			if len(data) > 0 {
				return data, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func (e *eventSourceReader) Close() error { return e.body.Close() }
