package sockjs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"
)

// frameReader yields the frames of a single receive response. ReadFrame
// returns io.EOF once the response ended.
type frameReader interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// httpTransport is the polling loop shared by every HTTP based transport:
// open a receive request, read its frames, re-open after it ended. Streaming
// variants keep the response open, polling variants get one frame per response.
type httpTransport struct {
	transportBase
	doer    httpDoer
	session *url.URL
	logger  Logger
	limiter *rate.Limiter

	// lifetime of all receive requests, cancelled by Disconnect
	ctx    context.Context
	cancel context.CancelFunc

	open func(ctx context.Context) (frameReader, error)
	send func(ctx context.Context, payload []byte) error
}

func newHTTPTransport(name string, cfg TransportConfig) *httpTransport {
	client := cfg.HTTPClient
	if client == nil {
		client = newHTTPClient()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &httpTransport{
		transportBase: newTransportBase(name),
		doer:          httpDoer{client: client, header: cfg.Header.Clone(), compression: cfg.Compression},
		session:       cfg.SessionURL,
		logger:        cfg.Logger,
		limiter:       rate.NewLimiter(cfg.PollRate, 1),
		ctx:           ctx,
		cancel:        cancel,
	}
	t.send = t.xhrSend
	return t
}

// NewXHRStreamingTransport builds the xhr_streaming transport.
func NewXHRStreamingTransport(cfg TransportConfig) (Transport, error) {
	t := newHTTPTransport(TransportXHRStreaming, cfg)
	t.open = t.xhrReceiver("xhr_streaming", true)
	return t, nil
}

// NewXHRPollingTransport builds the xhr (long polling) transport.
func NewXHRPollingTransport(cfg TransportConfig) (Transport, error) {
	t := newHTTPTransport(TransportXHRPolling, cfg)
	t.open = t.xhrReceiver("xhr", false)
	return t, nil
}

func (t *httpTransport) Connect(ctx context.Context) error {
	// ctx only bounds the first request, the receive loop outlives it
	stop := context.AfterFunc(ctx, t.cancel)
	fr, err := t.open(t.ctx)
	if !stop() {
		if fr != nil {
			fr.Close()
		}
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	if !t.markConnected(nil) {
		fr.Close()
		return ErrNotOpen
	}
	t.logger.Debug("http transport connected", "transport", t.name)
	go t.receiveLoop(fr)
	return nil
}

func (t *httpTransport) receiveLoop(fr frameReader) {
	defer t.cancel()
	err := t.receive(fr)
	if t.isClosed() {
		err = nil
	}
	t.emitDisconnected(err)
}

func (t *httpTransport) receive(fr frameReader) error {
	for {
		sawClose, err := t.drain(fr)
		fr.Close()
		if err != nil {
			return err
		}
		// the server repeats the close frame on every further request
		if sawClose || t.isClosed() {
			return nil
		}
		if err := t.limiter.Wait(t.ctx); err != nil {
			return err
		}
		if fr, err = t.open(t.ctx); err != nil {
			return err
		}
	}
}

func (t *httpTransport) drain(fr frameReader) (sawClose bool, err error) {
	for {
		payload, err := fr.ReadFrame()
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if t.emitFrame(payload).Type == FrameClose {
			return true, nil
		}
	}
}

func (t *httpTransport) Send(ctx context.Context, payload []byte) error {
	t.sendMux.Lock()
	defer t.sendMux.Unlock()
	if !t.isOpen() {
		return ErrNotOpen
	}
	return t.send(ctx, payload)
}

func (t *httpTransport) Disconnect() error {
	first, looping := t.beginClose()
	if !first {
		return nil
	}
	t.cancel()
	if !looping {
		t.emitDisconnected(nil)
	}
	return nil
}

// openStream issues a receive request and checks for 200 OK.
func (t *httpTransport) openStream(ctx context.Context, method string, u *url.URL, header http.Header) (*http.Response, error) {
	req, err := t.doer.newRequest(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	resp, err := t.doer.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("sockjs: %s: unexpected status %s", t.name, resp.Status)
	}
	return resp, nil
}

func (t *httpTransport) xhrReceiver(path string, streaming bool) func(context.Context) (frameReader, error) {
	return func(ctx context.Context) (frameReader, error) {
		resp, err := t.openStream(ctx, http.MethodPost, t.session.JoinPath(path), nil)
		if err != nil {
			return nil, err
		}
		return &lineReader{r: bufio.NewReader(resp.Body), body: resp.Body, skipPrelude: streaming}, nil
	}
}

// xhrSend posts the JSON array payload to {session}/xhr_send, answered with 204.
func (t *httpTransport) xhrSend(ctx context.Context, payload []byte) error {
	req, err := t.doer.newRequest(ctx, http.MethodPost, t.session.JoinPath("xhr_send"), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	resp, err := t.doer.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("sockjs: xhr_send: session not found")
	default:
		return fmt.Errorf("sockjs: xhr_send: unexpected status %s: %s", resp.Status, bytes.TrimSpace(body))
	}
}

// lineReader reads newline delimited frames (xhr, xhr_streaming).
type lineReader struct {
	r           *bufio.Reader
	body        io.Closer
	skipPrelude bool
}

func (l *lineReader) ReadFrame() ([]byte, error) {
	for {
		line, err := l.r.ReadBytes('\n')
		if err != nil && (len(line) == 0 || !errors.Is(err, io.EOF)) {
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}
		if l.skipPrelude {
			l.skipPrelude = false
			if isStreamingPrelude(line) {
				continue
			}
		}
		return line, nil
	}
}

func (l *lineReader) Close() error { return l.body.Close() }

// xhr_streaming responses start with 2048 'h' characters to defeat proxy buffering
func isStreamingPrelude(line []byte) bool {
	return len(line) > 1 && len(bytes.Trim(line, "h")) == 0
}
