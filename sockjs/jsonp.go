package sockjs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const jsonpMaxBody = 16 << 20

// NewJSONPTransport builds the jsonp polling transport. Each poll is a GET
// answered with callback("frame"); messages go to jsonp_send as form data.
func NewJSONPTransport(cfg TransportConfig) (Transport, error) {
	t := newHTTPTransport(TransportJSONP, cfg)
	callback := "_jp." + strings.ToLower(newSessionID())
	t.open = func(ctx context.Context) (frameReader, error) {
		u := t.session.JoinPath("jsonp")
		u.RawQuery = url.Values{"c": {callback}}.Encode()
		resp, err := t.openStream(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, jsonpMaxBody))
		if err != nil {
			return nil, err
		}
		frame, err := unwrapJSONP(callback, body)
		if err != nil {
			return nil, err
		}
		return &singleFrameReader{frame: frame}, nil
	}
	t.send = t.jsonpSend
	return t, nil
}

// unwrapJSONP extracts the frame from `callback("frame");`, with the
// optional /**/ prefix newer servers emit.
func unwrapJSONP(callback string, body []byte) ([]byte, error) {
	s := bytes.TrimSpace(body)
	s = bytes.TrimPrefix(s, []byte("/**/"))
	if !bytes.HasPrefix(s, []byte(callback+"(")) {
		return nil, fmt.Errorf("sockjs: jsonp: unexpected callback in %q", truncate(string(s), 64))
	}
	s = bytes.TrimPrefix(s, []byte(callback+"("))
	s = bytes.TrimSuffix(s, []byte(";"))
	s = bytes.TrimSuffix(s, []byte(")"))
	var frame string
	if err := json.Unmarshal(s, &frame); err != nil {
		return nil, fmt.Errorf("sockjs: jsonp: %w", err)
	}
	return []byte(frame), nil
}

func (t *httpTransport) jsonpSend(ctx context.Context, payload []byte) error {
	form := url.Values{"d": {string(payload)}}
	req, err := t.doer.newRequest(ctx, http.MethodPost, t.session.JoinPath("jsonp_send"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := t.doer.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sockjs: jsonp_send: unexpected status %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	if string(bytes.TrimSpace(body)) != "ok" {
		return fmt.Errorf("sockjs: jsonp_send: unexpected response %q", truncate(string(body), 64))
	}
	return nil
}

type singleFrameReader struct {
	frame []byte
	done  bool
}

func (r *singleFrameReader) ReadFrame() ([]byte, error) {
	if r.done || len(r.frame) == 0 {
		return nil, io.EOF
	}
	r.done = true
	return r.frame, nil
}

func (r *singleFrameReader) Close() error { return nil }
