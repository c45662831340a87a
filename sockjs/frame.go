package sockjs

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FrameType is the single byte tag that prefixes every SockJS frame.
type FrameType byte

const (
	// FrameOpen is sent by the server once the session is established.
	FrameOpen FrameType = 'o'
	// FrameHeartbeat keeps idle sessions alive.
	FrameHeartbeat FrameType = 'h'
	// FrameData carries one or more application messages.
	FrameData FrameType = 'a'
	// FrameClose terminates the session.
	FrameClose FrameType = 'c'
)

func (t FrameType) String() string {
	switch t {
	case FrameOpen:
		return "open"
	case FrameHeartbeat:
		return "heartbeat"
	case FrameData:
		return "data"
	case FrameClose:
		return "close"
	default:
		return fmt.Sprintf("unknown(%q)", byte(t))
	}
}

// Close codes used by the client when the server did not provide one.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

const (
	reasonAbnormal    = "abnormal closure"
	reasonLocalClose  = "local close"
	reasonLostSession = "server lost session"
	reasonHeartbeat   = "heartbeat timeout"
)

// Frame is a decoded SockJS frame. Messages is set for FrameData,
// Code and Reason for FrameClose.
type Frame struct {
	Type     FrameType
	Messages []string
	Code     int
	Reason   string
}

// DecodeFrame parses a single frame payload as received from a transport.
func DecodeFrame(payload []byte) (Frame, error) {
	if len(payload) == 0 {
		return Frame{}, &DecodeError{Err: ErrMalformedFrame, Payload: ""}
	}
	tag, body := FrameType(payload[0]), payload[1:]
	switch tag {
	case FrameOpen, FrameHeartbeat:
		if len(body) != 0 {
			return Frame{}, &DecodeError{Err: ErrMalformedFrame, Payload: string(payload)}
		}
		return Frame{Type: tag}, nil
	case FrameData:
		var messages []string
		if err := json.Unmarshal(body, &messages); err != nil {
			return Frame{}, &DecodeError{Err: ErrMalformedFrame, Payload: string(payload), Cause: err}
		}
		if len(messages) == 0 {
			return Frame{}, &DecodeError{Err: ErrMalformedFrame, Payload: string(payload)}
		}
		return Frame{Type: FrameData, Messages: messages}, nil
	case FrameClose:
		return decodeClose(body), nil
	default:
		return Frame{}, &DecodeError{Err: ErrUnknownFrameType, Payload: string(payload)}
	}
}

// malformed close bodies still close the session
func decodeClose(body []byte) Frame {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || len(raw) != 2 {
		return Frame{Type: FrameClose, Code: CloseAbnormal, Reason: reasonAbnormal}
	}
	var code int
	var reason string
	if json.Unmarshal(raw[0], &code) != nil || json.Unmarshal(raw[1], &reason) != nil {
		return Frame{Type: FrameClose, Code: CloseAbnormal, Reason: reasonAbnormal}
	}
	return Frame{Type: FrameClose, Code: code, Reason: reason}
}

// EncodeMessage wraps a single outbound message as a JSON array, e.g. ["hello"].
func EncodeMessage(message string) []byte {
	return EncodeMessages(message)
}

// EncodeMessages encodes messages as a JSON array of strings. Invalid UTF-8
// is replaced by U+FFFD, Session.Send rejects such messages instead.
func EncodeMessages(messages ...string) []byte {
	if messages == nil {
		messages = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding a []string never fails
	_ = enc.Encode(messages)
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
}

// EncodeFrame renders a frame in wire format. Used for logging and by tests
// that play the server side.
func EncodeFrame(f Frame) []byte {
	switch f.Type {
	case FrameData:
		return append([]byte{byte(FrameData)}, EncodeMessages(f.Messages...)...)
	case FrameClose:
		reason, _ := json.Marshal(f.Reason)
		return []byte(fmt.Sprintf("c[%d,%s]", f.Code, reason))
	default:
		return []byte{byte(f.Type)}
	}
}
