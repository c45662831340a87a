package sockjs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame_Open(t *testing.T) {
	f, err := DecodeFrame([]byte("o"))
	require.NoError(t, err)
	assert.Equal(t, FrameOpen, f.Type)
}

func TestDecodeFrame_Heartbeat(t *testing.T) {
	f, err := DecodeFrame([]byte("h"))
	require.NoError(t, err)
	assert.Equal(t, FrameHeartbeat, f.Type)
}

func TestDecodeFrame_OpenWithBody(t *testing.T) {
	_, err := DecodeFrame([]byte("ox"))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeFrame_Data(t *testing.T) {
	f, err := DecodeFrame([]byte(`a["one","two","{\"x\":1}"]`))
	require.NoError(t, err)
	assert.Equal(t, FrameData, f.Type)
	assert.Equal(t, []string{"one", "two", `{"x":1}`}, f.Messages)
}

func TestDecodeFrame_EmptyData(t *testing.T) {
	_, err := DecodeFrame([]byte("a[]"))
	var derr *DecodeError
	require.True(t, errors.As(err, &derr))
	assert.ErrorIs(t, err, ErrMalformedFrame)
	assert.Equal(t, "a[]", derr.Payload)
}

func TestDecodeFrame_BrokenData(t *testing.T) {
	_, err := DecodeFrame([]byte(`a["unterminated`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
	_, err = DecodeFrame([]byte(`a[1,2]`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeFrame_Close(t *testing.T) {
	f, err := DecodeFrame([]byte(`c[3000,"Go away!"]`))
	require.NoError(t, err)
	assert.Equal(t, Frame{Type: FrameClose, Code: 3000, Reason: "Go away!"}, f)
}

func TestDecodeFrame_MalformedCloseDefaults(t *testing.T) {
	for _, body := range []string{`c`, `c[`, `c[3000]`, `c["x","y"]`, `c[3000,1]`, `c{}`} {
		f, err := DecodeFrame([]byte(body))
		require.NoError(t, err, body)
		assert.Equal(t, FrameClose, f.Type, body)
		assert.Equal(t, 1006, f.Code, body)
		assert.Equal(t, "abnormal closure", f.Reason, body)
	}
}

func TestDecodeFrame_UnknownType(t *testing.T) {
	_, err := DecodeFrame([]byte("x[1]"))
	assert.ErrorIs(t, err, ErrUnknownFrameType)
	assert.NotErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeFrame_Empty(t *testing.T) {
	_, err := DecodeFrame(nil)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestEncodeMessage(t *testing.T) {
	assert.Equal(t, `["hello"]`, string(EncodeMessage("hello")))
	assert.Equal(t, `["<a&b>"]`, string(EncodeMessage("<a&b>")))
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, s := range []string{"", "hello", "o", "h", "a", "c", `c[3000,"x"]`, `a["x"]`, "[]", `"quoted"`, "line\nbreak", "unicode ✓  ", "\x00"} {
		payload := append([]byte("a"), EncodeMessage(s)...)
		f, err := DecodeFrame(payload)
		require.NoError(t, err, s)
		assert.Equal(t, FrameData, f.Type)
		if assert.Len(t, f.Messages, 1, s) {
			assert.Equal(t, s, f.Messages[0])
		}
	}
}

func TestEncodeFrame_DecodesBack(t *testing.T) {
	frames := []Frame{
		{Type: FrameOpen},
		{Type: FrameHeartbeat},
		{Type: FrameData, Messages: []string{"a", "b", "c"}},
		{Type: FrameClose, Code: 2010, Reason: "Another connection still open"},
	}
	for _, want := range frames {
		got, err := DecodeFrame(EncodeFrame(want))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestFrameType_String(t *testing.T) {
	assert.Equal(t, "data", FrameData.String())
	assert.Equal(t, `unknown('x')`, FrameType('x').String())
}
