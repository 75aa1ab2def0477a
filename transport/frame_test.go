package transport

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshlink/limits"
)

func mustFrame(t *testing.T, payload []byte) []byte {
	t.Helper()
	b, err := EncodeFrame(payload)
	require.NoError(t, err)
	return b
}

func TestEncodeFrameHeader(t *testing.T) {
	b := mustFrame(t, bytes.Repeat([]byte{7}, 300))
	assert.Equal(t, []byte{0x94, 0xc3, 0x01, 0x2c}, b[:4])
	assert.Len(t, b, 304)
}

func TestEncodeFrameLimits(t *testing.T) {
	_, err := EncodeFrame(nil)
	assert.ErrorIs(t, err, limits.ErrMessageEmpty)

	_, err = EncodeFrame(make([]byte, limits.MaxFramePayload+1))
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)

	_, err = EncodeFrame(make([]byte, limits.MaxFramePayload))
	assert.NoError(t, err)
}

func TestFrameReaderSkipsConsoleOutput(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteString("INFO  | ??:??:?? 2 Booting\r\n")
	stream.Write(wakeBytes)
	stream.Write(mustFrame(t, []byte("one")))
	stream.WriteString("DEBUG | partial line without newline ")
	stream.Write([]byte{0x94, 'x'})
	stream.Write(mustFrame(t, []byte("two")))

	fr := NewFrameReader(&stream)
	got, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	got, err = fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)

	_, err = fr.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameReaderResyncsAfterBadLength(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte{0x94, 0xc3, 0x7f, 0xff})
	stream.Write([]byte{0x94, 0xc3, 0x00, 0x00})
	stream.Write(mustFrame(t, []byte{1, 2, 3}))

	got, err := NewFrameReader(&stream).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestFrameReaderTruncatedFrame(t *testing.T) {
	b := mustFrame(t, []byte("truncated"))
	_, err := NewFrameReader(bytes.NewReader(b[:7])).ReadFrame()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFrameReaderDoubleStartByte(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteByte(0x94)
	stream.Write(mustFrame(t, []byte("ok")))

	got, err := NewFrameReader(&stream).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), got)
}
