package framer

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

func TestWriteReadFrame(t *testing.T) {
	f := NewLengthPrefixedFramer(0)
	var buf bytes.Buffer

	env := &Envelope{Tag: "MESSAGE", Flags: FlagCompressed, Body: []byte("hello")}
	n, err := f.WriteFrame(&buf, env)
	require.NoError(t, err)
	assert.Equal(t, headerSize+env.Size(), n)
	assert.Equal(t, uint32(env.Size()), binary.BigEndian.Uint32(buf.Bytes()[:headerSize]))

	got, read, err := f.ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, n, read)
	assert.Equal(t, env, got)
}

func TestReadMultipleFrames(t *testing.T) {
	f := NewLengthPrefixedFramer(0)
	var buf bytes.Buffer
	for _, tag := range []string{"LOGIN", "USERS_LIST", "MESSAGE"} {
		_, err := f.WriteFrame(&buf, &Envelope{Tag: tag, Body: []byte(tag)})
		require.NoError(t, err)
	}
	for _, tag := range []string{"LOGIN", "USERS_LIST", "MESSAGE"} {
		env, _, err := f.ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, tag, env.Tag)
		assert.Equal(t, []byte(tag), env.Body)
	}

	_, _, err := f.ReadFrame(&buf)
	assert.ErrorIs(t, err, merr.ErrEndOfStream)
}

func TestReadTruncatedFrame(t *testing.T) {
	f := NewLengthPrefixedFramer(0)
	var buf bytes.Buffer
	_, err := f.WriteFrame(&buf, &Envelope{Tag: "MESSAGE", Body: []byte("payload")})
	require.NoError(t, err)

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-3])
	_, _, err = f.ReadFrame(truncated)
	assert.ErrorIs(t, err, merr.ErrEndOfStream)

	_, _, err = f.ReadFrame(bytes.NewReader([]byte{0, 0}))
	assert.ErrorIs(t, err, merr.ErrEndOfStream)
}

func TestOversizeFrame(t *testing.T) {
	f := NewLengthPrefixedFramer(8)

	_, err := f.WriteFrame(io.Discard, &Envelope{Tag: "MESSAGE", Body: bytes.Repeat([]byte{1}, 32)})
	assert.ErrorIs(t, err, merr.ErrParameterTooLarge)

	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], 1024)
	_, _, err = f.ReadFrame(bytes.NewReader(header[:]))
	assert.ErrorIs(t, err, merr.ErrProtocolMalformed)
}

func TestCorruptEnvelope(t *testing.T) {
	f := NewLengthPrefixedFramer(0)
	body := []byte{0x0a, 0x7f, 'x'} // tag 字段声明长度 127 但只有 1 字节
	frame := binary.BigEndian.AppendUint32(nil, uint32(len(body)))
	frame = append(frame, body...)

	_, _, err := f.ReadFrame(bytes.NewReader(frame))
	assert.ErrorIs(t, err, merr.ErrProtocolMalformed)
}

func TestEmptyFrame(t *testing.T) {
	f := NewLengthPrefixedFramer(0)
	env, n, err := f.ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, headerSize, n)
	assert.Empty(t, env.Tag)
}

func TestEnvelopeSkipsUnknownFields(t *testing.T) {
	env := &Envelope{Tag: "LOGIN", Body: []byte{1, 2, 3}}
	b := env.AppendTo(nil)
	// field 9, varint 42
	b = append(b, 0x48, 42)

	var got Envelope
	require.NoError(t, got.Unmarshal(b))
	assert.Equal(t, *env, got)
}

func TestClosedConn(t *testing.T) {
	client, server := net.Pipe()
	require.NoError(t, server.Close())

	f := NewLengthPrefixedFramer(0)
	_, err := f.WriteFrame(client, &Envelope{Tag: "MESSAGE"})
	assert.True(t, merr.IsSessionFatal(err))

	_, _, err = f.ReadFrame(client)
	assert.ErrorIs(t, err, merr.ErrEndOfStream)
}
