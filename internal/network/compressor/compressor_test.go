package compressor

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

func TestZstdRoundTrip(t *testing.T) {
	c, err := NewZstdCompressor(ZstdOptions{MinCompressSize: 16})
	require.NoError(t, err)
	defer c.Close()

	src := bytes.Repeat([]byte("chat message "), 100)
	packet, compressed, err := c.Compress(nil, src)
	require.NoError(t, err)
	assert.True(t, compressed)
	assert.Less(t, len(packet), len(src))

	plain, err := c.Decompress(nil, packet)
	require.NoError(t, err)
	assert.Equal(t, src, plain)
}

func TestZstdBelowThreshold(t *testing.T) {
	c, err := NewZstdCompressor(ZstdOptions{MinCompressSize: 1024})
	require.NoError(t, err)
	defer c.Close()

	src := []byte("short")
	packet, compressed, err := c.Compress(nil, src)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Equal(t, src, packet)
}

func TestZstdCorrupt(t *testing.T) {
	c, err := NewZstdCompressor(ZstdOptions{})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Decompress(nil, []byte("definitely not zstd"))
	assert.ErrorIs(t, err, merr.ErrProtocolMalformed)
}

func TestZstdClosed(t *testing.T) {
	c, err := NewZstdCompressor(ZstdOptions{Concurrency: 1})
	require.NoError(t, err)
	c.Close()
	c.Close()

	_, _, err = c.Compress(nil, []byte("x"))
	assert.ErrorIs(t, err, zstd.ErrEncoderClosed)
	_, err = c.Decompress(nil, []byte("x"))
	assert.ErrorIs(t, err, zstd.ErrDecoderClosed)
}

func TestNop(t *testing.T) {
	src := []byte("abc")
	packet, compressed, err := NopCompressor{}.Compress(nil, src)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Equal(t, src, packet)

	plain, err := NopCompressor{}.Decompress(nil, src)
	require.NoError(t, err)
	assert.Equal(t, src, plain)
}
