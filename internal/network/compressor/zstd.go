package compressor

import (
	"github.com/klauspost/compress/zstd"

	"github.com/lk2023060901/danmu-garden-chat/pkg/util/hardware"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

// ZstdOptions 描述 ZstdCompressor 的可选参数。
type ZstdOptions struct {
	// Concurrency <= 0 时使用主机 CPU 核心数（hardware.GetCPUNum()）。
	Concurrency int
	// MinCompressSize 为触发压缩的最小字节数，小于该值的 body 原样发送。
	MinCompressSize int
	// MaxDecodedSize 限制单次解压后的大小，0 表示不限制。
	MaxDecodedSize uint64
}

// ZstdCompressor 基于 github.com/klauspost/compress/zstd 的压缩实现。
//
// 它持有独立的 encoder/decoder 实例，EncodeAll/DecodeAll 可被多个会话并发调用。
type ZstdCompressor struct {
	enc             *zstd.Encoder
	dec             *zstd.Decoder
	minCompressSize int
}

var _ Compressor = (*ZstdCompressor)(nil)

// NewZstdCompressor 按给定参数创建一个 ZstdCompressor。
func NewZstdCompressor(opts ZstdOptions) (*ZstdCompressor, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = hardware.GetCPUNum()
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithZeroFrames(true),
		zstd.WithEncoderConcurrency(concurrency),
	)
	if err != nil {
		return nil, err
	}

	decOpts := []zstd.DOption{zstd.WithDecoderConcurrency(concurrency)}
	if opts.MaxDecodedSize > 0 {
		decOpts = append(decOpts, zstd.WithDecoderMaxMemory(opts.MaxDecodedSize))
	}
	dec, err := zstd.NewReader(nil, decOpts...)
	if err != nil {
		enc.Close()
		return nil, err
	}

	minSize := opts.MinCompressSize
	if minSize < 0 {
		minSize = 0
	}
	return &ZstdCompressor{
		enc:             enc,
		dec:             dec,
		minCompressSize: minSize,
	}, nil
}

// Compress 实现 Compressor 接口。
func (c *ZstdCompressor) Compress(dst, src []byte) ([]byte, bool, error) {
	if c == nil || c.enc == nil {
		return nil, false, zstd.ErrEncoderClosed
	}
	if len(src) == 0 || len(src) < c.minCompressSize {
		return src, false, nil
	}
	return c.enc.EncodeAll(src, dst[:0]), true, nil
}

// Decompress 实现 Compressor 接口，损坏或超限的数据映射为 ProtocolMalformed。
func (c *ZstdCompressor) Decompress(dst, src []byte) ([]byte, error) {
	if c == nil || c.dec == nil {
		return nil, zstd.ErrDecoderClosed
	}
	out, err := c.dec.DecodeAll(src, dst[:0])
	if err != nil {
		return nil, merr.WrapErrProtocolMalformed("zstd decompress failed", err.Error())
	}
	return out, nil
}

// Close 释放内部 encoder/decoder 持有的资源。
func (c *ZstdCompressor) Close() {
	if c == nil {
		return
	}
	if c.enc != nil {
		_ = c.enc.Close()
		c.enc = nil
	}
	if c.dec != nil {
		c.dec.Close()
		c.dec = nil
	}
}
