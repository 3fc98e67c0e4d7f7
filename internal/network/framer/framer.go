package framer

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"

	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

// Framer 抽象了基于 Envelope 的打包/解包能力。
//
// 约定：
//   - 一帧数据的格式为：4 字节大端无符号整型（表示后续 Envelope 编码后的长度）+ Envelope 二进制数据。
//   - 一帧只调用一次 w.Write，配合会话写锁保证帧之间不会交错。
type Framer interface {
	// WriteFrame 将 Envelope 打包为一帧并写入到 w 中，返回写出的总字节数。
	WriteFrame(w io.Writer, env *Envelope) (int, error)

	// ReadFrame 从 r 中读取一帧数据并解包为 Envelope，返回读入的总字节数。
	ReadFrame(r io.Reader) (*Envelope, int, error)
}

// LengthPrefixedFramer 使用长度前缀（4 字节大端）作为帧边界。
// 适用于基于流的连接（如 TCP、WebSocket 适配出的字节流等）。
type LengthPrefixedFramer struct {
	// MaxFrameSize 为允许的最大帧大小（Envelope 编码后长度），单位字节。
	// 为 0 时使用默认值 DefaultMaxFrameSize。
	MaxFrameSize uint32
}

const (
	headerSize = 4

	DefaultMaxFrameSize uint32 = 16 * 1024 * 1024 // 16MB
)

var _ Framer = (*LengthPrefixedFramer)(nil)

// NewLengthPrefixedFramer 创建一个长度前缀帧编码器。
// maxFrameSize 为 0 时使用默认值。
func NewLengthPrefixedFramer(maxFrameSize uint32) *LengthPrefixedFramer {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &LengthPrefixedFramer{
		MaxFrameSize: maxFrameSize,
	}
}

// WriteFrame 将 Envelope 编码为长度前缀帧并一次性写入。
func (f *LengthPrefixedFramer) WriteFrame(w io.Writer, env *Envelope) (int, error) {
	if env == nil {
		return 0, merr.WrapErrParameterMissing("envelope")
	}

	size := env.Size()
	if uint64(size) > uint64(f.effectiveMaxSize()) {
		return 0, merr.WrapErrParameterTooLarge("frame",
			fmt.Sprintf("frame size %d exceeds max %d", size, f.effectiveMaxSize()))
	}

	// 使用 ByteBuffer 池降低频繁 make 带来的分配与 GC 压力。
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.B = binary.BigEndian.AppendUint32(buf.B[:0], uint32(size))
	buf.B = env.AppendTo(buf.B)

	n, err := w.Write(buf.B)
	if err != nil {
		return n, classifyIOError(err)
	}
	return n, nil
}

// ReadFrame 从流中读取一帧数据并解码为 Envelope。
func (f *LengthPrefixedFramer) ReadFrame(r io.Reader) (*Envelope, int, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, 0, classifyIOError(err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > f.effectiveMaxSize() {
		return nil, headerSize, merr.WrapErrProtocolMalformed("oversize frame",
			fmt.Sprintf("frame size %d exceeds max %d", length, f.effectiveMaxSize()))
	}

	env := &Envelope{}
	if length == 0 {
		// 空帧视为空 Envelope，由上层按未知 tag 处理。
		return env, headerSize, nil
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if cap(buf.B) < int(length) {
		buf.B = make([]byte, int(length))
	} else {
		buf.B = buf.B[:int(length)]
	}
	if _, err := io.ReadFull(r, buf.B); err != nil {
		return nil, headerSize, classifyIOError(err)
	}

	if err := env.Unmarshal(buf.B); err != nil {
		return nil, headerSize + int(length), err
	}
	return env, headerSize + int(length), nil
}

func (f *LengthPrefixedFramer) effectiveMaxSize() uint32 {
	if f == nil || f.MaxFrameSize == 0 {
		return DefaultMaxFrameSize
	}
	return f.MaxFrameSize
}

// classifyIOError 将底层读写错误映射到错误分类：
// 对端关闭、半帧截断与本地关闭视为 EndOfStream，其余为 Transport。
func classifyIOError(err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return merr.WrapErrEndOfStream("", err.Error())
	default:
		return merr.WrapErrTransport("", err)
	}
}
