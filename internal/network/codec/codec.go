package codec

import (
	"bytes"
	"io"

	"github.com/valyala/bytebufferpool"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/compressor"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/framer"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/serializer"
	"github.com/lk2023060901/danmu-garden-chat/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

// Codec 抽象了“从 Frame 到网络字节，以及从网络字节回到 Frame”的完整编解码流程。
//
// Pipeline（写出 Encode）：
//
//	Frame --> payloads(serializer) --> [compress?] --> Envelope{Tag+Flags+Body} --> framer.WriteFrame
//
// Pipeline（读入 Decode）：
//
//	framer.ReadFrame --> Envelope --> [decompress?] --> payloads(serializer) --> Frame
//
// Codec 不做任何业务判断，只保证上述类型的精确往返。实现是并发安全的，
// 但同一个 io.Writer 上的并发 Encode 需要调用方自行串行化。
type Codec interface {
	// Encode 将帧编码并一次性写入到底层流。
	Encode(w io.Writer, f *Frame) error

	// Decode 从底层流中读取一帧。
	//
	// 错误分类：
	//   - ErrEndOfStream：流结束、半帧截断或连接已关闭；
	//   - ErrProtocolUnknownTag：整帧已被消费，返回的 Frame 只带 Tag，调用方可以继续读；
	//   - ErrProtocolMalformed：帧结构、载荷形状或大小非法。
	Decode(r io.Reader) (*Frame, error)

	// Marshal 将帧编码为完整的线上字节（含长度前缀）。
	Marshal(f *Frame) ([]byte, error)

	// Unmarshal 从完整的线上字节解出一帧。
	Unmarshal(data []byte) (*Frame, error)
}

// Options 用于构造 Codec 的依赖注入参数。
type Options struct {
	Framer     framer.Framer
	Serializer serializer.Serializer
	Compressor compressor.Compressor // 允许为 nil（内部会用 NopCompressor）

	EnableCompression bool // 是否启用压缩（影响压缩行为与 Envelope.Flags）
}

type codec struct {
	framer     framer.Framer
	serializer serializer.Serializer
	compressor compressor.Compressor

	compress bool
}

var _ Codec = (*codec)(nil)

const (
	payloadFieldKind  protowire.Number = 1
	payloadFieldValue protowire.Number = 2

	bodyFieldPayload protowire.Number = 1

	usersFieldUser  protowire.Number = 1
	userFieldName   protowire.Number = 1
	userFieldStatus protowire.Number = 2
)

// unknownTagMetric 避免把任意未知 tag 写入指标标签。
const unknownTagMetric = "unknown"

// New 创建一个基于给定依赖的 Codec。
func New(opts Options) (Codec, error) {
	if opts.Framer == nil {
		return nil, merr.WrapErrParameterMissing("framer", "codec")
	}
	if opts.Serializer == nil {
		return nil, merr.WrapErrParameterMissing("serializer", "codec")
	}
	if opts.EnableCompression && opts.Compressor == nil {
		return nil, merr.WrapErrParameterMissing("compressor", "codec compression enabled")
	}

	c := &codec{
		framer:     opts.Framer,
		serializer: opts.Serializer,
		compressor: opts.Compressor,
		compress:   opts.EnableCompression,
	}
	if c.compressor == nil {
		c.compressor = compressor.NopCompressor{}
	}
	return c, nil
}

// NewDefault 创建使用默认帧大小、二进制消息编码且不压缩的 Codec。
func NewDefault() Codec {
	c, _ := New(Options{
		Framer:     framer.NewLengthPrefixedFramer(0),
		Serializer: serializer.BinarySerializer{},
	})
	return c
}

// Encode 实现 Codec.Encode。
func (c *codec) Encode(w io.Writer, f *Frame) error {
	if w == nil {
		return merr.WrapErrParameterMissing("writer", "codec")
	}
	if f == nil {
		return merr.WrapErrParameterMissing("frame", "codec")
	}
	if err := f.Validate(); err != nil {
		return err
	}

	body := bytebufferpool.Get()
	defer bytebufferpool.Put(body)

	var err error
	body.B, err = c.appendBody(body.B[:0], f)
	if err != nil {
		return err
	}

	env := &framer.Envelope{Tag: string(f.Tag), Body: body.B}
	if c.compress {
		packed := bytebufferpool.Get()
		defer bytebufferpool.Put(packed)

		out, compressed, err := c.compressor.Compress(packed.B, body.B)
		if err != nil {
			return merr.WrapErrServiceInternal("compress frame body", err.Error())
		}
		if compressed {
			packed.B = out
			env.Body = out
			env.Flags |= framer.FlagCompressed
		}
	}

	n, err := c.framer.WriteFrame(w, env)
	if err != nil {
		return err
	}
	metrics.FrameCount.WithLabelValues(metrics.DirectionOut, string(f.Tag)).Inc()
	metrics.FrameBytes.WithLabelValues(metrics.DirectionOut).Observe(float64(n))
	return nil
}

// Decode 实现 Codec.Decode。
func (c *codec) Decode(r io.Reader) (*Frame, error) {
	if r == nil {
		return nil, merr.WrapErrParameterMissing("reader", "codec")
	}

	env, n, err := c.framer.ReadFrame(r)
	if err != nil {
		return nil, err
	}

	tag := Tag(env.Tag)
	if !tag.Known() {
		metrics.FrameCount.WithLabelValues(metrics.DirectionIn, unknownTagMetric).Inc()
		return &Frame{Tag: tag}, merr.WrapErrProtocolUnknownTag(env.Tag)
	}
	metrics.FrameCount.WithLabelValues(metrics.DirectionIn, env.Tag).Inc()
	metrics.FrameBytes.WithLabelValues(metrics.DirectionIn).Observe(float64(n))

	data := env.Body
	if env.Flags&framer.FlagCompressed != 0 {
		if !c.compress {
			return nil, merr.WrapErrProtocolMalformed("compressed payload but compression disabled")
		}
		data, err = c.compressor.Decompress(nil, data)
		if err != nil {
			return nil, err
		}
	}

	f := &Frame{Tag: tag}
	if f.Payloads, err = c.decodeBody(data); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Marshal 实现 Codec.Marshal。
func (c *codec) Marshal(f *Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal 实现 Codec.Unmarshal。
func (c *codec) Unmarshal(data []byte) (*Frame, error) {
	return c.Decode(bytes.NewReader(data))
}

// appendBody 将载荷编码为 repeated 字段 1，每个元素是 {1: kind, 2: value}。
func (c *codec) appendBody(b []byte, f *Frame) ([]byte, error) {
	for i := range f.Payloads {
		value, err := c.appendPayload(nil, &f.Payloads[i])
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, bodyFieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, value)
	}
	return b, nil
}

func (c *codec) appendPayload(b []byte, p *Payload) ([]byte, error) {
	b = protowire.AppendTag(b, payloadFieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Kind))

	switch p.Kind {
	case KindBool:
		b = protowire.AppendTag(b, payloadFieldValue, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(p.Bool))
	case KindString:
		b = protowire.AppendTag(b, payloadFieldValue, protowire.BytesType)
		b = protowire.AppendString(b, p.String)
	case KindBytes:
		b = protowire.AppendTag(b, payloadFieldValue, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Bytes)
	case KindMessage:
		record, err := c.serializer.Marshal(p.Message)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, payloadFieldValue, protowire.BytesType)
		b = protowire.AppendBytes(b, record)
	case KindUsers:
		b = protowire.AppendTag(b, payloadFieldValue, protowire.BytesType)
		b = protowire.AppendBytes(b, appendUsers(nil, p.Users))
	default:
		return nil, merr.WrapErrParameterInvalidMsg("unsupported payload kind %d", p.Kind)
	}
	return b, nil
}

func appendUsers(b []byte, users []model.User) []byte {
	var entry []byte
	for _, u := range users {
		entry = entry[:0]
		entry = protowire.AppendTag(entry, userFieldName, protowire.BytesType)
		entry = protowire.AppendString(entry, u.Username)
		entry = protowire.AppendTag(entry, userFieldStatus, protowire.VarintType)
		entry = protowire.AppendVarint(entry, uint64(u.Status))

		b = protowire.AppendTag(b, usersFieldUser, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func (c *codec) decodeBody(data []byte) ([]Payload, error) {
	var payloads []Payload
	err := rangeFields(data, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num != bodyFieldPayload {
			return nil
		}
		if typ != protowire.BytesType {
			return merr.WrapErrProtocolMalformed("payload must be length delimited")
		}
		p, err := c.decodePayload(v)
		if err != nil {
			return err
		}
		payloads = append(payloads, p)
		return nil
	})
	return payloads, err
}

func (c *codec) decodePayload(data []byte) (Payload, error) {
	var (
		p        Payload
		hasValue bool
		rawBytes []byte
		rawInt   uint64
		isVarint bool
	)
	err := rangeFields(data, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case payloadFieldKind:
			if typ != protowire.VarintType {
				return merr.WrapErrProtocolMalformed("payload kind must be varint")
			}
			p.Kind = Kind(int32(n))
		case payloadFieldValue:
			hasValue = true
			isVarint = typ == protowire.VarintType
			rawBytes, rawInt = v, n
		}
		return nil
	})
	if err != nil {
		return Payload{}, err
	}

	// 缺失的 value 按零值处理，wire type 必须与 kind 匹配。
	wantVarint := p.Kind == KindBool
	if hasValue && isVarint != wantVarint {
		return Payload{}, merr.WrapErrProtocolMalformed("payload value type mismatch", p.Kind.String())
	}

	switch p.Kind {
	case KindBool:
		p.Bool = protowire.DecodeBool(rawInt)
	case KindString:
		p.String = string(rawBytes)
	case KindBytes:
		p.Bytes = append([]byte{}, rawBytes...)
	case KindMessage:
		msg, err := c.serializer.Unmarshal(rawBytes)
		if err != nil {
			return Payload{}, merr.WrapErrProtocolMalformed("invalid message record", err.Error())
		}
		if !msg.Type.Valid() {
			return Payload{}, merr.WrapErrProtocolMalformed("invalid message type", msg.Type.String())
		}
		p.Message = msg
	case KindUsers:
		users, err := decodeUsers(rawBytes)
		if err != nil {
			return Payload{}, err
		}
		p.Users = users
	default:
		return Payload{}, merr.WrapErrProtocolMalformed("unknown payload kind", p.Kind.String())
	}
	return p, nil
}

func decodeUsers(data []byte) ([]model.User, error) {
	users := []model.User{}
	err := rangeFields(data, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num != usersFieldUser {
			return nil
		}
		if typ != protowire.BytesType {
			return merr.WrapErrProtocolMalformed("user record must be length delimited")
		}
		var u model.User
		err := rangeFields(v, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
			switch {
			case num == userFieldName && typ == protowire.BytesType:
				u.Username = string(v)
			case num == userFieldStatus && typ == protowire.VarintType:
				u.Status = model.UserStatus(int32(n))
			}
			return nil
		})
		if err != nil {
			return err
		}
		if u.Username != "" {
			u.AvatarColor = model.AvatarColor(u.Username)
		}
		users = append(users, u)
		return nil
	})
	return users, err
}

// rangeFields 顺序遍历 protobuf wire format 的字段。
// 对 varint 字段回调 n，对 bytes 字段回调 v，其余类型跳过。
func rangeFields(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error) error {
	for len(data) > 0 {
		num, typ, l := protowire.ConsumeTag(data)
		if l < 0 {
			return corrupt(l)
		}
		data = data[l:]

		var (
			v []byte
			n uint64
		)
		switch typ {
		case protowire.VarintType:
			n, l = protowire.ConsumeVarint(data)
		case protowire.BytesType:
			v, l = protowire.ConsumeBytes(data)
		default:
			l = protowire.ConsumeFieldValue(num, typ, data)
			if l < 0 {
				return corrupt(l)
			}
			data = data[l:]
			continue
		}
		if l < 0 {
			return corrupt(l)
		}
		data = data[l:]
		if err := fn(num, typ, v, n); err != nil {
			return err
		}
	}
	return nil
}

func corrupt(n int) error {
	return merr.WrapErrProtocolMalformed("corrupt frame body", protowire.ParseError(n).Error())
}
