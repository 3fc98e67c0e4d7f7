package framer

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

// FlagCompressed 表示 Envelope.Body 经过压缩。
const FlagCompressed uint64 = 1 << 0

const (
	envelopeFieldTag   protowire.Number = 1
	envelopeFieldFlags protowire.Number = 2
	envelopeFieldBody  protowire.Number = 3
)

// Envelope 是一帧的外层结构，按 protobuf wire format 编码：
//
//	1: tag   string
//	2: flags varint
//	3: body  bytes
type Envelope struct {
	Tag   string
	Flags uint64
	Body  []byte
}

// Size 返回 Envelope 编码后的字节数。
func (e *Envelope) Size() int {
	n := 0
	if e.Tag != "" {
		n += protowire.SizeTag(envelopeFieldTag) + protowire.SizeBytes(len(e.Tag))
	}
	if e.Flags != 0 {
		n += protowire.SizeTag(envelopeFieldFlags) + protowire.SizeVarint(e.Flags)
	}
	if len(e.Body) > 0 {
		n += protowire.SizeTag(envelopeFieldBody) + protowire.SizeBytes(len(e.Body))
	}
	return n
}

// AppendTo 将 Envelope 追加编码到 b 之后。
func (e *Envelope) AppendTo(b []byte) []byte {
	if e.Tag != "" {
		b = protowire.AppendTag(b, envelopeFieldTag, protowire.BytesType)
		b = protowire.AppendString(b, e.Tag)
	}
	if e.Flags != 0 {
		b = protowire.AppendTag(b, envelopeFieldFlags, protowire.VarintType)
		b = protowire.AppendVarint(b, e.Flags)
	}
	if len(e.Body) > 0 {
		b = protowire.AppendTag(b, envelopeFieldBody, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Body)
	}
	return b
}

// Unmarshal 从 b 解出 Envelope。Body 会被拷贝，调用方可以复用 b。
func (e *Envelope) Unmarshal(b []byte) error {
	*e = Envelope{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return merr.WrapErrProtocolMalformed("corrupt envelope", protowire.ParseError(n).Error())
		}
		b = b[n:]

		switch {
		case num == envelopeFieldTag && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return merr.WrapErrProtocolMalformed("corrupt envelope tag", protowire.ParseError(n).Error())
			}
			e.Tag = v
			b = b[n:]
		case num == envelopeFieldFlags && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return merr.WrapErrProtocolMalformed("corrupt envelope flags", protowire.ParseError(n).Error())
			}
			e.Flags = v
			b = b[n:]
		case num == envelopeFieldBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return merr.WrapErrProtocolMalformed("corrupt envelope body", protowire.ParseError(n).Error())
			}
			e.Body = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return merr.WrapErrProtocolMalformed("corrupt envelope field", protowire.ParseError(n).Error())
			}
			b = b[n:]
		}
	}
	return nil
}
