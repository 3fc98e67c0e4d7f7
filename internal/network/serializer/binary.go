package serializer

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

// BinarySerializer 按 protobuf wire format 手工编码 Message，字段编号：
//
//	1 id, 2 sender, 3 receiver, 4 type, 5 content,
//	6 file_name, 7 file_data, 8 timestamp(unix nano)
//
// 零值字段不输出，未知字段在解码时跳过。
type BinarySerializer struct{}

var _ Serializer = BinarySerializer{}

const (
	fieldID        protowire.Number = 1
	fieldSender    protowire.Number = 2
	fieldReceiver  protowire.Number = 3
	fieldType      protowire.Number = 4
	fieldContent   protowire.Number = 5
	fieldFileName  protowire.Number = 6
	fieldFileData  protowire.Number = 7
	fieldTimestamp protowire.Number = 8
)

func (BinarySerializer) Name() string {
	return NameBinary
}

func (BinarySerializer) Marshal(msg *model.Message) ([]byte, error) {
	if msg == nil {
		return nil, merr.WrapErrParameterMissing("message")
	}
	b := make([]byte, 0, 64+len(msg.Content)+len(msg.FileData))
	b = appendString(b, fieldID, msg.ID)
	b = appendString(b, fieldSender, msg.Sender)
	b = appendString(b, fieldReceiver, msg.Receiver)
	if msg.Type != 0 {
		b = protowire.AppendTag(b, fieldType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(msg.Type))
	}
	b = appendString(b, fieldContent, msg.Content)
	b = appendString(b, fieldFileName, msg.FileName)
	if len(msg.FileData) > 0 {
		b = protowire.AppendTag(b, fieldFileData, protowire.BytesType)
		b = protowire.AppendBytes(b, msg.FileData)
	}
	if ts := unixNano(msg.Timestamp); ts != 0 {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(ts))
	}
	return b, nil
}

func (BinarySerializer) Unmarshal(data []byte) (*model.Message, error) {
	msg := &model.Message{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, malformed(n)
		}
		data = data[n:]

		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, malformed(n)
			}
			data = data[n:]
			switch num {
			case fieldID:
				msg.ID = string(v)
			case fieldSender:
				msg.Sender = string(v)
			case fieldReceiver:
				msg.Receiver = string(v)
			case fieldContent:
				msg.Content = string(v)
			case fieldFileName:
				msg.FileName = string(v)
			case fieldFileData:
				msg.FileData = append([]byte(nil), v...)
			}
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, malformed(n)
			}
			data = data[n:]
			switch num {
			case fieldType:
				msg.Type = model.MessageType(int32(v))
			case fieldTimestamp:
				msg.Timestamp = fromUnixNano(protowire.DecodeZigZag(v))
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, malformed(n)
			}
			data = data[n:]
		}
	}
	return msg, nil
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func malformed(n int) error {
	return merr.WrapErrProtocolMalformed("corrupt message record", protowire.ParseError(n).Error())
}
