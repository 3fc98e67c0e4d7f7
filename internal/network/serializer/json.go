package serializer

import (
	"time"

	"github.com/bytedance/sonic"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

// JSONSerializer 使用 bytedance/sonic 实现 JSON 编解码。
// 时间戳以 Unix 纳秒整数传输，文件内容以 base64 传输。
type JSONSerializer struct{}

// 编译期断言：确保 JSONSerializer 实现了 Serializer 接口。
var _ Serializer = JSONSerializer{}

type jsonMessage struct {
	ID        string `json:"id,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Receiver  string `json:"receiver,omitempty"`
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	FileData  []byte `json:"fileData,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

var jsonAPI = sonic.ConfigStd

func (JSONSerializer) Name() string {
	return NameJSON
}

func (JSONSerializer) Marshal(msg *model.Message) ([]byte, error) {
	if msg == nil {
		return nil, merr.WrapErrParameterMissing("message")
	}
	return jsonAPI.Marshal(&jsonMessage{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Type:      msg.Type.String(),
		Content:   msg.Content,
		FileName:  msg.FileName,
		FileData:  msg.FileData,
		Timestamp: unixNano(msg.Timestamp),
	})
}

func (JSONSerializer) Unmarshal(data []byte) (*model.Message, error) {
	var dto jsonMessage
	if err := jsonAPI.Unmarshal(data, &dto); err != nil {
		return nil, merr.WrapErrProtocolMalformed("invalid json message", err.Error())
	}
	typ, err := model.ParseMessageType(dto.Type)
	if err != nil {
		return nil, merr.WrapErrProtocolMalformed("invalid json message", err.Error())
	}
	return &model.Message{
		ID:        dto.ID,
		Sender:    dto.Sender,
		Receiver:  dto.Receiver,
		Type:      typ,
		Content:   dto.Content,
		FileName:  dto.FileName,
		FileData:  dto.FileData,
		Timestamp: fromUnixNano(dto.Timestamp),
	}, nil
}

// unixNano 将零值时间编码为 0，避免零值溢出。
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
