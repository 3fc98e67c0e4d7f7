package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"

	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

// SystemSender 是服务端合成消息使用的发送方名称。
const SystemSender = "SYSTEM"

// MessageType 标识消息的种类，数值即线上编码值，只能追加不能重排。
type MessageType int32

const (
	MessageTypeText MessageType = iota
	MessageTypeFile
	MessageTypeSystem
	MessageTypeUserJoin
	MessageTypeUserLeave
	MessageTypeTyping
	MessageTypePrivate
)

var messageTypeNames = map[MessageType]string{
	MessageTypeText:      "TEXT",
	MessageTypeFile:      "FILE",
	MessageTypeSystem:    "SYSTEM",
	MessageTypeUserJoin:  "USER_JOIN",
	MessageTypeUserLeave: "USER_LEAVE",
	MessageTypeTyping:    "TYPING",
	MessageTypePrivate:   "PRIVATE",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid 判断类型值是否在已定义范围内。
func (t MessageType) Valid() bool {
	_, ok := messageTypeNames[t]
	return ok
}

// IsPresence 判断是否为上下线通知，这类消息只能由会话生命周期合成。
func (t MessageType) IsPresence() bool {
	return t == MessageTypeUserJoin || t == MessageTypeUserLeave
}

// ParseMessageType 按名称解析消息类型，大小写不敏感。
func ParseMessageType(name string) (MessageType, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for t, n := range messageTypeNames {
		if n == upper {
			return t, nil
		}
	}
	return 0, merr.WrapErrParameterInvalidMsg("unknown message type %q", name)
}

// Message 是线上传递与持久化的消息记录。
// Receiver 为空表示广播；FileName/FileData 仅 File 类型使用。
// 消息构造后视为不可变，多个会话之间共享同一实例。
type Message struct {
	ID        string
	Sender    string
	Receiver  string
	Type      MessageType
	Content   string
	FileName  string
	FileData  []byte
	Timestamp time.Time
}

// Now 返回去掉单调时钟读数的 UTC 时间，保证编码前后可直接比较。
func Now() time.Time {
	return time.Now().UTC().Round(0)
}

// NewMessageID 生成新的消息 ID。
func NewMessageID() string {
	return uuid.NewString()
}

func newMessage(sender string, typ MessageType) *Message {
	return &Message{
		ID:        NewMessageID(),
		Sender:    sender,
		Type:      typ,
		Timestamp: Now(),
	}
}

func NewTextMessage(sender, content string) *Message {
	msg := newMessage(sender, MessageTypeText)
	msg.Content = content
	return msg
}

func NewPrivateMessage(sender, receiver, content string) *Message {
	msg := newMessage(sender, MessageTypePrivate)
	msg.Receiver = receiver
	msg.Content = content
	return msg
}

// NewFileMessage 构造文件消息，receiver 为空时表示发给所有人。
func NewFileMessage(sender, receiver, fileName string, data []byte) *Message {
	msg := newMessage(sender, MessageTypeFile)
	msg.Receiver = receiver
	msg.FileName = fileName
	msg.FileData = data
	return msg
}

func NewTypingMessage(sender string) *Message {
	return newMessage(sender, MessageTypeTyping)
}

// NewSystemMessage 构造服务端通知，发送方固定为 SYSTEM。
func NewSystemMessage(receiver, content string) *Message {
	msg := newMessage(SystemSender, MessageTypeSystem)
	msg.Receiver = receiver
	msg.Content = content
	return msg
}

func NewUserJoinMessage(username string) *Message {
	msg := newMessage(username, MessageTypeUserJoin)
	msg.Content = username + " has joined the chat"
	return msg
}

func NewUserLeaveMessage(username string) *Message {
	msg := newMessage(username, MessageTypeUserLeave)
	msg.Content = username + " has left the chat"
	return msg
}

// IsBroadcast 判断消息是否没有指定接收方。
func (m *Message) IsBroadcast() bool {
	return m.Receiver == ""
}

// Validate 检查消息的结构是否满足其类型的要求。
func (m *Message) Validate() error {
	if m == nil {
		return merr.WrapErrParameterMissing("message")
	}
	if !m.Type.Valid() {
		return merr.WrapErrParameterInvalidMsg("unknown message type %d", m.Type)
	}
	switch m.Type {
	case MessageTypePrivate:
		if m.Receiver == "" {
			return merr.WrapErrParameterMissing("receiver", "private message")
		}
	case MessageTypeFile:
		if m.FileName == "" {
			return merr.WrapErrParameterMissing("file_name", "file message")
		}
	}
	return nil
}

// Clone 返回深拷贝。
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.FileData != nil {
		cp.FileData = append([]byte(nil), m.FileData...)
	}
	return &cp
}

// MarshalLogObject 实现 zapcore.ObjectMarshaler，日志中不输出正文与文件内容。
func (m *Message) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", m.ID)
	enc.AddString("type", m.Type.String())
	enc.AddString("sender", m.Sender)
	if m.Receiver != "" {
		enc.AddString("receiver", m.Receiver)
	}
	if m.FileName != "" {
		enc.AddString("fileName", m.FileName)
		enc.AddInt("fileSize", len(m.FileData))
	}
	enc.AddInt("contentLen", len(m.Content))
	return nil
}
