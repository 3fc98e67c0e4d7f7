package codec

import (
	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

// Tag 是帧的命令标签。
type Tag string

const (
	TagLogin     Tag = "LOGIN"
	TagRegister  Tag = "REGISTER"
	TagUsersList Tag = "USERS_LIST"
	TagMessage   Tag = "MESSAGE"
)

// Known 判断 tag 是否为已定义的命令。
func (t Tag) Known() bool {
	_, ok := schemas[t]
	return ok
}

// IsAuth 判断 tag 是否为认证命令。
func (t Tag) IsAuth() bool {
	return t == TagLogin || t == TagRegister
}

// Kind 是载荷值的类型，数值即线上编码值。
type Kind int32

const (
	KindBool Kind = iota + 1
	KindString
	KindBytes
	KindMessage
	KindUsers
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindMessage:
		return "message"
	case KindUsers:
		return "users"
	default:
		return "unknown"
	}
}

// Payload 是帧内的一个带类型的值，只有与 Kind 对应的字段有意义。
type Payload struct {
	Kind    Kind
	Bool    bool
	String  string
	Bytes   []byte
	Message *model.Message
	Users   []model.User
}

func Bool(v bool) Payload {
	return Payload{Kind: KindBool, Bool: v}
}

func String(v string) Payload {
	return Payload{Kind: KindString, String: v}
}

func Bytes(v []byte) Payload {
	return Payload{Kind: KindBytes, Bytes: v}
}

func Message(v *model.Message) Payload {
	return Payload{Kind: KindMessage, Message: v}
}

func Users(v []model.User) Payload {
	return Payload{Kind: KindUsers, Users: v}
}

// Frame 是线上传输的最小完整单元：一个 tag 加上按 tag 约定顺序排列的载荷。
type Frame struct {
	Tag      Tag
	Payloads []Payload
}

// schemas 列出每个 tag 允许的载荷形状，客户端请求与服务端应答各占一种。
var schemas = map[Tag][][]Kind{
	TagLogin: {
		{KindString, KindString},
		{KindBool, KindString},
	},
	TagRegister: {
		{KindString, KindString, KindString},
		{KindBool, KindString},
	},
	TagUsersList: {
		{KindUsers},
	},
	TagMessage: {
		{KindMessage},
	},
}

// Validate 检查帧的 tag 与载荷形状。
func (f *Frame) Validate() error {
	shapes, ok := schemas[f.Tag]
	if !ok {
		return merr.WrapErrProtocolUnknownTag(string(f.Tag))
	}
	for _, shape := range shapes {
		if f.matches(shape) {
			return nil
		}
	}
	return merr.WrapErrProtocolMalformed("unexpected payload shape", string(f.Tag))
}

func (f *Frame) matches(shape []Kind) bool {
	if len(shape) != len(f.Payloads) {
		return false
	}
	for i, kind := range shape {
		if f.Payloads[i].Kind != kind {
			return false
		}
		if kind == KindMessage && f.Payloads[i].Message == nil {
			return false
		}
	}
	return true
}

func LoginFrame(username, password string) *Frame {
	return &Frame{Tag: TagLogin, Payloads: []Payload{String(username), String(password)}}
}

func RegisterFrame(username, password, email string) *Frame {
	return &Frame{Tag: TagRegister, Payloads: []Payload{String(username), String(password), String(email)}}
}

// AuthResponseFrame 构造对 LOGIN/REGISTER 的应答帧。
func AuthResponseFrame(tag Tag, success bool, message string) *Frame {
	return &Frame{Tag: tag, Payloads: []Payload{Bool(success), String(message)}}
}

func UsersListFrame(users []model.User) *Frame {
	return &Frame{Tag: TagUsersList, Payloads: []Payload{Users(users)}}
}

func MessageFrame(msg *model.Message) *Frame {
	return &Frame{Tag: TagMessage, Payloads: []Payload{Message(msg)}}
}

// AuthRequest 是客户端发来的认证请求。Email 仅 REGISTER 携带。
type AuthRequest struct {
	Register bool
	Username string
	Password string
	Email    string
}

// AuthRequest 从 LOGIN/REGISTER 请求帧中取出凭据。
func (f *Frame) AuthRequest() (AuthRequest, error) {
	switch {
	case f.Tag == TagLogin && f.matches(schemas[TagLogin][0]):
		return AuthRequest{
			Username: f.Payloads[0].String,
			Password: f.Payloads[1].String,
		}, nil
	case f.Tag == TagRegister && f.matches(schemas[TagRegister][0]):
		return AuthRequest{
			Register: true,
			Username: f.Payloads[0].String,
			Password: f.Payloads[1].String,
			Email:    f.Payloads[2].String,
		}, nil
	default:
		return AuthRequest{}, merr.WrapErrProtocolMalformed("expected authentication request", string(f.Tag))
	}
}

// AuthResponse 从应答帧中取出认证结果。
func (f *Frame) AuthResponse() (bool, string, error) {
	if !f.Tag.IsAuth() || !f.matches([]Kind{KindBool, KindString}) {
		return false, "", merr.WrapErrProtocolMalformed("expected authentication response", string(f.Tag))
	}
	return f.Payloads[0].Bool, f.Payloads[1].String, nil
}

// UserList 从 USERS_LIST 帧中取出在线用户列表。
func (f *Frame) UserList() ([]model.User, error) {
	if f.Tag != TagUsersList || !f.matches(schemas[TagUsersList][0]) {
		return nil, merr.WrapErrProtocolMalformed("expected users list", string(f.Tag))
	}
	return f.Payloads[0].Users, nil
}

// ChatMessage 从 MESSAGE 帧中取出消息。
func (f *Frame) ChatMessage() (*model.Message, error) {
	if f.Tag != TagMessage || !f.matches(schemas[TagMessage][0]) {
		return nil, merr.WrapErrProtocolMalformed("expected message", string(f.Tag))
	}
	return f.Payloads[0].Message, nil
}
