package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameSessionID = "sessionID"
	FieldNameRemote    = "remote"
	FieldNameUsername  = "username"
	FieldNameTag       = "tag"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldMessage 返回一个包含消息对象的 zap 字段。
func FieldMessage(msg zapcore.ObjectMarshaler) zap.Field {
	return zap.Object("message", msg)
}

func FieldSessionID(id int64) zap.Field {
	return zap.Int64(FieldNameSessionID, id)
}

func FieldRemote(addr string) zap.Field {
	return zap.String(FieldNameRemote, addr)
}

func FieldUsername(username string) zap.Field {
	return zap.String(FieldNameUsername, username)
}

// FieldTag 返回帧标签字段。
func FieldTag(tag string) zap.Field {
	return zap.String(FieldNameTag, tag)
}
