package log

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	_ WithLogger   = &Binder{}
	_ LoggerBinder = &Binder{}
)

type WithLogger interface {
	Logger() *MLogger
}

type LoggerBinder interface {
	SetLogger(logger *MLogger)
}

// Binder 嵌入到接入层、路由、会话和存储等组件中，保存组件自己的 Logger。
// 会话认证后会替换 Logger，此时其它会话可能正通过 Deliver 使用它，所以用原子指针保存。
type Binder struct {
	logger atomic.Pointer[MLogger]
}

func (w *Binder) SetLogger(logger *MLogger) {
	w.logger.Store(logger)
}

// BindModule 绑定模块 Logger（见 Module），并附加 fields。
func (w *Binder) BindModule(module string, fields ...zap.Field) {
	l := Module(module)
	if len(fields) > 0 {
		l = l.With(fields...)
	}
	w.logger.Store(l)
}

// AppendFields 在当前 Logger 上追加字段，例如认证后的用户名。
func (w *Binder) AppendFields(fields ...zap.Field) {
	w.logger.Store(w.Logger().With(fields...))
}

// Logger 返回绑定的 Logger，未绑定时退回全局 Logger。
func (w *Binder) Logger() *MLogger {
	if l := w.logger.Load(); l != nil {
		return l
	}
	return With()
}
