// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxLogKeyType struct{}

// CtxLogKey 是 context 中保存 *MLogger 的键。
var CtxLogKey = ctxLogKeyType{}

// 包级输出函数只在尚未拿到组件 Logger 的启动阶段使用，
// 会话与路由内部一律通过 Ctx(ctx) 或 Binder 输出。

func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// Fatal 输出后调用 os.Exit(1)。
func Fatal(msg string, fields ...zap.Field) {
	L().Fatal(msg, fields...)
}

// RatedDebug 使用全局 RateLimiter 限流输出，返回是否输出。
func RatedDebug(cost float64, msg string, fields ...zap.Field) bool {
	return rated(zapcore.DebugLevel, cost, msg, fields)
}

func RatedInfo(cost float64, msg string, fields ...zap.Field) bool {
	return rated(zapcore.InfoLevel, cost, msg, fields)
}

func RatedWarn(cost float64, msg string, fields ...zap.Field) bool {
	return rated(zapcore.WarnLevel, cost, msg, fields)
}

func rated(level zapcore.Level, cost float64, msg string, fields []zap.Field) bool {
	if !R().CheckCredit(cost) {
		return false
	}
	if ce := L().WithOptions(zap.AddCallerSkip(1)).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
	return true
}

// With 返回携带 fields 的全局 Logger 副本。
func With(fields ...zap.Field) *MLogger {
	return &MLogger{
		Logger: L().WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return NewLazyWith(core, fields)
		})).WithOptions(zap.AddCallerSkip(-1)),
	}
}

// SetLevel 调整全局日志级别，已派生的 Logger 同步生效。
func SetLevel(l zapcore.Level) {
	_globalP.Load().(*ZapProperties).Level.SetLevel(l)
}

// WithFields 返回一个 context，其中的 Logger 在原有基础上追加 fields。
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	base := ctxL()
	if ctxLogger, ok := ctx.Value(CtxLogKey).(*MLogger); ok {
		base = ctxLogger.Logger
	}
	return context.WithValue(ctx, CtxLogKey, &MLogger{Logger: base.With(fields...)})
}

// NewSessionContext 为一条连接创建根 context 与 span。
// 此后经 Ctx 取得的 Logger 都带 sessionID、remote 与 traceID。
func NewSessionContext(parent context.Context, tracer string, sessionID int64, remote string) (context.Context, trace.Span) {
	if parent == nil {
		parent = context.Background()
	}
	sessionCtx, span := otel.Tracer(tracer).Start(parent, "session")
	sessionCtx = WithFields(sessionCtx,
		FieldSessionID(sessionID),
		FieldRemote(remote),
		zap.String("traceID", span.SpanContext().TraceID().String()))
	return sessionCtx, span
}

// Ctx 返回 ctx 中的 Logger，没有时使用与全局级别一致的 Logger。
func Ctx(ctx context.Context) *MLogger {
	if ctx != nil {
		if ctxLogger, ok := ctx.Value(CtxLogKey).(*MLogger); ok {
			return ctxLogger
		}
	}
	return &MLogger{Logger: ctxL()}
}
