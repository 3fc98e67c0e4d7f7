// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"sync"

	"go.uber.org/zap/zapcore"
)

// lazyWithCore 把 core.With(fields) 推迟到第一次真正需要时执行。
// 每个会话都会派生带 sessionID/remote/username 的 Logger，多数从不输出，
// 推迟可以省掉这部分字段编码。做法参考 https://github.com/uber-go/zap/issues/1426。
type lazyWithCore struct {
	parent zapcore.Core
	fields []zapcore.Field

	once    sync.Once
	derived zapcore.Core
}

var _ zapcore.Core = (*lazyWithCore)(nil)

func NewLazyWith(core zapcore.Core, fields []zapcore.Field) zapcore.Core {
	if len(fields) == 0 {
		return core
	}
	return &lazyWithCore{parent: core, fields: fields}
}

func (d *lazyWithCore) core() zapcore.Core {
	d.once.Do(func() {
		d.derived = d.parent.With(d.fields)
	})
	return d.derived
}

// Enabled 只看级别，不需要派生。
func (d *lazyWithCore) Enabled(level zapcore.Level) bool {
	return d.parent.Enabled(level)
}

func (d *lazyWithCore) Sync() error {
	return d.core().Sync()
}

func (d *lazyWithCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return d.core().Write(entry, fields)
}

func (d *lazyWithCore) With(fields []zapcore.Field) zapcore.Core {
	return d.core().With(fields)
}

// Check 在级别未开启时直接返回，不触发派生。
func (d *lazyWithCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !d.parent.Enabled(e.Level) {
		return ce
	}
	return d.core().Check(e, ce)
}
