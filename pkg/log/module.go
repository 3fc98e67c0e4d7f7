package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _moduleLoggers sync.Map // module name -> *MLogger

// InitModuleLogger 按配置为模块构造独立的 Logger 并登记。
// 同名模块重复初始化时以最后一次为准。
func InitModuleLogger(module string, cfg *Config) (*MLogger, error) {
	var outputs []zapcore.WriteSyncer
	if len(cfg.File.Filename) > 0 {
		lg, err := initFileLog(&cfg.File)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, zapcore.AddSync(lg))
	}
	if cfg.Stdout {
		stdOut, _, err := zap.Open("stdout")
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, stdOut)
	}
	zl, _, err := InitLoggerWithWriteSyncer(cfg, zap.CombineWriteSyncers(outputs...))
	if err != nil {
		return nil, err
	}
	ml := &MLogger{Logger: zl.With(FieldModule(module))}
	_moduleLoggers.Store(module, ml)
	return ml, nil
}

// Module 返回模块 Logger，未单独配置时退回携带模块字段的全局 Logger。
func Module(module string) *MLogger {
	if v, ok := _moduleLoggers.Load(module); ok {
		return v.(*MLogger)
	}
	return With(FieldModule(module))
}
