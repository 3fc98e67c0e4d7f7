package log

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvLogStdout, "false")
	dir := t.TempDir()
	t.Setenv(EnvLogFile, filepath.Join(dir, "chat.log"))

	cfg := ConfigFromEnv()
	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, FormatJSON, cfg.Format)
	assert.False(t, cfg.Stdout)
	assert.Equal(t, dir, cfg.File.RootPath)
	assert.Equal(t, "chat.log", cfg.File.Filename)
}

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvLogFile, "")
	cfg := ConfigFromEnv()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Stdout)
	assert.Empty(t, cfg.File.Filename)
}

func TestInitTestLogger(t *testing.T) {
	for _, format := range []string{FormatText, FormatJSON} {
		lg, props, err := InitTestLogger(t, &Config{Level: "info", Format: format})
		require.NoError(t, err)
		assert.Equal(t, zapcore.InfoLevel, props.Level.Level())
		lg.Info("session accepted", FieldSessionID(1), FieldRemote("127.0.0.1:9"))
		lg.With(FieldUsername("alice")).Debug("dropped by level")
	}
}

func TestInitLoggerBadLevel(t *testing.T) {
	_, _, err := InitLoggerWithWriteSyncer(&Config{Level: "loud"}, zapcore.AddSync(nil))
	assert.Error(t, err)
}

func TestFileLogRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := initFileLog(&FileLogConfig{RootPath: filepath.Dir(dir), Filename: filepath.Base(dir)})
	assert.Error(t, err)
}

func TestModuleLogger(t *testing.T) {
	fallback := Module("router-test")
	require.NotNil(t, fallback)

	dir := t.TempDir()
	ml, err := InitModuleLogger("router-test", &Config{
		Level: "debug",
		File:  FileLogConfig{RootPath: dir, Filename: "router.log"},
	})
	require.NoError(t, err)
	assert.Same(t, ml, Module("router-test"))
	ml.Info("routed", FieldTag("MESSAGE"))
	assert.FileExists(t, filepath.Join(dir, "router.log"))
}

func TestCtxLogger(t *testing.T) {
	ctx := WithFields(context.Background(), FieldUsername("bob"))
	l := Ctx(ctx)
	assert.NotNil(t, l)
	assert.Same(t, l, Ctx(ctx))
	assert.NotNil(t, Ctx(nil))

	ctx, span := NewSessionContext(context.Background(), "test", 42, "pipe")
	defer span.End()
	Ctx(ctx).Info("with session fields")
}

// swapGlobals 把全局 Logger 换成写入 path 的 Logger，测试结束后恢复。
func swapGlobals(t *testing.T, path string) {
	t.Helper()
	levels := []zapcore.Level{
		zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel,
		zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel,
	}
	prevL, prevP := L(), _globalP.Load().(*ZapProperties)
	prevLevels := make(map[zapcore.Level]any, len(levels))
	for _, level := range levels {
		if l, ok := _globalLevelLogger.Load(level); ok {
			prevLevels[level] = l
		}
	}
	t.Cleanup(func() {
		ReplaceGlobals(prevL, prevP)
		for _, level := range levels {
			if l, ok := prevLevels[level]; ok {
				_globalLevelLogger.Store(level, l)
			} else {
				_globalLevelLogger.Delete(level)
			}
		}
	})

	lg, props, err := InitLogger(&Config{
		Level:  "info",
		Format: FormatText,
		File:   FileLogConfig{RootPath: filepath.Dir(path), Filename: filepath.Base(path)},
	})
	require.NoError(t, err)
	ReplaceGlobals(lg, props)
}

func TestDerivedLoggersReportCaller(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caller.log")
	swapGlobals(t, path)

	Info("package level")
	With(FieldComponent("acceptor")).Info("with fields")
	Module("router").Info("module fallback")
	Ctx(WithFields(context.Background(), FieldUsername("bob"))).Info("context fields")
	Ctx(context.Background()).Info("context default")
	var b Binder
	b.BindModule("session")
	b.AppendFields(FieldUsername("alice"))
	b.Logger().Info("binder")
	b.Logger().RatedWarn(0, "binder rated")
	RatedWarn(0, "package rated")

	// 分级 Logger 缺失时退回 L()。
	_globalLevelLogger.Delete(zapcore.InfoLevel)
	Ctx(context.Background()).Info("context fallback")
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 9)
	for _, line := range lines {
		assert.Contains(t, line, "log_test.go:", line)
	}
}

func TestRatedLogger(t *testing.T) {
	l := With(zap.String("k", "v")).WithRateGroup("test-rated", 1, 1)
	assert.True(t, l.RatedWarn(1, "first passes"))
	assert.False(t, l.RatedWarn(1, "second is throttled"))
	assert.False(t, l.With(FieldUsername("bob")).RatedWarn(1, "child shares the group"))
}

func TestBinder(t *testing.T) {
	var b Binder
	assert.NotNil(t, b.Logger())
	ml := With(FieldComponent("acceptor"))
	b.SetLogger(ml)
	assert.Same(t, ml, b.Logger())

	b.AppendFields(FieldUsername("alice"))
	assert.NotSame(t, ml, b.Logger())

	moduleLogger, err := InitModuleLogger("binder-test", &Config{Level: "info"})
	require.NoError(t, err)
	b.BindModule("binder-test")
	assert.Same(t, moduleLogger, b.Logger())
	b.BindModule("binder-test", FieldComponent("x"))
	assert.NotSame(t, moduleLogger, b.Logger())
}

func TestNewTestLogger(t *testing.T) {
	l := NewTestLogger(t)
	l.Debug("goes to t.Logf", FieldSessionID(7))
	assert.True(t, l.RatedInfo(0, "zero cost always passes"))
}
