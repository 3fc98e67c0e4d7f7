package application

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/danmu-garden-chat/internal/network/serializer"
	"github.com/lk2023060901/danmu-garden-chat/internal/store"
	zviper "github.com/lk2023060901/danmu-garden-chat/pkg/util/viper"
)

const (
	defaultConfigPath = "./config.yaml"
	envConfigPath     = "CHAT_CONFIG_FILE_PATH"
	envPrefix         = "CHAT"
)

// Config 是服务进程的完整配置。
type Config struct {
	Server  ServerConfig
	Codec   CodecConfig
	Store   StoreConfig
	Metrics MetricsConfig
}

type ServerConfig struct {
	Addr          string
	MaxSessions   int
	ShutdownGrace time.Duration
	// WriteTimeout 为 0 表示不限制单帧写出时间。
	WriteTimeout time.Duration
	// WSAddr 为空表示不开启 WebSocket 接入。
	WSAddr string
	WSPath string
}

type CodecConfig struct {
	Serializer      string
	Compression     bool
	CompressMinSize int
	MaxFrameSize    uint32
}

type StoreConfig struct {
	Driver     string
	DSN        string
	BcryptCost int
}

type MetricsConfig struct {
	// Addr 为空表示不暴露 /metrics。
	Addr string
}

var defaults = map[string]any{
	"server.addr":             ":5000",
	"server.max_sessions":     100,
	"server.shutdown_grace":   "5s",
	"server.write_timeout":    "0s",
	"server.ws.addr":          "",
	"server.ws.path":          "/ws",
	"codec.serializer":        serializer.NameBinary,
	"codec.compression":       false,
	"codec.compress_min_size": 1024,
	"codec.max_frame_size":    "16MB",
	"store.driver":            store.DriverMemory,
	"store.dsn":               "",
	"store.bcrypt_cost":       store.DefaultBcryptCost,
	"metrics.addr":            "",
}

// resolveConfigPath 按优先级确定配置文件路径：
//  1. 默认 ./config.yaml
//  2. 环境变量 CHAT_CONFIG_FILE_PATH
//  3. 命令行 --config <path> 或 --config=<path>
//
// explicit 表示路径由用户显式给出，此时文件不存在视为错误。
func resolveConfigPath(args []string) (path string, explicit bool, err error) {
	path = defaultConfigPath
	if envPath := os.Getenv(envConfigPath); envPath != "" {
		path, explicit = envPath, true
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return "", false, errors.New("missing value after --config")
			}
			path, explicit = args[i+1], true
			i++
			continue
		}
		if val, ok := strings.CutPrefix(arg, "--config="); ok && val != "" {
			path, explicit = val, true
		}
	}
	return path, explicit, nil
}

// LoadConfig 读取配置文件并叠加 CHAT_ 前缀的环境变量。
// 默认路径下没有配置文件时使用内置默认值。
func LoadConfig(args []string) (*Config, *zviper.Config, error) {
	path, explicit, err := resolveConfigPath(args)
	if err != nil {
		return nil, nil, err
	}

	v := zviper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.BindEnv(envPrefix)

	if _, statErr := os.Stat(path); statErr == nil || explicit {
		if err := v.LoadFile(path); err != nil {
			return nil, nil, errors.Wrapf(err, "failed to load config file %q", path)
		}
	}

	cfg, err := configFrom(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func configFrom(v *zviper.Config) (*Config, error) {
	maxFrame := v.GetSizeInBytes("codec.max_frame_size")
	if maxFrame == 0 || maxFrame > 1<<31 {
		return nil, errors.Newf("invalid codec.max_frame_size %d", maxFrame)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:          v.GetString("server.addr"),
			MaxSessions:   v.GetInt("server.max_sessions"),
			ShutdownGrace: v.GetDuration("server.shutdown_grace"),
			WriteTimeout:  v.GetDuration("server.write_timeout"),
			WSAddr:        v.GetString("server.ws.addr"),
			WSPath:        v.GetString("server.ws.path"),
		},
		Codec: CodecConfig{
			Serializer:      v.GetString("codec.serializer"),
			Compression:     v.GetBool("codec.compression"),
			CompressMinSize: v.GetInt("codec.compress_min_size"),
			MaxFrameSize:    uint32(maxFrame),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(v.GetString("store.driver")),
			DSN:        v.GetString("store.dsn"),
			BcryptCost: v.GetInt("store.bcrypt_cost"),
		},
		Metrics: MetricsConfig{
			Addr: v.GetString("metrics.addr"),
		},
	}
	if cfg.Server.MaxSessions <= 0 {
		return nil, errors.Newf("invalid server.max_sessions %d", cfg.Server.MaxSessions)
	}
	return cfg, nil
}

// DefaultConfig 返回全部取默认值的配置。
func DefaultConfig() *Config {
	v := zviper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	cfg, _ := configFrom(v)
	return cfg
}
