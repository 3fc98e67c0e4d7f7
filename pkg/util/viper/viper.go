package viper

import (
	"path/filepath"
	"strings"
	"time"

	spfviper "github.com/spf13/viper"
)

// Config 封装 spf13/viper 实例，对外提供精简的 YAML/JSON 配置加载接口。
// 读取顺序：环境变量 > 配置文件 > SetDefault 默认值。
type Config struct {
	v *spfviper.Viper
}

// New 创建一个空的 Config。
func New() *Config {
	return &Config{
		v: spfviper.New(),
	}
}

// BindEnv 打开环境变量覆盖，key 中的 "." 映射为 "_" 并加上前缀，
// 例如前缀 CHAT 时 server.addr 对应 CHAT_SERVER_ADDR。
func (c *Config) BindEnv(prefix string) {
	c.inner().SetEnvPrefix(prefix)
	c.inner().SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.inner().AutomaticEnv()
}

// SetDefault 设置 key 的默认值。
func (c *Config) SetDefault(key string, value any) {
	c.inner().SetDefault(key, value)
}

// Set 显式覆盖 key 的值，优先级最高。
func (c *Config) Set(key string, value any) {
	c.inner().Set(key, value)
}

// LoadFile 将 YAML 或 JSON 配置文件加载到 Config 中。
// 文件类型通过扩展名（.yaml/.yml/.json）推断。
func (c *Config) LoadFile(path string) error {
	c.inner().SetConfigFile(path)

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		c.v.SetConfigType("yaml")
	case ".json":
		c.v.SetConfigType("json")
	default:
		// 让 viper 自行推断类型，或在读取时返回清晰的错误信息。
	}

	return c.v.ReadInConfig()
}

// ConfigFileUsed 返回实际加载的配置文件路径。
func (c *Config) ConfigFileUsed() string {
	return c.inner().ConfigFileUsed()
}

func (c *Config) IsSet(key string) bool {
	return c.inner().IsSet(key)
}

func (c *Config) GetString(key string) string {
	return c.inner().GetString(key)
}

func (c *Config) GetInt(key string) int {
	return c.inner().GetInt(key)
}

func (c *Config) GetBool(key string) bool {
	return c.inner().GetBool(key)
}

func (c *Config) GetDuration(key string) time.Duration {
	return c.inner().GetDuration(key)
}

// GetSizeInBytes 解析 "16MB"、"1kb" 这类大小配置。
func (c *Config) GetSizeInBytes(key string) uint {
	return c.inner().GetSizeInBytes(key)
}

// SubKeys 返回 key 下的一级子键名。
func (c *Config) SubKeys(key string) []string {
	m := c.inner().GetStringMap(key)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// Unmarshal 将完整配置反序列化到 dst。
// dst 应为结构体或 map 的指针。
func (c *Config) Unmarshal(dst interface{}) error {
	return c.inner().Unmarshal(dst)
}

// UnmarshalKey 将指定 key 对应的子配置反序列化到 dst。
// dst 应为结构体或 map 的指针。
func (c *Config) UnmarshalKey(key string, dst interface{}) error {
	return c.inner().UnmarshalKey(key, dst)
}

func (c *Config) inner() *spfviper.Viper {
	if c.v == nil {
		c.v = spfviper.New()
	}
	return c.v
}
