package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有 Library 共享同一份参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	StoragePath   string `mapstructure:"StoragePath"`
	// MaxCacheSizeMB 是进程级缓存预算，运行时通过 Settings 读取。
	MaxCacheSizeMB int64 `mapstructure:"MaxCacheSizeMB"`
	// MaxMemoryEntries 为 0 时关闭内存层。
	MaxMemoryEntries   int      `mapstructure:"MaxMemoryEntries"`
	PreloadBehind      int      `mapstructure:"PreloadBehind"`
	PreloadAhead       int      `mapstructure:"PreloadAhead"`
	PreloadParallelism int      `mapstructure:"PreloadParallelism"`
	MaxRetries         int      `mapstructure:"MaxRetries"`
	InitialBackoff     Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout    Duration `mapstructure:"UpstreamTimeout"`
}

// LibraryConfig 描述一个逻辑缓存（例如页面图片或整本下载）及其上游。
type LibraryConfig struct {
	Name     string `mapstructure:"Name"`
	Upstream string `mapstructure:"Upstream"`
	Username string `mapstructure:"Username"`
	Password string `mapstructure:"Password"`
	// ContentTypes 限定上游响应的 Content-Type 前缀，为空时不校验。
	ContentTypes []string `mapstructure:"ContentTypes"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig    `mapstructure:",squash"`
	Libraries []LibraryConfig `mapstructure:"Library"`
}

// HasCredentials 表示当前 Library 是否配置了完整的上游凭证。
func (l LibraryConfig) HasCredentials() bool {
	return l.Username != "" && l.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (l LibraryConfig) AuthMode() string {
	if l.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// CredentialModes 返回所有 Library 的鉴权模式摘要，例如 pages:credentialed。
func CredentialModes(libs []LibraryConfig) []string {
	if len(libs) == 0 {
		return nil
	}
	result := make([]string, len(libs))
	for i, lib := range libs {
		result[i] = fmt.Sprintf("%s:%s", lib.Name, lib.AuthMode())
	}
	return result
}

// MaxCacheBytes 将 MB 预算换算为字节。
func (g GlobalConfig) MaxCacheBytes() int64 {
	return g.MaxCacheSizeMB * 1024 * 1024
}
