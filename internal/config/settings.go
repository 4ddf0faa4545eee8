package config

import (
	"fmt"
	"sync/atomic"
)

// Settings 保存运行时可调整的参数。缓存预算在每次清理触发时读取，
// 修改后无需重启即可生效。
type Settings struct {
	maxCacheSizeMB atomic.Int64
}

// NewSettings 以全局配置初始化运行时参数。
func NewSettings(g GlobalConfig) *Settings {
	s := &Settings{}
	s.maxCacheSizeMB.Store(g.MaxCacheSizeMB)
	return s
}

// MaxCacheSizeMB 返回当前预算（MB）。
func (s *Settings) MaxCacheSizeMB() int64 {
	return s.maxCacheSizeMB.Load()
}

// MaxCacheBytes 返回当前预算（字节），可直接作为 cache.BudgetFunc。
func (s *Settings) MaxCacheBytes() int64 {
	return s.maxCacheSizeMB.Load() * 1024 * 1024
}

// SetMaxCacheSizeMB 更新预算，拒绝负数。
func (s *Settings) SetMaxCacheSizeMB(mb int64) error {
	if mb < 0 {
		return newFieldError("MaxCacheSizeMB", fmt.Sprintf("不能为负数: %d", mb))
	}
	s.maxCacheSizeMB.Store(mb)
	return nil
}

// Apply 将重新加载的配置同步到运行时参数。
func (s *Settings) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	s.maxCacheSizeMB.Store(cfg.Global.MaxCacheSizeMB)
}
