package config

import "testing"

func TestSettingsBudget(t *testing.T) {
	s := NewSettings(GlobalConfig{MaxCacheSizeMB: 5})
	if s.MaxCacheBytes() != 5*1024*1024 {
		t.Fatalf("初始预算错误: %d", s.MaxCacheBytes())
	}
	if err := s.SetMaxCacheSizeMB(8); err != nil {
		t.Fatalf("SetMaxCacheSizeMB 返回错误: %v", err)
	}
	if s.MaxCacheSizeMB() != 8 {
		t.Fatalf("预算未更新")
	}
	if err := s.SetMaxCacheSizeMB(-1); err == nil {
		t.Fatalf("负数预算应报错")
	}
	if s.MaxCacheSizeMB() != 8 {
		t.Fatalf("失败的更新不应修改预算")
	}

	s.Apply(&Config{Global: GlobalConfig{MaxCacheSizeMB: 0}})
	if s.MaxCacheBytes() != 0 {
		t.Fatalf("Apply 应同步预算")
	}
	s.Apply(nil)
	if s.MaxCacheBytes() != 0 {
		t.Fatalf("Apply(nil) 不应修改预算")
	}
}
