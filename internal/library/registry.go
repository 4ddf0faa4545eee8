package library

import (
	"errors"
	"fmt"

	"github.com/any-hub/pagecache/internal/config"
)

// Registry 提供 Library 名称到实例的查询能力，所有 Library 共享同一个监听端口，
// 以 URL 第一段区分。
type Registry struct {
	byName  map[string]*Library
	ordered []*Library
}

// NewRegistry 根据配置构建全部 Library。调用方应在启动阶段创建一次并复用。
// deps.Source 对所有 Library 生效，生产环境应保持为空。
func NewRegistry(cfg *config.Config, deps Deps) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &Registry{
		byName: make(map[string]*Library, len(cfg.Libraries)),
	}
	for _, libCfg := range cfg.Libraries {
		if _, exists := registry.byName[libCfg.Name]; exists {
			registry.Close()
			return nil, fmt.Errorf("duplicate library %s", libCfg.Name)
		}
		lib, err := New(libCfg, cfg.Global, deps)
		if err != nil {
			registry.Close()
			return nil, err
		}
		registry.byName[libCfg.Name] = lib
		registry.ordered = append(registry.ordered, lib)
	}
	return registry, nil
}

// Lookup 根据名称查找 Library。
func (r *Registry) Lookup(name string) (*Library, bool) {
	if r == nil {
		return nil, false
	}
	lib, ok := r.byName[name]
	return lib, ok
}

// List 按配置定义的顺序返回 Library 列表。
func (r *Registry) List() []*Library {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	result := make([]*Library, len(r.ordered))
	copy(result, r.ordered)
	return result
}

// Close 关闭所有 Library 的后台任务。
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for _, lib := range r.ordered {
		lib.Close()
	}
}
