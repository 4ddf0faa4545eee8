package library

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/any-hub/pagecache/internal/cache"
	"github.com/any-hub/pagecache/internal/config"
	"github.com/any-hub/pagecache/internal/fetch"
	"github.com/any-hub/pagecache/internal/upstream"
)

// Fetcher 是远端内容来源，upstream.Source 为默认实现。
type Fetcher interface {
	Fetch(ctx context.Context, key cache.Key) (upstream.Payload, error)
}

// Deps 汇总构造 Library 所需的外部依赖，零值字段使用默认实现。
type Deps struct {
	Budget cache.BudgetFunc
	Client *http.Client
	Logger logrus.FieldLogger
	// Fs 为 nil 时使用真实磁盘 <StoragePath>/<Name>。
	Fs afero.Fs
	// Source 覆盖默认的 upstream.Source，测试中注入桩实现。
	Source Fetcher
}

// Library 是一个逻辑缓存：独立的磁盘目录、预算内淘汰、单飞回源与预读窗口。
type Library struct {
	cfg       config.LibraryConfig
	behind    int
	ahead     int
	store     *cache.Store
	tiered    *cache.Tiered
	coalescer *fetch.Coalescer
	preloader *fetch.Preloader
	source    Fetcher
	logger    logrus.FieldLogger
}

// Stats 是 /-/libraries 输出的单个 Library 摘要。
type Stats struct {
	Name        string `json:"name"`
	Upstream    string `json:"upstream"`
	AuthMode    string `json:"auth_mode"`
	SizeBytes   int64  `json:"size_bytes"`
	Count       int    `json:"count"`
	LedgerValid bool   `json:"ledger_valid"`
	HotEntries  int    `json:"hot_entries"`
	InFlight    int    `json:"in_flight"`
}

// New 根据配置组装 Library。
func New(lib config.LibraryConfig, global config.GlobalConfig, deps Deps) (*Library, error) {
	if deps.Budget == nil {
		return nil, errors.New("library budget required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("library", lib.Name)

	root := filepath.Join(global.StoragePath, lib.Name)
	var (
		backend *cache.FSBackend
		err     error
	)
	if deps.Fs != nil {
		backend, err = cache.NewFSBackend(deps.Fs, root)
	} else {
		backend, err = cache.NewDiskBackend(root)
	}
	if err != nil {
		return nil, fmt.Errorf("library %s: %w", lib.Name, err)
	}

	store, err := cache.NewStore(backend, cache.StoreOptions{
		Name:   lib.Name,
		Budget: deps.Budget,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("library %s: %w", lib.Name, err)
	}

	var hot *cache.HotTier
	if global.MaxMemoryEntries > 0 {
		hot, err = cache.NewHotTier(global.MaxMemoryEntries)
		if err != nil {
			return nil, fmt.Errorf("library %s: %w", lib.Name, err)
		}
	}
	tiered := cache.NewTiered(hot, store)

	source := deps.Source
	if source == nil {
		source, err = upstream.NewSource(lib, global, deps.Client, logger)
		if err != nil {
			return nil, fmt.Errorf("library %s: %w", lib.Name, err)
		}
	}

	return &Library{
		cfg:       lib,
		behind:    global.PreloadBehind,
		ahead:     global.PreloadAhead,
		store:     store,
		tiered:    tiered,
		coalescer: fetch.NewCoalescer(tiered, logger),
		preloader: fetch.NewPreloader(global.PreloadParallelism, logger),
		source:    source,
		logger:    logger,
	}, nil
}

// Name 返回 Library 名称，即 URL 的第一段。
func (l *Library) Name() string {
	return l.cfg.Name
}

// Config 返回 Library 配置副本。
func (l *Library) Config() config.LibraryConfig {
	return l.cfg
}

// Get 返回页面内容；hit 表示本次请求直接由缓存提供。
func (l *Library) Get(ctx context.Context, key cache.Key) (data []byte, hit bool, err error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	lookup := l.tiered.Lookup(key)
	switch lookup.State {
	case cache.LookupHit:
		return lookup.Data, true, nil
	case cache.LookupError:
		l.logger.WithError(lookup.Err).WithField("key", key.String()).Warn("cache_read_failed")
	}
	data, err = l.coalescer.Fetch(ctx, key, l.remote(key))
	return data, false, err
}

// IsCached 只检查缓存，从不回源。
func (l *Library) IsCached(key cache.Key) bool {
	if key.Validate() != nil {
		return false
	}
	return l.tiered.Has(key)
}

// Preload 以 center 为中心预取配置的窗口，count 为总页数（<= 0 表示未知）。
func (l *Library) Preload(ctx context.Context, scope string, center, count int) {
	l.preloader.Preload(ctx, scope, center, l.behind, l.ahead, count,
		func(index int) bool {
			return l.IsCached(cache.Key{Scope: scope, Item: int64(index)})
		},
		func(ctx context.Context, index int) error {
			key := cache.Key{Scope: scope, Item: int64(index)}
			_, err := l.coalescer.Fetch(ctx, key, l.remote(key))
			return err
		},
	)
}

// ClearScope 删除某个作用域（例如一本书）的全部页面。
func (l *Library) ClearScope(scope string) error {
	return l.tiered.Clear(scope)
}

// ClearAll 清空整个 Library，同时取消进行中的预取。
func (l *Library) ClearAll() error {
	l.preloader.Cancel()
	return l.tiered.ClearAll()
}

// Cleanup 立即执行一次预算清理。
func (l *Library) Cleanup() (cache.CleanupReport, error) {
	return l.store.Cleanup()
}

// Stats 汇总当前大小、条目数与运行状态。
func (l *Library) Stats() (Stats, error) {
	state, err := l.store.Stats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Name:        l.cfg.Name,
		Upstream:    l.cfg.Upstream,
		AuthMode:    l.cfg.AuthMode(),
		SizeBytes:   state.TotalBytes,
		Count:       state.Count,
		LedgerValid: l.store.Ledger().Valid,
		HotEntries:  l.tiered.HotLen(),
		InFlight:    l.coalescer.InFlight(),
	}, nil
}

// Close 取消预取并等待后台任务退出。
func (l *Library) Close() {
	l.preloader.Cancel()
	l.preloader.Wait()
	l.store.Wait()
}

func (l *Library) remote(key cache.Key) fetch.FetchFunc {
	return func(ctx context.Context) ([]byte, error) {
		payload, err := l.source.Fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		return payload.Data, nil
	}
}
