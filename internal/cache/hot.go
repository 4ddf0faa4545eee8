package cache

import (
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
)

// HotTier 在内存中保留最近访问的页面，翻页回看时无需再读磁盘。
type HotTier struct {
	entries *lru.Cache[Key, []byte]
}

// NewHotTier 创建容量为 size 个条目的内存层。
func NewHotTier(size int) (*HotTier, error) {
	if size <= 0 {
		return nil, errors.New("hot tier size must be positive")
	}
	entries, err := lru.New[Key, []byte](size)
	if err != nil {
		return nil, err
	}
	return &HotTier{entries: entries}, nil
}

func (h *HotTier) Get(key Key) ([]byte, bool) {
	return h.entries.Get(key)
}

func (h *HotTier) Contains(key Key) bool {
	return h.entries.Contains(key)
}

func (h *HotTier) Add(key Key, data []byte) {
	h.entries.Add(key, data)
}

func (h *HotTier) Remove(key Key) {
	h.entries.Remove(key)
}

// PurgeScope 移除某个 Scope 下的所有内存条目。
func (h *HotTier) PurgeScope(scope string) {
	for _, key := range h.entries.Keys() {
		if key.Scope == scope {
			h.entries.Remove(key)
		}
	}
}

func (h *HotTier) Purge() {
	h.entries.Purge()
}

func (h *HotTier) Len() int {
	return h.entries.Len()
}

// Tiered 将 HotTier 叠加在 Store 之前，对外暴露与 Store 相同的读写入口。
// 内存层只在磁盘写入成功后填充，保证两层内容一致。
type Tiered struct {
	hot   *HotTier
	store *Store
}

// NewTiered 组合内存层与磁盘层；hot 为 nil 时退化为直接访问 Store。
func NewTiered(hot *HotTier, store *Store) *Tiered {
	return &Tiered{hot: hot, store: store}
}

// Has 以磁盘为准，内存层可能残留已被淘汰的条目。
func (t *Tiered) Has(key Key) bool {
	return t.store.Has(key)
}

// Read 优先命中内存层，命中时同步刷新磁盘访问时间。磁盘条目已被淘汰时
// 丢弃内存副本，两层以磁盘为准。
func (t *Tiered) Read(key Key) ([]byte, error) {
	if t.hot != nil {
		if data, ok := t.hot.Get(key); ok {
			if err := t.store.Touch(key); !errors.Is(err, ErrNotFound) {
				return data, nil
			}
			t.hot.Remove(key)
		}
	}
	data, err := t.store.Read(key)
	if err != nil {
		return nil, err
	}
	if t.hot != nil {
		t.hot.Add(key, data)
	}
	return data, nil
}

// Lookup 以三态结果返回 Read 的结果。
func (t *Tiered) Lookup(key Key) Lookup {
	return lookupResult(t.Read(key))
}

func (t *Tiered) Put(key Key, data []byte) error {
	if err := t.store.Put(key, data); err != nil {
		return err
	}
	if t.hot != nil {
		t.hot.Add(key, data)
	}
	return nil
}

// Clear 先删磁盘再清内存，两步之间的 Read 不会把旧正文装回内存层。
func (t *Tiered) Clear(scope string) error {
	err := t.store.Clear(scope)
	if t.hot != nil {
		t.hot.PurgeScope(scope)
	}
	return err
}

func (t *Tiered) ClearAll() error {
	err := t.store.ClearAll()
	if t.hot != nil {
		t.hot.Purge()
	}
	return err
}

// Store 返回底层磁盘层。
func (t *Tiered) Store() *Store {
	return t.store
}

// HotLen 返回内存层条目数，未启用时为 0。
func (t *Tiered) HotLen() int {
	if t.hot == nil {
		return 0
	}
	return t.hot.Len()
}
