package fetch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/pagecache/internal/cache"
)

// Cache 是 Coalescer 依赖的最小缓存接口，cache.Store 与 cache.Tiered 均满足。
type Cache interface {
	Lookup(key cache.Key) cache.Lookup
	Put(key cache.Key, data []byte) error
}

// FetchFunc 执行一次远端下载。ctx 是共享的下载上下文，与任何单个调用方解耦。
type FetchFunc func(ctx context.Context) ([]byte, error)

// Coalescer 合并同一 Key 的并发远端下载。
type Coalescer struct {
	cache  Cache
	logger logrus.FieldLogger

	mu      sync.Mutex
	flights map[cache.Key]*flight
}

// flight 是一次进行中的下载：done 关闭后 data/err 对所有等待者可见。
type flight struct {
	done   chan struct{}
	data   []byte
	err    error
	refs   int
	cancel context.CancelFunc
}

// NewCoalescer 构造合并器；logger 为 nil 时使用 logrus 标准实例。
func NewCoalescer(c Cache, logger logrus.FieldLogger) *Coalescer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coalescer{
		cache:   c,
		logger:  logger,
		flights: make(map[cache.Key]*flight),
	}
}

// Fetch 先查缓存，未命中时加入或发起一次远端下载。
func (c *Coalescer) Fetch(ctx context.Context, key cache.Key, fn FetchFunc) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if data, ok := c.cached(key); ok {
		return data, nil
	}

	f := c.join(ctx, key, fn)
	select {
	case <-f.done:
		return f.data, f.err
	case <-ctx.Done():
		c.leave(key, f)
		return nil, ctx.Err()
	}
}

// InFlight 返回当前进行中的下载数量，用于诊断。
func (c *Coalescer) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flights)
}

func (c *Coalescer) join(ctx context.Context, key cache.Key, fn FetchFunc) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.flights[key]; ok {
		f.refs++
		return f
	}

	// 共享上下文保留发起者的 value，但不继承其取消信号。
	sharedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{
		done:   make(chan struct{}),
		refs:   1,
		cancel: cancel,
	}
	c.flights[key] = f
	go c.run(sharedCtx, key, f, fn)
	return f
}

// leave 在调用方放弃等待时递减引用；最后一个等待者离开时中止共享下载，
// 并立即释放 Key，后续调用会发起新的下载而不是加入已中止的那一次。
func (c *Coalescer) leave(key cache.Key, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.refs--
	if f.refs > 0 {
		return
	}
	if c.flights[key] == f {
		delete(c.flights, key)
	}
	f.cancel()
}

// cached 查询缓存；读取失败只记录日志并按未命中处理，由远端下载兜底。
func (c *Coalescer) cached(key cache.Key) ([]byte, bool) {
	lookup := c.cache.Lookup(key)
	if lookup.State == cache.LookupError {
		c.logger.WithError(lookup.Err).WithField("key", key.String()).Warn("cache_read_failed")
	}
	return lookup.Data, lookup.Hit()
}

func (c *Coalescer) run(ctx context.Context, key cache.Key, f *flight, fn FetchFunc) {
	defer f.cancel()

	// 调用方查缓存与登记 flight 之间，上一次下载可能刚好完成并写入缓存。
	if data, ok := c.cached(key); ok {
		c.settle(key, f, data, nil)
		return
	}

	data, err := fn(ctx)
	if err == nil {
		if putErr := c.cache.Put(key, data); putErr != nil {
			// 缓存只是优化，写入失败不影响本次结果。
			c.logger.WithError(putErr).WithFields(logrus.Fields{
				"action": "cache_store",
				"key":    key.String(),
			}).Warn("cache_store_failed")
		}
	}

	c.settle(key, f, data, err)
}

// settle 先移除登记再广播结果，避免完成后到达的调用方误以为下载仍在进行。
func (c *Coalescer) settle(key cache.Key, f *flight, data []byte, err error) {
	c.mu.Lock()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
	f.data, f.err = data, err
	close(f.done)
	c.mu.Unlock()
}
