package fetch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Window 计算 [center-behind, center+ahead] 并裁剪到 [0, count-1]；
// count <= 0 表示总页数未知，只裁剪下界。center 排在最前，其后是向前
// 预读的页，最后是向后的页。
func Window(center, behind, ahead, count int) []int {
	if behind < 0 {
		behind = 0
	}
	if ahead < 0 {
		ahead = 0
	}
	lo := max(center-behind, 0)
	hi := center + ahead
	if count > 0 && hi > count-1 {
		hi = count - 1
	}

	indices := make([]int, 0, behind+ahead+1)
	for i := max(center, lo); i <= hi; i++ {
		indices = append(indices, i)
	}
	for i := min(center-1, hi); i >= lo; i-- {
		indices = append(indices, i)
	}
	return indices
}

// Preloader 在用户翻页前预取相邻页面。切换到新的 Scope（换书）时，
// 上一本书尚未完成的预取会被取消。
type Preloader struct {
	parallelism int
	logger      logrus.FieldLogger

	mu     sync.Mutex
	scope  string
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPreloader 构造预取器；parallelism <= 0 表示窗口内不限并发。
func NewPreloader(parallelism int, logger logrus.FieldLogger) *Preloader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Preloader{parallelism: parallelism, logger: logger}
}

// Preload 过滤已缓存的页并并发预取其余页，立即返回。单页失败只记录日志。
func (p *Preloader) Preload(
	ctx context.Context,
	scope string,
	center, behind, ahead, count int,
	isCached func(index int) bool,
	fetch func(ctx context.Context, index int) error,
) {
	var pending []int
	for _, index := range Window(center, behind, ahead, count) {
		if isCached != nil && isCached(index) {
			continue
		}
		pending = append(pending, index)
	}
	if len(pending) == 0 {
		return
	}

	runCtx := p.scopeContext(ctx, scope)
	limit := p.parallelism
	if limit <= 0 {
		limit = -1
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		var group errgroup.Group
		group.SetLimit(limit)
		for _, index := range pending {
			group.Go(func() error {
				if runCtx.Err() != nil {
					return nil
				}
				if err := fetch(runCtx, index); err != nil {
					p.logger.WithError(err).WithFields(logrus.Fields{
						"action": "preload",
						"scope":  scope,
						"item":   index,
					}).Debug("preload_failed")
				}
				return nil
			})
		}
		_ = group.Wait()
	}()
}

// Cancel 取消当前 Scope 所有未完成的预取。
func (p *Preloader) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.scope = ""
	p.runCtx = nil
}

// Wait 阻塞直到所有已发起的预取结束。
func (p *Preloader) Wait() {
	p.wg.Wait()
}

func (p *Preloader) scopeContext(ctx context.Context, scope string) context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil && p.scope != scope {
		p.cancel()
		p.cancel = nil
	}
	if p.cancel == nil {
		// 预取与触发它的请求解耦，请求结束不应打断预取。
		p.runCtx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
		p.scope = scope
	}
	return p.runCtx
}
