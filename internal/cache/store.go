package cache

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// CleanupThreshold 是触发主动清理的预算占比：写入使总量超过预算的 90% 时
// 就在后台开始淘汰，把突发写入摊平，而不是每次超限都同步淘汰。
const CleanupThreshold = 0.9

const cleanupFlightKey = "cleanup"

// BudgetFunc 返回当前字节预算，每次触发清理时重新读取，设置修改无需重启。
type BudgetFunc func() int64

// StoreOptions 汇总 Store 的依赖。
type StoreOptions struct {
	// Name 仅用于日志字段，通常是 library 名称。
	Name   string
	Budget BudgetFunc
	Logger logrus.FieldLogger
}

// Store 是缓存对外的入口：编排 Backend、Ledger 与淘汰策略，并负责主动清理。
type Store struct {
	name    string
	backend Backend
	ledger  *Ledger
	budget  BudgetFunc
	logger  logrus.FieldLogger

	cleanups singleflight.Group
	pending  sync.WaitGroup
	// rerun 在有人请求清理时置位；正在运行的清理结束前若发现它被重新置位，
	// 说明扫描之后又有写入，需要再扫一轮。
	rerun atomic.Bool

	mu    sync.Mutex
	locks map[Key]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// CleanupReport 描述一次清理的结果。
type CleanupReport struct {
	ScannedEntries int   `json:"scanned_entries"`
	ScannedBytes   int64 `json:"scanned_bytes"`
	BudgetBytes    int64 `json:"budget_bytes"`
	Evicted        int   `json:"evicted"`
	FreedBytes     int64 `json:"freed_bytes"`
}

// NewStore 基于 backend 构建 Store，每个逻辑缓存（页面、整本下载）各持有一份。
func NewStore(backend Backend, opts StoreOptions) (*Store, error) {
	if backend == nil {
		return nil, errors.New("cache backend required")
	}
	if opts.Budget == nil {
		return nil, errors.New("cache budget required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{
		name:    opts.Name,
		backend: backend,
		ledger:  NewLedger(),
		budget:  opts.Budget,
		logger:  logger,
		locks:   make(map[Key]*entryLock),
	}, nil
}

// Has 只做一次 stat，不涉及账本。
func (s *Store) Has(key Key) bool {
	return s.backend.Exists(key)
}

// Read 直接透传到 Backend；读取不改变大小，因此不触碰账本。
func (s *Store) Read(key Key) ([]byte, error) {
	return s.backend.Read(key)
}

// Touch 刷新条目的访问时间，不读取正文。
func (s *Store) Touch(key Key) error {
	return s.backend.Touch(key)
}

// Lookup 以三态结果返回读取情况，区分未命中与读取失败。
func (s *Store) Lookup(key Key) Lookup {
	return lookupResult(s.backend.Read(key))
}

// Put 写入正文并以增量方式更新账本。写入失败时账本不变，磁盘上原有条目
// 仍然有效；成功后视账本情况在后台触发清理，调用方不会被阻塞。
func (s *Store) Put(key Key, data []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}

	unlock := s.lockEntry(key)
	token := s.ledger.Begin()
	oldSize, existed, err := s.backend.Stat(key)
	if err != nil {
		unlock()
		return err
	}
	if err := s.backend.Write(key, data); err != nil {
		unlock()
		return err
	}
	countDelta := 1
	if existed {
		countDelta = 0
	}
	s.ledger.UpdateDelta(token, int64(len(data))-oldSize, countDelta)
	unlock()

	s.maybeCleanup()
	return nil
}

// Clear 删除整个 Scope。删除数量未知，直接让账本失效比计算精确增量更可靠。
func (s *Store) Clear(scope string) error {
	err := s.backend.RemoveScope(scope)
	s.ledger.Invalidate()
	if err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"action":  "cache_clear",
		"library": s.name,
		"scope":   scope,
	}).Info("cache scope cleared")
	return nil
}

// ClearAll 重建根目录，清空后的状态是已知的，无需扫描。
func (s *Store) ClearAll() error {
	if err := s.backend.Reset(); err != nil {
		s.ledger.Invalidate()
		return err
	}
	s.ledger.Reset(0, 0)
	s.logger.WithFields(logrus.Fields{
		"action":  "cache_clear_all",
		"library": s.name,
	}).Info("cache cleared")
	return nil
}

// Stats 返回账本中的总量；账本失效时同步扫描一次。这是设置页/诊断调用，
// 不在热路径上。
func (s *Store) Stats() (State, error) {
	state := s.ledger.Snapshot()
	if state.Valid {
		return state, nil
	}
	return s.ledger.Recompute(s.backend)
}

// SizeBytes 返回缓存总字节数。
func (s *Store) SizeBytes() (int64, error) {
	state, err := s.Stats()
	return state.TotalBytes, err
}

// Count 返回缓存条目数。
func (s *Store) Count() (int, error) {
	state, err := s.Stats()
	return state.Count, err
}

// ScopeCount 扫描单个 Scope 并返回条目数。
func (s *Store) ScopeCount(scope string) (int, error) {
	entries, err := s.backend.List(scope)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Ledger 暴露账本快照，供诊断接口输出 valid 状态。
func (s *Store) Ledger() State {
	return s.ledger.Snapshot()
}

// Cleanup 同步执行（或加入正在进行的）一次清理。加入时若正在运行的那一轮
// 已经扫描过，会再补一轮，保证返回时覆盖了调用前的所有写入。
func (s *Store) Cleanup() (CleanupReport, error) {
	return s.requestCleanup()
}

// Wait 阻塞直到所有后台清理结束，用于关闭流程与测试。
func (s *Store) Wait() {
	s.pending.Wait()
}

func (s *Store) maybeCleanup() {
	state := s.ledger.Snapshot()
	if state.Valid && float64(state.TotalBytes) <= CleanupThreshold*float64(s.budget()) {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		_, _ = s.requestCleanup()
	}()
}

// requestCleanup 置位 rerun 后加入（或发起）清理。flight 结束时 rerun 仍为
// true 说明请求落在最后一轮检查之后，需要重新发起。
func (s *Store) requestCleanup() (CleanupReport, error) {
	s.rerun.Store(true)
	for {
		result, err, _ := s.cleanups.Do(cleanupFlightKey, s.cleanupPasses)
		if err != nil || !s.rerun.Load() {
			report, _ := result.(CleanupReport)
			return report, err
		}
	}
}

// cleanupPasses 反复清理直到某一轮期间没有新的请求。
func (s *Store) cleanupPasses() (any, error) {
	var total CleanupReport
	for {
		s.rerun.Store(false)
		result, err := s.runCleanup()
		report, _ := result.(CleanupReport)
		report.Evicted += total.Evicted
		report.FreedBytes += total.FreedBytes
		total = report
		if err != nil || !s.rerun.Load() {
			return total, err
		}
	}
}

func (s *Store) runCleanup() (any, error) {
	budget := s.budget()
	fields := logrus.Fields{
		"action":  "cache_cleanup",
		"library": s.name,
		"budget":  budget,
	}

	mark := s.ledger.Mark()
	entries, err := s.backend.List("")
	if err != nil {
		s.ledger.Invalidate()
		s.logger.WithError(err).WithFields(fields).Warn("cache_cleanup_scan_failed")
		return CleanupReport{BudgetBytes: budget}, err
	}

	total, count := sumEntries(entries)
	report := CleanupReport{
		ScannedEntries: count,
		ScannedBytes:   total,
		BudgetBytes:    budget,
	}
	if total <= budget {
		// 扫描已经付出了代价，顺便刷新账本。
		s.ledger.Install(mark, total, count)
		return report, nil
	}

	sizes := make(map[Key]int64, len(entries))
	for _, entry := range entries {
		sizes[entry.Key] = entry.SizeBytes
	}
	for _, victim := range SelectVictims(entries, budget, total) {
		if err := s.backend.Remove(victim); err != nil {
			s.logger.WithError(err).WithFields(fields).WithField("key", victim.String()).
				Warn("cache_evict_failed")
			continue
		}
		report.Evicted++
		report.FreedBytes += sizes[victim]
	}
	// 哪些条目真正被删掉并不确定，精确统计留给下一次查询时的扫描。
	s.ledger.Invalidate()

	fields["evicted"] = report.Evicted
	fields["freed_bytes"] = report.FreedBytes
	fields["scanned_bytes"] = total
	s.logger.WithFields(fields).Info("cache_cleanup_done")
	return report, nil
}

func (s *Store) lockEntry(key Key) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
