package cache

import "sync"

// State 是 Ledger 的只读快照。Valid 为 false 时 TotalBytes/Count 不可信，
// 必须通过一次全量扫描重新计算。
type State struct {
	TotalBytes int64 `json:"total_bytes"`
	Count      int   `json:"count"`
	Valid      bool  `json:"valid"`
}

// Token 记录 Begin 时的结构性纪元，UpdateDelta 用它判断期间是否发生了
// 失效/重置/扫描安装。
type Token struct {
	epoch uint64
}

// Ledger 维护缓存总大小与条目数，避免每次写入都遍历目录。所有变更都在
// mu 内完成；Valid=true 时总量必须等于磁盘实际值，无法证明时宁可失效。
type Ledger struct {
	mu    sync.Mutex
	state State
	// epoch 在 Invalidate/Reset/Install 时递增，使并发中的增量作废。
	epoch uint64
	// seq 在任何变更时递增，用来判断扫描期间是否有人动过账本。
	seq uint64
}

// NewLedger 返回一个初始失效的账本，首次查询时触发扫描。
func NewLedger() *Ledger {
	return &Ledger{}
}

// Snapshot 返回当前状态。
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Begin 在计算增量之前调用，配合 UpdateDelta 使用。
func (l *Ledger) Begin() Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Token{epoch: l.epoch}
}

// UpdateDelta 仅在账本有效且纪元未变化时累加增量；纪元变化说明增量的
// 基准已不可信，此时直接失效。
func (l *Ledger) UpdateDelta(token Token, bytesDelta int64, countDelta int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	if !l.state.Valid {
		return
	}
	if token.epoch != l.epoch {
		l.invalidateLocked()
		return
	}
	l.state.TotalBytes += bytesDelta
	l.state.Count += countDelta
	if l.state.TotalBytes < 0 || l.state.Count < 0 {
		l.invalidateLocked()
	}
}

// Invalidate 强制账本失效，直到下一次 Recompute/Reset。
func (l *Ledger) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.invalidateLocked()
}

// Reset 直接安装一个已知正确的状态（例如整体清空之后的 0/0）。
func (l *Ledger) Reset(totalBytes int64, count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.epoch++
	l.state = State{TotalBytes: totalBytes, Count: count, Valid: true}
}

// Mark 返回当前变更序号，扫描开始前调用，扫描结束后交给 Install。
func (l *Ledger) Mark() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Install 安装一次扫描结果。只有扫描期间没有任何变更时才会安装；
// 否则保留账本自身的状态（有效的增量状态依旧有效，失效的保持失效）。
func (l *Ledger) Install(mark uint64, totalBytes int64, count int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seq != mark {
		return false
	}
	l.seq++
	l.epoch++
	l.state = State{TotalBytes: totalBytes, Count: count, Valid: true}
	return true
}

// Recompute 全量扫描 backend 并尝试安装结果，始终返回扫描得到的总量。
func (l *Ledger) Recompute(backend Backend) (State, error) {
	mark := l.Mark()
	entries, err := backend.List("")
	if err != nil {
		l.Invalidate()
		return State{}, err
	}
	total, count := sumEntries(entries)
	l.Install(mark, total, count)
	return State{TotalBytes: total, Count: count, Valid: true}, nil
}

func (l *Ledger) invalidateLocked() {
	l.epoch++
	l.state.Valid = false
}

func sumEntries(entries []Entry) (int64, int) {
	var total int64
	for _, entry := range entries {
		total += entry.SizeBytes
	}
	return total, len(entries)
}
