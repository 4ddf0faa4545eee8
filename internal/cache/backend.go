package cache

import (
	"errors"
	"time"
)

// Backend 负责磁盘布局与原子读写，不包含任何容量/淘汰逻辑。磁盘布局遵循：
//
//	<root>/<escaped scope>/<item>    # 页面正文
//
// 没有额外索引文件，目录遍历即索引。
type Backend interface {
	// Write 原子写入正文：实现需通过临时文件 + rename 保证读者不会看到半写入的数据。
	Write(key Key, data []byte) error

	// Read 返回正文；不存在时返回 ErrNotFound。
	Read(key Key) ([]byte, error)

	// Stat 返回正文大小以及是否存在。
	Stat(key Key) (size int64, ok bool, err error)

	// Touch 刷新访问时间；条目不存在时返回 ErrNotFound。
	Touch(key Key) error

	// Exists 仅做一次 stat，不读取正文。
	Exists(key Key) bool

	// Remove 删除单个条目，条目不存在不视为错误。
	Remove(key Key) error

	// RemoveScope 删除整个 Scope，Scope 不存在不视为错误。
	RemoveScope(scope string) error

	// Reset 删除整个根目录并重新创建空目录。
	Reset() error

	// List 递归枚举条目；scope 为空时枚举全部。与写入并发调用是安全的，
	// 结果只需最终一致。
	List(scope string) ([]Entry, error)
}

// Entry 描述一个磁盘条目：大小与最近访问时间（由 mtime 近似）。
type Entry struct {
	Key        Key       `json:"key"`
	SizeBytes  int64     `json:"size_bytes"`
	AccessTime time.Time `json:"access_time"`
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
