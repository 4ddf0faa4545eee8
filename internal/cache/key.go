package cache

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// ErrInvalidKey 表示 Key 无法映射为合法的磁盘路径。
var ErrInvalidKey = errors.New("invalid cache key")

// Key 唯一定位一个缓存页：Scope 通常是文档/书籍 ID，Item 是页序号。
// 同一 Scope 下的条目可以被整体清除。
type Key struct {
	Scope string
	Item  int64
}

// NewKey 构造并校验 Key。
func NewKey(scope string, item int64) (Key, error) {
	key := Key{Scope: scope, Item: item}
	if err := key.Validate(); err != nil {
		return Key{}, err
	}
	return key, nil
}

// Validate 拒绝空 Scope、路径穿越以及负数页号。
func (k Key) Validate() error {
	if err := validateScope(k.Scope); err != nil {
		return err
	}
	if k.Item < 0 {
		return fmt.Errorf("%w: negative item %d", ErrInvalidKey, k.Item)
	}
	return nil
}

func (k Key) String() string {
	return k.Scope + "/" + strconv.FormatInt(k.Item, 10)
}

// Less 给出 Key 的全序，用于淘汰时打破时间戳并列。
func (k Key) Less(other Key) bool {
	if k.Scope != other.Scope {
		return k.Scope < other.Scope
	}
	return k.Item < other.Item
}

// relPath 返回 slash 风格的相对路径 <escaped scope>/<item>。
func (k Key) relPath() string {
	return path.Join(scopeDir(k.Scope), strconv.FormatInt(k.Item, 10))
}

func validateScope(scope string) error {
	if strings.TrimSpace(scope) == "" {
		return fmt.Errorf("%w: scope required", ErrInvalidKey)
	}
	if scope == "." || scope == ".." {
		return fmt.Errorf("%w: scope %q", ErrInvalidKey, scope)
	}
	return nil
}

// scopeDir 将任意 Scope 编码为单层目录名，"/" 等字符会被转义。
func scopeDir(scope string) string {
	return url.PathEscape(scope)
}

// parseRelPath 是 relPath 的逆操作，无法解析的文件名视为非托管文件。
func parseRelPath(rel string) (Key, bool) {
	dir, file := path.Split(rel)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" || strings.Contains(dir, "/") {
		return Key{}, false
	}
	scope, err := url.PathUnescape(dir)
	if err != nil {
		return Key{}, false
	}
	item, err := strconv.ParseInt(file, 10, 64)
	if err != nil || item < 0 || strconv.FormatInt(item, 10) != file {
		return Key{}, false
	}
	key := Key{Scope: scope, Item: item}
	if key.Validate() != nil {
		return Key{}, false
	}
	return key, true
}
