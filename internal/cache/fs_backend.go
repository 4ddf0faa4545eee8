package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

const (
	tempFilePrefix = ".cache-"
	defaultDirPerm = 0o755
)

// FSOption 调整 FSBackend 的可选行为。
type FSOption func(*FSBackend)

// WithClock 替换写入/触碰时使用的时钟，测试中用来构造确定的访问时间。
func WithClock(now func() time.Time) FSOption {
	return func(b *FSBackend) {
		if now != nil {
			b.now = now
		}
	}
}

// WithTouchOnRead 控制读取时是否刷新 mtime（近似访问时间）。默认开启。
func WithTouchOnRead(enabled bool) FSOption {
	return func(b *FSBackend) {
		b.touchOnRead = enabled
	}
}

// FSBackend 基于 afero.Fs 实现 Backend，生产环境使用 OsFs，测试使用 MemMapFs。
type FSBackend struct {
	fs          afero.Fs
	root        string
	dirPerm     os.FileMode
	touchOnRead bool
	now         func() time.Time
}

var _ Backend = (*FSBackend)(nil)

// NewDiskBackend 以 basePath 为根目录构建真实磁盘后端。
func NewDiskBackend(basePath string, opts ...FSOption) (*FSBackend, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	return NewFSBackend(afero.NewOsFs(), abs, opts...)
}

// NewFSBackend 在任意 afero.Fs 上构建后端，并确保根目录存在。
func NewFSBackend(fsys afero.Fs, root string, opts ...FSOption) (*FSBackend, error) {
	if fsys == nil {
		return nil, errors.New("filesystem required")
	}
	if root == "" {
		return nil, errors.New("storage path required")
	}
	b := &FSBackend{
		fs:          fsys,
		root:        filepath.Clean(root),
		dirPerm:     defaultDirPerm,
		touchOnRead: true,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.fs.MkdirAll(b.root, b.dirPerm); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	return b, nil
}

func (b *FSBackend) Write(key Key, data []byte) error {
	filePath, err := b.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(filePath)
	if err := b.fs.MkdirAll(dir, b.dirPerm); err != nil {
		return err
	}

	tempFile, err := afero.TempFile(b.fs, dir, tempFilePrefix+"*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = b.fs.Remove(tempName)
		return err
	}

	if err := b.fs.Rename(tempName, filePath); err != nil {
		_ = b.fs.Remove(tempName)
		return err
	}

	// rename 之后正文已经可见，时间戳失败只影响淘汰顺序。
	modTime := b.now()
	_ = b.fs.Chtimes(filePath, modTime, modTime)
	return nil
}

func (b *FSBackend) Read(key Key) ([]byte, error) {
	filePath, err := b.path(key)
	if err != nil {
		return nil, err
	}

	info, err := b.fs.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := afero.ReadFile(b.fs, filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if b.touchOnRead {
		now := b.now()
		_ = b.fs.Chtimes(filePath, now, now)
	}
	return data, nil
}

func (b *FSBackend) Stat(key Key) (int64, bool, error) {
	filePath, err := b.path(key)
	if err != nil {
		return 0, false, err
	}
	info, err := b.fs.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if info.IsDir() {
		return 0, false, nil
	}
	return info.Size(), true, nil
}

// Touch 在关闭读取刷新时什么也不做，与 Read 的行为保持一致。
func (b *FSBackend) Touch(key Key) error {
	filePath, err := b.path(key)
	if err != nil {
		return err
	}
	if !b.touchOnRead {
		return nil
	}
	now := b.now()
	if err := b.fs.Chtimes(filePath, now, now); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (b *FSBackend) Exists(key Key) bool {
	_, ok, err := b.Stat(key)
	return err == nil && ok
}

func (b *FSBackend) Remove(key Key) error {
	filePath, err := b.path(key)
	if err != nil {
		return err
	}
	if err := b.fs.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (b *FSBackend) RemoveScope(scope string) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	return b.fs.RemoveAll(filepath.Join(b.root, scopeDir(scope)))
}

func (b *FSBackend) Reset() error {
	if err := b.fs.RemoveAll(b.root); err != nil {
		return err
	}
	return b.fs.MkdirAll(b.root, b.dirPerm)
}

func (b *FSBackend) List(scope string) ([]Entry, error) {
	walkRoot := b.root
	if scope != "" {
		if err := validateScope(scope); err != nil {
			return nil, err
		}
		walkRoot = filepath.Join(b.root, scopeDir(scope))
	}

	var entries []Entry
	err := afero.Walk(b.fs, walkRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			// 遍历期间被删除的文件/目录直接跳过。
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return nil
		}
		key, ok := parseRelPath(filepath.ToSlash(rel))
		if !ok {
			return nil
		}
		entries = append(entries, Entry{
			Key:        key,
			SizeBytes:  info.Size(),
			AccessTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (b *FSBackend) path(key Key) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	filePath := filepath.Join(b.root, filepath.FromSlash(key.relPath()))
	if !strings.HasPrefix(filePath, b.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return filePath, nil
}
