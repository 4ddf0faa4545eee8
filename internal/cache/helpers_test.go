package cache

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const testRoot = "/var/cache/pages"

// stepClock 每次调用前进一个固定步长，构造严格递增的访问时间。
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Minute}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// flakyFs 在 failWrites 打开时拒绝所有写方式的 OpenFile。
type flakyFs struct {
	afero.Fs
	failWrites atomic.Bool
}

var errDiskFull = errors.New("disk full")

func (f *flakyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.failWrites.Load() && flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE) != 0 {
		return nil, &os.PathError{Op: "open", Path: name, Err: errDiskFull}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func (f *flakyFs) Create(name string) (afero.File, error) {
	if f.failWrites.Load() {
		return nil, &os.PathError{Op: "create", Path: name, Err: errDiskFull}
	}
	return f.Fs.Create(name)
}

func newTestBackend(t *testing.T, opts ...FSOption) *FSBackend {
	t.Helper()
	backend, err := NewFSBackend(afero.NewMemMapFs(), testRoot, opts...)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	return backend
}

func newTestStore(t *testing.T, backend Backend, budget int64) *Store {
	t.Helper()
	var limit atomic.Int64
	limit.Store(budget)
	return newTestStoreWithBudget(t, backend, &limit)
}

func newTestStoreWithBudget(t *testing.T, backend Backend, limit *atomic.Int64) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store, err := NewStore(backend, StoreOptions{
		Name:   "pages",
		Budget: limit.Load,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(store.Wait)
	return store
}

func mustKey(t *testing.T, scope string, item int64) Key {
	t.Helper()
	key, err := NewKey(scope, item)
	if err != nil {
		t.Fatalf("key error: %v", err)
	}
	return key
}
