package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/any-hub/pagecache/internal/cache"
	"github.com/any-hub/pagecache/internal/config"
	"github.com/any-hub/pagecache/internal/library"
	"github.com/any-hub/pagecache/internal/upstream"
)

type fixedSource struct{}

func (fixedSource) Fetch(ctx context.Context, key cache.Key) (upstream.Payload, error) {
	return upstream.Payload{Data: bytes.Repeat([]byte{0x42}, 1024)}, nil
}

func newTestRoutes(t *testing.T) (*fiber.App, *library.Registry, *config.Settings) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		Global: config.GlobalConfig{StoragePath: "/var/cache/pagecache", MaxCacheSizeMB: 10},
		Libraries: []config.LibraryConfig{
			{Name: "pages", Upstream: "https://books.example.com/pages"},
			{Name: "downloads", Upstream: "https://books.example.com/download", Username: "u", Password: "p"},
		},
	}
	settings := config.NewSettings(cfg.Global)
	registry, err := library.NewRegistry(cfg, library.Deps{
		Budget: settings.MaxCacheBytes,
		Logger: logger,
		Fs:     afero.NewMemMapFs(),
		Source: fixedSource{},
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	t.Cleanup(registry.Close)

	app := fiber.New()
	RegisterLibraryRoutes(app, registry, settings, logger)
	return app, registry, settings
}

func TestLibrariesReportsUsage(t *testing.T) {
	app, registry, _ := newTestRoutes(t)
	pages, _ := registry.Lookup("pages")
	for i := int64(0); i < 3; i++ {
		if _, _, err := pages.Get(context.Background(), cache.Key{Scope: "book-1", Item: i}); err != nil {
			t.Fatalf("get failed: %v", err)
		}
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/-/libraries", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload librariesPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if payload.MaxCacheSizeMB != 10 || payload.BudgetBytes != 10*1024*1024 {
		t.Fatalf("unexpected budget: %+v", payload)
	}
	if len(payload.Libraries) != 2 {
		t.Fatalf("expected 2 libraries, got %d", len(payload.Libraries))
	}
	if payload.Libraries[0].Name != "pages" || payload.Libraries[0].Count != 3 || payload.Libraries[0].SizeBytes != 3*1024 {
		t.Fatalf("unexpected pages stats: %+v", payload.Libraries[0])
	}
	if payload.Libraries[1].AuthMode != "credentialed" {
		t.Fatalf("downloads should be credentialed: %+v", payload.Libraries[1])
	}
}

func TestSettingsCacheSizeShrinksBudgetAndCleans(t *testing.T) {
	app, registry, settings := newTestRoutes(t)
	pages, _ := registry.Lookup("pages")
	for i := int64(0); i < 4; i++ {
		if _, _, err := pages.Get(context.Background(), cache.Key{Scope: "book-1", Item: i}); err != nil {
			t.Fatalf("get failed: %v", err)
		}
	}

	req := httptest.NewRequest("PUT", "/-/settings/cache-size", bytes.NewBufferString(`{"max_cache_size_mb":0}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if settings.MaxCacheSizeMB() != 0 {
		t.Fatalf("budget should be updated")
	}

	stats, err := pages.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Count != 0 {
		t.Fatalf("expected cleanup to evict every page, %d left", stats.Count)
	}
}

func TestSettingsCacheSizeRejectsBadInput(t *testing.T) {
	app, _, settings := newTestRoutes(t)

	for _, body := range []string{`{}`, `not json`, `{"max_cache_size_mb":-5}`} {
		req := httptest.NewRequest("PUT", "/-/settings/cache-size", bytes.NewBufferString(body))
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, resp.StatusCode)
		}
	}
	if settings.MaxCacheSizeMB() != 10 {
		t.Fatalf("rejected updates must not change the budget")
	}
}
