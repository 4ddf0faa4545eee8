package routes

import (
	"encoding/json"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pagecache/internal/cache"
	"github.com/any-hub/pagecache/internal/config"
	"github.com/any-hub/pagecache/internal/library"
)

type librariesPayload struct {
	MaxCacheSizeMB int64           `json:"max_cache_size_mb"`
	BudgetBytes    int64           `json:"budget_bytes"`
	Libraries      []library.Stats `json:"libraries"`
}

type cacheSizeRequest struct {
	MaxCacheSizeMB *int64 `json:"max_cache_size_mb"`
}

type cleanupPayload struct {
	Library string              `json:"library"`
	Report  cache.CleanupReport `json:"report"`
	Error   string              `json:"error,omitempty"`
}

// RegisterLibraryRoutes 暴露 /-/libraries 与 /-/settings/cache-size，
// 供阅读器设置页查询占用并调整预算。
func RegisterLibraryRoutes(app *fiber.App, registry *library.Registry, settings *config.Settings, logger logrus.FieldLogger) {
	if app == nil || registry == nil || settings == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/-/libraries", func(c fiber.Ctx) error {
		payload := librariesPayload{
			MaxCacheSizeMB: settings.MaxCacheSizeMB(),
			BudgetBytes:    settings.MaxCacheBytes(),
			Libraries:      []library.Stats{},
		}
		for _, lib := range registry.List() {
			stats, err := lib.Stats()
			if err != nil {
				logger.WithError(err).WithField("library", lib.Name()).Warn("library_stats_failed")
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_failed"})
			}
			payload.Libraries = append(payload.Libraries, stats)
		}
		return c.JSON(payload)
	})

	app.Put("/-/settings/cache-size", func(c fiber.Ctx) error {
		var req cacheSizeRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil || req.MaxCacheSizeMB == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
		if err := settings.SetMaxCacheSizeMB(*req.MaxCacheSizeMB); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		logger.WithFields(logrus.Fields{
			"action":            "settings_cache_size",
			"max_cache_size_mb": *req.MaxCacheSizeMB,
		}).Info("cache budget updated")

		// 缩小预算后立即清理，而不是等下一次写入触发。
		results := make([]cleanupPayload, 0)
		for _, lib := range registry.List() {
			report, err := lib.Cleanup()
			item := cleanupPayload{Library: lib.Name(), Report: report}
			if err != nil {
				item.Error = err.Error()
			}
			results = append(results, item)
		}
		return c.JSON(fiber.Map{
			"max_cache_size_mb": settings.MaxCacheSizeMB(),
			"cleanup":           results,
		})
	})
}
