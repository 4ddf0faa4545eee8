package proxy

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pagecache/internal/cache"
	"github.com/any-hub/pagecache/internal/library"
	"github.com/any-hub/pagecache/internal/logging"
	"github.com/any-hub/pagecache/internal/server"
	"github.com/any-hub/pagecache/internal/upstream"
)

const headerCacheHit = "X-Page-Cache-Hit"

// Handler 负责“缓存命中 → 单飞回源 → 写缓存 → 预读”的页面请求流程，
// 对外暴露为 server.PageHandler。
type Handler struct {
	logger *logrus.Logger
}

var _ server.PageHandler = (*Handler)(nil)

// NewHandler constructs a page handler.
func NewHandler(logger *logrus.Logger) *Handler {
	return &Handler{logger: logger}
}

// Handle 根据方法与路径段数分派：
//
//	GET/HEAD /<lib>/<scope>/<item>
//	DELETE   /<lib>/<scope>
//	DELETE   /<lib>
func (h *Handler) Handle(c fiber.Ctx, lib *library.Library) error {
	segments := server.PathSegments(c)
	if len(segments) == 0 {
		return h.writeError(c, fiber.StatusNotFound, "not_found")
	}
	args := segments[1:]

	switch c.Method() {
	case http.MethodGet, http.MethodHead:
		if len(args) != 2 {
			return h.writeError(c, fiber.StatusNotFound, "not_found")
		}
		key, err := parseKey(args[0], args[1])
		if err != nil {
			return h.writeError(c, fiber.StatusBadRequest, "invalid_key")
		}
		if c.Method() == http.MethodHead {
			return h.checkCached(c, lib, key)
		}
		return h.servePage(c, lib, key)
	case http.MethodDelete:
		switch len(args) {
		case 0:
			return h.clearAll(c, lib)
		case 1:
			return h.clearScope(c, lib, args[0])
		default:
			return h.writeError(c, fiber.StatusNotFound, "not_found")
		}
	default:
		return h.writeError(c, fiber.StatusMethodNotAllowed, "method_not_allowed")
	}
}

func (h *Handler) servePage(c fiber.Ctx, lib *library.Library, key cache.Key) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	data, hit, err := lib.Get(ctx, key)
	if err != nil {
		h.logResult(lib, key, requestID, hit, started, err)
		switch {
		case errors.Is(err, cache.ErrInvalidKey):
			return h.writeError(c, fiber.StatusBadRequest, "invalid_key")
		case errors.Is(err, context.Canceled):
			return nil
		case upstream.IsNotFound(err):
			return h.writeError(c, fiber.StatusNotFound, "page_not_found")
		default:
			return h.writeUpstreamError(c, err)
		}
	}

	if c.Query("preload") == "1" {
		count, _ := strconv.Atoi(c.Query("count"))
		lib.Preload(context.Background(), key.Scope, int(key.Item), count)
	}

	c.Set(fiber.HeaderContentType, http.DetectContentType(data))
	c.Set(headerCacheHit, strconv.FormatBool(hit))
	h.logResult(lib, key, requestID, hit, started, nil)
	return c.Status(fiber.StatusOK).Send(data)
}

func (h *Handler) checkCached(c fiber.Ctx, lib *library.Library, key cache.Key) error {
	if lib.IsCached(key) {
		c.Set(headerCacheHit, "true")
		return c.SendStatus(fiber.StatusOK)
	}
	c.Set(headerCacheHit, "false")
	return c.SendStatus(fiber.StatusNotFound)
}

func (h *Handler) clearScope(c fiber.Ctx, lib *library.Library, scope string) error {
	if err := lib.ClearScope(scope); err != nil {
		if errors.Is(err, cache.ErrInvalidKey) {
			return h.writeError(c, fiber.StatusBadRequest, "invalid_key")
		}
		h.logger.WithError(err).WithFields(logging.CacheFields("clear_scope", lib.Name(), scope)).Error("clear_failed")
		return h.writeError(c, fiber.StatusInternalServerError, "clear_failed")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) clearAll(c fiber.Ctx, lib *library.Library) error {
	if err := lib.ClearAll(); err != nil {
		h.logger.WithError(err).WithFields(logging.CacheFields("clear_all", lib.Name(), "")).Error("clear_failed")
		return h.writeError(c, fiber.StatusInternalServerError, "clear_failed")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) writeUpstreamError(c fiber.Ctx, err error) error {
	payload := fiber.Map{"error": "upstream_failed"}
	var remote *upstream.RemoteError
	if errors.As(err, &remote) {
		payload["upstream_status"] = remote.StatusCode
	}
	return c.Status(fiber.StatusBadGateway).JSON(payload)
}

func (h *Handler) logResult(
	lib *library.Library,
	key cache.Key,
	requestID string,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(lib.Name(), key.Scope, key.Item, cacheHit)
	fields["action"] = "page"
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("page_failed")
		return
	}
	h.logger.WithFields(fields).Info("page_complete")
}

func parseKey(scope, rawItem string) (cache.Key, error) {
	item, err := strconv.ParseInt(rawItem, 10, 64)
	if err != nil {
		return cache.Key{}, cache.ErrInvalidKey
	}
	return cache.NewKey(scope, item)
}
