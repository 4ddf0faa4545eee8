package server

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pagecache/internal/library"
)

// PageHandler 处理已解析出 Library 的请求，测试中可注入假实现。
type PageHandler interface {
	Handle(fiber.Ctx, *library.Library) error
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *library.Registry
	Handler    PageHandler
	ListenPort int
}

const (
	contextKeyLibrary   = "_pagecache_library"
	contextKeyRequestID = "_pagecache_request_id"
	contextKeySegments  = "_pagecache_segments"
)

// NewApp builds a Fiber application with library routing middleware and
// structured error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("library registry is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("page handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		lib, _ := getLibraryFromContext(c)
		if lib == nil {
			return renderLibraryMissing(c, opts.Logger, "")
		}
		return opts.Handler.Handle(c, lib)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并根据路径第一段查找 Library。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}

		segments, err := splitPath(string(c.Request().URI().PathOriginal()))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_path"})
		}
		if len(segments) == 0 {
			return renderLibraryMissing(c, opts.Logger, "")
		}
		lib, ok := opts.Registry.Lookup(segments[0])
		if !ok {
			return renderLibraryMissing(c, opts.Logger, segments[0])
		}

		c.Locals(contextKeySegments, segments)
		c.Locals(contextKeyLibrary, lib)
		return c.Next()
	}
}

func renderLibraryMissing(c fiber.Ctx, logger *logrus.Logger, name string) error {
	logger.WithFields(logrus.Fields{
		"action":  "library_lookup",
		"library": name,
	}).Warn("library not found")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "library_not_found",
	})
}

// splitPath 拆分原始路径并逐段解码，保证 Scope 中的 %2F 不会被当作分隔符。
func splitPath(raw string) ([]string, error) {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, "/")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		decoded, err := url.PathUnescape(part)
		if err != nil {
			return nil, err
		}
		segments = append(segments, decoded)
	}
	return segments, nil
}

func getLibraryFromContext(c fiber.Ctx) (*library.Library, bool) {
	if value := c.Locals(contextKeyLibrary); value != nil {
		if lib, ok := value.(*library.Library); ok {
			return lib, true
		}
	}
	return nil, false
}

// PathSegments 返回中间件解码后的路径段，第一段为 Library 名称。
func PathSegments(c fiber.Ctx) []string {
	if value := c.Locals(contextKeySegments); value != nil {
		if segments, ok := value.([]string); ok {
			return segments
		}
	}
	return nil
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
