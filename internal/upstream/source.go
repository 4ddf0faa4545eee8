package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pagecache/internal/cache"
	"github.com/any-hub/pagecache/internal/config"
	"github.com/any-hub/pagecache/internal/version"
)

// Payload 是一次成功回源得到的页面内容。
type Payload struct {
	Data        []byte
	ContentType string
}

// Source 从远端内容服务器拉取单个页面，负责鉴权、重试与 Content-Type 校验。
type Source struct {
	name         string
	base         *url.URL
	username     string
	password     string
	contentTypes []string
	client       *http.Client
	attempts     uint
	backoff      time.Duration
	logger       logrus.FieldLogger
}

// NewSource 根据 Library 配置与全局重试参数构造 Source。client 为 nil 时按 UpstreamTimeout 新建。
func NewSource(lib config.LibraryConfig, global config.GlobalConfig, client *http.Client, logger logrus.FieldLogger) (*Source, error) {
	base, err := url.Parse(strings.TrimRight(lib.Upstream, "/"))
	if err != nil {
		return nil, fmt.Errorf("解析上游地址失败: %w", err)
	}
	if client == nil {
		client = NewClient(global.UpstreamTimeout.DurationValue())
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	retries := global.MaxRetries
	if retries < 0 {
		retries = 0
	}
	backoff := global.InitialBackoff.DurationValue()
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Source{
		name:         lib.Name,
		base:         base,
		username:     lib.Username,
		password:     lib.Password,
		contentTypes: lib.ContentTypes,
		client:       client,
		attempts:     uint(retries) + 1,
		backoff:      backoff,
		logger:       logger,
	}, nil
}

// URL 返回 key 对应的上游地址：<Upstream>/<PathEscape(scope)>/<item>。
func (s *Source) URL(key cache.Key) string {
	return s.base.JoinPath(url.PathEscape(key.Scope), strconv.FormatInt(key.Item, 10)).String()
}

// Fetch 拉取页面。传输错误、5xx 与 429 会按指数退避重试，其余非 2xx 立即返回 *RemoteError。
func (s *Source) Fetch(ctx context.Context, key cache.Key) (Payload, error) {
	if err := key.Validate(); err != nil {
		return Payload{}, err
	}
	target := s.URL(key)

	var payload Payload
	err := retry.Do(
		func() error {
			p, err := s.fetchOnce(ctx, target)
			if err != nil {
				return err
			}
			payload = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.backoff),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			s.logger.WithFields(logrus.Fields{
				"action":  "upstream_retry",
				"library": s.name,
				"scope":   key.Scope,
				"item":    key.Item,
				"attempt": n + 1,
			}).WithError(err).Debug("retrying upstream fetch")
		}),
	)
	if err != nil {
		return Payload{}, err
	}
	return payload, nil
}

func (s *Source) fetchOnce(ctx context.Context, target string) (Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Payload{}, retry.Unrecoverable(err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Payload{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return Payload{}, &RemoteError{StatusCode: resp.StatusCode, URL: target}
	}

	contentType := resp.Header.Get("Content-Type")
	if !s.allowed(contentType) {
		return Payload{}, retry.Unrecoverable(fmt.Errorf("%w: %q from %s", ErrContentType, contentType, target))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Payload{}, fmt.Errorf("读取上游响应失败: %w", err)
	}
	return Payload{Data: data, ContentType: contentType}, nil
}

func (s *Source) allowed(contentType string) bool {
	if len(s.contentTypes) == 0 {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	for _, prefix := range s.contentTypes {
		if strings.HasPrefix(mediaType, prefix) {
			return true
		}
	}
	return false
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Temporary()
	}
	return true
}
