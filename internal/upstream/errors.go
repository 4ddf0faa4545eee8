package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrContentType 表示上游返回的 Content-Type 不在 Library 允许列表内。
var ErrContentType = errors.New("upstream: unexpected content type")

// RemoteError 描述上游的非 2xx 响应。
type RemoteError struct {
	StatusCode int
	URL        string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("upstream %s responded %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary 报告该响应是否值得重试：5xx 与 429。
func (e *RemoteError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// IsNotFound 判断错误链中是否为上游 404。
func IsNotFound(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.StatusCode == http.StatusNotFound
}
