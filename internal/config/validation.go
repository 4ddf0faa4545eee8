package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

var libraryNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxCacheSizeMB < 0 {
		return newFieldError("Global.MaxCacheSizeMB", "不能为负数")
	}
	if g.MaxMemoryEntries < 0 {
		return newFieldError("Global.MaxMemoryEntries", "不能为负数")
	}
	if g.PreloadBehind < 0 || g.PreloadAhead < 0 {
		return newFieldError("Global.PreloadBehind/PreloadAhead", "不能为负数")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	if len(c.Libraries) == 0 {
		return errors.New("至少需要配置一个 Library")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Libraries {
		lib := &c.Libraries[i]
		if lib.Name == "" {
			return newFieldError("Library[].Name", "不能为空")
		}
		if !libraryNamePattern.MatchString(lib.Name) {
			return newFieldError(libraryField(lib.Name, "Name"), "仅允许小写字母、数字、- 与 _")
		}
		if lib.Name == "-" {
			return newFieldError(libraryField(lib.Name, "Name"), "保留名称")
		}
		if _, exists := seenNames[lib.Name]; exists {
			return newFieldError(libraryField(lib.Name, "Name"), "重复")
		}
		seenNames[lib.Name] = struct{}{}

		if (lib.Username == "") != (lib.Password == "") {
			return newFieldError(libraryField(lib.Name, "Username/Password"), "必须同时提供或同时留空")
		}
		if err := validateUpstream(lib.Upstream); err != nil {
			return fmt.Errorf("%s: %w", libraryField(lib.Name, "Upstream"), err)
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
