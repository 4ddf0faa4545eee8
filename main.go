package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pagecache/internal/config"
	"github.com/any-hub/pagecache/internal/library"
	"github.com/any-hub/pagecache/internal/logging"
	"github.com/any-hub/pagecache/internal/proxy"
	"github.com/any-hub/pagecache/internal/server"
	"github.com/any-hub/pagecache/internal/server/routes"
	"github.com/any-hub/pagecache/internal/upstream"
	"github.com/any-hub/pagecache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["libraries"] = len(cfg.Libraries)
		fields["credentials"] = config.CredentialModes(cfg.Libraries)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 运行时参数 → Library（磁盘缓存 + 回源）→ Fiber server。
	settings := config.NewSettings(cfg.Global)
	registry, err := buildRegistry(cfg, settings, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}
	defer registry.Close()

	if err := watchConfig(opts.configPath, settings, logger); err != nil {
		logger.WithError(err).WithFields(logging.BaseFields("config_watch", opts.configPath)).
			Warn("配置热更新不可用")
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["libraries"] = len(cfg.Libraries)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["max_cache_size_mb"] = cfg.Global.MaxCacheSizeMB
	fields["credentials"] = config.CredentialModes(cfg.Libraries)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	for _, lib := range registry.List() {
		libCfg := lib.Config()
		logger.WithFields(logging.LibraryFields(lib.Name(), libCfg.Upstream, libCfg.AuthMode())).Info("library ready")
	}

	if err := startHTTPServer(cfg, registry, settings, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("pagecache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 PAGECACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("PAGECACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func buildRegistry(cfg *config.Config, settings *config.Settings, logger *logrus.Logger) (*library.Registry, error) {
	return library.NewRegistry(cfg, library.Deps{
		Budget: settings.MaxCacheBytes,
		Client: upstream.NewClient(cfg.Global.UpstreamTimeout.DurationValue()),
		Logger: logger,
	})
}

// watchConfig 在配置文件变更时同步预算；其它字段需要重启才生效。
func watchConfig(path string, settings *config.Settings, logger *logrus.Logger) error {
	return config.Watch(path,
		func(cfg *config.Config) {
			previous := settings.MaxCacheSizeMB()
			settings.Apply(cfg)
			fields := logging.BaseFields("config_reload", path)
			fields["max_cache_size_mb"] = cfg.Global.MaxCacheSizeMB
			fields["previous_mb"] = previous
			logger.WithFields(fields).Info("配置已重新加载")
		},
		func(err error) {
			logger.WithError(err).WithFields(logging.BaseFields("config_reload", path)).
				Warn("配置重新加载失败，继续使用旧配置")
		},
	)
}

// buildApp 组装 Fiber 应用：页面路由 + /-/ 诊断接口。
func buildApp(cfg *config.Config, registry *library.Registry, settings *config.Settings, logger *logrus.Logger) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Handler:    proxy.NewHandler(logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterLibraryRoutes(app, registry, settings, logger)
	return app, nil
}

func startHTTPServer(cfg *config.Config, registry *library.Registry, settings *config.Settings, logger *logrus.Logger) error {
	app, err := buildApp(cfg, registry, settings, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{
		GracefulContext:       ctx,
		DisableStartupMessage: true,
	})
}

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
