package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/config"
	"github.com/any-hub/imgcache/internal/fingerprint"
	"github.com/any-hub/imgcache/internal/logging"
	"github.com/any-hub/imgcache/internal/metrics"
	"github.com/any-hub/imgcache/internal/pipeline"
	"github.com/any-hub/imgcache/internal/server"
	"github.com/any-hub/imgcache/internal/server/routes"
	"github.com/any-hub/imgcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	trimOnly    bool
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

	logger, err := logging.New(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		if _, ok := cache.Resolve(cfg.Cache.Backend); !ok {
			fmt.Fprintf(stdErr, "未知的缓存后端: %s (可用: %v)\n", cfg.Cache.Backend, cache.Keys())
			return 1
		}
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["backend"] = cfg.Cache.Backend
		fields["max_days"] = cfg.Global.MaxDays
		fields["remote_hosts"] = len(cfg.Global.RemoteHosts)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 探测器 → 缓存后端 → 流水线 → Fiber server”顺序，
	// 保证所有请求共享同一个 Cache 实例与指标。
	m := metrics.New()
	httpClient := server.NewUpstreamClient(cfg)
	sourceFS := osfs.New(cfg.Global.SourceRoot)

	imageCache, err := openCache(cfg, sourceFS, httpClient, logger, m)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}

	if opts.trimOnly {
		removed, err := pipeline.NewTrimmer(imageCache, 0, logger, m).RunOnce(context.Background())
		if err != nil {
			fmt.Fprintf(stdErr, "清理缓存失败: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdOut, "removed %d expired entries\n", removed)
		return 0
	}

	handler, err := pipeline.NewHandler(pipeline.Options{
		Cache:       imageCache,
		Fetcher:     pipeline.NewFetcher(sourceFS, httpClient),
		Processor:   pipeline.Passthrough{},
		Logger:      logger,
		Metrics:     m,
		AllowRemote: cfg.Global.AllowsRemoteHost,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化处理流水线失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["backend"] = imageCache.BackendKey()
	fields["listen_port"] = cfg.Global.ListenPort
	fields["source_root"] = cfg.Global.SourceRoot
	fields["max_days"] = cfg.Global.MaxDays
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pipeline.NewTrimmer(imageCache, cfg.Global.TrimInterval.DurationValue(), logger, m).Run(ctx)

	if err := startHTTPServer(cfg, handler, imageCache, m, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// openCache 构造探测器并按配置打开缓存后端。
func openCache(cfg *config.Config, sourceFS billy.Filesystem, client *http.Client, logger *logrus.Logger, m *metrics.Metrics) (*cache.Cache, error) {
	prober := fingerprint.NewProber(fingerprint.ProberOptions{
		Filesystem: sourceFS,
		Client:     client,
		Timeout:    cfg.Global.ProbeTimeout.DurationValue(),
		OnFailure: func(kind fingerprint.ProbeKind, requestPath string, err error) {
			m.RecordProbeFailure(string(kind))
			logger.WithError(err).WithFields(logrus.Fields{
				"action": "probe",
				"kind":   kind,
				"source": requestPath,
			}).Debug("probe_degraded")
		},
	})

	return cache.Open(cfg.Cache.Backend, cache.Options{
		MaxDays:          cfg.Global.MaxDays,
		BrowserMaxDays:   cfg.Global.BrowserMaxDays,
		Settings:         cache.NewSettings(cfg.Cache.Settings),
		Prober:           prober,
		NamespaceByQuery: cfg.Global.FingerprintQuery,
	})
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("imgcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		trimOnly   bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 IMGCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&trimOnly, "trim", false, "清理一次过期缓存后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("IMGCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		trimOnly:    trimOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, handler server.ImageHandler, imageCache *cache.Cache, m *metrics.Metrics, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Handler:    handler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticRoutes(app, routes.DiagnosticsOptions{
		Cache:   imageCache,
		Metrics: m,
	})

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
