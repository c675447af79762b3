package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/liangyou/nodevm/internal/cli"
	"github.com/liangyou/nodevm/internal/env"
	"github.com/liangyou/nodevm/internal/platform"
	"github.com/liangyou/nodevm/internal/region"
	"github.com/liangyou/nodevm/internal/remote"
	"github.com/liangyou/nodevm/internal/storage"
	"github.com/liangyou/nodevm/internal/version"
	"github.com/liangyou/nodevm/pkg/models"
)

const appVersion = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp(os.Stdout, os.Stderr, buildServices, appVersion)
	if err := app.Run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "nvm:", err)
		stop()
		os.Exit(1)
	}
}

// buildServices 按合并后的配置装配各组件。
func buildServices(ctx context.Context, cfg models.Config, logger *log.Logger, session env.Session) (*cli.Services, error) {
	checker := platform.NewChecker(cfg)
	if err := checker.Validate(); err != nil {
		return nil, err
	}
	platformKey, err := checker.Key()
	if err != nil {
		return nil, err
	}

	httpClient, err := remote.NewHTTPClient(cfg.Proxy, cfg.VerifySSL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if !cfg.VerifySSL {
		logger.Warn("TLS certificate verification is disabled")
	}

	mirror, err := region.ResolveMirror(ctx, cfg.Mirror, region.NewDetector(region.WithHTTPClient(httpClient)), logger)
	if err != nil {
		return nil, err
	}

	store := storage.NewFileStorage(cfg)
	indexCache := remote.NewDiskCache(nil, cfg.RootDir)
	client := remote.NewClient(
		remote.WithDistURL(mirror.DistURL),
		remote.WithHTTPClient(httpClient),
		remote.WithPlatform(platformKey),
		remote.WithCacheTTL(cfg.CacheTTL),
		remote.WithCacheMaxAge(cfg.CacheMaxAge),
		remote.WithDiskCache(indexCache),
		remote.WithLogger(logger),
	)

	downloader := version.NewDownloader(
		version.WithHTTPClient(httpClient),
		version.WithProgressFunc(cli.ProgressPrinter(os.Stderr)),
		version.WithDownloaderLogger(logger),
	)
	installer := version.NewInstaller(store, downloader,
		version.WithChecksumSource(client),
		version.WithPostInstall(postInstallHandoff(logger)),
		version.WithInstallerLogger(logger),
	)
	envManager := env.NewManager(store, cfg, env.WithLogger(logger))

	return &cli.Services{
		Lister:      version.NewLister(client, store, envManager),
		Resolver:    version.NewResolver(store, client, version.WithResolverLogger(logger)),
		Installer:   installer,
		Switcher:    version.NewSwitcher(store, envManager),
		Uninstaller: version.NewUninstaller(store, envManager),
		Janitor: version.NewJanitor(store, envManager,
			version.WithStaleAfter(cfg.StaleAfter),
			version.WithSessionVersion(session.Version),
			version.WithIndexCache(indexCache, cfg.CacheMaxAge),
			version.WithJanitorLogger(logger),
		),
		Shell: envManager,
	}, nil
}

// postInstallHandoff 把安装结果交给外部钩子执行器，这里只记录交接信息。
func postInstallHandoff(logger *log.Logger) version.PostInstallFunc {
	return func(_ context.Context, number, dir string) error {
		logger.Debug("post-install handoff", "version", number, "dir", dir)
		return nil
	}
}
