package cli

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/liangyou/nodevm/internal/config"
	"github.com/liangyou/nodevm/internal/env"
	"github.com/liangyou/nodevm/internal/logx"
	"github.com/liangyou/nodevm/internal/version"
	"github.com/liangyou/nodevm/pkg/models"
)

// ListService 描述版本查询能力。
type ListService interface {
	RemoteVersions(ctx context.Context) (*models.RemoteIndex, error)
	LocalVersions(sessionVersion string) ([]models.Version, error)
	CurrentVersion(sessionVersion string) (*models.Version, error)
}

// ResolveService 描述版本标识解析能力。
type ResolveService interface {
	Resolve(ctx context.Context, spec version.Spec, opts ...version.ResolveOption) (models.Version, error)
}

// InstallService 描述安装能力。
type InstallService interface {
	Install(ctx context.Context, v models.Version) (models.Version, error)
}

// SwitchService 描述 default 链接与会话切换能力。
type SwitchService interface {
	Link(ctx context.Context, spec version.Spec) (models.Version, error)
	Unlink() error
	Use(ctx context.Context, spec version.Spec, session env.Session) (models.Version, env.Session, []env.Mutation, error)
	Unuse(session env.Session) (env.Session, []env.Mutation, error)
}

// UninstallService 描述卸载能力。
type UninstallService interface {
	Uninstall(ctx context.Context, spec version.Spec, force bool) (models.Version, error)
}

// CleanService 描述残留清理能力。
type CleanService interface {
	Clean(ctx context.Context) (version.CleanReport, error)
}

// ShellService 描述 shell 探测与配置文件维护能力。
type ShellService interface {
	DetectShell() (string, error)
	ConfigureEnvironment() (string, error)
	UndoEnvironment() (string, bool, error)
}

// Services 聚合一次命令执行所需的全部服务，任一字段为 nil 时对应命令不可用。
type Services struct {
	Lister      ListService
	Resolver    ResolveService
	Installer   InstallService
	Switcher    SwitchService
	Uninstaller UninstallService
	Janitor     CleanService
	Shell       ShellService
}

// Factory 根据本次调用合并后的配置构造服务集合。
type Factory func(ctx context.Context, cfg models.Config, logger *log.Logger, session env.Session) (*Services, error)

// AppOption 配置 App。
type AppOption func(*App)

// WithGetenv 替换环境变量读取函数，会话指针由它构造。
func WithGetenv(fn func(string) string) AppOption {
	return func(a *App) {
		if fn != nil {
			a.getenv = fn
		}
	}
}

// WithLoadOptions 指定配置加载的附加输入（配置文件、主目录）。
func WithLoadOptions(opts config.LoadOptions) AppOption {
	return func(a *App) {
		a.loadOpts = opts
	}
}

// App 负责 CLI 命令解析与分发。
type App struct {
	out      io.Writer
	errOut   io.Writer
	version  string
	factory  Factory
	getenv   func(string) string
	loadOpts config.LoadOptions
	styles   styles

	// 以下字段在每次 Run 的 PersistentPreRunE 中填充。
	services *Services
	logger   *log.Logger
	session  env.Session
	shell    string
	verbose  bool
}

// NewApp 创建 CLI 应用实例。out 接收命令结果（use/unuse 时为可 eval 的脚本），
// errOut 接收日志与提示信息。
func NewApp(out, errOut io.Writer, factory Factory, version string, opts ...AppOption) *App {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	a := &App{
		out:     out,
		errOut:  errOut,
		version: version,
		factory: factory,
		getenv:  os.Getenv,
		logger:  logx.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.styles = newStyles(lipgloss.NewRenderer(out))
	return a
}

// Run 解析参数并执行命令。
func (a *App) Run(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	return root.ExecuteContext(ctx)
}

func (a *App) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:               "nvm",
		Short:             "nvm - Node.js version manager",
		Version:           a.version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.prepare,
	}

	flags := root.PersistentFlags()
	flags.StringP("proxy", "p", "", "HTTP proxy for remote requests")
	flags.Bool("verifyssl", true, "verify TLS certificates of remote requests")
	flags.String("home", "", "nvm root directory (default ~/.nvm)")
	flags.String("mirror", "", "distribution mirror: official, cn, auto or an http(s) URL")
	flags.StringVar(&a.shell, "shell", "", "shell to render session scripts for (bash, zsh, sh, fish)")
	flags.BoolVar(&a.verbose, "verbose", false, "enable debug logging")

	root.AddCommand(
		a.newInstallCommand(),
		a.newUninstallCommand(),
		a.newUseCommand(),
		a.newUnuseCommand(),
		a.newLinkCommand(),
		a.newUnlinkCommand(),
		a.newListCommand(),
		a.newRemoteListCommand(),
		a.newCurrentCommand(),
		a.newCleanupCommand(),
		a.newInitEnvCommand(),
		a.newUndoEnvCommand(),
	)
	return root
}

// prepare 合并配置、构造日志器与服务集合。
func (a *App) prepare(cmd *cobra.Command, _ []string) error {
	if a.factory == nil {
		return errors.New("cli: no service factory configured")
	}
	opts := a.loadOpts
	opts.Flags = cmd.Flags()
	cfg, err := config.Load(cmd.Context(), opts)
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if a.verbose {
		level = "debug"
	}
	a.logger = logx.New(a.errOut, level)
	a.session = env.SessionFromEnv(a.getenv)

	services, err := a.factory(cmd.Context(), cfg, a.logger, a.session)
	if err != nil {
		return err
	}
	if services == nil {
		services = &Services{}
	}
	a.services = services
	return nil
}
