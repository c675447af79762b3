package env

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"

	"github.com/liangyou/nodevm/internal/logx"
	"github.com/liangyou/nodevm/internal/nvmerr"
	"github.com/liangyou/nodevm/internal/storage"
	"github.com/liangyou/nodevm/pkg/models"
)

const (
	// DefaultLink 是 default 链接在根目录下的名称。
	DefaultLink = "default"

	tempLinkPrefix = ".default-"
)

// EnvManager 暴露默认版本链接、会话切换与 shell 配置能力。
type EnvManager interface {
	SetDefault(v models.Version) error
	UnsetDefault() error
	Default() (models.Version, bool, error)
	SetSession(s Session, v models.Version) (Session, []Mutation, error)
	UnsetSession(s Session) (Session, []Mutation)
	ConfigureEnvironment() (string, error)
	DetectShell() (string, error)
}

// Option 配置 Manager。
type Option func(*Manager)

// WithLogger 设置日志器。
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		m.logger = logx.OrDiscard(logger)
	}
}

// Manager 实现 EnvManager。
type Manager struct {
	storage storage.LocalStorage
	root    string
	logger  *log.Logger

	homeFn func() (string, error)
	envFn  func(string) string
}

// NewManager 构造环境配置服务。
func NewManager(store storage.LocalStorage, cfg models.Config, opts ...Option) *Manager {
	m := &Manager{
		storage: store,
		root:    cfg.RootDir,
		logger:  logx.Discard(),
		homeFn:  os.UserHomeDir,
		envFn:   os.Getenv,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LinkPath 返回 default 链接的路径。
func (m *Manager) LinkPath() string {
	return filepath.Join(m.root, DefaultLink)
}

// SetDefault 将 default 链接指向 v 的安装目录。
// 新链接先以临时名创建，再重命名覆盖旧链接，读者不会观察到链接缺失。
func (m *Manager) SetDefault(v models.Version) error {
	if m.root == "" {
		return errors.New("env: root dir is required")
	}
	if v.InstallPath == "" || !v.Installed() {
		return fmt.Errorf("env: version %s is not installed", v.Number)
	}
	if err := ensureNodeBinary(v.InstallPath); err != nil {
		return nvmerr.NewSwitch(v.Number, "verify install", err)
	}
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nvmerr.NewSwitch(v.Number, "prepare root", err)
	}

	tmp := filepath.Join(m.root, tempLinkPrefix+ulid.Make().String())
	if err := os.Symlink(v.InstallPath, tmp); err != nil {
		return nvmerr.NewSwitch(v.Number, "create link", err)
	}
	if err := os.Rename(tmp, m.LinkPath()); err != nil {
		_ = os.Remove(tmp)
		return nvmerr.NewSwitch(v.Number, "replace link", err)
	}
	m.logger.Debug("default link updated", "version", v.Number, "target", v.InstallPath)
	return nil
}

// UnsetDefault 删除 default 链接，链接不存在时不报错。
func (m *Manager) UnsetDefault() error {
	link := m.LinkPath()
	info, err := os.Lstat(link)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return nvmerr.NewSwitch("default", "inspect link", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return nvmerr.NewSwitch("default", "remove link", fmt.Errorf("%s is not a symlink", link))
	}
	if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nvmerr.NewSwitch("default", "remove link", err)
	}
	return nil
}

// Default 返回 default 链接指向的版本。链接不存在时 ok 为 false。
// 目标目录缺少完整性标记时仍返回，Status 为 corrupt，InstallPath 为链接目标。
func (m *Manager) Default() (models.Version, bool, error) {
	target, err := os.Readlink(m.LinkPath())
	if errors.Is(err, os.ErrNotExist) {
		return models.Version{}, false, nil
	}
	if err != nil {
		return models.Version{}, false, fmt.Errorf("env: read default link: %w", err)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(m.root, target)
	}
	target = filepath.Clean(target)

	number, ok := storage.ParseDirName(filepath.Base(target))
	if !ok {
		return models.Version{InstallPath: target, Status: models.StatusCorrupt, IsDefault: true}, true, nil
	}
	v := models.Version{
		Number:      number,
		FullName:    "v" + number,
		InstallPath: target,
		Status:      models.StatusCorrupt,
	}
	if m.storage != nil {
		if local, valid, err := m.storage.Get(number); err == nil && valid && local.InstallPath == target {
			v = local
		}
	}
	v.IsDefault = true
	return v, true, nil
}

// ConfigureEnvironment 检测当前 shell，在其配置文件中写入 nvm 初始化块，返回配置文件路径。
func (m *Manager) ConfigureEnvironment() (string, error) {
	shell, err := m.DetectShell()
	if err != nil {
		return "", err
	}
	return m.UpdateShellConfig(shell)
}

// DetectShell 根据 SHELL 环境变量推断当前 shell。
func (m *Manager) DetectShell() (string, error) {
	shellPath := m.envFn("SHELL")
	if shellPath == "" {
		shellPath = "bash"
	}
	shell := filepath.Base(shellPath)
	switch shell {
	case "bash", "zsh", "fish", "sh":
		return shell, nil
	default:
		return "", fmt.Errorf("env: unsupported shell %q", shell)
	}
}

// UpdateShellConfig 对指定 shell 写入配置块，重复调用只保留一份。
func (m *Manager) UpdateShellConfig(shellType string) (string, error) {
	if m.root == "" {
		return "", errors.New("env: root dir is required")
	}

	configPath, err := m.configFileForShell(shellType)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return "", fmt.Errorf("env: ensure config dir: %w", err)
	}

	var existing []byte
	if data, err := os.ReadFile(configPath); err == nil {
		existing = data
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("env: read config: %w", err)
	}

	block, err := buildConfigBlock(shellType, m.root)
	if err != nil {
		return "", err
	}
	merged := mergeConfig(string(existing), block)

	if err := os.WriteFile(configPath, []byte(merged), 0o644); err != nil {
		return "", fmt.Errorf("env: write config: %w", err)
	}
	return configPath, nil
}

// UndoEnvironment 从当前 shell 的配置文件中移除 nvm 初始化块。
// 文件不存在或不含该块时返回 removed=false。
func (m *Manager) UndoEnvironment() (path string, removed bool, err error) {
	shell, err := m.DetectShell()
	if err != nil {
		return "", false, err
	}
	path, err = m.configFileForShell(shell)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return path, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("env: read config: %w", err)
	}
	if !strings.Contains(string(data), blockStart) {
		return path, false, nil
	}
	cleaned := strings.TrimRight(removeExistingBlock(string(data)), "\n")
	if cleaned != "" {
		cleaned += "\n"
	}
	if err := os.WriteFile(path, []byte(cleaned), 0o644); err != nil {
		return "", false, fmt.Errorf("env: write config: %w", err)
	}
	m.logger.Debug("removed shell config block", "path", path)
	return path, true, nil
}

func (m *Manager) configFileForShell(shellType string) (string, error) {
	home, err := m.homeFn()
	if err != nil {
		return "", fmt.Errorf("env: home dir: %w", err)
	}

	switch shellType {
	case "bash":
		path := filepath.Join(home, ".bashrc")
		if fileExists(path) {
			return path, nil
		}
		return filepath.Join(home, ".bash_profile"), nil
	case "zsh":
		return filepath.Join(home, ".zshrc"), nil
	case "sh":
		return filepath.Join(home, ".profile"), nil
	case "fish":
		return filepath.Join(home, ".config", "fish", "conf.d", "nvm.fish"), nil
	default:
		return "", fmt.Errorf("env: unsupported shell %q", shellType)
	}
}

func ensureNodeBinary(installPath string) error {
	bin := filepath.Join(installPath, "bin", "node")
	info, err := os.Stat(bin)
	if err != nil {
		return fmt.Errorf("node binary missing: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("node binary path is directory: %s", bin)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// managedDir 报告 dir 是否位于 nvm 管理的版本目录下。
func (m *Manager) managedDir(dir string) bool {
	if m.storage == nil || dir == "" {
		return false
	}
	versions := filepath.Clean(m.storage.VersionsDir())
	dir = filepath.Clean(dir)
	return strings.HasPrefix(dir, versions+string(os.PathSeparator))
}
