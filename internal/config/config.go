package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/liangyou/nodevm/pkg/models"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// AppDirName 是默认根目录名。
	AppDirName = ".nvm"
	// ConfigFileName 是根目录下可选配置文件的名称（不含扩展名）。
	ConfigFileName = "config"
	// ConfigFileExt 是配置文件扩展名。
	ConfigFileExt = "yaml"
)

// 配置键。
const (
	KeyHome        = "home"
	KeyProxy       = "proxy"
	KeyVerifySSL   = "verify_ssl"
	KeyMirror      = "mirror"
	KeyCacheTTL    = "cache_ttl"
	KeyCacheMaxAge = "cache_max_age"
	KeyStaleAfter  = "stale_after"
	KeyTimeout     = "timeout"
	KeyLogLevel    = "log_level"
)

// envBindings 把配置键映射到环境变量。
var envBindings = map[string]string{
	KeyHome:      "NVM_HOME",
	KeyProxy:     "NVM_PROXY",
	KeyVerifySSL: "NVM_VERIFY_SSL",
	KeyMirror:    "NVM_MIRROR",
	KeyLogLevel:  "NVM_LOG_LEVEL",
}

// flagBindings 把配置键映射到命令行参数名。
var flagBindings = map[string]string{
	KeyHome:      "home",
	KeyProxy:     "proxy",
	KeyVerifySSL: "verifyssl",
	KeyMirror:    "mirror",
}

// LoadOptions 定义显式的加载输入。
type LoadOptions struct {
	// ConfigFile 指定配置文件路径；为空时读取 <home>/config.yaml（不存在则忽略）。
	ConfigFile string
	// Flags 为本次调用的命令行参数，仅被显式设置的参数会覆盖其他来源。
	Flags *pflag.FlagSet
	// HomeDir 覆盖用户主目录探测，便于测试。
	HomeDir string
}

// Defaults 返回内置默认配置（RootDir 为空，由 Load 根据主目录补全）。
func Defaults() models.Config {
	return models.Config{
		VerifySSL:   true,
		Mirror:      "official",
		CacheTTL:    time.Hour,
		CacheMaxAge: 7 * 24 * time.Hour,
		StaleAfter:  time.Hour,
		Timeout:     60 * time.Second,
		LogLevel:    "info",
	}
}

// Load 按 默认值 → 配置文件 → 环境变量 → 命令行参数 的优先级合并配置。
func Load(ctx context.Context, opts LoadOptions) (models.Config, error) {
	select {
	case <-ctx.Done():
		return models.Config{}, fmt.Errorf("config: load canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()

	defaults := Defaults()
	v.SetDefault(KeyHome, "")
	v.SetDefault(KeyProxy, "")
	v.SetDefault(KeyVerifySSL, defaults.VerifySSL)
	v.SetDefault(KeyMirror, defaults.Mirror)
	v.SetDefault(KeyCacheTTL, defaults.CacheTTL)
	v.SetDefault(KeyCacheMaxAge, defaults.CacheMaxAge)
	v.SetDefault(KeyStaleAfter, defaults.StaleAfter)
	v.SetDefault(KeyTimeout, defaults.Timeout)
	v.SetDefault(KeyLogLevel, defaults.LogLevel)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return models.Config{}, fmt.Errorf("config: bind env %s: %w", env, err)
		}
	}

	if opts.Flags != nil {
		for key, name := range flagBindings {
			flag := opts.Flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return models.Config{}, fmt.Errorf("config: bind flag %s: %w", name, err)
			}
		}
	}

	root, err := resolveRoot(v.GetString(KeyHome), opts.HomeDir)
	if err != nil {
		return models.Config{}, err
	}

	configFile := opts.ConfigFile
	explicit := configFile != ""
	if !explicit {
		configFile = filepath.Join(root, ConfigFileName+"."+ConfigFileExt)
	}
	if err := readConfigFile(v, configFile, explicit); err != nil {
		return models.Config{}, err
	}

	// 配置文件中的 home 仅在环境变量与参数均未设置时生效。
	if home := v.GetString(KeyHome); home != "" {
		if root, err = resolveRoot(home, opts.HomeDir); err != nil {
			return models.Config{}, err
		}
	}

	cfg := models.Config{
		RootDir:     root,
		VersionsDir: filepath.Join(root, "versions"),
		Proxy:       strings.TrimSpace(v.GetString(KeyProxy)),
		VerifySSL:   verifySSL(v),
		Mirror:      strings.TrimSpace(v.GetString(KeyMirror)),
		CacheTTL:    v.GetDuration(KeyCacheTTL),
		CacheMaxAge: v.GetDuration(KeyCacheMaxAge),
		StaleAfter:  v.GetDuration(KeyStaleAfter),
		Timeout:     v.GetDuration(KeyTimeout),
		LogLevel:    v.GetString(KeyLogLevel),
	}
	if err := validate(cfg); err != nil {
		return models.Config{}, err
	}
	return cfg, nil
}

// verifySSL 只有取值为 "false"（忽略大小写与首尾空白）时才关闭证书校验，
// 其余无法识别的取值一律保持校验。
func verifySSL(v *viper.Viper) bool {
	return !strings.EqualFold(strings.TrimSpace(v.GetString(KeyVerifySSL)), "false")
}

func readConfigFile(v *viper.Viper, path string, explicit bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("config: config file %s: %w", path, err)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return nil
}

func resolveRoot(configured, homeOverride string) (string, error) {
	if configured != "" {
		return filepath.Abs(expandHome(configured, homeOverride))
	}
	home := homeOverride
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "nvm"), nil
		}
		home = h
	}
	return filepath.Join(home, AppDirName), nil
}

func expandHome(path, homeOverride string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home := homeOverride
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		home = h
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func validate(cfg models.Config) error {
	if cfg.CacheTTL < 0 || cfg.CacheMaxAge < 0 || cfg.StaleAfter < 0 || cfg.Timeout < 0 {
		return errors.New("config: durations must not be negative")
	}
	if cfg.CacheMaxAge > 0 && cfg.CacheTTL > cfg.CacheMaxAge {
		return fmt.Errorf("config: cache_ttl %s exceeds cache_max_age %s", cfg.CacheTTL, cfg.CacheMaxAge)
	}
	return nil
}
