package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/liangyou/nodevm/pkg/models"
)

// Node.js 发行包使用的操作系统与架构命名。
var (
	supportedOS = map[string]string{
		"linux":  "linux",
		"darwin": "darwin",
	}
	supportedArch = map[string]string{
		"amd64":   "x64",
		"arm64":   "arm64",
		"arm":     "armv7l",
		"ppc64le": "ppc64le",
		"s390x":   "s390x",
	}
)

// Checker 校验当前系统是否满足 nvm 的运行要求，并给出 Node.js 平台标识。
type Checker struct {
	cfg    models.Config
	goos   func() string
	goarch func() string
}

// NewChecker 创建平台检测器。
func NewChecker(cfg models.Config) *Checker {
	return &Checker{
		cfg:    cfg,
		goos:   func() string { return runtime.GOOS },
		goarch: func() string { return runtime.GOARCH },
	}
}

// Key 返回 Node.js 发行包的平台标识，例如 linux-x64。
func (c *Checker) Key() (string, error) {
	osName, ok := supportedOS[c.goos()]
	if !ok {
		return "", fmt.Errorf("platform: unsupported operating system %s", c.goos())
	}
	arch, ok := supportedArch[c.goarch()]
	if !ok {
		return "", fmt.Errorf("platform: unsupported architecture %s", c.goarch())
	}
	if osName == "darwin" && arch != "x64" && arch != "arm64" {
		return "", fmt.Errorf("platform: unsupported architecture %s on darwin", c.goarch())
	}
	return osName + "-" + arch, nil
}

// Validate 校验当前平台与安装目录权限。
func (c *Checker) Validate() error {
	if _, err := c.Key(); err != nil {
		return err
	}

	root := c.resolveRoot()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("platform: cannot access install directory %s: %w", root, err)
	}
	return nil
}

func (c *Checker) resolveRoot() string {
	if c.cfg.RootDir != "" {
		return c.cfg.RootDir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".nvm")
	}
	return filepath.Join(os.TempDir(), "nvm")
}
