package env

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/liangyou/nodevm/pkg/models"
)

const (
	// SessionVar 记录当前 shell 会话使用的版本号。
	SessionVar = "NVM_USE"
	// HomeVar 是 shell 配置块导出的根目录变量。
	HomeVar = "NVM_HOME"

	pathVar = "PATH"

	blockStart = "# >>> nvm initialize >>>"
	blockEnd   = "# <<< nvm initialize <<<"
)

// Session 是单个 shell 会话的版本指针，只存在于调用方的环境变量中，从不落盘。
type Session struct {
	Version string // 会话使用的版本号，空表示未覆盖 default
	Path    string // 会话的 PATH
}

// Mutation 描述一次环境变量修改，由调用方在自己的 shell 中执行。
type Mutation struct {
	Name  string
	Value string
	Unset bool
}

// SessionFromEnv 从环境变量还原当前进程的会话指针。
func SessionFromEnv(getenv func(string) string) Session {
	if getenv == nil {
		getenv = os.Getenv
	}
	return Session{Version: getenv(SessionVar), Path: getenv(pathVar)}
}

// SetSession 把 v 的 bin 目录放到 PATH 最前面，并移除其他受管版本的 bin 目录。
// 不触碰 default 链接。
func (m *Manager) SetSession(s Session, v models.Version) (Session, []Mutation, error) {
	if v.InstallPath == "" || !v.Installed() {
		return s, nil, fmt.Errorf("env: version %s is not installed", v.Number)
	}
	bin := filepath.Join(v.InstallPath, "bin")
	parts := []string{bin}
	parts = append(parts, m.stripManaged(s.Path)...)
	next := Session{Version: v.Number, Path: strings.Join(parts, string(os.PathListSeparator))}
	return next, []Mutation{
		{Name: pathVar, Value: next.Path},
		{Name: SessionVar, Value: v.Number},
	}, nil
}

// UnsetSession 撤销 SetSession 的效果，PATH 回到 default 链接决定的状态。
func (m *Manager) UnsetSession(s Session) (Session, []Mutation) {
	next := Session{Path: strings.Join(m.stripManaged(s.Path), string(os.PathListSeparator))}
	return next, []Mutation{
		{Name: pathVar, Value: next.Path},
		{Name: SessionVar, Unset: true},
	}
}

func (m *Manager) stripManaged(path string) []string {
	var kept []string
	for _, dir := range filepath.SplitList(path) {
		if dir == "" || m.managedDir(dir) {
			continue
		}
		kept = append(kept, dir)
	}
	return kept
}

// Render 把环境变量修改渲染为指定 shell 可 eval 的脚本。
func Render(shell string, mutations []Mutation) (string, error) {
	var b strings.Builder
	for _, mu := range mutations {
		line, err := renderOne(shell, mu)
		if err != nil {
			return "", err
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func renderOne(shell string, mu Mutation) (string, error) {
	switch shell {
	case "bash", "zsh", "sh":
		if mu.Unset {
			return "unset " + mu.Name, nil
		}
		quoted, err := quotePOSIX(shell, mu.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("export %s=%s", mu.Name, quoted), nil
	case "fish":
		if mu.Unset {
			return "set -e " + mu.Name, nil
		}
		values := []string{mu.Value}
		if mu.Name == pathVar {
			values = filepath.SplitList(mu.Value)
		}
		quoted := make([]string, 0, len(values))
		for _, v := range values {
			quoted = append(quoted, quoteFish(v))
		}
		return fmt.Sprintf("set -gx %s %s", mu.Name, strings.Join(quoted, " ")), nil
	default:
		return "", fmt.Errorf("env: unsupported shell %q", shell)
	}
}

func quotePOSIX(shell, value string) (string, error) {
	lang := syntax.LangBash
	if shell == "sh" {
		lang = syntax.LangPOSIX
	}
	quoted, err := syntax.Quote(value, lang)
	if err != nil {
		return "", fmt.Errorf("env: quote %q: %w", value, err)
	}
	return quoted, nil
}

func quoteFish(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(value) + "'"
}

func buildConfigBlock(shellType, root string) (string, error) {
	var lines []string
	switch shellType {
	case "fish":
		lines = []string{
			blockStart,
			fmt.Sprintf("set -gx %s %s", HomeVar, quoteFish(root)),
			fmt.Sprintf("set -gx PATH $%s/%s/bin $PATH", HomeVar, DefaultLink),
			blockEnd,
		}
	case "bash", "zsh", "sh":
		quoted, err := quotePOSIX(shellType, root)
		if err != nil {
			return "", err
		}
		lines = []string{
			blockStart,
			fmt.Sprintf("export %s=%s", HomeVar, quoted),
			fmt.Sprintf("export PATH=\"$%s/%s/bin:$PATH\"", HomeVar, DefaultLink),
			blockEnd,
		}
	default:
		return "", errors.New("env: unsupported shell " + shellType)
	}
	return strings.Join(lines, "\n"), nil
}

func mergeConfig(existing, block string) string {
	cleaned := removeExistingBlock(existing)
	cleaned = strings.TrimRight(cleaned, "\n")
	if strings.TrimSpace(cleaned) == "" {
		return block + "\n"
	}
	return cleaned + "\n\n" + block + "\n"
}

func removeExistingBlock(content string) string {
	var builder strings.Builder
	skipping := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == blockStart {
			skipping = true
			continue
		}
		if trimmed == blockEnd {
			skipping = false
			continue
		}
		if skipping {
			continue
		}
		if line == "" && builder.Len() == 0 {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteByte('\n')
		}
		builder.WriteString(line)
	}
	return strings.Trim(builder.String(), "\n")
}
