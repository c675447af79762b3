package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/liangyou/nodevm/internal/nvmerr"
)

// SpecKind 表示版本标识的类别。
type SpecKind int

const (
	SpecExact   SpecKind = iota + 1 // 20.3.1
	SpecPartial                     // 20 或 20.3
	SpecAlias                       // latest 或 lts
)

// Scope 区分 latest 别名在远程目录还是本地已安装版本中求值。
type Scope int

const (
	ScopeRemote Scope = iota
	ScopeLocal
)

const (
	AliasLatest = "latest"
	AliasLTS    = "lts"
)

// Spec 是解析后的版本标识，创建后不可变。
type Spec struct {
	Kind     SpecKind
	Major    int
	Minor    int
	Patch    int
	Segments int    // 数字段个数，1 到 3
	Alias    string // 仅 SpecAlias 使用
	Scope    Scope
}

// ParseSpec 解析用户输入的版本标识。不访问网络，无副作用。
func ParseSpec(token string) (Spec, error) {
	raw := strings.TrimSpace(token)
	switch strings.ToLower(raw) {
	case AliasLatest:
		return Spec{Kind: SpecAlias, Alias: AliasLatest, Scope: ScopeRemote}, nil
	case AliasLTS:
		return Spec{Kind: SpecAlias, Alias: AliasLTS, Scope: ScopeRemote}, nil
	case "":
		return Spec{}, nvmerr.NewParse(token, "version is required")
	}

	numeric := raw
	if len(numeric) > 1 && (numeric[0] == 'v' || numeric[0] == 'V') {
		numeric = numeric[1:]
	}
	parts := strings.Split(numeric, ".")
	if len(parts) > 3 {
		return Spec{}, nvmerr.NewParse(token, "too many version segments")
	}

	values := make([]int, len(parts))
	for i, p := range parts {
		n, err := parseSegment(p)
		if err != nil {
			return Spec{}, nvmerr.NewParse(token, err.Error())
		}
		values[i] = n
	}

	spec := Spec{Kind: SpecPartial, Segments: len(values), Major: values[0]}
	if len(values) > 1 {
		spec.Minor = values[1]
	}
	if len(values) == 3 {
		spec.Patch = values[2]
		spec.Kind = SpecExact
	}
	return spec, nil
}

// ParseUninstallSpec 解析卸载命令的版本参数。latest 为 true 时忽略 token，
// 返回在本地已安装版本中求值的 latest 别名。
func ParseUninstallSpec(token string, latest bool) (Spec, error) {
	if latest {
		return LocalLatest(), nil
	}
	spec, err := ParseSpec(token)
	if err != nil {
		return Spec{}, err
	}
	if spec.Kind == SpecAlias && spec.Alias == AliasLatest {
		spec.Scope = ScopeLocal
	}
	return spec, nil
}

// LocalLatest 返回在本地已安装版本中求值的 latest 别名。
func LocalLatest() Spec {
	return Spec{Kind: SpecAlias, Alias: AliasLatest, Scope: ScopeLocal}
}

func parseSegment(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty version segment")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid character %q", r)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("segment %q out of range", s)
	}
	return n, nil
}

// String 返回规范化的文本形式，数字形式可被 ParseSpec 还原。
func (s Spec) String() string {
	switch s.Kind {
	case SpecAlias:
		return s.Alias
	case SpecExact:
		return fmt.Sprintf("%d.%d.%d", s.Major, s.Minor, s.Patch)
	case SpecPartial:
		if s.Segments >= 2 {
			return fmt.Sprintf("%d.%d", s.Major, s.Minor)
		}
		return strconv.Itoa(s.Major)
	default:
		return ""
	}
}

// Matches 报告完整版本号 number 是否满足数字形式的版本标识。别名总是返回 false。
func (s Spec) Matches(number string) bool {
	if s.Kind != SpecExact && s.Kind != SpecPartial {
		return false
	}
	major, minor, patch, ok := splitNumber(number)
	if !ok {
		return false
	}
	if major != s.Major {
		return false
	}
	if s.Segments >= 2 && minor != s.Minor {
		return false
	}
	if s.Segments == 3 && patch != s.Patch {
		return false
	}
	return true
}
