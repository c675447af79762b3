package region

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/liangyou/nodevm/internal/logx"
)

// Mirror 描述 Node.js 发行目录的基础地址，index.json 与各版本目录都位于其下。
type Mirror struct {
	Name    string
	DistURL string
}

var (
	// OfficialMirror 表示 nodejs.org 官方源。
	OfficialMirror = Mirror{Name: "official", DistURL: "https://nodejs.org/dist"}
	// NpmMirror 表示国内 npmmirror 镜像。
	NpmMirror = Mirror{Name: "cn", DistURL: "https://npmmirror.com/mirrors/node"}
)

// CountryDetector 探测公网 IP 所在国家。
type CountryDetector interface {
	CountryCode(ctx context.Context) (string, error)
}

// IndexURL 返回版本目录地址。
func (m Mirror) IndexURL() string {
	return m.DistURL + "/index.json"
}

// SelectMirror 根据国家代码返回镜像配置。
func SelectMirror(countryCode string) Mirror {
	if strings.EqualFold(strings.TrimSpace(countryCode), "CN") {
		return NpmMirror
	}
	return OfficialMirror
}

// ResolveMirror 将配置中的 mirror 值转换为 Mirror。
// 支持 official、cn、auto（按国家探测，失败时回退官方源）以及自定义 http(s) 地址。
func ResolveMirror(ctx context.Context, setting string, detector CountryDetector, logger *log.Logger) (Mirror, error) {
	logger = logx.OrDiscard(logger)
	value := strings.TrimSpace(setting)
	switch strings.ToLower(value) {
	case "", "official":
		return OfficialMirror, nil
	case "cn", "npmmirror":
		return NpmMirror, nil
	case "auto":
		if detector == nil {
			return OfficialMirror, nil
		}
		code, err := detector.CountryCode(ctx)
		if err != nil {
			logger.Warn("region detection failed, using official mirror", "err", err)
			return OfficialMirror, nil
		}
		mirror := SelectMirror(code)
		logger.Debug("selected mirror", "country", code, "mirror", mirror.Name)
		return mirror, nil
	}

	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Mirror{}, fmt.Errorf("region: invalid mirror %q", setting)
	}
	return Mirror{Name: "custom", DistURL: strings.TrimRight(value, "/")}, nil
}
