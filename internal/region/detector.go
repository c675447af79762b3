package region

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultEndpoint = "https://ipinfo.io/country"
	defaultFallback = "https://ipapi.co/json"
	defaultTimeout  = 3 * time.Second

	// maxCountryResponseBytes 限制探测接口响应体大小。
	maxCountryResponseBytes = 64 << 10
)

var errEmptyCountry = errors.New("region: empty country code")

// HTTPClient 最小化 HTTP 客户端接口，便于测试替换。
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Detector 实现 CountryDetector。
type Detector struct {
	endpoints []string
	client    HTTPClient
	timeout   time.Duration

	mu    sync.Mutex
	cache string
}

// Option 用于配置 Detector。
type Option func(*Detector)

// WithEndpoint 设置主探测接口地址。
func WithEndpoint(endpoint string) Option {
	return func(d *Detector) {
		if endpoint != "" {
			d.endpoints[0] = endpoint
		}
	}
}

// WithFallbackEndpoint 设置备选接口地址，传空字符串表示禁用。
func WithFallbackEndpoint(endpoint string) Option {
	return func(d *Detector) {
		d.endpoints = append(d.endpoints[:1], endpoint)
	}
}

// WithHTTPClient 设置自定义 HTTP 客户端。
func WithHTTPClient(client HTTPClient) Option {
	return func(d *Detector) {
		if client != nil {
			d.client = client
		}
	}
}

// WithTimeout 设置探测请求超时时间。
func WithTimeout(timeout time.Duration) Option {
	return func(d *Detector) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDetector 创建 Detector 实例。
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		endpoints: []string{defaultEndpoint, defaultFallback},
		client:    http.DefaultClient,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CountryCode 返回大写的 ISO 国家代码。成功结果会被缓存。
func (d *Detector) CountryCode(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cache != "" {
		return d.cache, nil
	}
	if d.client == nil {
		return "", errors.New("region: http client is nil")
	}

	var errs []error
	for _, endpoint := range d.endpoints {
		if endpoint == "" {
			continue
		}
		code, err := d.fetchCountry(ctx, endpoint)
		if err == nil {
			d.cache = code
			return code, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", errors.New("region: no endpoint configured")
	}
	return "", errors.Join(errs...)
}

func (d *Detector) fetchCountry(ctx context.Context, endpoint string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("region: build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("region: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("region: unexpected status %d from %s", resp.StatusCode, endpoint)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCountryResponseBytes))
	if err != nil {
		return "", fmt.Errorf("region: read body: %w", err)
	}
	return parseCountry(data)
}

// parseCountry 同时接受纯文本（ipinfo）与 JSON（ipapi）两种响应格式。
func parseCountry(data []byte) (string, error) {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, "{") {
		var payload struct {
			CountryCode string `json:"country_code"`
			Country     string `json:"country"`
		}
		if err := json.Unmarshal([]byte(text), &payload); err != nil {
			return "", fmt.Errorf("region: decode response: %w", err)
		}
		text = payload.CountryCode
		if text == "" {
			text = payload.Country
		}
	}
	code := strings.ToUpper(strings.TrimSpace(text))
	if code == "" {
		return "", errEmptyCountry
	}
	return code, nil
}
