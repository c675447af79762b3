package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/singleflight"

	"github.com/liangyou/nodevm/internal/logx"
	"github.com/liangyou/nodevm/internal/nvmerr"
	"github.com/liangyou/nodevm/pkg/models"
)

const (
	defaultDistURL     = "https://nodejs.org/dist"
	defaultCacheTTL    = time.Hour
	defaultCacheMaxAge = 7 * 24 * time.Hour
	defaultPlatform    = "linux-x64"

	// maxIndexBytes 限制 index.json 响应体大小。
	maxIndexBytes = 32 << 20
	// maxShasumsBytes 限制 SHASUMS256.txt 响应体大小。
	maxShasumsBytes = 1 << 20
)

// IndexSource 定义远程版本目录的获取能力。
type IndexSource interface {
	// FetchIndex 返回目录快照，必要时发起网络请求。
	FetchIndex(ctx context.Context) (*models.RemoteIndex, error)
	// CachedIndex 只从内存或磁盘缓存返回快照，从不访问网络。
	CachedIndex(ctx context.Context) (*models.RemoteIndex, bool)
}

// ChecksumSource 定义按版本查询官方校验值的能力。
type ChecksumSource interface {
	Checksum(ctx context.Context, v models.Version) (string, error)
}

// HTTPClient 描述最小化的 HTTP 客户端接口，方便测试时替换。
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option 用于配置 Client。
type Option func(*Client)

// WithDistURL 设置发行目录地址（index.json 与各版本目录所在位置）。
func WithDistURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.distURL = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient 设置 HTTP 客户端。
func WithHTTPClient(h HTTPClient) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithCacheTTL 设置磁盘快照的新鲜期，过期后优先重新抓取。
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithCacheMaxAge 设置网络失败时允许回退的快照最大年龄。
func WithCacheMaxAge(age time.Duration) Option {
	return func(c *Client) {
		if age > 0 {
			c.maxAge = age
		}
	}
}

// WithDiskCache 设置磁盘快照；未设置时只使用进程内缓存。
func WithDiskCache(cache *DiskCache) Option {
	return func(c *Client) {
		c.disk = cache
	}
}

// WithPlatform 设置平台标识，例如 linux-x64。
func WithPlatform(platform string) Option {
	return func(c *Client) {
		if platform != "" {
			c.platform = platform
		}
	}
}

// WithLogger 设置日志器。
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		c.logger = logx.OrDiscard(logger)
	}
}

// Client 实现 IndexSource 与 ChecksumSource。
// 同一个 Client 在进程内最多对 index.json 发起一次网络请求。
type Client struct {
	distURL    string
	httpClient HTTPClient
	cacheTTL   time.Duration
	maxAge     time.Duration
	platform   string
	disk       *DiskCache
	logger     *log.Logger
	now        func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	snapshot *models.RemoteIndex
	fetchErr error
	shasums  map[string]map[string]string
}

// NewClient 创建远程版本源客户端。
func NewClient(opts ...Option) *Client {
	c := &Client{
		distURL:    defaultDistURL,
		httpClient: http.DefaultClient,
		cacheTTL:   defaultCacheTTL,
		maxAge:     defaultCacheMaxAge,
		platform:   defaultPlatform,
		logger:     logx.Discard(),
		now:        time.Now,
		shasums:    map[string]map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IndexURL 返回版本目录地址。
func (c *Client) IndexURL() string {
	return c.distURL + "/index.json"
}

// FetchIndex 依次尝试 进程内快照 → 新鲜的磁盘快照 → 网络请求 → 未超过上限的磁盘快照。
func (c *Client) FetchIndex(ctx context.Context) (*models.RemoteIndex, error) {
	c.mu.Lock()
	if c.snapshot != nil {
		snap := cloneIndex(c.snapshot, "memory")
		c.mu.Unlock()
		return snap, nil
	}
	if c.fetchErr != nil {
		err := c.fetchErr
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	if snap, age, ok := c.loadDisk(); ok && age <= c.cacheTTL {
		c.logger.Debug("using cached index", "age", age.Round(time.Second), "path", c.disk.Path())
		c.remember(snap, nil)
		return cloneIndex(snap, "disk"), nil
	}

	res, err, _ := c.group.Do("index", func() (any, error) {
		return c.fetchRemote(ctx)
	})
	if err == nil {
		snap := res.(*models.RemoteIndex)
		c.remember(snap, nil)
		if c.disk != nil {
			if saveErr := c.disk.Save(c.distURL, c.platform, snap); saveErr != nil {
				c.logger.Warn("failed to persist index cache", "err", saveErr)
			}
		}
		return cloneIndex(snap, "network"), nil
	}

	if snap, age, ok := c.loadDisk(); ok && age <= c.maxAge {
		c.logger.Warn("remote index unavailable, using cached copy", "age", age.Round(time.Minute), "err", err)
		snap.Stale = true
		c.remember(snap, nil)
		return cloneIndex(snap, "disk"), nil
	}

	netErr := nvmerr.NewNetwork(c.IndexURL(), err)
	c.remember(nil, netErr)
	return nil, netErr
}

// CachedIndex 只返回已有快照，不发起网络请求。
func (c *Client) CachedIndex(ctx context.Context) (*models.RemoteIndex, bool) {
	c.mu.Lock()
	if c.snapshot != nil {
		snap := cloneIndex(c.snapshot, "memory")
		c.mu.Unlock()
		return snap, true
	}
	c.mu.Unlock()

	snap, age, ok := c.loadDisk()
	if !ok || age > c.maxAge {
		return nil, false
	}
	snap.Stale = age > c.cacheTTL
	return cloneIndex(snap, "disk"), true
}

// Checksum 从 SHASUMS256.txt 中查找指定安装包的 SHA256。
func (c *Client) Checksum(ctx context.Context, v models.Version) (string, error) {
	if v.FileName == "" {
		return "", fmt.Errorf("remote: version %s has no file name", v.Number)
	}
	sums, err := c.loadShasums(ctx, v.Tag())
	if err != nil {
		return "", err
	}
	sum, ok := sums[v.FileName]
	if !ok {
		return "", nvmerr.NewNotFound(v.Number, fmt.Sprintf("no checksum published for %s", v.FileName))
	}
	return sum, nil
}

func (c *Client) loadShasums(ctx context.Context, fullName string) (map[string]string, error) {
	c.mu.Lock()
	if sums, ok := c.shasums[fullName]; ok {
		c.mu.Unlock()
		return sums, nil
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s/%s/SHASUMS256.txt", c.distURL, fullName)
	body, err := c.get(ctx, url, maxShasumsBytes)
	if err != nil {
		return nil, nvmerr.NewNetwork(url, err)
	}
	sums, err := ParseShasums(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("remote: parse %s: %w", url, err)
	}

	c.mu.Lock()
	c.shasums[fullName] = sums
	c.mu.Unlock()
	return sums, nil
}

func (c *Client) fetchRemote(ctx context.Context) (*models.RemoteIndex, error) {
	c.logger.Debug("fetching remote index", "url", c.IndexURL())
	body, err := c.get(ctx, c.IndexURL(), maxIndexBytes)
	if err != nil {
		return nil, err
	}
	versions, err := parseIndex(body, c.distURL, c.platform)
	if err != nil {
		return nil, err
	}
	return &models.RemoteIndex{Versions: versions, FetchedAt: c.now().UTC(), Source: "network"}, nil
}

func (c *Client) get(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("remote: read body: %w", err)
	}
	return body, nil
}

func (c *Client) loadDisk() (*models.RemoteIndex, time.Duration, bool) {
	if c.disk == nil {
		return nil, 0, false
	}
	snap, err := c.disk.Load(c.distURL, c.platform)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Debug("index cache unusable", "err", err)
		}
		return nil, 0, false
	}
	return snap, c.now().Sub(snap.FetchedAt), true
}

func (c *Client) remember(snap *models.RemoteIndex, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = snap
	c.fetchErr = err
}

func cloneIndex(src *models.RemoteIndex, source string) *models.RemoteIndex {
	clone := &models.RemoteIndex{
		Versions:  make([]models.Version, len(src.Versions)),
		FetchedAt: src.FetchedAt,
		Stale:     src.Stale,
		Source:    source,
	}
	copy(clone.Versions, src.Versions)
	return clone
}

// indexEntry 表示 Node.js index.json 中的一条记录。
type indexEntry struct {
	Version string          `json:"version"`
	Date    string          `json:"date"`
	Files   []string        `json:"files"`
	LTS     json.RawMessage `json:"lts"`
}

// ltsName 解析 lts 字段，false 或缺失时返回空字符串。
func (e indexEntry) ltsName() string {
	var name string
	if err := json.Unmarshal(e.LTS, &name); err != nil {
		return ""
	}
	return name
}

func parseIndex(data []byte, distURL, platform string) ([]models.Version, error) {
	var entries []indexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("remote: decode response: %w", err)
	}

	fileKey := indexFileKey(platform)
	versions := make([]models.Version, 0, len(entries))
	for _, e := range entries {
		if !semver.IsValid(e.Version) || semver.Prerelease(e.Version) != "" {
			continue
		}
		if !containsString(e.Files, fileKey) {
			continue
		}
		fileName := fmt.Sprintf("node-%s-%s.tar.gz", e.Version, platform)
		released, _ := time.Parse("2006-01-02", e.Date)
		versions = append(versions, models.Version{
			Number:      strings.TrimPrefix(e.Version, "v"),
			FullName:    e.Version,
			LTS:         e.ltsName(),
			DownloadURL: fmt.Sprintf("%s/%s/%s", distURL, e.Version, fileName),
			FileName:    fileName,
			Platform:    platform,
			Status:      models.StatusNotInstalled,
			ReleasedAt:  released,
		})
	}

	sort.SliceStable(versions, func(i, j int) bool {
		return semver.Compare(versions[i].FullName, versions[j].FullName) > 0
	})
	return versions, nil
}

// indexFileKey 把平台标识转换为 index.json files 字段中的写法，macOS 使用 osx-*-tar。
func indexFileKey(platform string) string {
	if rest, ok := strings.CutPrefix(platform, "darwin-"); ok {
		return "osx-" + rest + "-tar"
	}
	return platform
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// ParseShasums 解析 sha256sum 输出格式（"<hash>  <filename>"），返回文件名到哈希的映射。
func ParseShasums(r io.Reader) (map[string]string, error) {
	sums := map[string]string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 || len(fields[0]) != 64 {
			continue
		}
		sums[strings.TrimPrefix(fields[1], "*")] = strings.ToLower(fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(sums) == 0 {
		return nil, errors.New("remote: no checksum entries")
	}
	return sums, nil
}
