package version

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/liangyou/nodevm/internal/logx"
	"github.com/liangyou/nodevm/internal/nvmerr"
	"github.com/liangyou/nodevm/internal/remote"
	"github.com/liangyou/nodevm/pkg/models"
)

// ProgressFunc 在下载过程中回调当前已完成的字节数以及总字节数。
type ProgressFunc func(downloaded, total int64)

// Downloader 把安装包流式写入暂存目录，写入的同时计算 SHA256。
type Downloader struct {
	httpClient   remote.HTTPClient
	progressFunc ProgressFunc
	logger       *log.Logger
}

// DownloaderOption 配置 Downloader。
type DownloaderOption func(*Downloader)

// WithHTTPClient 指定自定义 HTTP 客户端。
func WithHTTPClient(client remote.HTTPClient) DownloaderOption {
	return func(d *Downloader) {
		if client != nil {
			d.httpClient = client
		}
	}
}

// WithProgressFunc 指定进度回调。
func WithProgressFunc(fn ProgressFunc) DownloaderOption {
	return func(d *Downloader) {
		d.progressFunc = fn
	}
}

// WithDownloaderLogger 设置日志器。
func WithDownloaderLogger(logger *log.Logger) DownloaderOption {
	return func(d *Downloader) {
		d.logger = logx.OrDiscard(logger)
	}
}

// NewDownloader 创建 Downloader。
func NewDownloader(opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		httpClient: http.DefaultClient,
		logger:     logx.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download 把 v 的安装包下载到 dir 并校验 SHA256，返回文件路径。
//
// 连接失败返回 NETWORK；传输中途失败返回 DOWNLOAD_INTERRUPTED，已写入的数据留在 dir；
// 校验失败返回 CHECKSUM_MISMATCH。
func (d *Downloader) Download(ctx context.Context, v models.Version, dir string) (string, error) {
	if v.DownloadURL == "" || v.FileName == "" {
		return "", fmt.Errorf("downloader: version %s has no download url", v.Number)
	}
	if v.Checksum == "" {
		return "", fmt.Errorf("downloader: empty checksum for %s", v.FileName)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.DownloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("downloader: build request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", nvmerr.NewNetwork(v.DownloadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nvmerr.NewNetwork(v.DownloadURL, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	target := filepath.Join(dir, filepath.Base(v.FileName))
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("downloader: create file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	total := resp.ContentLength
	written, err := io.Copy(io.MultiWriter(file, hasher), d.wrapProgress(resp.Body, total))
	if err == nil && total > 0 && written != total {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return "", nvmerr.NewDownloadInterrupted(v.Number, dir, err)
	}
	if err := file.Sync(); err != nil {
		return "", fmt.Errorf("downloader: sync file: %w", err)
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(actual, v.Checksum) {
		return "", nvmerr.NewChecksumMismatch(v.Number, v.FileName, strings.ToLower(v.Checksum), actual)
	}
	d.logger.Debug("download verified", "file", v.FileName, "bytes", written)
	return target, nil
}

func (d *Downloader) wrapProgress(reader io.Reader, total int64) io.Reader {
	if d.progressFunc == nil {
		return reader
	}
	return &progressReader{r: reader, total: total, report: d.progressFunc}
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.report(p.read, p.total)
	}
	return n, err
}

// isInterrupted 报告错误是否应保留暂存目录。
func isInterrupted(err error) bool {
	return errors.Is(err, nvmerr.ErrDownloadInterrupted)
}
