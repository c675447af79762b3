package models

import "time"

// Config 保存 nvm 的全局配置，与用户主目录下的资源保持一致。
type Config struct {
	RootDir     string        // nvm 根目录，默认 ~/.nvm
	VersionsDir string        // 各版本安装目录，默认 ~/.nvm/versions
	Proxy       string        // 网络代理地址，空表示沿用系统代理环境变量
	VerifySSL   bool          // 是否校验 TLS 证书
	Mirror      string        // official、cn、auto 或自定义 URL
	CacheTTL    time.Duration // 远程索引缓存的新鲜期
	CacheMaxAge time.Duration // 网络失败时允许回退的缓存最大年龄
	StaleAfter  time.Duration // 暂存目录多久未变动后视为残留
	Timeout     time.Duration // 单次 HTTP 请求超时
	LogLevel    string        // debug、info、warn、error
}
