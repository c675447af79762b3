package models

import "time"

// InstallStatus 表示某个版本在本地的安装状态。
type InstallStatus string

const (
	StatusNotInstalled InstallStatus = "not-installed"
	StatusDownloading  InstallStatus = "downloading"
	StatusInstalled    InstallStatus = "installed"
	StatusCorrupt      InstallStatus = "corrupt"
)

// Version 描述远程或本地 Node.js 版本的核心元数据，以 Number 唯一标识。
type Version struct {
	Number      string        // 纯版本号，例如 20.1.0
	FullName    string        // 完整版本字符串，例如 v20.1.0
	LTS         string        // LTS 代号（例如 Iron），非 LTS 为空
	DownloadURL string        // 可下载的 URL
	FileName    string        // 下载安装包的文件名
	Checksum    string        // 官方 SHASUMS256 中的校验值
	Platform    string        // 平台标识，例如 linux-x64
	InstallPath string        // 本地安装路径（如果已安装）
	Status      InstallStatus // 安装状态
	IsDefault   bool          // 是否为 default 链接指向的版本
	InSession   bool          // 是否为当前 shell 会话使用的版本
	InstalledAt time.Time     // 安装时间
	ReleasedAt  time.Time     // 发布日期
}

// Installed 报告该版本是否已完整安装并通过校验。
func (v Version) Installed() bool {
	return v.Status == StatusInstalled
}

// Tag 返回带 v 前缀的版本字符串，例如 v20.1.0。
func (v Version) Tag() string {
	if v.FullName != "" {
		return v.FullName
	}
	return "v" + v.Number
}

// IsLTS 报告该版本是否带有 LTS 标记。
func (v Version) IsLTS() bool {
	return v.LTS != ""
}

// RemoteIndex 是远程版本目录在某一时刻的快照。
type RemoteIndex struct {
	Versions  []Version // 按版本号降序排列
	FetchedAt time.Time // 抓取时间
	Stale     bool      // 网络失败后回退到过期缓存时为 true
	Source    string    // network、memory 或 disk
}

// Find 在快照中查找指定版本号。
func (r *RemoteIndex) Find(number string) (Version, bool) {
	if r == nil {
		return Version{}, false
	}
	for _, v := range r.Versions {
		if v.Number == number {
			return v, true
		}
	}
	return Version{}, false
}
