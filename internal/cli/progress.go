package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/liangyou/nodevm/internal/version"
)

// ProgressPrinter 返回在 w 上原地刷新下载进度的回调。
// 总大小已知时按百分比刷新，否则每 1 MiB 刷新一次。
func ProgressPrinter(w io.Writer) version.ProgressFunc {
	lastPercent := int64(-1)
	var lastBytes int64
	return func(downloaded, total int64) {
		if total > 0 {
			percent := downloaded * 100 / total
			if percent == lastPercent {
				return
			}
			lastPercent = percent
			fmt.Fprintf(w, "\rDownloading %s / %s (%d%%)", humanize.IBytes(uint64(downloaded)), humanize.IBytes(uint64(total)), percent)
			if downloaded >= total {
				fmt.Fprintln(w)
			}
			return
		}
		if downloaded-lastBytes < 1<<20 {
			return
		}
		lastBytes = downloaded
		fmt.Fprintf(w, "\rDownloading %s", humanize.IBytes(uint64(downloaded)))
	}
}
