package logx

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// New 创建带 nvm 前缀的结构化日志器。level 无法识别时使用 info。
func New(w io.Writer, level string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = log.InfoLevel
	}
	return log.NewWithOptions(w, log.Options{
		Prefix: "nvm",
		Level:  lvl,
	})
}

// Discard 返回丢弃所有输出的日志器，作为各组件的默认值。
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// OrDiscard 在 logger 为 nil 时返回 Discard()。
func OrDiscard(logger *log.Logger) *log.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}
