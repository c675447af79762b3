// Package nvmerr 定义 nvm 各组件共享的错误分类。
//
// 每个错误带有一个 Code，调用方通过 errors.Is 与本包导出的哨兵值比较来判断类别，
// 而不依赖错误文本。
package nvmerr

import (
	"errors"
	"fmt"
)

// Code 表示错误类别。
type Code string

const (
	CodeParse               Code = "PARSE"                // 版本标识无法识别
	CodeNetwork             Code = "NETWORK"              // 网络失败，可回退到缓存或重试
	CodeNotFound            Code = "NOT_FOUND"            // 没有满足条件的版本
	CodeNoLTSAvailable      Code = "NO_LTS_AVAILABLE"     // 目录中没有 LTS 版本
	CodeChecksumMismatch    Code = "CHECKSUM_MISMATCH"    // 校验值不一致
	CodeDownloadInterrupted Code = "DOWNLOAD_INTERRUPTED" // 下载中断，暂存目录保留
	CodeSwitch              Code = "SWITCH"               // 链接或重命名失败
)

// Error 是带分类的错误。Subject 记录触发错误的版本或版本标识。
type Error struct {
	Code    Code
	Subject string
	Message string
	Err     error
}

// 哨兵值，仅用于 errors.Is 比较。
var (
	ErrParse               = &Error{Code: CodeParse}
	ErrNetwork             = &Error{Code: CodeNetwork}
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrNoLTSAvailable      = &Error{Code: CodeNoLTSAvailable}
	ErrChecksumMismatch    = &Error{Code: CodeChecksumMismatch}
	ErrDownloadInterrupted = &Error{Code: CodeDownloadInterrupted}
	ErrSwitch              = &Error{Code: CodeSwitch}
)

// Error 返回 "CODE (subject): message" 形式的错误文本。
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Subject != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Subject, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap 返回底层错误。
func (e *Error) Unwrap() error { return e.Err }

// Is 按 Code 匹配，使 errors.Is(err, ErrNotFound) 可用。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf 返回错误链中第一个 *Error 的 Code，不存在时返回空字符串。
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsResolution 报告错误是否属于解析失败（NOT_FOUND 或 NO_LTS_AVAILABLE）。
func IsResolution(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoLTSAvailable)
}

// IsInstall 报告错误是否属于安装失败。
func IsInstall(err error) bool {
	return errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrDownloadInterrupted)
}

// Annotate 为已分类的错误补充 Subject，保持 Code 不变；未分类的错误原样返回。
func Annotate(err error, subject string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	if e.Subject == subject {
		return err
	}
	return &Error{Code: e.Code, Subject: subject, Message: e.Message, Err: e.Err}
}

// NewParse 为无法识别的版本标识创建 PARSE 错误。
func NewParse(token, reason string) *Error {
	return &Error{Code: CodeParse, Subject: token, Message: reason}
}

// NewNetwork 包装一次传输失败。
func NewNetwork(subject string, err error) *Error {
	return &Error{Code: CodeNetwork, Subject: subject, Message: "network request failed", Err: err}
}

// NewNotFound 创建 NOT_FOUND 错误。
func NewNotFound(subject, reason string) *Error {
	return &Error{Code: CodeNotFound, Subject: subject, Message: reason}
}

// NewNoLTSAvailable 创建 NO_LTS_AVAILABLE 错误。
func NewNoLTSAvailable(subject string) *Error {
	return &Error{Code: CodeNoLTSAvailable, Subject: subject, Message: "no LTS release in catalog"}
}

// NewChecksumMismatch 创建 CHECKSUM_MISMATCH 错误，消息中包含期望值与实际值。
func NewChecksumMismatch(subject, file, want, got string) *Error {
	return &Error{
		Code:    CodeChecksumMismatch,
		Subject: subject,
		Message: fmt.Sprintf("checksum verification failed for %s, want %s got %s", file, want, got),
	}
}

// NewDownloadInterrupted 记录下载在传输中途停止，部分数据保留在暂存目录。
func NewDownloadInterrupted(subject, staging string, err error) *Error {
	return &Error{
		Code:    CodeDownloadInterrupted,
		Subject: subject,
		Message: fmt.Sprintf("download interrupted, partial data left in %s", staging),
		Err:     err,
	}
}

// NewSwitch 包装切换链接时的文件系统失败。
func NewSwitch(subject, op string, err error) *Error {
	return &Error{Code: CodeSwitch, Subject: subject, Message: op, Err: err}
}
