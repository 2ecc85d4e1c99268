package utils

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrorCode 稳定的、机器可读的错误码，最终呈现给调用方
type ErrorCode string

const (
	CodeValidation     ErrorCode = "VALIDATION"
	CodeFileTooLarge   ErrorCode = "FILE_TOO_LARGE"
	CodeTransport      ErrorCode = "TRANSPORT"
	CodeAuth           ErrorCode = "AUTH"
	CodeSegmentation   ErrorCode = "SEGMENTATION"
	CodeSegmentsFailed ErrorCode = "SEGMENTS_FAILED"
	CodeIncomplete     ErrorCode = "INCOMPLETE_RESULT"
	CodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"
	CodeCanceled       ErrorCode = "CANCELED"
	CodeInternal       ErrorCode = "INTERNAL"
)

// ErrFileTooLarge 文件超过大小上限
var ErrFileTooLarge = errors.New("file too large")

// AppError 是应用错误的基础类型
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

// Unwrap 支持error chain
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewError 创建一个新的AppError
func NewError(code ErrorCode, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// NewValidationError 输入无效，不重试，立即失败
func NewValidationError(format string, args ...interface{}) error {
	return &AppError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewAuthError 认证失败，永不重试
func NewAuthError(message string, cause error) error {
	return &AppError{Code: CodeAuth, Message: message, Cause: cause}
}

// NewSegmentationError 分段失败，整个任务失败
func NewSegmentationError(format string, args ...interface{}) error {
	return &AppError{Code: CodeSegmentation, Message: fmt.Sprintf(format, args...)}
}

// NewIncompleteResultError 分段结果缺失
func NewIncompleteResultError(format string, args ...interface{}) error {
	return &AppError{Code: CodeIncomplete, Message: fmt.Sprintf(format, args...)}
}

// NewFileTooLarge 超过大小上限，在读取内容之前判定
func NewFileTooLarge(size, max int64) error {
	return &AppError{
		Code:    CodeFileTooLarge,
		Message: fmt.Sprintf("文件大小 %s 超过上限 %s", FormatFileSize(size), FormatFileSize(max)),
		Cause:   ErrFileTooLarge,
	}
}

// TransportKind 传输失败的分类
type TransportKind int

const (
	TransportNetwork TransportKind = iota
	TransportTimeout
	TransportHTTP
)

func (k TransportKind) String() string {
	switch k {
	case TransportNetwork:
		return "network"
	case TransportTimeout:
		return "timeout"
	case TransportHTTP:
		return "http"
	}
	return "unknown"
}

// TransportError 网络/超时/HTTP状态错误
// RetryAfter 为服务端给出的重试间隔提示，0 表示没有提示
type TransportError struct {
	Kind       TransportKind
	Status     int
	RetryAfter time.Duration
	Body       string
	Cause      error
}

// Error 实现error接口
func (e *TransportError) Error() string {
	var b strings.Builder
	switch e.Kind {
	case TransportHTTP:
		fmt.Fprintf(&b, "HTTP错误 %d", e.Status)
		if e.Body != "" {
			fmt.Fprintf(&b, ": %s", truncate(e.Body, 200))
		}
	case TransportTimeout:
		b.WriteString("请求超时")
	default:
		b.WriteString("网络错误")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap 支持error chain
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// HasRetryAfter 是否携带重试提示
func (e *TransportError) HasRetryAfter() bool {
	return e.RetryAfter > 0
}

// NewHTTPError 构造HTTP状态错误
func NewHTTPError(status int, body string, retryAfter time.Duration) *TransportError {
	return &TransportError{Kind: TransportHTTP, Status: status, Body: body, RetryAfter: retryAfter}
}

// NewNetworkError 构造网络层错误
func NewNetworkError(cause error) *TransportError {
	return &TransportError{Kind: TransportNetwork, Cause: cause}
}

// NewTimeoutError 构造超时错误
func NewTimeoutError(cause error) *TransportError {
	return &TransportError{Kind: TransportTimeout, Cause: cause}
}

// SegmentError 单个分段在重试耗尽后的失败
type SegmentError struct {
	Index int
	Cause error
}

// Error 实现error接口
func (e *SegmentError) Error() string {
	return fmt.Sprintf("分段 %d 转写失败: %v", e.Index, e.Cause)
}

// Unwrap 支持error chain
func (e *SegmentError) Unwrap() error {
	return e.Cause
}

// AggregateSegmentError 汇总所有失败的分段
type AggregateSegmentError struct {
	Failures []*SegmentError
}

// NewAggregateSegmentError 按分段序号排序后构造
func NewAggregateSegmentError(failures []*SegmentError) *AggregateSegmentError {
	sorted := make([]*SegmentError, len(failures))
	copy(sorted, failures)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	return &AggregateSegmentError{Failures: sorted}
}

// Error 实现error接口
func (e *AggregateSegmentError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("[%d] %v", f.Index, f.Cause))
	}
	return fmt.Sprintf("%d 个分段转写失败: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Indices 返回失败的分段序号
func (e *AggregateSegmentError) Indices() []int {
	out := make([]int, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Index)
	}
	return out
}

// Unwrap 返回全部分段错误，errors.Is/As 可以遍历
func (e *AggregateSegmentError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f)
	}
	return out
}

// CodeOf 解析任意错误链上的错误码
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var agg *AggregateSegmentError
	if errors.As(err, &agg) {
		return CodeSegmentsFailed
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return CodeTransport
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCanceled
	}
	var coded interface{ ErrorCode() ErrorCode }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return CodeInternal
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// 不在多字节字符中间截断
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
