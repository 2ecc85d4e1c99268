package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

const (
	// DefaultChunkSize 流式读取的块大小
	DefaultChunkSize int64 = 1 << 20
	// DefaultPartSize 分片上传的分片大小
	DefaultPartSize int64 = 5 << 20

	maxResponseBytes = 16 << 20
)

// ProgressFunc 字节进度回调，sent 严格递增
type ProgressFunc func(sent, total int64)

// Options 单次发送的参数
type Options struct {
	Method      string
	ChunkSize   int64
	MaxSize     int64 // 0 表示不限制
	Timeout     time.Duration
	ContentType string
	Header      http.Header
	OnProgress  ProgressFunc
}

// Response 响应
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client 分块流式发送，内存占用只与块大小有关
type Client struct {
	HTTPClient *http.Client
}

// NewClient 创建传输客户端，httpClient 为空时使用不带超时的默认客户端（超时由 Options.Timeout 控制）
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{HTTPClient: httpClient}
}

// Send 把 payload 发送到 destination
func (c *Client) Send(ctx context.Context, payload Payload, destination string, opts Options) (*Response, error) {
	total := payload.Size()
	if opts.MaxSize > 0 && total > opts.MaxSize {
		return nil, utils.NewFileTooLarge(total, opts.MaxSize)
	}

	if opts.Method == "" {
		opts.Method = http.MethodPost
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	sendCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	source, err := payload.Open()
	if err != nil {
		return nil, fmt.Errorf("打开数据源失败: %w", err)
	}
	defer source.Close()

	body := newChunkedReader(source, opts.ChunkSize, total, opts.OnProgress)
	req, err := http.NewRequestWithContext(sendCtx, opts.Method, destination, body)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.ContentLength = total
	if total == 0 {
		req.Body = http.NoBody
	}
	for key, values := range opts.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, classifyError(ctx, sendCtx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyError(ctx, sendCtx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, utils.NewHTTPError(resp.StatusCode, strings.TrimSpace(string(respBody)), ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

// classifyError 把底层错误归类为 Network/Timeout；调用方主动取消时原样返回
func classifyError(parent, sendCtx context.Context, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return parent.Err()
	}
	if errors.Is(sendCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return utils.NewTimeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return utils.NewTimeoutError(err)
	}
	return utils.NewNetworkError(err)
}

// ParseRetryAfter 解析 Retry-After 头（秒数或HTTP日期），无效时返回0
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// chunkedReader 每次从源读取一整块到固定缓冲区，块被消费完后回调进度
type chunkedReader struct {
	source     io.Reader
	buf        []byte
	pending    []byte
	sent       int64
	total      int64
	onProgress ProgressFunc
	err        error
}

func newChunkedReader(source io.Reader, chunkSize, total int64, onProgress ProgressFunc) *chunkedReader {
	if total > 0 && total < chunkSize {
		chunkSize = total
	}
	return &chunkedReader{
		source:     source,
		buf:        make([]byte, chunkSize),
		total:      total,
		onProgress: onProgress,
	}
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		n, err := io.ReadFull(r.source, r.buf)
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		r.pending = r.buf[:n]
		r.err = err
		if n == 0 {
			return 0, r.err
		}
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	r.sent += int64(n)
	if len(r.pending) == 0 && r.onProgress != nil {
		r.onProgress(r.sent, r.total)
	}
	return n, nil
}
