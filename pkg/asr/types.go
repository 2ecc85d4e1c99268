package asr

import (
	"context"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/transport"
)

// Credentials 转写服务凭证
type Credentials struct {
	APIKey string
}

// Request 一次转写请求，Audio 与 Handle 二选一
type Request struct {
	SegmentIndex int
	FileName     string
	Language     string
	Audio        transport.Payload // 直接发送的音频字节
	Handle       *transport.Handle // 已上传到对象存储的音频
	Credentials  Credentials
	OnProgress   transport.ProgressFunc
}

// RawSpan 服务返回的一段文本，时间相对于发送的音频起点（秒）
type RawSpan struct {
	Text        string  `json:"text"`
	StartOffset float64 `json:"start_offset"`
	EndOffset   float64 `json:"end_offset"`
}

// Response 服务返回的识别结果
type Response struct {
	DurationSeconds float64   `json:"duration_seconds"`
	Spans           []RawSpan `json:"spans"`
}

// Service 语音识别服务
type Service interface {
	// Name 服务名称，用于选择器统计与缓存键
	Name() string
	// Transcribe 识别一段音频，失败时返回 TransportError 或 AppError
	Transcribe(ctx context.Context, req *Request) (*Response, error)
}
