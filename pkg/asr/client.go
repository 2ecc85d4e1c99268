package asr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/transport"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// HTTPService 通过 HTTP 调用的转写服务
// 直接发送时使用 multipart/form-data 流式上传音频，已上传时只发送 JSON 引用
type HTTPService struct {
	ServiceName string
	Endpoint    string
	Client      *transport.Client
	ChunkSize   int64
	MaxSize     int64 // 单次请求音频上限，0 表示不限制
	Timeout     time.Duration
}

// NewHTTPService 创建 HTTP 转写服务
func NewHTTPService(name, endpoint string, client *transport.Client) *HTTPService {
	if client == nil {
		client = transport.NewClient(nil)
	}
	return &HTTPService{
		ServiceName: name,
		Endpoint:    strings.TrimRight(endpoint, "/"),
		Client:      client,
		ChunkSize:   transport.DefaultChunkSize,
		Timeout:     2 * time.Minute,
	}
}

// Name 实现 Service 接口
func (s *HTTPService) Name() string {
	return s.ServiceName
}

type urlRequest struct {
	AudioURL     string `json:"audio_url"`
	Key          string `json:"key"`
	Language     string `json:"language,omitempty"`
	SegmentIndex int    `json:"segment_index"`
}

// Transcribe 实现 Service 接口
func (s *HTTPService) Transcribe(ctx context.Context, req *Request) (*Response, error) {
	if req.Audio == nil && req.Handle == nil {
		return nil, utils.NewValidationError("分段%d没有可发送的音频", req.SegmentIndex)
	}

	header := http.Header{}
	if req.Credentials.APIKey != "" {
		header.Set("Authorization", "Bearer "+req.Credentials.APIKey)
	}

	var (
		payload transport.Payload
		opts    = transport.Options{
			Method:     http.MethodPost,
			ChunkSize:  s.ChunkSize,
			Timeout:    s.Timeout,
			Header:     header,
			OnProgress: req.OnProgress,
		}
	)

	if req.Handle != nil {
		body, err := json.Marshal(urlRequest{
			AudioURL:     req.Handle.DownloadURL,
			Key:          req.Handle.Key,
			Language:     req.Language,
			SegmentIndex: req.SegmentIndex,
		})
		if err != nil {
			return nil, fmt.Errorf("编码请求失败: %w", err)
		}
		payload = transport.BytesPayload(body)
		opts.ContentType = "application/json"
	} else {
		fields := map[string]string{
			"segment_index": strconv.Itoa(req.SegmentIndex),
		}
		if req.Language != "" {
			fields["language"] = req.Language
		}
		if s.MaxSize > 0 && req.Audio.Size() > s.MaxSize {
			return nil, utils.NewFileTooLarge(req.Audio.Size(), s.MaxSize)
		}
		form, err := transport.NewMultipartPayload(fields, "file", req.FileName, req.Audio)
		if err != nil {
			return nil, fmt.Errorf("创建表单失败: %w", err)
		}
		payload = form
		opts.ContentType = form.ContentType()
	}

	resp, err := s.Client.Send(ctx, payload, s.Endpoint, opts)
	if err != nil {
		var transportErr *utils.TransportError
		if errors.As(err, &transportErr) && transportErr.Kind == utils.TransportHTTP &&
			(transportErr.Status == http.StatusUnauthorized || transportErr.Status == http.StatusForbidden) {
			return nil, utils.NewAuthError(fmt.Sprintf("%s 鉴权失败", s.ServiceName), err)
		}
		return nil, err
	}

	return parseResponse(resp.Body)
}

// envelope 兼容 {"data": {...}} 包装与直接返回两种格式
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func parseResponse(body []byte) (*Response, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, utils.NewError(utils.CodeTransport, "解析识别结果失败", err)
	}
	if env.Code != 0 {
		return nil, utils.NewError(utils.CodeTransport, fmt.Sprintf("识别服务返回错误(%d): %s", env.Code, env.Message), nil)
	}

	raw := body
	if len(env.Data) > 0 && string(env.Data) != "null" {
		raw = env.Data
	}

	var result Response
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, utils.NewError(utils.CodeTransport, "解析识别结果失败", err)
	}
	return &result, nil
}
