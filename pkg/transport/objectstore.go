package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/retry"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// Handle 上传完成后的资源句柄
type Handle struct {
	Key         string `json:"key"`
	UploadID    string `json:"upload_id"`
	DownloadURL string `json:"download_url"`
}

// Uploader 对象存储分片上传：申请上传 -> 逐片 PUT 收集 ETag -> 提交
type Uploader struct {
	Client    *Client
	Endpoint  string
	APIKey    string
	PartSize  int64
	ChunkSize int64
	MaxSize   int64 // 存储端自身的上限，0 表示不限制
	Timeout   time.Duration
	Policy    retry.Policy
}

// NewUploader 创建上传器
func NewUploader(client *Client, endpoint, apiKey string) *Uploader {
	return &Uploader{
		Client:    client,
		Endpoint:  strings.TrimRight(endpoint, "/"),
		APIKey:    apiKey,
		PartSize:  DefaultPartSize,
		ChunkSize: DefaultChunkSize,
		Timeout:   2 * time.Minute,
		Policy:    retry.DefaultPolicy(),
	}
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type createUploadResponse struct {
	UploadID   string   `json:"upload_id"`
	Key        string   `json:"key"`
	PartSize   int64    `json:"part_size"`
	UploadURLs []string `json:"upload_urls"`
}

// Upload 上传 payload，name 只用于生成存储键的后缀
func (u *Uploader) Upload(ctx context.Context, payload Payload, name string, onProgress ProgressFunc) (*Handle, error) {
	total := payload.Size()
	if u.MaxSize > 0 && total > u.MaxSize {
		return nil, utils.NewFileTooLarge(total, u.MaxSize)
	}
	if total == 0 {
		return nil, utils.NewValidationError("上传内容为空: %s", name)
	}

	key := uuid.NewString() + path.Ext(name)

	// 申请上传
	created, err := u.requestUpload(ctx, key, total)
	if err != nil {
		return nil, fmt.Errorf("申请上传失败: %w", err)
	}
	partSize := u.PartSize
	if created.PartSize > 0 {
		partSize = created.PartSize
	}
	parts := int((total + partSize - 1) / partSize)
	utils.Info("申请上传成功, 总计大小%s, %d分片, 分片大小%s: %s",
		utils.FormatFileSize(total), parts, utils.FormatFileSize(partSize), key)

	// 上传分片，重试时不回退已上报的进度
	var reported int64
	report := func(sent int64) {
		if onProgress != nil && sent > reported {
			reported = sent
			onProgress(sent, total)
		}
	}
	etags := make([]string, parts)
	for i := 0; i < parts; i++ {
		offset := int64(i) * partSize
		length := partSize
		if offset+length > total {
			length = total - offset
		}

		dest := u.partURL(created, i)
		part := RangeOf(payload, offset, length)
		etag, err := retry.Execute(ctx, u.Policy, func(ctx context.Context) (string, error) {
			return u.uploadPart(ctx, part, dest, func(sent, _ int64) {
				report(offset + sent)
			})
		}, retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			utils.Warn("分片%d上传失败，%.1f秒后第%d次重试: %v", i, delay.Seconds(), attempt, err)
		}))
		if err != nil {
			return nil, fmt.Errorf("分片%d上传失败: %w", i, err)
		}
		etags[i] = etag
		utils.Debug("分片%d上传成功: %s", i, etag)
	}

	// 提交上传
	handle, err := u.commitUpload(ctx, created, etags)
	if err != nil {
		return nil, fmt.Errorf("提交上传失败: %w", err)
	}
	utils.Info("提交成功，获取下载URL: %s", handle.DownloadURL)
	return handle, nil
}

func (u *Uploader) requestUpload(ctx context.Context, key string, size int64) (*createUploadResponse, error) {
	body := map[string]interface{}{
		"key":       key,
		"size":      size,
		"part_size": u.PartSize,
	}
	var created createUploadResponse
	if err := u.postJSON(ctx, u.Endpoint+"/uploads", body, &created); err != nil {
		return nil, err
	}
	if created.UploadID == "" {
		return nil, fmt.Errorf("响应格式错误: 缺少upload_id")
	}
	if created.Key == "" {
		created.Key = key
	}
	return &created, nil
}

func (u *Uploader) partURL(created *createUploadResponse, index int) string {
	if index < len(created.UploadURLs) && created.UploadURLs[index] != "" {
		return created.UploadURLs[index]
	}
	return fmt.Sprintf("%s/uploads/%s/parts/%d", u.Endpoint, created.UploadID, index+1)
}

func (u *Uploader) uploadPart(ctx context.Context, part Payload, dest string, onProgress ProgressFunc) (string, error) {
	resp, err := u.Client.Send(ctx, part, dest, Options{
		Method:      http.MethodPut,
		ChunkSize:   u.ChunkSize,
		Timeout:     u.Timeout,
		ContentType: "application/octet-stream",
		Header:      u.authHeader(),
		OnProgress:  onProgress,
	})
	if err != nil {
		return "", err
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if etag == "" {
		// 如果没有Etag，尝试从响应体获取
		var result struct {
			ETag string `json:"etag"`
		}
		if json.Unmarshal(resp.Body, &result) == nil {
			etag = result.ETag
		}
	}
	if etag == "" {
		return "", retry.Permanent(fmt.Errorf("未获取到Etag"))
	}
	return etag, nil
}

func (u *Uploader) commitUpload(ctx context.Context, created *createUploadResponse, etags []string) (*Handle, error) {
	body := map[string]interface{}{
		"key":   created.Key,
		"etags": etags,
	}
	var handle Handle
	if err := u.postJSON(ctx, fmt.Sprintf("%s/uploads/%s/complete", u.Endpoint, created.UploadID), body, &handle); err != nil {
		return nil, err
	}
	handle.UploadID = created.UploadID
	if handle.Key == "" {
		handle.Key = created.Key
	}
	return &handle, nil
}

// postJSON 发送JSON请求并解析 {code, message, data} 包装，带重试
func (u *Uploader) postJSON(ctx context.Context, url string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("JSON编码失败: %w", err)
	}

	return retry.Do(ctx, u.Policy, func(ctx context.Context) error {
		resp, err := u.Client.Send(ctx, BytesPayload(data), url, Options{
			Method:      http.MethodPost,
			Timeout:     u.Timeout,
			ContentType: "application/json",
			Header:      u.authHeader(),
		})
		if err != nil {
			return err
		}

		var envelope apiEnvelope
		if err := json.Unmarshal(resp.Body, &envelope); err != nil {
			return retry.Permanent(fmt.Errorf("解析JSON响应失败: %w", err))
		}
		if envelope.Code != 0 {
			return retry.Permanent(fmt.Errorf("存储服务返回错误 %d: %s", envelope.Code, envelope.Message))
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return retry.Permanent(fmt.Errorf("响应格式错误: %w", err))
		}
		return nil
	})
}

func (u *Uploader) authHeader() http.Header {
	h := http.Header{}
	if u.APIKey != "" {
		h.Set("Authorization", "Bearer "+u.APIKey)
	}
	return h
}
