package asr

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/audio"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/retry"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/transport"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// Recorder 分段级别的指标记录
type Recorder interface {
	SegmentDone(service, status string, elapsed time.Duration)
	RetryScheduled(service string, delay time.Duration)
	BytesSent(n int64)
}

type nopRecorder struct{}

func (nopRecorder) SegmentDone(string, string, time.Duration) {}
func (nopRecorder) RetryScheduled(string, time.Duration)      {}
func (nopRecorder) BytesSent(int64)                           {}

// Hooks 单个分段的回调，均可为空
type Hooks struct {
	// FileName 发送时使用的文件名，为空时按序号生成
	FileName string
	// OnBytes 上传字节进度
	OnBytes transport.ProgressFunc
	// OnRetry 即将重试，attempt 从1开始
	OnRetry func(attempt int, delay time.Duration, err error)
	// OnCountdown 重试等待倒计时
	OnCountdown func(remaining int)
	// OnCached 命中缓存
	OnCached func()
}

// Transcriber 单个分段的转写：切片、发送、带重试调用服务、时间映射
type Transcriber struct {
	Selector        *Selector
	ServiceName     string
	Policy          retry.Policy
	Language        string
	Credentials     Credentials
	MaxSegmentBytes int64               // 0 表示不限制
	Uploader        *transport.Uploader // 非空时先上传到对象存储
	Cache           *Cache
	Recorder        Recorder
	RetryOptions    []retry.Option
}

// NewTranscriber 创建分段转写器
func NewTranscriber(selector *Selector, serviceName string, policy retry.Policy) *Transcriber {
	if serviceName == "" {
		serviceName = ServiceAuto
	}
	return &Transcriber{
		Selector:    selector,
		ServiceName: serviceName,
		Policy:      policy,
		Recorder:    nopRecorder{},
	}
}

// Transcribe 转写一个分段，失败时返回带分段序号的 *utils.SegmentError
func (t *Transcriber) Transcribe(ctx context.Context, slicer audio.Slicer, segment models.AudioSegment, hooks Hooks) (*models.TranscriptionSegment, error) {
	result, err := t.transcribe(ctx, slicer, segment, hooks)
	if err != nil {
		return nil, &utils.SegmentError{Index: segment.Index, Cause: err}
	}
	return result, nil
}

func (t *Transcriber) transcribe(ctx context.Context, slicer audio.Slicer, segment models.AudioSegment, hooks Hooks) (*models.TranscriptionSegment, error) {
	recorder := t.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	payload, err := slicer.Slice(ctx, segment.TransmitStart(), segment.TransmitEnd())
	if err != nil {
		return nil, fmt.Errorf("切片失败: %w", err)
	}
	if t.MaxSegmentBytes > 0 && payload.Size() > t.MaxSegmentBytes && t.Uploader == nil {
		return nil, utils.NewFileTooLarge(payload.Size(), t.MaxSegmentBytes)
	}

	service, err := t.Selector.Select(t.ServiceName)
	if err != nil {
		return nil, err
	}

	var cacheKey string
	if t.Cache != nil {
		cacheKey, err = t.Cache.Key(service.Name(), segment, payload)
		if err != nil {
			utils.Warn("分段%d计算缓存键失败: %v", segment.Index, err)
		} else if cached, ok := t.Cache.Load(cacheKey); ok && cached.Index == segment.Index {
			utils.Info("分段%d从缓存加载识别结果", segment.Index)
			if hooks.OnCached != nil {
				hooks.OnCached()
			}
			recorder.SegmentDone(service.Name(), "cached", 0)
			return cached, nil
		}
	}

	fileName := hooks.FileName
	if fileName == "" {
		fileName = fmt.Sprintf("segment_%03d.mp3", segment.Index)
	}

	req := &Request{
		SegmentIndex: segment.Index,
		FileName:     fileName,
		Language:     t.Language,
		Credentials:  t.Credentials,
	}

	// 进度只增不减，重试时不回退；上一次尝试的写协程可能仍在上报
	var (
		mu       sync.Mutex
		reported int64
	)
	onBytes := func(sent, total int64) {
		mu.Lock()
		defer mu.Unlock()
		if sent <= reported {
			return
		}
		recorder.BytesSent(sent - reported)
		reported = sent
		if hooks.OnBytes != nil {
			hooks.OnBytes(sent, total)
		}
	}

	if t.Uploader != nil {
		handle, err := t.Uploader.Upload(ctx, payload, fileName, onBytes)
		if err != nil {
			return nil, fmt.Errorf("上传分段失败: %w", err)
		}
		req.Handle = handle
	} else {
		req.Audio = payload
		req.OnProgress = onBytes
	}

	started := time.Now()
	opts := append([]retry.Option{
		retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			utils.Warn("分段%d识别失败，%.1f秒后第%d次重试: %v", segment.Index, delay.Seconds(), attempt, err)
			recorder.RetryScheduled(service.Name(), delay)
			if hooks.OnRetry != nil {
				hooks.OnRetry(attempt, delay, err)
			}
		}),
		retry.WithOnCountdown(func(remaining int) {
			if hooks.OnCountdown != nil {
				hooks.OnCountdown(remaining)
			}
		}),
	}, t.RetryOptions...)

	resp, err := retry.Execute(ctx, t.Policy, func(ctx context.Context) (*Response, error) {
		return service.Transcribe(ctx, req)
	}, opts...)
	t.Selector.ReportResult(service.Name(), err == nil)
	if err != nil {
		recorder.SegmentDone(service.Name(), string(utils.CodeOf(err)), time.Since(started))
		return nil, err
	}
	recorder.SegmentDone(service.Name(), "ok", time.Since(started))

	result := MapSegment(segment, resp)
	utils.Debug("分段%d识别完成: %d 段文本, 服务 %s, 耗时 %s", segment.Index, len(result.TextSpans),
		service.Name(), time.Since(started).Round(time.Millisecond))

	if cacheKey != "" {
		if err := t.Cache.Save(cacheKey, result); err != nil {
			utils.Warn("保存分段%d缓存失败: %v", segment.Index, err)
		}
	}
	return result, nil
}

// MapSegment 把服务返回的相对时间映射到整段录音的绝对时间
// absoluteStart = segment.StartTime + startOffset
func MapSegment(segment models.AudioSegment, resp *Response) *models.TranscriptionSegment {
	result := &models.TranscriptionSegment{
		Index:     segment.Index,
		StartTime: segment.StartTime,
		EndTime:   segment.EndTime,
		TextSpans: make([]models.TextSpan, 0, len(resp.Spans)),
	}
	for _, span := range resp.Spans {
		text := strings.TrimSpace(span.Text)
		if text == "" {
			continue
		}
		duration := span.EndOffset - span.StartOffset
		if duration < 0 {
			duration = 0
		}
		result.TextSpans = append(result.TextSpans, models.TextSpan{
			Text:              text,
			RelativeTimestamp: span.StartOffset,
			Duration:          duration,
			AbsoluteStart:     segment.StartTime + span.StartOffset,
			SegmentIndex:      segment.Index,
		})
	}
	return result
}

// SegmentFileName 分段发送时使用的文件名
func SegmentFileName(recordingPath string, index int) string {
	ext := filepath.Ext(recordingPath)
	if ext == "" {
		ext = ".mp3"
	}
	return fmt.Sprintf("%s_part%03d%s", utils.BaseNameWithoutExt(recordingPath), index+1, ext)
}
