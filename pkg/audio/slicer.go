package audio

import (
	"context"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/transport"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// Slicer 把录音的一段时间范围变成可发送的字节
type Slicer interface {
	// Duration 录音总时长（秒）
	Duration() float64
	// Slice 返回 [start, end) 对应的字节，可以多次打开
	Slice(ctx context.Context, start, end float64) (transport.Payload, error)
	// Close 释放索引与临时文件
	Close() error
}

// SlicerFactory 根据录音创建切片器
type SlicerFactory func(rec *Recording) (Slicer, error)

// NewSlicerFactory 默认工厂：MP3/WAV 直接按字节范围切片，其余格式交给 ffmpeg
func NewSlicerFactory(tempDir string) SlicerFactory {
	return func(rec *Recording) (Slicer, error) {
		return NewSlicer(rec, tempDir)
	}
}

// NewSlicer 按格式选择切片实现
func NewSlicer(rec *Recording, tempDir string) (Slicer, error) {
	switch rec.Format {
	case FormatMP3:
		return NewMP3Slicer(rec.Path)
	case FormatWAV:
		return NewWAVSlicer(rec.Path)
	}
	if !utils.CheckFFmpeg() {
		return nil, utils.NewValidationError("格式 %s 需要 ffmpeg，但未在PATH中找到", rec.Name())
	}
	return NewFFmpegSlicer(rec.Path, tempDir)
}
