package segmenter

import (
	"fmt"
	"math"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// 默认窗口与重叠长度（秒）
const (
	DefaultWindowDuration  = 900.0
	DefaultOverlapDuration = 2.0
)

// ProgressCallback 进度回调函数类型
type ProgressCallback func(current, total int, message string)

// Options 分段参数
type Options struct {
	WindowDuration  float64
	OverlapDuration float64
}

// DefaultOptions 默认分段参数
func DefaultOptions() Options {
	return Options{WindowDuration: DefaultWindowDuration, OverlapDuration: DefaultOverlapDuration}
}

// Split 把总时长切成有序的时间窗口
// 规范边界首尾相接覆盖 [0, totalDuration)，非首段向前、非末段向后各多带 OverlapDuration 的音频
func Split(totalDuration float64, opts Options, onProgress ProgressCallback) ([]models.AudioSegment, error) {
	if err := validate(totalDuration, opts); err != nil {
		return nil, err
	}

	window := opts.WindowDuration
	overlap := opts.OverlapDuration

	if totalDuration <= window {
		seg := models.AudioSegment{
			Index:     0,
			StartTime: 0,
			EndTime:   totalDuration,
			Duration:  totalDuration,
		}
		if onProgress != nil {
			onProgress(1, 1, "分段 1/1")
		}
		return []models.AudioSegment{seg}, nil
	}

	count := int(math.Ceil(totalDuration / window))
	segments := make([]models.AudioSegment, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i) * window
		end := math.Min(totalDuration, float64(i+1)*window)

		seg := models.AudioSegment{
			Index:     i,
			StartTime: start,
			EndTime:   end,
			Duration:  end - start,
		}
		if i > 0 {
			seg.OverlapStart = math.Min(overlap, start)
		}
		if i < count-1 {
			seg.OverlapEnd = math.Min(overlap, totalDuration-end)
		}
		segments = append(segments, seg)

		utils.Debug("分段 %d: [%.2f, %.2f) 发送范围 [%.2f, %.2f)",
			i, seg.StartTime, seg.EndTime, seg.TransmitStart(), seg.TransmitEnd())
		if onProgress != nil {
			onProgress(i+1, count, fmt.Sprintf("分段 %d/%d", i+1, count))
		}
	}

	return segments, nil
}

func validate(totalDuration float64, opts Options) error {
	switch {
	case math.IsNaN(totalDuration) || math.IsInf(totalDuration, 0) || totalDuration <= 0:
		return utils.NewSegmentationError("音频时长无效: %v", totalDuration)
	case math.IsNaN(opts.WindowDuration) || opts.WindowDuration <= 0:
		return utils.NewSegmentationError("窗口长度无效: %v", opts.WindowDuration)
	case math.IsNaN(opts.OverlapDuration) || opts.OverlapDuration < 0:
		return utils.NewSegmentationError("重叠长度无效: %v", opts.OverlapDuration)
	case opts.OverlapDuration >= opts.WindowDuration:
		return utils.NewSegmentationError("重叠长度 %.2f 必须小于窗口长度 %.2f", opts.OverlapDuration, opts.WindowDuration)
	}
	return nil
}
