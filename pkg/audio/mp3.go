package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/tcolgate/mp3"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/transport"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

type mp3Frame struct {
	offset int64   // 帧在文件中的字节偏移
	size   int64   // 帧字节数
	start  float64 // 帧起始时间（秒）
}

// MP3Slicer 基于帧索引的 MP3 切片，切点对齐到帧边界，不重新编码
type MP3Slicer struct {
	path     string
	frames   []mp3Frame
	duration float64
}

// countingReader 记录解码器已经消费的字节数
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// NewMP3Slicer 扫描全部帧建立索引
func NewMP3Slicer(path string) (*MP3Slicer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开MP3失败: %w", err)
	}
	defer f.Close()

	counter := &countingReader{r: bufio.NewReaderSize(f, 64*1024)}
	decoder := mp3.NewDecoder(counter)

	var (
		frame   mp3.Frame
		skipped int
		frames  []mp3Frame
		elapsed float64
	)
	for {
		if err := decoder.Decode(&frame, &skipped); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			if len(frames) > 0 {
				// 尾部残缺帧，忽略
				utils.Warn("MP3尾部解析失败，已忽略: %v", err)
				break
			}
			return nil, utils.NewError(utils.CodeValidation, "不是有效的MP3文件", err)
		}

		size := int64(frame.Size())
		frames = append(frames, mp3Frame{offset: counter.n - size, size: size, start: elapsed})
		elapsed += frame.Duration().Seconds()
	}

	if len(frames) == 0 {
		return nil, utils.NewValidationError("MP3文件中没有音频帧: %s", path)
	}

	utils.Debug("MP3索引完成: %d 帧, 时长 %s", len(frames), utils.FormatTimeDuration(elapsed))
	return &MP3Slicer{path: path, frames: frames, duration: elapsed}, nil
}

// Duration 总时长（秒）
func (s *MP3Slicer) Duration() float64 {
	return s.duration
}

// Slice 返回覆盖 [start, end) 的完整帧
func (s *MP3Slicer) Slice(ctx context.Context, start, end float64) (transport.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if end <= start {
		return nil, utils.NewSegmentationError("切片范围无效: [%.2f, %.2f)", start, end)
	}

	// 第一个结束时间晚于 start 的帧
	first := sort.Search(len(s.frames), func(i int) bool {
		next := s.duration
		if i+1 < len(s.frames) {
			next = s.frames[i+1].start
		}
		return next > start
	})
	// 第一个起始时间不早于 end 的帧
	last := sort.Search(len(s.frames), func(i int) bool {
		return s.frames[i].start >= end
	})
	if first >= len(s.frames) || last <= first {
		return nil, utils.NewSegmentationError("切片范围超出音频: [%.2f, %.2f)", start, end)
	}

	from := s.frames[first].offset
	to := s.frames[last-1].offset + s.frames[last-1].size
	return &transport.SectionPayload{Path: s.path, Offset: from, Length: to - from}, nil
}

// Close MP3 切片不持有文件句柄
func (s *MP3Slicer) Close() error {
	return nil
}
