package export

import (
	"strings"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
)

// TranscriptSegment 表示字幕的一个片段
type TranscriptSegment struct {
	Start   float64 `json:"start"`   // 开始时间（秒）
	End     float64 `json:"end"`     // 结束时间（秒）
	Text    string  `json:"text"`    // 该段文字
	Segment int     `json:"segment"` // 来源分段
}

// TranscriptResult 表示整个转录结果
type TranscriptResult struct {
	Language  string              `json:"language,omitempty"`
	FullText  string              `json:"full_text"` // 完整合并后的文本（用于摘要）
	Duration  float64             `json:"duration"`
	WordCount int                 `json:"word_count"`
	Segments  []TranscriptSegment `json:"segments"`
	Summary   *models.Summary     `json:"summary,omitempty"`
}

// GenerateJSON 根据文本稿生成 TranscriptResult
func GenerateJSON(transcript *models.Transcript, summary *models.Summary, language string) TranscriptResult {
	result := TranscriptResult{
		Language:  language,
		Duration:  transcript.Duration,
		WordCount: transcript.WordCount,
		Segments:  make([]TranscriptSegment, 0, len(transcript.Spans)),
		Summary:   summary,
	}

	texts := make([]string, 0, len(transcript.Spans))
	for _, span := range transcript.Spans {
		text := strings.TrimSpace(span.Text)
		if text == "" {
			continue
		}
		texts = append(texts, text)

		end := span.AbsoluteEnd()
		if end <= span.AbsoluteStart {
			end = span.AbsoluteStart + minCueSeconds
		}
		result.Segments = append(result.Segments, TranscriptSegment{
			Start:   span.AbsoluteStart,
			End:     end,
			Text:    text,
			Segment: span.SegmentIndex,
		})
	}
	result.FullText = strings.Join(texts, " ")

	return result
}
