package export

import (
	"fmt"
	"strings"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// minCueSeconds 服务没有给出时长时字幕的默认显示时间
const minCueSeconds = 5.0

// GenerateSRT 生成SRT格式内容，序号连续，时间取整段录音的绝对时间
func GenerateSRT(transcript *models.Transcript) string {
	var srtLines []string

	cue := 0
	for i, span := range transcript.Spans {
		text := strings.TrimSpace(span.Text)
		if text == "" {
			continue
		}

		start := span.AbsoluteStart
		end := span.AbsoluteEnd()
		if end <= start {
			// 确保结束时间大于开始时间，且不压到下一条
			end = start + minCueSeconds
			if i+1 < len(transcript.Spans) {
				if next := transcript.Spans[i+1].AbsoluteStart; next > start && next < end {
					end = next
				}
			}
		}

		cue++
		srtLines = append(srtLines,
			fmt.Sprintf("%d", cue),
			fmt.Sprintf("%s --> %s", utils.FormatSRTTime(start), utils.FormatSRTTime(end)),
			text,
			"", // 空行分隔
		)
	}

	return strings.Join(srtLines, "\n")
}
