package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// 输出文件类型
const (
	KindText     = "txt"
	KindMarkdown = "md"
	KindSRT      = "srt"
	KindJSON     = "json"
)

// Options 导出选项
type Options struct {
	OutputFolder      string
	Markdown          bool
	SRT               bool
	JSON              bool
	IncludeTimestamps bool
	Language          string
}

// OptionsFromConfig 从配置生成导出选项
func OptionsFromConfig(cfg *models.Config) Options {
	return Options{
		OutputFolder:      cfg.OutputFolder,
		Markdown:          cfg.ExportMarkdown,
		SRT:               cfg.ExportSRT,
		JSON:              cfg.ExportJSON,
		IncludeTimestamps: cfg.IncludeTimestamps,
		Language:          cfg.Language,
	}
}

// Exporter 把拼接后的文本稿写成文件，文本始终输出，其余格式按选项输出
type Exporter struct {
	Options Options
	now     func() time.Time
}

// NewExporter 创建导出器
func NewExporter(opts Options) *Exporter {
	return &Exporter{Options: opts, now: time.Now}
}

// Export 导出全部格式，返回 类型 -> 路径
// 文本导出失败返回错误，其余格式失败只记录警告
func (e *Exporter) Export(transcript *models.Transcript, summary *models.Summary, audioPath string) (map[string]string, error) {
	if err := utils.EnsureDirExists(e.Options.OutputFolder); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}
	baseName := utils.BaseNameWithoutExt(audioPath)
	outputFiles := make(map[string]string)

	textPath := filepath.Join(e.Options.OutputFolder, baseName+".txt")
	if err := os.WriteFile(textPath, []byte(e.GenerateText(transcript, baseName)), 0644); err != nil {
		return nil, fmt.Errorf("写入文本文件失败: %w", err)
	}
	outputFiles[KindText] = textPath
	utils.Info("已导出文本: %s", textPath)

	if e.Options.Markdown {
		mdPath := filepath.Join(e.Options.OutputFolder, baseName+".md")
		if err := os.WriteFile(mdPath, []byte(e.GenerateMarkdown(transcript, summary, baseName)), 0644); err != nil {
			utils.Warn("导出Markdown失败: %v", err)
		} else {
			outputFiles[KindMarkdown] = mdPath
			utils.Info("已导出Markdown: %s", mdPath)
		}
	}

	if e.Options.SRT && len(transcript.Spans) > 0 {
		srtPath := filepath.Join(e.Options.OutputFolder, baseName+".srt")
		if err := os.WriteFile(srtPath, []byte(GenerateSRT(transcript)), 0644); err != nil {
			utils.Warn("导出SRT字幕失败: %v", err)
		} else {
			outputFiles[KindSRT] = srtPath
			utils.Info("已导出SRT字幕: %s", srtPath)
		}
	}

	if e.Options.JSON {
		jsonPath := filepath.Join(e.Options.OutputFolder, baseName+".json")
		if err := utils.SaveJSONFile(jsonPath, GenerateJSON(transcript, summary, e.Options.Language)); err != nil {
			utils.Warn("导出JSON文件失败: %v", err)
		} else {
			outputFiles[KindJSON] = jsonPath
			utils.Info("已导出JSON文件: %s", jsonPath)
		}
	}

	return outputFiles, nil
}

// GenerateText 生成纯文本内容
func (e *Exporter) GenerateText(transcript *models.Transcript, title string) string {
	var b strings.Builder
	b.WriteString("# " + title)
	b.WriteString("\n# 处理时间: " + e.now().Format("2006-01-02 15:04:05"))
	b.WriteString(fmt.Sprintf("\n# 时长: %s, %d 个分段, %d 词\n\n",
		utils.FormatTimeDuration(transcript.Duration), transcript.SegmentCount, transcript.WordCount))
	b.WriteString(e.formatSpans(transcript.Spans))
	return b.String()
}

// GenerateMarkdown 生成 Markdown，有纪要时放在正文之前
func (e *Exporter) GenerateMarkdown(transcript *models.Transcript, summary *models.Summary, title string) string {
	var b strings.Builder
	b.WriteString("# " + title + "\n\n")
	b.WriteString(fmt.Sprintf("> 处理时间: %s | 时长: %s | 词数: %d\n\n",
		e.now().Format("2006-01-02 15:04:05"), utils.FormatTimeDuration(transcript.Duration), transcript.WordCount))

	if summary != nil {
		b.WriteString("## 会议纪要\n\n")
		writeList(&b, "### 要点", summary.KeyPoints)
		if len(summary.ActionItems) > 0 {
			b.WriteString("### 待办事项\n\n")
			for _, item := range summary.ActionItems {
				line := "- [ ] " + item.Task
				if item.Owner != "" {
					line += " (@" + item.Owner + ")"
				}
				if item.Deadline != "" {
					line += " 截止: " + item.Deadline
				}
				b.WriteString(line + "\n")
			}
			b.WriteString("\n")
		}
		writeList(&b, "### 风险", summary.Risks)
		if summary.NextMeeting != "" {
			b.WriteString("### 下次会议\n\n" + summary.NextMeeting + "\n\n")
		}
	}

	b.WriteString("## 转写全文\n\n")
	b.WriteString(e.formatSpans(transcript.Spans))
	return b.String()
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(heading + "\n\n")
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
	b.WriteString("\n")
}

// formatSpans 每段一行，可选时间戳
func (e *Exporter) formatSpans(spans []models.TextSpan) string {
	lines := make([]string, 0, len(spans))
	for _, span := range spans {
		text := normalizeText(span.Text)
		if text == "" {
			continue
		}
		if e.Options.IncludeTimestamps {
			text = fmt.Sprintf("[%s-%s] %s", utils.FormatTimestamp(span.AbsoluteStart), utils.FormatTimestamp(span.AbsoluteEnd()), text)
		}
		lines = append(lines, text)
	}
	return strings.Join(lines, "\n\n") + "\n"
}

// normalizeText 合并多余空白
func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
