package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
)

func sampleTranscript() *models.Transcript {
	return &models.Transcript{
		Spans: []models.TextSpan{
			{Text: "大家  好", AbsoluteStart: 1.5, Duration: 2, SegmentIndex: 0},
			{Text: "我们开始", AbsoluteStart: 905, Duration: 0, SegmentIndex: 1},
			{Text: "  ", AbsoluteStart: 906, SegmentIndex: 1},
			{Text: "散会", AbsoluteStart: 907, Duration: 1, SegmentIndex: 1},
		},
		WordCount:    4,
		Duration:     1200,
		SegmentCount: 2,
	}
}

func fixedExporter(opts Options) *Exporter {
	e := NewExporter(opts)
	e.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local) }
	return e
}

func TestExportAllFormats(t *testing.T) {
	dir := t.TempDir()
	e := fixedExporter(Options{OutputFolder: dir, Markdown: true, SRT: true, JSON: true, IncludeTimestamps: true, Language: "zh"})

	summary := &models.Summary{KeyPoints: []string{"确认排期"}, ActionItems: []models.ActionItem{{Task: "发布", Owner: "李四"}}}
	files, err := e.Export(sampleTranscript(), summary, "/media/weekly.mp3")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		KindText:     filepath.Join(dir, "weekly.txt"),
		KindMarkdown: filepath.Join(dir, "weekly.md"),
		KindSRT:      filepath.Join(dir, "weekly.srt"),
		KindJSON:     filepath.Join(dir, "weekly.json"),
	}, files)

	text, err := os.ReadFile(files[KindText])
	require.NoError(t, err)
	assert.Contains(t, string(text), "# weekly\n# 处理时间: 2024-05-01 10:00:00")
	assert.Contains(t, string(text), "[00:00:01-00:00:03] 大家 好\n\n[00:15:05-00:15:05] 我们开始")

	md, err := os.ReadFile(files[KindMarkdown])
	require.NoError(t, err)
	assert.Contains(t, string(md), "### 要点\n\n- 确认排期")
	assert.Contains(t, string(md), "- [ ] 发布 (@李四)")
	assert.Contains(t, string(md), "## 转写全文")

	var result TranscriptResult
	data, err := os.ReadFile(files[KindJSON])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "zh", result.Language)
	assert.Equal(t, "大家  好 我们开始 散会", result.FullText)
	require.Len(t, result.Segments, 3)
	assert.Equal(t, 910.0, result.Segments[1].End)
	assert.Equal(t, "确认排期", result.Summary.KeyPoints[0])
}

func TestExportTextOnly(t *testing.T) {
	dir := t.TempDir()
	e := fixedExporter(Options{OutputFolder: filepath.Join(dir, "out")})

	files, err := e.Export(sampleTranscript(), nil, "call.wav")
	require.NoError(t, err)
	assert.Len(t, files, 1)

	text, err := os.ReadFile(files[KindText])
	require.NoError(t, err)
	assert.Contains(t, string(text), "大家 好\n\n我们开始\n\n散会\n")
}

func TestGenerateSRT(t *testing.T) {
	srt := GenerateSRT(sampleTranscript())
	expected := "1\n00:00:01,500 --> 00:00:03,500\n大家  好\n\n" +
		"2\n00:15:05,000 --> 00:15:06,000\n我们开始\n\n" +
		"3\n00:15:07,000 --> 00:15:08,000\n散会\n"
	assert.Equal(t, expected, srt)
}
