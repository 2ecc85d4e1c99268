package models

import (
	"math"
	"strings"
)

// AudioSegment 录音中的一个时间窗口
// StartTime/EndTime 为规范边界（互不重叠），OverlapStart/OverlapEnd 为转写时额外携带的前后音频
type AudioSegment struct {
	Index        int     `json:"index"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	Duration     float64 `json:"duration"`
	OverlapStart float64 `json:"overlap_start"`
	OverlapEnd   float64 `json:"overlap_end"`
}

// TransmitStart 实际发送给转写服务的起点
func (s AudioSegment) TransmitStart() float64 {
	return math.Max(0, s.StartTime-s.OverlapStart)
}

// TransmitEnd 实际发送给转写服务的终点
func (s AudioSegment) TransmitEnd() float64 {
	return s.EndTime + s.OverlapEnd
}

// TransmitDuration 发送范围的长度
func (s AudioSegment) TransmitDuration() float64 {
	return s.TransmitEnd() - s.TransmitStart()
}

// TextSpan 一段识别文本
type TextSpan struct {
	Text              string  `json:"text"`
	RelativeTimestamp float64 `json:"relative_timestamp"` // 相对于分段发送范围的起点（秒）
	Duration          float64 `json:"duration"`
	AbsoluteStart     float64 `json:"absolute_start"` // 在整段录音中的起点（秒）
	SegmentIndex      int     `json:"segment_index"`
}

// AbsoluteEnd 在整段录音中的终点
func (t TextSpan) AbsoluteEnd() float64 {
	return t.AbsoluteStart + t.Duration
}

// WordCount 按空白分词后的词数
func (t TextSpan) WordCount() int {
	return len(strings.Fields(t.Text))
}

// TranscriptionSegment 单个分段的转写结果
type TranscriptionSegment struct {
	Index     int        `json:"index"`
	StartTime float64    `json:"start_time"`
	EndTime   float64    `json:"end_time"`
	TextSpans []TextSpan `json:"text_spans"`
}

// Transcript 拼接后的完整文本稿
type Transcript struct {
	Spans        []TextSpan `json:"spans"`
	WordCount    int        `json:"word_count"`
	Duration     float64    `json:"duration"`
	SegmentCount int        `json:"segment_count"`
}

// FullText 按时间顺序拼接全部文本，每段一行
func (t *Transcript) FullText() string {
	lines := make([]string, 0, len(t.Spans))
	for _, span := range t.Spans {
		lines = append(lines, span.Text)
	}
	return strings.Join(lines, "\n")
}

// ActionItem 会议待办
type ActionItem struct {
	Task     string `json:"task"`
	Owner    string `json:"owner,omitempty"`
	Deadline string `json:"deadline,omitempty"`
}

// Summary 会议纪要
type Summary struct {
	KeyPoints   []string     `json:"key_points"`
	ActionItems []ActionItem `json:"action_items"`
	Risks       []string     `json:"risks"`
	NextMeeting string       `json:"next_meeting"`
}
