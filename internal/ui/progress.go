package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/progress"
)

// ProgressBar 一次运行的终端进度条，按 progress.State 绘制
type ProgressBar struct {
	Prefix    string    // 前缀（通常是文件名）
	Width     int       // 进度条宽度
	FillChar  string    // 填充字符
	EmptyChar string    // 空白字符
	StartTime time.Time // 开始时间

	Current progress.State
	term    *TerminalManager
	now     func() time.Time
}

// NewProgressBar 创建新的进度条
func NewProgressBar(prefix string, term *TerminalManager) *ProgressBar {
	if term == nil {
		term = GetTerminalManager()
	}
	return &ProgressBar{
		Prefix:    prefix,
		Width:     30,
		FillChar:  "█",
		EmptyChar: "░",
		StartTime: time.Now(),
		term:      term,
		now:       time.Now,
	}
}

// Update 用新的快照重绘，百分比小于已显示的值时忽略
func (p *ProgressBar) Update(state progress.State) {
	if state.Percentage < p.Current.Percentage {
		return
	}
	p.Current = state
	p.term.UpdateProgress(p.colorize(p.String()))
}

// Complete 完成进度条
func (p *ProgressBar) Complete(message string) {
	state := p.Current
	state.Stage = progress.StageComplete
	state.Percentage = 100
	state.RetryAttempt = nil
	state.RetryCountdownSeconds = nil
	if message != "" {
		state.Message = message
	}
	p.Update(state)
	p.term.EndProgress()
}

// String 返回进度条的文本表示
func (p *ProgressBar) String() string {
	percent := p.Current.Percentage
	filled := percent * p.Width / 100
	if filled > p.Width {
		filled = p.Width
	}
	bar := strings.Repeat(p.FillChar, filled) + strings.Repeat(p.EmptyChar, p.Width-filled)

	elapsed := p.now().Sub(p.StartTime)
	var remaining time.Duration
	if percent > 0 && percent < 100 {
		remaining = time.Duration(float64(elapsed) / float64(percent) * float64(100-percent))
	}

	line := fmt.Sprintf("%s [%s] %3d%% | %-12s | %s<%s | %s",
		p.Prefix, bar, percent, p.Current.Stage, formatDuration(elapsed), formatDuration(remaining), p.Current.Message)
	if p.Current.RetryCountdownSeconds != nil {
		line += fmt.Sprintf(" (重试 #%d, %ds)", derefInt(p.Current.RetryAttempt), *p.Current.RetryCountdownSeconds)
	}
	return line
}

func (p *ProgressBar) colorize(line string) string {
	switch {
	case p.Current.Stage == progress.StageComplete:
		return color.GreenString(line)
	case p.Current.RetryAttempt != nil:
		return color.YellowString(line)
	}
	return color.CyanString(line)
}

// 格式化持续时间为 MM:SS 格式
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
