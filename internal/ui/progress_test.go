package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/pipeline"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/progress"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

func init() {
	color.NoColor = true
}

func intPtr(v int) *int { return &v }

func TestProgressBarString(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar("会议.mp3", NewTerminalManager(&buf))
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	bar.StartTime = start
	bar.now = func() time.Time { return start.Add(30 * time.Second) }

	bar.Update(progress.State{Stage: progress.StageTranscribing, Percentage: 50, Message: "分段 2 上传"})

	line := bar.String()
	if !strings.Contains(line, " 50%") {
		t.Errorf("进度百分比不正确: %s", line)
	}
	if !strings.Contains(line, "00:30<00:30") {
		t.Errorf("耗时或剩余时间不正确: %s", line)
	}
	if strings.Count(line, "█") != 15 {
		t.Errorf("填充长度不正确: %s", line)
	}
	if !strings.Contains(buf.String(), "transcribing") {
		t.Errorf("未输出进度: %q", buf.String())
	}
}

func TestProgressBarIgnoresRegression(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar("a.wav", NewTerminalManager(&buf))

	bar.Update(progress.State{Stage: progress.StageTranscribing, Percentage: 60})
	bar.Update(progress.State{Stage: progress.StageTranscribing, Percentage: 40})
	if bar.Current.Percentage != 60 {
		t.Errorf("进度回退: 期望 60, 实际 %d", bar.Current.Percentage)
	}
}

func TestProgressBarRetryCountdown(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar("a.wav", NewTerminalManager(&buf))
	bar.Update(progress.State{
		Stage:                 progress.StageTranscribing,
		Percentage:            40,
		RetryAttempt:          intPtr(2),
		RetryCountdownSeconds: intPtr(3),
	})

	if !strings.Contains(bar.String(), "重试 #2, 3s") {
		t.Errorf("重试倒计时未显示: %s", bar.String())
	}

	bar.Complete("完成")
	if bar.Current.Percentage != 100 || bar.Current.RetryAttempt != nil {
		t.Errorf("完成状态不正确: %+v", bar.Current)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("完成后应换行")
	}
}

func TestProgressManagerSink(t *testing.T) {
	var buf bytes.Buffer
	pm := NewProgressManager(true, NewTerminalManager(&buf))

	sink := pm.Sink("run-1", "a.wav")
	sink(progress.State{Stage: progress.StageSegmenting, Percentage: 10})
	if pm.GetProgressBar("run-1") == nil {
		t.Fatal("进度条未注册")
	}

	sink(progress.State{Stage: progress.StageComplete, Percentage: 100})
	if pm.GetProgressBar("run-1") != nil {
		t.Error("完成后进度条应被移除")
	}

	// 移除后的回调不再输出
	before := buf.Len()
	sink(progress.State{Stage: progress.StageComplete, Percentage: 100})
	if buf.Len() != before {
		t.Error("已移除的进度条仍在输出")
	}
}

func TestProgressManagerDisabled(t *testing.T) {
	pm := NewProgressManager(false, NewTerminalManager(&bytes.Buffer{}))
	if pm.Sink("run-1", "a.wav") != nil {
		t.Error("未启用时应返回 nil")
	}
}

func TestBatchCallbackAndSummary(t *testing.T) {
	var buf bytes.Buffer
	pm := NewProgressManager(true, NewTerminalManager(&buf))
	callback := pm.BatchCallback()

	ok := pipeline.BatchResult{FilePath: "/m/a.mp3", Success: true}
	failed := pipeline.BatchResult{FilePath: "/m/b.mp3", Error: utils.NewValidationError("坏文件")}

	callback(1, 2, "a.mp3", nil)
	callback(1, 2, "a.mp3", &ok)
	callback(2, 2, "b.mp3", &failed)
	pm.PrintSummary([]pipeline.BatchResult{ok, failed})
	pm.PrintResult("/m/c.mp3", errors.New("boom"), nil)

	out := buf.String()
	for _, want := range []string{"开始处理: a.mp3", "完成: a.mp3", "失败: b.mp3 [VALIDATION]", "成功 1, 失败 1", "/m/b.mp3: VALIDATION", "[INTERNAL]"} {
		if !strings.Contains(out, want) {
			t.Errorf("输出缺少 %q:\n%s", want, out)
		}
	}
}
