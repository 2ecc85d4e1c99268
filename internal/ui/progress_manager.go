package ui

import (
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/pipeline"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/progress"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// ProgressManager 管理多个文件的进度条
type ProgressManager struct {
	progressBars map[string]*ProgressBar
	mutex        sync.Mutex
	enabled      bool
	term         *TerminalManager
}

// NewProgressManager 创建新的进度管理器，term 为空时使用全局终端
func NewProgressManager(enabled bool, term *TerminalManager) *ProgressManager {
	if term == nil {
		term = GetTerminalManager()
	}
	return &ProgressManager{
		progressBars: make(map[string]*ProgressBar),
		enabled:      enabled,
		term:         term,
	}
}

// Sink 返回 id 对应进度条的接收者，未启用时返回 nil
func (pm *ProgressManager) Sink(id, prefix string) progress.Sink {
	if !pm.enabled {
		return nil
	}

	pm.mutex.Lock()
	// 如果已经存在同名进度条，先完成它
	if bar, exists := pm.progressBars[id]; exists {
		bar.Complete("已被替换")
	}
	bar := NewProgressBar(prefix, pm.term)
	pm.progressBars[id] = bar
	pm.mutex.Unlock()

	return func(state progress.State) {
		pm.mutex.Lock()
		defer pm.mutex.Unlock()
		if pm.progressBars[id] != bar {
			return
		}
		bar.Update(state)
		if state.Stage == progress.StageComplete {
			pm.term.EndProgress()
			delete(pm.progressBars, id)
		}
	}
}

// GetProgressBar 获取已存在的进度条
func (pm *ProgressManager) GetProgressBar(id string) *ProgressBar {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	return pm.progressBars[id]
}

// RemoveProgressBar 移除进度条
func (pm *ProgressManager) RemoveProgressBar(id string) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	delete(pm.progressBars, id)
}

// CloseAll 完成所有进度条
func (pm *ProgressManager) CloseAll(message string) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	for _, bar := range pm.progressBars {
		bar.Complete(message)
	}
	pm.progressBars = make(map[string]*ProgressBar)
}

// PrintMsg 在进度条之上打印一行消息
func (pm *ProgressManager) PrintMsg(format string, args ...interface{}) {
	pm.term.PrintMsg(format, args...)
}

// BatchCallback 批处理的开始与结束消息
func (pm *ProgressManager) BatchCallback() pipeline.BatchProgressCallback {
	return func(current, total int, filename string, result *pipeline.BatchResult) {
		if result == nil {
			pm.term.PrintMsg("[%d/%d] 开始处理: %s", current, total, filename)
			return
		}
		if result.Success {
			pm.term.PrintMsg("%s", color.GreenString("[%d/%d] 完成: %s (%s)", current, total, filename, result.ProcessTime.Round(time.Millisecond)))
			return
		}
		pm.term.PrintMsg("%s", color.RedString("[%d/%d] 失败: %s [%s] %v", current, total, filename, utils.CodeOf(result.Error), result.Error))
	}
}

// PrintSummary 打印批处理汇总
func (pm *ProgressManager) PrintSummary(results []pipeline.BatchResult) {
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	pm.term.PrintMsg("\n处理汇总: 成功 %d, 失败 %d", succeeded, len(results)-succeeded)
	for path, code := range pipeline.FailedFiles(results) {
		pm.term.PrintMsg("%s", color.RedString("- %s: %s", path, code))
	}
}

// PrintResult 打印单个文件的结果
func (pm *ProgressManager) PrintResult(path string, err error, outputs map[string]string) {
	if err != nil {
		pm.term.PrintMsg("%s", color.RedString("处理失败 %s [%s]: %v", path, utils.CodeOf(err), err))
		return
	}
	pm.term.PrintMsg("%s", color.GreenString("处理完成: %s", path))
	for kind, file := range outputs {
		pm.term.PrintMsg("  %-5s %s", kind, file)
	}
}
