package watcher

import (
	"context"
	"time"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/internal/adapters"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/audio"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/pipeline"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// MediaWatcher 监控媒体文件夹，新文件写入完成后交给批处理器
type MediaWatcher struct {
	MediaDir   string
	ArchiveDir string // 处理成功后移入的目录，为空时不移动
	Debounce   time.Duration

	processor *pipeline.BatchProcessor
	monitor   *FolderMonitor
	adapter   *adapters.BatchProcessorAdapter
	initial   chan struct{}
}

// NewMediaWatcher 创建媒体文件监控器
func NewMediaWatcher(mediaDir string, processor *pipeline.BatchProcessor) *MediaWatcher {
	return &MediaWatcher{
		MediaDir:  mediaDir,
		Debounce:  DefaultDebounce,
		processor: processor,
	}
}

// Start 先处理目录中已有的文件，再监听新文件
func (w *MediaWatcher) Start(ctx context.Context) error {
	w.adapter = adapters.NewBatchProcessorAdapter(ctx, w.processor)
	if w.ArchiveDir != "" {
		archiver, err := NewFileMovementHandler(w.ArchiveDir)
		if err != nil {
			return err
		}
		w.adapter.Archiver = archiver
	}

	extensions := append([]string(nil), audio.AudioExtensions...)
	if w.processor.Scanner.IncludeVideo {
		extensions = append(extensions, audio.VideoExtensions...)
	}
	monitor, err := NewFolderMonitor(w.MediaDir, extensions, w.adapter, w.Debounce)
	if err != nil {
		return err
	}
	if err := monitor.Start(); err != nil {
		return err
	}
	w.monitor = monitor

	// 启动前已存在的文件
	w.initial = make(chan struct{})
	go func() {
		defer close(w.initial)
		if _, err := w.processor.ProcessDirectory(ctx, w.MediaDir); err != nil {
			utils.Warn("处理已有文件失败: %v", err)
		}
	}()

	utils.Info("媒体文件监控已启动: %s", w.MediaDir)
	return nil
}

// Stop 停止监控并等待正在处理的文件结束
func (w *MediaWatcher) Stop() {
	if w.monitor != nil {
		w.monitor.Stop()
	}
	if w.initial != nil {
		<-w.initial
	}
	if w.adapter != nil {
		w.adapter.Wait()
	}
	utils.Info("媒体文件监控已停止")
}
