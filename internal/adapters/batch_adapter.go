package adapters

import (
	"context"
	"sync"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/limiter"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/pipeline"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/scanner"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// Archiver 处理成功后移走源文件
type Archiver interface {
	MoveFile(sourcePath string) (string, error)
}

// BatchProcessorAdapter 把文件夹监控事件转给批处理器，实现 watcher.FileEventHandler
type BatchProcessorAdapter struct {
	Processor *pipeline.BatchProcessor
	Archiver  Archiver // 可选

	ctx     context.Context
	limiter *limiter.Limiter
	wg      sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewBatchProcessorAdapter 创建新的批处理器适配器，ctx 取消后不再接受新文件
func NewBatchProcessorAdapter(ctx context.Context, processor *pipeline.BatchProcessor) *BatchProcessorAdapter {
	return &BatchProcessorAdapter{
		Processor: processor,
		ctx:       ctx,
		limiter:   limiter.New(processor.MaxConcurrency),
		inFlight:  make(map[string]bool),
	}
}

// OnFileCreated 处理新文件，同一文件正在处理时忽略
func (a *BatchProcessorAdapter) OnFileCreated(filePath string) {
	if a.ctx.Err() != nil {
		return
	}

	file, err := scanner.StatMediaFile(filePath)
	if err != nil {
		utils.Warn("读取文件信息失败 %s: %v", filePath, err)
		return
	}
	if !a.IsRecognizedFile(file) {
		utils.Debug("跳过非媒体文件: %s", filePath)
		return
	}
	if a.Processor.Processed != nil && a.Processor.Processed.IsProcessed(file) {
		utils.Info("文件已处理过，跳过: %s", filePath)
		return
	}

	a.mu.Lock()
	if a.inFlight[filePath] {
		a.mu.Unlock()
		return
	}
	a.inFlight[filePath] = true
	a.wg.Add(1)
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.inFlight, filePath)
		a.mu.Unlock()
		a.wg.Done()
	}()

	result, err := limiter.AcquireAndRun(a.ctx, a.limiter, func(ctx context.Context) (pipeline.BatchResult, error) {
		results, err := a.Processor.ProcessFiles(ctx, []scanner.MediaFile{file})
		if err != nil {
			return pipeline.BatchResult{FilePath: filePath, Error: err}, err
		}
		return results[0], nil
	})
	if err != nil || !result.Success {
		return
	}

	if a.Archiver != nil {
		if _, err := a.Archiver.MoveFile(filePath); err != nil {
			utils.Warn("归档文件失败: %v", err)
		}
	}
}

// OnFileDeleted 文件被删除或移走
func (a *BatchProcessorAdapter) OnFileDeleted(filePath string) {
	utils.Debug("文件已移除: %s", filePath)
}

// IsRecognizedFile 检查是否为批处理器接受的媒体类型
func (a *BatchProcessorAdapter) IsRecognizedFile(file scanner.MediaFile) bool {
	if file.IsAudio {
		return true
	}
	return file.IsVideo && a.Processor.Scanner.IncludeVideo
}

// Wait 等待正在处理的文件结束
func (a *BatchProcessorAdapter) Wait() {
	a.wg.Wait()
}
