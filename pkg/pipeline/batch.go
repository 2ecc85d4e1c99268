package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/progress"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/scanner"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// Runner 处理单个文件，*Pipeline 实现了该接口
type Runner interface {
	Run(ctx context.Context, path string, sink progress.Sink) (*models.Result, error)
}

// BatchResult 存储批处理结果
type BatchResult struct {
	FilePath    string
	Success     bool
	Result      *models.Result
	Error       error
	ProcessTime time.Duration
}

// BatchProgressCallback 批处理进度回调，开始时 result 为 nil
type BatchProgressCallback func(current, total int, filename string, result *BatchResult)

// BatchProcessor 批量处理器，文件之间并发，每个文件内部的分段并发由流水线控制
type BatchProcessor struct {
	Runner           Runner
	Scanner          *scanner.MediaScanner
	Processed        *scanner.ProcessedStore
	MaxConcurrency   int
	ProgressCallback BatchProgressCallback
	// SinkFor 为每个文件创建进度接收者，可以为空
	SinkFor func(file scanner.MediaFile) progress.Sink
}

// NewBatchProcessor 创建批处理器
func NewBatchProcessor(runner Runner, cfg *models.Config, processed *scanner.ProcessedStore, callback BatchProgressCallback) *BatchProcessor {
	concurrency := cfg.MaxWorkers
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchProcessor{
		Runner:           runner,
		Scanner:          scanner.NewMediaScanner(cfg.ProcessVideo),
		Processed:        processed,
		MaxConcurrency:   concurrency,
		ProgressCallback: callback,
	}
}

// ProcessDirectory 处理目录中所有未处理过的媒体文件
func (b *BatchProcessor) ProcessDirectory(ctx context.Context, dir string) ([]BatchResult, error) {
	if !utils.CheckDirExists(dir) {
		return nil, utils.NewValidationError("媒体目录不存在: %s", dir)
	}
	files, err := b.Scanner.ScanDirectory(dir)
	if err != nil {
		return nil, fmt.Errorf("扫描目录失败: %w", err)
	}
	return b.ProcessFiles(ctx, b.Scanner.FilterNewFiles(files, b.Processed))
}

// ProcessFiles 并发处理多个文件，单个文件失败不影响其他文件，结果顺序与输入一致
func (b *BatchProcessor) ProcessFiles(ctx context.Context, files []scanner.MediaFile) ([]BatchResult, error) {
	if len(files) == 0 {
		utils.Info("没有需要处理的文件")
		return []BatchResult{}, nil
	}

	results := make([]BatchResult, len(files))
	var (
		mu      sync.Mutex
		started int
	)

	g := new(errgroup.Group)
	g.SetLimit(b.MaxConcurrency)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = BatchResult{FilePath: file.Path, Error: ctx.Err()}
				return nil
			}

			mu.Lock()
			started++
			current := started
			mu.Unlock()

			// 通知处理开始
			if b.ProgressCallback != nil {
				b.ProgressCallback(current, len(files), file.Name, nil)
			}

			result := b.processSingleFile(ctx, file)
			results[i] = result

			// 通知处理结束
			if b.ProgressCallback != nil {
				b.ProgressCallback(current, len(files), file.Name, &result)
			}
			return nil
		})
	}
	g.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	utils.Info("批量处理完成: 成功 %d/%d", succeeded, len(files))

	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("批量处理被取消: %w", err)
	}
	return results, nil
}

// 处理单个文件
func (b *BatchProcessor) processSingleFile(ctx context.Context, file scanner.MediaFile) BatchResult {
	startTime := time.Now()
	result := BatchResult{FilePath: file.Path}

	var sink progress.Sink
	if b.SinkFor != nil {
		sink = b.SinkFor(file)
	}

	res, err := b.Runner.Run(ctx, file.Path, sink)
	result.ProcessTime = time.Since(startTime)
	if err != nil {
		result.Error = err
		return result
	}
	result.Success = true
	result.Result = res

	if b.Processed != nil {
		if err := b.Processed.MarkProcessed(file); err != nil {
			utils.Warn("保存处理记录失败: %v", err)
		}
	}
	return result
}

// FailedFiles 失败文件及其错误码
func FailedFiles(results []BatchResult) map[string]utils.ErrorCode {
	failed := make(map[string]utils.ErrorCode)
	for _, r := range results {
		if !r.Success {
			failed[r.FilePath] = utils.CodeOf(r.Error)
		}
	}
	return failed
}
