package controller

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/internal/metrics"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/internal/ui"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/internal/watcher"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/asr"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/export"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/llm"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/pipeline"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/progress"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/retry"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/scanner"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/transport"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// processedFileName 批处理与监听模式共用的已处理记录
const processedFileName = ".processed.json"

// Options 命令行传入的设置，非空值覆盖配置文件
type Options struct {
	ConfigFile   string
	LogLevel     string
	LogFile      string
	MediaFolder  string
	OutputFolder string
	ArchiveDir   string
	Summarize    bool
	MetricsAddr  string
	NoProgress   bool
}

// ProcessorController 处理器控制器，协调各个组件工作
type ProcessorController struct {
	// 配置
	Config *models.Config

	// UI组件
	ProgressManager *ui.ProgressManager

	// 处理组件
	Pipeline       *pipeline.Pipeline
	BatchProcessor *pipeline.BatchProcessor
	Selector       *asr.Selector
	Metrics        *metrics.Metrics
	ErrorStats     *utils.ErrorStats
	ArchiveDir     string

	// 上下文控制
	ctx        context.Context
	cancelFunc context.CancelFunc

	// 状态数据
	Stats struct {
		StartTime       time.Time
		TotalFiles      int
		SuccessfulFiles int
		FailedFiles     int
	}

	// 资源管理
	cleanup []func() // 清理函数列表
	mu      sync.Mutex
}

// NewProcessorController 创建处理器控制器
func NewProcessorController(opts Options) (*ProcessorController, error) {
	// 初始化日志
	if err := utils.InitLogger(opts.LogLevel, opts.LogFile); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	// 配置文件或环境变量中的日志设置
	if err := utils.InitLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pc := &ProcessorController{
		Config:     cfg,
		Metrics:    metrics.New(),
		ErrorStats: utils.NewErrorStats(),
		ArchiveDir: opts.ArchiveDir,
		ctx:        ctx,
		cancelFunc: cancel,
	}

	// 未指定临时目录时为本次运行创建一个
	if cfg.TempDir == "" {
		tempDir, err := os.MkdirTemp("", "meeting-transcriber")
		if err != nil {
			cancel()
			return nil, fmt.Errorf("创建临时目录失败: %w", err)
		}
		cfg.TempDir = tempDir
		pc.addCleanup(func() { os.RemoveAll(tempDir) })
	}

	if err := pc.initComponents(); err != nil {
		pc.Cleanup()
		return nil, err
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := pc.Metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				utils.Error("指标服务异常退出: %v", err)
			}
		}()
	}

	pc.setupSignalHandlers()
	return pc, nil
}

// LoadConfig 默认配置 <- 配置文件 <- 环境变量 <- 命令行
func LoadConfig(opts Options) (*models.Config, error) {
	cfg := models.NewDefaultConfig()
	if opts.ConfigFile != "" {
		if err := cfg.LoadFromFile(opts.ConfigFile); err != nil {
			return nil, utils.NewError(utils.CodeValidation, "加载配置失败", err)
		}
	}
	cfg.ApplyEnv()

	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogFile != "" {
		cfg.LogFile = opts.LogFile
	}
	if opts.MediaFolder != "" {
		cfg.MediaFolder = opts.MediaFolder
	}
	if opts.OutputFolder != "" {
		cfg.OutputFolder = opts.OutputFolder
	}
	if opts.Summarize {
		cfg.Summarize = true
	}
	if opts.MetricsAddr != "" {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	if opts.NoProgress {
		cfg.ShowProgress = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, utils.NewError(utils.CodeValidation, "配置无效", err)
	}
	if cfg.ASREndpoint == "" {
		return nil, utils.NewValidationError("未配置转写服务地址 (asr_endpoint 或 MT_ASR_ENDPOINT)")
	}
	return cfg, nil
}

// TranscriptionPolicy 分段转写的重试策略
func TranscriptionPolicy(cfg *models.Config) retry.Policy {
	return retry.NewPolicy(cfg.MaxRetries,
		utils.SecondsToDuration(cfg.RetryBaseDelay),
		utils.SecondsToDuration(cfg.RetryMaxDelay),
		cfg.RetryJitter)
}

// SummaryPolicy 纪要生成的重试策略
func SummaryPolicy(cfg *models.Config) retry.Policy {
	return retry.NewPolicy(cfg.SummaryMaxRetries,
		utils.SecondsToDuration(cfg.SummaryBaseDelay),
		utils.SecondsToDuration(cfg.SummaryMaxDelay),
		cfg.RetryJitter)
}

// 初始化所有组件
func (pc *ProcessorController) initComponents() error {
	cfg := pc.Config

	// 进度条模式下日志只写文件
	if cfg.ShowProgress {
		if err := utils.EnableTerminalProgress(); err != nil {
			return fmt.Errorf("切换日志输出失败: %w", err)
		}
	}
	pc.ProgressManager = ui.NewProgressManager(cfg.ShowProgress, nil)

	transcriber, err := pc.buildTranscriber()
	if err != nil {
		return err
	}

	pc.Pipeline = pipeline.New(cfg, transcriber)
	pc.Pipeline.Exporter = export.NewExporter(export.OptionsFromConfig(cfg))
	pc.Pipeline.Recorder = pc.Metrics
	if cfg.Summarize {
		if cfg.SummaryAPIKey == "" {
			utils.Warn("未配置纪要服务密钥，跳过会议纪要")
		} else {
			summarizer := llm.NewVolcesAPIClient(cfg.SummaryAPIKey, cfg.SummaryEndpoint, cfg.SummaryModel)
			summarizer.Policy = SummaryPolicy(cfg)
			pc.Pipeline.Summarizer = summarizer
		}
	}

	processed, err := scanner.NewProcessedStore(filepath.Join(cfg.OutputFolder, processedFileName))
	if err != nil {
		return fmt.Errorf("加载处理记录失败: %w", err)
	}
	pc.BatchProcessor = pipeline.NewBatchProcessor(pc.Pipeline, cfg, processed, pc.batchProgressCallback)
	pc.BatchProcessor.SinkFor = func(file scanner.MediaFile) progress.Sink {
		return pc.ProgressManager.Sink(file.Path, file.Name)
	}
	return nil
}

// 构建分段转写器：服务注册、对象存储、缓存、指标
func (pc *ProcessorController) buildTranscriber() (*asr.Transcriber, error) {
	cfg := pc.Config
	client := transport.NewClient(&http.Client{})

	name := cfg.ASRService
	if name == asr.ServiceAuto {
		name = "default"
	}
	service := asr.NewHTTPService(name, cfg.ASREndpoint, client)
	service.ChunkSize = cfg.UploadChunkSize
	service.Timeout = cfg.RequestTimeoutDuration()
	if !cfg.UseObjectStorage {
		service.MaxSize = cfg.MaxSegmentBytes
	}

	pc.Selector = asr.NewSelector()
	pc.Selector.Register(service, 1)

	transcriber := asr.NewTranscriber(pc.Selector, cfg.ASRService, TranscriptionPolicy(cfg))
	transcriber.Language = cfg.Language
	transcriber.Credentials = asr.Credentials{APIKey: cfg.ASRAPIKey}
	transcriber.MaxSegmentBytes = cfg.MaxSegmentBytes
	transcriber.Recorder = pc.Metrics

	if cfg.UseObjectStorage {
		if cfg.StorageEndpoint == "" {
			return nil, utils.NewValidationError("启用了对象存储但未配置 storage_endpoint")
		}
		uploader := transport.NewUploader(client, cfg.StorageEndpoint, cfg.StorageAPIKey)
		uploader.PartSize = cfg.UploadPartSize
		uploader.ChunkSize = cfg.UploadChunkSize
		uploader.Timeout = cfg.RequestTimeoutDuration()
		uploader.Policy = TranscriptionPolicy(cfg)
		transcriber.Uploader = uploader
		transcriber.MaxSegmentBytes = 0
	}

	if cfg.UseCache {
		cacheDir := cfg.CacheDir
		if cacheDir == "" {
			cacheDir = filepath.Join(cfg.OutputFolder, ".cache")
		}
		cache, err := asr.NewCache(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("初始化缓存失败: %w", err)
		}
		transcriber.Cache = cache
	}
	return transcriber, nil
}

func (pc *ProcessorController) batchProgressCallback(current, total int, filename string, result *pipeline.BatchResult) {
	if result != nil && !result.Success {
		pc.ErrorStats.Record(string(utils.CodeOf(result.Error)), result.Error)
	}
	pc.ProgressManager.BatchCallback()(current, total, filename, result)
}

// Context 控制器的上下文，收到中断信号后取消
func (pc *ProcessorController) Context() context.Context {
	return pc.ctx
}

// ProcessFile 处理单个文件
func (pc *ProcessorController) ProcessFile(path string) (*models.Result, error) {
	pc.Stats.StartTime = time.Now()
	pc.Stats.TotalFiles = 1

	sink := pc.ProgressManager.Sink(path, filepath.Base(path))
	result, err := pc.Pipeline.Run(pc.ctx, path, sink)
	if err != nil {
		pc.Stats.FailedFiles++
		pc.ErrorStats.Record(string(utils.CodeOf(err)), err)
		pc.ProgressManager.RemoveProgressBar(path)
		pc.ProgressManager.PrintResult(path, err, nil)
		return nil, err
	}
	pc.Stats.SuccessfulFiles++
	pc.ProgressManager.PrintResult(path, nil, result.OutputFiles)
	return result, nil
}

// ProcessMedia 处理媒体目录中所有未处理的文件
func (pc *ProcessorController) ProcessMedia() ([]pipeline.BatchResult, error) {
	pc.Stats.StartTime = time.Now()

	results, err := pc.BatchProcessor.ProcessDirectory(pc.ctx, pc.Config.MediaFolder)
	pc.updateStats(results)
	if len(results) > 0 {
		pc.ProgressManager.PrintSummary(results)
	}
	return results, err
}

// StartWatchMode 监听媒体目录直到收到中断信号
func (pc *ProcessorController) StartWatchMode() error {
	if err := utils.EnsureDirExists(pc.Config.MediaFolder); err != nil {
		return fmt.Errorf("创建媒体目录失败: %w", err)
	}

	mediaWatcher := watcher.NewMediaWatcher(pc.Config.MediaFolder, pc.BatchProcessor)
	mediaWatcher.ArchiveDir = pc.ArchiveDir
	if err := mediaWatcher.Start(pc.ctx); err != nil {
		return err
	}
	pc.addCleanup(mediaWatcher.Stop)

	utils.Info("监控已启动，按Ctrl+C退出...")
	pc.ProgressManager.PrintMsg("监控目录: %s (Ctrl+C 退出)", pc.Config.MediaFolder)

	<-pc.ctx.Done()
	return nil
}

// Stop 取消正在进行的处理
func (pc *ProcessorController) Stop() {
	pc.cancelFunc()
}

// 添加清理函数
func (pc *ProcessorController) addCleanup(cleanup func()) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.cleanup = append(pc.cleanup, cleanup)
}

// Cleanup 逆序执行所有清理并打印统计
func (pc *ProcessorController) Cleanup() {
	pc.cancelFunc()

	pc.mu.Lock()
	cleanup := pc.cleanup
	pc.cleanup = nil
	pc.mu.Unlock()

	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}

	if pc.ProgressManager != nil {
		pc.ProgressManager.CloseAll("已完成")
	}

	// 恢复日志设置
	utils.DisableTerminalProgress()

	pc.ErrorStats.LogStats()
	if pc.Selector != nil {
		for name, stat := range pc.Selector.Stats() {
			utils.Info("%s: 调用次数=%d, 成功率=%.2f, 可用=%v", name, stat.Count, stat.SuccessRate, stat.Available)
		}
	}
	if !pc.Stats.StartTime.IsZero() {
		utils.Info("共处理 %d 个文件: 成功 %d, 失败 %d, 耗时 %s",
			pc.Stats.TotalFiles, pc.Stats.SuccessfulFiles, pc.Stats.FailedFiles,
			utils.FormatTimeDuration(time.Since(pc.Stats.StartTime).Seconds()))
	}
}

// 设置中断处理
func (pc *ProcessorController) setupSignalHandlers() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(c)
		select {
		case <-c:
			utils.Info("接收到中断信号，正在停止...")
			pc.cancelFunc()
		case <-pc.ctx.Done():
		}
	}()
}

// 统计处理结果
func (pc *ProcessorController) updateStats(results []pipeline.BatchResult) {
	pc.Stats.TotalFiles += len(results)
	for _, result := range results {
		if result.Success {
			pc.Stats.SuccessfulFiles++
		} else {
			pc.Stats.FailedFiles++
		}
	}
}
