package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/asr"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/audio"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/limiter"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/progress"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/segmenter"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/stitch"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// Summarizer 根据完整文本稿生成会议纪要
type Summarizer interface {
	Summarize(ctx context.Context, transcript *models.Transcript) (*models.Summary, error)
}

// Exporter 把结果写成文件，返回 类型 -> 路径
type Exporter interface {
	Export(transcript *models.Transcript, summary *models.Summary, audioPath string) (map[string]string, error)
}

// RunRecorder 运行级别的指标记录
type RunRecorder interface {
	RunStarted()
	RunFinished(code string, elapsed time.Duration)
	SegmentsPlanned(n int)
}

type nopRunRecorder struct{}

func (nopRunRecorder) RunStarted()                       {}
func (nopRunRecorder) RunFinished(string, time.Duration) {}
func (nopRunRecorder) SegmentsPlanned(int)               {}

// Pipeline 一条录音的完整处理流程：校验 -> 分段 -> 并发转写 -> 拼接 -> 纪要与导出
type Pipeline struct {
	Config      *models.Config
	Transcriber *asr.Transcriber
	Slicers     audio.SlicerFactory
	Summarizer  Summarizer // 可选
	Exporter    Exporter   // 可选
	Recorder    RunRecorder
	StitchOpts  stitch.Options

	newRunID func() string
}

// New 创建流水线
func New(cfg *models.Config, transcriber *asr.Transcriber) *Pipeline {
	return &Pipeline{
		Config:      cfg,
		Transcriber: transcriber,
		Slicers:     audio.NewSlicerFactory(cfg.TempDir),
		Recorder:    nopRunRecorder{},
		StitchOpts:  stitch.DefaultOptions(),
		newRunID:    uuid.NewString,
	}
}

// Run 处理一个文件，任何阶段失败都只返回一个带错误码的终止错误，不返回部分文本稿
func (p *Pipeline) Run(ctx context.Context, path string, sink progress.Sink) (*models.Result, error) {
	runID := p.newRunID()
	tracker := progress.NewTracker(runID, sink)
	started := time.Now()
	recorder := p.recorder()
	recorder.RunStarted()

	result, err := p.run(ctx, runID, path, tracker)
	elapsed := time.Since(started)
	if err != nil {
		code := utils.CodeOf(err)
		recorder.RunFinished(string(code), elapsed)
		utils.WithFields(map[string]interface{}{"run_id": runID, "code": code}).Errorf("处理失败 %s: %v", path, err)
		return nil, err
	}

	result.ProcessTimeMs = elapsed.Milliseconds()
	recorder.RunFinished("ok", elapsed)
	utils.Info("处理完成 %s: %d 个分段, %d 段文本, %d 词, 耗时 %s",
		path, result.SegmentCount, result.SpanCount, result.WordCount, elapsed.Round(time.Millisecond))
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, runID, path string, tracker *progress.Tracker) (*models.Result, error) {
	cfg := p.Config

	// 视频先提取音频
	audioPath := path
	if audio.IsVideoFile(path) {
		if !cfg.ProcessVideo {
			return nil, utils.NewValidationError("未启用视频处理: %s", path)
		}
		tracker.Stage(progress.StageSegmenting, 0, "从视频提取音频")
		extracted, _, err := audio.ExtractAudioFromVideo(ctx, path, cfg.TempDir, nil)
		if err != nil {
			return nil, utils.NewError(utils.CodeValidation, "从视频提取音频失败", err)
		}
		audioPath = extracted
	}

	rec, err := audio.OpenRecording(audioPath, cfg.MaxFileSize)
	if err != nil {
		return nil, err
	}
	utils.Info("开始处理: %s", rec)

	// 分段
	tracker.Stage(progress.StageSegmenting, 0, "读取音频")
	slicer, err := p.Slicers(rec)
	if err != nil {
		return nil, err
	}
	defer slicer.Close()

	duration := slicer.Duration()
	segments, err := segmenter.Split(duration, segmenter.Options{
		WindowDuration:  cfg.WindowSeconds,
		OverlapDuration: cfg.OverlapSeconds,
	}, func(current, total int, message string) {
		tracker.Stage(progress.StageSegmenting, current*100/total, message)
	})
	if err != nil {
		return nil, err
	}
	p.recorder().SegmentsPlanned(len(segments))
	tracker.CompleteStage(progress.StageSegmenting, fmt.Sprintf("共 %d 个分段, 时长 %s", len(segments), utils.FormatTimeDuration(duration)))

	// 转写
	results, stats, err := p.transcribe(ctx, rec, slicer, segments, tracker)
	if err != nil {
		return nil, err
	}
	tracker.CompleteStage(progress.StageTranscribing, fmt.Sprintf("%d 个分段转写完成", len(results)))

	// 拼接
	tracker.Stage(progress.StageStitching, 0, "拼接文本")
	transcript, err := stitch.Stitch(results, p.StitchOpts)
	if err != nil {
		return nil, err
	}

	var summary *models.Summary
	if p.Summarizer != nil {
		tracker.Stage(progress.StageStitching, 30, "生成会议纪要")
		summary, err = p.Summarizer.Summarize(ctx, transcript)
		if err != nil {
			// 纪要不影响文本稿本身
			utils.Warn("生成会议纪要失败，仅导出文本稿: %v", err)
			summary = nil
		}
	}

	var outputFiles map[string]string
	if p.Exporter != nil {
		tracker.Stage(progress.StageStitching, 70, "导出结果")
		outputFiles, err = p.Exporter.Export(transcript, summary, rec.Path)
		if err != nil {
			return nil, err
		}
	}
	tracker.CompleteStage(progress.StageStitching, "拼接完成")
	tracker.Complete("处理完成")

	return &models.Result{
		RunID:        runID,
		FilePath:     path,
		Service:      p.Transcriber.ServiceName,
		OutputFiles:  outputFiles,
		SegmentCount: len(segments),
		SpanCount:    len(transcript.Spans),
		WordCount:    transcript.WordCount,
		CachedCount:  stats.cached,
		Retries:      stats.retries,
		DurationMs:   int64(math.Round(duration * 1000)),
		Transcript:   transcript,
		Summary:      summary,
	}, nil
}

type transcribeStats struct {
	cached  int
	retries int
}

func (p *Pipeline) transcribe(ctx context.Context, rec *audio.Recording, slicer audio.Slicer, segments []models.AudioSegment, tracker *progress.Tracker) ([]models.TranscriptionSegment, transcribeStats, error) {
	var (
		mu    sync.Mutex
		stats transcribeStats
	)
	segProgress := newSegmentProgress(len(segments))
	tracker.Stage(progress.StageTranscribing, 0, fmt.Sprintf("开始转写 %d 个分段", len(segments)))

	fn := func(ctx context.Context, segment models.AudioSegment) (*models.TranscriptionSegment, error) {
		attempt := 0
		hooks := asr.Hooks{
			FileName: asr.SegmentFileName(rec.Path, segment.Index),
			OnBytes: func(sent, total int64) {
				if total <= 0 {
					return
				}
				percent := segProgress.update(segment.Index, float64(sent)/float64(total))
				tracker.Stage(progress.StageTranscribing, percent, fmt.Sprintf("分段 %d 上传 %s/%s",
					segment.Index+1, utils.FormatFileSize(sent), utils.FormatFileSize(total)))
			},
			OnRetry: func(n int, delay time.Duration, err error) {
				attempt = n
				mu.Lock()
				stats.retries++
				mu.Unlock()
			},
			OnCountdown: func(remaining int) {
				tracker.Retry(progress.StageTranscribing, attempt, remaining,
					fmt.Sprintf("分段 %d 第 %d 次重试, %d 秒后开始", segment.Index+1, attempt, remaining))
			},
			OnCached: func() {
				mu.Lock()
				stats.cached++
				mu.Unlock()
			},
		}
		return p.Transcriber.Transcribe(ctx, slicer, segment, hooks)
	}

	results, err := TranscribeAll(ctx, limiter.New(p.Config.MaxConcurrentSegments), segments, fn, DriverOptions{
		FailFast: p.Config.FailFast,
		OnSettled: func(done, total int, segment models.AudioSegment, err error) {
			percent := segProgress.finish(segment.Index)
			message := fmt.Sprintf("已完成 %d/%d 个分段", done, total)
			if err != nil {
				message = fmt.Sprintf("分段 %d 失败 (%d/%d)", segment.Index+1, done, total)
			}
			tracker.Stage(progress.StageTranscribing, percent, message)
		},
	})
	return results, stats, err
}

func (p *Pipeline) recorder() RunRecorder {
	if p.Recorder == nil {
		return nopRunRecorder{}
	}
	return p.Recorder
}

// segmentProgress 各分段完成比例，阶段进度取平均值
type segmentProgress struct {
	mu       sync.Mutex
	fraction []float64
}

func newSegmentProgress(n int) *segmentProgress {
	return &segmentProgress{fraction: make([]float64, n)}
}

// update 分段上传比例只占该分段的一半，另一半在识别完成时补齐
func (s *segmentProgress) update(index int, sent float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f := sent * 0.5; f > s.fraction[index] {
		s.fraction[index] = f
	}
	return s.percentLocked()
}

func (s *segmentProgress) finish(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fraction[index] = 1
	return s.percentLocked()
}

func (s *segmentProgress) percentLocked() int {
	var sum float64
	for _, f := range s.fraction {
		sum += f
	}
	return int(sum * 100 / float64(len(s.fraction)))
}
