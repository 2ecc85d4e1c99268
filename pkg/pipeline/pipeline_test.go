package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/asr"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/audio"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/export"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/progress"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/retry"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// fakeASR 按分段序号返回固定文本，可以为指定分段注入失败
type fakeASR struct {
	mu       sync.Mutex
	calls    map[int]int
	failures map[int][]int // 分段 -> 每次调用返回的状态码，用完后成功
	always   map[int]int   // 分段 -> 始终返回的状态码
}

func newFakeASR() *fakeASR {
	return &fakeASR{calls: map[int]int{}, failures: map[int][]int{}, always: map[int]int{}}
}

func (f *fakeASR) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	index, _ := strconv.Atoi(r.FormValue("segment_index"))

	f.mu.Lock()
	call := f.calls[index]
	f.calls[index]++
	status := 0
	if s, ok := f.always[index]; ok {
		status = s
	} else if call < len(f.failures[index]) {
		status = f.failures[index][call]
	}
	f.mu.Unlock()

	if status != 0 {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(status)
		return
	}

	// 每段: 开头一句与上一段结尾重复，中间一句独有内容，结尾一句靠近分段末尾
	tail := 9.6
	if index == 2 {
		tail = 4
	}
	spans := []asr.RawSpan{}
	if index > 0 {
		spans = append(spans, asr.RawSpan{Text: fmt.Sprintf("tail of segment %d", index-1), StartOffset: 0.3, EndOffset: 0.9})
	}
	spans = append(spans,
		asr.RawSpan{Text: fmt.Sprintf("body of segment %d", index), StartOffset: 3, EndOffset: 5},
		asr.RawSpan{Text: fmt.Sprintf("tail of segment %d", index), StartOffset: tail, EndOffset: tail + 0.4},
	)
	json.NewEncoder(w).Encode(asr.Response{DurationSeconds: 11, Spans: spans})
}

func (f *fakeASR) callCount(index int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[index]
}

func writeTestWAV(t *testing.T, dir string, seconds int) string {
	t.Helper()
	data, err := audio.EncodeWAV(make([]int16, 1000*seconds), 1000)
	require.NoError(t, err)
	path := filepath.Join(dir, "standup.wav")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func noSleep(ctx context.Context, d time.Duration, onCountdown retry.CountdownCallback) error {
	if onCountdown != nil {
		onCountdown(1)
		onCountdown(0)
	}
	return nil
}

func newTestPipeline(t *testing.T, serverURL string) (*Pipeline, *models.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := models.NewDefaultConfig()
	cfg.OutputFolder = filepath.Join(dir, "output")
	cfg.TempDir = filepath.Join(dir, "tmp")
	cfg.WindowSeconds = 10
	cfg.OverlapSeconds = 1
	cfg.MaxConcurrentSegments = 2

	selector := asr.NewSelector()
	selector.Register(asr.NewHTTPService("fake", serverURL, nil), 1)
	transcriber := asr.NewTranscriber(selector, "fake", retry.NewPolicy(2, time.Millisecond, 10*time.Millisecond, 0))
	transcriber.RetryOptions = []retry.Option{retry.WithSleep(noSleep)}

	p := New(cfg, transcriber)
	p.Exporter = export.NewExporter(export.OptionsFromConfig(cfg))
	p.newRunID = func() string { return "run-1" }
	return p, cfg
}

type stateLog struct {
	mu     sync.Mutex
	states []progress.State
}

func (s *stateLog) sink(state progress.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func TestPipelineRunEndToEnd(t *testing.T) {
	fake := newFakeASR()
	fake.failures[2] = []int{http.StatusServiceUnavailable}
	server := httptest.NewServer(fake)
	defer server.Close()

	p, cfg := newTestPipeline(t, server.URL)
	input := writeTestWAV(t, t.TempDir(), 25)

	log := &stateLog{}
	result, err := p.Run(context.Background(), input, log.sink)
	require.NoError(t, err)

	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, 3, result.SegmentCount)
	assert.Equal(t, int64(25000), result.DurationMs)
	assert.Equal(t, 1, result.Retries)
	assert.Equal(t, 2, fake.callCount(2))

	// 重叠区的重复文本被去掉
	texts := make([]string, 0)
	for _, span := range result.Transcript.Spans {
		texts = append(texts, span.Text)
	}
	assert.Equal(t, []string{
		"body of segment 0", "tail of segment 0",
		"body of segment 1", "tail of segment 1",
		"body of segment 2", "tail of segment 2",
	}, texts)
	assert.Equal(t, 25.0, result.Transcript.Duration)
	assert.Equal(t, 24, result.WordCount)

	// 输出文件
	assert.FileExists(t, filepath.Join(cfg.OutputFolder, "standup.txt"))
	assert.Equal(t, filepath.Join(cfg.OutputFolder, "standup.srt"), result.OutputFiles[export.KindSRT])

	// 进度单调递增，最后为100
	require.NotEmpty(t, log.states)
	last := -1
	sawRetry := false
	for _, s := range log.states {
		assert.GreaterOrEqual(t, s.Percentage, last)
		last = s.Percentage
		assert.Equal(t, "run-1", s.RunID)
		if s.RetryAttempt != nil {
			sawRetry = true
			assert.Equal(t, progress.StageTranscribing, s.Stage)
		}
	}
	assert.True(t, sawRetry)
	final := log.states[len(log.states)-1]
	assert.Equal(t, 100, final.Percentage)
	assert.Equal(t, progress.StageComplete, final.Stage)
}

func TestPipelineSegmentFailureFailsRun(t *testing.T) {
	fake := newFakeASR()
	fake.always[1] = http.StatusInternalServerError
	server := httptest.NewServer(fake)
	defer server.Close()

	p, cfg := newTestPipeline(t, server.URL)
	input := writeTestWAV(t, t.TempDir(), 25)

	log := &stateLog{}
	result, err := p.Run(context.Background(), input, log.sink)
	require.Error(t, err)
	assert.Nil(t, result)

	var agg *utils.AggregateSegmentError
	require.True(t, errors.As(err, &agg))
	assert.Equal(t, []int{1}, agg.Indices())
	assert.Equal(t, utils.CodeSegmentsFailed, utils.CodeOf(err))

	// 其余分段仍然完成，分段1用完全部重试
	assert.Equal(t, 1, fake.callCount(0))
	assert.Equal(t, 1, fake.callCount(2))
	assert.Equal(t, 3, fake.callCount(1))

	assert.NoFileExists(t, filepath.Join(cfg.OutputFolder, "standup.txt"))
	for _, s := range log.states {
		assert.NotEqual(t, progress.StageComplete, s.Stage)
	}
}

func TestPipelineAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p, _ := newTestPipeline(t, server.URL)
	_, err := p.Run(context.Background(), writeTestWAV(t, t.TempDir(), 5), nil)
	require.Error(t, err)
	assert.Equal(t, utils.CodeSegmentsFailed, utils.CodeOf(err))

	var appErr *utils.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, utils.CodeAuth, appErr.Code)
}

func TestPipelineRejectsInvalidInput(t *testing.T) {
	p, cfg := newTestPipeline(t, "http://127.0.0.1:1")
	dir := t.TempDir()

	_, err := p.Run(context.Background(), filepath.Join(dir, "missing.wav"), nil)
	assert.Equal(t, utils.CodeValidation, utils.CodeOf(err))

	cfg.MaxFileSize = 100
	_, err = p.Run(context.Background(), writeTestWAV(t, dir, 1), nil)
	assert.Equal(t, utils.CodeFileTooLarge, utils.CodeOf(err))

	cfg.MaxFileSize = 0
	cfg.ProcessVideo = false
	video := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("x"), 0644))
	_, err = p.Run(context.Background(), video, nil)
	assert.Equal(t, utils.CodeValidation, utils.CodeOf(err))
}
