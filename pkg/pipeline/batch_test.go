package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/progress"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/scanner"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

type fakeRunner struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeRunner) Run(ctx context.Context, path string, sink progress.Sink) (*models.Result, error) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()

	if strings.Contains(filepath.Base(path), "broken") {
		return nil, utils.NewValidationError("不支持的格式: %s", path)
	}
	if sink != nil {
		sink(progress.State{Stage: progress.StageComplete, Percentage: 100})
	}
	return &models.Result{FilePath: path, SegmentCount: 1}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paths)
}

func writeMedia(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("data"), 0644))
}

func TestBatchProcessDirectory(t *testing.T) {
	dir := t.TempDir()
	writeMedia(t, dir, "a.mp3")
	writeMedia(t, dir, "broken.wav")
	writeMedia(t, dir, "notes.txt")

	processed, err := scanner.NewProcessedStore(filepath.Join(t.TempDir(), "processed.json"))
	require.NoError(t, err)

	cfg := models.NewDefaultConfig()
	runner := &fakeRunner{}

	var (
		mu     sync.Mutex
		starts int
		ends   int
	)
	b := NewBatchProcessor(runner, cfg, processed, func(current, total int, filename string, result *BatchResult) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 2, total)
		if result == nil {
			starts++
		} else {
			ends++
		}
	})
	var sinkCalls int
	b.SinkFor = func(file scanner.MediaFile) progress.Sink {
		return func(progress.State) {
			mu.Lock()
			sinkCalls++
			mu.Unlock()
		}
	}

	results, err := b.ProcessDirectory(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, ends)
	assert.Equal(t, 1, sinkCalls)

	failed := FailedFiles(results)
	assert.Equal(t, map[string]utils.ErrorCode{filepath.Join(dir, "broken.wav"): utils.CodeValidation}, failed)
	assert.Equal(t, 1, processed.Len())

	// 已成功的文件不会再次处理
	b.ProgressCallback = nil
	results, err = b.ProcessDirectory(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, filepath.Join(dir, "broken.wav"), results[0].FilePath)
	assert.Equal(t, 3, runner.count())
}

func TestBatchProcessFilesKeepsOrder(t *testing.T) {
	runner := &fakeRunner{}
	cfg := models.NewDefaultConfig()
	cfg.MaxWorkers = 3
	b := NewBatchProcessor(runner, cfg, nil, nil)

	var files []scanner.MediaFile
	for _, name := range []string{"1.mp3", "2.mp3", "3.mp3", "4.mp3", "5.mp3"} {
		files = append(files, scanner.MediaFile{Path: "/media/" + name, Name: name})
	}

	results, err := b.ProcessFiles(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, results, len(files))
	for i, r := range results {
		assert.True(t, r.Success)
		assert.Equal(t, files[i].Path, r.FilePath)
		assert.Equal(t, files[i].Path, r.Result.FilePath)
	}
	assert.Empty(t, FailedFiles(results))
}

func TestBatchProcessCanceled(t *testing.T) {
	runner := &fakeRunner{}
	b := NewBatchProcessor(runner, models.NewDefaultConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := b.ProcessFiles(ctx, []scanner.MediaFile{{Path: "/media/a.mp3", Name: "a.mp3"}})
	require.Error(t, err)
	assert.Equal(t, utils.CodeCanceled, utils.CodeOf(err))
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, 0, runner.count())
}

func TestBatchProcessMissingDirectory(t *testing.T) {
	b := NewBatchProcessor(&fakeRunner{}, models.NewDefaultConfig(), nil, nil)
	_, err := b.ProcessDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, utils.CodeValidation, utils.CodeOf(err))
}
