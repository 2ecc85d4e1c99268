package asr

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/retry"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/transport"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// MockService 模拟转写服务
type MockService struct {
	mock.Mock
}

func (m *MockService) Name() string {
	return "mock"
}

func (m *MockService) Transcribe(ctx context.Context, req *Request) (*Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*Response)
	return resp, args.Error(1)
}

// fakeSlicer 记录切片范围，返回固定字节
type fakeSlicer struct {
	mu     sync.Mutex
	ranges [][2]float64
	err    error
}

func (f *fakeSlicer) Duration() float64 { return 3600 }

func (f *fakeSlicer) Slice(ctx context.Context, start, end float64) (transport.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, [2]float64{start, end})
	if f.err != nil {
		return nil, f.err
	}
	return transport.BytesPayload("segment-audio"), nil
}

func (f *fakeSlicer) Close() error { return nil }

type recordedDelay struct {
	delays []time.Duration
}

func (r *recordedDelay) sleep(ctx context.Context, d time.Duration, onCountdown retry.CountdownCallback) error {
	r.delays = append(r.delays, d)
	if onCountdown != nil {
		onCountdown(int(d.Seconds()))
		onCountdown(0)
	}
	return nil
}

func newTestTranscriber(svc Service, sleeper *recordedDelay) *Transcriber {
	selector := NewSelector()
	selector.Register(svc, 1)
	tr := NewTranscriber(selector, ServiceAuto, retry.NewPolicy(3, time.Second, 10*time.Second, 0))
	tr.RetryOptions = []retry.Option{retry.WithSleep(sleeper.sleep)}
	return tr
}

var secondSegment = models.AudioSegment{Index: 1, StartTime: 900, EndTime: 1800, Duration: 900, OverlapStart: 2, OverlapEnd: 2}

func TestTranscribeMapsAbsoluteTime(t *testing.T) {
	svc := new(MockService)
	svc.On("Transcribe", mock.Anything, mock.MatchedBy(func(req *Request) bool {
		return req.SegmentIndex == 1 && req.Audio != nil && req.FileName == "talk_part002.mp3"
	})).Return(&Response{DurationSeconds: 904, Spans: []RawSpan{
		{Text: " 大家好 ", StartOffset: 2.5, EndOffset: 4},
		{Text: "", StartOffset: 5, EndOffset: 6},
		{Text: "开始吧", StartOffset: 10, EndOffset: 9},
	}}, nil).Once()

	slicer := &fakeSlicer{}
	tr := newTestTranscriber(svc, &recordedDelay{})

	result, err := tr.Transcribe(context.Background(), slicer, secondSegment, Hooks{FileName: SegmentFileName("/data/talk.mp3", 1)})
	require.NoError(t, err)
	svc.AssertExpectations(t)

	assert.Equal(t, [][2]float64{{898, 1802}}, slicer.ranges)
	assert.Equal(t, 1, result.Index)
	assert.Equal(t, 900.0, result.StartTime)
	require.Len(t, result.TextSpans, 2)
	assert.Equal(t, models.TextSpan{Text: "大家好", RelativeTimestamp: 2.5, Duration: 1.5, AbsoluteStart: 902.5, SegmentIndex: 1}, result.TextSpans[0])
	assert.Equal(t, 910.0, result.TextSpans[1].AbsoluteStart)
	assert.Equal(t, 0.0, result.TextSpans[1].Duration)
}

func TestTranscribeRetriesWithHooks(t *testing.T) {
	svc := new(MockService)
	svc.On("Transcribe", mock.Anything, mock.Anything).Return(nil, utils.NewHTTPError(http.StatusServiceUnavailable, "", 0)).Twice()
	svc.On("Transcribe", mock.Anything, mock.Anything).Return(nil, utils.NewHTTPError(http.StatusTooManyRequests, "", 5*time.Second)).Once()
	svc.On("Transcribe", mock.Anything, mock.Anything).Return(&Response{Spans: []RawSpan{{Text: "ok"}}}, nil).Once()

	sleeper := &recordedDelay{}
	tr := newTestTranscriber(svc, sleeper)

	var attempts []int
	var countdown []int
	result, err := tr.Transcribe(context.Background(), &fakeSlicer{}, secondSegment, Hooks{
		OnRetry:     func(attempt int, delay time.Duration, err error) { attempts = append(attempts, attempt) },
		OnCountdown: func(remaining int) { countdown = append(countdown, remaining) },
	})
	require.NoError(t, err)
	assert.Len(t, result.TextSpans, 1)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 5 * time.Second}, sleeper.delays)
	assert.Equal(t, []int{1, 0, 2, 0, 5, 0}, countdown)
	svc.AssertNumberOfCalls(t, "Transcribe", 4)
	assert.Equal(t, 1, tr.Selector.Stats()["mock"].SuccessCount)
}

func TestTranscribeExhaustedReturnsSegmentError(t *testing.T) {
	svc := new(MockService)
	svc.On("Transcribe", mock.Anything, mock.Anything).Return(nil, utils.NewHTTPError(http.StatusInternalServerError, "boom", 0))

	tr := newTestTranscriber(svc, &recordedDelay{})
	_, err := tr.Transcribe(context.Background(), &fakeSlicer{}, secondSegment, Hooks{})
	require.Error(t, err)

	var segErr *utils.SegmentError
	require.True(t, errors.As(err, &segErr))
	assert.Equal(t, 1, segErr.Index)

	var retryErr *retry.RetryError
	require.True(t, errors.As(err, &retryErr))
	assert.Equal(t, 4, retryErr.Attempts)
	svc.AssertNumberOfCalls(t, "Transcribe", 4)
	assert.Equal(t, 0, tr.Selector.Stats()["mock"].SuccessCount)
}

func TestTranscribeAuthFailsImmediately(t *testing.T) {
	svc := new(MockService)
	svc.On("Transcribe", mock.Anything, mock.Anything).Return(nil, utils.NewAuthError("bad key", nil))

	sleeper := &recordedDelay{}
	tr := newTestTranscriber(svc, sleeper)
	_, err := tr.Transcribe(context.Background(), &fakeSlicer{}, secondSegment, Hooks{})
	require.Error(t, err)
	assert.Equal(t, utils.CodeAuth, utils.CodeOf(err))
	assert.Empty(t, sleeper.delays)
	svc.AssertNumberOfCalls(t, "Transcribe", 1)
}

func TestTranscribeSliceFailure(t *testing.T) {
	svc := new(MockService)
	tr := newTestTranscriber(svc, &recordedDelay{})

	_, err := tr.Transcribe(context.Background(), &fakeSlicer{err: errors.New("disk")}, secondSegment, Hooks{})
	var segErr *utils.SegmentError
	require.True(t, errors.As(err, &segErr))
	assert.Equal(t, 1, segErr.Index)
	svc.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything)
}

func TestTranscribeSegmentTooLarge(t *testing.T) {
	svc := new(MockService)
	tr := newTestTranscriber(svc, &recordedDelay{})
	tr.MaxSegmentBytes = 4

	_, err := tr.Transcribe(context.Background(), &fakeSlicer{}, secondSegment, Hooks{})
	assert.Equal(t, utils.CodeFileTooLarge, utils.CodeOf(err))
}

func TestTranscribeUsesCache(t *testing.T) {
	svc := new(MockService)
	svc.On("Transcribe", mock.Anything, mock.Anything).Return(&Response{Spans: []RawSpan{{Text: "cached text", StartOffset: 1}}}, nil).Once()

	cache, err := NewCache(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	tr := newTestTranscriber(svc, &recordedDelay{})
	tr.Cache = cache

	first, err := tr.Transcribe(context.Background(), &fakeSlicer{}, secondSegment, Hooks{})
	require.NoError(t, err)

	hit := false
	second, err := tr.Transcribe(context.Background(), &fakeSlicer{}, secondSegment, Hooks{OnCached: func() { hit = true }})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, second)
	svc.AssertNumberOfCalls(t, "Transcribe", 1)
}

func TestSegmentFileName(t *testing.T) {
	assert.Equal(t, "weekly_part001.wav", SegmentFileName("/tmp/weekly.wav", 0))
	assert.Equal(t, "noext_part010.mp3", SegmentFileName("noext", 9))
}

type byteRecorder struct {
	nopRecorder
	mu    sync.Mutex
	bytes int64
}

func (r *byteRecorder) BytesSent(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytes += n
}

func TestTranscribeProgressFromConcurrentWriters(t *testing.T) {
	svc := new(MockService)
	svc.On("Transcribe", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		req := args.Get(1).(*Request)
		// 上一次尝试的写协程与本次尝试同时上报
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for sent := int64(1); sent <= 100; sent++ {
					req.OnProgress(sent, 100)
				}
			}()
		}
		wg.Wait()
	}).Return(&Response{Spans: []RawSpan{{Text: "ok"}}}, nil).Once()

	recorder := &byteRecorder{}
	tr := newTestTranscriber(svc, &recordedDelay{})
	tr.Recorder = recorder

	var seen []int64
	_, err := tr.Transcribe(context.Background(), &fakeSlicer{}, secondSegment, Hooks{
		OnBytes: func(sent, total int64) { seen = append(seen, sent) },
	})
	require.NoError(t, err)

	assert.Equal(t, int64(100), recorder.bytes)
	require.NotEmpty(t, seen)
	assert.Equal(t, int64(100), seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
}
