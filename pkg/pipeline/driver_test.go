package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/limiter"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

func makeSegments(n int) []models.AudioSegment {
	segments := make([]models.AudioSegment, n)
	for i := range segments {
		segments[i] = models.AudioSegment{Index: i, StartTime: float64(i) * 10, EndTime: float64(i+1) * 10, Duration: 10}
	}
	return segments
}

func TestTranscribeAllOrdersByIndex(t *testing.T) {
	segments := makeSegments(5)
	var settled int32

	results, err := TranscribeAll(context.Background(), limiter.New(2), segments,
		func(ctx context.Context, seg models.AudioSegment) (*models.TranscriptionSegment, error) {
			// 序号越小完成得越晚
			time.Sleep(time.Duration(5-seg.Index) * 5 * time.Millisecond)
			return &models.TranscriptionSegment{Index: seg.Index, StartTime: seg.StartTime, EndTime: seg.EndTime}, nil
		}, DriverOptions{OnSettled: func(done, total int, seg models.AudioSegment, err error) {
			atomic.AddInt32(&settled, 1)
			assert.Equal(t, 5, total)
		}})
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&settled))
}

func TestTranscribeAllWaitsForEverySegment(t *testing.T) {
	segments := makeSegments(6)
	var calls int32

	_, err := TranscribeAll(context.Background(), limiter.New(3), segments,
		func(ctx context.Context, seg models.AudioSegment) (*models.TranscriptionSegment, error) {
			atomic.AddInt32(&calls, 1)
			if seg.Index == 1 || seg.Index == 4 {
				return nil, &utils.SegmentError{Index: seg.Index, Cause: fmt.Errorf("boom %d", seg.Index)}
			}
			if seg.Index == 2 {
				return nil, errors.New("plain failure")
			}
			return &models.TranscriptionSegment{Index: seg.Index}, nil
		}, DriverOptions{})
	require.Error(t, err)

	// 没有提前结束
	assert.Equal(t, int32(6), atomic.LoadInt32(&calls))

	var agg *utils.AggregateSegmentError
	require.True(t, errors.As(err, &agg))
	assert.Equal(t, []int{1, 2, 4}, agg.Indices())
	assert.Equal(t, utils.CodeSegmentsFailed, utils.CodeOf(err))
	assert.Contains(t, err.Error(), "boom 4")
}

func TestTranscribeAllRespectsLimiter(t *testing.T) {
	lim := limiter.New(2)
	_, err := TranscribeAll(context.Background(), lim, makeSegments(8),
		func(ctx context.Context, seg models.AudioSegment) (*models.TranscriptionSegment, error) {
			assert.LessOrEqual(t, lim.InFlight(), 2)
			time.Sleep(5 * time.Millisecond)
			return &models.TranscriptionSegment{Index: seg.Index}, nil
		}, DriverOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, lim.Peak())
}

func TestTranscribeAllFailFast(t *testing.T) {
	_, err := TranscribeAll(context.Background(), limiter.New(4), makeSegments(4),
		func(ctx context.Context, seg models.AudioSegment) (*models.TranscriptionSegment, error) {
			if seg.Index == 0 {
				return nil, errors.New("first failed")
			}
			<-ctx.Done()
			return nil, ctx.Err()
		}, DriverOptions{FailFast: true})
	require.Error(t, err)

	var agg *utils.AggregateSegmentError
	require.True(t, errors.As(err, &agg))
	// 只报告真正失败的分段
	assert.Equal(t, []int{0}, agg.Indices())
}

func TestTranscribeAllCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := TranscribeAll(ctx, limiter.New(2), makeSegments(3),
		func(ctx context.Context, seg models.AudioSegment) (*models.TranscriptionSegment, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}, DriverOptions{})
	require.Error(t, err)
	assert.Equal(t, utils.CodeCanceled, utils.CodeOf(err))
}

func TestTranscribeAllEmpty(t *testing.T) {
	_, err := TranscribeAll(context.Background(), limiter.New(1), nil, nil, DriverOptions{})
	assert.Equal(t, utils.CodeSegmentation, utils.CodeOf(err))
}
