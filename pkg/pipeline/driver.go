package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/limiter"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// SegmentFunc 转写单个分段
type SegmentFunc func(ctx context.Context, segment models.AudioSegment) (*models.TranscriptionSegment, error)

// SettledFunc 一个分段结束（成功或失败）后调用，done 为已结束的分段数
type SettledFunc func(done, total int, segment models.AudioSegment, err error)

// DriverOptions 分段调度选项
type DriverOptions struct {
	// FailFast 首个分段失败后取消其余分段，默认等待全部分段结束
	FailFast  bool
	OnSettled SettledFunc
}

// TranscribeAll 在限流器下并发转写全部分段，等待全部结束后按序号返回结果
// 有分段失败时返回列出全部失败分段的 *utils.AggregateSegmentError，不返回部分结果
func TranscribeAll(ctx context.Context, lim *limiter.Limiter, segments []models.AudioSegment, fn SegmentFunc, opts DriverOptions) ([]models.TranscriptionSegment, error) {
	if len(segments) == 0 {
		return nil, utils.NewSegmentationError("没有需要转写的分段")
	}

	g, gctx := errgroup.WithContext(ctx)

	var (
		mu       sync.Mutex
		done     int
		results  = make([]*models.TranscriptionSegment, len(segments))
		failures []*utils.SegmentError
	)

	for i := range segments {
		i, segment := i, segments[i]
		g.Go(func() error {
			result, err := limiter.AcquireAndRun(gctx, lim, func(ctx context.Context) (*models.TranscriptionSegment, error) {
				return fn(ctx, segment)
			})

			mu.Lock()
			defer mu.Unlock()
			done++
			if err == nil {
				results[i] = result
			} else if !siblingCanceled(ctx, gctx, err) {
				failures = append(failures, asSegmentError(segment.Index, err))
			}
			if opts.OnSettled != nil {
				opts.OnSettled(done, len(segments), segment, err)
			}

			if err != nil && opts.FailFast {
				return err
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("转写被取消: %w", err)
	}
	if len(failures) > 0 {
		agg := utils.NewAggregateSegmentError(failures)
		utils.Error("%d/%d 个分段转写失败: %v", len(failures), len(segments), agg.Indices())
		return nil, agg
	}

	ordered := make([]models.TranscriptionSegment, len(results))
	for i, r := range results {
		ordered[i] = *r
	}
	return ordered, nil
}

// siblingCanceled 分段因其他分段失败被取消（仅 FailFast），不计入失败列表
func siblingCanceled(parent, group context.Context, err error) bool {
	return parent.Err() == nil && group.Err() != nil && errors.Is(err, context.Canceled)
}

func asSegmentError(index int, err error) *utils.SegmentError {
	var segErr *utils.SegmentError
	if errors.As(err, &segErr) {
		return segErr
	}
	return &utils.SegmentError{Index: index, Cause: err}
}
