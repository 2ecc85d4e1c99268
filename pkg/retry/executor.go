package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// RetryCallback 每次重试前调用，attempt 从1开始
type RetryCallback func(attempt int, delay time.Duration, err error)

// CountdownCallback 等待期间大约每秒调用一次，remaining 为剩余秒数
type CountdownCallback func(remaining int)

// Sleeper 可取消的等待，测试中可替换
type Sleeper func(ctx context.Context, d time.Duration, onCountdown CountdownCallback) error

// Option 执行选项
type Option func(*settings)

type settings struct {
	onRetry     RetryCallback
	onCountdown CountdownCallback
	sleep       Sleeper
	random      func() float64
}

// WithOnRetry 设置重试回调
func WithOnRetry(fn RetryCallback) Option {
	return func(s *settings) { s.onRetry = fn }
}

// WithOnCountdown 设置倒计时回调
func WithOnCountdown(fn CountdownCallback) Option {
	return func(s *settings) { s.onCountdown = fn }
}

// WithSleep 替换等待实现
func WithSleep(fn Sleeper) Option {
	return func(s *settings) { s.sleep = fn }
}

// WithRandom 替换抖动使用的随机源，返回值应在 [0,1)
func WithRandom(fn func() float64) Option {
	return func(s *settings) { s.random = fn }
}

// RetryError 重试耗尽后的终止错误
type RetryError struct {
	Attempts int
	Cause    error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("重试 %d 次后仍失败: %v", e.Attempts, e.Cause)
}

func (e *RetryError) Unwrap() error {
	return e.Cause
}

// ErrorCode 原因本身没有错误码时使用
func (e *RetryError) ErrorCode() utils.ErrorCode {
	return utils.CodeRetryExhausted
}

// Permanent 标记错误不可重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Execute 在策略允许的次数内执行 op，总尝试次数不超过 MaxRetries+1
func Execute[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	s := settings{sleep: SleepWithCountdown, random: rand.Float64}
	for _, opt := range opts {
		opt(&s)
	}

	var zero T
	b := policy.NewBackOff(s.random)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		retryable, hint := Classify(policy, err)
		if !retryable {
			return zero, unwrapPermanent(err)
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return zero, &RetryError{Attempts: attempt, Cause: err}
		}
		if hint > 0 {
			delay = hint
		}

		if s.onRetry != nil {
			s.onRetry(attempt, delay, err)
		}
		if sleepErr := s.sleep(ctx, delay, s.onCountdown); sleepErr != nil {
			return zero, fmt.Errorf("等待重试时被取消(已尝试%d次, 最后错误: %v): %w", attempt, err, sleepErr)
		}
	}
}

// Do 无返回值版本
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error, opts ...Option) error {
	_, err := Execute(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// Classify 判断错误是否可重试，并返回服务端给出的重试间隔（没有则为0）
func Classify(policy Policy, err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return false, 0
	}

	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return false, 0
	}

	var transportErr *utils.TransportError
	if errors.As(err, &transportErr) {
		switch transportErr.Kind {
		case utils.TransportNetwork, utils.TransportTimeout:
			return true, transportErr.RetryAfter
		case utils.TransportHTTP:
			if policy.IsRetryableStatus(transportErr.Status) {
				return true, transportErr.RetryAfter
			}
		}
		return false, 0
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, 0
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true, 0
	}

	return false, 0
}

// SleepWithCountdown 等待 d，期间大约每秒回调一次剩余秒数，ctx 取消时立即返回
func SleepWithCountdown(ctx context.Context, d time.Duration, onCountdown CountdownCallback) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var tick <-chan time.Time
	if onCountdown != nil {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		tick = ticker.C
		onCountdown(ceilSeconds(d))
	}

	deadline := time.Now().Add(d)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if onCountdown != nil {
				onCountdown(0)
			}
			return nil
		case <-tick:
			if remaining := ceilSeconds(time.Until(deadline)); remaining > 0 {
				onCountdown(remaining)
			}
		}
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func unwrapPermanent(err error) error {
	if permanent, ok := err.(*backoff.PermanentError); ok && permanent.Err != nil {
		return permanent.Err
	}
	return err
}
