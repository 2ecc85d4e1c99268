package limiter

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent 默认并发数
const DefaultMaxConcurrent = 3

// Limiter 计数信号量，许可紧张时按到达顺序（FIFO）放行
type Limiter struct {
	sem     *semaphore.Weighted
	permits int

	mu       sync.Mutex
	inFlight int
	peak     int
}

// New 创建限流器，maxConcurrent <= 0 时使用默认值
func New(maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Limiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		permits: maxConcurrent,
	}
}

// Permits 许可总数
func (l *Limiter) Permits() int {
	return l.permits
}

// InFlight 当前正在执行的任务数
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// Peak 曾经同时执行的最大任务数
func (l *Limiter) Peak() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peak
}

// AcquireAndRun 获取许可后执行 task，无论成功、失败还是 panic 都会释放许可
// 排队期间 ctx 结束则直接返回 ctx 的错误，task 不会执行
func AcquireAndRun[T any](ctx context.Context, l *Limiter, task func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	l.enter()
	defer func() {
		l.leave()
		l.sem.Release(1)
	}()

	return task(ctx)
}

func (l *Limiter) enter() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight++
	if l.inFlight > l.peak {
		l.peak = l.inFlight
	}
}

func (l *Limiter) leave() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight--
}
