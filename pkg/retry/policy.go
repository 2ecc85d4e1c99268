package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultRetryableStatusCodes 默认可重试的HTTP状态码
var DefaultRetryableStatusCodes = []int{429, 500, 502, 503, 504}

// Policy 重试策略，每次调用独立构造，不在并发调用之间共享可变状态
type Policy struct {
	MaxRetries           int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	JitterFactor         float64
	RetryableStatusCodes map[int]struct{}
}

// NewPolicy 创建重试策略，statusCodes 为空时使用默认集合
func NewPolicy(maxRetries int, baseDelay, maxDelay time.Duration, jitterFactor float64, statusCodes ...int) Policy {
	if len(statusCodes) == 0 {
		statusCodes = DefaultRetryableStatusCodes
	}
	codes := make(map[int]struct{}, len(statusCodes))
	for _, code := range statusCodes {
		codes[code] = struct{}{}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return Policy{
		MaxRetries:           maxRetries,
		BaseDelay:            baseDelay,
		MaxDelay:             maxDelay,
		JitterFactor:         math.Max(0, jitterFactor),
		RetryableStatusCodes: codes,
	}
}

// DefaultPolicy 分段转写使用的默认策略
func DefaultPolicy() Policy {
	return NewPolicy(3, 1500*time.Millisecond, 25*time.Second, 0.3)
}

// SummaryPolicy 摘要调用使用的默认策略
func SummaryPolicy() Policy {
	return NewPolicy(2, 2*time.Second, 30*time.Second, 0.3)
}

// IsRetryableStatus 状态码是否在可重试集合中
func (p Policy) IsRetryableStatus(status int) bool {
	_, ok := p.RetryableStatusCodes[status]
	return ok
}

// MaxAttempts 总尝试次数上限
func (p Policy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// Delay 计算第 attempt 次重试（从0开始）的等待时间
// delay = min(base·2^attempt, max) · (1 + jitter·u)，u ∈ [0,1]
func (p Policy) Delay(attempt int, u float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	u = math.Min(1, math.Max(0, u))

	capped := math.Min(float64(p.BaseDelay)*math.Pow(2, float64(attempt)), float64(p.MaxDelay))
	return time.Duration(capped * (1 + p.JitterFactor*u))
}

// NewBackOff 为一次调用构造独立的 backoff.BackOff，超过 MaxRetries 后返回 backoff.Stop
func (p Policy) NewBackOff(random func() float64) backoff.BackOff {
	return &jitterBackOff{policy: p, random: random}
}

type jitterBackOff struct {
	policy  Policy
	random  func() float64
	attempt int
}

func (b *jitterBackOff) NextBackOff() time.Duration {
	if b.attempt >= b.policy.MaxRetries {
		return backoff.Stop
	}
	d := b.policy.Delay(b.attempt, b.random())
	b.attempt++
	return d
}

func (b *jitterBackOff) Reset() {
	b.attempt = 0
}
