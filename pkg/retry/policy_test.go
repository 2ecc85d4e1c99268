package retry

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestPolicyDelay(t *testing.T) {
	p := NewPolicy(5, time.Second, 8*time.Second, 0.5)

	// 无抖动时按2的幂增长，并被上限截断
	assert.Equal(t, time.Second, p.Delay(0, 0))
	assert.Equal(t, 2*time.Second, p.Delay(1, 0))
	assert.Equal(t, 4*time.Second, p.Delay(2, 0))
	assert.Equal(t, 8*time.Second, p.Delay(3, 0))
	assert.Equal(t, 8*time.Second, p.Delay(10, 0))

	// 抖动是附加的，最大为 delay·(1+jitter)
	assert.Equal(t, 1500*time.Millisecond, p.Delay(0, 1))
	assert.Equal(t, 12*time.Second, p.Delay(3, 1))
}

func TestPolicyDelayBounds(t *testing.T) {
	p := DefaultPolicy()
	upper := time.Duration(float64(p.MaxDelay) * (1 + p.JitterFactor))

	prevMin := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		low := p.Delay(attempt, 0)
		high := p.Delay(attempt, 1)

		assert.GreaterOrEqual(t, low, p.BaseDelay)
		assert.LessOrEqual(t, high, upper)
		// 去掉抖动后单调不减
		assert.GreaterOrEqual(t, low, prevMin)
		prevMin = low
	}
}

func TestPolicyRetryableStatus(t *testing.T) {
	p := DefaultPolicy()
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, p.IsRetryableStatus(code), code)
	}
	for _, code := range []int{400, 401, 403, 404, 413} {
		assert.False(t, p.IsRetryableStatus(code), code)
	}

	custom := NewPolicy(1, time.Second, time.Second, 0, 503)
	assert.True(t, custom.IsRetryableStatus(503))
	assert.False(t, custom.IsRetryableStatus(500))
	assert.Equal(t, 2, custom.MaxAttempts())
}

func TestBackOffStops(t *testing.T) {
	p := NewPolicy(2, time.Second, 10*time.Second, 0)
	b := p.NewBackOff(func() float64 { return 0 })

	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}
