package segmenter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

func TestSplitFortyMinutes(t *testing.T) {
	var calls []int
	segments, err := Split(2400, DefaultOptions(), func(current, total int, message string) {
		assert.Equal(t, 3, total)
		calls = append(calls, current)
	})
	require.NoError(t, err)
	require.Len(t, segments, 3)
	assert.Equal(t, []int{1, 2, 3}, calls)

	// 规范边界
	expected := [][2]float64{{0, 900}, {900, 1800}, {1800, 2400}}
	for i, seg := range segments {
		assert.Equal(t, i, seg.Index)
		assert.Equal(t, expected[i][0], seg.StartTime)
		assert.Equal(t, expected[i][1], seg.EndTime)
		assert.Equal(t, seg.EndTime-seg.StartTime, seg.Duration)
	}

	// 发送范围
	transmitted := [][2]float64{{0, 902}, {898, 1802}, {1798, 2400}}
	for i, seg := range segments {
		assert.Equal(t, transmitted[i][0], seg.TransmitStart(), "segment %d", i)
		assert.Equal(t, transmitted[i][1], seg.TransmitEnd(), "segment %d", i)
	}

	assert.Equal(t, 0.0, segments[0].OverlapStart)
	assert.Equal(t, 0.0, segments[2].OverlapEnd)
}

func TestSplitShortRecording(t *testing.T) {
	for _, duration := range []float64{0.5, 300, 900} {
		segments, err := Split(duration, DefaultOptions(), nil)
		require.NoError(t, err)
		require.Len(t, segments, 1)
		assert.Equal(t, 0.0, segments[0].StartTime)
		assert.Equal(t, duration, segments[0].EndTime)
		assert.Equal(t, 0.0, segments[0].OverlapStart)
		assert.Equal(t, 0.0, segments[0].OverlapEnd)
	}
}

func TestSplitProperties(t *testing.T) {
	cases := []struct {
		duration, window, overlap float64
	}{
		{901, 900, 2},
		{1800, 900, 2},
		{3601.25, 600, 5},
		{100, 7, 0},
		{59.9, 10, 9.5},
		{12345.678, 300, 1},
	}

	for _, tc := range cases {
		segments, err := Split(tc.duration, Options{WindowDuration: tc.window, OverlapDuration: tc.overlap}, nil)
		require.NoError(t, err)

		// 分段数为 ceil(D/W)
		require.Len(t, segments, int(math.Ceil(tc.duration/tc.window)))

		// 规范边界首尾相接，覆盖 [0, D)
		assert.Equal(t, 0.0, segments[0].StartTime)
		assert.Equal(t, tc.duration, segments[len(segments)-1].EndTime)
		for i := 1; i < len(segments); i++ {
			assert.Equal(t, segments[i-1].EndTime, segments[i].StartTime)
		}

		// 首段无前重叠，末段无后重叠
		assert.Equal(t, 0.0, segments[0].OverlapStart)
		assert.Equal(t, 0.0, segments[len(segments)-1].OverlapEnd)

		for _, seg := range segments {
			assert.GreaterOrEqual(t, seg.TransmitStart(), 0.0)
			assert.LessOrEqual(t, seg.TransmitEnd(), tc.duration)
			assert.LessOrEqual(t, seg.OverlapStart, tc.overlap)
			assert.LessOrEqual(t, seg.OverlapEnd, tc.overlap)
		}
	}
}

func TestSplitInvalidInput(t *testing.T) {
	cases := []struct {
		name     string
		duration float64
		opts     Options
	}{
		{"零时长", 0, DefaultOptions()},
		{"负时长", -5, DefaultOptions()},
		{"非数字", math.NaN(), DefaultOptions()},
		{"零窗口", 100, Options{WindowDuration: 0}},
		{"负重叠", 100, Options{WindowDuration: 10, OverlapDuration: -1}},
		{"重叠不小于窗口", 100, Options{WindowDuration: 10, OverlapDuration: 10}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Split(tc.duration, tc.opts, nil)
			require.Error(t, err)
			assert.Equal(t, utils.CodeSegmentation, utils.CodeOf(err))
		})
	}
}
