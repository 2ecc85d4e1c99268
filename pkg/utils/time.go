package utils

import (
	"fmt"
	"math"
	"time"
)

// FormatTimeDuration 格式化时间长度为易读格式
func FormatTimeDuration(seconds float64) string {
	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := int(seconds) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, secs)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, secs)
	}
	return fmt.Sprintf("%ds", secs)
}

// FormatTimestamp 格式化为 HH:MM:SS，用于文本稿中的时间标记
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// FormatSRTTime 将秒数格式化为SRT时间格式 (HH:MM:SS,mmm)
func FormatSRTTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	hours := ms / 3_600_000
	minutes := (ms % 3_600_000) / 60_000
	secs := (ms % 60_000) / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, ms%1000)
}

// SecondsToDuration 浮点秒转 time.Duration
func SecondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// GetCurrentTimeString 获取当前时间的字符串表示
func GetCurrentTimeString() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

// FormatFileSize 将字节大小格式化为人类可读格式
func FormatFileSize(sizeBytes int64) string {
	const (
		B  int64 = 1
		KB int64 = 1024 * B
		MB int64 = 1024 * KB
		GB int64 = 1024 * MB
		TB int64 = 1024 * GB
	)

	var (
		unit     string
		unitSize int64
	)

	switch {
	case sizeBytes >= TB:
		unit, unitSize = "TB", TB
	case sizeBytes >= GB:
		unit, unitSize = "GB", GB
	case sizeBytes >= MB:
		unit, unitSize = "MB", MB
	case sizeBytes >= KB:
		unit, unitSize = "KB", KB
	default:
		unit, unitSize = "B", B
	}

	return fmt.Sprintf("%.2f %s", float64(sizeBytes)/float64(unitSize), unit)
}
