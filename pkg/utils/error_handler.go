package utils

import (
	"sort"
	"sync"
)

// ErrorStats 按操作统计错误次数，可被多个分段任务并发写入
type ErrorStats struct {
	mu    sync.Mutex
	stats map[string]map[string]int // 操作 -> 错误信息 -> 计数
}

// NewErrorStats 创建新的错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{stats: make(map[string]map[string]int)}
}

// Record 记录一次错误
func (s *ErrorStats) Record(operation string, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stats[operation] == nil {
		s.stats[operation] = make(map[string]int)
	}
	s.stats[operation][err.Error()]++
}

// Total 返回记录的错误总数
func (s *ErrorStats) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, errs := range s.stats {
		for _, count := range errs {
			total += count
		}
	}
	return total
}

// Snapshot 返回统计副本
func (s *ErrorStats) Snapshot() map[string]map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]map[string]int, len(s.stats))
	for op, errs := range s.stats {
		inner := make(map[string]int, len(errs))
		for msg, count := range errs {
			inner[msg] = count
		}
		out[op] = inner
	}
	return out
}

// LogStats 打印错误统计信息
func (s *ErrorStats) LogStats() {
	snapshot := s.Snapshot()
	if len(snapshot) == 0 {
		Debug("没有错误记录")
		return
	}

	operations := make([]string, 0, len(snapshot))
	for op := range snapshot {
		operations = append(operations, op)
	}
	sort.Strings(operations)

	Info("错误统计:")
	for _, op := range operations {
		Info("操作: %s", op)
		for msg, count := range snapshot[op] {
			Info("  - %s: %d次", msg, count)
		}
	}
}
