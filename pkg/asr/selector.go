package asr

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// ServiceAuto 自动选择服务
const ServiceAuto = "auto"

// ServiceStats 服务统计数据
type ServiceStats struct {
	Count        int     `json:"count"`
	SuccessCount int     `json:"success_count"`
	TotalCount   int     `json:"total_count"`
	SuccessRate  float64 `json:"success_rate"`
	Available    bool    `json:"available"`
	Weight       int     `json:"weight"`
}

type serviceEntry struct {
	service      Service
	weight       int
	count        int
	successCount int
	totalCount   int
	available    bool
}

// Selector 语音服务选择器，在多个ASR服务之间按权重分配分段
type Selector struct {
	mu      sync.Mutex
	entries map[string]*serviceEntry
	order   []string // 注册顺序，保证加权随机可复现
	rnd     *rand.Rand
}

// NewSelector 创建新的ASR服务选择器
func NewSelector() *Selector {
	return &Selector{
		entries: make(map[string]*serviceEntry),
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetSeed 固定随机种子
func (s *Selector) SetSeed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rnd = rand.New(rand.NewSource(seed))
}

// Register 注册ASR服务，同名服务会被替换
func (s *Selector) Register(service Service, weight int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := service.Name()
	if weight <= 0 {
		weight = 1
	}
	if _, exists := s.entries[name]; !exists {
		s.order = append(s.order, name)
	}
	s.entries[name] = &serviceEntry{service: service, weight: weight, available: true}

	utils.Info("注册ASR服务: %s, 权重: %d", name, weight)
}

// Select 按名称选择服务，name 为 auto 时在可用服务中加权随机
func (s *Selector) Select(name string) (Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return nil, utils.NewValidationError("没有注册任何ASR服务")
	}

	if name != "" && name != ServiceAuto {
		entry, ok := s.entries[name]
		if !ok {
			return nil, utils.NewValidationError("未知的ASR服务: %s", name)
		}
		entry.count++
		return entry.service, nil
	}

	totalWeight := 0
	for _, n := range s.order {
		if e := s.entries[n]; e.available {
			totalWeight += e.weight
		}
	}
	if totalWeight == 0 {
		return nil, utils.NewError(utils.CodeTransport, "没有可用的ASR服务", nil)
	}

	r := s.rnd.Intn(totalWeight)
	for _, n := range s.order {
		e := s.entries[n]
		if !e.available {
			continue
		}
		if r < e.weight {
			e.count++
			return e.service, nil
		}
		r -= e.weight
	}
	return nil, fmt.Errorf("加权选择失败")
}

// ReportResult 报告服务调用结果，成功率过低的服务临时禁用
func (s *Selector) ReportResult(name string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return
	}
	if success {
		e.successCount++
	}
	e.totalCount++

	if !success && e.available && e.totalCount > 5 && float64(e.successCount)/float64(e.totalCount) < 0.2 {
		e.available = false
		utils.Warn("ASR服务 %s 成功率过低，临时禁用", name)
	} else if success && !e.available {
		e.available = true
		utils.Info("ASR服务 %s 恢复可用", name)
	}
}

// Names 已注册的服务名称（按名称排序）
func (s *Selector) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := append([]string(nil), s.order...)
	sort.Strings(names)
	return names
}

// Stats 获取服务使用统计信息
func (s *Selector) Stats() map[string]ServiceStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]ServiceStats, len(s.entries))
	for name, e := range s.entries {
		rate := 0.0
		if e.totalCount > 0 {
			rate = float64(e.successCount) / float64(e.totalCount) * 100
		}
		result[name] = ServiceStats{
			Count:        e.count,
			SuccessCount: e.successCount,
			TotalCount:   e.totalCount,
			SuccessRate:  rate,
			Available:    e.available,
			Weight:       e.weight,
		}
	}
	return result
}
