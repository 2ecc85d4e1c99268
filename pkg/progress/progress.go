package progress

import (
	"math"
	"sync"
	"time"
)

// Stage 流水线阶段
type Stage int

const (
	StageSegmenting Stage = iota
	StageTranscribing
	StageStitching
	StageComplete
)

// TotalStages 参与计算权重的阶段数（Complete 不计入）
const TotalStages = 3

func (s Stage) String() string {
	switch s {
	case StageSegmenting:
		return "segmenting"
	case StageTranscribing:
		return "transcribing"
	case StageStitching:
		return "stitching"
	case StageComplete:
		return "complete"
	}
	return "unknown"
}

// State 一次进度快照，发出后不再修改
type State struct {
	RunID                 string    `json:"run_id"`
	Stage                 Stage     `json:"stage"`
	Percentage            int       `json:"percentage"`
	Message               string    `json:"message"`
	CompletedStages       []Stage   `json:"completed_stages"`
	StageProgress         *int      `json:"stage_progress,omitempty"`
	RetryAttempt          *int      `json:"retry_attempt,omitempty"`
	RetryCountdownSeconds *int      `json:"retry_countdown_seconds,omitempty"`
	Timestamp             time.Time `json:"timestamp"`
}

// IsCompleted 阶段是否已完成
func (s State) IsCompleted(stage Stage) bool {
	for _, done := range s.CompletedStages {
		if done == stage {
			return true
		}
	}
	return false
}

// OverallPercent 由已完成阶段数与当前阶段进度计算总体百分比
func OverallPercent(completedStages, totalStages, stageProgress int) int {
	if totalStages <= 0 {
		return 0
	}
	stageProgress = clamp(stageProgress, 0, 100)
	weight := 100.0 / float64(totalStages)
	overall := math.Round(float64(completedStages)*weight + float64(stageProgress)*weight/100)
	return clamp(int(overall), 0, 100)
}

// Sink 接收进度快照
type Sink func(State)

// Tracker 一次运行的进度聚合器，多个分段任务可以并发上报
type Tracker struct {
	runID string
	sink  Sink
	now   func() time.Time

	mu        sync.Mutex
	completed []Stage
	last      int
	history   []State
}

// NewTracker 创建进度聚合器，sink 可以为空
func NewTracker(runID string, sink Sink) *Tracker {
	return &Tracker{runID: runID, sink: sink, now: time.Now}
}

// Stage 上报当前阶段的进度（0-100）
func (t *Tracker) Stage(stage Stage, stageProgress int, message string) State {
	p := clamp(stageProgress, 0, 100)
	return t.emit(stage, &p, nil, nil, message)
}

// Retry 上报某个分段正在等待重试
func (t *Tracker) Retry(stage Stage, attempt, countdownSeconds int, message string) State {
	a, c := attempt, countdownSeconds
	return t.emit(stage, nil, &a, &c, message)
}

// CompleteStage 标记阶段完成
func (t *Tracker) CompleteStage(stage Stage, message string) State {
	t.mu.Lock()
	if !contains(t.completed, stage) {
		t.completed = append(t.completed, stage)
	}
	t.mu.Unlock()

	p := 100
	return t.emit(stage, &p, nil, nil, message)
}

// Complete 整个运行结束，总体进度为100
func (t *Tracker) Complete(message string) State {
	t.mu.Lock()
	for _, stage := range []Stage{StageSegmenting, StageTranscribing, StageStitching} {
		if !contains(t.completed, stage) {
			t.completed = append(t.completed, stage)
		}
	}
	t.mu.Unlock()

	p := 100
	return t.emit(StageComplete, &p, nil, nil, message)
}

// Last 最近一次快照的总体百分比
func (t *Tracker) Last() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// History 已发出的全部快照
func (t *Tracker) History() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]State, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Tracker) emit(stage Stage, stageProgress, attempt, countdown *int, message string) State {
	t.mu.Lock()

	var percent int
	if stage == StageComplete {
		percent = 100
	} else {
		sp := 0
		if stageProgress != nil {
			sp = *stageProgress
		}
		// 当前阶段已标记完成时不再重复计入
		if contains(t.completed, stage) {
			sp = 0
		}
		percent = OverallPercent(len(t.completed), TotalStages, sp)
	}
	// 总体进度不回退
	if percent < t.last {
		percent = t.last
	}
	t.last = percent

	state := State{
		RunID:                 t.runID,
		Stage:                 stage,
		Percentage:            percent,
		Message:               message,
		CompletedStages:       append([]Stage(nil), t.completed...),
		StageProgress:         stageProgress,
		RetryAttempt:          attempt,
		RetryCountdownSeconds: countdown,
		Timestamp:             t.now(),
	}
	t.history = append(t.history, state)
	sink := t.sink
	// 在锁内投递，保证观察者看到的顺序与百分比顺序一致
	if sink != nil {
		sink(state)
	}
	t.mu.Unlock()
	return state
}

// ChannelSink 非阻塞地把快照写入通道，消费者跟不上时丢弃
func ChannelSink(ch chan<- State) Sink {
	return func(s State) {
		select {
		case ch <- s:
		default:
		}
	}
}

// MultiSink 依次投递给多个接收者
func MultiSink(sinks ...Sink) Sink {
	return func(s State) {
		for _, sink := range sinks {
			if sink != nil {
				sink(s)
			}
		}
	}
}

func contains(stages []Stage, stage Stage) bool {
	for _, s := range stages {
		if s == stage {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
