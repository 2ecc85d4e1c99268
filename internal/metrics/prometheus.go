package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

const namespace = "meeting_transcriber"

// Metrics 转写流水线的 Prometheus 指标
// 同时实现 asr.Recorder 与 pipeline.RunRecorder
type Metrics struct {
	// 运行
	RunsStarted     prometheus.Counter
	RunsFinished    *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	ActiveRuns      prometheus.Gauge
	SegmentsPerRun  prometheus.Histogram

	// 分段转写
	Segments        *prometheus.CounterVec
	SegmentDuration *prometheus.HistogramVec
	Retries         *prometheus.CounterVec
	RetryDelay      prometheus.Histogram
	BytesUploaded   prometheus.Counter

	registry *prometheus.Registry
}

// New 在独立的 registry 上注册全部指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)
	m.registry = reg
	return m
}

// NewWithRegisterer 在指定 registerer 上注册，reg 为 nil 时使用默认 registry
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of transcription runs started",
		}),
		RunsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Total number of transcription runs finished, by result code",
		}, []string{"code"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a transcription run",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s 到约 68 分钟
		}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Current number of runs in progress",
		}),
		SegmentsPerRun: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segments_per_run",
			Help:      "Number of segments a recording was split into",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		}),
		Segments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_total",
			Help:      "Transcribed segments, by service and status",
		}, []string{"service", "status"}),
		SegmentDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_duration_seconds",
			Help:      "Time spent transcribing one segment including retries",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"service"}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retries scheduled, by service",
		}, []string{"service"}),
		RetryDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_delay_seconds",
			Help:      "Delay before a retry",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		BytesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Audio bytes sent to transcription services",
		}),
	}
}

// RunStarted 一次运行开始
func (m *Metrics) RunStarted() {
	m.RunsStarted.Inc()
	m.ActiveRuns.Inc()
}

// RunFinished 一次运行结束，code 为 "ok" 或错误码
func (m *Metrics) RunFinished(code string, elapsed time.Duration) {
	m.ActiveRuns.Dec()
	m.RunsFinished.WithLabelValues(code).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}

// SegmentsPlanned 记录分段数
func (m *Metrics) SegmentsPlanned(n int) {
	m.SegmentsPerRun.Observe(float64(n))
}

// SegmentDone 一个分段结束
func (m *Metrics) SegmentDone(service, status string, elapsed time.Duration) {
	m.Segments.WithLabelValues(service, status).Inc()
	if status != "cached" {
		m.SegmentDuration.WithLabelValues(service).Observe(elapsed.Seconds())
	}
}

// RetryScheduled 安排了一次重试
func (m *Metrics) RetryScheduled(service string, delay time.Duration) {
	m.Retries.WithLabelValues(service).Inc()
	m.RetryDelay.Observe(delay.Seconds())
}

// BytesSent 新发送的字节数
func (m *Metrics) BytesSent(n int64) {
	if n > 0 {
		m.BytesUploaded.Add(float64(n))
	}
}

// Handler 指标的 HTTP 处理器
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve 在 addr 上提供 /metrics，ctx 取消后关闭
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		utils.Info("指标服务已启动: http://%s/metrics", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
