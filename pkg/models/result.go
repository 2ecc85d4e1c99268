package models

// Result 结果统计信息
type Result struct {
	RunID         string            `json:"run_id"`          // 本次运行ID
	FilePath      string            `json:"file_path"`       // 处理的文件路径
	Service       string            `json:"service"`         // 使用的ASR服务
	OutputFiles   map[string]string `json:"output_files"`    // 输出文件路径
	SegmentCount  int               `json:"segment_count"`   // 音频分段数
	SpanCount     int               `json:"span_count"`      // 识别的文本段数
	WordCount     int               `json:"word_count"`      // 词数
	CachedCount   int               `json:"cached_count"`    // 命中缓存的分段数
	Retries       int               `json:"retries"`         // 全部分段累计重试次数
	DurationMs    int64             `json:"duration_ms"`     // 音频时长（毫秒）
	ProcessTimeMs int64             `json:"process_time_ms"` // 处理时间（毫秒）
	Transcript    *Transcript       `json:"-"`
	Summary       *Summary          `json:"summary,omitempty"`
}
