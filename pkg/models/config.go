package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config 表示应用程序的配置
type Config struct {
	MediaFolder  string `json:"media_folder" yaml:"media_folder"`   // 媒体文件所在文件夹
	OutputFolder string `json:"output_folder" yaml:"output_folder"` // 输出结果文件夹
	TempDir      string `json:"temp_dir" yaml:"temp_dir"`           // 临时目录（切片文件）
	CacheDir     string `json:"cache_dir" yaml:"cache_dir"`         // 分段结果缓存目录
	LogLevel     string `json:"log_level" yaml:"log_level"`         // 日志级别
	LogFile      string `json:"log_file" yaml:"log_file"`           // 日志文件

	// 分段
	WindowSeconds         float64 `json:"window_seconds" yaml:"window_seconds"`                   // 分段窗口长度（秒）
	OverlapSeconds        float64 `json:"overlap_seconds" yaml:"overlap_seconds"`                 // 相邻分段重叠长度（秒）
	MaxConcurrentSegments int     `json:"max_concurrent_segments" yaml:"max_concurrent_segments"` // 同时转写的分段数
	FailFast              bool    `json:"fail_fast" yaml:"fail_fast"`                             // 首个分段失败时取消其余分段

	// 转写重试策略
	MaxRetries     int     `json:"max_retries" yaml:"max_retries"`           // 最大重试次数
	RetryBaseDelay float64 `json:"retry_base_delay" yaml:"retry_base_delay"` // 基础延迟（秒）
	RetryMaxDelay  float64 `json:"retry_max_delay" yaml:"retry_max_delay"`   // 延迟上限（秒）
	RetryJitter    float64 `json:"retry_jitter" yaml:"retry_jitter"`         // 抖动系数 [0,1]

	// 摘要重试策略
	SummaryMaxRetries int     `json:"summary_max_retries" yaml:"summary_max_retries"`
	SummaryBaseDelay  float64 `json:"summary_base_delay" yaml:"summary_base_delay"`
	SummaryMaxDelay   float64 `json:"summary_max_delay" yaml:"summary_max_delay"`

	// 传输
	UploadChunkSize  int64   `json:"upload_chunk_size" yaml:"upload_chunk_size"`   // 流式读取块大小（字节）
	UploadPartSize   int64   `json:"upload_part_size" yaml:"upload_part_size"`     // 分片上传的分片大小（字节）
	MaxFileSize      int64   `json:"max_file_size" yaml:"max_file_size"`           // 输入文件硬上限（字节）
	MaxSegmentBytes  int64   `json:"max_segment_bytes" yaml:"max_segment_bytes"`   // 单个分段发送给转写服务的上限（字节）
	RequestTimeout   float64 `json:"request_timeout" yaml:"request_timeout"`       // 单次请求超时（秒）
	UseObjectStorage bool    `json:"use_object_storage" yaml:"use_object_storage"` // 先上传到对象存储再转写

	// 转写服务
	ASRService  string `json:"asr_service" yaml:"asr_service"` // ASR服务名称 (auto 或已注册的服务名)
	ASREndpoint string `json:"asr_endpoint" yaml:"asr_endpoint"`
	ASRAPIKey   string `json:"asr_api_key" yaml:"asr_api_key"`
	Language    string `json:"language" yaml:"language"`

	// 对象存储
	StorageEndpoint string `json:"storage_endpoint" yaml:"storage_endpoint"`
	StorageAPIKey   string `json:"storage_api_key" yaml:"storage_api_key"`

	// 摘要
	Summarize       bool   `json:"summarize" yaml:"summarize"`
	SummaryEndpoint string `json:"summary_endpoint" yaml:"summary_endpoint"`
	SummaryAPIKey   string `json:"summary_api_key" yaml:"summary_api_key"`
	SummaryModel    string `json:"summary_model" yaml:"summary_model"`

	// 输出
	ExportSRT         bool `json:"export_srt" yaml:"export_srt"`                 // 是否导出SRT字幕文件
	ExportJSON        bool `json:"export_json" yaml:"export_json"`               // 是否导出JSON
	ExportMarkdown    bool `json:"export_markdown" yaml:"export_markdown"`       // 是否导出Markdown纪要
	IncludeTimestamps bool `json:"include_timestamps" yaml:"include_timestamps"` // 在文本中包含时间戳

	// 运行方式
	ProcessVideo bool   `json:"process_video" yaml:"process_video"` // 处理视频文件
	MaxWorkers   int    `json:"max_workers" yaml:"max_workers"`     // 批量模式同时处理的文件数
	WatchMode    bool   `json:"watch_mode" yaml:"watch_mode"`       // 是否启用监听模式
	ShowProgress bool   `json:"show_progress" yaml:"show_progress"` // 显示进度条
	MetricsAddr  string `json:"metrics_addr" yaml:"metrics_addr"`   // Prometheus 指标监听地址，空为关闭
	UseCache     bool   `json:"use_cache" yaml:"use_cache"`         // 复用已完成分段的结果
}

// ConfigValidationError 表示配置验证错误
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("配置验证错误: %s - %s", e.Field, e.Message)
}

// NewDefaultConfig 创建默认配置
func NewDefaultConfig() *Config {
	return &Config{
		MediaFolder:           "./media",
		OutputFolder:          "./output",
		TempDir:               "",
		CacheDir:              "",
		LogLevel:              "INFO",
		LogFile:               "",
		WindowSeconds:         900,
		OverlapSeconds:        2,
		MaxConcurrentSegments: 3,
		FailFast:              false,
		MaxRetries:            3,
		RetryBaseDelay:        1.5,
		RetryMaxDelay:         25,
		RetryJitter:           0.3,
		SummaryMaxRetries:     2,
		SummaryBaseDelay:      2,
		SummaryMaxDelay:       30,
		UploadChunkSize:       1 << 20,
		UploadPartSize:        5 << 20,
		MaxFileSize:           2 << 30,
		MaxSegmentBytes:       25 << 20,
		RequestTimeout:        120,
		ASRService:            "auto",
		Language:              "zh",
		SummaryModel:          "doubao-1-5-pro-256k-250115",
		ExportSRT:             true,
		ExportJSON:            false,
		ExportMarkdown:        true,
		IncludeTimestamps:     true,
		ProcessVideo:          true,
		MaxWorkers:            2,
		WatchMode:             false,
		ShowProgress:          true,
		UseCache:              true,
	}
}

// Validate 验证配置是否有效
func (c *Config) Validate() error {
	if err := ensureDirExists(c.OutputFolder); err != nil {
		return &ConfigValidationError{"OutputFolder", err.Error()}
	}

	if c.WindowSeconds <= 0 {
		return &ConfigValidationError{"WindowSeconds", "必须大于0"}
	}
	if c.OverlapSeconds < 0 || c.OverlapSeconds >= c.WindowSeconds {
		return &ConfigValidationError{"OverlapSeconds", "必须在0与窗口长度之间"}
	}
	if c.MaxConcurrentSegments < 1 || c.MaxConcurrentSegments > 16 {
		return &ConfigValidationError{"MaxConcurrentSegments", "必须在1-16之间"}
	}

	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return &ConfigValidationError{"MaxRetries", "必须在0-10之间"}
	}
	if c.RetryBaseDelay <= 0 || c.RetryBaseDelay > 60 {
		return &ConfigValidationError{"RetryBaseDelay", "必须在0-60秒之间"}
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return &ConfigValidationError{"RetryMaxDelay", "不能小于基础延迟"}
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return &ConfigValidationError{"RetryJitter", "必须在0-1之间"}
	}
	if c.SummaryMaxRetries < 0 || c.SummaryMaxRetries > 10 {
		return &ConfigValidationError{"SummaryMaxRetries", "必须在0-10之间"}
	}
	if c.SummaryBaseDelay <= 0 || c.SummaryMaxDelay < c.SummaryBaseDelay {
		return &ConfigValidationError{"SummaryBaseDelay", "延迟配置无效"}
	}

	if c.UploadChunkSize < 1024 {
		return &ConfigValidationError{"UploadChunkSize", "不能小于1KB"}
	}
	if c.UploadPartSize < c.UploadChunkSize {
		return &ConfigValidationError{"UploadPartSize", "不能小于块大小"}
	}
	if c.MaxFileSize <= 0 {
		return &ConfigValidationError{"MaxFileSize", "必须大于0"}
	}
	if c.MaxSegmentBytes <= 0 {
		return &ConfigValidationError{"MaxSegmentBytes", "必须大于0"}
	}
	if c.RequestTimeout <= 0 {
		return &ConfigValidationError{"RequestTimeout", "必须大于0"}
	}

	if strings.TrimSpace(c.ASRService) == "" {
		return &ConfigValidationError{"ASRService", "不能为空"}
	}
	if c.MaxWorkers < 1 || c.MaxWorkers > 16 {
		return &ConfigValidationError{"MaxWorkers", "必须在1-16之间"}
	}

	return nil
}

// RequestTimeoutDuration 单次请求超时
func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout * float64(time.Second))
}

// LoadFromFile 从文件加载配置，支持 .json/.yaml/.yml
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Errorf("读取配置文件失败: %v", err)
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		logrus.Errorf("解析配置文件失败: %v", err)
		return fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := c.Validate(); err != nil {
		logrus.Errorf("配置验证失败: %v", err)
		return err
	}

	return nil
}

// SaveToFile 保存配置到文件，扩展名决定格式
func (c *Config) SaveToFile(path string) error {
	// 确保目录存在
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logrus.Errorf("创建目录失败: %v", err)
		return err
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		logrus.Errorf("序列化配置失败: %v", err)
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		logrus.Errorf("写入配置文件失败: %v", err)
		return err
	}

	return nil
}

// ApplyEnv 从 MT_* 环境变量读取凭据与服务地址，非空值覆盖配置
func (c *Config) ApplyEnv() {
	overrides := map[string]*string{
		"MT_ASR_ENDPOINT":     &c.ASREndpoint,
		"MT_ASR_API_KEY":      &c.ASRAPIKey,
		"MT_STORAGE_ENDPOINT": &c.StorageEndpoint,
		"MT_STORAGE_API_KEY":  &c.StorageAPIKey,
		"MT_SUMMARY_ENDPOINT": &c.SummaryEndpoint,
		"MT_SUMMARY_API_KEY":  &c.SummaryAPIKey,
		"MT_SUMMARY_MODEL":    &c.SummaryModel,
		"MT_LOG_LEVEL":        &c.LogLevel,
	}
	for key, field := range overrides {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			*field = value
		}
	}
}

// Update 批量更新配置
func (c *Config) Update(updates map[string]interface{}) error {
	// 保存当前配置（用于回滚）
	tempConfig := *c

	// 将更新序列化为JSON再反序列化到结构体中
	updateBytes, err := json.Marshal(updates)
	if err != nil {
		logrus.Errorf("序列化更新数据失败: %v", err)
		return err
	}

	if err := json.Unmarshal(updateBytes, c); err != nil {
		*c = tempConfig
		logrus.Errorf("应用配置更新失败: %v", err)
		return err
	}

	if err := c.Validate(); err != nil {
		*c = tempConfig
		logrus.Errorf("配置验证失败: %v", err)
		return err
	}

	return nil
}

// Reset 重置为默认配置
func (c *Config) Reset() {
	*c = *NewDefaultConfig()
}

// PrintConfig 打印当前配置，凭据字段打码
func (c *Config) PrintConfig() {
	masked := *c
	masked.ASRAPIKey = maskSecret(masked.ASRAPIKey)
	masked.StorageAPIKey = maskSecret(masked.StorageAPIKey)
	masked.SummaryAPIKey = maskSecret(masked.SummaryAPIKey)

	bytes, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		logrus.Errorf("序列化配置失败: %v", err)
		return
	}
	logrus.Info("\n当前配置:\n" + string(bytes))
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// 确保目录存在，如果不存在则创建
func ensureDirExists(path string) error {
	if path == "" {
		return nil // 空路径视为可选
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0755)
	}

	return nil
}
