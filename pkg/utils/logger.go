package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// 日志级别常量
const (
	LogLevelVerbose = "VERBOSE"
	LogLevelNormal  = "INFO"
	LogLevelQuiet   = "WARN"
	LogLevelError   = "ERROR"
)

var (
	// Log 全局日志实例
	Log = logrus.New()
	// 是否启用了终端进度条；启用后日志只写入文件，避免与进度条混在一起
	terminalProgressEnabled bool
	// 当前日志文件路径，供进度模式切换时复用
	currentLogFile string
)

// ParseLogLevel 将配置中的日志级别转换为logrus级别
// 同时接受 VERBOSE/INFO/WARN/ERROR 与 logrus 自带的级别名
func ParseLogLevel(level string) logrus.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case LogLevelVerbose, "DEBUG", "TRACE":
		return logrus.DebugLevel
	case LogLevelNormal, "":
		return logrus.InfoLevel
	case LogLevelQuiet, "WARNING":
		return logrus.WarnLevel
	case LogLevelError:
		return logrus.ErrorLevel
	}
	if parsed, err := logrus.ParseLevel(level); err == nil {
		return parsed
	}
	return logrus.InfoLevel
}

// InitLogger 初始化日志系统
// level: 日志级别 (VERBOSE/INFO/WARN/ERROR)
// logFile: 日志文件路径，空字符串表示仅输出到控制台
func InitLogger(level string, logFile string) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	switch {
	case terminalProgressEnabled:
		// 进度条模式下日志只写文件
		if logFile == "" {
			logFile = filepath.Join(os.TempDir(), "meeting-transcriber.log")
		}
		file, err := openLogFile(logFile)
		if err != nil {
			return err
		}
		logger.SetOutput(file)
	case logFile != "":
		file, err := openLogFile(logFile)
		if err != nil {
			return err
		}
		// 同时输出到文件和控制台
		logger.SetOutput(io.MultiWriter(os.Stdout, file))
	default:
		logger.SetOutput(os.Stdout)
	}

	logger.SetLevel(ParseLogLevel(level))
	Log = logger
	currentLogFile = logFile
	return nil
}

func openLogFile(logFile string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	return file, nil
}

// EnableTerminalProgress 启用终端进度条模式 - 调用此函数后日志将不再输出到终端
func EnableTerminalProgress() error {
	terminalProgressEnabled = true
	return InitLogger(Log.GetLevel().String(), currentLogFile)
}

// DisableTerminalProgress 禁用终端进度条模式 - 调用此函数后日志将恢复到终端输出
func DisableTerminalProgress() {
	if !terminalProgressEnabled {
		return
	}
	terminalProgressEnabled = false
	Log.SetOutput(os.Stdout)
}

// Debug 输出调试日志
func Debug(format string, args ...interface{}) {
	Log.Debugf(format, args...)
}

// Info 输出信息日志
func Info(format string, args ...interface{}) {
	Log.Infof(format, args...)
}

// Warn 输出警告日志
func Warn(format string, args ...interface{}) {
	Log.Warnf(format, args...)
}

// Error 输出错误日志
func Error(format string, args ...interface{}) {
	Log.Errorf(format, args...)
}

// Fatal 输出致命错误日志并退出
func Fatal(format string, args ...interface{}) {
	Log.Fatalf(format, args...)
}

// WithField 创建带字段的日志条目
func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

// WithFields 创建带多个字段的日志条目
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}
