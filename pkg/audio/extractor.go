package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/transport"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// ProgressCallback 是进度回调函数类型
type ProgressCallback func(current, total int, message string)

// ExtractAudioFromVideo 从视频文件提取音频，已存在时直接复用
// 返回音频路径以及是否为新生成
func ExtractAudioFromVideo(ctx context.Context, videoPath, outputFolder string, callback ProgressCallback) (string, bool, error) {
	videoFilename := filepath.Base(videoPath)
	audioPath := filepath.Join(outputFolder, utils.BaseNameWithoutExt(videoPath)+".mp3")

	// 检查音频文件是否已经存在
	if utils.CheckFileExists(audioPath) {
		utils.Info("音频已存在: %s", audioPath)
		return audioPath, false, nil
	}
	if err := utils.EnsureDirExists(outputFolder); err != nil {
		return "", false, fmt.Errorf("创建输出目录失败: %w", err)
	}

	if callback != nil {
		callback(0, 1, "准备提取音频")
	}

	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-i", videoPath,
		"-q:a", "0",
		"-map", "a",
		audioPath,
		"-y", // 覆盖已存在的文件
	)

	utils.Info("正在从视频提取音频: %s", videoFilename)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(audioPath)
		if callback != nil {
			callback(1, 1, fmt.Sprintf("提取失败: %v", err))
		}
		return "", false, fmt.Errorf("音频提取失败: %w: %s", err, lastLine(output))
	}

	if !utils.CheckFileExists(audioPath) {
		if callback != nil {
			callback(1, 1, "提取失败: 文件不存在")
		}
		return "", false, fmt.Errorf("提取的音频文件不存在: %s", audioPath)
	}

	utils.Info("音频提取成功: %s", audioPath)
	if callback != nil {
		callback(1, 1, "提取完成")
	}
	return audioPath, true, nil
}

// FFmpegSlicer 通过 ffmpeg 流复制切出时间范围，用于 MP3/WAV 以外的容器
type FFmpegSlicer struct {
	path     string
	tempDir  string
	duration float64

	mu    sync.Mutex
	files []string
}

// NewFFmpegSlicer 用 ffprobe 读取时长
func NewFFmpegSlicer(path, tempDir string) (*FFmpegSlicer, error) {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if err := utils.EnsureDirExists(tempDir); err != nil {
		return nil, fmt.Errorf("创建临时目录失败: %w", err)
	}

	duration, err := ProbeDuration(context.Background(), path)
	if err != nil {
		return nil, utils.NewError(utils.CodeValidation, "获取音频时长失败", err)
	}
	return &FFmpegSlicer{path: path, tempDir: tempDir, duration: duration}, nil
}

// Duration 总时长（秒）
func (s *FFmpegSlicer) Duration() float64 {
	return s.duration
}

// Slice 导出 [start, end) 到临时文件
func (s *FFmpegSlicer) Slice(ctx context.Context, start, end float64) (transport.Payload, error) {
	if end <= start {
		return nil, utils.NewSegmentationError("切片范围无效: [%.2f, %.2f)", start, end)
	}

	out, err := os.CreateTemp(s.tempDir, utils.BaseNameWithoutExt(s.path)+"_part*"+filepath.Ext(s.path))
	if err != nil {
		return nil, fmt.Errorf("创建临时文件失败: %w", err)
	}
	out.Close()
	s.track(out.Name())

	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-y",
		"-ss", formatSeconds(start),
		"-to", formatSeconds(end),
		"-i", s.path,
		"-c", "copy",
		out.Name(),
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("导出片段失败 [%.2f, %.2f): %w: %s", start, end, err, lastLine(output))
	}
	utils.Debug("导出片段完成: %s", filepath.Base(out.Name()))

	return transport.NewFilePayload(out.Name())
}

// Close 删除切片产生的临时文件
func (s *FFmpegSlicer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			utils.Warn("删除临时文件失败: %v", err)
		}
	}
	s.files = nil
	return nil
}

func (s *FFmpegSlicer) track(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, path)
}

// ProbeDuration 获取音频时长（秒）
func ProbeDuration(ctx context.Context, audioPath string) (float64, error) {
	cmd := exec.CommandContext(ctx,
		"ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		audioPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, err
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("解析时长失败: %w", err)
	}
	return duration, nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	return lines[len(lines)-1]
}
