package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// Format 录音的容器格式
type Format string

const (
	FormatMP3   Format = "mp3"
	FormatWAV   Format = "wav"
	FormatOther Format = "other" // 需要 ffmpeg 切片
)

// AudioExtensions 支持的音频扩展名
var AudioExtensions = []string{".mp3", ".wav", ".m4a", ".flac", ".ogg", ".aac", ".opus"}

// VideoExtensions 支持的视频扩展名，处理前先提取音频
var VideoExtensions = []string{".mp4", ".mov", ".avi", ".mkv", ".wmv", ".webm"}

// Recording 一个已校验的输入录音
type Recording struct {
	Path   string
	Format Format
	Size   int64
}

// IsAudioFile 是否为支持的音频文件
func IsAudioFile(path string) bool {
	return hasExt(path, AudioExtensions)
}

// IsVideoFile 是否为支持的视频文件
func IsVideoFile(path string) bool {
	return hasExt(path, VideoExtensions)
}

// OpenRecording 校验输入文件：存在、非空、格式受支持、不超过 maxSize（0 表示不限制）
// 只读取文件元数据，不读取内容
func OpenRecording(path string, maxSize int64) (*Recording, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, utils.NewValidationError("文件不存在: %s", path)
	}
	if err != nil {
		return nil, utils.NewError(utils.CodeValidation, "无法读取文件信息", err)
	}
	if info.IsDir() {
		return nil, utils.NewValidationError("输入是目录而不是文件: %s", path)
	}
	if info.Size() == 0 {
		return nil, utils.NewValidationError("文件为空: %s", path)
	}
	if !IsAudioFile(path) {
		return nil, utils.NewValidationError("不支持的音频格式: %s", filepath.Ext(path))
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, utils.NewFileTooLarge(info.Size(), maxSize)
	}

	return &Recording{Path: path, Format: formatOf(path), Size: info.Size()}, nil
}

// Name 不含目录的文件名
func (r *Recording) Name() string {
	return filepath.Base(r.Path)
}

func (r *Recording) String() string {
	return fmt.Sprintf("%s (%s, %s)", r.Name(), r.Format, utils.FormatFileSize(r.Size))
}

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return FormatMP3
	case ".wav":
		return FormatWAV
	}
	return FormatOther
}

func hasExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
