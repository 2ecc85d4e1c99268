package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/audio"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// MediaFile 表示一个媒体文件
type MediaFile struct {
	Path    string    // 文件路径
	Name    string    // 文件名
	Ext     string    // 文件扩展名
	Size    int64     // 文件大小（字节）
	ModTime time.Time // 修改时间
	IsVideo bool      // 是否为视频文件
	IsAudio bool      // 是否为音频文件
}

// MediaScanner 用于扫描媒体文件
type MediaScanner struct {
	IncludeVideo bool
}

// NewMediaScanner 创建新的媒体扫描器
func NewMediaScanner(includeVideo bool) *MediaScanner {
	return &MediaScanner{IncludeVideo: includeVideo}
}

// ScanDirectory 扫描指定目录中的媒体文件（非递归），按修改时间排序
func (s *MediaScanner) ScanDirectory(dir string) ([]MediaFile, error) {
	utils.Info("开始扫描目录: %s", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var mediaFiles []MediaFile
	for _, entry := range entries {
		// 跳过目录和隐藏文件
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		isAudio := audio.IsAudioFile(path)
		isVideo := s.IncludeVideo && audio.IsVideoFile(path)
		if !isAudio && !isVideo {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			utils.Warn("获取文件信息失败: %v", err)
			continue
		}
		if info.Size() == 0 {
			utils.Debug("跳过空文件: %s", entry.Name())
			continue
		}

		mediaFiles = append(mediaFiles, MediaFile{
			Path:    path,
			Name:    entry.Name(),
			Ext:     strings.ToLower(filepath.Ext(path)),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsVideo: isVideo,
			IsAudio: isAudio,
		})
	}

	sort.SliceStable(mediaFiles, func(i, j int) bool {
		return mediaFiles[i].ModTime.Before(mediaFiles[j].ModTime)
	})

	utils.Info("扫描完成，共找到 %d 个媒体文件", len(mediaFiles))
	return mediaFiles, nil
}

// FilterNewFiles 根据已处理记录过滤出新文件
func (s *MediaScanner) FilterNewFiles(files []MediaFile, processed *ProcessedStore) []MediaFile {
	var newFiles []MediaFile
	for _, file := range files {
		if processed == nil || !processed.IsProcessed(file) {
			newFiles = append(newFiles, file)
		}
	}

	utils.Info("过滤后剩余 %d 个新文件需要处理", len(newFiles))
	return newFiles
}

// ProcessedStore 已处理文件记录，按路径和修改时间去重，可持久化为JSON
type ProcessedStore struct {
	mu      sync.Mutex
	path    string
	records map[string]time.Time
}

// NewProcessedStore 从 path 加载记录，path 为空时只在内存中记录
func NewProcessedStore(path string) (*ProcessedStore, error) {
	store := &ProcessedStore{path: path, records: make(map[string]time.Time)}
	if path == "" {
		return store, nil
	}
	if _, err := utils.LoadJSONFile(path, &store.records); err != nil {
		return nil, err
	}
	return store, nil
}

// IsProcessed 文件是否已处理且之后没有被修改
func (p *ProcessedStore) IsProcessed(file MediaFile) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	modTime, ok := p.records[file.Path]
	return ok && !file.ModTime.After(modTime)
}

// MarkProcessed 记录文件已处理
func (p *ProcessedStore) MarkProcessed(file MediaFile) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[file.Path] = file.ModTime
	if p.path == "" {
		return nil
	}
	return utils.SaveJSONFile(p.path, p.records)
}

// Len 已处理文件数
func (p *ProcessedStore) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// StatMediaFile 读取单个文件的信息
func StatMediaFile(path string) (MediaFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return MediaFile{}, err
	}
	return MediaFile{
		Path:    path,
		Name:    info.Name(),
		Ext:     strings.ToLower(filepath.Ext(path)),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsVideo: audio.IsVideoFile(path),
		IsAudio: audio.IsAudioFile(path),
	}, nil
}
