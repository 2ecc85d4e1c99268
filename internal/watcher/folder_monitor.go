package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// FileEventHandler 是处理文件事件的接口
type FileEventHandler interface {
	OnFileCreated(filePath string)
	OnFileDeleted(filePath string)
}

// 文件写入完成检测参数
const (
	DefaultDebounce       = 5 * time.Second
	DefaultStableInterval = time.Second
	DefaultStableAttempts = 30
)

var errFileGrowing = errors.New("文件仍在写入")

// FolderMonitor 监控文件夹变化
type FolderMonitor struct {
	watcher        *fsnotify.Watcher
	folderPath     string
	fileExtensions []string
	handler        FileEventHandler
	debounceTime   time.Duration

	// StableInterval/StableAttempts 控制处理前等待文件大小稳定的轮询
	StableInterval time.Duration
	StableAttempts uint64

	pendingFiles map[string]*time.Timer
	mutex        sync.Mutex
	stopChan     chan struct{}
	stopOnce     sync.Once
	done         chan struct{}
}

// NewFolderMonitor 创建新的文件夹监控器，extensions 为空时接受全部文件
func NewFolderMonitor(folderPath string, extensions []string, handler FileEventHandler, debounceTime time.Duration) (*FolderMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	normalized := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		normalized = append(normalized, strings.ToLower(ext))
	}

	return &FolderMonitor{
		watcher:        watcher,
		folderPath:     folderPath,
		fileExtensions: normalized,
		handler:        handler,
		debounceTime:   debounceTime,
		StableInterval: DefaultStableInterval,
		StableAttempts: DefaultStableAttempts,
		pendingFiles:   make(map[string]*time.Timer),
		stopChan:       make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

// Start 开始监控文件夹
func (m *FolderMonitor) Start() error {
	// 确保文件夹存在
	if err := os.MkdirAll(m.folderPath, 0755); err != nil {
		return fmt.Errorf("创建文件夹失败: %w", err)
	}

	// 添加要监控的文件夹
	if err := m.watcher.Add(m.folderPath); err != nil {
		return fmt.Errorf("添加监控文件夹失败: %w", err)
	}

	go m.watchLoop()

	utils.Info("开始监控文件夹: %s", m.folderPath)
	return nil
}

// Stop 停止监控，可重复调用
func (m *FolderMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.watcher.Close()
		<-m.done
		utils.Info("停止监控文件夹: %s", m.folderPath)

		// 取消所有待处理的文件定时器
		m.mutex.Lock()
		defer m.mutex.Unlock()
		for path, timer := range m.pendingFiles {
			timer.Stop()
			delete(m.pendingFiles, path)
		}
	})
}

// Pending 等待防抖的文件数
func (m *FolderMonitor) Pending() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.pendingFiles)
}

// watchLoop 监控循环
func (m *FolderMonitor) watchLoop() {
	defer close(m.done)
	for {
		select {
		case <-m.stopChan:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleFileEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			utils.Error("监控文件夹时出错: %v", err)
		}
	}
}

// 处理文件事件
func (m *FolderMonitor) handleFileEvent(event fsnotify.Event) {
	filePath := event.Name
	if !m.matchesExtension(filePath) {
		return
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		m.cancelPending(filePath)
		if m.handler != nil {
			m.handler.OnFileDeleted(filePath)
		}
		return
	}

	// 只处理创建和修改事件
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isRegularFile(filePath) {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	// 取消已存在的定时器
	if timer, exists := m.pendingFiles[filePath]; exists {
		timer.Stop()
	}
	m.pendingFiles[filePath] = time.AfterFunc(m.debounceTime, func() {
		m.processFile(filePath)
	})

	utils.Debug("检测到文件变化: %s", filePath)
}

func (m *FolderMonitor) cancelPending(filePath string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if timer, exists := m.pendingFiles[filePath]; exists {
		timer.Stop()
		delete(m.pendingFiles, filePath)
	}
}

// 判断扩展名是否为目标类型
func (m *FolderMonitor) matchesExtension(filePath string) bool {
	if strings.HasPrefix(filepath.Base(filePath), ".") {
		return false
	}
	if len(m.fileExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, targetExt := range m.fileExtensions {
		if ext == targetExt {
			return true
		}
	}
	return false
}

// 处理文件
func (m *FolderMonitor) processFile(filePath string) {
	m.mutex.Lock()
	delete(m.pendingFiles, filePath)
	m.mutex.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := WaitForStableFile(ctx, filePath, m.StableInterval, m.StableAttempts); err != nil {
		utils.Warn("跳过文件 %s: %v", filePath, err)
		return
	}

	utils.Info("准备处理文件: %s", filePath)
	if m.handler != nil {
		m.handler.OnFileCreated(filePath)
	}
}

// WaitForStableFile 轮询文件大小，连续两次相同且非空时返回
func WaitForStableFile(ctx context.Context, filePath string, interval time.Duration, attempts uint64) error {
	lastSize := int64(-1)
	operation := func() error {
		info, err := os.Stat(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				return backoff.Permanent(fmt.Errorf("文件已不存在: %w", err))
			}
			return err
		}
		size := info.Size()
		if size == 0 || size != lastSize {
			lastSize = size
			return errFileGrowing
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), attempts), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return fmt.Errorf("等待文件写入完成失败: %w", err)
	}
	return nil
}

func isRegularFile(filePath string) bool {
	info, err := os.Stat(filePath)
	return err == nil && info.Mode().IsRegular()
}

// FileMovementHandler 把处理完成的文件移动到归档目录
type FileMovementHandler struct {
	targetFolder string
}

// NewFileMovementHandler 创建文件移动处理器
func NewFileMovementHandler(targetFolder string) (*FileMovementHandler, error) {
	if err := utils.EnsureDirExists(targetFolder); err != nil {
		return nil, fmt.Errorf("创建归档目录失败: %w", err)
	}
	return &FileMovementHandler{targetFolder: targetFolder}, nil
}

// MoveFile 将文件移动到目标文件夹，重名时追加时间戳，返回新路径
func (h *FileMovementHandler) MoveFile(sourcePath string) (string, error) {
	filename := filepath.Base(sourcePath)
	targetPath := filepath.Join(h.targetFolder, filename)

	if utils.CheckFileExists(targetPath) {
		ext := filepath.Ext(filename)
		name := strings.TrimSuffix(filename, ext)
		timestamp := time.Now().Format("20060102150405.000")
		targetPath = filepath.Join(h.targetFolder, fmt.Sprintf("%s_%s%s", name, timestamp, ext))
	}

	if err := os.Rename(sourcePath, targetPath); err != nil {
		return "", fmt.Errorf("移动文件失败 %s -> %s: %w", sourcePath, targetPath, err)
	}

	utils.Info("文件已移动: %s -> %s", sourcePath, targetPath)
	return targetPath, nil
}
