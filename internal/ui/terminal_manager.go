package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// TerminalManager 管理终端输出，确保进度条和消息不会混乱
type TerminalManager struct {
	mu             sync.Mutex
	msgWriter      io.Writer
	progressWriter io.Writer
}

var (
	globalTerminalManager *TerminalManager
	once                  sync.Once
)

// GetTerminalManager 获取全局终端管理器实例
func GetTerminalManager() *TerminalManager {
	once.Do(func() {
		globalTerminalManager = NewTerminalManager(os.Stdout)
	})
	return globalTerminalManager
}

// NewTerminalManager 消息与进度写入同一个 writer
func NewTerminalManager(w io.Writer) *TerminalManager {
	return &TerminalManager{msgWriter: w, progressWriter: w}
}

// PrintMsg 清除当前进度行后打印一行消息
func (tm *TerminalManager) PrintMsg(format string, args ...interface{}) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	fmt.Fprint(tm.msgWriter, "\033[2K\r")
	fmt.Fprintf(tm.msgWriter, format+"\n", args...)
}

// UpdateProgress 覆盖当前行，line 原样输出
func (tm *TerminalManager) UpdateProgress(line string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	fmt.Fprint(tm.progressWriter, "\033[2K\r")
	fmt.Fprint(tm.progressWriter, line)
}

// EndProgress 结束当前进度行
func (tm *TerminalManager) EndProgress() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	fmt.Fprintln(tm.progressWriter)
}
