package asr

import (
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"path/filepath"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/transport"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// Cache 分段识别结果缓存，中断后重跑时跳过已完成的分段
// 键由服务名、分段起点和发送字节的CRC32组成
type Cache struct {
	Dir string
}

// NewCache 创建缓存，dir 为空时返回 nil（不使用缓存）
func NewCache(dir string) (*Cache, error) {
	if dir == "" {
		return nil, nil
	}
	if err := utils.EnsureDirExists(dir); err != nil {
		return nil, fmt.Errorf("创建缓存目录失败: %w", err)
	}
	return &Cache{Dir: dir}, nil
}

// Key 计算缓存键名
func (c *Cache) Key(prefix string, segment models.AudioSegment, payload transport.Payload) (string, error) {
	r, err := payload.Open()
	if err != nil {
		return "", err
	}
	defer r.Close()

	hash := crc32.NewIEEE()
	if _, err := io.Copy(hash, r); err != nil {
		return "", fmt.Errorf("计算CRC32失败: %w", err)
	}
	startMs := int64(math.Round(segment.StartTime * 1000))
	key := fmt.Sprintf("%s-%d-%08x", prefix, startMs, hash.Sum32())
	utils.Debug("分段%d缓存键: %s", segment.Index, key)
	return key, nil
}

// Load 从缓存加载识别结果
func (c *Cache) Load(key string) (*models.TranscriptionSegment, bool) {
	var segment models.TranscriptionSegment
	ok, err := utils.LoadJSONFile(c.path(key), &segment)
	if err != nil {
		utils.Warn("读取缓存失败，将重新识别: %v", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &segment, true
}

// Save 保存识别结果到缓存
func (c *Cache) Save(key string, segment *models.TranscriptionSegment) error {
	return utils.SaveJSONFile(c.path(key), segment)
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.Dir, key+".json")
}
