package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/transport"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// WAVHeader 标准44字节PCM WAV头
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 文件大小 - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // PCM 为 16
	AudioFormat   uint16  // PCM 为 1
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // 数据字节数
}

// WAVFormat fmt 块中与切片相关的字段
type WAVFormat struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// NewWAVHeader 为 dataSize 字节的数据生成文件头
func NewWAVHeader(format WAVFormat, dataSize uint32) WAVHeader {
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   format.AudioFormat,
		NumChannels:   format.NumChannels,
		SampleRate:    format.SampleRate,
		ByteRate:      format.ByteRate,
		BlockAlign:    format.BlockAlign,
		BitsPerSample: format.BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// EncodeWAV 把单声道16位PCM采样编码为WAV
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("采样为空")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("采样率必须为正数: %d", sampleRate)
	}

	format := WAVFormat{
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
	}
	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, NewWAVHeader(format, uint32(len(samples)*2))); err != nil {
		return nil, fmt.Errorf("写入WAV头失败: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("写入音频数据失败: %w", err)
	}
	return buf.Bytes(), nil
}

// WAVSlicer 直接按字节范围切 PCM 数据，每段重新生成文件头
type WAVSlicer struct {
	path       string
	format     WAVFormat
	dataOffset int64
	dataSize   int64
}

// NewWAVSlicer 解析 RIFF 块，定位 fmt 与 data
func NewWAVSlicer(path string) (*WAVSlicer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开WAV失败: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("获取WAV文件信息失败: %w", err)
	}

	var riff struct {
		ID     [4]byte
		Size   uint32
		Format [4]byte
	}
	if err := binary.Read(f, binary.LittleEndian, &riff); err != nil {
		return nil, utils.NewError(utils.CodeValidation, "WAV头读取失败", err)
	}
	if string(riff.ID[:]) != "RIFF" || string(riff.Format[:]) != "WAVE" {
		return nil, utils.NewValidationError("不是有效的WAV文件: %s", path)
	}

	s := &WAVSlicer{path: path}
	offset := int64(12)
	haveFormat := false
	for {
		var chunk struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(f, binary.LittleEndian, &chunk); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("读取WAV块失败: %w", err)
		}
		offset += 8

		switch string(chunk.ID[:]) {
		case "fmt ":
			if err := binary.Read(io.LimitReader(f, int64(chunk.Size)), binary.LittleEndian, &s.format); err != nil {
				return nil, utils.NewError(utils.CodeValidation, "WAV格式块无效", err)
			}
			haveFormat = true
		case "data":
			s.dataOffset = offset
			s.dataSize = int64(chunk.Size)
			// 流式写出的文件 data 大小可能未回填
			if s.dataSize == 0 || s.dataOffset+s.dataSize > info.Size() {
				s.dataSize = info.Size() - s.dataOffset
			}
		}

		if s.dataOffset > 0 && haveFormat {
			break
		}

		next := offset + int64(chunk.Size) + int64(chunk.Size%2)
		if _, err := f.Seek(next, io.SeekStart); err != nil {
			return nil, fmt.Errorf("跳过WAV块失败: %w", err)
		}
		offset = next
	}

	if !haveFormat || s.dataOffset == 0 {
		return nil, utils.NewValidationError("WAV文件缺少 fmt 或 data 块: %s", path)
	}
	if s.format.BlockAlign == 0 || s.format.ByteRate == 0 {
		return nil, utils.NewValidationError("WAV格式参数无效: %s", path)
	}
	// 对齐到完整采样帧
	s.dataSize -= s.dataSize % int64(s.format.BlockAlign)
	if s.dataSize <= 0 {
		return nil, utils.NewValidationError("WAV文件没有音频数据: %s", path)
	}

	return s, nil
}

// Format 音频格式参数
func (s *WAVSlicer) Format() WAVFormat {
	return s.format
}

// Duration 总时长（秒）
func (s *WAVSlicer) Duration() float64 {
	return float64(s.dataSize) / float64(s.format.ByteRate)
}

// Slice 生成只包含 [start, end) 采样的独立 WAV
func (s *WAVSlicer) Slice(ctx context.Context, start, end float64) (transport.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from := s.byteOffset(start)
	to := s.byteOffset(end)
	if to <= from {
		return nil, utils.NewSegmentationError("切片范围无效: [%.2f, %.2f)", start, end)
	}

	var header bytes.Buffer
	if err := binary.Write(&header, binary.LittleEndian, NewWAVHeader(s.format, uint32(to-from))); err != nil {
		return nil, fmt.Errorf("写入WAV头失败: %w", err)
	}

	return transport.MultiPayload{
		transport.BytesPayload(header.Bytes()),
		&transport.SectionPayload{Path: s.path, Offset: s.dataOffset + from, Length: to - from},
	}, nil
}

// Close WAV 切片不持有文件句柄
func (s *WAVSlicer) Close() error {
	return nil
}

// byteOffset 时间转换为对齐到采样帧的数据偏移
func (s *WAVSlicer) byteOffset(seconds float64) int64 {
	if seconds <= 0 {
		return 0
	}
	align := int64(s.format.BlockAlign)
	frames := int64(math.Round(seconds * float64(s.format.ByteRate) / float64(align)))
	offset := frames * align
	if offset > s.dataSize {
		offset = s.dataSize
	}
	return offset
}
