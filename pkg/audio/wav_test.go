package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/transport"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// rampWAV 生成采样值等于采样序号的单声道 WAV
func rampWAV(t *testing.T, dir string, sampleRate, seconds int) string {
	t.Helper()
	samples := make([]int16, sampleRate*seconds)
	for i := range samples {
		samples[i] = int16(i % 30000)
	}
	data, err := EncodeWAV(samples, sampleRate)
	require.NoError(t, err)

	path := filepath.Join(dir, "ramp.wav")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func readPayload(t *testing.T, p transport.Payload) []byte {
	t.Helper()
	r, err := p.Open()
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, p.Size(), int64(len(data)))
	return data
}

func TestEncodeWAVHeader(t *testing.T) {
	data, err := EncodeWAV([]int16{1, 2, 3}, 16000)
	require.NoError(t, err)
	require.Len(t, data, 44+6)

	var header WAVHeader
	require.NoError(t, binary.Read(bytes.NewReader(data), binary.LittleEndian, &header))
	assert.Equal(t, "RIFF", string(header.ChunkID[:]))
	assert.Equal(t, "data", string(header.Subchunk2ID[:]))
	assert.Equal(t, uint32(42), header.ChunkSize)
	assert.Equal(t, uint32(32000), header.ByteRate)
	assert.Equal(t, uint32(6), header.Subchunk2Size)

	_, err = EncodeWAV(nil, 16000)
	assert.Error(t, err)
}

func TestWAVSlicerSlice(t *testing.T) {
	path := rampWAV(t, t.TempDir(), 1000, 10)

	slicer, err := NewWAVSlicer(path)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, slicer.Duration(), 1e-9)
	assert.Equal(t, uint16(2), slicer.Format().BlockAlign)

	payload, err := slicer.Slice(context.Background(), 2, 3.5)
	require.NoError(t, err)
	data := readPayload(t, payload)
	require.Len(t, data, 44+1500*2)

	var header WAVHeader
	require.NoError(t, binary.Read(bytes.NewReader(data), binary.LittleEndian, &header))
	assert.Equal(t, uint32(3000), header.Subchunk2Size)

	// 第一个采样是原文件中的第 2000 个
	first := int16(binary.LittleEndian.Uint16(data[44:46]))
	last := int16(binary.LittleEndian.Uint16(data[len(data)-2:]))
	assert.Equal(t, int16(2000), first)
	assert.Equal(t, int16(3499), last)

	// 可以重复打开
	assert.Equal(t, data, readPayload(t, payload))
}

func TestWAVSlicerClampsToEnd(t *testing.T) {
	slicer, err := NewWAVSlicer(rampWAV(t, t.TempDir(), 1000, 2))
	require.NoError(t, err)

	payload, err := slicer.Slice(context.Background(), 1.5, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(44+500*2), payload.Size())

	_, err = slicer.Slice(context.Background(), 3, 4)
	require.Error(t, err)
	assert.Equal(t, utils.CodeSegmentation, utils.CodeOf(err))
}

func TestWAVSlicerSkipsExtraChunks(t *testing.T) {
	data, err := EncodeWAV(make([]int16, 800), 800)
	require.NoError(t, err)

	// 在 fmt 和 data 之间插入一个 LIST 块
	var buf bytes.Buffer
	buf.Write(data[:36])
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(5))
	buf.Write([]byte{1, 2, 3, 4, 5, 0})
	buf.Write(data[36:])

	path := filepath.Join(t.TempDir(), "list.wav")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	slicer, err := NewWAVSlicer(path)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, slicer.Duration(), 1e-9)
}

func TestWAVSlicerRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a riff file"), 0644))

	_, err := NewWAVSlicer(path)
	require.Error(t, err)
	assert.Equal(t, utils.CodeValidation, utils.CodeOf(err))
}

func TestWAVSlicerCanceled(t *testing.T) {
	slicer, err := NewWAVSlicer(rampWAV(t, t.TempDir(), 1000, 1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = slicer.Slice(ctx, 0, 0.5)
	assert.ErrorIs(t, err, context.Canceled)
}
