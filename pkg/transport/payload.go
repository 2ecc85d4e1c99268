package transport

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Payload 可重复打开的字节源，每次重试都会重新 Open
type Payload interface {
	Size() int64
	Open() (io.ReadCloser, error)
}

// ranger 可以高效截取子范围的 Payload
type ranger interface {
	Range(offset, length int64) Payload
}

// BytesPayload 内存中的字节
type BytesPayload []byte

func (b BytesPayload) Size() int64 { return int64(len(b)) }

func (b BytesPayload) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (b BytesPayload) Range(offset, length int64) Payload {
	return b[offset : offset+length]
}

// SectionPayload 文件中的一段字节范围
type SectionPayload struct {
	Path   string
	Offset int64
	Length int64
}

// NewFilePayload 整个文件
func NewFilePayload(path string) (*SectionPayload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("获取文件信息失败: %w", err)
	}
	return &SectionPayload{Path: path, Offset: 0, Length: info.Size()}, nil
}

func (s *SectionPayload) Size() int64 { return s.Length }

func (s *SectionPayload) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("打开文件失败: %w", err)
	}
	return &sectionReadCloser{
		SectionReader: io.NewSectionReader(f, s.Offset, s.Length),
		file:          f,
	}, nil
}

func (s *SectionPayload) Range(offset, length int64) Payload {
	return &SectionPayload{Path: s.Path, Offset: s.Offset + offset, Length: length}
}

type sectionReadCloser struct {
	*io.SectionReader
	file *os.File
}

func (r *sectionReadCloser) Close() error {
	return r.file.Close()
}

// MultiPayload 按顺序拼接多个 Payload，打开时逐个懒加载
type MultiPayload []Payload

func (m MultiPayload) Size() int64 {
	var total int64
	for _, p := range m {
		total += p.Size()
	}
	return total
}

func (m MultiPayload) Open() (io.ReadCloser, error) {
	return &multiReadCloser{parts: m}, nil
}

type multiReadCloser struct {
	parts   []Payload
	current io.ReadCloser
}

func (r *multiReadCloser) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			if len(r.parts) == 0 {
				return 0, io.EOF
			}
			rc, err := r.parts[0].Open()
			if err != nil {
				return 0, err
			}
			r.current = rc
			r.parts = r.parts[1:]
		}

		n, err := r.current.Read(p)
		if err == io.EOF {
			r.current.Close()
			r.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *multiReadCloser) Close() error {
	if r.current != nil {
		err := r.current.Close()
		r.current = nil
		return err
	}
	return nil
}

// RangeOf 截取 p 中 [offset, offset+length) 的字节
func RangeOf(p Payload, offset, length int64) Payload {
	if offset < 0 {
		offset = 0
	}
	if offset > p.Size() {
		offset = p.Size()
	}
	if length < 0 {
		length = 0
	}
	if offset+length > p.Size() {
		length = p.Size() - offset
	}
	if r, ok := p.(ranger); ok {
		return r.Range(offset, length)
	}
	return &skipPayload{source: p, offset: offset, length: length}
}

// skipPayload 对不支持随机访问的源，跳过前 offset 字节
type skipPayload struct {
	source Payload
	offset int64
	length int64
}

func (s *skipPayload) Size() int64 { return s.length }

func (s *skipPayload) Open() (io.ReadCloser, error) {
	rc, err := s.source.Open()
	if err != nil {
		return nil, err
	}
	if _, err := io.CopyN(io.Discard, rc, s.offset); err != nil {
		rc.Close()
		return nil, fmt.Errorf("定位分片起点失败: %w", err)
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(rc, s.length), rc}, nil
}
