package transport

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"sort"
)

// MultipartPayload 流式 multipart/form-data 请求体，大小在构造时即可确定
type MultipartPayload struct {
	MultiPayload
	contentType string
}

// ContentType 带 boundary 的 Content-Type
func (m *MultipartPayload) ContentType() string {
	return m.contentType
}

// NewMultipartPayload 构造表单：普通字段按名称排序写在前面，文件字段最后，文件内容不进入内存
func NewMultipartPayload(fields map[string]string, fileField, fileName string, file Payload) (*MultipartPayload, error) {
	var head bytes.Buffer
	writer := multipart.NewWriter(&head)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := writer.WriteField(k, fields[k]); err != nil {
			return nil, fmt.Errorf("写入表单字段失败: %w", err)
		}
	}
	if _, err := writer.CreateFormFile(fileField, fileName); err != nil {
		return nil, fmt.Errorf("创建文件字段失败: %w", err)
	}

	// 结尾 boundary 用同一个 boundary 单独生成
	var tail bytes.Buffer
	closer := multipart.NewWriter(&tail)
	if err := closer.SetBoundary(writer.Boundary()); err != nil {
		return nil, fmt.Errorf("设置boundary失败: %w", err)
	}
	if err := closer.Close(); err != nil {
		return nil, fmt.Errorf("写入结尾失败: %w", err)
	}

	return &MultipartPayload{
		MultiPayload: MultiPayload{BytesPayload(head.Bytes()), file, BytesPayload(tail.Bytes())},
		contentType:  writer.FormDataContentType(),
	}, nil
}
