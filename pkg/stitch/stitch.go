package stitch

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

// Options 拼接参数（秒）
type Options struct {
	OverlapTrim         float64 // 丢弃早于 上一段EndTime-OverlapTrim 的文本
	DedupWindow         float64 // 相邻文本起点差小于该值时才比较相似度
	SimilarityThreshold float64 // 相似度大于该值视为重复
}

// DefaultOptions 默认拼接参数
func DefaultOptions() Options {
	return Options{OverlapTrim: 1, DedupWindow: 3, SimilarityThreshold: 0.8}
}

// Stitch 把按序号排列的分段结果合并成一条时间线
func Stitch(segments []models.TranscriptionSegment, opts Options) (*models.Transcript, error) {
	if len(segments) == 0 {
		return nil, utils.NewIncompleteResultError("没有可拼接的分段结果")
	}

	ordered := make([]models.TranscriptionSegment, len(segments))
	copy(ordered, segments)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })
	for i, seg := range ordered {
		if seg.Index != i {
			return nil, utils.NewIncompleteResultError("分段结果不连续: 期望分段 %d, 实际为 %d", i, seg.Index)
		}
	}

	// 去掉仅来自前重叠区、已被上一段尾部覆盖的文本
	var spans []models.TextSpan
	trimmed := 0
	for i, seg := range ordered {
		for _, span := range seg.TextSpans {
			if i > 0 && span.AbsoluteStart < ordered[i-1].EndTime-opts.OverlapTrim {
				trimmed++
				continue
			}
			span.SegmentIndex = seg.Index
			spans = append(spans, span)
		}
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i].AbsoluteStart < spans[j].AbsoluteStart })

	kept := make([]models.TextSpan, 0, len(spans))
	duplicates := 0
	for _, span := range spans {
		if n := len(kept); n > 0 {
			prev := kept[n-1]
			if math.Abs(span.AbsoluteStart-prev.AbsoluteStart) < opts.DedupWindow &&
				Similarity(prev.Text, span.Text) > opts.SimilarityThreshold {
				duplicates++
				continue
			}
		}
		kept = append(kept, span)
	}

	words := 0
	for _, span := range kept {
		words += span.WordCount()
	}

	utils.Debug("拼接完成: %d 个分段, 保留 %d 段文本, 裁剪重叠 %d, 去重 %d", len(ordered), len(kept), trimmed, duplicates)

	return &models.Transcript{
		Spans:        kept,
		WordCount:    words,
		Duration:     ordered[len(ordered)-1].EndTime,
		SegmentCount: len(ordered),
	}, nil
}

// Similarity 词级相似度 |共同词| / max(|A|, |B|)，忽略大小写和首尾标点
func Similarity(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	common := 0
	for w := range wordsA {
		if _, ok := wordsB[w]; ok {
			common++
		}
	}
	return float64(common) / math.Max(float64(len(wordsA)), float64(len(wordsB)))
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(text)) {
		word := strings.TrimFunc(field, unicode.IsPunct)
		if word != "" {
			set[word] = struct{}{}
		}
	}
	return set
}
