package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/retry"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/transport"
	"github.com/ccp-p/asr-media-cli/meeting-transcriber/pkg/utils"
)

const (
	// DefaultBaseURL 火山方舟接口地址
	DefaultBaseURL = "https://ark.cn-beijing.volces.com"
	// DefaultModel 默认模型
	DefaultModel = "doubao-1-5-pro-256k-250115"

	chatCompletionsPath = "/api/v3/chat/completions"
)

const summaryPrompt = `你是一个专业的会议纪要助手。请根据会议转写稿输出严格的JSON，不要输出其他内容，格式如下：
{"key_points": ["要点"], "action_items": [{"task": "事项", "owner": "负责人", "deadline": "截止时间"}], "risks": ["风险"], "next_meeting": "下次会议安排"}
没有的内容使用空数组或空字符串。`

// VolcesAPIClient 封装对Volces API的访问
type VolcesAPIClient struct {
	APIKey       string
	BaseURL      string
	Model        string
	Client       *transport.Client
	Timeout      time.Duration
	Policy       retry.Policy
	RetryOptions []retry.Option
}

// ChatMessage 表示聊天消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 表示对API的请求
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

// ChatResponse 表示API的响应
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewVolcesAPIClient 创建一个新的API客户端，baseURL 为空时使用默认地址
func NewVolcesAPIClient(apiKey, baseURL, model string) *VolcesAPIClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &VolcesAPIClient{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  transport.NewClient(nil),
		Timeout: 60 * time.Second,
		Policy:  retry.SummaryPolicy(),
	}
}

// Summarize 根据完整转写稿生成会议纪要，整稿只调用一次，失败按摘要策略重试
func (c *VolcesAPIClient) Summarize(ctx context.Context, transcript *models.Transcript) (*models.Summary, error) {
	text := transcript.FullText()
	if strings.TrimSpace(text) == "" {
		return nil, utils.NewValidationError("转写稿为空，无法生成纪要")
	}

	opts := append([]retry.Option{
		retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			utils.Warn("生成纪要失败，%.1f秒后第%d次重试: %v", delay.Seconds(), attempt, err)
		}),
	}, c.RetryOptions...)

	content, err := retry.Execute(ctx, c.Policy, func(ctx context.Context) (string, error) {
		return c.Chat(ctx, []ChatMessage{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: text},
		})
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("生成纪要失败: %w", err)
	}

	summary, err := ParseSummary(content)
	if err != nil {
		return nil, err
	}
	utils.Info("纪要生成完成: %d 个要点, %d 个待办", len(summary.KeyPoints), len(summary.ActionItems))
	return summary, nil
}

// Chat 发送一次对话请求并返回第一条回复
func (c *VolcesAPIClient) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	body, err := json.Marshal(ChatRequest{Model: c.Model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	url := c.BaseURL + chatCompletionsPath
	utils.Debug("发送API请求到 %s", url)
	resp, err := c.Client.Send(ctx, transport.BytesPayload(body), url, transport.Options{
		Method:      http.MethodPost,
		Timeout:     c.Timeout,
		ContentType: "application/json",
		Header:      http.Header{"Authorization": []string{"Bearer " + c.APIKey}},
	})
	if err != nil {
		return "", err
	}

	var response ChatResponse
	if err := json.Unmarshal(resp.Body, &response); err != nil {
		return "", retry.Permanent(fmt.Errorf("解析响应失败: %w", err))
	}
	if len(response.Choices) == 0 {
		return "", retry.Permanent(fmt.Errorf("API响应中没有生成内容"))
	}
	utils.Debug("纪要接口用量: %d tokens", response.Usage.TotalTokens)
	return response.Choices[0].Message.Content, nil
}

// ParseSummary 解析模型回复，允许外层包裹 ```json 代码块
func ParseSummary(content string) (*models.Summary, error) {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}

	var summary models.Summary
	if err := json.Unmarshal([]byte(content), &summary); err != nil {
		return nil, utils.NewError(utils.CodeInternal, "纪要格式无效", err)
	}
	if summary.KeyPoints == nil {
		summary.KeyPoints = []string{}
	}
	if summary.ActionItems == nil {
		summary.ActionItems = []models.ActionItem{}
	}
	if summary.Risks == nil {
		summary.Risks = []string{}
	}
	return &summary, nil
}
