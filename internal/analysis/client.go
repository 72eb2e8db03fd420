package analysis

import (
	"context"
	"fmt"
	"time"

	"healthmon/internal/config"
	"healthmon/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Analyzer 健康数据分析接口
type Analyzer interface {
	Analyze(ctx context.Context, reading domain.Reading) (string, error)
}

// chatRequest OpenAI 兼容的 chat completions 请求
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse OpenAI 兼容的 chat completions 响应
type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client 外部分析（LLM）API 客户端
type Client struct {
	httpClient *resty.Client
	model      string
	logger     *zap.Logger
}

var _ Analyzer = (*Client)(nil)

// NewClient 创建分析客户端
func NewClient(cfg *config.AnalysisConfig, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(60 * time.Second). // 模型生成可能需要较长时间
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(cfg.APIKey)

	return &Client{
		httpClient: client,
		model:      cfg.Model,
		logger:     logger,
	}
}

// Analyze 用原始读数调用模型，返回分析文本。
// 任何传输或 API 错误都视为分析不可用，由调用方决定是否中止整个提交。
func (c *Client) Analyze(ctx context.Context, reading domain.Reading) (string, error) {
	prompt := fmt.Sprintf(
		"Given the following health data, provide a brief analysis:\nHeart Rate: %s\nSpO2: %s\nWeight: %s",
		formatValue(reading.HeartRate),
		formatValue(reading.SpO2),
		formatValue(reading.Weight),
	)

	request := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	}

	var response chatResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post("/chat/completions")

	if err != nil {
		c.logger.Error("Analysis API call failed", zap.Error(err))
		return "", fmt.Errorf("failed to call analysis API: %w", err)
	}
	if resp.IsError() {
		c.logger.Error("Analysis API returned error status",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return "", fmt.Errorf("analysis API error: status %d", resp.StatusCode())
	}
	if response.Error != nil {
		return "", fmt.Errorf("analysis API error: %s", response.Error.Message)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("analysis API returned no choices")
	}

	return response.Choices[0].Message.Content, nil
}

func formatValue(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%g", *v)
}
