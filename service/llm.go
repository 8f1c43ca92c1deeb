package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LLM 结构化 JSON 补全能力
type LLM interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// OpenAIConfig Chat Completions 接口参数
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
}

// OpenAIClient 调用 OpenAI 兼容的 /chat/completions，response_format 固定为 json_object
type OpenAIClient struct {
	cfg    OpenAIConfig
	client *http.Client
}

func NewOpenAIClient(cfg OpenAIConfig, client *http.Client) *OpenAIClient {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &OpenAIClient{cfg: cfg, client: client}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAIClient) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrLLMUnavailable
	}
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    c.cfg.Temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", c.fail(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", c.fail(0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", c.fail(0, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.fail(0, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", c.fail(resp.StatusCode, errors.New(truncate(string(data), 300)))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", c.fail(resp.StatusCode, fmt.Errorf("decode response failed: %w", err))
	}
	if out.Error != nil && out.Error.Message != "" {
		return "", c.fail(resp.StatusCode, errors.New(out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return "", c.fail(resp.StatusCode, errors.New("response has no choices"))
	}
	return out.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) fail(status int, err error) error {
	return &UpstreamError{Service: "llm", StatusCode: status, Err: err}
}
