package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"finance-saas-go/internal/config"
)

type OpenAIClient struct {
	cfg  *config.Config
	http *http.Client
}

func NewOpenAIClient(cfg *config.Config) *OpenAIClient {
	timeout := time.Duration(cfg.ReqTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIClient{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

func (c *OpenAIClient) ScanReceipt(ctx context.Context, img ReceiptImage) (*Receipt, error) {
	if c.cfg.OpenAIKey == "" {
		return nil, ErrNotConfigured
	}
	mime := img.MIMEType
	if mime == "" {
		mime = http.DetectContentType(img.Data)
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)

	body := map[string]any{
		"model":      c.cfg.OpenAIVisionModel,
		"max_tokens": 500,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": receiptPrompt},
					{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
				},
			},
		},
	}
	content, err := c.chat(ctx, body)
	if err != nil {
		return nil, err
	}
	return parseReceipt(content)
}

func (c *OpenAIClient) MonthlyInsights(ctx context.Context, facts MonthlyFacts) (*Insights, error) {
	if c.cfg.OpenAIKey == "" {
		return nil, ErrNotConfigured
	}
	body := map[string]any{
		"model":           c.cfg.OpenAILlmModel,
		"response_format": map[string]string{"type": "json_object"},
		"messages": []map[string]string{
			{"role": "system", "content": insightsSystemPrompt},
			{"role": "user", "content": insightsUserPrompt(facts)},
		},
	}
	content, err := c.chat(ctx, body)
	if err != nil {
		return nil, err
	}
	return parseInsights(content)
}

// chat posts a chat completion request and returns the first choice's text.
func (c *OpenAIClient) chat(ctx context.Context, body map[string]any) (string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.OpenAIBaseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		bs, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llm error: %s: %s", resp.Status, string(bs))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrExtraction)
	}
	return out.Choices[0].Message.Content, nil
}
