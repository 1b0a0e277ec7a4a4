package ai

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"finance-saas-go/internal/config"
)

type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient returns ErrNotConfigured when GEMINI_API_KEY is unset.
func NewGeminiClient(ctx context.Context, cfg *config.Config) (*GeminiClient, error) {
	if cfg.GeminiKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: cfg.GeminiModel}, nil
}

func (g *GeminiClient) ScanReceipt(ctx context.Context, img ReceiptImage) (*Receipt, error) {
	mime := img.MIMEType
	if mime == "" {
		mime = http.DetectContentType(img.Data)
	}
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: receiptPrompt},
				{InlineData: &genai.Blob{MIMEType: mime, Data: img.Data}},
			},
		},
	}
	raw, err := g.generate(ctx, contents, nil)
	if err != nil {
		return nil, err
	}
	return parseReceipt(raw)
}

func (g *GeminiClient) MonthlyInsights(ctx context.Context, facts MonthlyFacts) (*Insights, error) {
	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: insightsUserPrompt(facts)}}},
	}
	system := &genai.Content{Parts: []*genai.Part{{Text: insightsSystemPrompt}}}
	raw, err := g.generate(ctx, contents, system)
	if err != nil {
		return nil, err
	}
	return parseInsights(raw)
}

func (g *GeminiClient) generate(ctx context.Context, contents []*genai.Content, system *genai.Content) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		SystemInstruction: system,
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrExtraction)
	}
	return text, nil
}
