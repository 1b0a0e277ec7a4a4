// Package ai is the boundary to the language-model service used for receipt
// extraction and monthly narrative insights.
package ai

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"

	"finance-saas-go/internal/config"
)

var (
	//go:embed prompts/receipt.txt
	receiptPrompt string
	//go:embed prompts/insights.txt
	insightsPrompt string
	//go:embed prompts/insights_system.txt
	insightsSystemPrompt string
	//go:embed prompts/receipt.schema.json
	receiptSchemaJSON string
	//go:embed prompts/insights.schema.json
	insightsSchemaJSON string
)

var (
	receiptSchema  = mustSchema(receiptSchemaJSON)
	insightsSchema = mustSchema(insightsSchemaJSON)
)

var (
	ErrNotConfigured = errors.New("language model API key missing")
	// ErrExtraction means the model answered but not with a usable result.
	ErrExtraction = errors.New("could not extract data from model response")
)

type ReceiptImage struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Receipt holds the fields read off a receipt. Category and Date are raw model
// output and still need checking by the caller.
type Receipt struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Date        string          `json:"date,omitempty"`
	Items       []string        `json:"items"`
}

type CategoryTotal struct {
	Category string
	Total    decimal.Decimal
}

// MonthlyFacts is the aggregate data a monthly narrative is written from.
type MonthlyFacts struct {
	TotalIncome   decimal.Decimal
	TotalExpenses decimal.Decimal
	Balance       decimal.Decimal
	TopCategories []CategoryTotal
	Transactions  int64
}

type Insight struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

type Insights struct {
	Summary         string    `json:"summary"`
	Insights        []Insight `json:"insights"`
	Recommendations []string  `json:"recommendations"`
}

// Enricher is implemented by each supported model provider.
type Enricher interface {
	ScanReceipt(ctx context.Context, img ReceiptImage) (*Receipt, error)
	MonthlyInsights(ctx context.Context, facts MonthlyFacts) (*Insights, error)
}

// New builds the Enricher selected by cfg.AIProvider.
func New(ctx context.Context, cfg *config.Config) (Enricher, error) {
	switch cfg.AIProvider {
	case "gemini":
		g, err := NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "openai", "":
		return NewOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.AIProvider)
	}
}

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(err)
	}
	return schema
}

func insightsUserPrompt(f MonthlyFacts) string {
	cats := make([]string, 0, len(f.TopCategories))
	for _, c := range f.TopCategories {
		cats = append(cats, fmt.Sprintf("%s: %s", c.Category, c.Total.StringFixed(2)))
	}
	top := strings.Join(cats, ", ")
	if top == "" {
		top = "none"
	}
	return fmt.Sprintf(insightsPrompt,
		f.TotalIncome.StringFixed(2), f.TotalExpenses.StringFixed(2), f.Balance.StringFixed(2),
		top, f.Transactions)
}

// cleanModelJSON strips code fences and any chatter around the outermost
// JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}

func validate(schema *gojsonschema.Schema, doc []byte) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if !res.Valid() {
		d := []string{}
		for _, e := range res.Errors() {
			d = append(d, e.String())
		}
		return fmt.Errorf("%w: %s", ErrExtraction, strings.Join(d, "; "))
	}
	return nil
}

func parseReceipt(raw string) (*Receipt, error) {
	doc := []byte(cleanModelJSON(raw))
	if err := validate(receiptSchema, doc); err != nil {
		return nil, err
	}

	var out struct {
		Amount      json.Number `json:"amount"`
		Description *string     `json:"description"`
		Category    *string     `json:"category"`
		Date        *string     `json:"date"`
		Items       []string    `json:"items"`
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	amount, err := decimal.NewFromString(out.Amount.String())
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q", ErrExtraction, out.Amount)
	}

	r := &Receipt{Amount: amount.Round(2), Items: out.Items}
	if out.Description != nil {
		r.Description = strings.TrimSpace(*out.Description)
	}
	if out.Category != nil {
		r.Category = strings.ToLower(strings.TrimSpace(*out.Category))
	}
	if out.Date != nil {
		r.Date = strings.TrimSpace(*out.Date)
	}
	if r.Items == nil {
		r.Items = []string{}
	}
	return r, nil
}

func parseInsights(raw string) (*Insights, error) {
	doc := []byte(cleanModelJSON(raw))
	if err := validate(insightsSchema, doc); err != nil {
		return nil, err
	}
	var out Insights
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if out.Recommendations == nil {
		out.Recommendations = []string{}
	}
	return &out, nil
}
