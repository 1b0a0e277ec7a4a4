// Package payments talks to the Ziina payment provider: payment links for
// checkout and signed webhook events for subscription lifecycle changes.
package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotConfigured = errors.New("payment provider not configured")

// Webhook event types.
const (
	EventPaymentSucceeded = "payment.successful"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Ziina-Signature"

type LinkRequest struct {
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	SuccessURL  string            `json:"success_url"`
	CancelURL   string            `json:"cancel_url"`
	Metadata    map[string]string `json:"metadata"`
}

type PaymentLink struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) CreatePaymentLink(ctx context.Context, in LinkRequest) (*PaymentLink, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode payment link: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payment-links", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create payment link: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		bs, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ziina error %d: %s", resp.StatusCode, string(bs))
	}

	var out PaymentLink
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payment link: %w", err)
	}
	if out.ID == "" || out.URL == "" {
		return nil, fmt.Errorf("ziina returned an incomplete payment link")
	}
	return &out, nil
}

// Sign returns the signature the provider attaches to body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body. An empty secret rejects
// every request.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	want := Sign(secret, body)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

type EventMetadata struct {
	UserID string `json:"userId"`
	Plan   string `json:"plan"`
}

type EventData struct {
	ID       string        `json:"id"`
	Metadata EventMetadata `json:"metadata"`
}

type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("webhook event has no type")
	}
	return &ev, nil
}
