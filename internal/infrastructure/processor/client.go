package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client creates payment intents at the external payment processor.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a processor client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type createIntentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type createIntentResponse struct {
	ID string `json:"id"`
}

// CreateIntent registers a payment intent. The processor deduplicates on idempotencyKey.
func (c *Client) CreateIntent(ctx context.Context, amount int64, currency, idempotencyKey string, metadata map[string]string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("payment processor base URL is not configured")
	}
	payload, err := json.Marshal(createIntentRequest{Amount: amount, Currency: currency, Metadata: metadata})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment_intents", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("payment processor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("payment processor returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out createIntentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode payment processor response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("payment processor returned an empty intent id")
	}
	return out.ID, nil
}
