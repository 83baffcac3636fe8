package proofsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client reads distribution proofs from the platform integration service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a proof source client.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type sparkCodeResponse struct {
	Code string `json:"code"`
}

type postedLinkResponse struct {
	URL string `json:"url"`
}

// FetchSparkCode returns the creator's Spark Ads authorization code, if issued.
func (c *Client) FetchSparkCode(ctx context.Context, submissionID uuid.UUID) (string, bool, error) {
	var out sparkCodeResponse
	ok, err := c.get(ctx, "/v1/spark-codes/"+submissionID.String(), &out)
	if err != nil || !ok {
		return "", false, err
	}
	code := strings.TrimSpace(out.Code)
	return code, code != "", nil
}

// FetchTikTokLink returns the link of the creator's published post, if any.
func (c *Client) FetchTikTokLink(ctx context.Context, submissionID uuid.UUID) (string, bool, error) {
	var out postedLinkResponse
	ok, err := c.get(ctx, "/v1/posted-links/"+submissionID.String(), &out)
	if err != nil || !ok {
		return "", false, err
	}
	link := strings.TrimSpace(out.URL)
	return link, link != "", nil
}

// get decodes a 200 response into out. 404 and 204 mean nothing is available yet.
func (c *Client) get(ctx context.Context, path string, out interface{}) (bool, error) {
	if c.baseURL == "" {
		return false, fmt.Errorf("proof source base URL is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("proof source request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("proof source returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode proof source response: %w", err)
	}
	return true, nil
}
