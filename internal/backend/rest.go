package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const insertTimeout = 15 * time.Second

// RESTClient inserts rows through the hosted backend's PostgREST-style
// JSON API: POST /rest/v1/<table> with the row as body, Prefer:
// return=representation to get the created row back.
type RESTClient struct {
	baseURL string
	apiKey  string
	token   string
	client  *http.Client
}

// NewRESTClient returns a client for the backend at baseURL. token may be
// empty for anon access; apiKey is always sent.
func NewRESTClient(baseURL, apiKey, token string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		token:   token,
		client:  &http.Client{Timeout: insertTimeout},
	}
}

// InsertRecord creates one row in table and returns the created row.
// 4xx responses other than 408/429 are wrapped as permanent failures.
func (c *RESTClient) InsertRecord(ctx context.Context, table string, row map[string]any) (map[string]any, error) {
	body, err := json.Marshal(row)
	if err != nil {
		return nil, Permanent(fmt.Errorf("marshal row: %w", err))
	}
	u, err := url.JoinPath(c.baseURL, "rest/v1", table)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	req.Header.Set("apikey", c.apiKey)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		reqErr := fmt.Errorf("insert %s: %s: %s", table, resp.Status, string(b))
		if isPermanentStatus(resp.StatusCode) {
			return nil, Permanent(reqErr)
		}
		return nil, reqErr
	}

	// PostgREST returns an array of created rows.
	var created []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("insert %s: decode response: %w", table, err)
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("insert %s: empty response", table)
	}
	return created[0], nil
}

// isPermanentStatus: client errors won't heal with retries, except request
// timeout and rate limiting.
func isPermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}
