package publisher

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

const maxResponseBytes = 1 << 20

// client is the HTTP plumbing shared by the adapters.
type client struct {
	platform   string
	baseURL    string
	token      string
	timeout    time.Duration
	userAgent  string
	httpClient *http.Client
}

type response struct {
	status int
	body   []byte
}

func (c *client) url(path string) string {
	return strings.TrimRight(c.baseURL, "/") + path
}

func (c *client) do(ctx context.Context, method, path string, payload any, headers map[string]string) (*response, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(timeoutCtx, method, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &InfraError{Platform: c.platform, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &InfraError{Platform: c.platform, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	return &response{status: resp.StatusCode, body: data}, nil
}

// ping reports whether a GET to path answers 200.
func (c *client) ping(ctx context.Context, path string) bool {
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	return err == nil && resp.status == http.StatusOK
}

// rejected builds the failed Result for a non-success status.
func (c *client) rejected(resp *response) Result {
	return Result{
		Success:     false,
		Error:       fmt.Sprintf("%s API error: %d - %s", c.platform, resp.status, string(resp.body)),
		RawResponse: snapshot(resp.body),
	}
}

func (c *client) malformed(resp *response, err error) Result {
	return Result{
		Success:     false,
		Error:       fmt.Sprintf("%s API error: malformed response: %v", c.platform, err),
		RawResponse: snapshot(resp.body),
	}
}

// snapshot keeps a JSON body as-is and quotes anything else.
func snapshot(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
