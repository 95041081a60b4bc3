package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Message is one conversation turn in the outbound payload.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// QueryClient opens response streams against the remote question-answering
// service. The response body is handed to the caller undecoded; decoding is
// the stream package's concern.
type QueryClient struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewQueryClient(baseURL, model string) *QueryClient {
	return &QueryClient{
		BaseURL: baseURL,
		Model:   model,
		Client: &http.Client{
			// Streams stay open for the whole pipeline run; only the
			// dial/headers phase should be bounded here.
			Timeout: 0,
		},
	}
}

type singleQueryRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	UseSearch bool      `json:"use_search,omitempty"`
}

type consiliumRequest struct {
	Question string `json:"question"`
}

// OpenPlain starts a plain streaming completion over the full history.
func (c *QueryClient) OpenPlain(ctx context.Context, token string, history []Message) (io.ReadCloser, error) {
	payload := singleQueryRequest{Model: c.Model, Messages: history, Stream: true}
	return c.open(ctx, token, "/api/query/single", payload)
}

// OpenSearchAugmented starts a streaming completion with background
// source verification toggled on the upstream side.
func (c *QueryClient) OpenSearchAugmented(ctx context.Context, token string, history []Message, searchEnabled bool) (io.ReadCloser, error) {
	payload := singleQueryRequest{Model: c.Model, Messages: history, Stream: true, UseSearch: searchEnabled}
	return c.open(ctx, token, "/api/query/search", payload)
}

// OpenConsilium starts the multi-stage deliberation pipeline for one
// question. History is not forwarded; the pipeline is single-shot.
func (c *QueryClient) OpenConsilium(ctx context.Context, token string, question string) (io.ReadCloser, error) {
	return c.open(ctx, token, "/api/consilium/stream", consiliumRequest{Question: question})
}

// OpenCourtPractice starts the case-law search pipeline.
func (c *QueryClient) OpenCourtPractice(ctx context.Context, token string, question string) (io.ReadCloser, error) {
	return c.open(ctx, token, "/api/court-practice/stream", consiliumRequest{Question: question})
}

func (c *QueryClient) open(ctx context.Context, token, path string, payload interface{}) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query stream request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("query stream error: status %d, body: %s", resp.StatusCode, string(msg))
	}

	return resp.Body, nil
}

// Healthy pings the upstream root endpoint.
func (c *QueryClient) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
