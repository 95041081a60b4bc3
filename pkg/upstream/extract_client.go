package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// ExtractionResult is the synchronous response of the remote content
// extraction service (document text, OCR, or transcription).
type ExtractionResult struct {
	Summary       string `json:"summary"`
	ExtractedText string `json:"extracted_text"`
	ContentKind   string `json:"file_type"`
}

// ExtractClient sends binary attachments upstream for text extraction.
type ExtractClient struct {
	BaseURL string
	Client  *http.Client
}

func NewExtractClient(baseURL string) *ExtractClient {
	return &ExtractClient{
		BaseURL: baseURL,
		Client: &http.Client{
			// OCR and transcription of large uploads can take minutes.
			Timeout: 300 * time.Second,
		},
	}
}

type extractResponse struct {
	Success       bool   `json:"success"`
	FileType      string `json:"file_type"`
	ExtractedText string `json:"extracted_text"`
	Summary       string `json:"summary"`
	Error         string `json:"error"`
}

// Extract uploads one file and returns the extracted text. A non-2xx
// status or an explicit error field both surface as errors; the caller
// localizes them to the owning attachment item.
func (c *ExtractClient) Extract(ctx context.Context, token string, content []byte, originalName string) (*ExtractionResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", originalName)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/files/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed extractResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("extraction error: status %d, body: %s", resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK || !parsed.Success {
		msg := parsed.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("extraction failed: %s", msg)
	}

	return &ExtractionResult{
		Summary:       parsed.Summary,
		ExtractedText: parsed.ExtractedText,
		ContentKind:   parsed.FileType,
	}, nil
}

// SupportedFormats proxies the upstream capability listing (extension
// groups and size limits) without interpreting it.
func (c *ExtractClient) SupportedFormats(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/files/supported", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("formats request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("formats error: status %d", resp.StatusCode)
	}
	return json.RawMessage(body), nil
}
