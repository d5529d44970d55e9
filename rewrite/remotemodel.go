package rewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPModel calls a remote text-completion endpoint to polish a seed
// prompt, the rewrite analogue of provider/remote's image client.
type HTTPModel struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewHTTPModel builds an HTTPModel. timeout defaults to 30s, shorter
// than image generation since rewriting returns text.
func NewHTTPModel(baseURL, apiKey, model string, timeout time.Duration) *HTTPModel {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPModel{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
	}
}

type polishRequest struct {
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
	Prompt       string `json:"prompt"`
	MaxTokens    int    `json:"max_tokens"`
}

type polishResponse struct {
	Text string `json:"text"`
}

func (m *HTTPModel) Polish(ctx context.Context, systemPrompt, seed string, maxTokens int) (string, error) {
	body, err := json.Marshal(polishRequest{Model: m.model, SystemPrompt: systemPrompt, Prompt: seed, MaxTokens: maxTokens})
	if err != nil {
		return "", fmt.Errorf("encode rewrite request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build rewrite request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("rewrite request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read rewrite response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("rewrite upstream status %d: %s", resp.StatusCode, string(data))
	}

	var parsed polishResponse
	if err := json.Unmarshal(data, &parsed); err != nil || parsed.Text == "" {
		return "", fmt.Errorf("unparseable rewrite response: %w", err)
	}
	return parsed.Text, nil
}
