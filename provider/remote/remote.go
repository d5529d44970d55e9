// Package remote implements provider.Provider over HTTP: one POST per
// Generate call, with response status codes classified into
// provider.FailureKind per the external image API contract, so the
// orchestrator's retry loop knows which failures are worth another
// attempt.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zaugust4891/ad-image-generator/provider"
)

const factoryName = "remote"

func init() {
	provider.MustRegister(factory{})
}

type factory struct{}

func (factory) Name() string { return factoryName }

const defaultTimeout = 120 * time.Second

func (factory) Create(opts ...provider.Option) (provider.Provider, error) {
	cfg := provider.Config{Width: 512, Height: 512, TimeoutSecs: 120}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote provider: base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("remote provider: API key is required")
	}
	timeout := defaultTimeout
	if cfg.TimeoutSecs > 0 {
		timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		width:      cfg.Width,
		height:     cfg.Height,
		cost:       cfg.PricePerImg,
	}, nil
}

// Client calls an external image-generation HTTP API, one request per
// Generate, with no retry of its own: retry policy belongs to the
// orchestrator, which inspects the returned Failure.Kind.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	model         string
	width, height int
	cost          float64
}

func (c *Client) Name() string { return factoryName }

type generateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type generateResponse struct {
	ImageBase64 string  `json:"image_base64"`
	Cost        float64 `json:"cost"`
}

func (c *Client) Generate(ctx context.Context, prompt string, params provider.Params) (*provider.Result, error) {
	w, h := c.width, c.height
	if params.Width > 0 {
		w = params.Width
	}
	if params.Height > 0 {
		h = params.Height
	}
	model := c.model
	if params.Model != "" {
		model = params.Model
	}

	body, err := json.Marshal(generateRequest{Prompt: prompt, Model: model, Width: w, Height: h})
	if err != nil {
		return nil, &provider.Failure{Kind: provider.Permanent, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &provider.Failure{Kind: provider.Permanent, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &provider.Failure{Kind: provider.Cancelled, Err: ctx.Err()}
		}
		// Network errors (timeout, connection reset, DNS) are retryable.
		return nil, &provider.Failure{Kind: provider.Transient, Err: err}
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)

	if kind, terminal := classifyStatus(resp.StatusCode); terminal {
		return nil, &provider.Failure{Kind: kind, Err: fmt.Errorf("upstream status %d: %s", resp.StatusCode, truncate(data, 256))}
	}

	if readErr != nil {
		return nil, &provider.Failure{Kind: provider.Permanent, Err: fmt.Errorf("read response body: %w", readErr)}
	}

	var parsed generateResponse
	if err := json.Unmarshal(data, &parsed); err != nil || parsed.ImageBase64 == "" {
		return nil, &provider.Failure{Kind: provider.Permanent, Err: fmt.Errorf("unparseable 2xx response: %w", err)}
	}

	png, err := decodeBase64(parsed.ImageBase64)
	if err != nil {
		return nil, &provider.Failure{Kind: provider.Permanent, Err: fmt.Errorf("decode image payload: %w", err)}
	}

	cost := parsed.Cost
	if cost == 0 {
		cost = c.cost
	}
	return &provider.Result{PNG: png, Cost: cost}, nil
}

// classifyStatus reports whether code is terminal (i.e. Generate should
// return immediately) and, if so, which FailureKind applies. 2xx is
// never terminal here; its body may still fail to parse below.
func classifyStatus(code int) (provider.FailureKind, bool) {
	switch {
	case code >= 200 && code < 300:
		return "", false
	case code == http.StatusRequestTimeout, // 408
		code == 425, // Too Early
		code == http.StatusTooManyRequests, // 429
		code == http.StatusInternalServerError, // 500
		code == http.StatusBadGateway,           // 502
		code == http.StatusServiceUnavailable,   // 503
		code == http.StatusGatewayTimeout:        // 504
		return provider.Transient, true
	default:
		return provider.Permanent, true
	}
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(truncated)"
}
