package embedder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// EmbedInput is one encode request. Exactly one of Text or ImagePath is set.
type EmbedInput struct {
	Text      string
	ImagePath string
}

// EmbedResult carries the raw (un-normalized) vector and the token usage the
// provider reported for the call.
type EmbedResult struct {
	Vector []float32
	Tokens int
}

// Provider performs a single encode call. Implementations do no retrying;
// the Client owns retry and backoff.
type Provider interface {
	Embed(ctx context.Context, input EmbedInput) (*EmbedResult, error)
	Model() string
}

// HTTPConfig configures the HTTP embedding provider.
type HTTPConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	TimeoutSeconds int
}

// HTTPConfigFromEnv reads EMBED_BASE_URL, EMBED_API_KEY and EMBED_MODEL,
// defaulting to a local ollama-compatible endpoint.
func HTTPConfigFromEnv() HTTPConfig {
	cfg := HTTPConfig{
		BaseURL: strings.TrimSpace(os.Getenv("EMBED_BASE_URL")),
		APIKey:  strings.TrimSpace(os.Getenv("EMBED_API_KEY")),
		Model:   strings.TrimSpace(os.Getenv("EMBED_MODEL")),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	return cfg
}

// HTTPProvider talks to an OpenAI-compatible /v1/embeddings endpoint.
// Multimodal deployments accept a base64 image in place of text input.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}
	return &HTTPProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

func (p *HTTPProvider) Model() string { return p.model }

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input,omitempty"`
	Image string `json:"image,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *HTTPProvider) Embed(ctx context.Context, input EmbedInput) (*EmbedResult, error) {
	req := embedRequest{Model: p.model, Input: input.Text}
	if input.ImagePath != "" {
		data, err := os.ReadFile(input.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", input.ImagePath, err)
		}
		req.Image = base64.StdEncoding.EncodeToString(data)
		req.Input = ""
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return nil, &ProviderError{Retryable: true, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			Status:    resp.StatusCode,
			Body:      strings.TrimSpace(string(respBody)),
			Retryable: retryableStatus(resp.StatusCode),
		}
	}

	var result embedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal embed response: %w", err)
	}
	if result.Error != nil {
		return nil, &ProviderError{Status: resp.StatusCode, Body: result.Error.Message}
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, &ProviderError{Status: resp.StatusCode, Body: "empty embedding in response"}
	}

	return &EmbedResult{
		Vector: result.Data[0].Embedding,
		Tokens: result.Usage.TotalTokens,
	}, nil
}
