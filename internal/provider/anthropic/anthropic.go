// Package anthropic calls the Anthropic messages API for the cloud lane.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/oncallops/answergate/internal/domain"
	"github.com/oncallops/answergate/internal/httputil"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
)

type Provider struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
}

func New(apiKey, model string, maxTokens int) *Provider {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Provider{
		apiKey:    apiKey,
		baseURL:   defaultBaseURL,
		model:     model,
		maxTokens: maxTokens,
		client:    httputil.DefaultClient(),
	}
}

func (p *Provider) Name() string {
	return "anthropic"
}

func (p *Provider) Generate(ctx context.Context, prompt string) (domain.GenerateResult, error) {
	reqBody := messagesRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages: []message{
			{Role: "user", Content: prompt},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return domain.GenerateResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return domain.GenerateResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return domain.GenerateResult{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return domain.GenerateResult{}, fmt.Errorf("%w: anthropic status=%d body=%s", domain.ErrProviderError, resp.StatusCode, string(bodyBytes))
	}

	var msgResp messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&msgResp); err != nil {
		return domain.GenerateResult{}, fmt.Errorf("decode response: %w", err)
	}

	var text string
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	result := domain.GenerateResult{
		Text:     text,
		Provider: p.Name(),
	}
	if msgResp.Usage.OutputTokens > 0 {
		tokens := msgResp.Usage.OutputTokens
		result.TokenEstimate = &tokens
	}
	return result, nil
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Usage   usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
