// Package bedrock calls AWS Bedrock for the cloud lane.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/oncallops/answergate/internal/domain"
)

const anthropicBedrockVersion = "bedrock-2023-05-31"

type Provider struct {
	client    *bedrockruntime.Client
	modelID   string
	maxTokens int
}

func New(ctx context.Context, region, modelID string, maxTokens int) (*Provider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithConfig(cfg, modelID, maxTokens), nil
}

func NewWithConfig(cfg aws.Config, modelID string, maxTokens int) *Provider {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Provider{
		client:    bedrockruntime.NewFromConfig(cfg),
		modelID:   modelID,
		maxTokens: maxTokens,
	}
}

func (p *Provider) Name() string {
	return "bedrock"
}

func (p *Provider) Generate(ctx context.Context, prompt string) (domain.GenerateResult, error) {
	reqBody := invokeRequest{
		AnthropicVersion: anthropicBedrockVersion,
		MaxTokens:        p.maxTokens,
		Messages: []message{
			{Role: "user", Content: prompt},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return domain.GenerateResult{}, fmt.Errorf("marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return domain.GenerateResult{}, fmt.Errorf("invoke model: %w", err)
	}

	var invokeResp invokeResponse
	if err := json.Unmarshal(output.Body, &invokeResp); err != nil {
		return domain.GenerateResult{}, fmt.Errorf("decode response: %w", err)
	}

	var text string
	for _, block := range invokeResp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	result := domain.GenerateResult{
		Text:     text,
		Provider: p.Name(),
	}
	if invokeResp.Usage.OutputTokens > 0 {
		tokens := invokeResp.Usage.OutputTokens
		result.TokenEstimate = &tokens
	}
	return result, nil
}

type invokeRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Messages         []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type invokeResponse struct {
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
