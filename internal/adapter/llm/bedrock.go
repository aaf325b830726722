package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const anthropicVersion = "bedrock-2023-05-31"

type claudeMessageRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Temperature      float64         `json:"temperature"`
	Messages         []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeMessageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// BedrockLLM invokes an Anthropic model hosted on AWS Bedrock. Credentials
// come from the default AWS chain.
type BedrockLLM struct {
	client  *bedrockruntime.Client
	modelID string
	opts    Options
}

func NewBedrockLLM(ctx context.Context, region, modelID string, opts Options) (*BedrockLLM, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return &BedrockLLM{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
		opts:    opts,
	}, nil
}

func (l *BedrockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := buildClaudeRequest(prompt, l.opts)
	if err != nil {
		return "", err
	}

	output, err := l.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(l.modelID),
		Body:        body,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("unable to invoke bedrock model %s: %w", l.modelID, err)
	}

	return parseClaudeResponse(output.Body)
}

func (l *BedrockLLM) ModelName() string {
	return l.modelID
}

func buildClaudeRequest(prompt string, opts Options) ([]byte, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	payload := claudeMessageRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		Temperature:      opts.Temperature,
		Messages:         []claudeMessage{{Role: "user", Content: prompt}},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("unable to serialize claude request: %w", err)
	}
	return data, nil
}

func parseClaudeResponse(body []byte) (string, error) {
	var response claudeMessageResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to unmarshal bedrock response: %w", err)
	}

	var out strings.Builder
	for _, c := range response.Content {
		if c.Type == "text" {
			out.WriteString(c.Text)
		}
	}
	return out.String(), nil
}
