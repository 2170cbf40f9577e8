package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// InvokeModelAPI is the subset of the Bedrock runtime client the provider uses.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider calls an Anthropic vision model hosted on AWS Bedrock.
type BedrockProvider struct {
	client  InvokeModelAPI
	modelID string
}

// NewBedrockProvider creates a provider using the default AWS credential chain.
func NewBedrockProvider(ctx context.Context, region, modelID string) (*BedrockProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewBedrockProviderWithClient(bedrockruntime.NewFromConfig(cfg), modelID), nil
}

// NewBedrockProviderWithClient creates a provider around an existing client.
func NewBedrockProviderWithClient(client InvokeModelAPI, modelID string) *BedrockProvider {
	return &BedrockProvider{client: client, modelID: modelID}
}

func (p *BedrockProvider) Name() string {
	return "bedrock"
}

type bedrockImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type bedrockContent struct {
	Type   string              `json:"type"`
	Text   string              `json:"text,omitempty"`
	Source *bedrockImageSource `json:"source,omitempty"`
}

type bedrockMessage struct {
	Role    string           `json:"role"`
	Content []bedrockContent `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Temperature      float64          `json:"temperature"`
	TopP             float64          `json:"top_p"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Complete invokes the model. System turns are moved to the system field and
// consecutive turns of the same role are merged, as the messages API requires
// alternating roles.
func (p *BedrockProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	body := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
	}

	var system []string
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			for _, part := range m.Parts {
				if part.Type == PartText {
					system = append(system, part.Text)
				}
			}
			continue
		}

		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		content := make([]bedrockContent, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch part.Type {
			case PartText:
				content = append(content, bedrockContent{Type: "text", Text: part.Text})
			case PartImage:
				content = append(content, bedrockContent{
					Type:   "image",
					Source: &bedrockImageSource{Type: "base64", MediaType: "image/png", Data: part.Image},
				})
			}
		}

		if n := len(body.Messages); n > 0 && body.Messages[n-1].Role == role {
			body.Messages[n-1].Content = append(body.Messages[n-1].Content, content...)
			continue
		}
		body.Messages = append(body.Messages, bedrockMessage{Role: role, Content: content})
	}
	body.System = strings.Join(system, "\n\n")

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, &TransportError{Provider: p.Name(), Err: fmt.Errorf("failed to invoke Bedrock model: %w", err)}
	}

	var decoded bedrockResponse
	if err := json.Unmarshal(output.Body, &decoded); err != nil {
		return nil, &TransportError{Provider: p.Name(), Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}

	var sb strings.Builder
	for _, c := range decoded.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return &Response{Text: sb.String(), Raw: string(output.Body)}, nil
}
