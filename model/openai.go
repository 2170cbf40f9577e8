package model

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

// OpenAIProvider calls an OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIProvider creates a provider for baseURL, e.g.
// "https://api.openai.com/v1". The timeout applies per request.
func NewOpenAIProvider(baseURL, apiKey, model string, timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// chatRequest leaves the sampling knobs the agent does not set as explicit
// nulls.
type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens"`
	Stream           bool          `json:"stream"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p"`
	Seed             *int          `json:"seed"`
	Stop             []string      `json:"stop"`
	FrequencyPenalty *float64      `json:"frequency_penalty"`
	PresencePenalty  *float64      `json:"presence_penalty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete posts the request to /chat/completions. A reply with no choices or
// no content yields an empty Response.Text and the raw body.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	body := chatRequest{
		Model:       p.model,
		Messages:    toChatMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Provider: p.Name(), Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Provider: p.Name(), StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &TransportError{Provider: p.Name(), Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	out := &Response{Raw: string(raw)}
	if len(decoded.Choices) > 0 && decoded.Choices[0].Message.Content != nil {
		out.Text = *decoded.Choices[0].Message.Content
	}
	return out, nil
}

func toChatMessages(messages []Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		role := "user"
		switch m.Role {
		case RoleSystem:
			role = "system"
		case RoleAssistant:
			role = "assistant"
		}

		if len(m.Parts) == 1 && m.Parts[0].Type == PartText {
			out = append(out, chatMessage{Role: role, Content: m.Parts[0].Text})
			continue
		}

		parts := make([]chatPart, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch part.Type {
			case PartText:
				parts = append(parts, chatPart{Type: "text", Text: part.Text})
			case PartImage:
				parts = append(parts, chatPart{
					Type:     "image_url",
					ImageURL: &chatImageURL{URL: "data:image/png;base64," + part.Image},
				})
			}
		}
		out = append(out, chatMessage{Role: role, Content: parts})
	}
	return out
}
