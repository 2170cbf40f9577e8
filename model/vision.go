package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hairizuanbinnoorazman/guiagent/action"
	"github.com/hairizuanbinnoorazman/guiagent/logger"
)

// BatchPolicy decides what happens to a reply in which some calls were
// malformed.
type BatchPolicy string

const (
	// MalformedSkip executes the calls that parsed and drops the rest.
	MalformedSkip BatchPolicy = "skip"
	// MalformedDropBatch drops the whole batch when any call was malformed.
	MalformedDropBatch BatchPolicy = "drop_batch"
)

// Defaults for Config.
const (
	DefaultMaxTokens = 1000
	DefaultTopP      = 0.7
	DefaultMaxImages = 5
)

// Config configures a VisionModel.
type Config struct {
	Provider Provider
	Logger   logger.Logger

	MaxPixels   int
	MaxWidth    int
	MaxImages   int
	Factor      float64
	MaxTokens   int
	Temperature float64
	TopP        float64
	Policy      BatchPolicy
}

// VisionModel is the Invoker backed by a Provider.
type VisionModel struct {
	cfg Config
	log logger.Logger
}

// New creates a VisionModel, filling unset options with their defaults.
func New(cfg Config) (*VisionModel, error) {
	if cfg.Provider == nil {
		return nil, errors.New("model: provider is required")
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = DefaultMaxImages
	}
	if cfg.Factor <= 0 {
		cfg.Factor = action.DefaultFactor
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.TopP <= 0 {
		cfg.TopP = DefaultTopP
	}
	switch cfg.Policy {
	case "":
		cfg.Policy = MalformedSkip
	case MalformedSkip, MalformedDropBatch:
	default:
		return nil, fmt.Errorf("model: unknown batch policy %q", cfg.Policy)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &VisionModel{
		cfg: cfg,
		log: log.WithField("provider", cfg.Provider.Name()),
	}, nil
}

// Invoke sends the conversation to the provider and parses the reply. A reply
// without text fails with *ResponseError. A reply that does not parse is not
// an error: the output carries the text and no actions.
func (m *VisionModel) Invoke(ctx context.Context, params InvokeParams) (*InvokeOutput, error) {
	messages, err := m.buildMessages(params)
	if err != nil {
		return nil, err
	}

	req := &Request{
		Messages:    messages,
		MaxTokens:   m.cfg.MaxTokens,
		Temperature: m.cfg.Temperature,
		TopP:        m.cfg.TopP,
	}

	start := time.Now()
	resp, err := m.cfg.Provider.Complete(ctx, req)
	m.log.Info(ctx, "vlm invoke time cost", map[string]interface{}{
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var te *TransportError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, &TransportError{Provider: m.cfg.Provider.Name(), Err: err}
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, &ResponseError{Raw: resp.Raw}
	}

	out := &InvokeOutput{Prediction: resp.Text}
	pred, err := action.Parse(text, m.cfg.Factor)
	if err != nil {
		m.log.Warn(ctx, "failed to parse model reply", map[string]interface{}{
			"error":      err.Error(),
			"prediction": text,
		})
		out.Parsed = []action.Parsed{}
		return out, nil
	}

	out.Thought = pred.Thought
	out.Reflection = pred.Reflection
	out.Parsed = pred.Actions
	out.Malformed = pred.Malformed

	if len(pred.Malformed) > 0 {
		m.log.Warn(ctx, "model reply contained malformed actions", map[string]interface{}{
			"malformed": len(pred.Malformed),
			"parsed":    len(pred.Actions),
			"policy":    string(m.cfg.Policy),
		})
		if m.cfg.Policy == MalformedDropBatch {
			out.Parsed = []action.Parsed{}
		}
	}
	return out, nil
}

// buildMessages converts the conversation, attaching only the most recent
// MaxImages captures. Older image-bearing turns are sent as text.
func (m *VisionModel) buildMessages(params InvokeParams) ([]Message, error) {
	imageTurns := 0
	for _, t := range params.Conversation {
		if t.HasImage {
			imageTurns++
		}
	}
	if imageTurns > len(params.Images) {
		return nil, fmt.Errorf("model: conversation has %d image turns but %d images", imageTurns, len(params.Images))
	}
	firstKept := imageTurns - m.cfg.MaxImages

	messages := make([]Message, 0, len(params.Conversation))
	imageIdx := 0
	for _, t := range params.Conversation {
		msg := Message{Role: t.Role}
		if t.Text != "" {
			msg.Parts = append(msg.Parts, Part{Type: PartText, Text: t.Text})
		}
		if t.HasImage {
			if imageIdx >= firstKept {
				img, err := ResizeBase64(params.Images[imageIdx], m.cfg.MaxPixels, m.cfg.MaxWidth)
				if err != nil {
					return nil, fmt.Errorf("model: image %d: %w", imageIdx, err)
				}
				msg.Parts = append(msg.Parts, Part{Type: PartImage, Image: img})
			}
			imageIdx++
		}
		if len(msg.Parts) == 0 {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
