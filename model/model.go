// Package model turns a conversation and screen captures into a vision-language
// model request and the model's reply into parsed actions.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/hairizuanbinnoorazman/guiagent/action"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a conversation. When HasImage is set the Nth
// image-bearing turn is paired with the Nth entry of InvokeParams.Images.
type Turn struct {
	Role     Role   `json:"role"`
	Text     string `json:"text"`
	HasImage bool   `json:"has_image,omitempty"`
}

// InvokeParams is the input of Invoke.
type InvokeParams struct {
	Conversation []Turn
	// Images are base64 encoded screen captures in conversation order.
	Images []string
}

// InvokeOutput is the result of one model call.
type InvokeOutput struct {
	// Prediction is the raw text of the reply.
	Prediction string
	Thought    string
	Reflection string
	Parsed     []action.Parsed
	// Malformed lists the calls of the reply that could not be parsed.
	Malformed []action.Malformed
}

// Invoker is the capability the agent loop depends on.
type Invoker interface {
	Invoke(ctx context.Context, params InvokeParams) (*InvokeOutput, error)
}

// ErrEmptyResponse is wrapped by ResponseError when the reply has no text.
var ErrEmptyResponse = errors.New("vlm response error")

// ResponseError reports a reply that carried no usable text. Raw holds the
// provider's response body for diagnosis.
type ResponseError struct {
	Raw string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%v: %s", ErrEmptyResponse, e.Raw)
}

func (e *ResponseError) Unwrap() error {
	return ErrEmptyResponse
}

// TransportError reports a failure to reach the provider or a non-success
// status from it.
type TransportError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PartType discriminates message parts.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is one piece of message content. Image parts carry base64 PNG data.
type Part struct {
	Type  PartType
	Text  string
	Image string
}

// Message is a provider-neutral chat message.
type Message struct {
	Role  Role
	Parts []Part
}

// Request is what a Provider sends upstream.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Response is what a Provider got back. Raw is the undecoded body.
type Response struct {
	Text string
	Raw  string
}

// Provider talks to one model hosting API.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}
