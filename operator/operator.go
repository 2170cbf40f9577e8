// Package operator defines the device capability the agent loop drives: take a
// screenshot, execute an action.
package operator

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/hairizuanbinnoorazman/guiagent/action"
)

// Screenshot is a captured frame of the controlled surface. Width and Height
// are physical pixels; ScaleFactor is the device pixel ratio.
type Screenshot struct {
	Base64      string  `json:"base64"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	ScaleFactor float64 `json:"scaleFactor"`
}

// ExecuteParams carries one resolved action. Action.Start and Action.End are
// physical pixel coordinates on a ScreenWidth x ScreenHeight surface.
type ExecuteParams struct {
	Prediction   string        `json:"prediction"`
	Action       action.Parsed `json:"action"`
	ScreenWidth  int           `json:"screenWidth"`
	ScreenHeight int           `json:"screenHeight"`
	ScaleFactor  float64       `json:"scaleFactor"`
}

// Operator is a controllable device surface.
type Operator interface {
	Screenshot(ctx context.Context) (*Screenshot, error)
	Execute(ctx context.Context, params ExecuteParams) error
}

// CaptureError reports that the surface could not be captured.
type CaptureError struct {
	Operator string
	Err      error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("%s: screenshot failed: %v", e.Operator, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Reason classifies an execution failure.
type Reason string

const (
	ReasonTargetNotFound    Reason = "target_not_found"
	ReasonSurfaceClosed     Reason = "surface_closed"
	ReasonUnsupportedAction Reason = "unsupported_action"
	ReasonFailed            Reason = "failed"
)

// ExecutionError reports that an action could not be carried out.
type ExecutionError struct {
	Reason Reason
	Kind   action.Kind
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("execute %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("execute %s: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Unsupported returns the error for an action kind the operator cannot perform.
func Unsupported(kind action.Kind) *ExecutionError {
	return &ExecutionError{Reason: ReasonUnsupportedAction, Kind: kind}
}

// TargetNotFound returns the error for an action aimed outside anything
// actionable.
func TargetNotFound(kind action.Kind, format string, args ...interface{}) *ExecutionError {
	return &ExecutionError{Reason: ReasonTargetNotFound, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Failed wraps err as a generic execution failure.
func Failed(kind action.Kind, err error) *ExecutionError {
	return &ExecutionError{Reason: ReasonFailed, Kind: kind, Err: err}
}

// ReasonOf returns the reason of an execution error, or the empty string when
// err is not one.
func ReasonOf(err error) Reason {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Reason
	}
	return ""
}

// FromImage encodes img as a PNG screenshot.
func FromImage(img image.Image, scaleFactor float64) (*Screenshot, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode screenshot: %w", err)
	}
	if scaleFactor <= 0 {
		scaleFactor = 1
	}
	b := img.Bounds()
	return &Screenshot{
		Base64:      base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:       b.Dx(),
		Height:      b.Dy(),
		ScaleFactor: scaleFactor,
	}, nil
}

// LogicalStart returns the action's start point in logical pixels.
func (p ExecuteParams) LogicalStart() (action.Point, bool) {
	if p.Action.Start == nil {
		return action.Point{}, false
	}
	return p.Action.Start.Logical(p.ScaleFactor), true
}

// LogicalEnd returns the action's end point in logical pixels.
func (p ExecuteParams) LogicalEnd() (action.Point, bool) {
	if p.Action.End == nil {
		return action.Point{}, false
	}
	return p.Action.End.Logical(p.ScaleFactor), true
}
