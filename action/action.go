// Package action defines the structured actions a vision-language model can
// ask an operator to perform, and the parser that extracts them from the
// model's free-form reply.
package action

import "math"

// Kind discriminates parsed actions.
type Kind string

const (
	KindClick       Kind = "click"
	KindDoubleClick Kind = "left_double"
	KindRightClick  Kind = "right_single"
	KindHover       Kind = "hover"
	KindDrag        Kind = "drag"
	KindType        Kind = "type"
	KindHotkey      Kind = "hotkey"
	KindScroll      Kind = "scroll"
	KindNavigate    Kind = "navigate"
	KindWait        Kind = "wait"
	KindFinished    Kind = "finished"
	KindCallUser    Kind = "call_user"
)

// IsTerminal reports whether the kind ends a run instead of being executed.
func (k Kind) IsTerminal() bool {
	return k == KindFinished || k == KindCallUser
}

// IsKnown reports whether the parser understands the kind's parameters.
// Unknown kinds are still parsed so operators can reject them explicitly.
func (k Kind) IsKnown() bool {
	switch k {
	case KindClick, KindDoubleClick, KindRightClick, KindHover, KindDrag,
		KindType, KindHotkey, KindScroll, KindNavigate, KindWait,
		KindFinished, KindCallUser:
		return true
	}
	return false
}

// Scroll directions.
const (
	DirectionUp    = "up"
	DirectionDown  = "down"
	DirectionLeft  = "left"
	DirectionRight = "right"
)

// Box is a rectangle in normalized screen space, each coordinate in [0, 1].
// A point is represented as a degenerate box.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Center returns the normalized center of the box.
func (b Box) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Point is a location in the device's physical pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Logical converts a physical point to logical (CSS / DIP) pixels.
func (p Point) Logical(scaleFactor float64) Point {
	if scaleFactor <= 0 {
		scaleFactor = 1
	}
	return Point{X: p.X / scaleFactor, Y: p.Y / scaleFactor}
}

// Parsed is one structured decision derived from the model's text.
type Parsed struct {
	Kind      Kind   `json:"kind"`
	StartBox  *Box   `json:"start_box,omitempty"`
	EndBox    *Box   `json:"end_box,omitempty"`
	Content   string `json:"content,omitempty"`
	Key       string `json:"key,omitempty"`
	Direction string `json:"direction,omitempty"`
	// Raw is the call text the action was parsed from.
	Raw string `json:"raw,omitempty"`

	// Start and End are filled by Resolve with physical pixel coordinates.
	Start *Point `json:"start,omitempty"`
	End   *Point `json:"end,omitempty"`
}

// Resolve returns a copy of the action with its boxes translated into the
// physical pixel space of a width x height surface.
func (p Parsed) Resolve(width, height int) Parsed {
	out := p
	out.Start = toPhysical(p.StartBox, width, height)
	out.End = toPhysical(p.EndBox, width, height)
	return out
}

func toPhysical(b *Box, width, height int) *Point {
	if b == nil {
		return nil
	}
	cx, cy := b.Center()
	return &Point{
		X: math.Round(cx * float64(width)),
		Y: math.Round(cy * float64(height)),
	}
}
