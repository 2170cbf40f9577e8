// Package textscreen renders rows of text into a fixed size image so text
// surfaces can be captured like a screen.
package textscreen

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	background = color.RGBA{R: 0x1e, G: 0x1e, B: 0x1e, A: 0xff}
	foreground = color.RGBA{R: 0xd4, G: 0xd4, B: 0xd4, A: 0xff}
	highlight  = color.RGBA{R: 0x26, G: 0x4f, B: 0x78, A: 0xff}
)

// Screen is a grid of text rows on a Width x Height canvas.
type Screen struct {
	Width   int
	Height  int
	Padding int
	// RowHeight is the vertical pitch between rows in pixels.
	RowHeight int

	face font.Face
}

// New returns a screen using the 7x13 bitmap font.
func New(width, height int) *Screen {
	return &Screen{
		Width:     width,
		Height:    height,
		Padding:   8,
		RowHeight: 18,
		face:      basicfont.Face7x13,
	}
}

// Rows returns how many rows fit on the screen.
func (s *Screen) Rows() int {
	n := (s.Height - 2*s.Padding) / s.RowHeight
	if n < 0 {
		return 0
	}
	return n
}

// Cols returns how many characters fit on a row.
func (s *Screen) Cols() int {
	n := (s.Width - 2*s.Padding) / basicfont.Face7x13.Advance
	if n < 0 {
		return 0
	}
	return n
}

// RowAt returns the row under a y coordinate, or -1 when y is outside the
// rows.
func (s *Screen) RowAt(y float64) int {
	if y < float64(s.Padding) || y >= float64(s.Height-s.Padding) {
		return -1
	}
	row := int((y - float64(s.Padding)) / float64(s.RowHeight))
	if row >= s.Rows() {
		return -1
	}
	return row
}

// RowCenter returns the y coordinate of the middle of a row.
func (s *Screen) RowCenter(row int) float64 {
	return float64(s.Padding + row*s.RowHeight + s.RowHeight/2)
}

// Render draws the first Rows() lines. The row at selected, when in range, is
// drawn highlighted. Lines longer than Cols() are cut.
func (s *Screen) Render(lines []string, selected int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(foreground),
		Face: s.face,
	}
	cols := s.Cols()
	ascent := s.face.Metrics().Ascent.Ceil()

	for i, line := range lines {
		if i >= s.Rows() {
			break
		}
		top := s.Padding + i*s.RowHeight
		if i == selected {
			r := image.Rect(0, top, s.Width, top+s.RowHeight)
			draw.Draw(img, r, image.NewUniform(highlight), image.Point{}, draw.Src)
		}
		if runes := []rune(line); len(runes) > cols {
			line = string(runes[:cols])
		}
		baseline := top + (s.RowHeight-ascent)/2 + ascent
		d.Dot = fixed.P(s.Padding, baseline)
		d.DrawString(line)
	}
	return img
}
