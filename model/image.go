package model

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"math"
	"strings"

	"golang.org/x/image/draw"
)

// DefaultMaxPixels bounds the area of an image sent to the model.
const DefaultMaxPixels = 1350 * 28 * 28

// ScaledSize returns the dimensions an image of w x h is resized to. The scale
// is the smaller of the area bound and the optional width bound, and images
// already within both bounds keep their size.
func ScaledSize(w, h, maxPixels, maxWidth int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}

	scale := 1.0
	if maxPixels > 0 && w*h > maxPixels {
		scale = math.Sqrt(float64(maxPixels) / float64(w*h))
	}
	if maxWidth > 0 && w > maxWidth {
		scale = math.Min(scale, float64(maxWidth)/float64(w))
	}
	if scale >= 1 {
		return w, h
	}

	nw := int(math.Floor(float64(w) * scale))
	nh := int(math.Floor(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

// ResizeBase64 decodes a base64 image, downscales it to fit the bounds and
// returns it as base64 PNG. PNG images within the bounds are returned
// unchanged; other formats are re-encoded.
func ResizeBase64(data string, maxPixels, maxWidth int) (string, error) {
	data = stripDataURL(data)
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to read image header: %w", err)
	}
	nw, nh := ScaledSize(cfg.Width, cfg.Height, maxPixels, maxWidth)
	resize := nw != cfg.Width || nh != cfg.Height
	if !resize && format == "png" {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	out := src
	if resize {
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func stripDataURL(s string) string {
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx >= 0 {
			return s[idx+1:]
		}
	}
	return s
}
