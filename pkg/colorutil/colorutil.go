// Package colorutil provides shared color utilities for shift palettes and cell analysis.
package colorutil

import (
	"fmt"
	"image/color"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// LightGrey is the report header fill.
var LightGrey = color.RGBA{R: 211, G: 211, B: 211, A: 255}

// ParseHex parses "#RRGGBB" (leading # optional) into an opaque RGBA color.
func ParseHex(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q: want #RRGGBB", s)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// Hex formats a color as "#RRGGBB".
func Hex(c color.RGBA) string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// BGR returns the channels of c in OpenCV byte order.
func BGR(c color.RGBA) [3]uint8 {
	return [3]uint8{c.B, c.G, c.R}
}

// Distance returns the Euclidean distance between two colors in RGB space.
func Distance(a, b color.RGBA) float64 {
	return floats.Distance(
		[]float64{float64(a.R), float64(a.G), float64(a.B)},
		[]float64{float64(b.R), float64(b.G), float64(b.B)},
		2,
	)
}
