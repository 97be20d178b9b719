// Package classify decides which reference shift colors a day cell contains.
package classify

import (
	"fmt"
	"image/color"

	"roster-scan/internal/config"
	"roster-scan/internal/diag"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// Classifier matches cells against reference colors.
//
// A pixel matches a reference color when their Euclidean distance in BGR space is
// strictly below Tolerance. A cell matches when more than MinPixels pixels match.
type Classifier struct {
	Tolerance float64
	MinPixels int
}

// Default returns the classifier tuned for the planning exports: tolerance 50 and a
// 98 pixel area threshold.
func Default() Classifier {
	return Classifier{Tolerance: 50, MinPixels: 98}
}

// FromConfig builds a classifier from the configured tolerance and area threshold.
func FromConfig(cfg config.Config) Classifier {
	return Classifier{Tolerance: cfg.Tolerance, MinPixels: cfg.MinMatchPixels}
}

// Result is the outcome of classifying one cell against a palette.
type Result struct {
	Matches []int      // indices into the palette, in palette order
	Counts  []int      // matching pixel count per palette entry
	Mean    color.RGBA // average cell color, for diagnostics
}

// Matched reports whether any palette entry matched.
func (r Result) Matched() bool {
	return len(r.Matches) > 0
}

// Ambiguous reports whether more than one palette entry matched.
func (r Result) Ambiguous() bool {
	return len(r.Matches) > 1
}

// Labels returns the labels of the matched entries, in palette order.
func (r Result) Labels(p config.Palette) []string {
	labels := make([]string, 0, len(r.Matches))
	for _, i := range r.Matches {
		labels = append(labels, p[i].Label)
	}
	return labels
}

// pixels returns the BGR bytes of a 3-channel 8-bit cell.
func pixels(cell gocv.Mat) ([]byte, error) {
	if cell.Empty() {
		return nil, diag.ErrMissingCell
	}
	if cell.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("unsupported cell type %v, want 8UC3", cell.Type())
	}
	if !cell.IsContinuous() {
		c := cell.Clone()
		defer c.Close()
		return c.ToBytes(), nil
	}
	return cell.ToBytes(), nil
}

// Count returns how many pixels of cell lie within the tolerance of ref.
func (c Classifier) Count(cell gocv.Mat, ref color.RGBA) (int, error) {
	data, err := pixels(cell)
	if err != nil {
		return 0, err
	}
	return c.count(data, ref), nil
}

func (c Classifier) count(data []byte, ref color.RGBA) int {
	tol2 := c.Tolerance * c.Tolerance
	rb, rg, rr := float64(ref.B), float64(ref.G), float64(ref.R)

	n := 0
	for i := 0; i+2 < len(data); i += 3 {
		db := float64(data[i]) - rb
		dg := float64(data[i+1]) - rg
		dr := float64(data[i+2]) - rr
		if db*db+dg*dg+dr*dr < tol2 {
			n++
		}
	}
	return n
}

// Classify matches cell against every palette entry. Matches are not exclusive:
// a cell may match zero, one or several entries.
func (c Classifier) Classify(cell gocv.Mat, palette config.Palette) (Result, error) {
	data, err := pixels(cell)
	if err != nil {
		return Result{}, err
	}

	res := Result{Counts: make([]int, len(palette)), Mean: mean(data)}
	for i, s := range palette {
		n := c.count(data, s.Color.Value())
		res.Counts[i] = n
		if n > c.MinPixels {
			res.Matches = append(res.Matches, i)
		}
	}
	return res, nil
}

// mean returns the average color of BGR pixel data.
func mean(data []byte) color.RGBA {
	n := len(data) / 3
	if n == 0 {
		return color.RGBA{A: 255}
	}
	b := make([]float64, n)
	g := make([]float64, n)
	r := make([]float64, n)
	for i := 0; i < n; i++ {
		b[i] = float64(data[3*i])
		g[i] = float64(data[3*i+1])
		r[i] = float64(data[3*i+2])
	}
	return color.RGBA{
		R: uint8(stat.Mean(r, nil) + 0.5),
		G: uint8(stat.Mean(g, nil) + 0.5),
		B: uint8(stat.Mean(b, nil) + 0.5),
		A: 255,
	}
}
