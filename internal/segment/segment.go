// Package segment locates the vertical grid lines of a planning row raster and
// crops it into one cell per day.
package segment

import (
	"fmt"
	"image"

	"roster-scan/internal/config"
	"roster-scan/internal/diag"
	"roster-scan/internal/raster"

	"gocv.io/x/gocv"
)

// Params configures grid-line detection.
type Params struct {
	KernelWidth  int     // Structuring element width (px)
	KernelHeight int     // Structuring element height (px); lines shorter than this vanish
	Iterations   int     // Opening iterations
	Threshold    float32 // Binarization threshold on the opened image (0-255)
	ScanBottom   bool    // Scan the last mask row instead of the first
}

// DefaultParams returns parameters tuned for scanned monthly planning tables.
func DefaultParams() Params {
	return Params{
		KernelWidth:  1,
		KernelHeight: 50,
		Iterations:   2,
		Threshold:    95,
	}
}

// ParamsFromConfig converts the segment section of a configuration.
func ParamsFromConfig(c config.Segment) Params {
	return Params{
		KernelWidth:  c.KernelWidth,
		KernelHeight: c.KernelHeight,
		Iterations:   c.Iterations,
		Threshold:    float32(c.Threshold),
		ScanBottom:   c.ScanRow == "bottom",
	}
}

// WithKernel returns a copy with a different structuring element.
func (p Params) WithKernel(width, height int) Params {
	p.KernelWidth = width
	p.KernelHeight = height
	return p
}

// WithThreshold returns a copy with a different binarization threshold.
func (p Params) WithThreshold(t float32) Params {
	p.Threshold = t
	return p
}

// WithScanBottom returns a copy scanning the last mask row.
func (p Params) WithScanBottom(bottom bool) Params {
	p.ScanBottom = bottom
	return p
}

// Cell is one day column cropped at full row height. The Mat is owned by the Cell.
type Cell struct {
	Day int // zero-based day offset
	X0  int // left boundary (inclusive)
	X1  int // right boundary (exclusive)
	Mat gocv.Mat
}

// Width returns the cell width in pixels.
func (c Cell) Width() int {
	return c.X1 - c.X0
}

// Close releases the cell's Mat.
func (c *Cell) Close() error {
	return c.Mat.Close()
}

// CloseAll releases every cell in the slice.
func CloseAll(cells []Cell) {
	for i := range cells {
		cells[i].Close()
	}
}

// LineMask returns a binary mask where only vertical line structures are white.
// The image is inverted so dark grid lines become bright, then opened with a tall,
// narrow rectangle: Iterations erosions followed by Iterations dilations.
func LineMask(img gocv.Mat, p Params) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty image")
	}
	if p.KernelWidth < 1 || p.KernelHeight < 1 || p.Iterations < 1 {
		return gocv.NewMat(), fmt.Errorf("invalid kernel %dx%d (iterations %d)", p.KernelWidth, p.KernelHeight, p.Iterations)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	switch img.Channels() {
	case 1:
		img.CopyTo(&gray)
	case 3:
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(img, &gray, gocv.ColorBGRAToGray)
	default:
		return gocv.NewMat(), fmt.Errorf("unsupported channel count %d", img.Channels())
	}

	inverted := gocv.NewMat()
	defer inverted.Close()
	gocv.BitwiseNot(gray, &inverted)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{p.KernelWidth, p.KernelHeight})
	defer kernel.Close()

	opened := inverted.Clone()
	defer opened.Close()
	for i := 0; i < p.Iterations; i++ {
		gocv.Erode(opened, &opened, kernel)
	}
	for i := 0; i < p.Iterations; i++ {
		gocv.Dilate(opened, &opened, kernel)
	}

	mask := gocv.NewMat()
	gocv.Threshold(opened, &mask, p.Threshold, 255, gocv.ThresholdBinary)
	return mask, nil
}

// Boundaries returns the x-coordinates of the vertical grid lines of img, one per
// line, in increasing order.
func Boundaries(img gocv.Mat, p Params) ([]int, error) {
	mask, err := LineMask(img, p)
	if err != nil {
		return nil, err
	}
	defer mask.Close()

	row := 0
	if p.ScanBottom {
		row = mask.Rows() - 1
	}

	var xs []int
	for x := 0; x < mask.Cols(); x++ {
		if mask.GetUCharAt(row, x) == 255 {
			xs = append(xs, x)
		}
	}
	return Coalesce(xs), nil
}

// Coalesce collapses runs of coordinates that touch (gap of 0 or 1) into their last
// coordinate, turning thick or duplicated line detections into single boundaries.
// The input must be sorted.
func Coalesce(xs []int) []int {
	if len(xs) == 0 {
		return nil
	}
	out := make([]int, 0, len(xs))
	for i := 0; i < len(xs)-1; i++ {
		if xs[i+1]-xs[i] > 1 {
			out = append(out, xs[i])
		}
	}
	return append(out, xs[len(xs)-1])
}

// Split crops img at full height between each pair of consecutive boundaries.
func Split(img gocv.Mat, bounds []int) []Cell {
	if len(bounds) < 2 {
		return nil
	}
	cells := make([]Cell, 0, len(bounds)-1)
	for j := 0; j < len(bounds)-1; j++ {
		x0, x1 := bounds[j], bounds[j+1]
		region := img.Region(image.Rect(x0, 0, x1, img.Rows()))
		cells = append(cells, Cell{Day: j, X0: x0, X1: x1, Mat: region.Clone()})
		region.Close()
	}
	return cells
}

// Segment finds the grid lines of img and crops one cell per day. It fails with a
// *diag.StructureMismatchError when the lines do not delimit exactly expectedDays
// columns, rather than shifting days against names.
func Segment(img gocv.Mat, expectedDays int, p Params) ([]Cell, error) {
	bounds, err := Boundaries(img, p)
	if err != nil {
		return nil, err
	}
	if found := len(bounds) - 1; found != expectedDays {
		if found < 0 {
			found = 0
		}
		return nil, &diag.StructureMismatchError{Found: found, Expected: expectedDays}
	}
	return Split(img, bounds), nil
}

// SegmentRow segments a row raster and tags structure errors with its page and row.
func SegmentRow(row *raster.Row, expectedDays int, p Params) ([]Cell, error) {
	cells, err := Segment(row.Mat, expectedDays, p)
	if err != nil {
		if sm, ok := err.(*diag.StructureMismatchError); ok {
			sm.Page, sm.Row = row.Page, row.Index
			return nil, sm
		}
		return nil, fmt.Errorf("failed to segment page %d row %d: %w", row.Page, row.Index, err)
	}
	return cells, nil
}
