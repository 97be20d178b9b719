// Package raster loads table row images and converts them to OpenCV matrices.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Row is the raster of one person row of a planning table. The Mat is BGR and owned
// by the Row; call Close when done.
type Row struct {
	Page  int    // zero-based page index
	Index int    // zero-based person row index
	Path  string // source file, empty for in-memory rasters
	Mat   gocv.Mat
}

// Close releases the underlying Mat.
func (r *Row) Close() error {
	if r == nil {
		return nil
	}
	return r.Mat.Close()
}

// ErrUnsupportedFormat is returned for files whose extension has no registered decoder.
var ErrUnsupportedFormat = errors.New("unsupported raster format")

var formats = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".tiff": true, ".tif": true, ".bmp": true}

// IsSupportedFormat reports whether path has an image extension Load can decode.
func IsSupportedFormat(path string) bool {
	return formats[strings.ToLower(filepath.Ext(path))]
}

// Load decodes an image file (PNG, JPEG, TIFF, BMP) into a BGR Mat.
func Load(path string) (gocv.Mat, error) {
	if !IsSupportedFormat(path) {
		return gocv.NewMat(), fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
	file, err := os.Open(path)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to decode image %s: %w", filepath.Base(path), err)
	}

	return ToMat(img)
}

// ToMat converts a Go image.Image to a gocv.Mat in BGR format. Channels are taken
// unpremultiplied and alpha is dropped, as OpenCV reads color images.
func ToMat(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return gocv.NewMat(), fmt.Errorf("empty image")
	}

	data := make([]byte, 0, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			data = append(data, c.B, c.G, c.R)
		}
	}

	return gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, data)
}
