// Package ocr reads planning title bands with Tesseract when the extraction step
// delivered an image instead of text.
package ocr

import (
	"fmt"
	"image"
	"strings"
	"sync"

	"roster-scan/internal/raster"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"
)

// DefaultLanguage is the Tesseract language used for French planning titles.
const DefaultLanguage = "fra"

// Engine provides title OCR using Tesseract. It is safe for concurrent use; calls
// are serialized on the underlying client.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewEngine creates a new OCR engine for the given Tesseract language.
func NewEngine(lang string) (*Engine, error) {
	if lang == "" {
		lang = DefaultLanguage
	}
	client := gosseract.NewClient()

	if err := client.SetLanguage(lang); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}
	// Titles are one block of a few lines; keep the line structure.
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set PSM: %w", err)
	}

	return &Engine{client: client}, nil
}

// Close releases OCR resources.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// ReadTitle implements source.TitleReader.
func (e *Engine) ReadTitle(path string) (string, error) {
	mat, err := raster.Load(path)
	if err != nil {
		return "", err
	}
	defer mat.Close()
	return e.Recognize(mat)
}

// Recognize performs OCR on a whole title image and returns its lines.
func (e *Engine) Recognize(img gocv.Mat) (string, error) {
	if img.Empty() {
		return "", fmt.Errorf("empty image")
	}

	processed := Preprocess(img)
	defer processed.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, processed)
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}
	text, err := e.client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}
	return NormalizeText(text), nil
}

// NormalizeText collapses whitespace inside lines and drops blank lines, keeping
// the line structure the title grammar depends on.
func NormalizeText(text string) string {
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}

// Preprocess upscales small title bands and binarizes them to dark text on a light
// background.
func Preprocess(region gocv.Mat) gocv.Mat {
	h := region.Rows()

	var scaled gocv.Mat
	if h < 60 {
		scale := 60.0 / float64(h)
		scaled = gocv.NewMat()
		gocv.Resize(region, &scaled, image.Point{}, scale, scale, gocv.InterpolationCubic)
	} else {
		scaled = region.Clone()
	}
	defer scaled.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	if scaled.Channels() == 1 {
		scaled.CopyTo(&gray)
	} else {
		gocv.CvtColor(scaled, &gray, gocv.ColorBGRToGray)
	}

	binary := gocv.NewMat()
	gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	// OCR expects dark text on light background.
	whiteRatio := float64(gocv.CountNonZero(binary)) / float64(binary.Rows()*binary.Cols())
	if whiteRatio < 0.5 {
		gocv.BitwiseNot(binary, &binary)
	}

	return binary
}
