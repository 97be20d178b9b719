// Command celltest segments one row raster and prints its cells, optionally
// classifying each cell against a unit palette.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"roster-scan/internal/classify"
	"roster-scan/internal/config"
	"roster-scan/internal/raster"
	"roster-scan/internal/segment"
	"roster-scan/pkg/colorutil"

	"gocv.io/x/gocv"
)

func main() {
	imagePath := flag.String("image", "", "Path to a row image (PNG, JPEG, TIFF or BMP)")
	days := flag.Int("days", 0, "Expected number of day cells (0 = do not check)")
	unit := flag.String("unit", "", "Service code whose palette classifies the cells")
	configPath := flag.String("config", "", "Configuration file (default: built-in)")
	maskPath := flag.String("mask", "", "Write the line mask to this PNG")
	kernelHeight := flag.Int("kernel-height", 0, "Override the structuring element height")
	threshold := flag.Float64("threshold", 0, "Override the binarization threshold")
	bottom := flag.Bool("bottom", false, "Scan the bottom mask row")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: celltest -image <path> [-days 31] [-unit ARO] [-config file] [-mask out.png]")
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	img, err := raster.Load(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
		os.Exit(1)
	}
	defer img.Close()
	fmt.Printf("Loaded row image: %dx%d pixels\n", img.Cols(), img.Rows())

	params := segment.ParamsFromConfig(cfg.Segment)
	if *kernelHeight > 0 {
		params = params.WithKernel(params.KernelWidth, *kernelHeight)
	}
	if *threshold > 0 {
		params = params.WithThreshold(float32(*threshold))
	}
	if *bottom {
		params = params.WithScanBottom(true)
	}
	fmt.Printf("\nSegmentation parameters:\n")
	fmt.Printf("  Kernel: %dx%d, iterations %d\n", params.KernelWidth, params.KernelHeight, params.Iterations)
	scan := "top"
	if params.ScanBottom {
		scan = "bottom"
	}
	fmt.Printf("  Threshold: %.0f, scan row: %s\n", params.Threshold, scan)

	if *maskPath != "" {
		mask, err := segment.LineMask(img, params)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Line mask failed: %v\n", err)
			os.Exit(1)
		}
		ok := gocv.IMWrite(*maskPath, mask)
		mask.Close()
		if !ok {
			fmt.Fprintf(os.Stderr, "Failed to write %s\n", *maskPath)
			os.Exit(1)
		}
		fmt.Printf("  Mask written to %s\n", *maskPath)
	}

	bounds, err := segment.Boundaries(img, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Boundary detection failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nBoundaries (%d): %v\n", len(bounds), bounds)

	cells := segment.Split(img, bounds)
	defer segment.CloseAll(cells)
	if *days > 0 && len(cells) != *days {
		fmt.Printf("WARNING: found %d cells, expected %d days\n", len(cells), *days)
	}

	var palette config.Palette
	if *unit != "" {
		u, ok := cfg.Unit(*unit)
		if !ok {
			fmt.Fprintf(os.Stderr, "Unknown unit %q\n", *unit)
			os.Exit(1)
		}
		palette = u.Shifts
	}
	classifier := classify.FromConfig(cfg)

	fmt.Printf("\n%-5s %6s %6s %6s %9s  %s\n", "Day", "X0", "X1", "Width", "Mean", "Shifts")
	fmt.Println(strings.Repeat("-", 60))
	for _, c := range cells {
		res, err := classifier.Classify(c.Mat, palette)
		if err != nil {
			fmt.Printf("%-5d %6d %6d %6d %9s  error: %v\n", c.Day, c.X0, c.X1, c.Width(), "-", err)
			continue
		}
		labels := strings.Join(res.Labels(palette), ", ")
		if res.Ambiguous() {
			labels += " (ambiguous)"
		}
		fmt.Printf("%-5d %6d %6d %6d %9s  %s\n", c.Day, c.X0, c.X1, c.Width(), colorutil.Hex(res.Mean), labels)
	}

	fmt.Printf("\nTotal: %d cells\n", len(cells))
}
