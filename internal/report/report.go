// Package report renders a schedule for distribution.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"roster-scan/internal/schedule"
)

// Renderer writes a schedule in one output format.
type Renderer interface {
	Render(w io.Writer, s schedule.Schedule) error
	Ext() string
}

// FileName returns the output file name for a schedule: planning_<mm>-<yyyy>, or
// planning_<dd>-<mm>-<yyyy> when only one day of a longer range was kept.
func FileName(s schedule.Schedule, ext string) string {
	r := s.Range
	if len(s.Days) == 1 && r.Days() > 1 {
		d := s.Days[0].Date
		return fmt.Sprintf("planning_%02d-%02d-%04d%s", d.Day(), r.Month, r.Year, ext)
	}
	return fmt.Sprintf("planning_%02d-%04d%s", r.Month, r.Year, ext)
}

// WriteFile renders s into dir and returns the written path.
func WriteFile(dir string, r Renderer, s schedule.Schedule) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, FileName(s, r.Ext()))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report: %w", err)
	}
	if err := r.Render(f, s); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// JSON renders the schedule as JSON.
type JSON struct {
	Indent bool
}

// Ext implements Renderer.
func (JSON) Ext() string { return ".json" }

// Render implements Renderer.
func (j JSON) Render(w io.Writer, s schedule.Schedule) error {
	enc := json.NewEncoder(w)
	if j.Indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}
	return nil
}

// ForFormat returns the renderer for "xlsx" or "json".
func ForFormat(format string, units []string) (Renderer, error) {
	switch format {
	case "xlsx", "":
		return XLSX{Units: units}, nil
	case "json":
		return JSON{Indent: true}, nil
	default:
		return nil, fmt.Errorf("unknown report format %q (want xlsx or json)", format)
	}
}
