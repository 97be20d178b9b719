// Package config holds the palette, calendar and detection settings for a run.
//
// Everything that changes with a planning revision (reference colors, unit names,
// month and weekday tables, thresholds) lives here as data. Files are YAML or TOML,
// selected by extension, and are decoded on top of the embedded defaults.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"

	"roster-scan/pkg/colorutil"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Color is a reference color written as "#RRGGBB" in config files.
type Color color.RGBA

// Value returns the color as image/color RGBA.
func (c Color) Value() color.RGBA { return color.RGBA(c) }

// MarshalText implements encoding.TextMarshaler.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(colorutil.Hex(color.RGBA(c))), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Color) UnmarshalText(text []byte) error {
	v, err := colorutil.ParseHex(string(text))
	if err != nil {
		return err
	}
	*c = Color(v)
	return nil
}

// Shift is one recognizable shift type: a time-range label and its cell color.
type Shift struct {
	Label string `yaml:"label" toml:"label" json:"label"`
	Color Color  `yaml:"color" toml:"color" json:"color"`
}

// Palette is the ordered list of shifts recognized for one service code.
type Palette []Shift

// Unit describes a service unit: the code found in page titles, the name used in
// reports, and its shift palette.
type Unit struct {
	Code   string  `yaml:"code" toml:"code"`
	Name   string  `yaml:"name" toml:"name"`
	Shifts Palette `yaml:"shifts" toml:"shifts"`
}

// Segment configures vertical grid-line detection.
type Segment struct {
	KernelWidth  int    `yaml:"kernel_width" toml:"kernel_width"`
	KernelHeight int    `yaml:"kernel_height" toml:"kernel_height"`
	Iterations   int    `yaml:"iterations" toml:"iterations"`
	Threshold    int    `yaml:"threshold" toml:"threshold"`
	ScanRow      string `yaml:"scan_row" toml:"scan_row"` // "top" or "bottom"
}

// Config is the full configuration surface of a run.
type Config struct {
	Tolerance      float64  `yaml:"tolerance" toml:"tolerance"`
	MinMatchPixels int      `yaml:"min_match_pixels" toml:"min_match_pixels"`
	Workers        int      `yaml:"workers" toml:"workers"` // 0 = GOMAXPROCS
	Segment        Segment  `yaml:"segment" toml:"segment"`
	Months         []string `yaml:"months" toml:"months"`
	Weekdays       []string `yaml:"weekdays" toml:"weekdays"` // Sunday first, as time.Weekday
	Units          []Unit   `yaml:"units" toml:"units"`
	DisplayOrder   []string `yaml:"display_order" toml:"display_order"`
}

// Default returns the embedded default configuration.
func Default() Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	return cfg
}

// Load reads a YAML (.yaml, .yml) or TOML (.toml) file over the defaults and validates it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var keys map[string]any
		if err = toml.Unmarshal(data, &keys); err == nil {
			cfg.resetLists(keys)
			dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
			err = dec.Decode(&cfg)
		}
	case ".yaml", ".yml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty or comment-only document has no overrides.
		if err = dec.Decode(&cfg); errors.Is(err, io.EOF) {
			err = nil
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// resetLists clears the list settings present in a TOML document. Array tables
// append to an existing slice, so defaults would otherwise survive.
func (c *Config) resetLists(keys map[string]any) {
	if _, ok := keys["units"]; ok {
		c.Units = nil
	}
	if _, ok := keys["months"]; ok {
		c.Months = nil
	}
	if _, ok := keys["weekdays"]; ok {
		c.Weekdays = nil
	}
	if _, ok := keys["display_order"]; ok {
		c.DisplayOrder = nil
	}
}

// Validate checks structural constraints on the configuration.
func (c Config) Validate() error {
	if c.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %v", c.Tolerance)
	}
	if c.MinMatchPixels < 0 {
		return fmt.Errorf("min_match_pixels must not be negative, got %d", c.MinMatchPixels)
	}
	if len(c.Months) != 12 {
		return fmt.Errorf("months must have 12 entries, got %d", len(c.Months))
	}
	if len(c.Weekdays) != 7 {
		return fmt.Errorf("weekdays must have 7 entries, got %d", len(c.Weekdays))
	}
	if c.Segment.KernelWidth < 1 || c.Segment.KernelHeight < 1 || c.Segment.Iterations < 1 {
		return fmt.Errorf("segment kernel and iterations must be at least 1")
	}
	if c.Segment.Threshold < 0 || c.Segment.Threshold > 255 {
		return fmt.Errorf("segment threshold must be within 0-255, got %d", c.Segment.Threshold)
	}
	switch c.Segment.ScanRow {
	case "top", "bottom":
	default:
		return fmt.Errorf("segment scan_row must be top or bottom, got %q", c.Segment.ScanRow)
	}

	seen := make(map[string]bool, len(c.Units))
	for _, u := range c.Units {
		if u.Code == "" {
			return fmt.Errorf("unit with empty code")
		}
		if seen[u.Code] {
			return fmt.Errorf("duplicate unit code %q", u.Code)
		}
		seen[u.Code] = true
		for i, s := range u.Shifts {
			if s.Label == "" {
				return fmt.Errorf("unit %s: shift %d has no label", u.Code, i)
			}
		}
	}
	for _, code := range c.DisplayOrder {
		if !seen[code] {
			return fmt.Errorf("display_order references unknown unit %q", code)
		}
	}
	return nil
}

// Unit returns the configured unit for a service code.
func (c Config) Unit(code string) (Unit, bool) {
	for _, u := range c.Units {
		if u.Code == code {
			return u, true
		}
	}
	return Unit{}, false
}

// DisplayName returns the report name of a unit, falling back to the code.
func (c Config) DisplayName(code string) string {
	if u, ok := c.Unit(code); ok && u.Name != "" {
		return u.Name
	}
	return code
}

// UnitOrder returns display names in report order. Without an explicit
// display_order the order of the units list is used.
func (c Config) UnitOrder() []string {
	codes := c.DisplayOrder
	if len(codes) == 0 {
		for _, u := range c.Units {
			codes = append(codes, u.Code)
		}
	}
	names := make([]string, len(codes))
	for i, code := range codes {
		names[i] = c.DisplayName(code)
	}
	return names
}

// Overlap reports two shifts of a palette whose colors are within twice the
// tolerance of each other, so one pixel can match both.
type Overlap struct {
	Unit     string
	First    Shift
	Second   Shift
	Distance float64
}

// Overlaps lists palette entries close enough that a single cell could match both.
func (c Config) Overlaps() []Overlap {
	var out []Overlap
	for _, u := range c.Units {
		for i := 0; i < len(u.Shifts); i++ {
			for j := i + 1; j < len(u.Shifts); j++ {
				d := colorutil.Distance(u.Shifts[i].Color.Value(), u.Shifts[j].Color.Value())
				if d < 2*c.Tolerance {
					out = append(out, Overlap{Unit: u.Code, First: u.Shifts[i], Second: u.Shifts[j], Distance: d})
				}
			}
		}
	}
	return out
}
