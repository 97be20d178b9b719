// Package source loads document manifests produced by the table extraction step.
//
// A manifest describes one planning document: for every page the title text (or an
// image of the title band to OCR), and the table rows with their person name and
// row raster. Relative image paths are resolved against the manifest directory.
//
//	document: planning-mars-2024.pdf
//	pages:
//	  - title: |
//	      Planning du 01/03/2024 au 31/03/2024
//	      ARO - Unité de vie Aromates
//	    rows:
//	      - name: Alice Martin
//	        image: page1_row2.png
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"roster-scan/internal/schedule"

	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk description of a document.
type Manifest struct {
	Document string     `yaml:"document"`
	Pages    []PageSpec `yaml:"pages"`
}

// PageSpec describes one table page.
type PageSpec struct {
	Title      string    `yaml:"title"`
	TitleImage string    `yaml:"title_image,omitempty"`
	Rows       []RowSpec `yaml:"rows"`
}

// RowSpec is one table row after the header.
type RowSpec struct {
	Name  string `yaml:"name"`
	Image string `yaml:"image"`
}

// Page is a resolved page of a document.
type Page struct {
	Index      int
	Title      string
	TitleImage string // absolute path, empty when absent
	Persons    []schedule.Person
	Images     map[int]string // row index -> absolute raster path
}

// Document is a resolved manifest.
type Document struct {
	Name  string // document name, defaults to the manifest file name
	Path  string // manifest path
	Pages []Page
}

// TitleReader reads title text from an image of a title band.
type TitleReader interface {
	ReadTitle(path string) (string, error)
}

// Load reads and resolves a manifest file.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Document{}, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	return Resolve(m, path), nil
}

// Resolve turns a manifest into a Document. Names keep only their first line;
// rows without a name are dropped but keep their row index.
func Resolve(m Manifest, path string) Document {
	dir := filepath.Dir(path)
	name := m.Document
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	doc := Document{Name: name, Path: path, Pages: make([]Page, len(m.Pages))}
	for i, ps := range m.Pages {
		p := Page{
			Index:  i,
			Title:  ps.Title,
			Images: make(map[int]string, len(ps.Rows)),
		}
		if ps.TitleImage != "" {
			p.TitleImage = resolvePath(dir, ps.TitleImage)
		}
		for row, rs := range ps.Rows {
			n := CleanName(rs.Name)
			if n == "" {
				continue
			}
			p.Persons = append(p.Persons, schedule.Person{Name: n, Row: row})
			if rs.Image != "" {
				p.Images[row] = resolvePath(dir, rs.Image)
			}
		}
		doc.Pages[i] = p
	}
	return doc
}

// CleanName keeps the first line of a table cell, trimmed.
func CleanName(s string) string {
	first, _, _ := strings.Cut(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	return strings.TrimSpace(first)
}

func resolvePath(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// ResolveTitles fills empty page titles by reading their title images.
func (d *Document) ResolveTitles(r TitleReader) error {
	for i := range d.Pages {
		p := &d.Pages[i]
		if strings.TrimSpace(p.Title) != "" || p.TitleImage == "" {
			continue
		}
		if r == nil {
			return fmt.Errorf("page %d: title is empty and no title reader is configured", p.Index)
		}
		text, err := r.ReadTitle(p.TitleImage)
		if err != nil {
			return fmt.Errorf("page %d: failed to read title image: %w", p.Index, err)
		}
		p.Title = text
	}
	return nil
}

// NeedsTitleReader reports whether any page has only a title image.
func (d Document) NeedsTitleReader() bool {
	for _, p := range d.Pages {
		if strings.TrimSpace(p.Title) == "" && p.TitleImage != "" {
			return true
		}
	}
	return false
}

// Meta returns the page metadata consumed by the schedule assembler.
func (d Document) Meta() []schedule.PageMeta {
	out := make([]schedule.PageMeta, len(d.Pages))
	for i, p := range d.Pages {
		out[i] = schedule.PageMeta{Index: p.Index, Title: p.Title, Persons: p.Persons}
	}
	return out
}

// Discover expands paths into manifest files. Directories contribute their
// *.yaml and *.yml files, sorted by name.
func Discover(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
				found = append(found, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}
