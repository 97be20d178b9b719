// Package diag defines the pipeline's error taxonomy and a diagnostic collector.
//
// Page and cell failures never abort a batch. They are recorded in a Report and the
// affected page or cell is left out of the schedule.
package diag

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrMissingCell indicates a cell image could not be read.
var ErrMissingCell = errors.New("missing cell image")

// ErrStructureMismatch indicates a segmented cell count that disagrees with the day count.
var ErrStructureMismatch = errors.New("structure mismatch")

// StructureMismatchError reports a row whose grid lines do not yield one cell per day.
type StructureMismatchError struct {
	Page     int
	Row      int
	Found    int
	Expected int
}

func (e *StructureMismatchError) Error() string {
	return fmt.Sprintf("page %d row %d: found %d cells, expected %d days", e.Page, e.Row, e.Found, e.Expected)
}

// Is lets errors.Is match ErrStructureMismatch.
func (e *StructureMismatchError) Is(target error) bool {
	return target == ErrStructureMismatch
}

// MissingCellError identifies the cell that could not be classified.
type MissingCellError struct {
	Unit string
	Row  int
	Day  int
	Err  error
}

func (e *MissingCellError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("unit %s row %d day %d: %v", e.Unit, e.Row, e.Day, ErrMissingCell)
	}
	return fmt.Sprintf("unit %s row %d day %d: %v: %v", e.Unit, e.Row, e.Day, ErrMissingCell, e.Err)
}

func (e *MissingCellError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrMissingCell.
func (e *MissingCellError) Is(target error) bool {
	return target == ErrMissingCell
}

// DocumentError is fatal for one source document.
type DocumentError struct {
	Document string
	Err      error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %s: %v", e.Document, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// Kind classifies a diagnostic.
type Kind int

const (
	KindStructureMismatch Kind = iota
	KindMissingCellImage
	KindUnrecognizedService
	KindAmbiguousCell
	KindDocumentFailed
)

func (k Kind) String() string {
	switch k {
	case KindStructureMismatch:
		return "StructureMismatch"
	case KindMissingCellImage:
		return "MissingCellImage"
	case KindUnrecognizedService:
		return "UnrecognizedService"
	case KindAmbiguousCell:
		return "AmbiguousCell"
	case KindDocumentFailed:
		return "DocumentFailed"
	default:
		return "Unknown"
	}
}

// Severity returns "info", "warning" or "error".
func (k Kind) Severity() string {
	switch k {
	case KindUnrecognizedService:
		return "info"
	case KindAmbiguousCell:
		return "warning"
	default:
		return "error"
	}
}

// Diagnostic is one recorded event. Page, Row and Day are -1 when not applicable.
type Diagnostic struct {
	Kind     Kind
	Document string
	Page     int
	Unit     string
	Row      int
	Day      int
	Message  string
	Err      error
}

func (d Diagnostic) String() string {
	loc := d.Document
	if d.Page >= 0 {
		loc += fmt.Sprintf(" page %d", d.Page)
	}
	if d.Unit != "" {
		loc += " unit " + d.Unit
	}
	if d.Row >= 0 {
		loc += fmt.Sprintf(" row %d", d.Row)
	}
	if d.Day >= 0 {
		loc += fmt.Sprintf(" day %d", d.Day)
	}
	msg := d.Message
	if msg == "" && d.Err != nil {
		msg = d.Err.Error()
	}
	return fmt.Sprintf("[%s] %s: %s", d.Kind, loc, msg)
}

// Report collects diagnostics from concurrent workers.
type Report struct {
	mu    sync.Mutex
	items []Diagnostic
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{}
}

// Add records a diagnostic. A nil report discards it.
func (r *Report) Add(d Diagnostic) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.items = append(r.items, d)
	r.mu.Unlock()
}

// Items returns the diagnostics sorted by document, page, row, day and kind so
// that output does not depend on worker scheduling.
func (r *Report) Items() []Diagnostic {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	out := make([]Diagnostic, len(r.items))
	copy(out, r.items)
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Document != b.Document {
			return a.Document < b.Document
		}
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		return a.Kind < b.Kind
	})
	return out
}

// Count returns the number of diagnostics of the given kind.
func (r *Report) Count(kind Kind) int {
	n := 0
	for _, d := range r.Items() {
		if d.Kind == kind {
			n++
		}
	}
	return n
}
