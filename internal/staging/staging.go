// Package staging hands segmented cells to the classifier.
//
// A Store lives for exactly one batch run. The memory store keeps cell Mats in
// process; the disk store spools them as PNG files under a run directory. Both
// release everything on Close, which the runner defers so failures clean up too.
package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"roster-scan/internal/diag"

	"gocv.io/x/gocv"
)

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("staging store closed")

// CellKey addresses one cell within a batch.
type CellKey struct {
	Doc  int // document index in the batch
	Page int
	Row  int
	Day  int
}

func (k CellKey) String() string {
	return fmt.Sprintf("doc%d/page%d_row%d_day%d", k.Doc, k.Page, k.Row, k.Day)
}

// Store holds cells between segmentation and classification.
type Store interface {
	// Put stores a cell and takes ownership of the Mat.
	Put(key CellKey, cell gocv.Mat) error
	// View calls fn with the cell stored under key. The Mat is only valid during fn.
	// A cell that is absent or unreadable yields an error matching diag.ErrMissingCell.
	View(key CellKey, fn func(gocv.Mat) error) error
	// Close releases every stored cell.
	Close() error
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	cells  map[CellKey]gocv.Mat
	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{cells: make(map[CellKey]gocv.Mat)}
}

// Put implements Store.
func (m *Memory) Put(key CellKey, cell gocv.Mat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		cell.Close()
		return ErrClosed
	}
	if old, ok := m.cells[key]; ok {
		old.Close()
	}
	m.cells[key] = cell
	return nil
}

// View implements Store.
func (m *Memory) View(key CellKey, fn func(gocv.Mat) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	cell, ok := m.cells[key]
	if !ok {
		return fmt.Errorf("%s: %w", key, diag.ErrMissingCell)
	}
	return fn(cell)
}

// Len returns the number of stored cells.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cells)
}

// Close implements Store.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.cells {
		c.Close()
		delete(m.cells, k)
	}
	m.closed = true
	return nil
}

// Disk is a Store that spools cells to PNG files in a run directory.
type Disk struct {
	mu     sync.Mutex
	dir    string
	closed bool
}

// NewDisk creates a run directory named after runID under parent (the system temp
// directory when parent is empty).
func NewDisk(parent, runID string) (*Disk, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create staging parent: %w", err)
		}
	}
	dir, err := os.MkdirTemp(parent, "roster-scan-"+runID+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Disk{dir: dir}, nil
}

// Dir returns the run directory.
func (d *Disk) Dir() string {
	return d.dir
}

func (d *Disk) path(key CellKey) string {
	return filepath.Join(d.dir, filepath.FromSlash(key.String())+".png")
}

// Put implements Store.
func (d *Disk) Put(key CellKey, cell gocv.Mat) error {
	defer cell.Close()

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}

	p := d.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create cell directory: %w", err)
	}
	if !gocv.IMWrite(p, cell) {
		return fmt.Errorf("failed to write cell %s", key)
	}
	return nil
}

// View implements Store.
func (d *Disk) View(key CellKey, fn func(gocv.Mat) error) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}

	p := d.path(key)
	if _, err := os.Stat(p); err != nil {
		return fmt.Errorf("%s: %w: %v", key, diag.ErrMissingCell, err)
	}
	cell := gocv.IMRead(p, gocv.IMReadColor)
	defer cell.Close()
	if cell.Empty() {
		return fmt.Errorf("%s: %w: unreadable image", key, diag.ErrMissingCell)
	}
	return fn(cell)
}

// Close implements Store. It removes the run directory.
func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := os.RemoveAll(d.dir); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	return nil
}
