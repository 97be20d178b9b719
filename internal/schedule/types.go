// Package schedule assembles per-cell classification results into a roster keyed
// by date and unit.
package schedule

import (
	"time"

	"roster-scan/internal/config"
	"roster-scan/internal/title"
)

// Person is a named table row. Row is the zero-based row index in the source
// table and addresses the person's raster; it survives the removal of empty rows.
type Person struct {
	Name string
	Row  int
}

// PageMeta is what the table extraction step delivers for one page.
type PageMeta struct {
	Index   int
	Title   string
	Persons []Person
}

// Assignment is one person working one shift.
type Assignment struct {
	Person string       `json:"person"`
	Label  string       `json:"label"`
	Color  config.Color `json:"color"`
}

// UnitShifts is the ordered list of assignments of one unit on one day.
type UnitShifts struct {
	Unit        string       `json:"unit"`
	Assignments []Assignment `json:"assignments"`
}

// DaySchedule is the roster of one calendar date.
type DaySchedule struct {
	Date  time.Time    `json:"date"`
	Label string       `json:"label"`
	Units []UnitShifts `json:"units"`
}

// Unit returns the assignments of a unit by display name.
func (d DaySchedule) Unit(name string) ([]Assignment, bool) {
	for _, u := range d.Units {
		if u.Unit == name {
			return u.Assignments, true
		}
	}
	return nil, false
}

// Schedule is the full roster built from one source document.
type Schedule struct {
	Document string          `json:"document"`
	Range    title.DateRange `json:"range"`
	Days     []DaySchedule   `json:"days"`
}
