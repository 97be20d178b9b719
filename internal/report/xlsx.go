package report

import (
	"fmt"
	"io"
	"strings"

	"roster-scan/internal/schedule"
	"roster-scan/pkg/colorutil"

	"github.com/xuri/excelize/v2"
)

var header = []string{"Unité", "Horaires & Personnes", "Stagiaire"}

// XLSX renders one sheet per day: a header row, then one row per unit in Units
// order. Units without a roster that day get an empty row.
type XLSX struct {
	Units []string // unit display names in report order
}

// Ext implements Renderer.
func (XLSX) Ext() string { return ".xlsx" }

// Render implements Renderer.
func (x XLSX) Render(w io.Writer, s schedule.Schedule) error {
	if len(s.Days) == 0 {
		return fmt.Errorf("schedule %s has no days", s.Document)
	}

	f := excelize.NewFile()
	defer f.Close()

	styles, err := newStyles(f)
	if err != nil {
		return err
	}

	for i, day := range s.Days {
		sheet := sheetName(day.Label)
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
				return fmt.Errorf("failed to name sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("failed to add sheet %q: %w", sheet, err)
		}
		if err := x.writeDay(f, sheet, day, styles); err != nil {
			return fmt.Errorf("sheet %q: %w", sheet, err)
		}
	}
	f.SetActiveSheet(0)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// units returns the configured order followed by any unit found only in the schedule.
func (x XLSX) units(day schedule.DaySchedule) []string {
	out := append([]string(nil), x.Units...)
	for _, u := range day.Units {
		found := false
		for _, name := range out {
			if name == u.Unit {
				found = true
				break
			}
		}
		if !found {
			out = append(out, u.Unit)
		}
	}
	return out
}

func (x XLSX) writeDay(f *excelize.File, sheet string, day schedule.DaySchedule, st styles) error {
	if err := f.SetCellValue(sheet, "A1", day.Label); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "A1", st.title); err != nil {
		return err
	}
	if err := f.MergeCell(sheet, "A1", "C1"); err != nil {
		return err
	}

	for col, h := range header {
		cell, _ := excelize.CoordinatesToCellName(col+1, 2)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(sheet, "A2", "C2", st.header); err != nil {
		return err
	}

	for i, unit := range x.units(day) {
		row := i + 3
		a, _ := excelize.CoordinatesToCellName(1, row)
		b, _ := excelize.CoordinatesToCellName(2, row)
		c, _ := excelize.CoordinatesToCellName(3, row)

		if err := f.SetCellValue(sheet, a, unit); err != nil {
			return err
		}
		assignments, _ := day.Unit(unit)
		if len(assignments) > 0 {
			if err := f.SetCellRichText(sheet, b, shiftRuns(assignments)); err != nil {
				return err
			}
		}
		style := st.even
		if i%2 == 1 {
			style = st.odd
		}
		if err := f.SetCellStyle(sheet, a, c, style); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(sheet, "A", "A", 32); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "B", "B", 46); err != nil {
		return err
	}
	return f.SetColWidth(sheet, "C", "C", 24)
}

// shiftRuns renders "<label> - <person>" lines with the label in its shift color.
func shiftRuns(as []schedule.Assignment) []excelize.RichTextRun {
	runs := make([]excelize.RichTextRun, 0, 2*len(as))
	for i, a := range as {
		sep := "\n"
		if i == len(as)-1 {
			sep = ""
		}
		runs = append(runs,
			excelize.RichTextRun{
				Text: a.Label,
				Font: &excelize.Font{Bold: true, Color: strings.TrimPrefix(colorutil.Hex(a.Color.Value()), "#")},
			},
			excelize.RichTextRun{Text: " - " + a.Person + sep},
		)
	}
	return runs
}

// sheetName makes a label safe for use as a worksheet name.
func sheetName(label string) string {
	r := strings.NewReplacer(":", " ", "\\", " ", "/", " ", "?", " ", "*", " ", "[", "(", "]", ")")
	name := r.Replace(label)
	if runes := []rune(name); len(runes) > 31 {
		name = string(runes[:31])
	}
	return name
}

type styles struct {
	title, header, even, odd int
}

func newStyles(f *excelize.File) (styles, error) {
	grid := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	top := &excelize.Alignment{Horizontal: "left", Vertical: "top", WrapText: true}
	fill := func(c string) excelize.Fill {
		return excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{c}}
	}

	var st styles
	var err error
	if st.title, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 16}}); err != nil {
		return st, err
	}
	if st.header, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true}, Fill: fill(strings.TrimPrefix(colorutil.Hex(colorutil.LightGrey), "#")),
		Border: grid, Alignment: top,
	}); err != nil {
		return st, err
	}
	if st.even, err = f.NewStyle(&excelize.Style{Fill: fill("F5F5F5"), Border: grid, Alignment: top}); err != nil {
		return st, err
	}
	if st.odd, err = f.NewStyle(&excelize.Style{Fill: fill("FFFFE0"), Border: grid, Alignment: top}); err != nil {
		return st, err
	}
	return st, nil
}
