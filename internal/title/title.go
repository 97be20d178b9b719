// Package title parses the title block printed above each planning table.
//
// The block ends with two meaningful lines:
//
//	Planning du 01/03/2024 au 31/03/2024
//	ARO - Unité de vie Aromates
//
// The last line is the heading: the service code followed by the unit's display text.
// The line before it carries the date range as two dd/mm/yyyy tokens; the words around
// them are locale-specific and ignored.
package title

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var dateToken = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)

// DateRange is an inclusive range of days within one month.
type DateRange struct {
	StartDay int `json:"start_day"`
	EndDay   int `json:"end_day"`
	Month    int `json:"month"` // 1-12
	Year     int `json:"year"`
}

// Days returns the number of days in the range.
func (r DateRange) Days() int {
	return r.EndDay - r.StartDay + 1
}

// Date returns the calendar date at a zero-based day offset.
func (r DateRange) Date(offset int) time.Time {
	return time.Date(r.Year, time.Month(r.Month), r.StartDay+offset, 0, 0, 0, 0, time.UTC)
}

// Offset returns the day offset of d within the range.
func (r DateRange) Offset(d time.Time) (int, bool) {
	if d.Year() != r.Year || int(d.Month()) != r.Month {
		return 0, false
	}
	if d.Day() < r.StartDay || d.Day() > r.EndDay {
		return 0, false
	}
	return d.Day() - r.StartDay, true
}

func (r DateRange) String() string {
	return fmt.Sprintf("%02d/%02d/%04d-%02d/%02d/%04d", r.StartDay, r.Month, r.Year, r.EndDay, r.Month, r.Year)
}

// Heading is the service code and display text of a table.
type Heading struct {
	ServiceCode string
	UnitName    string // full heading line, e.g. "ARO - Unité de vie Aromates"
}

// Block is a fully parsed title block.
type Block struct {
	Heading
	Range DateRange
}

// ParseError locates a title that does not follow the grammar. Line is 1-based
// within the title text, 0 when the title has no usable lines.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("title: %s", e.Reason)
	}
	return fmt.Sprintf("title line %d %q: %s", e.Line, e.Text, e.Reason)
}

type line struct {
	num  int
	text string
}

// lines returns the non-blank lines of a title with their 1-based positions.
func lines(text string) []line {
	var out []line
	for i, l := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if t := strings.TrimSpace(l); t != "" {
			out = append(out, line{num: i + 1, text: t})
		}
	}
	return out
}

// Parse parses the heading and date range of a title block.
func Parse(text string) (Block, error) {
	ls := lines(text)
	if len(ls) < 2 {
		return Block{}, &ParseError{Reason: fmt.Sprintf("expected a date line and a heading line, found %d line(s)", len(ls))}
	}

	h, err := parseHeading(ls[len(ls)-1])
	if err != nil {
		return Block{}, err
	}
	r, err := parseRange(ls[len(ls)-2])
	if err != nil {
		return Block{}, err
	}
	return Block{Heading: h, Range: r}, nil
}

// ParseHeading parses only the last line of a title block.
func ParseHeading(text string) (Heading, error) {
	ls := lines(text)
	if len(ls) == 0 {
		return Heading{}, &ParseError{Reason: "empty title"}
	}
	return parseHeading(ls[len(ls)-1])
}

func parseHeading(l line) (Heading, error) {
	fields := strings.Fields(l.text)
	if len(fields) == 0 {
		return Heading{}, &ParseError{Line: l.num, Text: l.text, Reason: "missing service code"}
	}
	return Heading{ServiceCode: fields[0], UnitName: strings.Join(fields, " ")}, nil
}

func parseRange(l line) (DateRange, error) {
	m := dateToken.FindAllStringSubmatch(l.text, -1)
	if len(m) != 2 {
		return DateRange{}, &ParseError{Line: l.num, Text: l.text, Reason: fmt.Sprintf("expected 2 dd/mm/yyyy dates, found %d", len(m))}
	}

	start, err := parseDate(l, m[0])
	if err != nil {
		return DateRange{}, err
	}
	end, err := parseDate(l, m[1])
	if err != nil {
		return DateRange{}, err
	}

	if start.Year() != end.Year() || start.Month() != end.Month() {
		return DateRange{}, &ParseError{Line: l.num, Text: l.text, Reason: "range spans more than one month"}
	}
	if end.Before(start) {
		return DateRange{}, &ParseError{Line: l.num, Text: l.text, Reason: "end date is before start date"}
	}

	return DateRange{
		StartDay: start.Day(),
		EndDay:   end.Day(),
		Month:    int(start.Month()),
		Year:     start.Year(),
	}, nil
}

// parseDate validates a dd/mm/yyyy match as a real calendar day.
func parseDate(l line, m []string) (time.Time, error) {
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	if month < 1 || month > 12 {
		return time.Time{}, &ParseError{Line: l.num, Text: l.text, Reason: fmt.Sprintf("invalid month in %s", m[0])}
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (31/02 -> 02/03); reject anything it had to move.
	if day < 1 || t.Day() != day || int(t.Month()) != month {
		return time.Time{}, &ParseError{Line: l.num, Text: l.text, Reason: fmt.Sprintf("invalid day in %s", m[0])}
	}
	return t, nil
}
