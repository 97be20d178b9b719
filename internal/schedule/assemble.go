package schedule

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"roster-scan/internal/classify"
	"roster-scan/internal/config"
	"roster-scan/internal/diag"
	"roster-scan/internal/title"
	"roster-scan/pkg/colorutil"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoPages is returned when a document has no pages.
var ErrNoPages = errors.New("document has no pages")

// ErrDateOutOfRange is returned when the selected date is outside the parsed range.
var ErrDateOutOfRange = errors.New("selected date is outside the planning range")

// Exclusion explains why a page contributes nothing to the schedule.
type Exclusion struct {
	Page        int
	ServiceCode string
	Reason      string
	Err         error
}

// Exclusion reasons.
const (
	ReasonUnrecognizedService = "unrecognized service"
	ReasonEmptyRoster         = "empty roster"
	ReasonBadHeading          = "unreadable heading"
)

// PlannedPage is a page that takes part in classification.
type PlannedPage struct {
	PageMeta
	Unit config.Unit
}

// Plan is the date range, day list and participating pages of one document.
type Plan struct {
	Range    title.DateRange
	Days     []Day
	Pages    []PlannedPage
	Excluded []Exclusion
}

// NewPlan parses the date range from the first page's title and selects the pages
// whose service code is configured and whose roster is not empty. All pages of a
// document share the first page's range.
func NewPlan(pages []PageMeta, cfg config.Config) (Plan, error) {
	if len(pages) == 0 {
		return Plan{}, ErrNoPages
	}

	block, err := title.Parse(pages[0].Title)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{Range: block.Range, Days: Days(block.Range, cfg)}
	for _, p := range pages {
		h, err := title.ParseHeading(p.Title)
		if err != nil {
			plan.Excluded = append(plan.Excluded, Exclusion{Page: p.Index, Reason: ReasonBadHeading, Err: err})
			continue
		}
		unit, ok := cfg.Unit(h.ServiceCode)
		if !ok {
			plan.Excluded = append(plan.Excluded, Exclusion{Page: p.Index, ServiceCode: h.ServiceCode, Reason: ReasonUnrecognizedService})
			continue
		}
		if len(p.Persons) == 0 {
			plan.Excluded = append(plan.Excluded, Exclusion{Page: p.Index, ServiceCode: h.ServiceCode, Reason: ReasonEmptyRoster})
			continue
		}
		if unit.Name == "" {
			unit.Name = h.UnitName
		}
		plan.Pages = append(plan.Pages, PlannedPage{PageMeta: p, Unit: unit})
	}
	return plan, nil
}

// Without returns a copy of the plan without the given page indices.
func (p Plan) Without(pages map[int]bool) Plan {
	if len(pages) == 0 {
		return p
	}
	out := p
	out.Pages = nil
	for _, pp := range p.Pages {
		if !pages[pp.Index] {
			out.Pages = append(out.Pages, pp)
		}
	}
	return out
}

// ClassifyFunc classifies the cell of person on a page at a day offset against the
// page unit's palette.
type ClassifyFunc func(ctx context.Context, page PlannedPage, person Person, day int) (classify.Result, error)

// Options controls Build.
type Options struct {
	Document string
	Only     *time.Time   // keep only this date
	Workers  int          // concurrent classifications, 0 = GOMAXPROCS
	Report   *diag.Report // receives MissingCellImage and AmbiguousCell diagnostics
	Logger   *zap.Logger
}

// Build classifies every (page, day, person) cell concurrently and merges the
// results by day, page order, palette order and person order, so the schedule does
// not depend on completion order. Cells that cannot be classified count as no match
// and are reported.
func Build(ctx context.Context, plan Plan, fn ClassifyFunc, opts Options) (Schedule, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	days := plan.Days
	if opts.Only != nil {
		off, ok := plan.Range.Offset(*opts.Only)
		if !ok {
			return Schedule{}, fmt.Errorf("%w: %s not in %s", ErrDateOutOfRange, opts.Only.Format("02/01/2006"), plan.Range)
		}
		days = plan.Days[off : off+1]
	}

	// results[page][day][person]
	results := make([][][]classify.Result, len(plan.Pages))
	for pi, p := range plan.Pages {
		results[pi] = make([][]classify.Result, len(days))
		for di := range days {
			results[pi][di] = make([]classify.Result, len(p.Persons))
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for pi, p := range plan.Pages {
		pi, p := pi, p
		for di, d := range days {
			di, d := di, d
			for qi, person := range p.Persons {
				qi, person := qi, person
				g.Go(func() error {
					if err := gctx.Err(); err != nil {
						return err
					}
					res, err := fn(gctx, p, person, d.Offset)
					if err != nil {
						if ctxErr := gctx.Err(); ctxErr != nil {
							return ctxErr
						}
						opts.Report.Add(diag.Diagnostic{
							Kind: diag.KindMissingCellImage, Document: opts.Document,
							Page: p.Index, Unit: p.Unit.Code, Row: person.Row, Day: d.Offset,
							Err: &diag.MissingCellError{Unit: p.Unit.Code, Row: person.Row, Day: d.Offset, Err: err},
						})
						log.Debug("Cell skipped", zap.Int("page", p.Index), zap.Int("row", person.Row), zap.Int("day", d.Offset), zap.Error(err))
						return nil
					}
					if res.Ambiguous() {
						opts.Report.Add(diag.Diagnostic{
							Kind: diag.KindAmbiguousCell, Document: opts.Document,
							Page: p.Index, Unit: p.Unit.Code, Row: person.Row, Day: d.Offset,
							Message: fmt.Sprintf("%s matches %s (mean color %s)", person.Name,
								strings.Join(res.Labels(p.Unit.Shifts), ", "), colorutil.Hex(res.Mean)),
						})
					}
					results[pi][di][qi] = res
					return nil
				})
			}
		}
	}
	if err := g.Wait(); err != nil {
		return Schedule{}, err
	}

	sched := Schedule{Document: opts.Document, Range: plan.Range, Days: make([]DaySchedule, len(days))}
	for di, d := range days {
		ds := DaySchedule{Date: d.Date, Label: d.Label}
		for pi, p := range plan.Pages {
			ui := unitIndex(&ds, p.Unit.Name)
			for si, shift := range p.Unit.Shifts {
				for qi, person := range p.Persons {
					if contains(results[pi][di][qi].Matches, si) {
						ds.Units[ui].Assignments = append(ds.Units[ui].Assignments, Assignment{
							Person: person.Name,
							Label:  shift.Label,
							Color:  shift.Color,
						})
					}
				}
			}
		}
		sched.Days[di] = ds
	}

	log.Debug("Schedule assembled",
		zap.String("document", opts.Document),
		zap.Int("days", len(sched.Days)),
		zap.Int("pages", len(plan.Pages)))
	return sched, nil
}

// Assemble parses the plan from pages and builds the schedule.
func Assemble(ctx context.Context, pages []PageMeta, cfg config.Config, fn ClassifyFunc, opts Options) (Schedule, error) {
	plan, err := NewPlan(pages, cfg)
	if err != nil {
		return Schedule{}, err
	}
	return Build(ctx, plan, fn, opts)
}

// unitIndex returns the index of the unit entry, creating it in first-seen order.
func unitIndex(ds *DaySchedule, name string) int {
	for i, u := range ds.Units {
		if u.Unit == name {
			return i
		}
	}
	ds.Units = append(ds.Units, UnitShifts{Unit: name, Assignments: []Assignment{}})
	return len(ds.Units) - 1
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
