// Package pipeline runs a batch of planning documents through segmentation,
// classification and schedule assembly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"roster-scan/internal/classify"
	"roster-scan/internal/config"
	"roster-scan/internal/diag"
	"roster-scan/internal/raster"
	"roster-scan/internal/schedule"
	"roster-scan/internal/segment"
	"roster-scan/internal/source"
	"roster-scan/internal/staging"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options configures a Runner.
type Options struct {
	Config      config.Config
	Only        *time.Time         // keep a single date
	Workers     int                // 0 = Config.Workers, then GOMAXPROCS
	Spool       bool               // stage cells on disk instead of in memory
	SpoolDir    string             // parent of the run directory when spooling
	TitleReader source.TitleReader // reads titles delivered as images
	Logger      *zap.Logger
}

// Result is the outcome for one document.
type Result struct {
	Document string
	Path     string
	Schedule schedule.Schedule
	Err      error // *diag.DocumentError when the document failed
}

// OK reports whether the document produced a schedule.
func (r Result) OK() bool {
	return r.Err == nil
}

// Runner processes batches of documents.
type Runner struct {
	opts       Options
	log        *zap.Logger
	classifier classify.Classifier
	params     segment.Params
	workers    int
}

// New creates a Runner.
func New(opts Options) *Runner {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = opts.Config.Workers
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Runner{
		opts:       opts,
		log:        log,
		classifier: classify.FromConfig(opts.Config),
		params:     segment.ParamsFromConfig(opts.Config.Segment),
		workers:    workers,
	}
}

// Run processes every document. A failing document is recorded in its Result and
// the report; the batch continues. The returned error is only set when staging
// could not be created or ctx was canceled. Staged cells are released before Run
// returns on every path.
func (r *Runner) Run(ctx context.Context, docs []source.Document) ([]Result, *diag.Report, error) {
	return r.run(ctx, len(docs), func(i int) (source.Document, error) {
		return docs[i], nil
	})
}

// RunFiles loads each manifest and processes it like Run. A manifest that cannot
// be loaded is a failed document.
func (r *Runner) RunFiles(ctx context.Context, paths []string) ([]Result, *diag.Report, error) {
	return r.run(ctx, len(paths), func(i int) (source.Document, error) {
		doc, err := source.Load(paths[i])
		if err != nil {
			name := strings.TrimSuffix(filepath.Base(paths[i]), filepath.Ext(paths[i]))
			return source.Document{Name: name, Path: paths[i]}, err
		}
		return doc, nil
	})
}

func (r *Runner) run(ctx context.Context, n int, load func(int) (source.Document, error)) (results []Result, report *diag.Report, err error) {
	runID := uuid.NewString()
	log := r.log.With(zap.String("run", runID))
	report = diag.NewReport()

	store, err := r.newStore(runID)
	if err != nil {
		return nil, report, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			log.Warn("Failed to release staging", zap.Error(cerr))
			if err == nil {
				err = cerr
			}
		}
	}()

	log.Info("Batch started", zap.Int("documents", n), zap.Int("workers", r.workers))
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return results, report, err
		}
		doc, derr := load(i)
		res := Result{Document: doc.Name, Path: doc.Path}
		if derr == nil {
			var sched schedule.Schedule
			sched, derr = r.runDocument(ctx, i, doc, store, report, log.With(zap.String("document", doc.Name)))
			if errors.Is(derr, context.Canceled) || errors.Is(derr, context.DeadlineExceeded) {
				return results, report, derr
			}
			res.Schedule = sched
		}
		if derr != nil {
			res.Err = &diag.DocumentError{Document: doc.Name, Err: derr}
			res.Schedule = schedule.Schedule{}
			report.Add(diag.Diagnostic{Kind: diag.KindDocumentFailed, Document: doc.Name, Page: -1, Row: -1, Day: -1, Err: res.Err})
			log.Error("Document failed", zap.String("document", doc.Name), zap.Error(derr))
		}
		results = append(results, res)
	}
	log.Info("Batch finished", zap.Int("documents", len(results)), zap.Int("diagnostics", len(report.Items())))
	return results, report, nil
}

func (r *Runner) newStore(runID string) (staging.Store, error) {
	if !r.opts.Spool {
		return staging.NewMemory(), nil
	}
	d, err := staging.NewDisk(r.opts.SpoolDir, runID)
	if err != nil {
		return nil, err
	}
	r.log.Debug("Spooling cells", zap.String("dir", d.Dir()))
	return d, nil
}

// rowKey identifies a person row of a page.
type rowKey struct{ page, row int }

func (r *Runner) runDocument(ctx context.Context, docIdx int, doc source.Document, store staging.Store, report *diag.Report, log *zap.Logger) (schedule.Schedule, error) {
	pages := make(map[int]source.Page, len(doc.Pages))
	for _, pg := range doc.Pages {
		if _, dup := pages[pg.Index]; dup {
			return schedule.Schedule{}, fmt.Errorf("duplicate page index %d", pg.Index)
		}
		pages[pg.Index] = pg
	}

	if doc.NeedsTitleReader() {
		log.Debug("Reading page titles from images")
		doc.Pages = slices.Clone(doc.Pages)
		if err := doc.ResolveTitles(r.opts.TitleReader); err != nil {
			return schedule.Schedule{}, err
		}
	}

	plan, err := schedule.NewPlan(doc.Meta(), r.opts.Config)
	if err != nil {
		return schedule.Schedule{}, err
	}
	r.reportExclusions(doc.Name, plan, report, log)

	keepDay := func(int) bool { return true }
	if r.opts.Only != nil {
		off, ok := plan.Range.Offset(*r.opts.Only)
		if !ok {
			return schedule.Schedule{}, fmt.Errorf("%w: %s not in %s", schedule.ErrDateOutOfRange, r.opts.Only.Format("02/01/2006"), plan.Range)
		}
		keepDay = func(d int) bool { return d == off }
	}

	var (
		mu      sync.Mutex
		failed  = make(map[int]bool)
		rowErrs = make(map[rowKey]error)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, p := range plan.Pages {
		p := p
		page := pages[p.Index]
		g.Go(func() error {
			for _, person := range page.Persons {
				if err := gctx.Err(); err != nil {
					return err
				}
				err := r.stageRow(docIdx, page, person.Row, plan.Range.Days(), keepDay, store)
				if err == nil {
					continue
				}
				var sm *diag.StructureMismatchError
				if errors.As(err, &sm) {
					report.Add(diag.Diagnostic{
						Kind: diag.KindStructureMismatch, Document: doc.Name,
						Page: page.Index, Unit: p.Unit.Code, Row: person.Row, Day: -1, Err: err,
					})
					log.Warn("Page skipped", zap.Int("page", page.Index), zap.Error(err))
					mu.Lock()
					failed[page.Index] = true
					mu.Unlock()
					return nil
				}
				log.Warn("Row unavailable", zap.Int("page", page.Index), zap.Int("row", person.Row), zap.Error(err))
				mu.Lock()
				rowErrs[rowKey{page.Index, person.Row}] = err
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return schedule.Schedule{}, err
	}

	classifyCell := func(_ context.Context, p schedule.PlannedPage, person schedule.Person, day int) (classify.Result, error) {
		if err := rowErrs[rowKey{p.Index, person.Row}]; err != nil {
			return classify.Result{}, fmt.Errorf("%w: %v", diag.ErrMissingCell, err)
		}
		var res classify.Result
		key := staging.CellKey{Doc: docIdx, Page: p.Index, Row: person.Row, Day: day}
		err := store.View(key, func(cell gocv.Mat) error {
			var cerr error
			res, cerr = r.classifier.Classify(cell, p.Unit.Shifts)
			return cerr
		})
		return res, err
	}

	return schedule.Build(ctx, plan.Without(failed), classifyCell, schedule.Options{
		Document: doc.Name,
		Only:     r.opts.Only,
		Workers:  r.workers,
		Report:   report,
		Logger:   log,
	})
}

// stageRow loads and segments one row raster and stages the kept day cells.
func (r *Runner) stageRow(docIdx int, page source.Page, row, days int, keepDay func(int) bool, store staging.Store) error {
	path, ok := page.Images[row]
	if !ok {
		return fmt.Errorf("no raster for row %d", row)
	}
	mat, err := raster.Load(path)
	if err != nil {
		return err
	}
	rr := &raster.Row{Page: page.Index, Index: row, Path: path, Mat: mat}
	defer rr.Close()

	cells, err := segment.SegmentRow(rr, days, r.params)
	if err != nil {
		return err
	}
	for i := range cells {
		if !keepDay(cells[i].Day) {
			cells[i].Close()
			continue
		}
		key := staging.CellKey{Doc: docIdx, Page: page.Index, Row: row, Day: cells[i].Day}
		if err := store.Put(key, cells[i].Mat); err != nil {
			segment.CloseAll(cells[i+1:])
			return fmt.Errorf("failed to stage %s: %w", key, err)
		}
	}
	return nil
}

func (r *Runner) reportExclusions(doc string, plan schedule.Plan, report *diag.Report, log *zap.Logger) {
	for _, ex := range plan.Excluded {
		switch ex.Reason {
		case schedule.ReasonEmptyRoster:
			log.Debug("Page has no roster", zap.Int("page", ex.Page), zap.String("service", ex.ServiceCode))
		default:
			report.Add(diag.Diagnostic{
				Kind: diag.KindUnrecognizedService, Document: doc,
				Page: ex.Page, Unit: ex.ServiceCode, Row: -1, Day: -1,
				Message: ex.Reason, Err: ex.Err,
			})
			log.Debug("Page excluded", zap.Int("page", ex.Page), zap.String("service", ex.ServiceCode), zap.String("reason", ex.Reason))
		}
	}
}
