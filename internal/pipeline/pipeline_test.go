package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"roster-scan/internal/config"
	"roster-scan/internal/diag"
	"roster-scan/internal/schedule"
	"roster-scan/internal/source"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	red   = color.RGBA{R: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const (
	cellWidth = 10
	rowHeight = 60
	margin    = 3
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Units = []config.Unit{
		{Code: "ARO", Name: "ARO - Aromates", Shifts: config.Palette{
			{Label: "A", Color: config.Color(red)},
			{Label: "B", Color: config.Color(blue)},
		}},
		{Code: "NUI", Name: "NUI - Nuit", Shifts: config.Palette{
			{Label: "N", Color: config.Color(blue)},
		}},
	}
	cfg.DisplayOrder = nil
	return cfg
}

// writeRow writes a row raster with one cell per fill. Cells are separated by
// full-height black lines and painted with a white top and bottom margin.
func writeRow(t *testing.T, dir, name string, fills ...color.RGBA) string {
	t.Helper()
	w := len(fills)*cellWidth + 1
	img := image.NewRGBA(image.Rect(0, 0, w, rowHeight))
	for y := 0; y < rowHeight; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, white)
		}
	}
	for i, fill := range fills {
		for y := margin; y < rowHeight-margin; y++ {
			for x := i*cellWidth + 1; x < (i+1)*cellWidth; x++ {
				img.SetRGBA(x, y, fill)
			}
		}
	}
	for i := 0; i <= len(fills); i++ {
		for y := 0; y < rowHeight; y++ {
			img.SetRGBA(i*cellWidth, y, color.RGBA{A: 255})
		}
	}

	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return p
}

type row struct {
	name  string
	image string
}

type page struct {
	title string
	rows  []row
}

// writeManifest writes a document manifest and returns it resolved.
func writeManifest(t *testing.T, dir, name string, pages ...page) source.Document {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "document: %s\npages:\n", name)
	for _, p := range pages {
		fmt.Fprintf(&b, "  - title: %q\n    rows:\n", p.title)
		for _, r := range p.rows {
			fmt.Fprintf(&b, "      - name: %q\n        image: %q\n", r.name, r.image)
		}
	}
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	doc, err := source.Load(path)
	require.NoError(t, err)
	return doc
}

const twoDays = "Planning du 01/03/2024 au 02/03/2024\n"

func newRunner(t *testing.T, opts Options) *Runner {
	opts.Config = testConfig()
	opts.Logger = zaptest.NewLogger(t)
	if opts.Workers == 0 {
		opts.Workers = 4
	}
	return New(opts)
}

func TestRun_RedThenBlue(t *testing.T) {
	dir := t.TempDir()
	doc := writeManifest(t, dir, "mars", page{
		title: twoDays + "ARO - Unité Aromates",
		rows:  []row{{"Alice", writeRow(t, dir, "alice.png", red, blue)}},
	})

	results, report, err := newRunner(t, Options{}).Run(context.Background(), []source.Document{doc})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Empty(t, report.Items())

	s := results[0].Schedule
	require.Len(t, s.Days, 2)
	assert.Equal(t, "Vendredi 1 Mars 2024", s.Days[0].Label)
	assert.Equal(t, []schedule.UnitShifts{{Unit: "ARO - Aromates", Assignments: []schedule.Assignment{
		{Person: "Alice", Label: "A", Color: config.Color(red)},
	}}}, s.Days[0].Units)
	assert.Equal(t, []schedule.UnitShifts{{Unit: "ARO - Aromates", Assignments: []schedule.Assignment{
		{Person: "Alice", Label: "B", Color: config.Color(blue)},
	}}}, s.Days[1].Units)
}

func TestRun_Idempotent(t *testing.T) {
	dir := t.TempDir()
	doc := writeManifest(t, dir, "mars",
		page{
			title: twoDays + "ARO - Unité Aromates",
			rows: []row{
				{"Alice", writeRow(t, dir, "alice.png", red, white)},
				{"Bob", writeRow(t, dir, "bob.png", blue, red)},
			},
		},
		page{
			title: twoDays + "NUI - Nuit",
			rows:  []row{{"Chloé", writeRow(t, dir, "chloe.png", blue, blue)}},
		},
	)

	first, _, err := newRunner(t, Options{}).Run(context.Background(), []source.Document{doc})
	require.NoError(t, err)
	second, _, err := newRunner(t, Options{Spool: true, SpoolDir: t.TempDir(), Workers: 1}).Run(context.Background(), []source.Document{doc})
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("runs differ (-first +second):\n%s", diff)
	}
	day0 := first[0].Schedule.Days[0]
	aro, ok := day0.Unit("ARO - Aromates")
	require.True(t, ok)
	assert.Equal(t, []schedule.Assignment{
		{Person: "Alice", Label: "A", Color: config.Color(red)},
		{Person: "Bob", Label: "B", Color: config.Color(blue)},
	}, aro)
}

func TestRun_StructureMismatchSkipsPage(t *testing.T) {
	dir := t.TempDir()
	doc := writeManifest(t, dir, "mars",
		page{
			title: twoDays + "ARO - Unité Aromates",
			rows:  []row{{"Alice", writeRow(t, dir, "alice.png", red, blue, red)}},
		},
		page{
			title: twoDays + "NUI - Nuit",
			rows:  []row{{"Bob", writeRow(t, dir, "bob.png", blue, white)}},
		},
	)

	results, report, err := newRunner(t, Options{}).Run(context.Background(), []source.Document{doc})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)

	assert.Equal(t, 1, report.Count(diag.KindStructureMismatch))
	item := report.Items()[0]
	assert.Equal(t, 0, item.Page)
	var sm *diag.StructureMismatchError
	require.True(t, errors.As(item.Err, &sm))
	assert.Equal(t, 3, sm.Found)
	assert.Equal(t, 2, sm.Expected)

	day0 := results[0].Schedule.Days[0]
	_, ok := day0.Unit("ARO - Aromates")
	assert.False(t, ok)
	nui, ok := day0.Unit("NUI - Nuit")
	require.True(t, ok)
	require.Len(t, nui, 1)
	assert.Equal(t, "Bob", nui[0].Person)
}

func TestRun_FailedDocumentDoesNotStopBatch(t *testing.T) {
	dir := t.TempDir()
	bad := writeManifest(t, dir, "bad", page{
		title: "Planning de mars\nARO - Unité Aromates",
		rows:  []row{{"Alice", writeRow(t, dir, "alice.png", red, blue)}},
	})
	good := writeManifest(t, dir, "good", page{
		title: twoDays + "ARO - Unité Aromates",
		rows:  []row{{"Alice", writeRow(t, dir, "alice2.png", red, blue)}},
	})

	results, report, err := newRunner(t, Options{}).Run(context.Background(), []source.Document{bad, good})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].OK())
	var de *diag.DocumentError
	require.True(t, errors.As(results[0].Err, &de))
	assert.Equal(t, "bad", de.Document)
	assert.Equal(t, 1, report.Count(diag.KindDocumentFailed))

	assert.True(t, results[1].OK())
	assert.Len(t, results[1].Schedule.Days, 2)
}

func TestRun_MissingRowImageIsReported(t *testing.T) {
	dir := t.TempDir()
	doc := writeManifest(t, dir, "mars", page{
		title: twoDays + "ARO - Unité Aromates",
		rows: []row{
			{"Alice", filepath.Join(dir, "absent.png")},
			{"Bob", writeRow(t, dir, "bob.png", red, red)},
		},
	})

	results, report, err := newRunner(t, Options{}).Run(context.Background(), []source.Document{doc})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)

	assert.Equal(t, 2, report.Count(diag.KindMissingCellImage))
	for _, d := range report.Items() {
		assert.True(t, errors.Is(d.Err, diag.ErrMissingCell))
		assert.Equal(t, 0, d.Row)
	}
	for _, day := range results[0].Schedule.Days {
		got, ok := day.Unit("ARO - Aromates")
		require.True(t, ok)
		assert.Equal(t, []schedule.Assignment{{Person: "Bob", Label: "A", Color: config.Color(red)}}, got)
	}
}

func TestRun_UnrecognizedServiceIsInformational(t *testing.T) {
	dir := t.TempDir()
	doc := writeManifest(t, dir, "mars",
		page{title: twoDays + "ARO - Unité Aromates", rows: []row{{"Alice", writeRow(t, dir, "alice.png", red, red)}}},
		page{title: twoDays + "XYZ - Inconnu", rows: []row{{"Bob", writeRow(t, dir, "bob.png", red, red)}}},
	)

	results, report, err := newRunner(t, Options{}).Run(context.Background(), []source.Document{doc})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	require.Equal(t, 1, report.Count(diag.KindUnrecognizedService))
	assert.Equal(t, "XYZ", report.Items()[0].Unit)
	assert.Len(t, results[0].Schedule.Days[0].Units, 1)
}

func TestRun_OnlyDate(t *testing.T) {
	dir := t.TempDir()
	doc := writeManifest(t, dir, "mars", page{
		title: twoDays + "ARO - Unité Aromates",
		rows:  []row{{"Alice", writeRow(t, dir, "alice.png", red, blue)}},
	})

	only := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	results, _, err := newRunner(t, Options{Only: &only, Spool: true, SpoolDir: t.TempDir()}).Run(context.Background(), []source.Document{doc})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	require.Len(t, results[0].Schedule.Days, 1)
	assert.Equal(t, "B", results[0].Schedule.Days[0].Units[0].Assignments[0].Label)

	outside := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	results, _, err = newRunner(t, Options{Only: &outside}).Run(context.Background(), []source.Document{doc})
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, schedule.ErrDateOutOfRange)
}

func TestRun_SpoolDirectoryIsRemoved(t *testing.T) {
	dir := t.TempDir()
	spool := t.TempDir()
	bad := writeManifest(t, dir, "bad", page{
		title: twoDays + "ARO - Unité Aromates",
		rows:  []row{{"Alice", writeRow(t, dir, "alice.png", red)}},
	})
	good := writeManifest(t, dir, "good", page{
		title: twoDays + "ARO - Unité Aromates",
		rows:  []row{{"Alice", writeRow(t, dir, "alice2.png", red, blue)}},
	})

	_, _, err := newRunner(t, Options{Spool: true, SpoolDir: spool}).Run(context.Background(), []source.Document{bad, good})
	require.NoError(t, err)

	entries, err := os.ReadDir(spool)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_Canceled(t *testing.T) {
	dir := t.TempDir()
	spool := t.TempDir()
	doc := writeManifest(t, dir, "mars", page{
		title: twoDays + "ARO - Unité Aromates",
		rows:  []row{{"Alice", writeRow(t, dir, "alice.png", red, blue)}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := newRunner(t, Options{Spool: true, SpoolDir: spool}).Run(ctx, []source.Document{doc})
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(spool)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunFiles_UnreadableManifestIsIsolated(t *testing.T) {
	dir := t.TempDir()
	good := writeManifest(t, dir, "good", page{
		title: twoDays + "ARO - Unité Aromates",
		rows:  []row{{"Alice", writeRow(t, dir, "alice.png", red, blue)}},
	})
	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("pages: [\n"), 0o644))

	results, report, err := newRunner(t, Options{}).RunFiles(context.Background(), []string{broken, good.Path})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "broken", results[0].Document)
	assert.Error(t, results[0].Err)
	assert.Equal(t, 1, report.Count(diag.KindDocumentFailed))
	assert.True(t, results[1].OK())
	assert.Equal(t, "good", results[1].Document)
}

func TestRun_PageIndexIndependentOfPosition(t *testing.T) {
	dir := t.TempDir()
	doc := source.Document{
		Name: "built",
		Pages: []source.Page{{
			Index:   3,
			Title:   twoDays + "ARO - Unité Aromates",
			Persons: []schedule.Person{{Name: "Alice", Row: 2}},
			Images:  map[int]string{2: writeRow(t, dir, "alice.png", red, blue)},
		}},
	}

	results, report, err := newRunner(t, Options{}).Run(context.Background(), []source.Document{doc})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.Empty(t, report.Items())

	got, ok := results[0].Schedule.Days[1].Unit("ARO - Aromates")
	require.True(t, ok)
	assert.Equal(t, []schedule.Assignment{{Person: "Alice", Label: "B", Color: config.Color(blue)}}, got)
}

func TestRun_DuplicatePageIndexFailsDocument(t *testing.T) {
	pg := source.Page{Index: 0, Title: twoDays + "ARO - Unité Aromates"}
	doc := source.Document{Name: "dup", Pages: []source.Page{pg, pg}}

	results, report, err := newRunner(t, Options{}).Run(context.Background(), []source.Document{doc})
	require.NoError(t, err)
	assert.ErrorContains(t, results[0].Err, "duplicate page index 0")
	assert.Equal(t, 1, report.Count(diag.KindDocumentFailed))
}

type titles map[string]string

func (tt titles) ReadTitle(path string) (string, error) {
	if s, ok := tt[path]; ok {
		return s, nil
	}
	return "", errors.New("unreadable title")
}

func TestRun_TitleFromImage(t *testing.T) {
	dir := t.TempDir()
	doc := source.Document{
		Name: "scanned",
		Pages: []source.Page{{
			Index:      0,
			TitleImage: "title0.png",
			Persons:    []schedule.Person{{Name: "Alice", Row: 0}},
			Images:     map[int]string{0: writeRow(t, dir, "alice.png", red, blue)},
		}},
	}
	reader := titles{"title0.png": twoDays + "ARO - Unité Aromates"}

	results, _, err := newRunner(t, Options{TitleReader: reader}).Run(context.Background(), []source.Document{doc})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.Len(t, results[0].Schedule.Days, 2)
	assert.Empty(t, doc.Pages[0].Title, "caller's document is left untouched")
}

func TestRun_UnsupportedRowFormatIsReported(t *testing.T) {
	dir := t.TempDir()
	gif := filepath.Join(dir, "alice.gif")
	require.NoError(t, os.WriteFile(gif, []byte("GIF89a"), 0o644))
	doc := writeManifest(t, dir, "mars", page{
		title: twoDays + "ARO - Unité Aromates",
		rows:  []row{{"Alice", gif}},
	})

	results, report, err := newRunner(t, Options{}).Run(context.Background(), []source.Document{doc})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	require.Equal(t, 2, report.Count(diag.KindMissingCellImage))
	for _, d := range report.Items() {
		assert.ErrorContains(t, d.Err, "unsupported raster format")
	}
}
