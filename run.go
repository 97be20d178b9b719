package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roster-scan/internal/ocr"
	"roster-scan/internal/pipeline"
	"roster-scan/internal/report"
	"roster-scan/internal/source"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runFlags struct {
	out      string
	format   string
	date     string
	workers  int
	spool    bool
	spoolDir string
	ocrLang  string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [manifest|dir]...",
		Short: "Build rosters for one or more planning documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args, f)
		},
	}

	cmd.Flags().StringVarP(&f.out, "out", "o", ".", "Output directory")
	cmd.Flags().StringVarP(&f.format, "format", "f", "xlsx", "Report format: xlsx or json")
	cmd.Flags().StringVarP(&f.date, "date", "d", "", "Only build this date (dd/mm/yyyy)")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "Concurrent workers (default: config, then CPU count)")
	cmd.Flags().BoolVar(&f.spool, "spool", false, "Stage cell images on disk instead of in memory")
	cmd.Flags().StringVar(&f.spoolDir, "spool-dir", "", "Parent directory for spooled cells (default: system temp)")
	cmd.Flags().StringVar(&f.ocrLang, "ocr-lang", ocr.DefaultLanguage, "Tesseract language for titles given as images")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string, f runFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for _, o := range cfg.Overlaps() {
		logger.Warn("Palette colors overlap",
			zap.String("unit", o.Unit),
			zap.String("first", o.First.Label),
			zap.String("second", o.Second.Label),
			zap.Float64("distance", o.Distance))
	}

	var only *time.Time
	if f.date != "" {
		d, err := time.ParseInLocation("02/01/2006", f.date, time.UTC)
		if err != nil {
			return fmt.Errorf("invalid --date %q: expected dd/mm/yyyy", f.date)
		}
		only = &d
	}

	renderer, err := report.ForFormat(f.format, cfg.UnitOrder())
	if err != nil {
		return err
	}

	paths, err := source.Discover(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no manifests found in %v", args)
	}
	if err := os.MkdirAll(f.out, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	titles := &ocr.Lazy{Lang: f.ocrLang}
	defer func() {
		if err := titles.Close(); err != nil {
			logger.Warn("Failed to close OCR engine", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := pipeline.New(pipeline.Options{
		Config:      cfg,
		Only:        only,
		Workers:     f.workers,
		Spool:       f.spool || f.spoolDir != "",
		SpoolDir:    f.spoolDir,
		TitleReader: titles,
		Logger:      logger,
	})
	results, rep, err := runner.RunFiles(ctx, paths)
	if err != nil {
		return err
	}

	outcomes := make([]report.Outcome, 0, len(results))
	failed := 0
	for _, res := range results {
		o := report.Outcome{Document: res.Document, Err: res.Err}
		if res.OK() {
			o.Days = len(res.Schedule.Days)
			o.Output, o.Err = report.WriteFile(f.out, renderer, res.Schedule)
			if o.Err == nil {
				logger.Info("Report written", zap.String("document", res.Document), zap.String("path", o.Output))
			}
		}
		if o.Err != nil {
			failed++
		}
		outcomes = append(outcomes, o)
	}

	if err := report.Summary(cmd.OutOrStdout(), outcomes, rep.Items()); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d document(s) failed", failed, len(results))
	}
	return nil
}
