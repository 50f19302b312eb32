package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BadgerOps/mirrorgen/internal/mirror"
	"github.com/BadgerOps/mirrorgen/internal/output"
	"github.com/BadgerOps/mirrorgen/internal/store"
)

// Source yields the raw status document.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]byte, error)
}

// Options describes one generation.
type Options struct {
	Filter       mirror.FilterConfig
	Limit        int // 0 means no limit
	Directive    string
	PathTemplate string

	// GeneratedAt is stamped in the header; zero means now.
	GeneratedAt time.Time

	// OutputPath is where the lines are written: "-" is stdout, "" skips
	// writing and leaves the lines in the Report only.
	OutputPath string

	// Explain collects the reason every parsed record was rejected.
	Explain bool
}

// Rejection explains why a record did not make it into the mirrorlist.
type Rejection struct {
	Index  int
	URL    string
	Reason string
}

// Report summarizes a generation.
type Report struct {
	RunID       string
	Source      string
	GeneratedAt time.Time
	Lines       []string

	Total   int // entries in the feed
	Parsed  int // entries that became records
	Matched int // records passing the filter
	Emitted int // Server lines written
	Skipped []mirror.SkippedRecord

	Rejections []Rejection
}

// Generator runs fetch, parse, filter, rank, limit and format against a
// source and records each run in the store when one is set.
type Generator struct {
	source   Source
	store    *store.Store
	writer   *output.Writer
	keepRuns int
	logger   *slog.Logger
	now      func() time.Time
}

// NewGenerator creates a Generator. st may be nil to disable run history.
func NewGenerator(src Source, st *store.Store, w *output.Writer, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if w == nil {
		w = output.NewWriter(nil)
	}
	return &Generator{
		source: src,
		store:  st,
		writer: w,
		logger: logger,
		now:    time.Now,
	}
}

// SetRetention limits run history to the newest keep runs; 0 keeps all.
func (g *Generator) SetRetention(keep int) {
	g.keepRuns = keep
}

// Source returns the configured feed source.
func (g *Generator) Source() Source {
	return g.source
}

// Generate produces a mirrorlist. Parse and fetch failures are fatal and
// nothing is written; skipped records and an empty selection are not.
func (g *Generator) Generate(ctx context.Context, opts Options) (*Report, error) {
	generatedAt := opts.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = g.now()
	}
	generatedAt = generatedAt.UTC()

	report := &Report{
		Source:      g.source.Name(),
		GeneratedAt: generatedAt,
	}
	run := g.startRun(report, opts)

	lines, err := g.generate(ctx, opts, report)
	if err == nil && opts.OutputPath != "" {
		if werr := g.writer.Write(opts.OutputPath, lines); werr != nil {
			err = fmt.Errorf("writing mirrorlist: %w", werr)
		}
	}
	g.finishRun(run, report, err)

	if err != nil {
		g.logger.Error("generation failed", "source", report.Source, "error", err)
		return nil, err
	}
	report.Lines = lines

	g.logger.Info("mirrorlist generated",
		"source", report.Source,
		"total", report.Total,
		"matched", report.Matched,
		"emitted", report.Emitted,
		"skipped", len(report.Skipped),
	)
	return report, nil
}

func (g *Generator) generate(ctx context.Context, opts Options, report *Report) ([]string, error) {
	data, err := g.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	feed, err := mirror.Parse(data)
	if err != nil {
		return nil, err
	}
	report.Parsed = len(feed.Records)
	report.Total = len(feed.Records) + len(feed.Skipped)
	report.Skipped = append(report.Skipped, feed.Skipped...)

	matched := mirror.Filter(feed.Records, opts.Filter)
	report.Matched = len(matched)
	if opts.Explain {
		report.Rejections = explain(feed.Records, opts.Filter)
	}

	ranked := mirror.Rank(matched)
	if opts.Limit > 0 && len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}

	lines, formatSkipped := mirror.Format(ranked, mirror.FormatOptions{
		Filter:       opts.Filter,
		GeneratedAt:  report.GeneratedAt,
		Directive:    opts.Directive,
		PathTemplate: opts.PathTemplate,
		Source:       report.Source,
		Total:        report.Total,
		Skipped:      len(feed.Skipped),
	})
	report.Skipped = append(report.Skipped, formatSkipped...)
	report.Emitted = len(ranked) - len(formatSkipped)

	for _, s := range report.Skipped {
		g.logger.Debug("record skipped", "index", s.Index, "url", s.URL, "stage", s.Stage, "error", s.Err)
	}
	if len(report.Skipped) > 0 {
		g.logger.Warn("some feed records were skipped", "skipped", len(report.Skipped), "total", report.Total)
	}
	if report.Emitted == 0 {
		g.logger.Warn("no mirrors matched the filters", "filters", opts.Filter.String())
	}

	return lines, nil
}

func explain(records []mirror.Record, cfg mirror.FilterConfig) []Rejection {
	var out []Rejection
	for _, r := range records {
		if reason, ok := mirror.Reject(r, cfg); !ok {
			out = append(out, Rejection{Index: r.Index, URL: r.URL, Reason: reason})
		}
	}
	return out
}

// ============================================================================
// Run history
// ============================================================================

func (g *Generator) startRun(report *Report, opts Options) *store.GenerationRun {
	if g.store == nil {
		return nil
	}
	run := &store.GenerationRun{
		Source:     report.Source,
		Filters:    opts.Filter.String(),
		StartTime:  g.now().UTC(),
		OutputPath: opts.OutputPath,
		Status:     store.StatusRunning,
	}
	if err := g.store.CreateRun(run); err != nil {
		g.logger.Error("failed to record generation run", "error", err)
		return nil
	}
	report.RunID = run.ID
	return run
}

func (g *Generator) finishRun(run *store.GenerationRun, report *Report, genErr error) {
	if run == nil {
		return
	}
	run.EndTime = g.now().UTC()
	run.RecordsTotal = report.Total
	run.RecordsSkipped = len(report.Skipped)
	run.RecordsMatched = report.Matched
	run.MirrorsEmitted = report.Emitted

	switch {
	case genErr != nil:
		run.Status = store.StatusFailed
		run.ErrorMessage = genErr.Error()
	case len(report.Skipped) > 0:
		run.Status = store.StatusPartial
	default:
		run.Status = store.StatusSuccess
	}

	if err := g.store.UpdateRun(run); err != nil {
		g.logger.Error("failed to update generation run", "run_id", run.ID, "error", err)
	}

	if len(report.Skipped) > 0 {
		recs := make([]store.SkippedRecord, 0, len(report.Skipped))
		for _, s := range report.Skipped {
			recs = append(recs, store.SkippedRecord{
				RecordIndex: s.Index,
				URL:         s.URL,
				Stage:       s.Stage,
				Reason:      s.Err.Error(),
			})
		}
		if err := g.store.AddSkippedRecords(run.ID, recs); err != nil {
			g.logger.Error("failed to record skipped records", "run_id", run.ID, "error", err)
		}
	}

	if _, err := g.store.PruneRuns(g.keepRuns); err != nil {
		g.logger.Warn("failed to prune run history", "error", err)
	}
}
