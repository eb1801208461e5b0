// Package batch runs the per-document pipeline over many documents and
// merges the results into one ranked, deduplicated candidate list.
package batch

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/resume-ranker/internal/candidate"
	"github.com/spigell/resume-ranker/internal/filtering"
	"github.com/spigell/resume-ranker/internal/pipeline"
)

const DefaultConcurrency = 4

// Processor handles one document. It reports failures in the outcome.
type Processor interface {
	Process(ctx context.Context, path string) pipeline.Outcome
}

type Config struct {
	Concurrency int
	// Steps run after merging and deduplication. A nil slice means DefaultSteps.
	Steps []filtering.Filter
}

// DefaultSteps deduplicates and applies the default score/experience threshold.
func DefaultSteps() []filtering.Filter {
	return []filtering.Filter{
		filtering.NewDedup(),
		filtering.NewThreshold(filtering.DefaultMinScore, filtering.DefaultMinCompanyYears),
	}
}

// Summary holds the counters of one run.
type Summary struct {
	DocumentsTotal     int `json:"documents_total" yaml:"documents_total"`
	DocumentsProcessed int `json:"documents_processed" yaml:"documents_processed"`
	DocumentsSkipped   int `json:"documents_skipped" yaml:"documents_skipped"`
	TextCacheHits      int `json:"text_cache_hits" yaml:"text_cache_hits"`
	AnalysisCacheHits  int `json:"analysis_cache_hits" yaml:"analysis_cache_hits"`
	CandidatesSeen     int `json:"candidates_seen" yaml:"candidates_seen"`
	DuplicatesRemoved  int `json:"duplicates_removed" yaml:"duplicates_removed"`
	FilteredOut        int `json:"filtered_out" yaml:"filtered_out"`
	Ranked             int `json:"ranked" yaml:"ranked"`
}

// Skip names a document that produced nothing and why.
type Skip struct {
	Path  string `json:"path" yaml:"path"`
	Error string `json:"error" yaml:"error"`
}

// Ranking is the pure result of merging and ranking records.
type Ranking struct {
	Candidates []candidate.Record
	Steps      []filtering.Report
}

// Result is everything a run produced.
type Result struct {
	Candidates []candidate.Record
	Summary    Summary
	Steps      []filtering.Report
	Skipped    []Skip
	Outcomes   []pipeline.Outcome
	Elapsed    time.Duration
}

type Aggregator struct {
	proc   Processor
	cfg    Config
	logger *zap.Logger
}

func New(proc Processor, cfg Config, logger *zap.Logger) *Aggregator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Steps == nil {
		cfg.Steps = DefaultSteps()
	}
	cfg.Steps = filtering.WithDedup(cfg.Steps)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{proc: proc, cfg: cfg, logger: logger}
}

// Run processes every path with bounded concurrency and ranks the merged
// records. Document failures are isolated and counted; the only error is a
// cancelled or expired context, or a filter step that cannot be prepared.
func (a *Aggregator) Run(ctx context.Context, paths []string) (*Result, error) {
	if err := filtering.Validate(a.cfg.Steps); err != nil {
		return nil, fmt.Errorf("prepare ranking steps: %w", err)
	}

	start := time.Now()
	outcomes := make([]pipeline.Outcome, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)

	for idx, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[idx] = pipeline.Outcome{Path: path, Err: err}
				return nil
			}
			outcomes[idx] = a.proc.Process(gctx, path)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch run interrupted: %w", err)
	}

	result := &Result{Outcomes: outcomes}
	var merged []candidate.Record
	for _, out := range outcomes {
		result.Summary.DocumentsTotal++
		if out.TextCached {
			result.Summary.TextCacheHits++
		}
		if out.AnalysisCached {
			result.Summary.AnalysisCacheHits++
		}
		if out.Skipped() {
			result.Summary.DocumentsSkipped++
			result.Skipped = append(result.Skipped, Skip{Path: out.Path, Error: out.Err.Error()})
			continue
		}
		result.Summary.DocumentsProcessed++
		merged = append(merged, out.Records...)
	}

	ranking := Rank(merged, a.cfg.Steps)
	result.Candidates = ranking.Candidates
	result.Steps = ranking.Steps
	result.Summary.CandidatesSeen = len(merged)
	result.Summary.Ranked = len(ranking.Candidates)
	for _, r := range ranking.Steps {
		if r.Name == filtering.DedupName {
			result.Summary.DuplicatesRemoved += r.Step.Dropped
			continue
		}
		result.Summary.FilteredOut += r.Step.Dropped
	}
	result.Elapsed = time.Since(start)

	filtering.Log(a.logger, a.cfg.Steps, ranking.Steps)
	for _, s := range result.Skipped {
		a.logger.Warn("document skipped", zap.String("document", s.Path), zap.String("error", s.Error))
	}
	a.logger.Info("batch completed",
		zap.Int("documents", result.Summary.DocumentsTotal),
		zap.Int("processed", result.Summary.DocumentsProcessed),
		zap.Int("skipped", result.Summary.DocumentsSkipped),
		zap.Int("candidates", result.Summary.CandidatesSeen),
		zap.Int("duplicates", result.Summary.DuplicatesRemoved),
		zap.Int("filtered", result.Summary.FilteredOut),
		zap.Int("ranked", result.Summary.Ranked),
		zap.Duration("elapsed", result.Elapsed),
	)

	return result, nil
}

// Rank deduplicates records, applies steps in their given order and sorts the
// survivors by score, then company years, both descending. Ties keep input
// order. Dedup always runs first, even when steps omit it.
func Rank(records []candidate.Record, steps []filtering.Filter) Ranking {
	kept, reports := filtering.Run(filtering.WithDedup(steps), slices.Clone(records))
	kept = slices.Clone(kept)
	slices.SortStableFunc(kept, compareRecords)
	if kept == nil {
		kept = []candidate.Record{}
	}
	return Ranking{Candidates: kept, Steps: reports}
}

func compareRecords(a, b candidate.Record) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	return cmp.Compare(b.CompanyExperienceYears, a.CompanyExperienceYears)
}
