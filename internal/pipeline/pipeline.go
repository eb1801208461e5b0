// Package pipeline turns one document into candidate records: text
// conversion and model analysis, each stage served from the staging cache
// when its artifact already exists.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/ai"
	"github.com/spigell/resume-ranker/internal/candidate"
	"github.com/spigell/resume-ranker/internal/converter"
	"github.com/spigell/resume-ranker/internal/logger"
	"github.com/spigell/resume-ranker/internal/staging"
)

// Analyzer turns a prompt into a batch of candidates.
type Analyzer interface {
	Invoke(ctx context.Context, prompt string, schema map[string]any) (candidate.Batch, error)
}

// Outcome is the result of processing one document. A document whose
// processing failed has no records and a non-nil Err.
type Outcome struct {
	Path           string
	Records        []candidate.Record
	TextCached     bool
	AnalysisCached bool
	Err            error
	Elapsed        time.Duration
}

// Skipped reports whether the document produced nothing because of an error.
func (o Outcome) Skipped() bool {
	return o.Err != nil
}

type Pipeline struct {
	conv     converter.Converter
	cache    *staging.Cache
	analyzer Analyzer
	prompts  *ai.PromptBuilder
	schema   map[string]any
	logger   *zap.Logger
}

func New(conv converter.Converter, cache *staging.Cache, analyzer Analyzer, prompts *ai.PromptBuilder, log *zap.Logger) *Pipeline {
	return &Pipeline{
		conv:     conv,
		cache:    cache,
		analyzer: analyzer,
		prompts:  prompts,
		schema:   ai.CandidateSchema(),
		logger:   logger.WithFields(log),
	}
}

// Process never returns an error: failures are reported in Outcome.Err.
func (p *Pipeline) Process(ctx context.Context, path string) (out Outcome) {
	start := time.Now()
	out = Outcome{Path: path}
	log := logger.WithFields(p.logger, logger.DocumentFields(path, "")...)

	defer func() {
		if r := recover(); r != nil {
			out.Records = nil
			out.Err = fmt.Errorf("panic while processing %s: %v", path, r)
		}
		out.Elapsed = time.Since(start)
		if out.Err != nil {
			log.Error("document skipped", zap.Error(out.Err), zap.Duration("elapsed", out.Elapsed))
		}
	}()

	if p.conv == nil || p.cache == nil || p.analyzer == nil || p.prompts == nil {
		out.Err = errors.New("pipeline is not fully configured")
		return out
	}

	text, cached, err := p.text(ctx, path)
	out.TextCached = cached
	if err != nil {
		out.Err = err
		return out
	}
	log.Debug("text stage done", zap.Bool("cached", cached), zap.Int("text_length", len(text)))

	batch, cached, err := p.analysis(ctx, path, text)
	out.AnalysisCached = cached
	if err != nil {
		out.Err = err
		return out
	}

	out.Records = batch.Records()
	log.Info("document analyzed",
		zap.Bool("text_cached", out.TextCached),
		zap.Bool("analysis_cached", out.AnalysisCached),
		zap.Int("candidates", len(out.Records)),
	)
	return out
}

func (p *Pipeline) text(ctx context.Context, path string) (string, bool, error) {
	key, err := p.cache.KeyFor(path, staging.StageText)
	if err != nil {
		return "", false, err
	}
	return staging.GetOrCompute(ctx, p.cache, key, staging.TextCodec{}, func(ctx context.Context) (string, error) {
		return p.conv.Convert(ctx, path)
	})
}

func (p *Pipeline) analysis(ctx context.Context, path, text string) (candidate.Batch, bool, error) {
	key, err := p.cache.KeyFor(path, staging.StageAnalysis)
	if err != nil {
		return candidate.Batch{}, false, err
	}
	return staging.GetOrCompute(ctx, p.cache, key, staging.BatchCodec{}, func(ctx context.Context) (candidate.Batch, error) {
		return p.analyzer.Invoke(ctx, p.prompts.Build(text), p.schema)
	})
}
