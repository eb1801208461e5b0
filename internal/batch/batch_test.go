package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/candidate"
	"github.com/spigell/resume-ranker/internal/filtering"
	"github.com/spigell/resume-ranker/internal/pipeline"
)

func rec(t *testing.T, name string, years, score int) candidate.Record {
	t.Helper()
	r, err := candidate.New(name, years, score, "Relevant experience described in resume.")
	require.NoError(t, err)
	return r
}

func names(records []candidate.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Name)
	}
	return out
}

type fakeProcessor struct {
	outcomes map[string]pipeline.Outcome
	delays   map[string]time.Duration

	mu       sync.Mutex
	seen     []string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeProcessor) Process(ctx context.Context, path string) pipeline.Outcome {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.seen = append(f.seen, path)
	f.mu.Unlock()

	if d := f.delays[path]; d > 0 {
		time.Sleep(d)
	}
	out := f.outcomes[path]
	out.Path = path
	return out
}

func TestRankDedupsFirstSeenAndSorts(t *testing.T) {
	records := []candidate.Record{
		rec(t, "Alice", 2, 5),
		rec(t, "Bob", 3, 7),
		rec(t, "alice", 5, 9),
	}

	ranking := Rank(records, []filtering.Filter{filtering.NewDedup()})
	require.Len(t, ranking.Candidates, 2)
	assert.Equal(t, []string{"Bob", "Alice"}, names(ranking.Candidates))
	assert.Equal(t, 5, ranking.Candidates[1].Score)
	require.Len(t, ranking.Steps, 1)
	assert.Equal(t, 1, ranking.Steps[0].Step.Dropped)
}

func TestRankOrdersByScoreThenYears(t *testing.T) {
	records := []candidate.Record{
		rec(t, "A", 2, 7),
		rec(t, "B", 5, 9),
		rec(t, "C", 3, 7),
	}

	ranking := Rank(records, []filtering.Filter{filtering.NewDedup(), filtering.NewThreshold(6, 1)})
	assert.Equal(t, []string{"B", "C", "A"}, names(ranking.Candidates))
}

func TestRankIsStableOnTies(t *testing.T) {
	records := []candidate.Record{
		rec(t, "First", 2, 7),
		rec(t, "Second", 2, 7),
		rec(t, "Third", 2, 7),
	}

	for range 5 {
		ranking := Rank(records, nil)
		assert.Equal(t, []string{"First", "Second", "Third"}, names(ranking.Candidates))
	}
}

func TestRankEmptyInput(t *testing.T) {
	ranking := Rank(nil, DefaultSteps())
	assert.NotNil(t, ranking.Candidates)
	assert.Empty(t, ranking.Candidates)
}

func TestRunIsolatesFailures(t *testing.T) {
	proc := &fakeProcessor{outcomes: map[string]pipeline.Outcome{
		"a.pdf": {Records: []candidate.Record{rec(t, "Alice", 3, 8)}},
		"b.pdf": {Err: errors.New("conversion failed")},
		"c.pdf": {Records: []candidate.Record{rec(t, "Carol", 2, 9), rec(t, "Dan", 0, 9)}, AnalysisCached: true, TextCached: true},
	}}

	agg := New(proc, Config{Concurrency: 2}, zap.NewNop())
	res, err := agg.Run(context.Background(), []string{"a.pdf", "b.pdf", "c.pdf"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Carol", "Alice"}, names(res.Candidates))
	assert.Equal(t, Summary{
		DocumentsTotal:     3,
		DocumentsProcessed: 2,
		DocumentsSkipped:   1,
		TextCacheHits:      1,
		AnalysisCacheHits:  1,
		CandidatesSeen:     3,
		DuplicatesRemoved:  0,
		FilteredOut:        1,
		Ranked:             2,
	}, res.Summary)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "b.pdf", res.Skipped[0].Path)
	assert.Contains(t, res.Skipped[0].Error, "conversion failed")
}

func TestRunMergesInInputOrderRegardlessOfCompletion(t *testing.T) {
	proc := &fakeProcessor{
		outcomes: map[string]pipeline.Outcome{
			"slow.pdf": {Records: []candidate.Record{rec(t, "Alice", 3, 6)}},
			"fast.pdf": {Records: []candidate.Record{rec(t, "ALICE", 4, 9)}},
		},
		delays: map[string]time.Duration{"slow.pdf": 20 * time.Millisecond},
	}

	res, err := New(proc, Config{Concurrency: 2}, nil).Run(context.Background(), []string{"slow.pdf", "fast.pdf"})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "Alice", res.Candidates[0].Name)
	assert.Equal(t, 6, res.Candidates[0].Score)
	assert.Equal(t, 1, res.Summary.DuplicatesRemoved)
	assert.Equal(t, []string{"slow.pdf", "fast.pdf"}, []string{res.Outcomes[0].Path, res.Outcomes[1].Path})
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	paths := []string{"1", "2", "3", "4", "5", "6"}
	proc := &fakeProcessor{outcomes: map[string]pipeline.Outcome{}, delays: map[string]time.Duration{}}
	for _, p := range paths {
		proc.delays[p] = 5 * time.Millisecond
	}

	res, err := New(proc, Config{Concurrency: 2}, nil).Run(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Summary.DocumentsProcessed)
	assert.LessOrEqual(t, proc.peak.Load(), int32(2))
	assert.Len(t, proc.seen, 6)
}

func TestRunReturnsErrorOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proc := &fakeProcessor{outcomes: map[string]pipeline.Outcome{}}
	_, err := New(proc, Config{}, nil).Run(ctx, []string{"a.pdf"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunFailsOnBrokenStep(t *testing.T) {
	proc := &fakeProcessor{outcomes: map[string]pipeline.Outcome{}}
	_, err := New(proc, Config{Steps: []filtering.Filter{filtering.NewExcludeFile("/nonexistent/exclude.txt")}}, nil).
		Run(context.Background(), []string{"a.pdf"})
	require.Error(t, err)
	assert.Empty(t, proc.seen)
}

func TestRankAlwaysDedups(t *testing.T) {
	records := []candidate.Record{rec(t, "Alice", 2, 5), rec(t, "ALICE", 5, 9)}

	for _, steps := range [][]filtering.Filter{nil, {}, {filtering.NewThreshold(1, -1)}} {
		ranking := Rank(records, steps)
		require.Len(t, ranking.Candidates, 1)
		assert.Equal(t, 5, ranking.Candidates[0].Score)
		assert.Equal(t, filtering.DedupName, ranking.Steps[0].Name)
	}

	proc := &fakeProcessor{outcomes: map[string]pipeline.Outcome{"a.pdf": {Records: records}}}
	res, err := New(proc, Config{Steps: []filtering.Filter{}}, nil).Run(context.Background(), []string{"a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.DuplicatesRemoved)
	assert.Len(t, res.Candidates, 1)
}

func TestRankSharesStepsAcrossGoroutines(t *testing.T) {
	steps := DefaultSteps()
	records := []candidate.Record{rec(t, "Bob", 3, 7), rec(t, "bob", 2, 9), rec(t, "Carol", 2, 8)}

	var wg sync.WaitGroup
	results := make([][]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = names(Rank(records, steps).Candidates)
		}()
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, []string{"Carol", "Bob"}, got)
	}
}
