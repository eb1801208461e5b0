package staging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/candidate"
)

func newCache(t *testing.T, policy CorruptPolicy) *Cache {
	t.Helper()

	c, err := New(Config{Dir: filepath.Join(t.TempDir(), "out"), OnCorrupt: policy}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func mustBatch(t *testing.T) candidate.Batch {
	t.Helper()

	r, err := candidate.New("Alice", 3, 8, "Fine-tuned LLMs at Google")
	require.NoError(t, err)
	b, err := candidate.NewBatch([]candidate.Record{r})
	require.NoError(t, err)
	return b
}

func TestKeyForIsDeterministicAndSafe(t *testing.T) {
	t.Parallel()

	c := newCache(t, Recompute)

	k1, err := c.KeyFor("resumes/John Doe (final)?.pdf", StageText)
	require.NoError(t, err)
	k2, err := c.KeyFor("resumes/John Doe (final)?.pdf", StageText)
	require.NoError(t, err)
	assert.Equal(t, k1.String(), k2.String())
	assert.True(t, strings.HasPrefix(k1.String(), "John_Doe_final-"))

	other, err := c.KeyFor("other/John Doe (final)?.pdf", StageText)
	require.NoError(t, err)
	assert.NotEqual(t, k1.String(), other.String())

	analysis, err := c.KeyFor("resumes/John Doe (final)?.pdf", StageAnalysis)
	require.NoError(t, err)
	assert.Equal(t, ".md", filepath.Ext(c.Path(k1)))
	assert.Equal(t, ".json", filepath.Ext(c.Path(analysis)))

	_, err = c.KeyFor("x.pdf", Stage("bogus"))
	require.Error(t, err)
}

func TestGetOrComputeCallsProducerOnce(t *testing.T) {
	t.Parallel()

	c := newCache(t, Recompute)
	key, err := c.KeyFor("alice.pdf", StageText)
	require.NoError(t, err)

	calls := 0
	producer := func(context.Context) (string, error) {
		calls++
		return "Alice resume text", nil
	}

	v, hit, err := GetOrCompute(context.Background(), c, key, TextCodec{}, producer)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "Alice resume text", v)

	v, hit, err = GetOrCompute(context.Background(), c, key, TextCodec{}, producer)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Alice resume text", v)
	assert.Equal(t, 1, calls)
}

func TestGetOrComputeDoesNotPersistFailures(t *testing.T) {
	t.Parallel()

	c := newCache(t, Recompute)
	key, err := c.KeyFor("alice.pdf", StageAnalysis)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, _, err = GetOrCompute(context.Background(), c, key, BatchCodec{}, func(context.Context) (candidate.Batch, error) {
		return candidate.Batch{}, boom
	})
	require.ErrorIs(t, err, boom)

	_, statErr := os.Stat(c.Path(key))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))

	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGetOrComputeRecomputesCorruptArtifact(t *testing.T) {
	t.Parallel()

	c := newCache(t, Recompute)
	key, err := c.KeyFor("alice.pdf", StageAnalysis)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(c.Path(key), []byte(`[{"name":"Ali`), 0o644))

	want := mustBatch(t)
	calls := 0
	got, hit, err := GetOrCompute(context.Background(), c, key, BatchCodec{}, func(context.Context) (candidate.Batch, error) {
		calls++
		return want, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, calls)
	assert.Equal(t, want.Records(), got.Records())

	// the rewritten artifact is valid now
	got, hit, err = GetOrCompute(context.Background(), c, key, BatchCodec{}, func(context.Context) (candidate.Batch, error) {
		t.Fatal("producer must not be called")
		return candidate.Batch{}, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, want.Records(), got.Records())
}

func TestGetOrComputeFailsOnCorruptArtifact(t *testing.T) {
	t.Parallel()

	c := newCache(t, Fail)
	key, err := c.KeyFor("alice.pdf", StageAnalysis)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(c.Path(key), []byte(`not json`), 0o644))

	_, _, err = GetOrCompute(context.Background(), c, key, BatchCodec{}, func(context.Context) (candidate.Batch, error) {
		t.Fatal("producer must not be called")
		return candidate.Batch{}, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptArtifact)

	var ioErr *CacheIOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "decode", ioErr.Op)
}

func TestGetOrComputeTreatsInvalidRecordAsCorrupt(t *testing.T) {
	t.Parallel()

	c := newCache(t, Fail)
	key, err := c.KeyFor("alice.pdf", StageAnalysis)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(c.Path(key), []byte(`[{"name":"Alice","company_experience_years":1,"score":42,"rationale":"long enough rationale"}]`), 0o644))

	_, _, err = GetOrCompute(context.Background(), c, key, BatchCodec{}, func(context.Context) (candidate.Batch, error) {
		return candidate.Batch{}, nil
	})
	assert.ErrorIs(t, err, candidate.ErrInvalidRecord)
	assert.ErrorIs(t, err, ErrCorruptArtifact)
}

func TestEmptyTextArtifactIsCorrupt(t *testing.T) {
	t.Parallel()

	_, err := TextCodec{}.Decode([]byte("  \n"))
	require.Error(t, err)
}

func TestEmptyBatchRoundTrip(t *testing.T) {
	t.Parallel()

	c := newCache(t, Fail)
	key, err := c.KeyFor("nobody.pdf", StageAnalysis)
	require.NoError(t, err)

	_, _, err = GetOrCompute(context.Background(), c, key, BatchCodec{}, func(context.Context) (candidate.Batch, error) {
		return candidate.Batch{}, nil
	})
	require.NoError(t, err)

	data, err := os.ReadFile(c.Path(key))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	got, hit, err := GetOrCompute(context.Background(), c, key, BatchCodec{}, func(context.Context) (candidate.Batch, error) {
		t.Fatal("producer must not be called")
		return candidate.Batch{}, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Zero(t, got.Len())
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Dir: t.TempDir(), OnCorrupt: "ignore"}, nil)
	require.Error(t, err)

	_, err = New(Config{}, nil)
	require.Error(t, err)
}
