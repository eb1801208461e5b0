// Package staging persists the results of the expensive per-document stages
// (text extraction and model analysis) so repeated runs reuse them.
//
// An artifact is written once, atomically, and then only read. Presence of a
// decodable artifact file is the sole criterion for "already computed".
package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Stage names one cacheable unit of per-document work.
type Stage string

const (
	StageText     Stage = "text"
	StageAnalysis Stage = "analysis"
)

var stageExt = map[Stage]string{
	StageText:     ".md",
	StageAnalysis: ".json",
}

// CorruptPolicy decides what happens when an existing artifact cannot be decoded.
type CorruptPolicy string

const (
	// Recompute treats a corrupt artifact as missing and rewrites it.
	Recompute CorruptPolicy = "recompute"
	// Fail returns a CacheIOError wrapping ErrCorruptArtifact.
	Fail CorruptPolicy = "fail"
)

const idLength = 16

// ErrCorruptArtifact marks an artifact that exists but cannot be decoded.
var ErrCorruptArtifact = errors.New("corrupt artifact")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// CacheIOError reports an artifact that could not be read or written.
type CacheIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *CacheIOError) Error() string {
	return fmt.Sprintf("%s artifact %q: %v", e.Op, e.Path, e.Err)
}

func (e *CacheIOError) Unwrap() error {
	return e.Err
}

// Config configures the artifact store.
type Config struct {
	Dir       string
	OnCorrupt CorruptPolicy
}

// Cache stores stage artifacts as files under a single directory.
type Cache struct {
	dir       string
	onCorrupt CorruptPolicy
	logger    *zap.Logger
}

// Key identifies one stage artifact of one document.
type Key struct {
	Document string
	Stage    Stage
	name     string
}

func (k Key) String() string {
	return k.name
}

// New creates the artifact directory if needed.
func New(cfg Config, logger *zap.Logger) (*Cache, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, errors.New("staging directory is required")
	}

	policy := cfg.OnCorrupt
	switch policy {
	case "":
		policy = Recompute
	case Recompute, Fail:
	default:
		return nil, fmt.Errorf("unknown corrupt artifact policy: %s", cfg.OnCorrupt)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &CacheIOError{Op: "create", Path: dir, Err: err}
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Cache{dir: dir, onCorrupt: policy, logger: logger}, nil
}

// KeyFor derives the stage key of a document. The key depends only on the
// absolute document path and the stage, so reruns find the same files.
func (c *Cache) KeyFor(document string, stage Stage) (Key, error) {
	if _, ok := stageExt[stage]; !ok {
		return Key{}, fmt.Errorf("unknown stage: %s", stage)
	}

	abs, err := filepath.Abs(document)
	if err != nil {
		return Key{}, fmt.Errorf("resolve document path %q: %w", document, err)
	}

	sum := sha256.Sum256([]byte(abs))
	id := hex.EncodeToString(sum[:])[:idLength]

	stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	stem = strings.Trim(unsafeChars.ReplaceAllString(stem, "_"), "_")
	if stem == "" {
		stem = "document"
	}

	return Key{Document: document, Stage: stage, name: stem + "-" + id}, nil
}

// Path returns the artifact file of a key.
func (c *Cache) Path(key Key) string {
	return filepath.Join(c.dir, key.name+stageExt[key.Stage])
}

// Dir returns the artifact directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Codec converts a stage value to and from its file representation.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// GetOrCompute returns the artifact stored for key without calling producer
// when one exists. Otherwise it calls producer, persists the value and
// returns it. The boolean reports whether the value came from the cache.
// Producer errors are returned unchanged and nothing is persisted.
func GetOrCompute[T any](ctx context.Context, c *Cache, key Key, codec Codec[T], producer func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	path := c.Path(key)
	log := c.logger.With(zap.String("document", key.Document), zap.String("stage", string(key.Stage)), zap.String("artifact", path))

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		v, decodeErr := codec.Decode(data)
		if decodeErr == nil {
			log.Debug("artifact found")
			return v, true, nil
		}
		if c.onCorrupt == Fail {
			return zero, false, &CacheIOError{Op: "decode", Path: path, Err: fmt.Errorf("%w: %w", ErrCorruptArtifact, decodeErr)}
		}
		log.Warn("artifact is corrupt, recomputing", zap.Error(decodeErr))
	case errors.Is(err, os.ErrNotExist):
	default:
		return zero, false, &CacheIOError{Op: "read", Path: path, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	v, err := producer(ctx)
	if err != nil {
		return zero, false, err
	}

	encoded, err := codec.Encode(v)
	if err != nil {
		return zero, false, &CacheIOError{Op: "encode", Path: path, Err: err}
	}

	if err := writeAtomic(path, encoded); err != nil {
		return zero, false, err
	}

	log.Debug("artifact stored", zap.Int("bytes", len(encoded)))
	return v, false, nil
}

// writeAtomic writes to a temporary sibling and renames it over path, so a
// reader sees either the previous file, no file, or the complete new one.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &CacheIOError{Op: "write", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &CacheIOError{Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()

	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return &CacheIOError{Op: "write", Path: path, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &CacheIOError{Op: "write", Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return &CacheIOError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &CacheIOError{Op: "write", Path: path, Err: err}
	}

	return nil
}
