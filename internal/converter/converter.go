// Package converter turns source documents into plain text for analysis.
package converter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupported is returned for documents no converter handles.
	ErrUnsupported = errors.New("unsupported document type")
	// ErrNoText is returned when a document converts to empty text.
	ErrNoText = errors.New("no text content found")
)

// Converter converts the document at path to plain text.
type Converter interface {
	Convert(ctx context.Context, path string) (string, error)
}

// ConversionError reports a document that could not be turned into text.
type ConversionError struct {
	Path string
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %q: %v", e.Path, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// ByExtension routes documents to converters by lower-cased file extension.
type ByExtension struct {
	routes map[string]Converter
}

// NewByExtension builds a router. Extensions are normalized to ".ext".
func NewByExtension(routes map[string]Converter) *ByExtension {
	normalized := make(map[string]Converter, len(routes))
	for ext, conv := range routes {
		normalized[normalizeExt(ext)] = conv
	}
	return &ByExtension{routes: normalized}
}

// NewAuto returns the default router: PDF documents through the PDF
// converter, text and Markdown files as-is.
func NewAuto() *ByExtension {
	text := NewPlainText()
	return NewByExtension(map[string]Converter{
		".pdf":      NewPDF(),
		".txt":      text,
		".md":       text,
		".markdown": text,
	})
}

func (b *ByExtension) Convert(ctx context.Context, path string) (string, error) {
	conv, ok := b.routes[normalizeExt(filepath.Ext(path))]
	if !ok {
		return "", &ConversionError{Path: path, Err: fmt.Errorf("%w: %q", ErrUnsupported, filepath.Ext(path))}
	}
	return conv.Convert(ctx, path)
}

// Extensions lists the routed extensions.
func (b *ByExtension) Extensions() []string {
	exts := make([]string, 0, len(b.routes))
	for ext := range b.routes {
		exts = append(exts, ext)
	}
	return exts
}

// New selects a converter by name: "auto" (or empty), "pdf" or "text".
func New(name string) (Converter, []string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		auto := NewAuto()
		return auto, auto.Extensions(), nil
	case "pdf":
		return NewPDF(), []string{".pdf"}, nil
	case "text":
		return NewPlainText(), []string{".txt", ".md", ".markdown"}, nil
	default:
		return nil, nil, fmt.Errorf("unknown converter: %s", name)
	}
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// CleanText trims every line and drops blank ones.
func CleanText(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
