package converter

import (
	"context"
	"os"
	"strings"
	"unicode/utf8"
)

// PlainText reads text and Markdown documents unchanged.
type PlainText struct{}

func NewPlainText() *PlainText {
	return &PlainText{}
}

func (p *PlainText) Convert(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &ConversionError{Path: path, Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ConversionError{Path: path, Err: err}
	}

	if !utf8.Valid(data) {
		return "", &ConversionError{Path: path, Err: ErrUnsupported}
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", &ConversionError{Path: path, Err: ErrNoText}
	}

	return text, nil
}
