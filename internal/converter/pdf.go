package converter

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDF extracts plain text page by page.
type PDF struct{}

func NewPDF() *PDF {
	return &PDF{}
}

func (p *PDF) Convert(ctx context.Context, path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", &ConversionError{Path: path, Err: fmt.Errorf("open pdf: %w", err)}
	}
	defer f.Close()

	var builder strings.Builder
	total := r.NumPage()
	for idx := 1; idx <= total; idx++ {
		if err := ctx.Err(); err != nil {
			return "", &ConversionError{Path: path, Err: err}
		}

		page := r.Page(idx)
		if page.V.IsNull() {
			continue
		}

		// a broken page should not lose the rest of the document
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}

		cleaned := CleanText(text)
		if cleaned == "" {
			continue
		}

		fmt.Fprintf(&builder, "--- Page %d ---\n", idx)
		builder.WriteString(cleaned)
		builder.WriteString("\n\n")
	}

	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", &ConversionError{Path: path, Err: ErrNoText}
	}

	return text, nil
}
