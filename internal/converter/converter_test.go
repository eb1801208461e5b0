package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPlainTextConvert(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "alice.md", "\n# Alice\nML engineer\n")

	text, err := NewPlainText().Convert(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "# Alice\nML engineer", text)
}

func TestPlainTextEmptyDocument(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "empty.txt", "   \n")

	_, err := NewPlainText().Convert(context.Background(), path)
	require.Error(t, err)

	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, path, convErr.Path)
	assert.ErrorIs(t, err, ErrNoText)
}

func TestByExtensionRejectsUnknownExtension(t *testing.T) {
	t.Parallel()

	_, err := NewAuto().Convert(context.Background(), "resume.docx")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupported)

	var convErr *ConversionError
	assert.True(t, errors.As(err, &convErr))
}

func TestByExtensionIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "BOB.TXT", "Bob resume")

	text, err := NewByExtension(map[string]Converter{"txt": NewPlainText()}).Convert(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Bob resume", text)
}

func TestPDFConvertBrokenFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "broken.pdf", "definitely not a pdf")

	_, err := NewPDF().Convert(context.Background(), path)
	require.Error(t, err)

	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, path, convErr.Path)
}

// blankPDF builds a one-page document whose content stream is empty.
func blankPDF() string {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> /Contents 4 0 R >>",
		"<< /Length 0 >>\nstream\n\nendstream",
	}

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.String()
}

func TestPDFConvertBlankPageHasNoText(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "scan.pdf", blankPDF())

	text, err := NewPDF().Convert(context.Background(), path)
	require.Error(t, err, "got text %q", text)
	assert.ErrorIs(t, err, ErrNoText)
	assert.NotContains(t, err.Error(), "open pdf")
}

func TestNewSelectsConverter(t *testing.T) {
	t.Parallel()

	_, exts, err := New("pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{".pdf"}, exts)

	_, exts, err = New("")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".pdf", ".txt", ".md", ".markdown"}, exts)

	_, _, err = New("docling")
	require.Error(t, err)
}

func TestDiscoverFindsSortedDocuments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "b.pdf", "x")
	writeFile(t, dir, "nested/a.PDF", "x")
	writeFile(t, dir, "notes.txt", "x")

	found, err := Discover(dir, []string{"pdf"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "b.pdf"),
		filepath.Join(dir, "nested", "a.PDF"),
	}, found)
}

func TestDiscoverSingleFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pdf := writeFile(t, dir, "one.pdf", "x")
	txt := writeFile(t, dir, "one.txt", "x")

	found, err := Discover(pdf, []string{".pdf"})
	require.NoError(t, err)
	assert.Equal(t, []string{pdf}, found)

	found, err = Discover(txt, []string{".pdf"})
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = Discover(filepath.Join(dir, "missing"), []string{".pdf"})
	require.Error(t, err)
}

func TestCleanText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a\nb", CleanText("  a  \n\n\n  b \n"))
}
