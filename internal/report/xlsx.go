package report

import (
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"
)

const (
	rankingSheet = "Ranking"
	summarySheet = "Summary"
)

// XLSX writes the ranking and summary as a workbook to path.
func XLSX(path string, doc Document) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create workbook: %w", err)
	}
	if err := WriteXLSX(file, doc); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteXLSX writes the workbook to w.
func WriteXLSX(w io.Writer, doc Document) error {
	f := excelize.NewFile()
	defer f.Close()

	// The default sheet becomes the ranking sheet.
	if err := f.SetSheetName(f.GetSheetName(0), rankingSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	if index, err := f.GetSheetIndex(rankingSheet); err == nil {
		f.SetActiveSheet(index)
	}

	headers := []any{"Rank", "Name", "AI/ML Score", "Company Years", "Rationale"}
	if err := f.SetSheetRow(rankingSheet, "A1", &headers); err != nil {
		return err
	}
	for i, c := range doc.Candidates {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{i + 1, c.Name, c.Score, c.CompanyExperienceYears, c.Rationale}
		if err := f.SetSheetRow(rankingSheet, cell, &row); err != nil {
			return err
		}
	}
	if err := setColWidths(f, rankingSheet, []colWidth{{"A", "A", 6}, {"B", "B", 28}, {"C", "D", 14}, {"E", "E", 100}}); err != nil {
		return err
	}
	if len(doc.Candidates) > 0 {
		if err := f.AutoFilter(rankingSheet, fmt.Sprintf("A1:E%d", len(doc.Candidates)+1), nil); err != nil {
			return fmt.Errorf("set autofilter: %w", err)
		}
	}

	s := doc.Summary
	summary := [][]any{
		{"Metric", "Value"},
		{"Run ID", doc.RunID},
		{"Generated at", doc.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"Documents total", s.DocumentsTotal},
		{"Documents processed", s.DocumentsProcessed},
		{"Documents skipped", s.DocumentsSkipped},
		{"Text cache hits", s.TextCacheHits},
		{"Analysis cache hits", s.AnalysisCacheHits},
		{"Candidates seen", s.CandidatesSeen},
		{"Duplicates removed", s.DuplicatesRemoved},
		{"Filtered out", s.FilteredOut},
		{"Ranked", s.Ranked},
	}
	for _, skip := range doc.Skipped {
		summary = append(summary, []any{"Skipped: " + skip.Path, skip.Error})
	}
	for i, row := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return err
		}
	}
	if err := setColWidths(f, summarySheet, []colWidth{{"A", "A", 24}, {"B", "B", 60}}); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

type colWidth struct {
	from, to string
	width    float64
}

func setColWidths(f *excelize.File, sheet string, widths []colWidth) error {
	for _, w := range widths {
		if err := f.SetColWidth(sheet, w.from, w.to, w.width); err != nil {
			return fmt.Errorf("set %s column width %s:%s: %w", sheet, w.from, w.to, err)
		}
	}
	return nil
}
