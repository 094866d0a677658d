// Package report renders advisory reports as spreadsheet workbooks.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/titlecheck/advisor"
)

// Sheet names of the workbook.
const (
	SummarySheet   = "Summary"
	FindingsSheet  = "Findings"
	CitationsSheet = "Citations"
)

var findingsHeader = []any{
	"Rule", "Class", "Blocking", "Indeterminate", "Weight", "Description",
	"Document fields", "Citations", "Uncited", "Marker", "Rejected citations", "Advice",
}

var citationsHeader = []any{"Rule", "Label", "Chunk ID", "Act", "Locator", "Jurisdiction", "Score", "Excerpt"}

// WriteXLSX writes r to w as an XLSX workbook with a summary sheet, one row
// per finding, and one row per citation.
func WriteXLSX(w io.Writer, r *advisor.Report) error {
	f, err := build(r)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// SaveXLSX writes r to the file at path.
func SaveXLSX(path string, r *advisor.Report) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteXLSX(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func build(r *advisor.Report) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SummarySheet); err != nil {
		f.Close()
		return nil, err
	}
	for _, name := range []string{FindingsSheet, CitationsSheet} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, err
		}
	}

	steps := []func(*excelize.File, *advisor.Report) error{writeSummary, writeFindings, writeCitations}
	for _, step := range steps {
		if err := step(f, r); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func writeSummary(f *excelize.File, r *advisor.Report) error {
	rows := [][]any{
		{"Report ID", r.ID},
		{"Generated", r.GeneratedAt.Format(time.RFC3339)},
		{"Corpus version", r.IndexVersion},
		{"Risk score", r.Assessment.Score},
		{"Band", string(r.Assessment.Band)},
		{"Recommendation", string(r.Recommendation)},
		{"Findings", len(r.Entries)},
		{"Uncited findings", r.Uncited()},
		{"Summary", r.Summary},
	}
	return setRows(f, SummarySheet, rows)
}

func writeFindings(f *excelize.File, r *advisor.Report) error {
	weights := make(map[string]float64, len(r.Assessment.Contributions))
	for _, c := range r.Assessment.Contributions {
		weights[c.Finding.Key()] = c.Weight
	}

	rows := [][]any{findingsHeader}
	for _, e := range r.Entries {
		refs := make([]string, len(e.Finding.Refs))
		for i, ref := range e.Finding.Refs {
			refs[i] = ref.String()
		}
		cites := make([]string, len(e.Citations))
		for i, c := range e.Citations {
			cites[i] = fmt.Sprintf("%s: %s, %s", c.Label, c.Act, c.Locator)
		}
		rows = append(rows, []any{
			e.Finding.RuleID,
			string(e.Finding.Class),
			e.Finding.Blocking,
			e.Finding.Indeterminate,
			weights[e.Finding.Key()],
			e.Finding.Description,
			strings.Join(refs, "; "),
			strings.Join(cites, "; "),
			e.Uncited,
			e.Marker,
			e.RejectedCitations,
			e.Prose,
		})
	}
	return setRows(f, FindingsSheet, rows)
}

func writeCitations(f *excelize.File, r *advisor.Report) error {
	rows := [][]any{citationsHeader}
	for _, e := range r.Entries {
		for _, c := range e.Citations {
			rows = append(rows, []any{
				e.Finding.RuleID, c.Label, c.ChunkID, c.Act, c.Locator, string(c.Jurisdiction), c.Score, c.Excerpt,
			})
		}
	}
	return setRows(f, CitationsSheet, rows)
}

func setRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
