package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	pages := make([]string, 0, totalPages)

	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, text)
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no extractable text in %s (scanned PDFs need OCR first)", path)
	}

	return &ParseResult{
		Text:   strings.Join(stripRunningLines(pages), "\n"),
		Pages:  len(pages),
		Method: "native",
	}, nil
}

var pageNumberLine = regexp.MustCompile(`^(?:page\s*)?\d{1,4}(?:\s*of\s*\d{1,4})?$`)

// stripRunningLines drops bare page numbers and the header/footer lines
// that repeat on most pages of gazette prints, so they never split or
// pollute a section.
func stripRunningLines(pages []string) []string {
	counts := make(map[string]int)
	split := make([][]string, len(pages))
	for i, p := range pages {
		lines := strings.Split(p, "\n")
		split[i] = lines
		seen := make(map[string]bool)
		for _, l := range edgeLines(lines) {
			if !seen[l] {
				seen[l] = true
				counts[l]++
			}
		}
	}

	running := make(map[string]bool)
	if len(pages) >= 3 {
		for l, n := range counts {
			if n*2 > len(pages) {
				running[l] = true
			}
		}
	}

	out := make([]string, len(pages))
	for i, lines := range split {
		kept := lines[:0:0]
		for _, l := range lines {
			t := strings.TrimSpace(l)
			if running[t] || pageNumberLine.MatchString(strings.ToLower(t)) {
				continue
			}
			kept = append(kept, l)
		}
		out[i] = strings.Join(kept, "\n")
	}
	return out
}

// edgeLines returns the trimmed first and last two lines of a page.
func edgeLines(lines []string) []string {
	var out []string
	for i, l := range lines {
		if i < 2 || i >= len(lines)-2 {
			if t := strings.TrimSpace(l); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}
