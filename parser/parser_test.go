package parser

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Registry tests
// ---------------------------------------------------------------------------

func TestRegistryBuiltInParsers(t *testing.T) {
	reg := NewRegistry()

	for _, format := range []string{"pdf", "txt"} {
		t.Run(format, func(t *testing.T) {
			p, err := reg.Get(format)
			if err != nil {
				t.Fatalf("Get(%q) returned error: %v", format, err)
			}
			found := false
			for _, f := range p.SupportedFormats() {
				if f == format {
					found = true
				}
			}
			if !found {
				t.Errorf("parser for %q does not list it in SupportedFormats()", format)
			}
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	reg := NewRegistry()
	for _, format := range []string{"docx", "csv", "html", ""} {
		if _, err := reg.Get(format); err == nil {
			t.Errorf("Get(%q) expected error for unknown format", format)
		}
	}
	if reg.Supports("act.docx") {
		t.Error("docx should not be supported")
	}
	if !reg.Supports("ACT.PDF") {
		t.Error("extension match should be case-insensitive")
	}
}

// ---------------------------------------------------------------------------
// Text parser tests
// ---------------------------------------------------------------------------

func TestTextParser(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registration_act.txt")
	if err := os.WriteFile(path, []byte("17. Documents\r\n(1) The following"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := NewRegistry().ParseFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if res.Text != "17. Documents\n(1) The following" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Pages != 1 || res.Method != "native" {
		t.Errorf("Pages = %d, Method = %q", res.Pages, res.Method)
	}
}

func TestTextParserEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, []byte("  \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := (&TextParser{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Text != "" || res.Pages != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestTextParserMissingFile(t *testing.T) {
	if _, err := (&TextParser{}).Parse(context.Background(), "/does/not/exist.txt"); err == nil {
		t.Error("expected error for missing file")
	}
}

// ---------------------------------------------------------------------------
// PDF helpers
// ---------------------------------------------------------------------------

func TestStripRunningLines(t *testing.T) {
	pages := []string{
		"THE GAZETTE OF INDIA\n17. Documents of which registration is compulsory\n1",
		"THE GAZETTE OF INDIA\n(2) Nothing in clauses (b)\nPage 2 of 3",
		"THE GAZETTE OF INDIA\n49. Effect of non-registration\n3",
	}
	out := stripRunningLines(pages)
	joined := strings.Join(out, "\n")
	if strings.Contains(joined, "GAZETTE") {
		t.Errorf("running header kept: %q", joined)
	}
	if strings.Contains(joined, "Page 2") {
		t.Errorf("page number kept: %q", joined)
	}
	if !strings.Contains(out[0], "17. Documents") || !strings.Contains(out[2], "49. Effect") {
		t.Errorf("body lines lost: %q", out)
	}
}

func TestStripRunningLinesFewPages(t *testing.T) {
	pages := []string{"HEADER\nbody one", "HEADER\nbody two"}
	out := stripRunningLines(pages)
	if !strings.Contains(out[0], "HEADER") {
		t.Error("headers should only be stripped with three or more pages")
	}
}

func TestPDFParserMissingFile(t *testing.T) {
	if _, err := (&PDFParser{}).Parse(context.Background(), "/does/not/exist.pdf"); err == nil {
		t.Error("expected error for missing file")
	}
}
