// Package parser reads statute source files into plain text for the
// corpus builder.
package parser

import "context"

// ParseResult is what a parser produces from a statute source file.
type ParseResult struct {
	Text   string // Full text, pages joined by newlines
	Pages  int    // Pages with extractable text; 1 for plain text
	Method string // "native"
}

// Parser can parse a specific file format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}
