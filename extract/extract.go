// Package extract turns raw document text into typed records using a
// schema-constrained completion call.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/titlecheck/llm"
	"github.com/brunobiangulo/titlecheck/schema"
)

// Completer is the completion boundary. llm.Provider satisfies it.
type Completer interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// Config holds extractor configuration.
type Config struct {
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	// Concurrency caps parallel documents in ExtractAll.
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// Extractor produces Records from document text.
type Extractor struct {
	chat Completer
	cfg  Config
}

// New creates an extractor.
func New(chat Completer, cfg Config) *Extractor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	return &Extractor{chat: chat, cfg: cfg}
}

// Document is one unit of work for ExtractAll.
type Document struct {
	ID     string
	Text   string
	Schema schema.Schema
}

// Extract extracts the fields of s from text. Fields the model cannot
// locate are recorded as missing; Extract only fails when the completion
// backend does.
func (e *Extractor) Extract(ctx context.Context, documentID, text string, s schema.Schema) (*Record, error) {
	start := time.Now()
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildExtractionPrompt(text, s)},
	}

	resp, err := e.complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("extracting %s %s: %w", s.Type, documentID, err)
	}

	obj, perr := parseObject(resp.Content)
	if perr != nil {
		slog.Warn("extract: malformed model output, retrying once",
			"doc_type", s.Type, "document_id", documentID, "error", perr)
		messages = append(messages,
			llm.Message{Role: "assistant", Content: resp.Content},
			llm.Message{Role: "user", Content: buildCorrectionPrompt(perr)},
		)
		resp, err = e.complete(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("extracting %s %s: %w", s.Type, documentID, err)
		}
		obj, perr = parseObject(resp.Content)
	}

	rec := &Record{
		DocType:    s.Type,
		DocumentID: documentID,
		Fields:     make(map[string]Value, len(s.Fields)),
		Required:   s.Required(),
	}
	for _, f := range s.Fields {
		if perr != nil {
			rec.Fields[f.Name] = Value{Kind: f.Type, Status: Missing, Note: "model output was not valid JSON"}
			continue
		}
		rec.Fields[f.Name] = coerce(f, obj[f.Name])
	}

	if err := rec.Err(); err != nil {
		slog.Warn("extract: record incomplete",
			"doc_type", s.Type, "document_id", documentID, "missing", rec.Missing())
	}
	slog.Debug("extract: document done",
		"doc_type", s.Type, "document_id", documentID,
		"fields", len(rec.Fields), "elapsed", time.Since(start).Round(time.Millisecond))
	return rec, nil
}

// ExtractAll extracts every document concurrently. Each document yields
// its own record in input order. The first backend failure cancels the
// remaining work and no records are returned.
func (e *Extractor) ExtractAll(ctx context.Context, docs []Document) ([]*Record, error) {
	out := make([]*Record, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, d := range docs {
		g.Go(func() error {
			rec, err := e.Extract(gctx, d.ID, d.Text, d.Schema)
			if err != nil {
				return err
			}
			out[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// complete sends one JSON-mode request. Failures other than caller
// cancellation are reported as backend unavailability.
func (e *Extractor) complete(ctx context.Context, messages []llm.Message) (*llm.ChatResponse, error) {
	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Model:          e.cfg.Model,
		Messages:       messages,
		Temperature:    e.cfg.Temperature,
		MaxTokens:      e.cfg.MaxTokens,
		ResponseFormat: "json_object",
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, llm.ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", llm.ErrUnavailable, err)
	}
	return resp, nil
}

// parseObject decodes the first JSON object in content, tolerating code
// fences and surrounding chatter.
func parseObject(content string) (map[string]any, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, errors.New("no JSON object in response")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(content[start : end+1])))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return obj, nil
}

const systemPrompt = `You extract facts from Indian property documents (Encumbrance Certificates, Khata Certificates, Sale Deeds) into JSON.
Rules:
1. Return ONLY a JSON object whose keys are exactly the requested field names.
2. Copy values as written in the document. Never guess, infer or normalise names.
3. If a field is not present in the document, use null.
4. If the document gives conflicting values for a field, use {"ambiguous": true, "candidates": [...]}.
5. Table fields are arrays of row objects in the order they appear in the document. Never reorder rows.
6. Dates as written, preferably DD-MM-YYYY. Amounts as written, including rupee grouping.`

func buildExtractionPrompt(text string, s schema.Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document type: %s", s.Type)
	if s.Title != "" {
		fmt.Fprintf(&b, " (%s)", s.Title)
	}
	b.WriteString("\n\nFields:\n")
	for _, f := range s.Fields {
		writeField(&b, f, "- ")
		for _, c := range f.Columns {
			writeField(&b, c, "    - ")
		}
	}
	b.WriteString("\nDocument text:\n")
	b.WriteString(text)
	b.WriteString("\n\nReturn the JSON object now.")
	return b.String()
}

func writeField(b *strings.Builder, f schema.FieldSpec, indent string) {
	fmt.Fprintf(b, "%s%s (%s", indent, f.Name, f.Type)
	if f.Required {
		b.WriteString(", required")
	}
	if len(f.Enum) > 0 {
		fmt.Fprintf(b, ", one of %s", strings.Join(f.Enum, "|"))
	}
	if f.Type == schema.Table {
		b.WriteString(", rows with columns")
	}
	b.WriteString(")")
	if f.Description != "" {
		fmt.Fprintf(b, ": %s", f.Description)
	}
	b.WriteString("\n")
}

func buildCorrectionPrompt(err error) string {
	return fmt.Sprintf("Your previous reply could not be parsed (%v). Reply again with only the JSON object, no prose and no code fences.", err)
}
