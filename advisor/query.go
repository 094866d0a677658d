package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/titlecheck/llm"
	"github.com/brunobiangulo/titlecheck/validator"
)

// statuteTerms are the statutory terms added to the retrieval query of each
// rule so that vague finding text still lands on the governing provisions.
var statuteTerms = map[string]string{
	"owner-mismatch":        "title ownership transfer of property sale Transfer of Property Act Section 54 mutation of records",
	"survey-mismatch":       "survey number record of rights land records Karnataka Land Revenue Act Section 127 registration description of property",
	"extent-mismatch":       "extent area boundaries description of immovable property Registration Act Section 21 measurement",
	"active-mortgage":       "mortgage release discharge Transfer of Property Act Section 58 encumbrance redemption Section 60",
	"frequent-transfers":    "transfer of property sale consideration fraudulent transfer Transfer of Property Act Section 53",
	"poa-transaction":       "power of attorney agent execution registration Registration Act Section 32 Section 33 Powers of Attorney Act",
	"court-attachment":      "attachment court order lis pendens Transfer of Property Act Section 52 injunction",
	"khata-register":        "khata assessment register property tax municipal records B khata regularisation",
	"extraction-incomplete": "registration compulsory documents particulars required Registration Act Section 17",
}

// BuildQuery forms the retrieval query for a finding from the rule's
// statutory terms, its rule ID and its description.
func BuildQuery(f validator.Finding) string {
	parts := make([]string, 0, 3)
	if t, ok := statuteTerms[f.RuleID]; ok {
		parts = append(parts, t)
	}
	parts = append(parts, strings.ReplaceAll(f.RuleID, "-", " "), f.Description)
	return strings.Join(parts, " ")
}

const rewriteSystemPrompt = `You turn property document discrepancies into legal research queries for Indian central and Karnataka state property law (Transfer of Property Act, Registration Act, Karnataka Land Revenue Act). Reply with one query on a single line and nothing else.`

// rewriteQuery asks the model for a sharper research query. Failures other
// than cancellation fall back to the plain query.
func (a *Advisor) rewriteQuery(ctx context.Context, f validator.Finding, plain string) (string, error) {
	resp, err := a.chat.Chat(ctx, llm.ChatRequest{
		Model: a.cfg.Model,
		Messages: []llm.Message{
			{Role: "system", Content: rewriteSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Discrepancy (%s): %s\nExample output: Legal validity of sale deeds with survey number mismatches in Karnataka", f.RuleID, f.Description)},
		},
		Temperature: 0,
		MaxTokens:   120,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slog.Warn("advisor: query rewrite failed, using plain query", "rule", f.RuleID, "error", err)
		return plain, nil
	}
	q := strings.TrimSpace(strings.Trim(strings.TrimSpace(firstLine(resp.Content)), `"`))
	if q == "" {
		return plain, nil
	}
	// Keep the statutory terms so exact section references still apply.
	if t, ok := statuteTerms[f.RuleID]; ok {
		q = q + " " + t
	}
	return q, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// isCanceled reports whether err is a context cancellation or deadline.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
