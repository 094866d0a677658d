package extract

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/titlecheck/llm"
	"github.com/brunobiangulo/titlecheck/schema"
)

// scriptedLLM replies with canned contents in order, or by document text
// when byText is set.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	byText  map[string]string
	err     error
	calls   int
	last    llm.ChatRequest
}

func (s *scriptedLLM) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	if s.byText != nil {
		prompt := req.Messages[len(req.Messages)-1].Content
		for marker, reply := range s.byText {
			if strings.Contains(prompt, marker) {
				return &llm.ChatResponse{Content: reply}, nil
			}
		}
		return nil, errors.New("no scripted reply")
	}
	if len(s.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return &llm.ChatResponse{Content: r}, nil
}

func mustSchema(t *testing.T, dt schema.DocType) schema.Schema {
	t.Helper()
	st, err := schema.NewStore()
	require.NoError(t, err)
	sc, err := st.Get(dt)
	require.NoError(t, err)
	return sc
}

const khataReply = `{
  "khata_number": "KH-1021",
  "owner_name": "A Kumar",
  "survey_number": "Sy. No. 45/2",
  "extent": "1 acre 10 guntas",
  "khata_type": "B Khata",
  "tax_paid_upto": "31/03/2023",
  "unexpected": "dropped"
}`

func TestExtractKhata(t *testing.T) {
	fake := &scriptedLLM{replies: []string{"```json\n" + khataReply + "\n```"}}
	e := New(fake, Config{})

	rec, err := e.Extract(context.Background(), "khata-1", "khata text", mustSchema(t, schema.Khata))
	require.NoError(t, err)

	assert.Equal(t, schema.Khata, rec.DocType)
	assert.Equal(t, "json_object", fake.last.ResponseFormat)
	assert.True(t, rec.Complete())
	assert.NoError(t, rec.Err())

	owner, ok := rec.Text("owner_name")
	assert.True(t, ok)
	assert.Equal(t, "A Kumar", owner)
	assert.Equal(t, "B", rec.Get("khata_type").Text)
	assert.Equal(t, time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC), rec.Get("tax_paid_upto").Date)
	_, has := rec.Fields["unexpected"]
	assert.False(t, has, "fields outside the schema must be dropped")
}

func TestExtractMarksMissingAndAmbiguous(t *testing.T) {
	reply := `{
  "registration_number": "BNG-2020-1234",
  "registration_date": "sometime in spring",
  "seller_name": null,
  "purchaser_name": ["Anil Kumar", "Anil Kumaran"],
  "survey_number": "not stated",
  "extent": {"ambiguous": true, "candidates": ["1 acre", "2 acres"]},
  "consideration": "Rs. 12,50,000/-"
}`
	fake := &scriptedLLM{replies: []string{reply}}
	rec, err := New(fake, Config{}).Extract(context.Background(), "deed-1", "deed", mustSchema(t, schema.SaleDeed))
	require.NoError(t, err)

	assert.Equal(t, Ambiguous, rec.Get("registration_date").Status)
	assert.Equal(t, "sometime in spring", rec.Get("registration_date").Raw)
	assert.Equal(t, Missing, rec.Get("seller_name").Status)
	assert.Equal(t, Ambiguous, rec.Get("purchaser_name").Status)
	assert.Equal(t, Missing, rec.Get("survey_number").Status)
	assert.Equal(t, Ambiguous, rec.Get("extent").Status)
	assert.Equal(t, 1250000.0, rec.Get("consideration").Number)

	assert.False(t, rec.Complete())
	assert.Equal(t,
		[]string{"registration_date", "seller_name", "purchaser_name", "survey_number", "extent"},
		rec.Missing())
	assert.ErrorIs(t, rec.Err(), ErrIncomplete)
}

func TestExtractObjectForScalarIsAmbiguous(t *testing.T) {
	reply := `{
  "registration_number": "BNG-2020-1234",
  "registration_date": "12-05-2021",
  "seller_name": {"value": "B Rao"},
  "purchaser_name": "Anil Kumar",
  "survey_number": "45/2",
  "extent": "1 acre"
}`
	fake := &scriptedLLM{replies: []string{reply}}
	rec, err := New(fake, Config{}).Extract(context.Background(), "deed-1", "deed", mustSchema(t, schema.SaleDeed))
	require.NoError(t, err)

	seller := rec.Get("seller_name")
	assert.Equal(t, Ambiguous, seller.Status)
	assert.Empty(t, seller.Text)
	assert.Contains(t, seller.Raw, "B Rao")
	assert.Contains(t, rec.Missing(), "seller_name")
	assert.Equal(t, Extracted, rec.Get("purchaser_name").Status)
}

func TestExtractTablePreservesOrder(t *testing.T) {
	reply := `{
  "survey_number": "45/2",
  "extent": "1 acre",
  "transactions": [
    {"date": "12-05-2021", "nature": "Sale", "executant": "B Rao", "claimant": "A Kumar", "consideration": "25,00,000"},
    {"date": "03-02-2019", "nature": "Mortgage", "executant": "B Rao", "claimant": "Canara Bank"},
    {"date": "not legible", "nature": "Release"}
  ]
}`
	fake := &scriptedLLM{replies: []string{reply}}
	rec, err := New(fake, Config{}).Extract(context.Background(), "ec-1", "ec", mustSchema(t, schema.EC))
	require.NoError(t, err)

	rows, ok := rec.Rows("transactions")
	require.True(t, ok)
	require.Len(t, rows, 3)

	natures := make([]string, len(rows))
	for i, r := range rows {
		natures[i], _ = r.Text("nature")
	}
	assert.Equal(t, []string{"Sale", "Mortgage", "Release"}, natures, "rows must keep source order")

	d, ok := rows[1].Date("date")
	assert.True(t, ok)
	assert.Equal(t, 2019, d.Year())
	assert.Equal(t, Ambiguous, rows[2]["date"].Status)
	assert.Equal(t, 2500000.0, rows[0]["consideration"].Number)
	assert.Equal(t, Missing, rows[1]["consideration"].Status)
}

func TestExtractRetriesMalformedJSONOnce(t *testing.T) {
	fake := &scriptedLLM{replies: []string{"Sure! Here is the data:", khataReply}}
	rec, err := New(fake, Config{}).Extract(context.Background(), "k", "text", mustSchema(t, schema.Khata))
	require.NoError(t, err)
	assert.Equal(t, 2, fake.calls)
	assert.True(t, rec.Complete())
	assert.Len(t, fake.last.Messages, 4, "correction turn should carry the bad reply")
}

func TestExtractMalformedTwiceIsRecordedNotFatal(t *testing.T) {
	fake := &scriptedLLM{replies: []string{"nope", "{still not json"}}
	rec, err := New(fake, Config{}).Extract(context.Background(), "k", "text", mustSchema(t, schema.Khata))
	require.NoError(t, err)
	assert.False(t, rec.Complete())
	for name, v := range rec.Fields {
		assert.Equal(t, Missing, v.Status, name)
	}
	assert.ErrorIs(t, rec.Err(), ErrIncomplete)
}

func TestExtractBackendFailure(t *testing.T) {
	fake := &scriptedLLM{err: errors.New("connection refused")}
	_, err := New(fake, Config{}).Extract(context.Background(), "k", "text", mustSchema(t, schema.Khata))
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrUnavailable)
}

func TestExtractAll(t *testing.T) {
	fake := &scriptedLLM{byText: map[string]string{
		"KHATA-DOC": khataReply,
		"DEED-DOC":  `{"purchaser_name": "Anil Kumar", "survey_number": "45/2", "extent": "1 acre"}`,
	}}
	docs := []Document{
		{ID: "k", Text: "KHATA-DOC", Schema: mustSchema(t, schema.Khata)},
		{ID: "d", Text: "DEED-DOC", Schema: mustSchema(t, schema.SaleDeed)},
	}
	recs, err := New(fake, Config{Concurrency: 2}).ExtractAll(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "k", recs[0].DocumentID)
	assert.Equal(t, "d", recs[1].DocumentID)
	assert.Equal(t, schema.SaleDeed, recs[1].DocType)
}

func TestExtractAllFailsWhole(t *testing.T) {
	fake := &scriptedLLM{byText: map[string]string{"KHATA-DOC": khataReply}}
	docs := []Document{
		{ID: "k", Text: "KHATA-DOC", Schema: mustSchema(t, schema.Khata)},
		{ID: "x", Text: "UNKNOWN", Schema: mustSchema(t, schema.EC)},
	}
	recs, err := New(fake, Config{}).ExtractAll(context.Background(), docs)
	assert.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrUnavailable)
	assert.Nil(t, recs)
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1,25,000", 125000},
		{"Rs. 12,50,000/-", 1250000},
		{"INR 500", 500},
		{"₹ 3,00,00,000", 30000000},
		{"42.5", 42.5},
	}
	for _, tt := range tests {
		got, err := ParseNumber(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseNumber("twelve lakhs")
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2019, 3, 4, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2019-03-04", "04-03-2019", "04/03/2019", "4.3.2019", "4 March 2019", "04-Mar-2019", "March 4, 2019"} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s parsed as %s", in, got)
	}
	_, err := ParseDate("2019")
	assert.Error(t, err)
}
