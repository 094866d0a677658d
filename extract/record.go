package extract

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brunobiangulo/titlecheck/schema"
)

// ErrIncomplete marks a record whose required fields could not all be
// located. It is recorded on the record, never returned by Extract.
var ErrIncomplete = errors.New("titlecheck: extraction incomplete")

// Status is the provenance of a single extracted value.
type Status string

const (
	Extracted Status = "extracted"
	Missing   Status = "missing"
	Ambiguous Status = "ambiguous"
)

// Value is one field value typed per its FieldSpec. Only the member that
// matches Kind is meaningful, and only when Status is Extracted.
type Value struct {
	Kind   schema.FieldType `json:"kind"`
	Status Status           `json:"status"`
	Text   string           `json:"text,omitempty"`
	Number float64          `json:"number,omitempty"`
	Date   time.Time        `json:"date,omitzero"`
	Bool   bool             `json:"bool,omitempty"`
	Rows   []Row            `json:"rows,omitempty"`
	// Raw keeps what the model returned for ambiguous values.
	Raw  string `json:"raw,omitempty"`
	Note string `json:"note,omitempty"`
}

// OK reports whether the value was extracted cleanly.
func (v Value) OK() bool { return v.Status == Extracted }

// Row is one row of a table field, keyed by column name.
type Row map[string]Value

// Text returns the text of column col when it was extracted.
func (r Row) Text(col string) (string, bool) {
	v, ok := r[col]
	if !ok || !v.OK() {
		return "", false
	}
	return v.Text, true
}

// Date returns the date of column col when it was extracted.
func (r Row) Date(col string) (time.Time, bool) {
	v, ok := r[col]
	if !ok || !v.OK() || v.Kind != schema.Date {
		return time.Time{}, false
	}
	return v.Date, true
}

// Bool returns the boolean of column col when it was extracted.
func (r Row) Bool(col string) (bool, bool) {
	v, ok := r[col]
	if !ok || !v.OK() || v.Kind != schema.Bool {
		return false, false
	}
	return v.Bool, true
}

// Record is the structured result of extracting one document.
type Record struct {
	DocType    schema.DocType   `json:"doc_type"`
	DocumentID string           `json:"document_id"`
	Fields     map[string]Value `json:"fields"`
	// Required lists the schema's required field names in schema order.
	Required []string `json:"required,omitempty"`
}

// Get returns the value of field name. Fields the record does not carry
// read as missing.
func (r *Record) Get(name string) Value {
	if v, ok := r.Fields[name]; ok {
		return v
	}
	return Value{Status: Missing}
}

// Text returns the text of field name when it was extracted.
func (r *Record) Text(name string) (string, bool) {
	v := r.Get(name)
	if !v.OK() || v.Text == "" {
		return "", false
	}
	return v.Text, true
}

// Bool returns the boolean of field name when it was extracted.
func (r *Record) Bool(name string) (bool, bool) {
	v := r.Get(name)
	if !v.OK() || v.Kind != schema.Bool {
		return false, false
	}
	return v.Bool, true
}

// Rows returns the rows of table field name when it was extracted.
func (r *Record) Rows(name string) ([]Row, bool) {
	v := r.Get(name)
	if !v.OK() || v.Kind != schema.Table {
		return nil, false
	}
	return v.Rows, true
}

// Missing returns the required fields that are missing or ambiguous.
func (r *Record) Missing() []string {
	var out []string
	for _, name := range r.Required {
		if !r.Get(name).OK() {
			out = append(out, name)
		}
	}
	return out
}

// Complete reports whether every required field was extracted.
func (r *Record) Complete() bool { return len(r.Missing()) == 0 }

// Err returns an error wrapping ErrIncomplete when required fields are
// missing, or nil.
func (r *Record) Err() error {
	missing := r.Missing()
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s %s: %s", ErrIncomplete, r.DocType, r.DocumentID, strings.Join(missing, ", "))
}
