// Package schema holds the gold-standard field templates for each
// property document type.
package schema

import (
	"embed"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// DocType identifies a property document type.
type DocType string

const (
	EC       DocType = "EC"
	Khata    DocType = "Khata"
	SaleDeed DocType = "SaleDeed"
)

// DocTypes lists the document types of the Golden Triangle in a fixed order.
var DocTypes = []DocType{EC, Khata, SaleDeed}

// Valid reports whether t is a known document type.
func (t DocType) Valid() bool {
	switch t {
	case EC, Khata, SaleDeed:
		return true
	}
	return false
}

// FieldType is the value type of a field.
type FieldType string

const (
	String FieldType = "string"
	Date   FieldType = "date"
	Number FieldType = "number"
	Table  FieldType = "table"
	Enum   FieldType = "enum"
	Bool   FieldType = "bool"
)

// FieldSpec describes one field of a document schema.
type FieldSpec struct {
	Name        string      `yaml:"name" json:"name"`
	Type        FieldType   `yaml:"type" json:"type"`
	Required    bool        `yaml:"required" json:"required"`
	Pattern     string      `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Enum        []string    `yaml:"enum,omitempty" json:"enum,omitempty"`
	Columns     []FieldSpec `yaml:"columns,omitempty" json:"columns,omitempty"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`

	re *regexp.Regexp
}

// Match reports whether s satisfies the field's validation pattern.
// Fields without a pattern accept any value.
func (f FieldSpec) Match(s string) bool {
	if f.Pattern == "" {
		return true
	}
	if f.re == nil {
		return regexp.MustCompile(f.Pattern).MatchString(s)
	}
	return f.re.MatchString(s)
}

// Schema is the ordered field template of one document type.
type Schema struct {
	Type   DocType     `yaml:"type" json:"type"`
	Title  string      `yaml:"title" json:"title"`
	Fields []FieldSpec `yaml:"fields" json:"fields"`
}

// Field returns the spec named name.
func (s Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Required returns the names of the required fields in schema order.
func (s Schema) Required() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// clone returns a deep copy so callers can never mutate the store.
func (s Schema) clone() Schema {
	c := s
	c.Fields = cloneFields(s.Fields)
	return c
}

func cloneFields(in []FieldSpec) []FieldSpec {
	if in == nil {
		return nil
	}
	out := make([]FieldSpec, len(in))
	for i, f := range in {
		out[i] = f
		out[i].Enum = append([]string(nil), f.Enum...)
		out[i].Columns = cloneFields(f.Columns)
	}
	return out
}

//go:embed templates/*.yaml
var templateFS embed.FS

// Store holds one immutable schema per document type.
type Store struct {
	mu      sync.RWMutex
	schemas map[DocType]Schema
}

// NewStore returns a store loaded with the built-in gold templates.
func NewStore() (*Store, error) {
	s := &Store{schemas: make(map[DocType]Schema)}
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("reading templates: %w", err)
	}
	for _, e := range entries {
		data, err := templateFS.ReadFile("templates/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", e.Name(), err)
		}
		sc, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", e.Name(), err)
		}
		if err := s.Add(sc); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Parse decodes and validates a YAML schema template.
func Parse(data []byte) (Schema, error) {
	var sc Schema
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Schema{}, fmt.Errorf("parsing schema: %w", err)
	}
	if err := compile(sc.Fields, false); err != nil {
		return Schema{}, fmt.Errorf("schema %s: %w", sc.Type, err)
	}
	if !sc.Type.Valid() {
		return Schema{}, fmt.Errorf("unknown document type %q", sc.Type)
	}
	return sc, nil
}

func compile(fields []FieldSpec, nested bool) error {
	seen := make(map[string]bool)
	for i := range fields {
		f := &fields[i]
		if f.Name == "" {
			return fmt.Errorf("field %d has no name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true

		switch f.Type {
		case String, Date, Number, Bool:
		case Enum:
			if len(f.Enum) == 0 {
				return fmt.Errorf("enum field %q has no values", f.Name)
			}
		case Table:
			if nested {
				return fmt.Errorf("table field %q cannot be nested", f.Name)
			}
			if len(f.Columns) == 0 {
				return fmt.Errorf("table field %q has no columns", f.Name)
			}
			if err := compile(f.Columns, true); err != nil {
				return fmt.Errorf("table %q: %w", f.Name, err)
			}
		default:
			return fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
		}

		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return fmt.Errorf("field %q pattern: %w", f.Name, err)
			}
			f.re = re
		}
	}
	return nil
}

// Add registers a schema, replacing any previous one of the same type.
func (s *Store) Add(sc Schema) error {
	if !sc.Type.Valid() {
		return fmt.Errorf("unknown document type %q", sc.Type)
	}
	c := sc.clone()
	if err := compile(c.Fields, false); err != nil {
		return fmt.Errorf("schema %s: %w", sc.Type, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[sc.Type] = c
	return nil
}

// Get returns a copy of the schema for t.
func (s *Store) Get(t DocType) (Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schemas[t]
	if !ok {
		return Schema{}, fmt.Errorf("no schema for document type %q", t)
	}
	return sc.clone(), nil
}

// Types returns the registered document types, sorted.
func (s *Store) Types() []DocType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DocType, 0, len(s.schemas))
	for t := range s.schemas {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
