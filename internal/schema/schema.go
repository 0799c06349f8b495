// Package schema declares, per block label, the set of named fields, each
// field's value kind and default. Validation is pure: no side effects, no I/O.
package schema

import (
	"fmt"
	"os"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/halvard/muninn/internal/apperr"
	"github.com/halvard/muninn/internal/structured"
)

// Field kinds.
const (
	KindString = "string"
	KindList   = "list"
	KindTable  = "table"
)

// FieldSpec declares one field of a block schema.
type FieldSpec struct {
	Kind    string               `yaml:"kind"`
	Default string               `yaml:"default,omitempty"`
	Fields  map[string]FieldSpec `yaml:"fields,omitempty"`
}

// Validate checks the spec itself (not content).
func (f FieldSpec) Validate() error {
	if err := validation.ValidateStruct(&f,
		validation.Field(&f.Kind, validation.Required, validation.In(KindString, KindList, KindTable)),
	); err != nil {
		return err
	}
	if len(f.Fields) > 0 && f.Kind != KindTable {
		return fmt.Errorf("sub-fields declared on non-table kind %q", f.Kind)
	}
	for name, sub := range f.Fields {
		if err := sub.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// BlockSchema declares the fields of one block label.
type BlockSchema struct {
	Fields map[string]FieldSpec `yaml:"fields"`
}

// Validate checks the schema declaration itself.
func (s BlockSchema) Validate() error {
	for name, f := range s.Fields {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// ValidateContent confirms every key of tree is declared and every nested
// table matches its declared sub-fields. The structured.ValueSentinel key is
// always legal inside a table (scalar demotion from the Markdown path).
func (s BlockSchema) ValidateContent(tree *structured.Tree) error {
	return validateFields(s.Fields, tree, "")
}

func validateFields(specs map[string]FieldSpec, tree *structured.Tree, prefix string) error {
	for _, key := range tree.Keys() {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		v, _ := tree.Get(key)
		if key == structured.ValueSentinel {
			if v.Kind == structured.KindTable {
				return &apperr.SchemaError{Key: path, Reason: "sentinel key must hold a scalar or list"}
			}
			continue
		}
		spec, ok := specs[key]
		if !ok {
			return &apperr.SchemaError{Key: path, Reason: "not declared"}
		}
		switch spec.Kind {
		case KindString:
			if v.Kind != structured.KindScalar {
				return &apperr.SchemaError{Key: path, Reason: fmt.Sprintf("expected string, got %s", v.Kind)}
			}
		case KindList:
			// An empty scalar is tolerated as an empty list: the Markdown
			// round trip renders an empty list as *(not set)*.
			if v.Kind == structured.KindScalar && v.Str == "" {
				continue
			}
			if v.Kind != structured.KindList {
				return &apperr.SchemaError{Key: path, Reason: fmt.Sprintf("expected list, got %s", v.Kind)}
			}
		case KindTable:
			if v.Kind != structured.KindTable {
				return &apperr.SchemaError{Key: path, Reason: fmt.Sprintf("expected table, got %s", v.Kind)}
			}
			// A table spec without declared sub-fields is free-form.
			if len(spec.Fields) > 0 {
				if err := validateFields(spec.Fields, v.Table, path); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Defaults returns the initial content tree for a new block. Keys are
// emitted in sorted order for determinism.
func (s BlockSchema) Defaults() *structured.Tree {
	return defaultsFor(s.Fields)
}

func defaultsFor(specs map[string]FieldSpec) *structured.Tree {
	names := make([]string, 0, len(specs))
	for n := range specs {
		names = append(names, n)
	}
	sort.Strings(names)

	tree := structured.NewTree()
	for _, n := range names {
		spec := specs[n]
		switch spec.Kind {
		case KindList:
			tree.Set(n, structured.ListValue([]string{}))
		case KindTable:
			tree.Set(n, structured.TableValue(defaultsFor(spec.Fields)))
		default:
			tree.Set(n, structured.Scalar(spec.Default))
		}
	}
	return tree
}

// Registry holds the block schemas known to the process.
type Registry struct {
	blocks map[string]BlockSchema
}

// New builds a registry from declarations, validating each one.
func New(blocks map[string]BlockSchema) (*Registry, error) {
	for label, s := range blocks {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("schema: block %q: %w", label, err)
		}
	}
	return &Registry{blocks: blocks}, nil
}

// LoadFile reads a YAML schema registry file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	var doc struct {
		Blocks map[string]BlockSchema `yaml:"blocks"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: parse %s: %w", path, err)
	}
	return New(doc.Blocks)
}

// Default returns the built-in registry used when no schemas file is
// configured: a human block describing the user and a persona block
// describing the agent itself.
func Default() *Registry {
	r, err := New(map[string]BlockSchema{
		"human": {Fields: map[string]FieldSpec{
			"summary": {Kind: KindString, Default: "New user, nothing known yet."},
			"goals":   {Kind: KindList},
			"preferences": {Kind: KindTable, Fields: map[string]FieldSpec{
				"tone":     {Kind: KindString},
				"language": {Kind: KindString},
			}},
		}},
		"persona": {Fields: map[string]FieldSpec{
			"description": {Kind: KindString, Default: "A helpful assistant."},
			"traits":      {Kind: KindList},
		}},
	})
	if err != nil {
		panic(err) // built-in declarations are checked by tests
	}
	return r
}

// Lookup returns the schema for a block label.
func (r *Registry) Lookup(label string) (BlockSchema, bool) {
	s, ok := r.blocks[label]
	return s, ok
}

// Labels returns all declared block labels, sorted.
func (r *Registry) Labels() []string {
	out := make([]string, 0, len(r.blocks))
	for l := range r.blocks {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// ValidateContent validates content text against the schema for label.
func (r *Registry) ValidateContent(label, content string) error {
	s, ok := r.Lookup(label)
	if !ok {
		return &apperr.SchemaError{Key: label, Reason: "no schema declared for block"}
	}
	tree, err := structured.Parse(content)
	if err != nil {
		return &apperr.SchemaError{Key: label, Reason: err.Error()}
	}
	return s.ValidateContent(tree)
}
