package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/halvard/muninn/internal/apperr"
	"github.com/halvard/muninn/internal/structured"
)

func testSchema() BlockSchema {
	return BlockSchema{Fields: map[string]FieldSpec{
		"summary": {Kind: KindString, Default: "(empty)"},
		"goals":   {Kind: KindList},
		"prefs": {Kind: KindTable, Fields: map[string]FieldSpec{
			"tone": {Kind: KindString},
		}},
		"scratch": {Kind: KindTable},
	}}
}

func TestValidateContent_OK(t *testing.T) {
	content := "summary = \"hi\"\ngoals = [\"a\"]\n\n[prefs]\ntone = \"casual\"\n"
	tree, err := structured.Parse(content)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := testSchema().ValidateContent(tree); err != nil {
		t.Errorf("ValidateContent: %v", err)
	}
}

func TestValidateContent_UndeclaredKey(t *testing.T) {
	tree, _ := structured.Parse("mystery = \"x\"\n")
	err := testSchema().ValidateContent(tree)
	var se *apperr.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SchemaError", err)
	}
	if se.Key != "mystery" {
		t.Errorf("offending key = %q, want mystery", se.Key)
	}
}

func TestValidateContent_KindMismatch(t *testing.T) {
	tree, _ := structured.Parse("prefs = \"not a table\"\n")
	err := testSchema().ValidateContent(tree)
	var se *apperr.SchemaError
	if !errors.As(err, &se) || se.Key != "prefs" {
		t.Fatalf("err = %v, want SchemaError on prefs", err)
	}
}

func TestValidateContent_NestedUndeclared(t *testing.T) {
	tree, _ := structured.Parse("[prefs]\ncolor = \"red\"\n")
	err := testSchema().ValidateContent(tree)
	var se *apperr.SchemaError
	if !errors.As(err, &se) || se.Key != "prefs.color" {
		t.Fatalf("err = %v, want SchemaError on prefs.color", err)
	}
}

func TestValidateContent_FreeFormTable(t *testing.T) {
	tree, _ := structured.Parse("[scratch]\nanything = \"goes\"\n\n[scratch.deeper]\nstill = \"fine\"\n")
	if err := testSchema().ValidateContent(tree); err != nil {
		t.Errorf("free-form table should accept any keys: %v", err)
	}
}

func TestValidateContent_SentinelAllowed(t *testing.T) {
	tree, _ := structured.Parse("[prefs]\n_value = \"demoted\"\ntone = \"formal\"\n")
	if err := testSchema().ValidateContent(tree); err != nil {
		t.Errorf("sentinel key should be legal: %v", err)
	}
}

func TestValidateContent_EmptyScalarAsEmptyList(t *testing.T) {
	tree, _ := structured.Parse("goals = \"\"\n")
	if err := testSchema().ValidateContent(tree); err != nil {
		t.Errorf("empty scalar should pass for list kind: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	tree := testSchema().Defaults()
	sum, ok := tree.Get("summary")
	if !ok || sum.Str != "(empty)" {
		t.Errorf("summary default = %+v", sum)
	}
	goals, _ := tree.Get("goals")
	if goals.Kind != structured.KindList || len(goals.List) != 0 {
		t.Errorf("goals default = %+v", goals)
	}
	prefs, _ := tree.Get("prefs")
	if prefs.Kind != structured.KindTable {
		t.Errorf("prefs default = %+v", prefs)
	}
	// Defaults must themselves validate.
	if err := testSchema().ValidateContent(tree); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestNew_RejectsBadKind(t *testing.T) {
	_, err := New(map[string]BlockSchema{
		"bad": {Fields: map[string]FieldSpec{"x": {Kind: "integer"}}},
	})
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestLoadFile(t *testing.T) {
	doc := `blocks:
  human:
    fields:
      summary:
        kind: string
        default: "new user"
      goals:
        kind: list
      prefs:
        kind: table
        fields:
          tone:
            kind: string
`
	path := filepath.Join(t.TempDir(), "schemas.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	s, ok := reg.Lookup("human")
	if !ok {
		t.Fatal("human schema missing")
	}
	if s.Fields["summary"].Default != "new user" {
		t.Errorf("default = %q", s.Fields["summary"].Default)
	}
	if err := reg.ValidateContent("human", "summary = \"hi\"\n"); err != nil {
		t.Errorf("ValidateContent: %v", err)
	}
	if err := reg.ValidateContent("unknown", "x = \"y\"\n"); err == nil {
		t.Error("expected error for unknown label")
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	labels := r.Labels()
	if len(labels) != 2 || labels[0] != "human" || labels[1] != "persona" {
		t.Fatalf("labels = %v", labels)
	}

	s, ok := r.Lookup("human")
	if !ok {
		t.Fatal("human schema missing")
	}
	content := s.Defaults().Serialize()
	if err := r.ValidateContent("human", content); err != nil {
		t.Errorf("default content invalid: %v", err)
	}
}
