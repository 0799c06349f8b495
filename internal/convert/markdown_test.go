package convert

import (
	"strings"
	"testing"

	"github.com/halvard/muninn/internal/structured"
)

func TestToMarkdown_NestedTable(t *testing.T) {
	content := "[personal]\nname = \"Alex\"\ngrade = \"12th\"\n"
	md := ToMarkdown(content, "human")

	for _, want := range []string{"block: human", "## Personal", "### Name", "Alex", "### Grade", "12th"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Contains(md, "{'name'") {
		t.Errorf("markdown leaked a stringified table:\n%s", md)
	}
}

func TestToMarkdown_ScalarListBoolEmpty(t *testing.T) {
	content := "summary = \"Learning Go\"\ngoals = [\"read\", \"write\"]\nactive = true\ndone = false\nnickname = \"\"\n"
	md := ToMarkdown(content, "human")

	for _, want := range []string{
		"## Summary", "Learning Go",
		"## Goals", "- read", "- write",
		"## Active", "Yes",
		"## Done", "No",
		"## Nickname", "*(not set)*",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestToMarkdown_InvalidInputFallback(t *testing.T) {
	raw := "this is ==== not toml"
	md := ToMarkdown(raw, "human")
	if !strings.Contains(md, "error: invalid_format") {
		t.Errorf("missing invalid_format flag:\n%s", md)
	}
	if !strings.Contains(md, raw) {
		t.Errorf("raw content not preserved:\n%s", md)
	}
	if !strings.Contains(md, "```") {
		t.Errorf("raw content not fenced:\n%s", md)
	}
}

func TestFromMarkdown_Basic(t *testing.T) {
	md := `---
block: human
---

## Summary

Learning Go

## Goals

- read
- write

## Prefs

### Tone

casual
`
	content, meta, err := FromMarkdown(md)
	if err != nil {
		t.Fatalf("FromMarkdown: %v", err)
	}
	if meta.Block != "human" {
		t.Errorf("meta.Block = %q", meta.Block)
	}
	tree, err := structured.Parse(content)
	if err != nil {
		t.Fatalf("output does not parse: %v\n%s", err, content)
	}
	sum, _ := tree.Get("summary")
	if sum == nil || sum.Str != "Learning Go" {
		t.Errorf("summary = %+v", sum)
	}
	goals, _ := tree.Get("goals")
	if goals == nil || goals.Kind != structured.KindList || len(goals.List) != 2 {
		t.Errorf("goals = %+v", goals)
	}
	prefs, _ := tree.Get("prefs")
	if prefs == nil || prefs.Kind != structured.KindTable {
		t.Fatalf("prefs = %+v, want table", prefs)
	}
	tone, _ := prefs.Table.Get("tone")
	if tone == nil || tone.Str != "casual" {
		t.Errorf("tone = %+v", tone)
	}
}

func TestFromMarkdown_ScalarDemotion(t *testing.T) {
	md := `## Notes

some loose thoughts

### Detail

more specific
`
	content, _, err := FromMarkdown(md)
	if err != nil {
		t.Fatalf("FromMarkdown: %v", err)
	}
	tree, err := structured.Parse(content)
	if err != nil {
		t.Fatalf("output does not parse: %v\n%s", err, content)
	}
	notes, _ := tree.Get("notes")
	if notes == nil || notes.Kind != structured.KindTable {
		t.Fatalf("notes = %+v, want table after demotion", notes)
	}
	demoted, ok := notes.Table.Get(structured.ValueSentinel)
	if !ok || demoted.Str != "some loose thoughts" {
		t.Errorf("demoted scalar = %+v", demoted)
	}
	detail, _ := notes.Table.Get("detail")
	if detail == nil || detail.Str != "more specific" {
		t.Errorf("detail = %+v", detail)
	}
}

func TestFromMarkdown_EmptySectionKept(t *testing.T) {
	content, _, err := FromMarkdown("## Nickname\n\n## Summary\n\nhi\n")
	if err != nil {
		t.Fatal(err)
	}
	tree, _ := structured.Parse(content)
	if _, ok := tree.Get("nickname"); !ok {
		t.Errorf("empty section dropped:\n%s", content)
	}
}

func TestFromMarkdown_InvalidFallbackRoundTrip(t *testing.T) {
	raw := "broken = = toml"
	md := ToMarkdown(raw, "human")
	content, meta, err := FromMarkdown(md)
	if err != nil {
		t.Fatal(err)
	}
	if !meta.Invalid {
		t.Error("meta.Invalid = false, want true")
	}
	if strings.TrimRight(content, "\n") != raw {
		t.Errorf("fenced content = %q, want %q", content, raw)
	}
}

func TestRoundTrip_ShapeInvariant(t *testing.T) {
	cases := []string{
		"name = \"Alice\"\nage = 25\n",
		"[personal]\nname = \"Alex\"\ngrade = \"12th\"\n",
		"summary = \"hi\"\ngoals = [\"a\", \"b\"]\n\n[prefs]\ntone = \"casual\"\n\n[prefs.format]\nstyle = \"bullets\"\n",
		"flag = true\nempty = \"\"\nitems = []\n",
		"[outer]\n_value = \"kept\"\n\n[outer.inner]\nx = \"y\"\n",
		"[outer]\n_value = \"kept\"\n",
	}
	for _, input := range cases {
		md := ToMarkdown(input, "b")
		content, _, err := FromMarkdown(md)
		if err != nil {
			t.Errorf("FromMarkdown(%q): %v", input, err)
			continue
		}
		got, err := structured.Parse(content)
		if err != nil {
			t.Errorf("round trip of %q does not parse: %v\n%s", input, err, content)
			continue
		}
		want, _ := structured.Parse(input)
		if gs, ws := keyShape(got), keyShape(want); gs != ws {
			t.Errorf("shape changed for %q:\ngot  %s\nwant %s\nmarkdown:\n%s", input, gs, ws, md)
		}
	}
}

func TestRoundTrip_NoTableCollapse(t *testing.T) {
	input := "[prefs]\ntone = \"casual\"\n\n[scratch]\n"
	md := ToMarkdown(input, "b")
	content, _, err := FromMarkdown(md)
	if err != nil {
		t.Fatal(err)
	}
	tree, err := structured.Parse(content)
	if err != nil {
		t.Fatalf("parse: %v\n%s", err, content)
	}
	for _, key := range []string{"prefs", "scratch"} {
		v, ok := tree.Get(key)
		if !ok {
			t.Fatalf("%s missing after round trip:\n%s", key, content)
		}
		if v.Kind != structured.KindTable {
			t.Errorf("%s collapsed to %s:\n%s", key, v.Kind, content)
		}
	}
}

func TestRoundTrip_SentinelOnlyTableStaysTable(t *testing.T) {
	input := "[outer]\n_value = \"kept\"\n"
	md := ToMarkdown(input, "b")
	if !strings.Contains(md, "### _value") {
		t.Errorf("markdown missing sentinel heading:\n%s", md)
	}

	content, _, err := FromMarkdown(md)
	if err != nil {
		t.Fatal(err)
	}
	tree, err := structured.Parse(content)
	if err != nil {
		t.Fatalf("parse: %v\n%s", err, content)
	}
	outer, ok := tree.Get("outer")
	if !ok || outer.Kind != structured.KindTable {
		t.Fatalf("outer = %+v, want table", outer)
	}
	kept, ok := outer.Table.Get(structured.ValueSentinel)
	if !ok || kept.Str != "kept" {
		t.Errorf("sentinel entry = %+v", kept)
	}
}

func TestTitleSnakeCase(t *testing.T) {
	if got := titleCase("learning_style"); got != "Learning Style" {
		t.Errorf("titleCase = %q", got)
	}
	if got := snakeCase("Learning Style"); got != "learning_style" {
		t.Errorf("snakeCase = %q", got)
	}
}

// keyShape renders the key/nesting structure of a tree, ignoring values.
func keyShape(t *structured.Tree) string {
	var b strings.Builder
	var walk func(tr *structured.Tree, prefix string)
	walk = func(tr *structured.Tree, prefix string) {
		for _, k := range tr.Keys() {
			v, _ := tr.Get(k)
			b.WriteString(prefix + k)
			if v.Kind == structured.KindTable {
				b.WriteString("{")
				walk(v.Table, prefix+k+".")
				b.WriteString("}")
			}
			b.WriteString(";")
		}
	}
	walk(t, "")
	return b.String()
}
