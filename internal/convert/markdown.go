// Package convert transforms block content between its structured TOML form
// and a human-editable Markdown representation.
//
// The round trip is lossless in structure and lossy in scalar type: the key
// set and nesting shape of the content always survive FromMarkdown(ToMarkdown)
// exactly, while booleans and numbers come back as strings.
package convert

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/halvard/muninn/internal/structured"
)

// Markers used for values that have no natural Markdown body.
const (
	notSetMarker     = "*(not set)*"
	emptyListMarker  = "*(empty list)*"
	emptyTableMarker = "*(empty table)*"
)

// Metadata carries the frontmatter of a Markdown document.
type Metadata struct {
	Block   string
	Invalid bool // document is the raw-text fallback for unparseable content
}

// ToMarkdown renders block content as Markdown for human viewing and editing.
// Unparseable content never fails: it is emitted verbatim inside a fenced
// code block under an `error: invalid_format` frontmatter flag so a human can
// see and fix it by hand.
func ToMarkdown(content, label string) string {
	tree, err := structured.Parse(content)
	if err != nil {
		var b strings.Builder
		fmt.Fprintf(&b, "---\nblock: %s\nerror: invalid_format\n---\n\n", label)
		b.WriteString("```\n")
		b.WriteString(strings.TrimRight(content, "\n"))
		b.WriteString("\n```\n")
		return b.String()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "---\nblock: %s\n---\n", label)
	writeSections(&b, tree, 2)
	return b.String()
}

// writeSections emits one heading per key at the given level, recursing one
// level deeper per nested table. The structured.ValueSentinel entry of a
// table is rendered inline under the table's own heading, mirroring the
// scalar-demotion rule of FromMarkdown.
func writeSections(b *strings.Builder, tree *structured.Tree, level int) {
	for _, key := range tree.Keys() {
		if key == structured.ValueSentinel {
			continue
		}
		v, _ := tree.Get(key)
		fmt.Fprintf(b, "\n%s %s\n", strings.Repeat("#", level), titleCase(key))
		writeValue(b, v, level)
	}
}

func writeValue(b *strings.Builder, v *structured.Value, level int) {
	switch v.Kind {
	case structured.KindScalar:
		b.WriteString("\n")
		switch {
		case v.IsBool && v.Bool:
			b.WriteString("Yes\n")
		case v.IsBool:
			b.WriteString("No\n")
		case v.Str == "":
			b.WriteString(notSetMarker + "\n")
		default:
			b.WriteString(strings.TrimRight(v.Str, "\n") + "\n")
		}
	case structured.KindList:
		b.WriteString("\n")
		if len(v.List) == 0 {
			b.WriteString(emptyListMarker + "\n")
			return
		}
		for _, item := range v.List {
			fmt.Fprintf(b, "- %s\n", item)
		}
	case structured.KindTable:
		if v.Table.Len() == 0 {
			b.WriteString("\n" + emptyTableMarker + "\n")
			return
		}
		if inline, ok := v.Table.Get(structured.ValueSentinel); ok {
			if v.Table.Len() == 1 {
				// No other children means inline text would read back as a
				// plain scalar, collapsing the table. An explicit _value
				// heading survives the round trip: snakeCase maps it back
				// onto the sentinel key unchanged.
				fmt.Fprintf(b, "\n%s %s\n", strings.Repeat("#", level+1), structured.ValueSentinel)
				writeValue(b, inline, level+1)
				return
			}
			writeValue(b, inline, level)
		}
		writeSections(b, v.Table, level+1)
	}
}

var headingRe = regexp.MustCompile(`^(#{2,})\s+(.+?)\s*$`)

// FromMarkdown parses edited Markdown back into structured text. A level-2
// heading opens a top-level key; each deeper heading level opens a sub-key
// one table level down. When a deeper heading appears under a key that has
// already accumulated scalar content, that scalar is demoted under the
// structured.ValueSentinel key instead of being discarded.
func FromMarkdown(markdown string) (string, Metadata, error) {
	meta, body := splitFrontmatter(markdown)

	if meta.Invalid {
		// The document is the raw fallback: the fenced block holds the
		// structured text itself, possibly hand-fixed by the human.
		return extractFence(body), meta, nil
	}

	root := structured.NewTree()
	var stack []string
	acc := newAccumulator()
	var emptied [][]string

	commit := func() {
		if len(stack) == 0 {
			acc.reset()
			return
		}
		path := append([]string{}, stack...)
		if v, ok := acc.value(); ok {
			setPath(root, path, v)
		} else {
			emptied = append(emptied, path)
		}
		acc.reset()
	}

	for _, line := range strings.Split(body, "\n") {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			commit()
			depth := len(m[1]) - 1
			if depth > len(stack)+1 {
				depth = len(stack) + 1
			}
			stack = append(stack[:depth-1], snakeCase(m[2]))
			continue
		}
		acc.feed(line)
	}
	commit()

	// Sections that closed with no content and never gained children become
	// empty scalars, so no key silently disappears.
	for _, path := range emptied {
		if !pathExists(root, path) {
			setPath(root, path, structured.Scalar(""))
		}
	}

	return root.Serialize(), meta, nil
}

// accumulator gathers the body lines of one heading section.
type accumulator struct {
	bullets []string
	lines   []string
}

func newAccumulator() *accumulator { return &accumulator{} }

func (a *accumulator) feed(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	if strings.HasPrefix(trimmed, "- ") {
		a.bullets = append(a.bullets, strings.TrimSpace(trimmed[2:]))
		return
	}
	a.lines = append(a.lines, trimmed)
}

// value renders the accumulated section content. Bullets take precedence
// over loose text when both are present.
func (a *accumulator) value() (*structured.Value, bool) {
	if len(a.bullets) > 0 {
		return structured.ListValue(a.bullets), true
	}
	if len(a.lines) == 0 {
		return nil, false
	}
	text := strings.Join(a.lines, "\n")
	switch text {
	case notSetMarker:
		return structured.Scalar(""), true
	case emptyListMarker:
		return structured.ListValue(nil), true
	case emptyTableMarker:
		return structured.TableValue(nil), true
	}
	return structured.Scalar(text), true
}

func (a *accumulator) reset() {
	a.bullets = nil
	a.lines = nil
}

// setPath commits v at path, creating (or demoting into) tables along the way.
func setPath(root *structured.Tree, path []string, v *structured.Value) {
	t := root
	for _, key := range path[:len(path)-1] {
		t = t.EnsureTable(key)
	}
	last := path[len(path)-1]
	if existing, ok := t.Get(last); ok && existing.Kind == structured.KindTable && v.Kind != structured.KindTable {
		// The section already grew children; its direct content becomes the
		// sentinel entry.
		existing.Table.Set(structured.ValueSentinel, v)
		return
	}
	t.Set(last, v)
}

func pathExists(root *structured.Tree, path []string) bool {
	t := root
	for i, key := range path {
		v, ok := t.Get(key)
		if !ok {
			return false
		}
		if i == len(path)-1 {
			return true
		}
		if v.Kind != structured.KindTable {
			return false
		}
		t = v.Table
	}
	return true
}

// splitFrontmatter separates the leading --- frontmatter from the body and
// decodes the block label and error flag. Invalid YAML is tolerated: the
// whole input becomes body.
func splitFrontmatter(markdown string) (Metadata, string) {
	const delim = "---"
	var meta Metadata

	trimmed := strings.TrimLeft(markdown, "\n\r")
	if !strings.HasPrefix(trimmed, delim) {
		return meta, markdown
	}
	rest := trimmed[len(delim):]
	idx := strings.Index(rest, "\n"+delim)
	if idx < 0 {
		return meta, markdown
	}
	var fm struct {
		Block string `yaml:"block"`
		Error string `yaml:"error"`
	}
	if err := yaml.Unmarshal([]byte(rest[:idx]), &fm); err != nil {
		return meta, markdown
	}
	meta.Block = fm.Block
	meta.Invalid = fm.Error == "invalid_format"
	body := rest[idx+1+len(delim):]
	return meta, strings.TrimLeft(body, "\n\r")
}

// extractFence returns the content of the first fenced code block, or the
// whole body when no fence is present.
func extractFence(body string) string {
	lines := strings.Split(body, "\n")
	var out []string
	in := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if in {
				return strings.Join(out, "\n") + "\n"
			}
			in = true
			continue
		}
		if in {
			out = append(out, line)
		}
	}
	return body
}

// titleCase renders a snake_case key as a Title Case heading.
func titleCase(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.TrimSpace(strings.Join(words, " "))
}

// snakeCase maps a heading title back to a snake_case key.
func snakeCase(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), "_"))
}
