package structured

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Parse decodes TOML text into a value tree, preserving document key order.
// Arrays of tables are rejected: block schemas only admit scalars, lists of
// strings, and nested tables.
func Parse(text string) (*Tree, error) {
	var raw map[string]any
	md, err := toml.Decode(text, &raw)
	if err != nil {
		return nil, fmt.Errorf("structured: parse: %w", err)
	}

	order := keyOrder(md)
	tree, err := fromMap(raw, nil, order)
	if err != nil {
		return nil, fmt.Errorf("structured: parse: %w", err)
	}
	return tree, nil
}

// keyOrder maps a parent path (dot-joined) to its child keys in document
// order, derived from toml.MetaData.
func keyOrder(md toml.MetaData) map[string][]string {
	order := make(map[string][]string)
	seen := make(map[string]struct{})
	for _, key := range md.Keys() {
		parent := strings.Join(key[:len(key)-1], "\x00")
		full := strings.Join(key, "\x00")
		if _, dup := seen[full]; dup {
			continue
		}
		seen[full] = struct{}{}
		order[parent] = append(order[parent], key[len(key)-1])
	}
	return order
}

func fromMap(m map[string]any, path []string, order map[string][]string) (*Tree, error) {
	keys := order[strings.Join(path, "\x00")]
	// Any keys the metadata missed (defensive for inline tables) go last,
	// sorted for determinism.
	known := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		known[k] = struct{}{}
	}
	var rest []string
	for k := range m {
		if _, ok := known[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)

	tree := NewTree()
	for _, k := range append(append([]string{}, keys...), rest...) {
		raw, ok := m[k]
		if !ok {
			continue
		}
		v, err := fromAny(raw, append(path, k), order)
		if err != nil {
			return nil, err
		}
		tree.Set(k, v)
	}
	return tree, nil
}

func fromAny(raw any, path []string, order map[string][]string) (*Value, error) {
	switch v := raw.(type) {
	case map[string]any:
		sub, err := fromMap(v, path, order)
		if err != nil {
			return nil, err
		}
		return TableValue(sub), nil
	case []map[string]any:
		return nil, fmt.Errorf("key %q: arrays of tables are not supported", strings.Join(path, "."))
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			if _, isTable := item.(map[string]any); isTable {
				return nil, fmt.Errorf("key %q: arrays of tables are not supported", strings.Join(path, "."))
			}
			items = append(items, scalarString(item))
		}
		return ListValue(items), nil
	case bool:
		return BoolScalar(v), nil
	case string:
		return Scalar(v), nil
	default:
		return Scalar(scalarString(raw)), nil
	}
}

func scalarString(raw any) string {
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprint(raw)
}

var bareKeyRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Serialize renders the tree as TOML text: the scalar and list entries of a
// table first, then each sub-table under a dotted [a.b] header, all in
// document order. Parse(t.Serialize()) preserves key set and nesting exactly.
func (t *Tree) Serialize() string {
	var b strings.Builder
	serializeTable(&b, t, nil)
	return strings.TrimLeft(b.String(), "\n")
}

func serializeTable(b *strings.Builder, t *Tree, path []string) {
	var tables []string
	for _, k := range t.Keys() {
		v, _ := t.Get(k)
		if v.Kind == KindTable {
			tables = append(tables, k)
			continue
		}
		fmt.Fprintf(b, "%s = %s\n", encodeKey(k), encodeValue(v))
	}
	for _, k := range tables {
		v, _ := t.Get(k)
		sub := append(append([]string{}, path...), k)
		b.WriteString("\n[")
		for i, p := range sub {
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(encodeKey(p))
		}
		b.WriteString("]\n")
		serializeTable(b, v.Table, sub)
	}
}

func encodeKey(k string) string {
	if bareKeyRe.MatchString(k) {
		return k
	}
	return fmt.Sprintf("%q", k)
}

func encodeValue(v *Value) string {
	switch v.Kind {
	case KindList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = fmt.Sprintf("%q", item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		if v.IsBool {
			return v.Str
		}
		return fmt.Sprintf("%q", v.Str)
	}
}
