// Package structured implements the value tree and text codec for block
// content. Content is TOML text; in memory it is a tree of tagged values
// (scalar, list of strings, nested table) with document key order preserved.
package structured

// Kind discriminates the value union.
type Kind int

const (
	KindScalar Kind = iota
	KindList
	KindTable
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindTable:
		return "table"
	}
	return "unknown"
}

// Value is one field value. Exactly one of the payload fields is meaningful,
// selected by Kind. Scalar subtypes beyond bool are not tracked: numbers,
// dates and the like are carried as their string form.
type Value struct {
	Kind Kind

	Str    string // KindScalar
	Bool   bool   // KindScalar, valid when IsBool
	IsBool bool

	List []string // KindList

	Table *Tree // KindTable
}

// Scalar returns a string scalar value.
func Scalar(s string) *Value {
	return &Value{Kind: KindScalar, Str: s}
}

// BoolScalar returns a boolean scalar value.
func BoolScalar(b bool) *Value {
	s := "false"
	if b {
		s = "true"
	}
	return &Value{Kind: KindScalar, Str: s, Bool: b, IsBool: true}
}

// ListValue returns a list-of-strings value.
func ListValue(items []string) *Value {
	return &Value{Kind: KindList, List: items}
}

// TableValue returns a nested table value.
func TableValue(t *Tree) *Value {
	if t == nil {
		t = NewTree()
	}
	return &Value{Kind: KindTable, Table: t}
}

// Tree is an insertion-ordered mapping of key to Value.
type Tree struct {
	keys []string
	vals map[string]*Value
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{vals: make(map[string]*Value)}
}

// Keys returns the keys in insertion order.
func (t *Tree) Keys() []string {
	return t.keys
}

// Len returns the number of entries.
func (t *Tree) Len() int {
	return len(t.keys)
}

// Get returns the value for key.
func (t *Tree) Get(key string) (*Value, bool) {
	v, ok := t.vals[key]
	return v, ok
}

// Set inserts or overwrites key. A key keeps its original position when
// overwritten.
func (t *Tree) Set(key string, v *Value) {
	if _, ok := t.vals[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.vals[key] = v
}

// EnsureTable returns the table value at key, converting or creating it.
// A pre-existing non-table value is demoted into the new table under the
// ValueSentinel key rather than discarded.
func (t *Tree) EnsureTable(key string) *Tree {
	if v, ok := t.vals[key]; ok {
		if v.Kind == KindTable {
			return v.Table
		}
		sub := NewTree()
		if v.Kind != KindScalar || v.Str != "" {
			sub.Set(ValueSentinel, v)
		}
		t.vals[key] = TableValue(sub)
		return sub
	}
	sub := NewTree()
	t.Set(key, TableValue(sub))
	return sub
}

// ValueSentinel is the reserved key a scalar is demoted under when a table
// grows beneath it (a deeper Markdown heading appears under a key that
// already accumulated scalar content).
const ValueSentinel = "_value"
