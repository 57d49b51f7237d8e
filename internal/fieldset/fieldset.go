// Package fieldset implements the answer container for one module instance:
// an ordered mapping from field key to a loosely-typed value. Accessors are
// total - a missing or mistyped field degrades to the unknown/zero value
// instead of failing, so rule predicates never have to guard reads.
package fieldset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Unknown is the enum tag returned for absent or unreadable enum fields.
// Rule predicates treat it the same as an explicit "unknown" answer.
const Unknown = "unknown"

// FieldSet holds the answers for one module instance. Key order follows
// insertion order so serialized output is stable across saves. Keys not in
// the module schema are preserved untouched for forward compatibility.
type FieldSet struct {
	order  []string
	values map[string]any
}

// New returns an empty FieldSet.
func New() *FieldSet {
	return &FieldSet{values: make(map[string]any)}
}

// Set stores a value under key, appending the key to the order on first use.
func (fs *FieldSet) Set(key string, value any) {
	if fs.values == nil {
		fs.values = make(map[string]any)
	}
	if _, exists := fs.values[key]; !exists {
		fs.order = append(fs.order, key)
	}
	fs.values[key] = value
}

// Delete removes a key. Rules never see deleted keys; unknown-key
// preservation applies only to keys still present at save time.
func (fs *FieldSet) Delete(key string) {
	if _, exists := fs.values[key]; !exists {
		return
	}
	delete(fs.values, key)
	for i, k := range fs.order {
		if k == key {
			fs.order = append(fs.order[:i], fs.order[i+1:]...)
			break
		}
	}
}

// Has reports whether key holds any value at all.
func (fs *FieldSet) Has(key string) bool {
	_, ok := fs.values[key]
	return ok
}

// Keys returns the field keys in insertion order.
func (fs *FieldSet) Keys() []string {
	keys := make([]string, len(fs.order))
	copy(keys, fs.order)
	return keys
}

// Len returns the number of fields present.
func (fs *FieldSet) Len() int {
	return len(fs.order)
}

// Enum returns the enum tag stored under key, or Unknown when the field is
// absent, empty, or not a string.
func (fs *FieldSet) Enum(key string) string {
	s, ok := fs.values[key].(string)
	if !ok || s == "" {
		return Unknown
	}
	return s
}

// Str returns the string stored under key, or "" when absent or mistyped.
func (fs *FieldSet) Str(key string) string {
	s, _ := fs.values[key].(string)
	return s
}

// Num returns the number stored under key, or 0 when absent or mistyped.
// JSON decoding produces float64 for all numbers; int values set directly
// are widened for convenience.
func (fs *FieldSet) Num(key string) float64 {
	switch v := fs.values[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// Bool returns the boolean stored under key, or false when absent or mistyped.
func (fs *FieldSet) Bool(key string) bool {
	b, _ := fs.values[key].(bool)
	return b
}

// List returns the string list stored under key, or nil when absent or
// mistyped. Elements that are not strings are skipped.
func (fs *FieldSet) List(key string) []string {
	switch v := fs.values[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Nested returns the nested FieldSet stored under key, or an empty one when
// absent or mistyped. The returned set shares no state with the parent.
func (fs *FieldSet) Nested(key string) *FieldSet {
	switch v := fs.values[key].(type) {
	case *FieldSet:
		return v.Clone()
	case map[string]any:
		nested := New()
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			nested.Set(k, v[k])
		}
		return nested
	}
	return New()
}

// Clone returns a deep-enough copy: the order slice and value map are copied,
// nested FieldSets are cloned recursively. Scalar and slice values are shared
// because accessors already copy slices on read.
func (fs *FieldSet) Clone() *FieldSet {
	out := New()
	for _, key := range fs.order {
		if nested, ok := fs.values[key].(*FieldSet); ok {
			out.Set(key, nested.Clone())
			continue
		}
		out.Set(key, fs.values[key])
	}
	return out
}

// Equal reports whether two FieldSets hold the same keys in the same order
// with JSON-equal values.
func (fs *FieldSet) Equal(other *FieldSet) bool {
	a, err := fs.MarshalJSON()
	if err != nil {
		return false
	}
	b, err := other.MarshalJSON()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Normalize migrates legacy field names in place: for each alias old->new,
// a value present under old and absent under new is moved to new. Values
// already present under the new key win; the legacy key is dropped either
// way so rules only ever see canonical names. Legacy keys are processed in
// sorted order, so when several aliases target the same canonical field the
// first alphabetically wins deterministically.
func (fs *FieldSet) Normalize(aliases map[string]string) {
	legacy := make([]string, 0, len(aliases))
	for old := range aliases {
		if fs.Has(old) {
			legacy = append(legacy, old)
		}
	}
	sort.Strings(legacy)
	for _, old := range legacy {
		canonical := aliases[old]
		if !fs.Has(canonical) {
			fs.Set(canonical, fs.values[old])
		}
		fs.Delete(old)
	}
}

// MarshalJSON serializes the FieldSet as a JSON object in insertion order.
func (fs *FieldSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range fs.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, fmt.Errorf("marshal field key %q: %w", key, err)
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valJSON, err := json.Marshal(fs.values[key])
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", key, err)
		}
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving its key order. Nested
// objects decode to map[string]any and are converted lazily by Nested.
func (fs *FieldSet) UnmarshalJSON(data []byte) error {
	fs.order = nil
	fs.values = make(map[string]any)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode fieldset: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode fieldset: expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode fieldset key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("decode fieldset: non-string key %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode fieldset value for %q: %w", key, err)
		}
		fs.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode fieldset close: %w", err)
	}
	return nil
}

// Decode parses a serialized FieldSet. An empty or nil payload yields an
// empty FieldSet, matching first-open semantics for new module instances.
func Decode(data []byte) (*FieldSet, error) {
	fs := New()
	if len(data) == 0 {
		return fs, nil
	}
	if err := fs.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return fs, nil
}
