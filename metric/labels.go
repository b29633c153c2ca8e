package metric

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Label is a single name/value pair.
type Label struct {
	Name  string
	Value string
}

// Labels is an immutable, order-insensitive set of labels.
//
// The text and JSON encodings are computed once at construction so writers
// can copy them straight into the output buffer.
type Labels struct {
	pairs       []Label
	text        string
	json        string
	fingerprint uint64
}

// EmptyLabels has no pairs.
var EmptyLabels = NewLabels(nil)

// NewLabels builds Labels from a map. The map is copied.
func NewLabels(m map[string]string) Labels {
	pairs := make([]Label, 0, len(m))
	for name, value := range m {
		pairs = append(pairs, Label{Name: name, Value: value})
	}
	return fromPairs(pairs)
}

// FromPairs builds Labels from alternating name, value arguments.
// A trailing name without a value is ignored; a repeated name keeps the last value.
func FromPairs(kv ...string) Labels {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return NewLabels(m)
}

func fromPairs(pairs []Label) Labels {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })

	var text, js strings.Builder
	js.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			text.WriteByte(',')
			js.WriteByte(',')
		}
		text.WriteString(p.Name)
		text.WriteString(`="`)
		text.WriteString(EscapeLabelValue(p.Value))
		text.WriteByte('"')

		js.WriteString(QuoteJSON(p.Name))
		js.WriteByte(':')
		js.WriteString(QuoteJSON(p.Value))
	}
	js.WriteByte('}')

	l := Labels{pairs: pairs, text: text.String(), json: js.String()}
	l.fingerprint = xxhash.Sum64String(l.text)
	return l
}

// Len returns the number of labels.
func (l Labels) Len() int { return len(l.pairs) }

// IsEmpty reports whether there are no labels.
func (l Labels) IsEmpty() bool { return len(l.pairs) == 0 }

// Get returns the value of the named label.
func (l Labels) Get(name string) (string, bool) {
	i := sort.Search(len(l.pairs), func(i int) bool { return l.pairs[i].Name >= name })
	if i < len(l.pairs) && l.pairs[i].Name == name {
		return l.pairs[i].Value, true
	}
	return "", false
}

// Has reports whether the named label is present.
func (l Labels) Has(name string) bool {
	_, ok := l.Get(name)
	return ok
}

// Pairs returns a copy of the labels sorted by name.
func (l Labels) Pairs() []Label {
	return append([]Label(nil), l.pairs...)
}

// Map returns the labels as a new map.
func (l Labels) Map() map[string]string {
	m := make(map[string]string, len(l.pairs))
	for _, p := range l.pairs {
		m[p.Name] = p.Value
	}
	return m
}

// With returns a copy of l with name set to value.
func (l Labels) With(name, value string) Labels {
	m := l.Map()
	m[name] = value
	return NewLabels(m)
}

// Union merges the label sets. It fails when two sets define the same name.
func Union(sets ...Labels) (Labels, error) {
	m := make(map[string]string)
	for _, set := range sets {
		for _, p := range set.pairs {
			if _, exists := m[p.Name]; exists {
				return Labels{}, fmt.Errorf("label %q defined more than once", p.Name)
			}
			m[p.Name] = p.Value
		}
	}
	return NewLabels(m), nil
}

// Equal compares by content.
func (l Labels) Equal(o Labels) bool {
	if l.fingerprint != 0 && o.fingerprint != 0 && l.fingerprint != o.fingerprint {
		return false
	}
	return l.text == o.text
}

// Fingerprint is a 64-bit hash of the canonical encoding.
func (l Labels) Fingerprint() uint64 { return l.fingerprint }

// Key is a canonical string usable as a map key.
func (l Labels) Key() string { return l.text }

// Text is the text exposition encoding without braces, e.g. `a="1",b="2"`.
func (l Labels) Text() string { return l.text }

// JSON is the JSON object encoding, e.g. `{"a":"1"}`.
func (l Labels) JSON() string {
	if l.json == "" {
		return "{}"
	}
	return l.json
}

func (l Labels) String() string { return "{" + l.text + "}" }

// ValidLabelName reports whether name matches [a-zA-Z_][a-zA-Z0-9_]*.
func ValidLabelName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if r == '_' || (r < unicode.MaxASCII && unicode.IsLetter(r)) {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}

// SanitizeLabelName replaces characters outside [A-Za-z0-9_] with '_' and
// prefixes '_' when the first character is a digit.
func SanitizeLabelName(name string) string {
	if name == "" {
		return "_"
	}

	var b strings.Builder
	b.Grow(len(name) + 1)
	for _, r := range name {
		if r == '_' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	out := b.String()
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}
