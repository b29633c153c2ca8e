package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/grafana/regexp"
)

var (
	ErrInvalidObjectName  = errors.New("invalid object name")
	ErrNilObject          = errors.New("nil object")
	ErrAlreadyRegistered  = errors.New("object already registered")
	ErrNotRegistered      = errors.New("object not registered")
	errPatternInNameField = errors.New("wildcards are only allowed in patterns")
)

// Property is one key property of an ObjectName.
type Property struct {
	Key   string
	Value string
}

// ObjectName identifies a managed object: a domain plus a set of key
// properties, written "domain:key=value,key=value". Two names are equal when
// their canonical forms are equal. The zero value is not a valid name.
type ObjectName struct {
	domain    string
	props     []Property
	canonical string
}

// ParseObjectName parses s. Wildcards are rejected; use ParsePattern for those.
func ParseObjectName(s string) (ObjectName, error) {
	domain, props, wildcard, err := parse(s)
	if err != nil {
		return ObjectName{}, err
	}
	if wildcard || strings.ContainsAny(domain, "*?") {
		return ObjectName{}, fmt.Errorf("%w: %q: %w", ErrInvalidObjectName, s, errPatternInNameField)
	}
	for _, p := range props {
		if strings.ContainsAny(p.Value, "*?") {
			return ObjectName{}, fmt.Errorf("%w: %q: %w", ErrInvalidObjectName, s, errPatternInNameField)
		}
	}
	return newObjectName(domain, props), nil
}

// MustParseObjectName is ParseObjectName for names known to be valid.
func MustParseObjectName(s string) ObjectName {
	n, err := ParseObjectName(s)
	if err != nil {
		panic(err)
	}
	return n
}

// NewObjectName builds a name from a domain and key properties.
func NewObjectName(domain string, props map[string]string) (ObjectName, error) {
	if domain == "" || len(props) == 0 {
		return ObjectName{}, fmt.Errorf("%w: domain and at least one key property are required", ErrInvalidObjectName)
	}
	ps := make([]Property, 0, len(props))
	for k, v := range props {
		if k == "" || strings.ContainsAny(k, ",=:*?") || strings.ContainsAny(v, ",=:\"*?\n") {
			return ObjectName{}, fmt.Errorf("%w: bad key property %q=%q", ErrInvalidObjectName, k, v)
		}
		ps = append(ps, Property{Key: k, Value: v})
	}
	return newObjectName(domain, ps), nil
}

func newObjectName(domain string, props []Property) ObjectName {
	sort.Slice(props, func(i, j int) bool { return props[i].Key < props[j].Key })

	var b strings.Builder
	b.WriteString(domain)
	b.WriteByte(':')
	for i, p := range props {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return ObjectName{domain: domain, props: props, canonical: b.String()}
}

func parse(s string) (domain string, props []Property, wildcard bool, err error) {
	domain, rest, ok := strings.Cut(s, ":")
	if !ok || domain == "" || rest == "" {
		return "", nil, false, fmt.Errorf("%w: %q", ErrInvalidObjectName, s)
	}

	seen := make(map[string]struct{})
	for _, part := range splitProperties(rest) {
		if part == "*" {
			wildcard = true
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok || k == "" || v == "" {
			return "", nil, false, fmt.Errorf("%w: %q: bad key property %q", ErrInvalidObjectName, s, part)
		}
		if _, dup := seen[k]; dup {
			return "", nil, false, fmt.Errorf("%w: %q: duplicate key %q", ErrInvalidObjectName, s, k)
		}
		seen[k] = struct{}{}
		props = append(props, Property{Key: k, Value: v})
	}
	if len(props) == 0 && !wildcard {
		return "", nil, false, fmt.Errorf("%w: %q: no key properties", ErrInvalidObjectName, s)
	}
	return domain, props, wildcard, nil
}

// splitProperties splits on commas outside double quotes.
func splitProperties(s string) []string {
	var (
		parts  []string
		quoted bool
		start  int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if quoted {
				i++
			}
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// Domain returns the part before the colon.
func (n ObjectName) Domain() string { return n.domain }

// Property returns the value of a key property.
func (n ObjectName) Property(key string) (string, bool) {
	for _, p := range n.props {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Properties returns a copy of the key properties.
func (n ObjectName) Properties() map[string]string {
	m := make(map[string]string, len(n.props))
	for _, p := range n.props {
		m[p.Key] = p.Value
	}
	return m
}

// Equal reports whether n and o have the same canonical form.
func (n ObjectName) Equal(o ObjectName) bool { return n.canonical == o.canonical }

// IsZero reports whether n is the zero value.
func (n ObjectName) IsZero() bool { return n.canonical == "" }

// String returns the canonical form with key properties sorted by key.
func (n ObjectName) String() string { return n.canonical }

// Pattern matches ObjectNames. The domain and property values may use '*'
// (any run of characters) and '?' (any single character). A trailing ",*"
// property, or a lone "*", allows properties not named in the pattern.
type Pattern struct {
	raw      string
	domain   *regexp.Regexp
	props    map[string]*regexp.Regexp
	wildcard bool
}

// ParsePattern compiles s.
func ParsePattern(s string) (*Pattern, error) {
	domain, props, wildcard, err := parse(s)
	if err != nil {
		return nil, err
	}

	p := &Pattern{raw: s, props: make(map[string]*regexp.Regexp, len(props)), wildcard: wildcard}
	if p.domain, err = compileGlob(domain); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidObjectName, s, err)
	}
	for _, prop := range props {
		re, err := compileGlob(prop.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidObjectName, s, err)
		}
		p.props[prop.Key] = re
	}
	return p, nil
}

// MustParsePattern is ParsePattern for patterns known to be valid.
func MustParsePattern(s string) *Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

func compileGlob(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}

// Matches reports whether name satisfies the pattern.
func (p *Pattern) Matches(name ObjectName) bool {
	if name.IsZero() || !p.domain.MatchString(name.domain) {
		return false
	}
	if !p.wildcard && len(name.props) != len(p.props) {
		return false
	}
	for key, re := range p.props {
		v, ok := name.Property(key)
		if !ok || !re.MatchString(v) {
			return false
		}
	}
	return true
}

func (p *Pattern) String() string { return p.raw }
