package collector

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"go.uber.org/multierr"

	"github.com/nikiz24/registry-exporter/registry"
)

// Exclusion drops objects by name pattern or whole families by name.
type Exclusion struct {
	pattern *registry.Pattern
	family  string
}

// ParseExclusion parses one exclusion. A value containing ':' is an object
// name pattern; anything else is a family name.
func ParseExclusion(s string) (Exclusion, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Exclusion{}, fmt.Errorf("empty exclusion")
	}
	if strings.Contains(s, ":") {
		p, err := registry.ParsePattern(s)
		if err != nil {
			return Exclusion{}, fmt.Errorf("exclusion %q: %w", s, err)
		}
		return Exclusion{pattern: p}, nil
	}
	return Exclusion{family: s}, nil
}

// String returns the exclusion as it was written.
func (e Exclusion) String() string {
	if e.pattern != nil {
		return e.pattern.String()
	}
	return e.family
}

// Exclusions is a set of exclusions.
type Exclusions []Exclusion

// ParseExclusions parses each value. A value starting with '@' names a file
// holding one exclusion per line; blank lines and lines starting with '#'
// are skipped. All errors are reported together.
func ParseExclusions(values []string) (Exclusions, error) {
	var (
		out   Exclusions
		errs  error
		files = make(map[string]struct{})
	)
	for _, v := range values {
		path, isFile := strings.CutPrefix(strings.TrimSpace(v), "@")
		if !isFile {
			e, err := ParseExclusion(v)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			out = append(out, e)
			continue
		}

		if _, seen := files[path]; seen {
			continue
		}
		files[path] = struct{}{}

		fromFile, err := readExclusionFile(path)
		errs = multierr.Append(errs, err)
		out = append(out, fromFile...)
	}
	return out, errs
}

func readExclusionFile(path string) (Exclusions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read exclusions from %q: %w", path, err)
	}
	defer f.Close()

	var (
		out  Exclusions
		errs error
		line int
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		e, err := ParseExclusion(text)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s:%d: %w", path, line, err))
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to read exclusions from %q: %w", path, err))
	}
	return out, errs
}

// ExcludesObject reports whether any object-name exclusion matches name.
func (es Exclusions) ExcludesObject(name registry.ObjectName) bool {
	for _, e := range es {
		if e.pattern != nil && e.pattern.Matches(name) {
			return true
		}
	}
	return false
}

// ExcludesFamily reports whether family is excluded by name.
func (es Exclusions) ExcludesFamily(family string) bool {
	for _, e := range es {
		if e.pattern == nil && e.family == family {
			return true
		}
	}
	return false
}
