package cfg

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher decides how records on the two sides refer to each other. It
// pulls identifiers out of free text and folds identifiers into the form
// under which they are compared.
type Matcher interface {
	// Extract returns the identifiers referenced in text, canonicalized
	// and de-duplicated, in the order they first appear.
	Extract(text string) []string

	// Canonical returns the comparable form of an identifier.
	Canonical(id string) string
}

// MatchMode names a Matcher implementation.
type MatchMode string

const (
	MatchPattern MatchMode = "pattern"
	MatchPrefix  MatchMode = "prefix"
)

// canonical trims and upper-cases an identifier; both matchers share it so
// records extracted by one compare equal to records keyed by the other.
func canonical(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// PatternMatcher extracts identifiers with a regular expression. When the
// expression has a capture group, the first group is the identifier and is
// passed through format (if set) before canonicalization.
type PatternMatcher struct {
	re     *regexp.Regexp
	format string
}

// NewPatternMatcher compiles pattern into a PatternMatcher.
func NewPatternMatcher(pattern, format string) (PatternMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return PatternMatcher{}, fmt.Errorf("invalid reference pattern %q: %w", pattern, err)
	}
	return PatternMatcher{re: re, format: format}, nil
}

func (m PatternMatcher) Extract(text string) []string {
	var ids []string
	seen := map[string]bool{}

	for _, match := range m.re.FindAllStringSubmatch(text, -1) {
		id := match[0]
		if len(match) > 1 && match[1] != "" {
			id = match[1]
		}
		if m.format != "" {
			id = fmt.Sprintf(m.format, id)
		}
		id = canonical(id)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func (m PatternMatcher) Canonical(id string) string {
	return canonical(id)
}

func (m PatternMatcher) String() string {
	return m.re.String()
}

// PrefixMatcher finds a literal prefix followed by a run of digits, without
// regular expressions. Matching is case-insensitive. If the prefix starts
// with a letter or digit, it must not be glued to a preceding word.
type PrefixMatcher struct {
	prefix string
	format string
}

// NewPrefixMatcher returns a PrefixMatcher for prefix. If format is empty
// the identifier is prefix+digits, otherwise format applied to the digits.
func NewPrefixMatcher(prefix, format string) (PrefixMatcher, error) {
	if strings.TrimSpace(prefix) == "" {
		return PrefixMatcher{}, fmt.Errorf("reference prefix must not be empty")
	}
	return PrefixMatcher{prefix: strings.ToUpper(prefix), format: format}, nil
}

func (m PrefixMatcher) Extract(text string) []string {
	var ids []string
	seen := map[string]bool{}

	upper := strings.ToUpper(text)
	for start := 0; start < len(upper); {
		i := strings.Index(upper[start:], m.prefix)
		if i < 0 {
			break
		}
		i += start
		end := i + len(m.prefix)
		digits := end
		for digits < len(upper) && upper[digits] >= '0' && upper[digits] <= '9' {
			digits++
		}
		start = end

		if digits == end || (i > 0 && isWordByte(m.prefix[0]) && isWordByte(upper[i-1])) {
			continue
		}

		var id string
		if m.format != "" {
			id = canonical(fmt.Sprintf(m.format, upper[end:digits]))
		} else {
			id = m.prefix + upper[end:digits]
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
		start = digits
	}
	return ids
}

func (m PrefixMatcher) Canonical(id string) string {
	return canonical(id)
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// ExactMatcher extracts nothing and compares identifiers after trimming and
// upper-casing. It is used when references were already extracted.
type ExactMatcher struct{}

func (ExactMatcher) Extract(string) []string { return nil }

func (ExactMatcher) Canonical(id string) string { return canonical(id) }

// newMatcher builds the Matcher for mode. pattern is used in pattern mode
// and prefix in prefix mode.
func newMatcher(mode MatchMode, pattern, prefix, format string) (Matcher, error) {
	switch mode {
	case MatchPattern:
		return NewPatternMatcher(pattern, format)
	case MatchPrefix:
		return NewPrefixMatcher(prefix, format)
	default:
		return nil, fmt.Errorf("unknown match-mode %q; expected %q or %q", mode, MatchPattern, MatchPrefix)
	}
}
