// Package exclude implements the glob predicate behind manifest sync
// exclusions.
//
// Unlike path.Match and most path-glob libraries, `*` here matches any run of
// characters including the path separator, so ".claude/commands/cove/*"
// covers files at any depth below that directory.
package exclude

import (
	"regexp"
	"strings"
)

// Matcher tests project-relative paths against an ordered list of patterns.
// The zero value and a Matcher built from no patterns exclude nothing.
type Matcher struct {
	patterns []pattern
}

type pattern struct {
	source string
	re     *regexp.Regexp
}

// New compiles patterns in order. Blank patterns are ignored. A pattern whose
// character class does not compile (a reversed range such as [z-a]) matches
// only its literal text.
func New(patterns []string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile(translate(p))
		if err != nil {
			re = regexp.MustCompile(`^` + regexp.QuoteMeta(p) + `$`)
		}
		m.patterns = append(m.patterns, pattern{source: p, re: re})
	}
	return m
}

// Patterns returns the compiled pattern sources in order.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.patterns))
	for i, p := range m.patterns {
		out[i] = p.source
	}
	return out
}

// Match returns the first pattern matching path.
func (m *Matcher) Match(path string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, p := range m.patterns {
		if p.re.MatchString(path) {
			return p.source, true
		}
	}
	return "", false
}

// IsExcluded reports whether any pattern matches path.
func (m *Matcher) IsExcluded(path string) bool {
	_, ok := m.Match(path)
	return ok
}

// translate converts a glob into an anchored regular expression. Every rune
// that is not glob syntax is quoted, so the result always compiles. The s
// flag lets `*` and `?` match newlines too.
func translate(glob string) string {
	var b strings.Builder
	b.WriteString(`^(?s)`)

	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; r {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			class, next, ok := bracket(runes, i)
			if !ok {
				b.WriteString(regexp.QuoteMeta("["))
				continue
			}
			b.WriteString(class)
			i = next
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	b.WriteString(`$`)
	return b.String()
}

// bracket translates the character class opening at runes[start]. It returns
// the regexp class, the index of the closing bracket and false when the class
// is unterminated or empty.
func bracket(runes []rune, start int) (string, int, bool) {
	i := start + 1
	negate := false
	if i < len(runes) && (runes[i] == '!' || runes[i] == '^') {
		negate = true
		i++
	}

	var body strings.Builder
	first := true
	for ; i < len(runes); i++ {
		r := runes[i]
		// A ']' right after the opening (or negation) is a literal member.
		if r == ']' && !first {
			if body.Len() == 0 {
				return "", 0, false
			}
			prefix := "["
			if negate {
				prefix = "[^"
			}
			return prefix + body.String() + "]", i, true
		}
		first = false

		switch r {
		case '\\', ']', '[', '^':
			body.WriteRune('\\')
			body.WriteRune(r)
		case '-':
			// Ranges pass through; a leading or trailing dash stays literal.
			if body.Len() == 0 || i+1 >= len(runes) || runes[i+1] == ']' {
				body.WriteString(`\-`)
			} else {
				body.WriteRune('-')
			}
		default:
			body.WriteRune(r)
		}
	}
	return "", 0, false
}
