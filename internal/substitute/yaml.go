package substitute

import (
	"bytes"
	"regexp"
)

// yamlKeyPattern matches a top-level `key:` line.
func yamlKeyPattern(key string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(key) + `[ \t]*:(?:[ \t].*)?$`)
}

// setYAMLScalar replaces the value of the top-level key with a quoted
// scalar. A multi-line value (block scalar or nested lines) is replaced as
// a whole. A comment on the key line is kept.
func setYAMLScalar(content []byte, key, value string) []byte {
	var repl bytes.Buffer
	repl.WriteString(key)
	repl.WriteString(": ")
	repl.Write(quote(value))
	if start, _, ok := findYAMLBlock(content, key); ok {
		line := content[start:nextLine(content, start)]
		if comment := yamlComment(line[len(key):]); comment != nil {
			repl.WriteByte(' ')
			repl.Write(comment)
		}
	}
	repl.WriteByte('\n')
	return replaceYAMLBlock(content, key, repl.Bytes())
}

// yamlComment returns the trailing `# ...` comment of a key line. A `#`
// inside a quoted value or not preceded by whitespace is not a comment.
func yamlComment(line []byte) []byte {
	line = bytes.TrimRight(line, "\r\n")
	i := bytes.IndexByte(line, ':') + 1
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	if i < len(line) && (line[i] == '"' || line[i] == '\'') {
		i = closingQuote(line, i)
	}
	for ; i < len(line); i++ {
		if line[i] == '#' && i > 0 && (line[i-1] == ' ' || line[i-1] == '\t') {
			return line[i:]
		}
	}
	return nil
}

// closingQuote returns the offset just past the quoted scalar opening at
// line[open], or len(line) when it is not closed on this line.
func closingQuote(line []byte, open int) int {
	q := line[open]
	for i := open + 1; i < len(line); i++ {
		switch {
		case q == '"' && line[i] == '\\':
			i++
		case line[i] == q && q == '\'' && i+1 < len(line) && line[i+1] == '\'':
			i++
		case line[i] == q:
			return i + 1
		}
	}
	return len(line)
}

// setYAMLList replaces the top-level key and its whole block with a block
// sequence of items. The item indentation of the existing block is kept.
func setYAMLList(content []byte, key string, items []string) []byte {
	indent := "- "
	if start, end, ok := findYAMLBlock(content, key); ok {
		if m := listItemPattern.FindSubmatch(content[start:end]); m != nil {
			indent = string(m[1]) + "- "
		}
	}

	var repl bytes.Buffer
	repl.WriteString(key)
	repl.WriteString(":\n")
	for _, item := range items {
		repl.WriteString(indent)
		repl.Write(quote(item))
		repl.WriteByte('\n')
	}
	return replaceYAMLBlock(content, key, repl.Bytes())
}

var listItemPattern = regexp.MustCompile(`(?m)^([ \t]*)-(?:[ \t]|$)`)

func replaceYAMLBlock(content []byte, key string, repl []byte) []byte {
	start, end, ok := findYAMLBlock(content, key)
	if !ok {
		return content
	}

	var out bytes.Buffer
	out.Write(content[:start])
	out.Write(repl)
	out.Write(content[end:])
	return out.Bytes()
}

// findYAMLBlock locates the key line and every line belonging to its
// value: indented lines, and sequence items at column zero. Blank lines
// count only when more of the block follows. The returned end includes the
// final newline.
func findYAMLBlock(content []byte, key string) (int, int, bool) {
	loc := yamlKeyPattern(key).FindIndex(content)
	if loc == nil {
		return 0, 0, false
	}
	start := loc[0]
	end := nextLine(content, loc[1])

	for pos := end; pos < len(content); {
		lineEnd := nextLine(content, pos)
		line := content[pos:lineEnd]
		switch {
		case isBlank(line):
			// Tentatively skipped; end only moves past it if the block
			// continues afterwards.
		case line[0] == ' ' || line[0] == '\t' || (line[0] == '-' && (len(line) == 1 || isSpace(line[1]))):
			end = lineEnd
		default:
			return start, end, true
		}
		pos = lineEnd
	}
	return start, end, true
}

// nextLine returns the offset just past the newline ending the line that
// contains pos, or len(b) for the last line.
func nextLine(b []byte, pos int) int {
	if i := bytes.IndexByte(b[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(b)
}
