package substitute

import (
	"bytes"
	"regexp"
)

// jsonFieldPattern matches `"name": <string or null>` and captures the value.
func jsonFieldPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`"` + regexp.QuoteMeta(name) + `"[ \t\r\n]*:[ \t\r\n]*("(?:[^"\\]|\\.)*"|null)`)
}

// setJSONField replaces the value of the first member called name. Content
// without the member is returned unchanged.
func setJSONField(content []byte, name, value string) []byte {
	loc := jsonFieldPattern(name).FindSubmatchIndex(content)
	if loc == nil {
		return content
	}

	var out bytes.Buffer
	out.Write(content[:loc[2]])
	out.Write(quote(value))
	out.Write(content[loc[3]:])
	return out.Bytes()
}

// removeJSONField deletes the first member called name together with the
// comma that separated it from its neighbour. When the member sits on a
// line of its own the whole line goes.
func removeJSONField(content []byte, name string) []byte {
	loc := jsonFieldPattern(name).FindIndex(content)
	if loc == nil {
		return content
	}
	start, end := loc[0], loc[1]

	// A following comma belongs to this member. Without one the member was
	// last, and the comma after the previous member must go instead.
	comma := -1
	next := skipSpace(content, end)
	if next < len(content) && content[next] == ',' {
		end = next + 1
	} else {
		comma = previousComma(content, start)
	}

	lineStart := bytes.LastIndexByte(content[:start], '\n') + 1
	lineEnd := len(content)
	if i := bytes.IndexByte(content[end:], '\n'); i >= 0 {
		lineEnd = end + i + 1
	}
	ownLine := isBlank(content[lineStart:start]) && isBlank(content[end:lineEnd])
	if ownLine {
		start, end = lineStart, lineEnd
	}

	var out bytes.Buffer
	switch {
	case comma >= 0 && ownLine:
		out.Write(content[:comma])
		out.Write(content[comma+1 : start])
	case comma >= 0:
		out.Write(content[:comma])
	default:
		out.Write(content[:start])
	}
	out.Write(content[end:])
	return out.Bytes()
}

// previousComma returns the offset of the comma ending the member before
// pos, looking past whitespace and trailing line comments, or -1.
func previousComma(content []byte, pos int) int {
	prev := pos - 1
	for {
		for prev >= 0 && isSpace(content[prev]) {
			prev--
		}
		if prev < 0 {
			return -1
		}
		if content[prev] == ',' {
			return prev
		}
		lineStart := bytes.LastIndexByte(content[:prev+1], '\n') + 1
		c := lineComment(content[lineStart : prev+1])
		if c < 0 {
			return -1
		}
		prev = lineStart + c - 1
	}
}

// lineComment returns the offset of a `//` comment in line that is not
// inside a string, or -1.
func lineComment(line []byte) int {
	inString := false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case inString && c == '\\':
			i++
		case c == '"':
			inString = !inString
		case !inString && c == '/' && i+1 < len(line) && line[i+1] == '/':
			return i
		}
	}
	return -1
}

func skipSpace(b []byte, i int) int {
	for i < len(b) && isSpace(b[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isBlank(b []byte) bool {
	return len(bytes.TrimSpace(b)) == 0
}
