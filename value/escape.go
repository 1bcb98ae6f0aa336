package value

import (
	"io"
	"strings"
)

func htmlEntity(c byte) string {
	switch c {
	case '&':
		return "&amp;"
	case '<':
		return "&lt;"
	case '>':
		return "&gt;"
	case '"':
		return "&quot;"
	case '\'':
		return "&#39;"
	}
	return ""
}

// EscapeHTML replaces & < > " and ' with entities. Strings without any of
// those characters are returned unchanged.
func EscapeHTML(s string) string {
	i := strings.IndexAny(s, `&<>"'`)
	if i < 0 {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s) + len(s)/4)
	_ = writeEscaped(&sb, s, i)
	return sb.String()
}

// WriteEscapedHTML writes s to w with the same entities as EscapeHTML. Runs
// without special characters are written as they are, without copying.
func WriteEscapedHTML(w io.Writer, s string) error {
	i := strings.IndexAny(s, `&<>"'`)
	if i < 0 {
		_, err := io.WriteString(w, s)
		return err
	}
	return writeEscaped(w, s, i)
}

// writeEscaped writes s to w; i is the index of the first special byte.
func writeEscaped(w io.Writer, s string, i int) error {
	for i >= 0 {
		if _, err := io.WriteString(w, s[:i]); err != nil {
			return err
		}
		if _, err := io.WriteString(w, htmlEntity(s[i])); err != nil {
			return err
		}
		s = s[i+1:]
		i = strings.IndexAny(s, `&<>"'`)
	}
	_, err := io.WriteString(w, s)
	return err
}
