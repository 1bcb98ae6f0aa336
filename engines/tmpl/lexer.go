package tmpl

import (
	"strings"

	"github.com/oarkflow/synth/kernel"
)

// Lexer splits HTML::Template markup: <TMPL_NAME ...>, </TMPL_NAME> and the
// comment forms <!--TMPL_NAME ... --> and <!--/TMPL_NAME -->. Tag names are
// case-insensitive. Token contents hold the lower-cased name, prefixed with
// a slash for closing tags, followed by the attributes.
type Lexer struct{}

type marker struct {
	open    string
	close   string
	closing bool
}

// Longer openers first so "<!--/tmpl_" wins over "<!--tmpl_".
var markers = []marker{
	{open: "<!--/tmpl_", close: "-->", closing: true},
	{open: "<!--tmpl_", close: "-->"},
	{open: "</tmpl_", close: ">", closing: true},
	{open: "<tmpl_", close: ">"},
}

// Lex implements kernel.Lexer.
func (Lexer) Lex(src string) ([]kernel.Token, error) {
	var toks []kernel.Token
	text := 0
	for i := 0; i < len(src); i++ {
		if src[i] != '<' {
			continue
		}
		m, ok := matchMarker(src[i:])
		if !ok {
			continue
		}
		if i > text {
			toks = append(toks, kernel.Token{Kind: kernel.TokenText, Pos: text, End: i, Content: src[text:i]})
		}
		tok, err := lexTag(src, i, m)
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		text = tok.End
		i = tok.End - 1
	}
	if text < len(src) {
		toks = append(toks, kernel.Token{Kind: kernel.TokenText, Pos: text, End: len(src), Content: src[text:]})
	}
	return toks, nil
}

func matchMarker(s string) (marker, bool) {
	for _, m := range markers {
		if len(s) >= len(m.open) && strings.EqualFold(s[:len(m.open)], m.open) {
			return m, true
		}
	}
	return marker{}, false
}

func lexTag(src string, pos int, m marker) (kernel.Token, error) {
	i := pos + len(m.open)
	start := i
	for i < len(src) && isLetter(src[i]) {
		i++
	}
	if i == start {
		return kernel.Token{}, tagError(src, pos, "", "malformed TMPL tag: missing name")
	}
	name := strings.ToLower(src[start:i])

	end := scanClose(src, i, m.close)
	if end < 0 {
		return kernel.Token{}, tagError(src, pos, name, "unterminated TMPL tag")
	}
	rest := kernel.Trim(src[i:end])
	if m.close == ">" {
		rest = kernel.Trim(strings.TrimSuffix(rest, "/"))
	}
	if rest != "" && !isSpaceByte(src[i]) {
		return kernel.Token{}, tagError(src, pos, name, "malformed TMPL tag name")
	}

	content := name
	if m.closing {
		if rest != "" {
			return kernel.Token{}, tagError(src, pos, name, "closing tag takes no attributes")
		}
		content = "/" + name
	} else if rest != "" {
		content += " " + rest
	}
	return kernel.Token{Kind: kernel.TokenTag, Pos: pos, End: end + len(m.close), Content: content}, nil
}

func tagError(src string, pos int, name, msg string) *kernel.Error {
	return &kernel.Error{
		Kind:    kernel.KindSyntax,
		Tag:     name,
		Pos:     pos,
		Line:    strings.Count(src[:pos], "\n") + 1,
		Message: msg,
	}
}

// scanClose finds close at or after i, skipping quoted attribute values.
func scanClose(src string, i int, close string) int {
	var quote byte
	for ; i < len(src); i++ {
		c := src[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case strings.HasPrefix(src[i:], close):
			return i
		}
	}
	return -1
}

func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }

func isSpaceByte(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
